package imagepdf

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrNoHEICConverter is returned when a HEIC file must be converted but no
// supported conversion tool is installed.
var ErrNoHEICConverter = errors.New("no HEIC conversion tool found on PATH (tried sips, heif-convert, magick)")

// CommandExecutor defines an interface for running external commands.
// This abstraction is crucial for enabling unit tests to mock command execution.
type CommandExecutor interface {
	// LookPath reports the full path of an executable found on PATH.
	LookPath(file string) (string, error)
	// RunCombined executes a command and returns its combined standard output and
	// standard error.
	RunCombined(ctx context.Context, name string, args ...string) ([]byte, error)
}

// defaultExecutor implements the CommandExecutor interface using the standard os/exec
// package.
type defaultExecutor struct{}

func (executor *defaultExecutor) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

// RunCombined is the production implementation for executing a command and capturing all
// output.
func (executor *defaultExecutor) RunCombined(
	ctx context.Context,
	name string,
	args ...string,
) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// heicConverter describes an external tool able to turn a HEIC file into a JPEG.
type heicConverter struct {
	args func(src, dst string) []string
	name string
}

// heicConverters is the detection order: the macOS built-in first, then libheif and
// ImageMagick. Every tool takes the destination as its last argument.
var heicConverters = []heicConverter{
	{
		name: "sips",
		args: func(src, dst string) []string {
			return []string{"--setProperty", "format", "jpeg", src, "--out", dst}
		},
	},
	{
		name: "heif-convert",
		args: func(src, dst string) []string {
			return []string{"-q", "100", src, dst}
		},
	},
	{
		name: "magick",
		args: func(src, dst string) []string {
			return []string{src, "-quality", "100", dst}
		},
	},
}

// detectHEICConverter returns the first converter found on PATH.
func detectHEICConverter(executor CommandExecutor) (*heicConverter, error) {
	for i := range heicConverters {
		if _, err := executor.LookPath(heicConverters[i].name); err == nil {
			return &heicConverters[i], nil
		}
	}

	return nil, ErrNoHEICConverter
}

func isHEIC(path string) bool {
	return extensionOf(path) == extHEIC
}

// jpegSiblingName maps a HEIC file name to the name of its converted JPEG:
// every "HEIC" and "heic" becomes "jpeg", so photo.HEIC turns into photo.jpeg.
// Mixed-case extensions such as .Heic only get their extension swapped.
func jpegSiblingName(name string) string {
	converted := strings.ReplaceAll(name, "HEIC", extJPEG)
	converted = strings.ReplaceAll(converted, "heic", extJPEG)

	if extensionOf(converted) == extHEIC {
		converted = strings.TrimSuffix(converted, filepath.Ext(converted)) + "." + extJPEG
	}

	return converted
}

// jpegSiblingPath returns the converted JPEG path next to a HEIC file.
func jpegSiblingPath(path string) string {
	return filepath.Join(filepath.Dir(path), jpegSiblingName(filepath.Base(path)))
}

// convertHEIC converts a HEIC file to a JPEG sibling and returns the JPEG path.
// Non-HEIC paths are returned unchanged.
func (processor *Processor) convertHEIC(ctx context.Context, imagePath string) (string, error) {
	if !isHEIC(imagePath) {
		return imagePath, nil
	}

	converter, detectErr := processor.heicTool()
	if detectErr != nil {
		return "", detectErr
	}

	src, absErr := filepath.Abs(imagePath)
	if absErr != nil {
		return "", fmt.Errorf("could not resolve %s: %w", imagePath, absErr)
	}

	dst := jpegSiblingPath(src)

	outputBytes, execErr := processor.executor.RunCombined(
		ctx,
		converter.name,
		converter.args(src, dst)...)
	if execErr != nil {
		return "", fmt.Errorf(
			"%s execution failed: %w. Output: %s",
			converter.name,
			execErr,
			string(outputBytes),
		)
	}

	processor.log.Info("Converted %s to %s with %s", filepath.Base(src), filepath.Base(dst), converter.name)

	return dst, nil
}

// heicTool detects the converter on first use and caches it.
func (processor *Processor) heicTool() (*heicConverter, error) {
	if processor.converter != nil {
		return processor.converter, nil
	}

	converter, err := detectHEICConverter(processor.executor)
	if err != nil {
		return nil, err
	}

	processor.converter = converter

	return converter, nil
}
