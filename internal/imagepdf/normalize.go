package imagepdf

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// ErrUnsupportedFormat is returned when an image cannot be re-encoded in the format
// implied by its file name.
var ErrUnsupportedFormat = errors.New("unsupported image format")

const maxJPEGQuality = 100

// Dimensions is an image size in pixels.
type Dimensions struct {
	Width  int
	Height int
}

// ScaleFactor returns the integer divisor applied to both sides of an image that
// reaches the threshold. It is always large enough to bring both sides below it.
func ScaleFactor(width, height, threshold int) int {
	return max(width/threshold+1, height/threshold+1)
}

// NeedsDownscale reports whether either side reaches the threshold.
func NeedsDownscale(dims Dimensions, threshold int) bool {
	return dims.Width >= threshold || dims.Height >= threshold
}

// NormalizeImage shrinks the image at path in place when either side reaches the
// threshold, using an area-averaging filter. Smaller images are left untouched.
// It returns the final dimensions and whether the file was rewritten.
func NormalizeImage(path string, threshold int) (Dimensions, bool, error) {
	src, openErr := imaging.Open(path)
	if openErr != nil {
		return Dimensions{}, false, fmt.Errorf("could not decode image file %s: %w", path, openErr)
	}

	bounds := src.Bounds()
	original := Dimensions{Width: bounds.Dx(), Height: bounds.Dy()}

	if !NeedsDownscale(original, threshold) {
		return original, false, nil
	}

	format, formatErr := outputFormat(path)
	if formatErr != nil {
		return original, false, formatErr
	}

	scale := ScaleFactor(original.Width, original.Height, threshold)
	target := Dimensions{
		Width:  max(original.Width/scale, 1),
		Height: max(original.Height/scale, 1),
	}

	resized := imaging.Resize(src, target.Width, target.Height, imaging.Box)
	flattened := imaging.Overlay(
		imaging.New(target.Width, target.Height, color.White),
		resized,
		image.Pt(0, 0),
		1.0,
	)

	writeErr := replaceFile(path, func(w io.Writer) error {
		return imaging.Encode(w, flattened, format, imaging.JPEGQuality(maxJPEGQuality))
	})
	if writeErr != nil {
		return original, false, writeErr
	}

	return target, true, nil
}

// outputFormat maps a file extension to the encoder used when rewriting it.
func outputFormat(path string) (imaging.Format, error) {
	switch extensionOf(path) {
	case extJPG, extJPEG:
		return imaging.JPEG, nil
	case extPNG:
		return imaging.PNG, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
	}
}

// replaceFile writes new content through a temporary file in the same directory
// and renames it over path.
func replaceFile(path string, write func(w io.Writer) error) error {
	tmp, createErr := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if createErr != nil {
		return fmt.Errorf("could not create temporary file for %s: %w", path, createErr)
	}

	tmpPath := tmp.Name()

	// Keep the permissions of the file being replaced.
	if info, statErr := os.Stat(path); statErr == nil {
		_ = tmp.Chmod(info.Mode().Perm())
	}

	writeErr := write(tmp)
	closeErr := tmp.Close()

	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = os.Remove(tmpPath)

		return fmt.Errorf("could not write %s: %w", path, err)
	}

	renameErr := os.Rename(tmpPath, path)
	if renameErr != nil {
		_ = os.Remove(tmpPath)

		return fmt.Errorf("could not replace %s: %w", path, renameErr)
	}

	return nil
}
