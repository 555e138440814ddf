package imagepdf_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/require"
)

// fakeExec is a CommandExecutor that records calls and serves canned results.
type fakeExec struct {
	err           error
	available     map[string]bool
	onRunCombined func(name string, args []string) error
	calls         []string
	combinedOut   []byte
}

func (f *fakeExec) LookPath(file string) (string, error) {
	if f.available[file] {
		return "/usr/bin/" + file, nil
	}

	return "", errors.New("not found: " + file)
}

func (f *fakeExec) RunCombined(
	_ context.Context,
	name string,
	args ...string,
) ([]byte, error) {
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))

	if f.onRunCombined != nil {
		if err := f.onRunCombined(name, args); err != nil {
			return f.combinedOut, err
		}
	}

	return f.combinedOut, f.err
}

// newConvertingExec simulates a converter that writes a JPEG of the given size to
// its last argument.
func newConvertingExec(t *testing.T, tool string, width, height int) *fakeExec {
	t.Helper()

	return &fakeExec{
		err:       nil,
		available: map[string]bool{tool: true},
		onRunCombined: func(_ string, args []string) error {
			return encodeJPEG(args[len(args)-1], width, height)
		},
		calls:       nil,
		combinedOut: nil,
	}
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func testImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}

	return img
}

func encodeJPEG(path string, width, height int) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}

	encodeErr := jpeg.Encode(file, testImage(width, height), &jpeg.Options{Quality: 90})

	return errors.Join(encodeErr, file.Close())
}

func writeJPEG(t *testing.T, dir, name string, width, height int) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, encodeJPEG(path, width, height))

	return path
}

func writePNG(t *testing.T, dir, name string, width, height int) string {
	t.Helper()

	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(file, testImage(width, height)))
	require.NoError(t, file.Close())

	return path
}

// writeEXIFJPEG writes a small JPEG whose APP1 segment carries an EXIF
// DateTime (tag 0x0132) in a big-endian TIFF block.
func writeEXIFJPEG(t *testing.T, dir, name, dateTime string) string {
	t.Helper()

	var encoded bytes.Buffer
	require.NoError(t, jpeg.Encode(&encoded, testImage(8, 8), nil))

	value := append([]byte(dateTime), 0)
	tiff := []byte{
		'M', 'M', 0x00, 0x2A, 0x00, 0x00, 0x00, 0x08, // header, IFD0 at offset 8
		0x00, 0x01, // one entry
		0x01, 0x32, 0x00, 0x02, // DateTime, ASCII
		0x00, 0x00, 0x00, byte(len(value)), // count
		0x00, 0x00, 0x00, 0x1A, // value offset 26
		0x00, 0x00, 0x00, 0x00, // no next IFD
	}
	tiff = append(tiff, value...)

	payload := append([]byte("Exif\x00\x00"), tiff...)
	segmentLen := len(payload) + 2
	app1 := append([]byte{0xFF, 0xE1, byte(segmentLen >> 8), byte(segmentLen)}, payload...)

	raw := encoded.Bytes()
	content := append(append(append([]byte(nil), raw[:2]...), app1...), raw[2:]...)

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	return path
}

// writeDeepPNG writes a PNG with 16 bits per channel.
func writeDeepPNG(t *testing.T, dir, name string, width, height int) string {
	t.Helper()

	img := image.NewRGBA64(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.Set(x, y, color.RGBA64{R: uint16(x * 1000), G: uint16(y * 1000), B: 0x8000, A: 0xffff})
		}
	}

	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(file, img))
	require.NoError(t, file.Close())

	return path
}

func writeGIF(t *testing.T, dir, name string, width, height int) string {
	t.Helper()

	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, gif.Encode(file, testImage(width, height), nil))
	require.NoError(t, file.Close())

	return path
}

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("placeholder"), 0o600))

	return path
}

// setModTime stamps a file with base + offset so listing order is controlled.
func setModTime(t *testing.T, path string, offset time.Duration) {
	t.Helper()

	stamp := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Add(offset)
	require.NoError(t, os.Chtimes(path, stamp, stamp))
}

func imageSize(t *testing.T, path string) (int, int) {
	t.Helper()

	file, err := os.Open(path)
	require.NoError(t, err)

	defer func() { _ = file.Close() }()

	cfg, _, err := image.DecodeConfig(file)
	require.NoError(t, err)

	return cfg.Width, cfg.Height
}
