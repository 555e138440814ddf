package imagepdf

import "context"

// Exported test-only accessors for unexported functions and fields.
// This file is compiled only during tests and does not affect the public API.

// JPEGSiblingPathForTest exposes jpegSiblingPath for tests in external package.
func JPEGSiblingPathForTest(path string) string { return jpegSiblingPath(path) }

// DisplaySizeForTest exposes displaySize for tests in external package.
func DisplaySizeForTest(pixels Dimensions, threshold int) Dimensions {
	return displaySize(pixels, threshold)
}

// PagesForTest returns the display size of every appended page, in order.
func (doc *Document) PagesForTest() []Dimensions {
	return append([]Dimensions(nil), doc.pages...)
}

// PNGNeedsReencodeForTest exposes pngNeedsReencode for tests in external package.
func PNGNeedsReencodeForTest(data []byte) bool { return pngNeedsReencode(data) }

// ConfigForTest returns a copy of the processor configuration for assertions in tests.
func (processor *Processor) ConfigForTest() Options { return processor.config }

// Allow tests to inject a fake executor.
func (processor *Processor) SetExecutorForTest(exec CommandExecutor) {
	processor.executor = exec
	processor.converter = nil
}

func (processor *Processor) ConvertHEICForTest(ctx context.Context, path string) (string, error) {
	return processor.convertHEIC(ctx, path)
}

// HEICToolForTest returns the name of the detected converter.
func (processor *Processor) HEICToolForTest() (string, error) {
	converter, err := processor.heicTool()
	if err != nil {
		return "", err
	}

	return converter.name, nil
}
