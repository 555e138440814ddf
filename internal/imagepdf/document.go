package imagepdf

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // Register the JPEG decoder for DecodeConfig.
	_ "image/png"  // Register the PNG decoder for DecodeConfig.
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/jung-kurt/gofpdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

var (
	// ErrEmptyDocument is returned when saving a document without pages.
	ErrEmptyDocument = errors.New("document has no pages")
	// ErrPageCountMismatch is returned when the written PDF does not hold one page
	// per appended image.
	ErrPageCountMismatch = errors.New("written PDF has an unexpected page count")
)

const (
	outputDateLayout = "2006-01-02"
	pdfCreator       = "images-to-pdf"
)

func init() {
	// pdfcpu would otherwise create a configuration directory under the user's
	// config dir the first time it validates a file.
	api.DisableConfigDir()
}

// Document is the PDF under construction. Pages are appended in call order and the
// whole document is written once by Save.
type Document struct {
	pdf       *gofpdf.Fpdf
	pages     []Dimensions
	threshold int
}

// NewDocument returns an empty document. Pages are measured in points, one point
// per image pixel.
func NewDocument(threshold int) *Document {
	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		SizeStr:        "",
		Size:           gofpdf.SizeType{Wd: 0, Ht: 0},
		FontDirStr:     "",
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetCreator(pdfCreator, true)

	return &Document{
		pdf:       pdf,
		pages:     nil,
		threshold: threshold,
	}
}

// PageCount returns the number of pages appended so far.
func (doc *Document) PageCount() int {
	return len(doc.pages)
}

// displaySize halves both sides when either exceeds the threshold. Only the page
// and drawing size change; the embedded pixels are kept as they are.
func displaySize(pixels Dimensions, threshold int) Dimensions {
	if pixels.Width > threshold || pixels.Height > threshold {
		return Dimensions{Width: pixels.Width / 2, Height: pixels.Height / 2}
	}

	return pixels
}

// AddImagePage appends a page whose MediaBox matches the image's display size and
// draws the image over the whole page.
func (doc *Document) AddImagePage(imagePath string) (Dimensions, error) {
	imageType, typeErr := pdfImageType(imagePath)
	if typeErr != nil {
		return Dimensions{}, typeErr
	}

	pixels, dimsErr := imageDimensions(imagePath)
	if dimsErr != nil {
		return Dimensions{}, dimsErr
	}

	display := displaySize(pixels, doc.threshold)

	registerErr := doc.registerImage(imagePath, imageType)
	if registerErr != nil {
		return Dimensions{}, registerErr
	}

	width, height := float64(display.Width), float64(display.Height)
	options := gofpdf.ImageOptions{ImageType: imageType, ReadDpi: false, AllowNegativePosition: false}

	doc.pdf.AddPageFormat("P", gofpdf.SizeType{Wd: width, Ht: height})
	doc.pdf.ImageOptions(imagePath, 0, 0, width, height, false, options, 0, "")

	if doc.pdf.Err() {
		return Dimensions{}, fmt.Errorf("could not draw %s: %w", filepath.Base(imagePath), doc.pdf.Error())
	}

	doc.pages = append(doc.pages, display)

	return display, nil
}

func (doc *Document) registerImage(imagePath, imageType string) error {
	data, readErr := os.ReadFile(imagePath)
	if readErr != nil {
		return fmt.Errorf("could not open file %s: %w", imagePath, readErr)
	}

	if imageType == extPNG && pngNeedsReencode(data) {
		reencoded, reencodeErr := reencodePNG(data)
		if reencodeErr != nil {
			return fmt.Errorf("could not convert %s to 8-bit PNG: %w", filepath.Base(imagePath), reencodeErr)
		}

		data = reencoded
	}

	options := gofpdf.ImageOptions{ImageType: imageType, ReadDpi: false, AllowNegativePosition: false}
	doc.pdf.RegisterImageOptionsReader(imagePath, options, bytes.NewReader(data))

	if doc.pdf.Err() {
		return fmt.Errorf("could not embed %s: %w", filepath.Base(imagePath), doc.pdf.Error())
	}

	return nil
}

// PNG IHDR field offsets, counted from the start of the file.
const (
	pngBitDepthOffset  = 24
	pngInterlaceOffset = 28
)

// pngNeedsReencode reports whether gofpdf would reject the PNG: it only embeds
// non-interlaced images with at most 8 bits per channel. The check happens up
// front because a gofpdf error poisons the whole document.
func pngNeedsReencode(data []byte) bool {
	if len(data) <= pngInterlaceOffset {
		return false
	}

	return data[pngBitDepthOffset] > 8 || data[pngInterlaceOffset] != 0
}

// reencodePNG decodes a PNG and writes it back as a plain 8-bit, non-interlaced
// PNG. The source file is left as it is.
func reencodePNG(data []byte) ([]byte, error) {
	img, decodeErr := imaging.Decode(bytes.NewReader(data))
	if decodeErr != nil {
		return nil, decodeErr
	}

	var buf bytes.Buffer

	encodeErr := imaging.Encode(&buf, imaging.Clone(img), imaging.PNG)
	if encodeErr != nil {
		return nil, encodeErr
	}

	return buf.Bytes(), nil
}

// imageDimensions reads the pixel size from the image header.
func imageDimensions(imagePath string) (Dimensions, error) {
	file, openErr := os.Open(imagePath)
	if openErr != nil {
		return Dimensions{}, fmt.Errorf("could not open file %s: %w", imagePath, openErr)
	}
	defer func() { _ = file.Close() }()

	cfg, _, decodeErr := image.DecodeConfig(file)
	if decodeErr != nil {
		return Dimensions{}, fmt.Errorf("could not read image header of %s: %w", imagePath, decodeErr)
	}

	return Dimensions{Width: cfg.Width, Height: cfg.Height}, nil
}

func pdfImageType(imagePath string) (string, error) {
	switch extensionOf(imagePath) {
	case extJPG, extJPEG:
		return extJPG, nil
	case extPNG:
		return extPNG, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(imagePath))
	}
}

// OutputFileName returns the dated file name of the PDF, e.g. 2024-03-01.pdf.
func OutputFileName(now time.Time) string {
	return now.Format(outputDateLayout) + ".pdf"
}

// Save writes the document to <outputDir>/<date>.pdf, replacing any existing file.
// The PDF is written to a temporary file and validated before it is moved into
// place, so a failed save leaves the previous file intact.
func (doc *Document) Save(outputDir string, now time.Time) (string, error) {
	if doc.PageCount() == 0 {
		return "", ErrEmptyDocument
	}

	finalPath := filepath.Join(outputDir, OutputFileName(now))

	tmp, createErr := os.CreateTemp(outputDir, ".images-to-pdf-*.pdf")
	if createErr != nil {
		return "", fmt.Errorf("could not create temporary PDF in %s: %w", outputDir, createErr)
	}

	tmpPath := tmp.Name()

	outputErr := doc.pdf.Output(tmp)
	closeErr := tmp.Close()

	if err := errors.Join(outputErr, closeErr); err != nil {
		_ = os.Remove(tmpPath)

		return "", fmt.Errorf("failed to write PDF: %w", err)
	}

	verifyErr := verifyPDF(tmpPath, doc.PageCount())
	if verifyErr != nil {
		_ = os.Remove(tmpPath)

		return "", verifyErr
	}

	renameErr := os.Rename(tmpPath, finalPath)
	if renameErr != nil {
		_ = os.Remove(tmpPath)

		return "", fmt.Errorf("could not move PDF to %s: %w", finalPath, renameErr)
	}

	return finalPath, nil
}

// verifyPDF checks the written file with pdfcpu and compares its page count.
func verifyPDF(path string, wantPages int) error {
	validateErr := api.ValidateFile(path, nil)
	if validateErr != nil {
		return fmt.Errorf("generated PDF failed validation: %w", validateErr)
	}

	pageCount, countErr := api.PageCountFile(path)
	if countErr != nil {
		return fmt.Errorf("could not count pages of generated PDF: %w", countErr)
	}

	if pageCount != wantPages {
		return fmt.Errorf("%w: got %d, want %d", ErrPageCountMismatch, pageCount, wantPages)
	}

	return nil
}
