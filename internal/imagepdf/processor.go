package imagepdf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"
	"github.com/cheggaaa/pb/v3"
)

var (
	// ErrInputPathRequired is returned when input path is not provided.
	ErrInputPathRequired = errors.New("input path is required")
	// ErrNoImagesFound is returned when the input directory holds no supported image.
	ErrNoImagesFound = errors.New("no images found")
	// ErrInvalidThreshold is returned for a negative image size threshold.
	ErrInvalidThreshold = errors.New("image size threshold must be positive")
)

// DefaultThreshold is the side length, in pixels, at which images are downscaled.
const DefaultThreshold = 500

// Options holds all configurable parameters for a Processor.
type Options struct {
	ProgressBarOutput io.Writer
	Now               func() time.Time
	InputPath         string
	OutputDir         string
	Threshold         int
}

// Processor turns the images of one directory into one PDF.
type Processor struct {
	executor  CommandExecutor
	converter *heicConverter
	log       *logger.Logger
	config    Options
}

// NewProcessor creates and initializes a new Processor with the given options and logger.
// It sets sensible defaults for any zero-value fields in the Options struct.
func NewProcessor(opts *Options, log *logger.Logger) *Processor {
	applyDefaultOptions(opts)

	return &Processor{
		config:    *opts,
		log:       log,
		executor:  &defaultExecutor{},
		converter: nil,
	}
}

// applyDefaultOptions fills zero-value fields in Options with sensible defaults.
func applyDefaultOptions(opts *Options) {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}

	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}

	if opts.ProgressBarOutput == nil {
		opts.ProgressBarOutput = os.Stdout
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}
}

// Process converts every image of the input directory, oldest first, into one PDF
// page each and writes the dated PDF. It returns the path of the written file.
// The first failing image aborts the run; images already converted or resized
// stay that way.
func (processor *Processor) Process(ctx context.Context) (string, error) {
	err := processor.validateConfig()
	if err != nil {
		return "", err
	}

	images, err := processor.discoverInputImages()
	if err != nil {
		return "", err
	}

	processor.log.Info("Found %d image(s) to process.", len(images))

	err = processor.prepareTools(images)
	if err != nil {
		return "", err
	}

	doc := NewDocument(processor.config.Threshold)

	err = processor.processAllImages(ctx, images, doc)
	if err != nil {
		return "", err
	}

	outputPath, err := doc.Save(processor.config.OutputDir, processor.config.Now())
	if err != nil {
		return "", fmt.Errorf("could not save PDF: %w", err)
	}

	processor.log.Success("Wrote %d page(s) to %s", doc.PageCount(), outputPath)

	return outputPath, nil
}

// validateConfig checks if the essential configuration options have been provided.
func (processor *Processor) validateConfig() error {
	if processor.config.InputPath == "" {
		return ErrInputPathRequired
	}

	return nil
}

// discoverInputImages lists the input images and rejects an empty result.
func (processor *Processor) discoverInputImages() ([]ImageFile, error) {
	images, discoveryErr := DiscoverImages(processor.config.InputPath)
	if discoveryErr != nil {
		return nil, fmt.Errorf("failed to discover images: %w", discoveryErr)
	}

	if len(images) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoImagesFound, processor.config.InputPath)
	}

	return images, nil
}

// prepareTools detects the HEIC converter before any file is touched, so a missing
// tool fails the run up front.
func (processor *Processor) prepareTools(images []ImageFile) error {
	for _, img := range images {
		if img.Ext != extHEIC {
			continue
		}

		converter, err := processor.heicTool()
		if err != nil {
			return fmt.Errorf("could not prepare HEIC conversion: %w", err)
		}

		processor.log.Info("Using %s for HEIC conversion.", converter.name)

		return nil
	}

	return nil
}

// processAllImages runs every image through the pipeline in order.
// It uses a progress bar to show the overall progress.
func (processor *Processor) processAllImages(
	ctx context.Context,
	images []ImageFile,
	doc *Document,
) error {
	progressBar := pb.New(len(images)).
		SetTemplateString(`{{ bar . " " "━" "━" " " " "}} {{percent .}} {{rtime .}}`).
		SetWriter(processor.config.ProgressBarOutput).
		Start()
	defer progressBar.Finish()

	for _, img := range images {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("processing interrupted: %w", ctxErr)
		}

		processErr := processor.processOneImage(ctx, img, doc)
		if processErr != nil {
			processor.log.Error("Failed to process %s: %v", filepath.Base(img.Path), processErr)

			return fmt.Errorf("failed to process %s: %w", filepath.Base(img.Path), processErr)
		}

		progressBar.Increment()
	}

	return nil
}

// processOneImage converts, normalizes and appends a single image.
func (processor *Processor) processOneImage(
	ctx context.Context,
	img ImageFile,
	doc *Document,
) error {
	if !img.CapturedAt.IsZero() {
		processor.log.Info("Processing %s (taken %s)", filepath.Base(img.Path), img.CapturedAt.Format(time.DateTime))
	} else {
		processor.log.Info("Processing %s", filepath.Base(img.Path))
	}

	imagePath, convertErr := processor.convertHEIC(ctx, img.Path)
	if convertErr != nil {
		return fmt.Errorf("HEIC conversion failed: %w", convertErr)
	}

	dims, resized, normalizeErr := NormalizeImage(imagePath, processor.config.Threshold)
	if normalizeErr != nil {
		return fmt.Errorf("normalization failed: %w", normalizeErr)
	}

	if resized {
		processor.log.Info("Downscaled %s to %dx%d", filepath.Base(imagePath), dims.Width, dims.Height)
	}

	display, pageErr := doc.AddImagePage(imagePath)
	if pageErr != nil {
		return fmt.Errorf("could not add page: %w", pageErr)
	}

	if display != dims {
		processor.log.Warn(
			"Page for %s shown at %dx%d, half of its %dx%d pixels",
			filepath.Base(imagePath),
			display.Width,
			display.Height,
			dims.Width,
			dims.Height,
		)
	}

	return nil
}
