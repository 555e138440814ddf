// Package imagepdf assembles a directory of images into a single PDF document.
package imagepdf

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

const (
	extJPG  = "jpg"
	extJPEG = "jpeg"
	extPNG  = "png"
	extHEIC = "heic"
)

// supportedExtensions lists the lower-case extensions picked up by DiscoverImages.
var supportedExtensions = map[string]bool{
	extJPG:  true,
	extJPEG: true,
	extPNG:  true,
	extHEIC: true,
}

// ImageFile is an image discovered in the input directory.
type ImageFile struct {
	ModTime    time.Time
	CapturedAt time.Time // Zero when the file carries no EXIF capture time.
	Path       string
	Ext        string // Lower-case, without the leading dot.
	Size       int64
}

// DiscoverImages finds all supported images in a given directory, oldest first.
// It performs a case-insensitive extension match and does not recurse into
// subdirectories. JPEG files produced from a listed HEIC file by an earlier run
// are skipped, since the HEIC file will be converted again.
func DiscoverImages(dirPath string) ([]ImageFile, error) {
	dirEntries, readErr := os.ReadDir(dirPath)
	if readErr != nil {
		return nil, fmt.Errorf(
			"could not read directory %s: %w",
			dirPath,
			readErr,
		)
	}

	var images []ImageFile

	convertedNames := make(map[string]bool)

	for _, entry := range dirEntries {
		if entry.IsDir() {
			continue
		}

		ext := extensionOf(entry.Name())
		if !supportedExtensions[ext] {
			continue
		}

		info, infoErr := entry.Info()
		if infoErr != nil {
			return nil, fmt.Errorf("could not stat %s: %w", entry.Name(), infoErr)
		}

		if ext == extHEIC {
			convertedNames[jpegSiblingName(entry.Name())] = true
		}

		imagePath := filepath.Join(dirPath, entry.Name())
		images = append(images, ImageFile{
			ModTime:    info.ModTime(),
			CapturedAt: captureTime(imagePath, ext),
			Path:       imagePath,
			Ext:        ext,
			Size:       info.Size(),
		})
	}

	images = skipConvertedSiblings(images, convertedNames)
	sortByModTime(images)

	return images, nil
}

// extensionOf returns the lower-case extension of name without the dot.
func extensionOf(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

func skipConvertedSiblings(images []ImageFile, convertedNames map[string]bool) []ImageFile {
	kept := images[:0]

	for _, img := range images {
		if img.Ext != extHEIC && convertedNames[filepath.Base(img.Path)] {
			continue
		}

		kept = append(kept, img)
	}

	return kept
}

// sortByModTime orders images by last modification, oldest first. Equal
// timestamps fall back to the file name so the order is deterministic.
func sortByModTime(images []ImageFile) {
	sort.SliceStable(images, func(i, j int) bool {
		if !images[i].ModTime.Equal(images[j].ModTime) {
			return images[i].ModTime.Before(images[j].ModTime)
		}

		return filepath.Base(images[i].Path) < filepath.Base(images[j].Path)
	})
}

// captureTime reads the EXIF DateTime of a JPEG file. Anything that goes wrong
// yields the zero time; the value is informational only.
func captureTime(path, ext string) time.Time {
	if ext != extJPG && ext != extJPEG {
		return time.Time{}
	}

	file, openErr := os.Open(path)
	if openErr != nil {
		return time.Time{}
	}
	defer func() { _ = file.Close() }()

	meta, decodeErr := exif.Decode(file)
	if decodeErr != nil {
		return time.Time{}
	}

	taken, dateErr := meta.DateTime()
	if dateErr != nil {
		return time.Time{}
	}

	return taken
}
