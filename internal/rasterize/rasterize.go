// Package rasterize converts scanned form documents into an ordered sequence
// of page images suitable for OCR. PDF inputs are rendered page by page;
// native image inputs pass through untouched.
package rasterize

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/tiff"
)

var (
	// ErrUnsupportedFormat indicates the input's media type cannot be rasterized.
	ErrUnsupportedFormat = errors.New("unsupported input format")

	// ErrCorruptInput indicates the input file is damaged, encrypted, or empty.
	ErrCorruptInput = errors.New("corrupt input file")
)

// Supported media types.
const (
	MediaTypePDF  = "application/pdf"
	MediaTypePNG  = "image/png"
	MediaTypeJPEG = "image/jpeg"
	MediaTypeTIFF = "image/tiff"
)

// PageImage is a single rasterized page, ordered by PageNumber (1-based).
type PageImage struct {
	PageNumber int    `json:"page_number"`
	ImagePath  string `json:"image_path"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

var extensionMediaTypes = map[string]string{
	".pdf":  MediaTypePDF,
	".png":  MediaTypePNG,
	".jpg":  MediaTypeJPEG,
	".jpeg": MediaTypeJPEG,
	".tif":  MediaTypeTIFF,
	".tiff": MediaTypeTIFF,
}

// DetectMediaType resolves the effective media type for an input file.
// A declared type wins when it is one we support; otherwise the file
// extension decides. Unknown types fail with ErrUnsupportedFormat.
func DetectMediaType(path, declared string) (string, error) {
	declared = strings.ToLower(strings.TrimSpace(declared))
	switch declared {
	case MediaTypePDF, MediaTypePNG, MediaTypeJPEG, MediaTypeTIFF:
		return declared, nil
	case "":
		// Fall through to extension sniffing.
	default:
		return "", fmt.Errorf("%w: declared media type %q", ErrUnsupportedFormat, declared)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if mt, ok := extensionMediaTypes[ext]; ok {
		return mt, nil
	}
	return "", fmt.Errorf("%w: unrecognized extension %q", ErrUnsupportedFormat, ext)
}

// decodeImageConfig reads just enough of an image file to verify it decodes
// and to learn its dimensions.
func decodeImageConfig(path string) (image.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Config{}, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return image.Config{}, fmt.Errorf("%w: %v", ErrCorruptInput, err)
	}
	return cfg, nil
}
