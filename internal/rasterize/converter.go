package rasterize

import (
	"context"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/gen2brain/go-fitz"
)

// Options controls page rendering.
type Options struct {
	Quality  int // JPEG quality 1-100
	MaxPages int // 0 = unlimited
}

// Converter turns one input document into ordered page images. PDF pages are
// rendered with go-fitz and written as JPEGs into a scoped temp directory;
// image inputs pass through as a single page pointing at the source file.
// Callers own the converter's lifetime and must call Cleanup on every exit
// path; Cleanup never touches caller-owned source files.
type Converter struct {
	opts      Options
	doc       *fitz.Document
	tempDir   string
	tempFiles []string
}

// NewConverter creates a converter with the given options.
func NewConverter(opts Options) *Converter {
	if opts.Quality < 1 || opts.Quality > 100 {
		opts.Quality = 90
	}
	return &Converter{
		opts:      opts,
		tempFiles: make([]string, 0),
	}
}

// Convert produces the ordered page images for the input file. The sequence
// is never empty on success: a plain image yields exactly one element.
func (c *Converter) Convert(ctx context.Context, path, mediaType string) ([]PageImage, error) {
	if err := ValidateSourcePath(path); err != nil {
		return nil, err
	}

	mt, err := DetectMediaType(path, mediaType)
	if err != nil {
		return nil, err
	}

	switch mt {
	case MediaTypePDF:
		return c.convertPDF(ctx, path)
	case MediaTypePNG, MediaTypeJPEG, MediaTypeTIFF:
		return c.passthroughImage(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mt)
	}
}

func (c *Converter) convertPDF(ctx context.Context, path string) ([]PageImage, error) {
	if err := preflightPDF(path); err != nil {
		return nil, err
	}

	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf: %v", ErrCorruptInput, err)
	}
	c.doc = doc

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return nil, fmt.Errorf("%w: pdf has no pages", ErrCorruptInput)
	}
	if c.opts.MaxPages > 0 && pageCount > c.opts.MaxPages {
		return nil, fmt.Errorf("pdf has %d pages, exceeds configured max of %d", pageCount, c.opts.MaxPages)
	}

	tempDir, err := os.MkdirTemp("", "forms-engine-*")
	if err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}
	c.tempDir = tempDir

	images := make([]PageImage, 0, pageCount)

	for pageNum := 0; pageNum < pageCount; pageNum++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		img, err := doc.Image(pageNum)
		if err != nil {
			return nil, fmt.Errorf("%w: render page %d: %v", ErrCorruptInput, pageNum+1, err)
		}

		outputPath := filepath.Join(tempDir, fmt.Sprintf("page_%03d.jpg", pageNum+1))
		outputFile, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("create page file %d: %w", pageNum+1, err)
		}

		err = jpeg.Encode(outputFile, img, &jpeg.Options{Quality: c.opts.Quality})
		outputFile.Close()
		if err != nil {
			return nil, fmt.Errorf("encode page %d: %w", pageNum+1, err)
		}

		c.tempFiles = append(c.tempFiles, outputPath)

		bounds := img.Bounds()
		images = append(images, PageImage{
			PageNumber: pageNum + 1,
			ImagePath:  outputPath,
			Width:      bounds.Dx(),
			Height:     bounds.Dy(),
		})
	}

	return images, nil
}

func (c *Converter) passthroughImage(path string) ([]PageImage, error) {
	cfg, err := decodeImageConfig(path)
	if err != nil {
		return nil, err
	}

	return []PageImage{{
		PageNumber: 1,
		ImagePath:  path,
		Width:      cfg.Width,
		Height:     cfg.Height,
	}}, nil
}

// Cleanup removes temporary page files and closes the PDF document.
func (c *Converter) Cleanup() error {
	var errs []error

	if c.doc != nil {
		c.doc.Close()
		c.doc = nil
	}

	if c.tempDir != "" {
		if err := os.RemoveAll(c.tempDir); err != nil {
			errs = append(errs, err)
		}
		c.tempDir = ""
	}

	c.tempFiles = nil

	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %v", errs)
	}

	return nil
}
