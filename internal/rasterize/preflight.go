package rasterize

import (
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// preflightPDF rejects damaged or unprocessable PDFs before any rendering
// work. Encrypted documents are refused: OCR on an encrypted scan is not
// meaningful and go-fitz would render blank pages.
func preflightPDF(path string) error {
	pdfCtx, err := api.ReadContextFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptInput, err)
	}

	if pdfCtx.Encrypt != nil {
		return fmt.Errorf("%w: pdf is encrypted", ErrCorruptInput)
	}

	if pdfCtx.PageCount == 0 {
		return fmt.Errorf("%w: pdf has no pages", ErrCorruptInput)
	}

	return nil
}
