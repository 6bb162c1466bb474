// Package extract turns page images into text via OCR. The engine is a
// black-box collaborator: low-quality scans yield low confidence, never
// errors. Errors are reserved for an engine that cannot be invoked at all.
package extract

import (
	"context"
	"errors"
)

var (
	// ErrEngineUnavailable indicates the OCR engine could not be invoked
	// (missing dependency or broken installation), as opposed to a
	// recognition producing poor text.
	ErrEngineUnavailable = errors.New("ocr engine unavailable")

	// ErrExtractionTimeout indicates a page recognition exceeded its time
	// bound. Retryable: no state is left behind.
	ErrExtractionTimeout = errors.New("ocr extraction timed out")
)

// Input is one page image handed to the engine.
type Input struct {
	Image      []byte
	PageNumber int
	Languages  []string
	DPI        int
}

// Result is the engine's output for one page. Confidence is 0..1 and only
// meaningful when HasConfidence is set; engines that cannot score their
// output leave it unset.
type Result struct {
	Text          string
	Confidence    float64
	HasConfidence bool
}

// Engine recognizes text on a single page image.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, in Input) (Result, error)
}
