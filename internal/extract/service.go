package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spherical-ai/forms-engine/internal/observability"
	"github.com/spherical-ai/forms-engine/internal/rasterize"
)

// ServiceOptions controls document extraction.
type ServiceOptions struct {
	Languages      []string
	DPI            int
	Timeout        time.Duration // per-page recognition bound, 0 = unbounded
	TimeoutRetries int           // extra attempts for a timed-out page
	Workers        int
	Enhance        bool
	MinPageWidth   int

	// OnPage, when set, is called after each page finishes recognition with
	// the completed count and the total. Calls are serialized.
	OnPage func(completed, total int)
}

// Service extracts text from a document's page images. Pages are independent
// until concatenation, so they are recognized by a bounded worker pool and
// re-sorted into page order before the texts are joined.
type Service struct {
	engine Engine
	logger *observability.Logger
	opts   ServiceOptions
}

// NewService creates an extraction service backed by the given engine.
func NewService(engine Engine, logger *observability.Logger, opts ServiceOptions) *Service {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	return &Service{
		engine: engine,
		logger: logger,
		opts:   opts,
	}
}

// PageText is the recognized text for one page.
type PageText struct {
	PageNumber    int     `json:"page_number"`
	Text          string  `json:"text"`
	Confidence    float64 `json:"confidence,omitempty"`
	HasConfidence bool    `json:"has_confidence"`
}

// DocumentText is the ordered, concatenated recognition result for a whole
// document. Text joins the pages in page order with a boundary marker line
// between them; downstream parsing depends on that positional cue.
type DocumentText struct {
	Text          string     `json:"text"`
	Pages         []PageText `json:"pages"`
	Confidence    float64    `json:"confidence,omitempty"`
	HasConfidence bool       `json:"has_confidence"`
}

// ExtractDocument recognizes every page and assembles the document text.
func (s *Service) ExtractDocument(ctx context.Context, pages []rasterize.PageImage) (*DocumentText, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages to extract")
	}

	type workItem struct {
		index int
		page  rasterize.PageImage
	}

	workChan := make(chan workItem, len(pages))
	results := make([]PageText, len(pages))
	errs := make([]error, len(pages))
	completed := 0
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i, page := range pages {
		workChan <- workItem{index: i, page: page}
	}
	close(workChan)

	workers := s.opts.Workers
	if workers > len(pages) {
		workers = len(pages)
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range workChan {
				text, err := s.extractPage(ctx, item.page)

				mu.Lock()
				results[item.index] = text
				errs[item.index] = err
				completed++
				if s.opts.OnPage != nil {
					s.opts.OnPage(completed, len(pages))
				}
				mu.Unlock()
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Report the failure of the earliest page, ordering errors the way the
	// document reads rather than by completion time.
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].PageNumber < results[j].PageNumber
	})

	doc := &DocumentText{
		Text:  concatenatePages(results),
		Pages: results,
	}

	var confSum float64
	var confPages int
	for _, p := range results {
		if p.HasConfidence {
			confSum += p.Confidence
			confPages++
		}
	}
	if confPages > 0 {
		doc.Confidence = confSum / float64(confPages)
		doc.HasConfidence = true
	}

	s.logger.Debug().
		Int("pages", len(results)).
		Int("chars", len(doc.Text)).
		Float64("confidence", doc.Confidence).
		Str("engine", s.engine.Name()).
		Msg("Document text extracted")

	return doc, nil
}

// extractPage reads, optionally enhances, and recognizes one page image.
func (s *Service) extractPage(ctx context.Context, page rasterize.PageImage) (PageText, error) {
	data, err := os.ReadFile(page.ImagePath)
	if err != nil {
		return PageText{}, fmt.Errorf("read page %d image: %w", page.PageNumber, err)
	}

	if s.opts.Enhance {
		enhanced, err := EnhanceImage(data, s.opts.MinPageWidth)
		if err != nil {
			// Enhancement is best-effort; the raw scan still goes to OCR.
			s.logger.Warn().Err(err).Int("page", page.PageNumber).Msg("Image enhancement failed, using raw page")
		} else {
			data = enhanced
		}
	}

	res, err := s.recognizeWithRetry(ctx, Input{
		Image:      data,
		PageNumber: page.PageNumber,
		Languages:  s.opts.Languages,
		DPI:        s.opts.DPI,
	})
	if err != nil {
		return PageText{}, err
	}

	return PageText{
		PageNumber:    page.PageNumber,
		Text:          res.Text,
		Confidence:    res.Confidence,
		HasConfidence: res.HasConfidence,
	}, nil
}

// recognize runs the engine under the configured per-page time bound.
func (s *Service) recognize(ctx context.Context, in Input) (Result, error) {
	if s.opts.Timeout <= 0 {
		return s.engine.Recognize(ctx, in)
	}

	recCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	type outcome struct {
		res Result
		err error
	}

	// The engine call may block inside C code past cancellation, so it runs
	// in its own goroutine and the deadline is enforced here.
	ch := make(chan outcome, 1)
	go func() {
		res, err := s.engine.Recognize(recCtx, in)
		ch <- outcome{res: res, err: err}
	}()

	select {
	case o := <-ch:
		if o.err != nil && errors.Is(o.err, context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("%w: page %d", ErrExtractionTimeout, in.PageNumber)
		}
		return o.res, o.err
	case <-recCtx.Done():
		if errors.Is(recCtx.Err(), context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("%w: page %d", ErrExtractionTimeout, in.PageNumber)
		}
		return Result{}, recCtx.Err()
	}
}

// concatenatePages joins page texts in page order with a boundary marker
// line between consecutive pages.
func concatenatePages(pages []PageText) string {
	var builder strings.Builder
	for i, page := range pages {
		if i > 0 {
			builder.WriteString("\n\n--- Page ")
			builder.WriteString(fmt.Sprintf("%d", page.PageNumber))
			builder.WriteString(" ---\n\n")
		}
		builder.WriteString(page.Text)
	}
	return builder.String()
}
