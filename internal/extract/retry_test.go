package extract

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/forms-engine/internal/rasterize"
)

// timeoutEngine hits the per-page deadline on its first n calls and
// succeeds afterwards.
type timeoutEngine struct {
	mu       sync.Mutex
	calls    int
	failures int
	text     string
}

func (e *timeoutEngine) Name() string { return "timeout" }

func (e *timeoutEngine) Recognize(ctx context.Context, in Input) (Result, error) {
	e.mu.Lock()
	e.calls++
	n := e.calls
	e.mu.Unlock()

	if n <= e.failures {
		return Result{}, fmt.Errorf("recognize: %w", context.DeadlineExceeded)
	}
	return Result{Text: e.text}, nil
}

func (e *timeoutEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func TestExtractDocumentRetriesTimedOutPage(t *testing.T) {
	dir := t.TempDir()
	pages := []rasterize.PageImage{writePageImage(t, dir, 1)}

	engine := &timeoutEngine{failures: 1, text: "recovered text"}
	svc := newTestService(engine, ServiceOptions{
		Workers:        1,
		Timeout:        time.Second,
		TimeoutRetries: 2,
	})

	doc, err := svc.ExtractDocument(context.Background(), pages)
	require.NoError(t, err)
	assert.Equal(t, "recovered text", doc.Text)
	assert.Equal(t, 2, engine.callCount())
}

func TestExtractDocumentTimeoutRetriesExhausted(t *testing.T) {
	dir := t.TempDir()
	pages := []rasterize.PageImage{writePageImage(t, dir, 1)}

	engine := &timeoutEngine{failures: 10}
	svc := newTestService(engine, ServiceOptions{
		Workers:        1,
		Timeout:        time.Second,
		TimeoutRetries: 1,
	})

	_, err := svc.ExtractDocument(context.Background(), pages)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExtractionTimeout)
	assert.Equal(t, 2, engine.callCount(), "one retry means two attempts")
}

func TestExtractDocumentDoesNotRetryOtherFailures(t *testing.T) {
	dir := t.TempDir()
	pages := []rasterize.PageImage{writePageImage(t, dir, 1)}

	calls := 0
	engine := &fakeEngine{fn: func(ctx context.Context, in Input) (Result, error) {
		calls++
		return Result{}, fmt.Errorf("%w: tesseract not initialized", ErrEngineUnavailable)
	}}

	svc := newTestService(engine, ServiceOptions{
		Workers:        1,
		Timeout:        time.Second,
		TimeoutRetries: 3,
	})

	_, err := svc.ExtractDocument(context.Background(), pages)
	require.ErrorIs(t, err, ErrEngineUnavailable)
	assert.Equal(t, 1, calls, "an unavailable engine must fail without retries")
}

func TestRetryBackoffCapped(t *testing.T) {
	assert.Equal(t, initialRetryBackoff, retryBackoff(0))
	assert.Equal(t, 2*initialRetryBackoff, retryBackoff(1))
	assert.Equal(t, maxRetryBackoff, retryBackoff(20))
}
