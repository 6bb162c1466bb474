package extract

import (
	"context"
	"errors"
	"math"
	"time"
)

const (
	initialRetryBackoff = 500 * time.Millisecond
	maxRetryBackoff     = 8 * time.Second
)

// retryBackoff computes the exponential backoff before retry attempt n.
func retryBackoff(attempt int) time.Duration {
	backoff := float64(initialRetryBackoff) * math.Pow(2, float64(attempt))
	if backoff > float64(maxRetryBackoff) {
		backoff = float64(maxRetryBackoff)
	}
	return time.Duration(backoff)
}

// recognizeWithRetry re-runs a timed-out page recognition up to the
// configured retry count. A timeout leaves no state behind, so the same
// input can go back to the engine unchanged; every other failure is
// returned immediately.
func (s *Service) recognizeWithRetry(ctx context.Context, in Input) (Result, error) {
	var lastErr error

	for attempt := 0; ; attempt++ {
		res, err := s.recognize(ctx, in)
		if err == nil || !errors.Is(err, ErrExtractionTimeout) {
			return res, err
		}
		lastErr = err

		if attempt >= s.opts.TimeoutRetries {
			return Result{}, lastErr
		}

		backoff := retryBackoff(attempt)
		s.logger.Warn().
			Int("page", in.PageNumber).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("Page recognition timed out, retrying")

		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(backoff):
		}
	}
}
