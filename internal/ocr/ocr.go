// Package ocr defines the text-recognition capability consumed by the
// collectors. Recognition is advisory enrichment: a timeout or failure
// never blocks event delivery.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout indicates recognition did not complete within the caller's
// deadline.
var ErrTimeout = errors.New("recognition timed out")

// Region is one recognized text region with its bounding box in
// normalized [0,1] image coordinates.
type Region struct {
	Text       string  `json:"text"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Confidence float64 `json:"confidence"`
}

// Result is the outcome of a recognition call.
type Result struct {
	Text              string   `json:"text"`
	Regions           []Region `json:"regions"`
	DetectedLanguages []string `json:"detectedLanguages"`
	TimingMS          int64    `json:"timingMs"`
}

// Recognizer extracts text from image bytes.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte, languages []string) (*Result, error)
}

// WithTimeout races rec.Recognize against a timer. Whichever completes
// first wins; the loser is cancelled through its context. Cancellation is
// cooperative, so a recognizer must check its context between work units.
func WithTimeout(ctx context.Context, rec Recognizer, image []byte, languages []string, timeout time.Duration) (*Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		res, err := rec.Recognize(ctx, image, languages)
		done <- outcome{res, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.res, out.err
	case <-timer.C:
		cancel()
		return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
