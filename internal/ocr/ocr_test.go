package ocr

import (
	"context"
	"errors"
	"testing"
	"time"
)

// stubRecognizer returns a fixed result after an optional delay, honoring
// context cancellation.
type stubRecognizer struct {
	delay  time.Duration
	result *Result
	err    error
}

func (s *stubRecognizer) Recognize(ctx context.Context, image []byte, languages []string) (*Result, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.result, s.err
}

func TestWithTimeoutFastPath(t *testing.T) {
	rec := &stubRecognizer{result: &Result{Text: "receipt total 42"}}

	res, err := WithTimeout(context.Background(), rec, []byte("img"), nil, time.Second)
	if err != nil {
		t.Fatalf("WithTimeout: %v", err)
	}
	if res.Text != "receipt total 42" {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestWithTimeoutExpires(t *testing.T) {
	rec := &stubRecognizer{delay: time.Second, result: &Result{Text: "too late"}}

	_, err := WithTimeout(context.Background(), rec, []byte("img"), nil, 20*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestWithTimeoutPropagatesRecognizerError(t *testing.T) {
	rec := &stubRecognizer{err: errors.New("engine unavailable")}

	_, err := WithTimeout(context.Background(), rec, []byte("img"), nil, time.Second)
	if err == nil || err.Error() != "engine unavailable" {
		t.Fatalf("err = %v, want engine unavailable", err)
	}
}

func TestWithTimeoutCallerCancel(t *testing.T) {
	rec := &stubRecognizer{delay: time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := WithTimeout(ctx, rec, []byte("img"), nil, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
