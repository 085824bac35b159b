package scanning

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zombor/screen-watchdog/internal/failure"
)

// RetryOptions configure a Retrying recognizer
type RetryOptions struct {
	// Attempts is the total number of tries, 3 when zero
	Attempts int
	// Backoff is the delay before the second try; it doubles after that
	Backoff time.Duration
	Sleep   func(context.Context, time.Duration) error
}

// Retrying wraps a Recognizer and retries failures that are not permanent
type Retrying struct {
	next     Recognizer
	attempts int
	backoff  time.Duration
	sleep    func(context.Context, time.Duration) error
}

// NewRetrying creates a retrying wrapper around next
func NewRetrying(next Recognizer, opts RetryOptions) *Retrying {
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := opts.Backoff
	if backoff < 0 {
		backoff = 0
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	return &Retrying{
		next:     next,
		attempts: attempts,
		backoff:  backoff,
		sleep:    sleep,
	}
}

// Recognize calls the wrapped recognizer until it succeeds, fails
// permanently, runs out of attempts, or ctx is done
func (r *Retrying) Recognize(ctx context.Context, image []byte, contentType string) (string, error) {
	delay := r.backoff
	for attempt := 1; ; attempt++ {
		text, err := r.next.Recognize(ctx, image, contentType)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if failure.IsPermanent(err) {
			return "", err
		}
		if attempt >= r.attempts {
			return "", fmt.Errorf("recognizing text after %d attempts: %w", attempt, err)
		}

		slog.Warn("OCR attempt failed, retrying", "attempt", attempt, "attempts", r.attempts, "delay", delay, "error", err)
		if err := r.sleep(ctx, delay); err != nil {
			return "", err
		}
		delay *= 2
	}
}

// Close closes the wrapped recognizer
func (r *Retrying) Close() error {
	return r.next.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
