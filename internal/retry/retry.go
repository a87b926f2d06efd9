package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"syscall"
	"time"
)

// Options controls the backoff schedule for Do.
type Options struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	Multiplier        float64
	JitterFraction    float64
	PerAttemptTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxAttempts:       3,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		Multiplier:        2,
		JitterFraction:    0.1,
		PerAttemptTimeout: 10 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = 500 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.Multiplier <= 0 {
		o.Multiplier = 2
	}
	if o.JitterFraction < 0 {
		o.JitterFraction = 0.1
	}
	return o
}

// Operation is a single attempt of an outbound call. The ctx carries the
// per-attempt timeout when one is configured.
type Operation func(ctx context.Context) error

// HTTPError marks a non-2xx response so the classifier can distinguish
// retryable statuses (429, 5xx) from terminal ones.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http request to %s failed with status %d", e.URL, e.StatusCode)
}

// Do runs op with bounded exponential backoff. Terminal errors are returned
// immediately without consuming further attempts; exhausting all attempts
// wraps the last error with the attempt count.
func Do(ctx context.Context, op Operation, opts Options) error {
	opts = opts.withDefaults()

	var lastErr error
	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(jittered(delay(attempt-1, opts), opts.JitterFraction)):
			}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if opts.PerAttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, opts.PerAttemptTimeout)
		}
		err := op(attemptCtx)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			return nil
		}
		lastErr = err

		// The parent giving up is not a transient failure of the operation.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !IsRetryable(err) {
			return err
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", opts.MaxAttempts, lastErr)
}

// delay is the pre-jitter backoff for a given zero-based attempt index.
func delay(attempt int, opts Options) time.Duration {
	d := float64(opts.InitialDelay) * math.Pow(opts.Multiplier, float64(attempt))
	if d > float64(opts.MaxDelay) {
		return opts.MaxDelay
	}
	return time.Duration(d)
}

func jittered(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 || d <= 0 {
		return d
	}
	// Uniform in [-fraction, +fraction] of the delay, floored at zero.
	offset := (rand.Float64()*2 - 1) * fraction * float64(d)
	out := time.Duration(float64(d) + offset)
	if out < 0 {
		return 0
	}
	return out
}

// IsRetryable reports whether err is a recognized transient condition:
// network timeouts, connection reset/refused, DNS failures, aborted
// transfers, or an HTTP 429/5xx. Everything else is terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429 || httpErr.StatusCode >= 500
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	return false
}
