package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RemoteError is a failed call to a tracker API. StatusCode is zero for
// pure connectivity failures that never produced an HTTP response.
type RemoteError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Op, e.Body)
	}
	return fmt.Sprintf("%s: remote returned %d: %s", e.Op, e.StatusCode, e.Body)
}

// Fatal reports whether err is a 4xx-class remote error. Those signal a
// request problem that retrying cannot fix and are surfaced immediately.
// Errors without a status (connection failures) and 5xx responses are
// considered transient. The same predicate is shared by both tracker
// clients.
func Fatal(err error) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.StatusCode >= 400 && re.StatusCode < 500
	}
	return false
}

// RetryPolicy bounds the retry loop wrapped around every remote call.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries up to 4 times starting at 250ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      4,
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// Do runs fn, retrying transient failures with exponential backoff up to
// the policy's attempt bound. Fatal errors abort immediately. The last
// error is returned once retries are exhausted.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func() error) error {
	// BackOff implementations are stateful; always build a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialInterval
	bo.MaxInterval = p.MaxInterval

	attempt := 0
	return backoff.RetryNotify(
		func() error {
			attempt++
			err := fn()
			if err == nil {
				return nil
			}
			if Fatal(err) {
				return backoff.Permanent(err)
			}
			return err
		},
		backoff.WithContext(backoff.WithMaxRetries(bo, p.MaxRetries), ctx),
		func(err error, wait time.Duration) {
			slog.Warn("retrying remote call",
				"op", op,
				"attempt", attempt,
				"wait_ms", wait.Milliseconds(),
				"error", err,
			)
		},
	)
}
