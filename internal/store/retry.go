package store

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// connectRetry controls how long Open keeps trying a backend that is not
// accepting connections yet.
type connectRetry struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

var defaultConnectRetry = connectRetry{
	Attempts:       5,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     8 * time.Second,
}

// withRetry calls fn until it succeeds, returns a permanent error, or the
// attempts run out. The backoff doubles after each failure.
func withRetry[T any](ctx context.Context, rc connectRetry, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if rc.Attempts <= 0 {
		rc.Attempts = 1
	}
	delay := rc.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= rc.Attempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if ctx.Err() != nil || !isTransient(err) || attempt == rc.Attempts {
			break
		}

		zap.L().Warn("store: retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
		if delay *= 2; rc.MaxBackoff > 0 && delay > rc.MaxBackoff {
			delay = rc.MaxBackoff
		}
	}
	return zero, lastErr
}

// isTransient reports whether err looks like a connection the server was not
// ready for rather than a bad DSN or credentials.
func isTransient(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection refused",
		"connection reset by peer",
		"the database system is starting up",
		"i/o timeout",
		"no such host",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
