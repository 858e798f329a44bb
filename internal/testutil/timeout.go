package testutil

import (
	"context"
	"testing"
	"time"
)

const (
	// DefaultTestTimeout bounds a single runner or CLI test.
	DefaultTestTimeout = 30 * time.Second

	// DefaultTestBuffer is subtracted from the test deadline so cleanup can
	// run before the test times out.
	DefaultTestBuffer = 2 * time.Second
)

// ContextWithTestDeadline creates a context that respects the test's deadline.
// If the test has no deadline, it falls back to the provided duration.
func ContextWithTestDeadline(t *testing.T, fallback time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()
	return ContextWithTestDeadlineBuffer(t, fallback, DefaultTestBuffer)
}

// ContextWithTestDeadlineBuffer is ContextWithTestDeadline with a custom
// buffer. If the test deadline minus buffer is already past, the fallback
// is used instead.
func ContextWithTestDeadlineBuffer(t *testing.T, fallback, buffer time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()

	if deadline, ok := t.Deadline(); ok {
		adjusted := deadline.Add(-buffer)
		if time.Until(adjusted) > 0 && time.Until(adjusted) < fallback {
			return context.WithDeadline(context.Background(), adjusted)
		}
	}
	return context.WithTimeout(context.Background(), fallback)
}

// Context returns a context bounded by DefaultTestTimeout and cancelled when
// the test ends.
func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := ContextWithTestDeadline(t, DefaultTestTimeout)
	t.Cleanup(cancel)
	return ctx
}
