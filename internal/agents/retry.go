package agents

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/yoockh/yooprep/internal/utils"
)

const maxAttempts = 3

// callWithRetry runs fn with exponential backoff and jitter on transient
// failures. Context cancellation and deadline expiry short-circuit.
// retryCapacity controls the CAPACITY_EXHAUSTED policy: background tasks
// back off on a saturated fabric slot, foreground calls surface it to the
// caller immediately.
func callWithRetry(ctx context.Context, retryCapacity bool, fn func(context.Context) (string, error)) (string, error) {
	backoff := 500 * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !isTransient(err, retryCapacity) {
			return "", err
		}
		if attempt == maxAttempts {
			break
		}

		jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
		select {
		case <-time.After(backoff + jitter):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		backoff *= 2
	}
	return "", lastErr
}

func isTransient(err error, retryCapacity bool) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if utils.IsCode(err, utils.CodeCapacityExhausted) {
		return retryCapacity
	}
	return true
}
