package stream

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Defaults for the reconnect policy.
const (
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 16 * time.Second
	DefaultMaxAttempts = 5
)

// newReconnectPolicy returns a deterministic doubling backoff,
// min(maxDelay, base*2^attempt), that stops after maxAttempts delays.
func newReconnectPolicy(base, maxDelay time.Duration, maxAttempts int) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = base
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxInterval = maxDelay
	eb.MaxElapsedTime = 0
	eb.Reset()
	return backoff.WithMaxRetries(eb, uint64(maxAttempts))
}

// Scheduler runs f once after d. The stream client holds at most one
// pending Timer at a time.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable pending call.
type Timer interface {
	Stop() bool
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
