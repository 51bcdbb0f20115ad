package signal

import (
	"time"

	"github.com/openroom/voiceclient/internal/domain"
)

const (
	backoffBase = time.Second
	backoffCap  = 30 * time.Second
)

// Backoff produces the reconnection delay sequence 1s, 2s, 4s, ... capped at
// 30s. Not safe for concurrent use; the channel guards it with its own mutex.
type Backoff struct {
	attempt     int
	maxAttempts int
}

func NewBackoff(maxAttempts int) *Backoff {
	return &Backoff{maxAttempts: maxAttempts}
}

// Next returns the delay for the current attempt and advances the counter.
func (b *Backoff) Next() time.Duration {
	d := backoffBase << b.attempt
	if d > backoffCap {
		d = backoffCap
	}
	b.attempt++
	return d
}

// Exhausted reports whether all attempts have been spent.
func (b *Backoff) Exhausted() bool {
	return b.attempt >= b.maxAttempts
}

// Reset is called on every successful connect.
func (b *Backoff) Reset() {
	b.attempt = 0
}

func (b *Backoff) State() domain.BackoffState {
	return domain.BackoffState{Attempt: b.attempt, MaxAttempts: b.maxAttempts}
}
