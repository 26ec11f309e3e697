package control

import (
	"sync"
	"time"

	"github.com/zsiec/mirror/internal/condvar"
)

// AckResult is the outcome of an AckSync.Wait call.
type AckResult int

const (
	AckOk AckResult = iota
	AckTimeout
	AckInterrupted
)

// AckSync lets a caller block until a monotonically increasing sequence
// counter reaches at least some value, per spec.md §4.6. The Receiver
// advances the counter as Ack replies arrive; SetClipboard callers that
// need paste ordering wait on the sequence they attached.
type AckSync struct {
	mu          sync.Mutex
	cond        *condvar.Cond
	lastAck     uint64
	interrupted bool
}

func NewAckSync() *AckSync {
	return &AckSync{cond: condvar.New()}
}

// Advance records that the device has acknowledged up to seq, releasing
// any waiter whose target sequence is now satisfied (spec.md §8
// invariant 5: any Ack with sequence ≥ s releases all waiters on ≤ s).
func (a *AckSync) Advance(seq uint64) {
	a.mu.Lock()
	if seq > a.lastAck {
		a.lastAck = seq
	}
	a.cond.Broadcast()
	a.mu.Unlock()
}

// Interrupt wakes every current and future waiter with AckInterrupted,
// used when the controller is stopping.
func (a *AckSync) Interrupt() {
	a.mu.Lock()
	a.interrupted = true
	a.cond.Broadcast()
	a.mu.Unlock()
}

// Wait blocks until seq has been acknowledged, the deadline passes, or
// Interrupt is called.
func (a *AckSync) Wait(seq uint64, deadline time.Time) AckResult {
	for {
		a.mu.Lock()
		if a.interrupted {
			a.mu.Unlock()
			return AckInterrupted
		}
		if a.lastAck >= seq {
			a.mu.Unlock()
			return AckOk
		}
		ch := a.cond.Chan()
		a.mu.Unlock()

		if !condvar.WaitDeadline(ch, deadline) {
			a.mu.Lock()
			ok := a.lastAck >= seq
			interrupted := a.interrupted
			a.mu.Unlock()
			if ok {
				return AckOk
			}
			if interrupted {
				return AckInterrupted
			}
			return AckTimeout
		}
	}
}
