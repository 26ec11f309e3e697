// Package delaybuffer implements the delay buffer described in spec.md
// §4.3: it sits between a decoder and its downstream frame sinks (the
// display, the audio regulator), holding each decoded frame until a
// fixed delay past its estimated presentation time has elapsed, so that
// video and audio stay synchronized despite jittery arrival and decode
// timing. It is grounded directly on scrcpy's delay_buffer.c.
package delaybuffer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/mirror/internal/clock"
	"github.com/zsiec/mirror/internal/condvar"
	"github.com/zsiec/mirror/internal/media"
	"github.com/zsiec/mirror/internal/queue"
	"github.com/zsiec/mirror/internal/sink"
	"github.com/zsiec/mirror/internal/tick"
)

type itemKind int

const (
	itemFrame itemKind = iota
	itemSession
)

// delayedItem is a queued frame or session descriptor awaiting release.
// A frame carries a copy of its Data so the producer is free to reuse or
// discard its original buffer immediately after Push returns.
type delayedItem struct {
	kind    itemKind
	frame   *media.Frame
	session media.Session
}

// DelayBuffer implements sink.FrameSink on its upstream (decoder-facing)
// side and fans delayed frames out to up to sink.MaxSinks downstream
// sinks via its embedded sink.FrameSource, exactly mirroring scrcpy's
// struct sc_delay_buffer, which is simultaneously a frame_sink and a
// frame_source.
type DelayBuffer struct {
	delay          tick.Tick
	firstFrameASAP bool
	log            *slog.Logger

	mu        sync.Mutex
	queueCond *condvar.Cond
	waitCond  *condvar.Cond
	queue     *queue.Deque[delayedItem]
	clock     *clock.Clock
	stopped   bool

	downstream sink.FrameSource
	done       chan struct{}
}

// New returns a DelayBuffer holding each frame for delay before release.
// If firstFrameASAP is set, the very first frame of a stream is released
// immediately instead of waiting out the delay, so playback can start
// without an initial dead period (spec.md §4.3).
func New(delay tick.Tick, firstFrameASAP bool, log *slog.Logger) *DelayBuffer {
	if delay < 0 {
		panic("delaybuffer: delay must not be negative")
	}
	return &DelayBuffer{
		delay:          delay,
		firstFrameASAP: firstFrameASAP,
		log:            log,
	}
}

// AddSink registers a downstream frame sink.
func (db *DelayBuffer) AddSink(s sink.FrameSink) {
	db.downstream.AddSink(s)
}

// Open starts the buffering goroutine and opens every downstream sink.
func (db *DelayBuffer) Open(session media.Session) bool {
	db.queueCond = condvar.New()
	db.waitCond = condvar.New()
	db.queue = queue.New[delayedItem]()
	db.clock = clock.New()
	db.stopped = false
	db.done = make(chan struct{})

	if !db.downstream.Open(session) {
		return false
	}

	go db.run()
	return true
}

// Close stops the buffering goroutine, waits for it to drain, and closes
// every downstream sink.
func (db *DelayBuffer) Close() {
	db.mu.Lock()
	db.stopped = true
	db.queueCond.Broadcast()
	db.waitCond.Broadcast()
	db.mu.Unlock()

	<-db.done

	db.downstream.Close()
}

// Push queues frame for delayed release, or — if firstFrameASAP applies —
// releases it immediately. frame.Data is copied so the caller may reuse
// its buffer once Push returns.
func (db *DelayBuffer) Push(frame *media.Frame) bool {
	db.mu.Lock()

	if db.stopped {
		db.mu.Unlock()
		return false
	}

	db.clock.Update(tick.Now(), frame.PTS)
	db.waitCond.Broadcast()

	if db.firstFrameASAP && db.clock.Count() == 1 {
		db.mu.Unlock()
		return db.downstream.Push(frame)
	}

	copied := *frame
	copied.Data = append([]byte(nil), frame.Data...)

	db.queue.PushBack(delayedItem{kind: itemFrame, frame: &copied})
	db.queueCond.Broadcast()
	db.mu.Unlock()

	return true
}

// PushSession queues a session descriptor so it reaches downstream sinks
// in order relative to already-buffered frames, rather than jumping the
// queue.
func (db *DelayBuffer) PushSession(session media.Session) bool {
	db.mu.Lock()

	if db.stopped {
		db.mu.Unlock()
		return false
	}

	db.queue.PushBack(delayedItem{kind: itemSession, session: session})
	db.queueCond.Broadcast()
	db.mu.Unlock()

	return true
}

func (db *DelayBuffer) run() {
	defer close(db.done)

	for {
		item, ok := db.popNext()
		if !ok {
			db.drain()
			return
		}

		var pushed bool
		if item.kind == itemFrame {
			if !db.waitForRelease(item.frame.PTS) {
				return
			}
			pushed = db.downstream.Push(item.frame)
		} else {
			pushed = db.downstream.PushSession(item.session)
		}

		if !pushed {
			if db.log != nil {
				db.log.Error("delay buffer: downstream push failed, stopping")
			}
			db.mu.Lock()
			db.stopped = true
			db.mu.Unlock()
			return
		}
	}
}

// popNext blocks until the queue has an item or the buffer is stopped.
func (db *DelayBuffer) popNext() (delayedItem, bool) {
	for {
		db.mu.Lock()
		if db.stopped {
			db.mu.Unlock()
			return delayedItem{}, false
		}
		if !db.queue.IsEmpty() {
			item := db.queue.PopFront()
			db.mu.Unlock()
			return item, true
		}
		ch := db.queueCond.Chan()
		db.mu.Unlock()
		<-ch
	}
}

// waitForRelease blocks until the release deadline for pts passes: the
// clock's current estimate of pts's system time plus the configured
// delay, recomputed and re-waited every time the clock is updated in the
// meantime, and capped at the moment the frame was dequeued plus delay so
// a clock that never settles still releases frames at a bounded rate.
// Mirrors delay_buffer.c's run_buffering wait loop. Returns false if the
// buffer was stopped while waiting.
func (db *DelayBuffer) waitForRelease(pts tick.Tick) bool {
	maxDeadline := tick.Now() + db.delay

	timedOut := false
	for !timedOut {
		db.mu.Lock()
		if db.stopped {
			db.mu.Unlock()
			return false
		}

		deadline := maxDeadline
		if est, ok := db.clock.Estimate(pts); ok {
			if d := est + db.delay; d < deadline {
				deadline = d
			}
		}

		ch := db.waitCond.Chan()
		db.mu.Unlock()

		timedOut = !condvar.WaitDeadline(ch, time.UnixMicro(int64(deadline)))
	}

	db.mu.Lock()
	stopped := db.stopped
	db.mu.Unlock()
	return !stopped
}

func (db *DelayBuffer) drain() {
	db.mu.Lock()
	db.queue.Drain()
	db.mu.Unlock()
}
