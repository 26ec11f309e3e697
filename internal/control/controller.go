package control

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/mirror/internal/condvar"
	"github.com/zsiec/mirror/internal/queue"
)

// queueCapacity bounds the outgoing message queue before droppable
// messages are discarded, per spec.md §4.6.
const queueCapacity = 64

// drainWait is how long a blocking push on a full queue waits for a slot
// to free before reporting a timeout, per spec.md §4.6's "short-bounded
// wait on a drain condition".
const drainWait = 2 * time.Second

// ErrQueueTimeout is returned by Push when a non-droppable message could
// not be enqueued within drainWait.
var ErrQueueTimeout = fmt.Errorf("control: push timed out waiting for queue space")

// ErrStopped is returned by Push once the controller has stopped.
var ErrStopped = fmt.Errorf("control: controller stopped")

// Controller owns the control socket's write side: a bounded outgoing
// queue and a dedicated writer goroutine (spec.md §4.6). It does not own
// or start a Receiver: the socket's reverse direction is read by a
// separately constructed Receiver, which is handed this Controller's Acks.
type Controller struct {
	log  *slog.Logger
	w    io.Writer
	Acks *AckSync

	mu      sync.Mutex
	cond    *condvar.Cond
	drain   *condvar.Cond
	queue   *queue.Deque[Msg]
	stopped bool
	failed  bool

	onError func(error)

	drainWait time.Duration

	done chan struct{}
}

// New creates a Controller writing serialised messages to w and starts
// its writer goroutine. onError, if non-nil, is invoked at most once from
// the writer goroutine on the first socket write failure (spec.md §7's
// "controller-error event").
func New(w io.Writer, onError func(error), log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	c := &Controller{
		log:       log.With("component", "controller"),
		w:         w,
		Acks:      NewAckSync(),
		cond:      condvar.New(),
		drain:     condvar.New(),
		queue:     queue.New[Msg](),
		onError:   onError,
		drainWait: drainWait,
		done:      make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// Push enqueues msg. Droppable messages are silently discarded when the
// queue is full; non-droppable ones block up to drainWait for a slot,
// returning ErrQueueTimeout on expiry (spec.md §4.6, §8 invariant 6).
func (c *Controller) Push(msg Msg) error {
	deadline := time.Now().Add(c.drainWait)
	for {
		c.mu.Lock()
		if c.stopped || c.failed {
			c.mu.Unlock()
			return ErrStopped
		}
		if c.queue.Len() < queueCapacity {
			c.queue.PushBack(msg)
			c.cond.Broadcast()
			c.mu.Unlock()
			return nil
		}
		if msg.Droppable() {
			c.mu.Unlock()
			return nil
		}
		ch := c.drain.Chan()
		c.mu.Unlock()

		if !condvar.WaitDeadline(ch, deadline) {
			return ErrQueueTimeout
		}
	}
}

// Stop requests the writer goroutine to finish and waits for it.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.cond.Broadcast()
	c.mu.Unlock()
	c.Acks.Interrupt()
	<-c.done
}

func (c *Controller) writeLoop() {
	defer close(c.done)

	for {
		c.mu.Lock()
		for c.queue.IsEmpty() && !c.stopped {
			ch := c.cond.Chan()
			c.mu.Unlock()
			<-ch
			c.mu.Lock()
		}
		if c.queue.IsEmpty() {
			c.mu.Unlock()
			return
		}
		msg := c.queue.PopFront()
		c.drain.Broadcast()
		c.mu.Unlock()

		if err := c.writeAll(msg.Serialize()); err != nil {
			c.log.Error("write failed", "error", err)
			c.mu.Lock()
			c.failed = true
			c.mu.Unlock()
			if c.onError != nil {
				c.onError(err)
			}
			return
		}
	}
}

// drainWaitOverride shortens the drain wait for tests exercising the
// non-droppable timeout path without a multi-second sleep.
func (c *Controller) drainWaitOverride(d time.Duration) {
	c.mu.Lock()
	c.drainWait = d
	c.mu.Unlock()
}

// writeAll writes buf in full, resuming on short writes, per the writer
// algorithm in spec.md §4.6.
func (c *Controller) writeAll(buf []byte) error {
	for len(buf) > 0 {
		n, err := c.w.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}
