// Package display implements the frame-consumer interface spec.md §6
// describes for a windowed display: the sink receives decoded frames on
// the decoder's thread and must be safe to call from there, while
// rendering happens on a separate main-loop thread. The two sides meet
// through a single pending-frame slot protected by a lock plus a
// wake-up signal — a new frame always replaces whatever frame is
// waiting, so the render thread only ever sees the latest one.
package display

import (
	"log/slog"
	"sync"

	"github.com/zsiec/mirror/internal/condvar"
	"github.com/zsiec/mirror/internal/media"
)

// Sink is the windowed display's frame consumer. It implements
// sink.FrameSink. Push is called from the decoder thread; Wait is called
// from the render/main-loop thread.
type Sink struct {
	mu      sync.Mutex
	cond    *condvar.Cond
	session media.Session
	pending *media.Frame
	opened  bool
	closed  bool

	log *slog.Logger
}

// New returns a ready Sink.
func New(log *slog.Logger) *Sink {
	if log == nil {
		log = slog.Default()
	}
	return &Sink{cond: condvar.New(), log: log.With("component", "display")}
}

// Open records the stream's session. Display never rejects a session.
func (s *Sink) Open(session media.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
	s.opened = true
	return true
}

// Close marks the sink closed and wakes any waiter with a final nil frame.
func (s *Sink) Close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Push installs frame as the pending frame, dropping whatever frame was
// already waiting there unconsumed, and wakes the render thread. Push
// never blocks and never fails: a display that cannot keep up drops
// frames rather than applying backpressure to the decoder, per spec.md §6.
func (s *Sink) Push(frame *media.Frame) bool {
	s.mu.Lock()
	if s.pending != nil && s.log != nil {
		s.log.Debug("display: dropping undrawn frame", "pts", s.pending.PTS)
	}
	s.pending = frame
	s.cond.Broadcast()
	s.mu.Unlock()
	return true
}

// Wait blocks until a frame is pending or the sink is closed, then
// returns it (clearing the pending slot) along with the current session.
// ok is false once the sink has closed and no frame remains.
func (s *Sink) Wait() (frame *media.Frame, session media.Session, ok bool) {
	for {
		s.mu.Lock()
		if s.pending != nil {
			frame = s.pending
			s.pending = nil
			session = s.session
			s.mu.Unlock()
			return frame, session, true
		}
		if s.closed {
			s.mu.Unlock()
			return nil, media.Session{}, false
		}
		ch := s.cond.Chan()
		s.mu.Unlock()
		<-ch
	}
}
