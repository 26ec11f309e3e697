// Package sink defines the uniform packet-sink and frame-sink contracts
// that every pipeline stage implements, plus the small fixed-capacity
// fan-out helper (§4.7) that every producer in this repository (Demuxer,
// DelayBuffer) uses to push to its configured sinks.
package sink

import "github.com/zsiec/mirror/internal/media"

// MaxSinks bounds the number of sinks a single source can fan out to,
// keeping the open/close rollback accounting a fixed-size array instead of
// a slice, as scrcpy's sc_demuxer does with SC_DEMUXER_MAX_SINKS.
const MaxSinks = 2

// PacketSink is implemented by every stage that consumes encoded packets
// (the Recorder, and any decoder feeding the delay buffer).
type PacketSink interface {
	// Open is called once with the stream's Session before the first Push.
	// Returning false aborts the producer's start-up.
	Open(session media.Session) bool
	// Close releases resources; called once, in reverse open order among
	// sibling sinks, when the producer terminates for any reason.
	Close()
	// Push delivers one packet. A config packet is never pushed on its
	// own — see media.Packet's doc comment. Returning false terminates the
	// producer.
	Push(pkt *media.Packet) bool
}

// OptionalSessionPusher is implemented by sinks that want a second,
// explicit notification when the session changes after Open (used by the
// DelayBuffer, which replays Session descriptors through its queue so they
// stay ordered with respect to buffered frames).
type OptionalSessionPusher interface {
	PushSession(session media.Session) bool
}

// Disabler is implemented by sinks that need to distinguish "this stream
// will never produce data" from ordinary end-of-stream, so they can shut
// down their side of the pipeline cleanly instead of waiting forever.
type Disabler interface {
	Disable()
}

// FrameSink is implemented by every stage that consumes decoded frames
// (the AudioRegulator, and the windowed display consumer).
type FrameSink interface {
	Open(session media.Session) bool
	Close()
	Push(frame *media.Frame) bool
}

// PacketSource holds up to MaxSinks PacketSinks and fans a packet out to
// all of them in declaration order, mirroring sc_demuxer's sink array.
type PacketSource struct {
	sinks [MaxSinks]PacketSink
	count int
}

// AddSink registers a sink. Panics if more than MaxSinks are added, since
// that is a wiring bug, not a runtime condition.
func (s *PacketSource) AddSink(sink PacketSink) {
	if s.count >= MaxSinks {
		panic("sink: too many packet sinks")
	}
	s.sinks[s.count] = sink
	s.count++
}

// Open opens every sink with session in declaration order. On partial
// failure, it closes the sinks that did open, in reverse order, and
// returns false.
func (s *PacketSource) Open(session media.Session) bool {
	for i := 0; i < s.count; i++ {
		if !s.sinks[i].Open(session) {
			s.closeFirst(i)
			return false
		}
	}
	return true
}

// Close closes every opened sink in reverse declaration order.
func (s *PacketSource) Close() {
	s.closeFirst(s.count)
}

func (s *PacketSource) closeFirst(n int) {
	for i := n - 1; i >= 0; i-- {
		s.sinks[i].Close()
	}
}

// Push delivers pkt to every sink in order. It stops and returns false at
// the first sink that rejects the packet; sinks already pushed to are not
// rewound (spec.md §4.1).
func (s *PacketSource) Push(pkt *media.Packet) bool {
	for i := 0; i < s.count; i++ {
		if !s.sinks[i].Push(pkt) {
			return false
		}
	}
	return true
}

// PushSession notifies any sink that implements OptionalSessionPusher.
func (s *PacketSource) PushSession(session media.Session) bool {
	for i := 0; i < s.count; i++ {
		if opt, ok := s.sinks[i].(OptionalSessionPusher); ok {
			if !opt.PushSession(session) {
				return false
			}
		}
	}
	return true
}

// Disable notifies every sink implementing Disabler that this stream will
// never produce data.
func (s *PacketSource) Disable() {
	for i := 0; i < s.count; i++ {
		if d, ok := s.sinks[i].(Disabler); ok {
			d.Disable()
		}
	}
}

// FrameSource is the frame-sink analogue of PacketSource.
type FrameSource struct {
	sinks [MaxSinks]FrameSink
	count int
}

func (s *FrameSource) AddSink(sink FrameSink) {
	if s.count >= MaxSinks {
		panic("sink: too many frame sinks")
	}
	s.sinks[s.count] = sink
	s.count++
}

func (s *FrameSource) Open(session media.Session) bool {
	for i := 0; i < s.count; i++ {
		if !s.sinks[i].Open(session) {
			s.closeFirst(i)
			return false
		}
	}
	return true
}

func (s *FrameSource) Close() {
	s.closeFirst(s.count)
}

func (s *FrameSource) closeFirst(n int) {
	for i := n - 1; i >= 0; i-- {
		s.sinks[i].Close()
	}
}

func (s *FrameSource) Push(frame *media.Frame) bool {
	for i := 0; i < s.count; i++ {
		if !s.sinks[i].Push(frame) {
			return false
		}
	}
	return true
}

// PushSession notifies any sink that implements OptionalSessionPusher. The
// DelayBuffer uses this to replay a Session descriptor through its queue so
// downstream sinks that implement OptionalSessionPusher see it in order
// with buffered frames, matching sc_frame_source_sinks_push_session. Sinks
// that do not implement it are skipped.
func (s *FrameSource) PushSession(session media.Session) bool {
	for i := 0; i < s.count; i++ {
		if opt, ok := s.sinks[i].(OptionalSessionPusher); ok {
			if !opt.PushSession(session) {
				return false
			}
		}
	}
	return true
}
