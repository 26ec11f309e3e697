// Package media defines the core unit types that flow through the mirror
// client's streaming pipeline: encoded Packets from the demuxer, decoded
// Frames into the delay buffer and audio regulator, and the Session
// descriptor that announces a stream's codec before any data arrives.
package media

import "github.com/zsiec/mirror/internal/tick"

// Kind identifies whether a stream carries video or audio.
type Kind int

const (
	Video Kind = iota
	Audio
)

func (k Kind) String() string {
	if k == Video {
		return "video"
	}
	return "audio"
}

// Session is the stream descriptor sent once by the device before any
// packet, per the wire framing in spec.md §4.1. It must be delivered to
// every sink before that sink receives its first packet.
type Session struct {
	Kind       Kind
	CodecID    uint32
	Width      int // video only
	Height     int // video only
	Disabled   bool // audio codec id 0: audio disabled at runtime
	SampleRate int  // audio only, filled in by the decoder once its codec context is open
	Channels   int  // audio only, filled in by the decoder once its codec context is open
}

// Packet is an encoded elementary-stream unit produced by the Demuxer.
// A config packet (PTS == tick.None) carries codec extradata and must be
// concatenated with the following data packet by the Demuxer before it is
// ever handed to a sink — see spec.md §4.1 and invariant 3 in §8.
type Packet struct {
	Data       []byte
	PTS        tick.Tick
	DTS        tick.Tick
	IsConfig   bool
	IsKeyFrame bool
	Duration   tick.Tick // filled in by the Recorder retroactively; zero elsewhere
}

// AudioFormat describes a decoded audio frame's PCM layout.
type AudioFormat struct {
	SampleRate int
	Channels   int
	// BytesPerSample is the size of one sample value (e.g. 2 for S16).
	BytesPerSample int
}

// VideoFormat describes a decoded video frame's pixel layout.
type VideoFormat struct {
	PixelFormat string
	Width       int
	Height      int
}

// Frame is a decoded audio or video unit. Exactly one of Audio/Video is
// populated, matching Kind. Frame is a borrowed handle during Push: a sink
// that must retain it past return is responsible for copying or ref'ing the
// backing Data, mirroring the AVFrame ref/unref contract in spec.md §3.
type Frame struct {
	Kind  Kind
	PTS   tick.Tick
	Audio AudioFormat
	Video VideoFormat
	Data  []byte
}
