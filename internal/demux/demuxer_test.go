package demux

import (
	"bytes"
	"testing"

	"github.com/zsiec/mirror/internal/media"
)

// fakeSink records every packet pushed to it.
type fakeSink struct {
	opened   bool
	session  media.Session
	pushed   []media.Packet
	disabled bool
	rejectAt int // reject the Nth push (0-based); -1 never rejects
}

func newFakeSink() *fakeSink { return &fakeSink{rejectAt: -1} }

func (f *fakeSink) Open(s media.Session) bool {
	f.opened = true
	f.session = s
	return true
}
func (f *fakeSink) Close() {}
func (f *fakeSink) Push(pkt *media.Packet) bool {
	if f.rejectAt == len(f.pushed) {
		return false
	}
	f.pushed = append(f.pushed, *pkt)
	return true
}
func (f *fakeSink) Disable() { f.disabled = true }

func videoSessionHeader(width, height uint32) []byte {
	var buf bytes.Buffer
	buf.Write(be32(0x1b)) // codec id, arbitrary
	buf.Write(be32(width))
	buf.Write(be32(height))
	return buf.Bytes()
}

func be64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func be32(v uint32) []byte {
	b := make([]byte, 4)
	for i := 3; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

// TestDemuxerBasicFraming is S1 from spec.md §8: a single packet with
// pts=100, len=3 must be delivered unchanged.
func TestDemuxerBasicFraming(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(videoSessionHeader(1080, 1920))
	stream.Write(be64(100))
	stream.Write(be32(3))
	stream.Write([]byte{0xAA, 0xBB, 0xCC})

	s := newFakeSink()
	d := New(&stream, media.Video, nil)
	d.AddSink(s)

	if err := d.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !s.opened {
		t.Fatal("sink was never opened")
	}
	if s.session.Width != 1080 || s.session.Height != 1920 {
		t.Fatalf("session = %+v, want 1080x1920", s.session)
	}
	if len(s.pushed) != 1 {
		t.Fatalf("pushed %d packets, want 1", len(s.pushed))
	}
	got := s.pushed[0]
	if got.PTS != 100 || got.IsConfig || !bytes.Equal(got.Data, []byte{0xAA, 0xBB, 0xCC}) {
		t.Errorf("packet = %+v, want pts=100 data=[AA BB CC]", got)
	}
}

// TestDemuxerConfigCarry is S2: a config packet's bytes are prepended to
// the next data packet, and the config packet is never pushed alone.
func TestDemuxerConfigCarry(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(videoSessionHeader(640, 480))

	// Config packet: flag bit 63 set, pts bits ignored.
	stream.Write(be64(1 << 63))
	stream.Write(be32(2))
	stream.Write([]byte{0x01, 0x02})

	// Data packet.
	stream.Write(be64(100))
	stream.Write(be32(2))
	stream.Write([]byte{0x03, 0x04})

	s := newFakeSink()
	d := New(&stream, media.Video, nil)
	d.AddSink(s)

	if err := d.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(s.pushed) != 1 {
		t.Fatalf("pushed %d packets, want 1", len(s.pushed))
	}
	got := s.pushed[0]
	want := []byte{0x01, 0x02, 0x03, 0x04}
	if !bytes.Equal(got.Data, want) {
		t.Errorf("data = %v, want %v", got.Data, want)
	}
	if got.PTS != 100 {
		t.Errorf("pts = %d, want 100", got.PTS)
	}
}

func TestDemuxerAudioDisabledSignalsDisable(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(be32(0)) // audio codec id 0: disabled

	s := newFakeSink()
	d := New(&stream, media.Audio, nil)
	d.AddSink(s)

	if err := d.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !s.disabled {
		t.Error("sink was not disabled")
	}
	if s.opened {
		t.Error("sink should not be opened for a disabled stream")
	}
}

func TestDemuxerZeroLengthPayloadIsProtocolError(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(videoSessionHeader(1, 1))
	stream.Write(be64(0))
	stream.Write(be32(0))

	s := newFakeSink()
	d := New(&stream, media.Video, nil)
	d.AddSink(s)

	if err := d.Run(); err == nil {
		t.Fatal("expected a protocol error for a zero-length payload")
	}
}

func TestDemuxerSinkRejectionStopsWithoutError(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(videoSessionHeader(1, 1))
	stream.Write(be64(1))
	stream.Write(be32(1))
	stream.Write([]byte{0x01})
	stream.Write(be64(2))
	stream.Write(be32(1))
	stream.Write([]byte{0x02})

	s := newFakeSink()
	s.rejectAt = 0
	d := New(&stream, media.Video, nil)
	d.AddSink(s)

	if err := d.Run(); err != nil {
		t.Fatalf("Run() error = %v, want nil (sink rejection is not an error)", err)
	}
	if len(s.pushed) != 0 {
		t.Errorf("pushed %d packets, want 0", len(s.pushed))
	}
}
