// Package decode wraps go-astiav's decoder API (the same SendPacket /
// ReceiveFrame loop this pack's reference capture client uses) to turn
// Demuxer packets into the decoded media.Frame units the DelayBuffer and
// AudioRegulator consume. The spec's streaming-core modules describe
// decoding only as "the decoder's receive loop" thread (spec.md §5); this
// package is the concrete implementation that loop runs.
package decode

import (
	astiav "github.com/asticode/go-astiav"

	"github.com/zsiec/mirror/internal/media"
	"github.com/zsiec/mirror/internal/sink"
	"github.com/zsiec/mirror/internal/tick"
)

// Decoder adapts a PacketSink to a downstream FrameSink: pushed packets
// are decoded and the resulting frames are forwarded. The underlying
// codec context is opened lazily in Open, once the stream's Session
// (and therefore its codec id) is known.
type Decoder struct {
	kind     media.Kind
	ctx      *astiav.CodecContext
	frame    *astiav.Frame
	avPacket *astiav.Packet
	out      sink.FrameSource
}

// NewVideo returns a Decoder for the video stream (H.264/H.265/AV1).
func NewVideo() *Decoder { return &Decoder{kind: media.Video} }

// NewAudio returns a Decoder for the audio stream (Opus/AAC/FLAC/PCM).
func NewAudio() *Decoder { return &Decoder{kind: media.Audio} }

// AddSink registers a frame sink fed by this decoder's output. Must be
// called before Open.
func (d *Decoder) AddSink(s sink.FrameSink) { d.out.AddSink(s) }

// Open resolves session's codec id to a decoder, opens the codec context,
// and opens every registered frame sink. Returning false aborts this
// stream's start-up, per the PacketSink contract.
func (d *Decoder) Open(session media.Session) bool {
	codec := astiav.FindDecoder(astiav.CodecID(session.CodecID))
	if codec == nil {
		return false
	}
	ctx := astiav.AllocCodecContext(codec)
	if ctx == nil {
		return false
	}
	if d.kind == media.Video {
		ctx.SetWidth(session.Width)
		ctx.SetHeight(session.Height)
	}
	if err := ctx.Open(codec, nil); err != nil {
		ctx.Free()
		return false
	}

	d.ctx = ctx
	d.frame = astiav.AllocFrame()
	d.avPacket = astiav.AllocPacket()

	if d.kind == media.Audio {
		session.SampleRate = ctx.SampleRate()
		session.Channels = ctx.ChannelLayout().Channels()
	}

	return d.out.Open(session)
}

// Close releases the decoder and closes every registered sink.
func (d *Decoder) Close() {
	d.out.Close()
	if d.avPacket != nil {
		d.avPacket.Free()
	}
	if d.frame != nil {
		d.frame.Unref()
	}
	if d.ctx != nil {
		d.ctx.Free()
	}
}

// Push decodes one encoded packet, forwarding every resulting frame to the
// registered sinks. It mirrors this pack's reference decode loop: feed
// SendPacket, drain with ReceiveFrame until it returns an error. A
// SendPacket error is treated as non-fatal per spec.md §7's "Codec" error
// class: the packet is skipped without logging and Push still returns
// true so the pipeline continues.
func (d *Decoder) Push(pkt *media.Packet) bool {
	d.avPacket.SetData(pkt.Data)
	d.avPacket.SetPts(int64(pkt.PTS))
	d.avPacket.SetDts(int64(pkt.DTS))

	if err := d.ctx.SendPacket(d.avPacket); err != nil {
		return true
	}

	for {
		if err := d.ctx.ReceiveFrame(d.frame); err != nil {
			break
		}
		out := d.frameOf(d.frame)
		d.frame.Unref()
		if !d.out.Push(out) {
			return false
		}
	}
	return true
}

func (d *Decoder) frameOf(f *astiav.Frame) *media.Frame {
	out := &media.Frame{
		Kind: d.kind,
		PTS:  tick.Tick(f.Pts()),
		Data: append([]byte(nil), f.Data(0)...),
	}
	if d.kind == media.Video {
		out.Video = media.VideoFormat{Width: f.Width(), Height: f.Height()}
	} else {
		out.Audio = media.AudioFormat{SampleRate: f.SampleRate(), Channels: f.ChannelLayout().Channels(), BytesPerSample: 2}
	}
	return out
}
