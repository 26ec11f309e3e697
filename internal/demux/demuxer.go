// Package demux implements the client-side packet demuxer: it reads the
// framed elementary-stream socket described in spec.md §4.1, reassembles
// config packets with the following data packet, and fans the result out
// to a small fixed set of sinks.
package demux

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/zsiec/mirror/internal/media"
	"github.com/zsiec/mirror/internal/sink"
	"github.com/zsiec/mirror/internal/wire"
)

// Demuxer reads one stream socket (video or audio) and pushes decoded
// packets to its configured PacketSinks in declaration order. Each logical
// stream (video, audio) gets its own Demuxer instance over its own socket,
// mirroring scrcpy's sc_demuxer.
type Demuxer struct {
	log    *slog.Logger
	reader io.Reader
	kind   media.Kind
	source sink.PacketSource

	pending *media.Packet // retained config bytes awaiting the next data packet
}

// New creates a Demuxer that reads framed packets of kind from r. Sinks
// must be added with AddSink before calling Run.
func New(r io.Reader, kind media.Kind, log *slog.Logger) *Demuxer {
	if log == nil {
		log = slog.Default()
	}
	return &Demuxer{
		log:    log.With("component", "demux", "kind", kind.String()),
		reader: r,
		kind:   kind,
	}
}

// AddSink registers a packet sink. Must be called before Run.
func (d *Demuxer) AddSink(s sink.PacketSink) {
	d.source.AddSink(s)
}

// Run reads the stream descriptor, opens the sinks, then loops reading and
// forwarding packets until the socket is closed, a sink rejects a packet,
// or the stream is signalled disabled. It always closes sinks (in reverse
// open order) before returning.
//
// Run's error is nil for every clean termination (EOF, sink failure,
// disable) — per spec.md §7, failures propagate upstream only through the
// boolean sink contract, never by "throwing"; Run's error return is used
// for protocol violations (a malformed header) and for read errors other
// than end of stream, and is logged by the caller as a "demuxer error"
// event.
func (d *Demuxer) Run() error {
	session, err := wire.ReadSession(d.reader, d.kind)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("demux: read session: %w", err)
	}

	if session.Disabled {
		d.log.Info("stream disabled by device")
		d.source.Disable()
		return nil
	}

	if !d.source.Open(session) {
		d.log.Error("a sink refused to open")
		return nil
	}
	defer d.source.Close()

	for {
		ok, err := d.readAndPushOne()
		if err != nil {
			d.log.Error("protocol error", "error", err)
			return err
		}
		if !ok {
			return nil
		}
	}
}

// readAndPushOne reads one framed packet and pushes it (or retains it, if
// it is a config packet) to the sinks. It returns ok=false for a clean
// end of stream or a sink rejecting the packet; both are terminal but not
// errors.
func (d *Demuxer) readAndPushOne() (ok bool, err error) {
	pts, keyFrame, isConfig, length, err := wire.ReadHeader(d.reader)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, err
	}

	data, err := wire.ReadPayload(d.reader, length)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, err
	}

	pkt := &media.Packet{
		Data:       data,
		PTS:        pts,
		DTS:        pts,
		IsConfig:   isConfig,
		IsKeyFrame: keyFrame,
	}

	if isConfig {
		d.retain(pkt)
		return true, nil
	}

	if d.pending != nil {
		pkt = d.mergeWithPending(pkt)
	}

	if !d.source.Push(pkt) {
		return false, nil
	}
	return true, nil
}

// retain appends a config packet's bytes to the pending buffer, allocating
// it on first use.
func (d *Demuxer) retain(pkt *media.Packet) {
	if d.pending == nil {
		d.pending = &media.Packet{IsConfig: true}
	}
	d.pending.Data = append(d.pending.Data, pkt.Data...)
}

// mergeWithPending prepends any retained config bytes to pkt and clears
// the pending buffer. Invariant 3 in spec.md §8: a config packet is never
// delivered to a sink on its own.
func (d *Demuxer) mergeWithPending(pkt *media.Packet) *media.Packet {
	merged := &media.Packet{
		Data:       append(d.pending.Data, pkt.Data...),
		PTS:        pkt.PTS,
		DTS:        pkt.DTS,
		IsKeyFrame: pkt.IsKeyFrame,
	}
	d.pending = nil
	return merged
}
