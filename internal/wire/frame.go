// Package wire implements the binary framing of the packet stream sockets
// (spec.md §4.1): a 12-byte header per packet, and a one-time stream
// descriptor preceding the first packet.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/zsiec/mirror/internal/media"
	"github.com/zsiec/mirror/internal/tick"
)

// HeaderSize is the length in bytes of the per-packet header.
const HeaderSize = 12

const (
	flagConfig    uint64 = 1 << 63
	flagKeyFrame  uint64 = 1 << 62
	ptsMask       uint64 = flagKeyFrame - 1
)

// ReadHeader reads and decodes one 12-byte packet header from r.
//
// Byte layout: an 8-byte big-endian value whose top two bits are the
// config and key-frame flags and whose low 62 bits are the PTS in
// microseconds (meaningless when the config flag is set), followed by a
// 4-byte big-endian payload length, which must be strictly positive.
func ReadHeader(r io.Reader) (pts tick.Tick, keyFrame, isConfig bool, length uint32, err error) {
	var buf [HeaderSize]byte
	if _, err = io.ReadFull(r, buf[:]); err != nil {
		return 0, false, false, 0, err
	}

	ptsFlags := binary.BigEndian.Uint64(buf[0:8])
	length = binary.BigEndian.Uint32(buf[8:12])
	if length == 0 {
		return 0, false, false, 0, fmt.Errorf("wire: zero-length payload")
	}

	isConfig = ptsFlags&flagConfig != 0
	keyFrame = ptsFlags&flagKeyFrame != 0
	if isConfig {
		pts = tick.None
	} else {
		pts = tick.Tick(ptsFlags & ptsMask)
	}

	return pts, keyFrame, isConfig, length, nil
}

// ReadSession reads the one-time stream descriptor that precedes any
// packet on a stream socket: a 4-byte big-endian codec id, followed for
// video streams by two 4-byte big-endian dimensions. kind tells the
// reader whether to expect the trailing width/height.
//
// Audio codec id 0 means audio is disabled at runtime; the caller signals
// this downstream via sink.Disabler instead of treating it as an error.
func ReadSession(r io.Reader, kind media.Kind) (media.Session, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return media.Session{}, err
	}
	codecID := binary.BigEndian.Uint32(buf[:])

	session := media.Session{Kind: kind, CodecID: codecID}

	if kind == media.Audio && codecID == 0 {
		session.Disabled = true
		return session, nil
	}

	if kind == media.Video {
		var dims [8]byte
		if _, err := io.ReadFull(r, dims[:]); err != nil {
			return media.Session{}, err
		}
		session.Width = int(binary.BigEndian.Uint32(dims[0:4]))
		session.Height = int(binary.BigEndian.Uint32(dims[4:8]))
	}

	return session, nil
}

// ReadPayload reads exactly length bytes of packet payload from r.
func ReadPayload(r io.Reader, length uint32) ([]byte, error) {
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}
