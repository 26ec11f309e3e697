package control

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Incoming device-reply tags, per spec.md §6: "One-byte tag followed by a
// message-specific body."
const (
	replyTagClipboardText byte = iota
	replyTagAck
	replyTagUhidOutput
)

// Clipboard is satisfied by the platform clipboard: the Receiver places
// device-sent clipboard text there.
type Clipboard interface {
	SetText(text string) error
}

// UHIDRouter dispatches a UHID output report (e.g. a keyboard LED state
// change) to the virtual device registered under id.
type UHIDRouter interface {
	RouteOutput(id uint16, data []byte) error
}

// Receiver reads framed reply messages from the device on the control
// socket's reverse direction (spec.md §4.6). It is not part of Controller:
// callers construct and run it themselves over the same socket.
type Receiver struct {
	log       *slog.Logger
	r         io.Reader
	clipboard Clipboard
	uhid      UHIDRouter
	acks      *AckSync
}

// NewReceiver creates a Receiver reading from r. clipboard and uhid may be
// nil, in which case matching replies are read and discarded (still
// advancing the stream) rather than causing an error.
func NewReceiver(r io.Reader, acks *AckSync, clipboard Clipboard, uhid UHIDRouter, log *slog.Logger) *Receiver {
	if log == nil {
		log = slog.Default()
	}
	return &Receiver{
		log:       log.With("component", "control-receiver"),
		r:         r,
		clipboard: clipboard,
		uhid:      uhid,
		acks:      acks,
	}
}

// Run reads and dispatches replies until the socket closes or a framing
// error occurs (spec.md §4.6: "Errors (short reads, unknown tag)
// terminate the receiver"). A clean EOF returns nil.
func (c *Receiver) Run() error {
	for {
		ok, err := c.readOne()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			c.log.Error("receiver error", "error", err)
			return err
		}
		if !ok {
			return nil
		}
	}
}

func (c *Receiver) readOne() (bool, error) {
	var tagBuf [1]byte
	if _, err := io.ReadFull(c.r, tagBuf[:]); err != nil {
		return false, err
	}

	switch tagBuf[0] {
	case replyTagClipboardText:
		text, err := c.readLengthPrefixed()
		if err != nil {
			return false, err
		}
		c.log.Debug("clipboard text received", "length", len(text))
		if c.clipboard != nil {
			if err := c.clipboard.SetText(string(text)); err != nil {
				c.log.Warn("clipboard set failed", "error", err)
			}
		}

	case replyTagAck:
		var buf [8]byte
		if _, err := io.ReadFull(c.r, buf[:]); err != nil {
			return false, err
		}
		seq := binary.BigEndian.Uint64(buf[:])
		if c.acks != nil {
			c.acks.Advance(seq)
		}

	case replyTagUhidOutput:
		var idBuf [2]byte
		if _, err := io.ReadFull(c.r, idBuf[:]); err != nil {
			return false, err
		}
		id := binary.BigEndian.Uint16(idBuf[:])
		data, err := c.readLengthPrefixed()
		if err != nil {
			return false, err
		}
		if c.uhid != nil {
			if err := c.uhid.RouteOutput(id, data); err != nil {
				c.log.Warn("uhid route failed", "id", id, "error", err)
			}
		}

	default:
		return false, fmt.Errorf("control: unknown reply tag %d", tagBuf[0])
	}

	return true, nil
}

// readLengthPrefixed reads a 2-byte big-endian length followed by that
// many bytes, matching the clipboard/uhid-output body encoding.
func (c *Receiver) readLengthPrefixed() ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(c.r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	data := make([]byte, n)
	if _, err := io.ReadFull(c.r, data); err != nil {
		return nil, err
	}
	return data, nil
}
