// Package control implements the Controller/Receiver pair and the
// ControlMsg wire format from spec.md §4.6: outgoing input-injection and
// device-control messages serialised in a fixed big-endian binary
// layout, and incoming device replies (clipboard text, acks, UHID
// output reports) demultiplexed on the same socket.
package control

import (
	"encoding/binary"
	"math"
	"unicode/utf8"
)

// tag identifies a ControlMsg variant on the wire: a single byte
// preceding the message body, in the order spec.md §4.6 lists the
// outgoing message taxonomy.
type tag byte

const (
	tagInjectKeycode tag = iota
	tagInjectText
	tagInjectTouchEvent
	tagInjectScrollEvent
	tagBackOrScreenOn
	tagExpandNotificationPanel
	tagExpandSettingsPanel
	tagCollapsePanels
	tagGetClipboard
	tagSetClipboard
	tagSetDisplayPower
	tagRotateDevice
	tagUhidCreate
	tagUhidInput
	tagUhidDestroy
	tagOpenHardKeyboardSettings
	tagStartApp
	tagResetVideo
)

// maxMessageSize bounds every serialised message, per spec.md §4.6's
// writer algorithm ("a stack buffer ≤ 256 KiB guaranteed by
// construction").
const maxMessageSize = 256 * 1024

// textMaxLength is InjectText's UTF-8 payload cap, per spec.md §4.6.
const textMaxLength = 300

// Msg is any outgoing control message. Serialize must never allocate
// more than maxMessageSize bytes; neither Serialize nor Controller.Push
// checks this. InjectText and the UhidCreate/StartApp names are truncated
// and the other fixed-layout variants are small, but SetClipboard text,
// UhidCreate report descriptors and UhidInput data are serialised at
// whatever length the caller supplies.
type Msg interface {
	Serialize() []byte
	// Droppable reports whether the controller may silently discard this
	// message when its outgoing queue is full (spec.md §4.6).
	Droppable() bool
}

func putU32(buf []byte, v uint32) { binary.BigEndian.PutUint32(buf, v) }
func putU16(buf []byte, v uint16) { binary.BigEndian.PutUint16(buf, v) }
func putU64(buf []byte, v uint64) { binary.BigEndian.PutUint64(buf, v) }

// u16fp maps [0,1] to {0,...,0xFFFF}, saturating outside the range.
func u16fp(v float64) uint16 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 0xFFFF
	}
	return uint16(math.Round(v * 0xFFFF))
}

// i16fp maps [-1,1] to {-0x8000,...,0x7FFF}, saturating outside the
// range. Positive and negative sides scale by different magnitudes
// (0x7FFF vs 0x8000) so that i16fp(1) and i16fp(-1) land exactly on the
// int16 extremes.
func i16fp(v float64) int16 {
	if v >= 1 {
		return 0x7FFF
	}
	if v <= -1 {
		return -0x8000
	}
	if v >= 0 {
		return int16(math.Round(v * 0x7FFF))
	}
	return int16(math.Round(v * 0x8000))
}

// truncateUTF8 returns the longest prefix of s that is both valid UTF-8
// and at most maxBytes long, never splitting a multi-byte rune.
func truncateUTF8(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	b := s[:maxBytes]
	for len(b) > 0 && !utf8.RuneStart(s[len(b)]) {
		b = b[:len(b)-1]
	}
	return b
}

// --- InjectKeycode ---

// KeyAction is the action field of InjectKeycode/InjectTouchEvent.
type KeyAction byte

const (
	KeyActionDown KeyAction = 0
	KeyActionUp   KeyAction = 1
)

type InjectKeycode struct {
	Action     KeyAction
	Keycode    uint32
	Repeat     uint32
	Metastate  uint32
}

func (m InjectKeycode) Serialize() []byte {
	buf := make([]byte, 14)
	buf[0] = byte(tagInjectKeycode)
	buf[1] = byte(m.Action)
	putU32(buf[2:6], m.Keycode)
	putU32(buf[6:10], m.Repeat)
	putU32(buf[10:14], m.Metastate)
	return buf
}
func (m InjectKeycode) Droppable() bool { return false }

// --- InjectText ---

type InjectText struct {
	Text string
}

func (m InjectText) Serialize() []byte {
	text := truncateUTF8(m.Text, textMaxLength)
	buf := make([]byte, 5+len(text))
	buf[0] = byte(tagInjectText)
	putU32(buf[1:5], uint32(len(text)))
	copy(buf[5:], text)
	return buf
}
func (m InjectText) Droppable() bool { return false }

// --- InjectTouchEvent ---

type InjectTouchEvent struct {
	Action       KeyAction
	PointerID    uint64
	X, Y         int32
	ScreenW      uint16
	ScreenH      uint16
	Pressure     float64 // [0,1], encoded as u16fp
	ActionButton uint32
	Buttons      uint32
}

func (m InjectTouchEvent) Serialize() []byte {
	buf := make([]byte, 32)
	buf[0] = byte(tagInjectTouchEvent)
	buf[1] = byte(m.Action)
	putU64(buf[2:10], m.PointerID)
	putU32(buf[10:14], uint32(m.X))
	putU32(buf[14:18], uint32(m.Y))
	putU16(buf[18:20], m.ScreenW)
	putU16(buf[20:22], m.ScreenH)
	putU16(buf[22:24], u16fp(m.Pressure))
	putU32(buf[24:28], m.ActionButton)
	putU32(buf[28:32], m.Buttons)
	return buf
}

// Droppable reports true for pure-motion events (neither button nor
// pointer transition) so continuous touch-move streams can be
// discarded under back-pressure; down/up edges are never dropped.
func (m InjectTouchEvent) Droppable() bool {
	return m.Action != KeyActionDown && m.Action != KeyActionUp
}

// --- InjectScrollEvent ---

type InjectScrollEvent struct {
	X, Y     int32
	ScreenW  uint16
	ScreenH  uint16
	HScroll  float64 // [-1,1], encoded as i16fp
	VScroll  float64 // [-1,1], encoded as i16fp
	Buttons  uint32
}

func (m InjectScrollEvent) Serialize() []byte {
	buf := make([]byte, 21)
	buf[0] = byte(tagInjectScrollEvent)
	putU32(buf[1:5], uint32(m.X))
	putU32(buf[5:9], uint32(m.Y))
	putU16(buf[9:11], m.ScreenW)
	putU16(buf[11:13], m.ScreenH)
	putU16(buf[13:15], uint16(i16fp(m.HScroll)))
	putU16(buf[15:17], uint16(i16fp(m.VScroll)))
	putU32(buf[17:21], m.Buttons)
	return buf
}
func (m InjectScrollEvent) Droppable() bool { return true }

// --- simple / tag-only messages ---

type BackOrScreenOn struct{ Action KeyAction }

func (m BackOrScreenOn) Serialize() []byte { return []byte{byte(tagBackOrScreenOn), byte(m.Action)} }
func (m BackOrScreenOn) Droppable() bool   { return false }

type ExpandNotificationPanel struct{}

func (ExpandNotificationPanel) Serialize() []byte { return []byte{byte(tagExpandNotificationPanel)} }
func (ExpandNotificationPanel) Droppable() bool   { return false }

type ExpandSettingsPanel struct{}

func (ExpandSettingsPanel) Serialize() []byte { return []byte{byte(tagExpandSettingsPanel)} }
func (ExpandSettingsPanel) Droppable() bool   { return false }

type CollapsePanels struct{}

func (CollapsePanels) Serialize() []byte { return []byte{byte(tagCollapsePanels)} }
func (CollapsePanels) Droppable() bool   { return false }

type GetClipboard struct{ CopyKey byte }

func (m GetClipboard) Serialize() []byte { return []byte{byte(tagGetClipboard), m.CopyKey} }
func (m GetClipboard) Droppable() bool   { return false }

type OpenHardKeyboardSettings struct{}

func (OpenHardKeyboardSettings) Serialize() []byte { return []byte{byte(tagOpenHardKeyboardSettings)} }
func (OpenHardKeyboardSettings) Droppable() bool   { return false }

type ResetVideo struct{}

func (ResetVideo) Serialize() []byte { return []byte{byte(tagResetVideo)} }
func (ResetVideo) Droppable() bool   { return false }

type RotateDevice struct{}

func (RotateDevice) Serialize() []byte { return []byte{byte(tagRotateDevice)} }
func (RotateDevice) Droppable() bool   { return false }

// --- SetClipboard ---

// SetClipboard carries a monotonically increasing Sequence used to
// correlate with a later Ack, so a paste can be ordered against the
// device-side clipboard update it depends on (spec.md §4.6 AckSync).
type SetClipboard struct {
	Sequence uint64
	Paste    bool
	Text     string
}

func (m SetClipboard) Serialize() []byte {
	buf := make([]byte, 14+len(m.Text))
	buf[0] = byte(tagSetClipboard)
	putU64(buf[1:9], m.Sequence)
	if m.Paste {
		buf[9] = 1
	}
	putU32(buf[10:14], uint32(len(m.Text)))
	copy(buf[14:], m.Text)
	return buf
}
func (m SetClipboard) Droppable() bool { return false }

// --- SetDisplayPower ---

type SetDisplayPower struct{ On bool }

func (m SetDisplayPower) Serialize() []byte {
	on := byte(0)
	if m.On {
		on = 1
	}
	return []byte{byte(tagSetDisplayPower), on}
}
func (m SetDisplayPower) Droppable() bool { return false }

// --- UHID ---

type UhidCreate struct {
	ID         uint16
	VendorID   uint16
	ProductID  uint16
	Name       string // truncated to 255 bytes (name_len is 1 byte)
	ReportDesc []byte
}

func (m UhidCreate) Serialize() []byte {
	name := truncateUTF8(m.Name, 255)
	buf := make([]byte, 10+len(name)+len(m.ReportDesc))
	buf[0] = byte(tagUhidCreate)
	putU16(buf[1:3], m.ID)
	putU16(buf[3:5], m.VendorID)
	putU16(buf[5:7], m.ProductID)
	buf[7] = byte(len(name))
	copy(buf[8:8+len(name)], name)
	off := 8 + len(name)
	putU16(buf[off:off+2], uint16(len(m.ReportDesc)))
	copy(buf[off+2:], m.ReportDesc)
	return buf
}
func (m UhidCreate) Droppable() bool { return false }

type UhidInput struct {
	ID   uint16
	Data []byte
}

func (m UhidInput) Serialize() []byte {
	buf := make([]byte, 5+len(m.Data))
	buf[0] = byte(tagUhidInput)
	putU16(buf[1:3], m.ID)
	putU16(buf[3:5], uint16(len(m.Data)))
	copy(buf[5:], m.Data)
	return buf
}
func (m UhidInput) Droppable() bool { return false }

type UhidDestroy struct{ ID uint16 }

func (m UhidDestroy) Serialize() []byte {
	buf := make([]byte, 3)
	buf[0] = byte(tagUhidDestroy)
	putU16(buf[1:3], m.ID)
	return buf
}
func (m UhidDestroy) Droppable() bool { return false }

// --- StartApp ---

type StartApp struct{ Name string }

func (m StartApp) Serialize() []byte {
	name := truncateUTF8(m.Name, 255)
	buf := make([]byte, 2+len(name))
	buf[0] = byte(tagStartApp)
	buf[1] = byte(len(name))
	copy(buf[2:], name)
	return buf
}
func (m StartApp) Droppable() bool { return false }
