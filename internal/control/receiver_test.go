package control

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"
)

type fakeClipboard struct{ got string }

func (f *fakeClipboard) SetText(text string) error {
	f.got = text
	return nil
}

type fakeUHIDRouter struct {
	id   uint16
	data []byte
}

func (f *fakeUHIDRouter) RouteOutput(id uint16, data []byte) error {
	f.id = id
	f.data = append([]byte(nil), data...)
	return nil
}

func TestReceiverDispatchesClipboardText(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(replyTagClipboardText)
	binary.Write(&buf, binary.BigEndian, uint16(5))
	buf.WriteString("hello")

	clip := &fakeClipboard{}
	r := NewReceiver(&buf, nil, clip, nil, nil)
	if err := r.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if clip.got != "hello" {
		t.Errorf("clipboard got %q, want %q", clip.got, "hello")
	}
}

func TestReceiverAdvancesAckSync(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(replyTagAck)
	binary.Write(&buf, binary.BigEndian, uint64(42))

	acks := NewAckSync()
	r := NewReceiver(&buf, acks, nil, nil, nil)
	if err := r.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if acks.Wait(42, time.Now()) != AckOk {
		t.Error("Ack(42) did not release Wait(42)")
	}
}

func TestReceiverRoutesUhidOutput(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(replyTagUhidOutput)
	binary.Write(&buf, binary.BigEndian, uint16(9))
	binary.Write(&buf, binary.BigEndian, uint16(2))
	buf.Write([]byte{0xAA, 0xBB})

	router := &fakeUHIDRouter{}
	r := NewReceiver(&buf, nil, nil, router, nil)
	if err := r.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if router.id != 9 || !bytes.Equal(router.data, []byte{0xAA, 0xBB}) {
		t.Errorf("router got id=%d data=% x, want id=9 data=aa bb", router.id, router.data)
	}
}

func TestReceiverUnknownTagIsAnError(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0xFF})
	r := NewReceiver(buf, nil, nil, nil, nil)
	if err := r.Run(); err == nil {
		t.Fatal("Run() = nil, want error for unknown tag")
	}
}
