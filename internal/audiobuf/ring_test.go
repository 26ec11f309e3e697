package audiobuf

import (
	"bytes"
	"testing"
)

func samplesOf(vals ...byte) []byte { return vals }

func TestWriteReadFIFOOrder(t *testing.T) {
	b := New(1, 8)
	n := b.Write(samplesOf(1, 2, 3), 3)
	if n != 3 {
		t.Fatalf("Write returned %d, want 3", n)
	}
	if got := b.CanRead(); got != 3 {
		t.Fatalf("CanRead() = %d, want 3", got)
	}

	out := make([]byte, 3)
	read := b.Read(out, 3)
	if read != 3 {
		t.Fatalf("Read returned %d, want 3", read)
	}
	if !bytes.Equal(out, []byte{1, 2, 3}) {
		t.Errorf("out = %v, want [1 2 3]", out)
	}
}

func TestCapacityNeverExceeded(t *testing.T) {
	b := New(1, 4)
	n := b.Write([]byte{1, 2, 3, 4, 5, 6}, 6)
	if n != 4 {
		t.Fatalf("Write returned %d, want 4 (capped at capacity)", n)
	}
	if got := b.CanRead(); got != 4 {
		t.Errorf("CanRead() = %d, want 4", got)
	}
	if got := b.CanWrite(); got != 0 {
		t.Errorf("CanWrite() = %d, want 0", got)
	}
}

func TestWrapAround(t *testing.T) {
	b := New(1, 4)
	b.Write([]byte{1, 2, 3}, 3)
	out := make([]byte, 2)
	b.Read(out, 2) // consume 1,2; tail now at index 2

	n := b.Write([]byte{4, 5, 6}, 3) // wraps: writes at idx 3, 4, then 0 (allocSize 5)
	if n != 3 {
		t.Fatalf("Write returned %d, want 3", n)
	}
	got := make([]byte, 4)
	r := b.Read(got, 4)
	if r != 4 {
		t.Fatalf("Read returned %d, want 4", r)
	}
	want := []byte{3, 4, 5, 6}
	if !bytes.Equal(got, want) {
		t.Errorf("got = %v, want %v", got, want)
	}
}

// TestTruncateNoOpWhenExact is a boundary test from spec.md §8: truncate(L)
// on a buffer containing exactly L samples does nothing.
func TestTruncateNoOpWhenExact(t *testing.T) {
	b := New(1, 8)
	b.Write([]byte{1, 2, 3}, 3)
	b.Truncate(3)
	if got := b.CanRead(); got != 3 {
		t.Errorf("CanRead() = %d, want 3 (no-op)", got)
	}
}

// TestTruncateAdvancesTailByExcess is the L+k case from spec.md §8.
func TestTruncateAdvancesTailByExcess(t *testing.T) {
	b := New(1, 8)
	b.Write([]byte{1, 2, 3, 4, 5}, 5)
	b.Truncate(3)
	if got := b.CanRead(); got != 3 {
		t.Fatalf("CanRead() = %d, want 3", got)
	}
	out := make([]byte, 3)
	b.Read(out, 3)
	if !bytes.Equal(out, []byte{3, 4, 5}) {
		t.Errorf("out = %v, want [3 4 5] (oldest 2 dropped)", out)
	}
}

func TestReadMoreThanAvailableReturnsAvailable(t *testing.T) {
	b := New(1, 8)
	b.Write([]byte{1, 2}, 2)
	out := make([]byte, 10)
	n := b.Read(out, 10)
	if n != 2 {
		t.Errorf("Read returned %d, want 2", n)
	}
}

func TestReadNilDiscardsWithoutCopy(t *testing.T) {
	b := New(1, 8)
	b.Write([]byte{1, 2, 3}, 3)
	n := b.Read(nil, 2)
	if n != 2 {
		t.Fatalf("Read returned %d, want 2", n)
	}
	if got := b.CanRead(); got != 1 {
		t.Errorf("CanRead() = %d, want 1", got)
	}
}
