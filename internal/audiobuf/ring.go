// Package audiobuf implements the single-producer/single-consumer PCM ring
// buffer described in spec.md §3: a fixed-capacity ring of sample-frames
// with atomically published head (writer) and tail (reader) cursors, one
// slot reserved to disambiguate empty from full.
package audiobuf

import "sync/atomic"

// Buffer is a lock-free SPSC ring of PCM sample-frames. Write is safe to
// call only from the single producer goroutine; Read only from the single
// consumer goroutine. The exception is the producer's drop-old-samples
// path (spec.md §4.4 step 4), which also advances the tail by calling
// Read — callers MUST hold their own mutex around that call, since it is
// the one case where more than one goroutine touches the tail cursor.
type Buffer struct {
	data           []byte
	sampleSize     int // bytes per sample-frame
	capacity       uint32
	allocSize      uint32 // capacity + 1, one slot reserved
	head           atomic.Uint32
	tail           atomic.Uint32
}

// New allocates a Buffer holding up to capacity sample-frames of
// sampleSize bytes each.
func New(sampleSize int, capacity uint32) *Buffer {
	allocSize := capacity + 1
	return &Buffer{
		data:       make([]byte, uint64(allocSize)*uint64(sampleSize)),
		sampleSize: sampleSize,
		capacity:   capacity,
		allocSize:  allocSize,
	}
}

// Capacity returns the maximum number of sample-frames the buffer can
// hold at once.
func (b *Buffer) Capacity() uint32 {
	return b.capacity
}

// ToBytes converts a sample-frame count to a byte count.
func (b *Buffer) ToBytes(samples uint32) int {
	return int(samples) * b.sampleSize
}

// CanRead returns the number of sample-frames currently available to
// read, in [0, capacity].
func (b *Buffer) CanRead() uint32 {
	head := b.head.Load()
	tail := b.tail.Load()
	return (head - tail + b.allocSize) % b.allocSize
}

// CanWrite returns the number of sample-frames that can be written
// without overwriting unread data.
func (b *Buffer) CanWrite() uint32 {
	return b.capacity - b.CanRead()
}

// Write copies up to samples sample-frames from data (which must hold at
// least samples*sampleSize bytes) into the ring, stopping early if the
// buffer fills. It returns the number of
// sample-frames actually written and advances the head cursor.
func (b *Buffer) Write(data []byte, samples uint32) uint32 {
	avail := b.CanWrite()
	if samples > avail {
		samples = avail
	}
	if samples == 0 {
		return 0
	}

	head := b.head.Load()
	b.copyIn(head, data, samples)
	b.head.Store((head + samples) % b.allocSize)
	return samples
}

func (b *Buffer) copyIn(head uint32, data []byte, samples uint32) {
	toEnd := b.allocSize - head
	if toEnd >= samples {
		copy(b.data[int(head)*b.sampleSize:], data[:b.ToBytes(samples)])
		return
	}
	copy(b.data[int(head)*b.sampleSize:], data[:b.ToBytes(toEnd)])
	copy(b.data, data[b.ToBytes(toEnd):b.ToBytes(samples)])
}

// Read copies up to samples sample-frames into out (which must be sized
// for samples*sampleSize bytes), or — if out is nil — simply discards
// them, advancing the tail cursor either way. It returns the number of
// sample-frames actually available and consumed.
func (b *Buffer) Read(out []byte, samples uint32) uint32 {
	avail := b.CanRead()
	if samples > avail {
		samples = avail
	}
	if samples == 0 {
		return 0
	}

	tail := b.tail.Load()
	if out != nil {
		b.copyOut(tail, out, samples)
	}
	b.tail.Store((tail + samples) % b.allocSize)
	return samples
}

func (b *Buffer) copyOut(tail uint32, out []byte, samples uint32) {
	toEnd := b.allocSize - tail
	if toEnd >= samples {
		copy(out, b.data[int(tail)*b.sampleSize:int(tail)*b.sampleSize+b.ToBytes(samples)])
		return
	}
	copy(out, b.data[int(tail)*b.sampleSize:])
	copy(out[b.ToBytes(toEnd):], b.data[:b.ToBytes(samples-toEnd)])
}

// Truncate keeps only the newest limit sample-frames, advancing the tail
// past everything older. If the buffer holds limit or fewer frames, it is
// a no-op. The caller must serialize this against concurrent Read calls
// (it is writer-initiated, per spec.md §3).
func (b *Buffer) Truncate(limit uint32) {
	canRead := b.CanRead()
	if canRead <= limit {
		return
	}
	drop := canRead - limit
	tail := b.tail.Load()
	b.tail.Store((tail + drop) % b.allocSize)
}
