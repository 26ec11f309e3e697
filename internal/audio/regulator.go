// Package audio implements the AudioRegulator from spec.md §4.4: a
// real-time resampling rate-matcher that sits between the decoder
// thread (push) and the platform audio callback (pull), absorbing the
// drift between the device's actual sample-production rate and the
// local playback device's consumption rate through resampler
// compensation. Decoded samples are dropped only when the ring overflows
// or exceeds its buffering cap; underflow is padded with silence. Grounded on scrcpy's audio_regulator.c, using
// go-astiav's software resample context for conversion and
// compensation, the same pairing demonstrated alongside hajimehoshi/oto
// in the reference capture-and-record client this pack includes.
package audio

import (
	"log/slog"
	"sync"
	"sync/atomic"

	astiav "github.com/asticode/go-astiav"

	"github.com/zsiec/mirror/internal/audiobuf"
	"github.com/zsiec/mirror/internal/average"
	"github.com/zsiec/mirror/internal/media"
)

// avgRange is the rolling-average window over buffered sample-frame
// level, per spec.md §3/§4.4.
const avgRange = 128

// compensation hysteresis and clamp constants, in milliseconds/seconds
// of buffered audio, per spec.md §4.4.
const (
	enableThresholdMS  = 4
	disableThresholdMS = 1
	compensationSecs   = 4
	maxCompensationPct = 0.02
)

// Regulator is the AudioRegulator. Push is called from the decoder
// thread; Pull (or Read, its io.Reader adapter for an oto.Player) is
// called from the platform's realtime audio thread. Pull holds mu for its
// whole body; Push writes to the ring without mu first, then takes mu for
// the drop-old-samples path, the buffering cap and the compensation
// update.
type Regulator struct {
	sampleRate int
	channels   int
	sampleSize int // bytes per sample-frame = channels * bytesPerSample

	bytesPerSample     int
	targetBufferingMS  uint32
	capacityMS         uint32
	targetBuffering    uint32 // samples, derived from targetBufferingMS once sampleRate is known

	mu        sync.Mutex
	buf       *audiobuf.Buffer
	resampler *astiav.SoftwareResampleContext
	scratch   []byte

	avg                 *average.Average
	samplesSinceResync  int
	compensationActive  bool
	playbackStarted     bool

	received  atomic.Bool
	played    atomic.Bool
	underflow atomic.Uint64

	log *slog.Logger
}

// New returns a Regulator targeting targetBufferingMS milliseconds of
// steady-state latency, at bytesPerSample bytes per PCM sample. capacityMS
// bounds the ring buffer, in milliseconds of audio, and should comfortably
// exceed targetBufferingMS. The sample rate and channel count are not
// known until the decoder reports them, so the ring buffer itself, and
// the millisecond targets converted to sample-frames, are finalised in
// Open, once session carries that information.
func New(bytesPerSample int, targetBufferingMS, capacityMS uint32, log *slog.Logger) *Regulator {
	return &Regulator{
		bytesPerSample:    bytesPerSample,
		targetBufferingMS: targetBufferingMS,
		capacityMS:        capacityMS,
		avg:               average.New(avgRange),
		log:               log,
	}
}

// Open finishes configuring the regulator from the decoder-reported
// sample rate and channel count, allocates the ring buffer sized to
// match, and allocates the resample context.
func (r *Regulator) Open(session media.Session) bool {
	r.sampleRate = session.SampleRate
	r.channels = session.Channels
	r.sampleSize = r.channels * r.bytesPerSample
	r.targetBuffering = r.targetBufferingMS * uint32(r.sampleRate) / 1000
	capacity := r.capacityMS * uint32(r.sampleRate) / 1000
	r.buf = audiobuf.New(r.sampleSize, capacity)

	r.resampler = astiav.AllocSoftwareResampleContext()
	if r.resampler == nil {
		if r.log != nil {
			r.log.Error("audio regulator: failed to allocate resample context")
		}
		return false
	}
	return true
}

// Close releases the resample context.
func (r *Regulator) Close() {
	if r.resampler != nil {
		r.resampler.Free()
		r.resampler = nil
	}
}

// Push converts frame's PCM through the resampler and enqueues the
// result, applying the clamp, drop-old-on-overflow, and compensation
// steps of spec.md §4.4's push algorithm.
func (r *Regulator) Push(frame *media.Frame) bool {
	inSamples := len(frame.Data) / r.sampleSize
	if inSamples == 0 {
		return true
	}

	guard := 256
	outCapacitySamples := r.resamplerDelay() + inSamples + guard
	needed := outCapacitySamples * r.sampleSize
	if cap(r.scratch) < needed {
		r.scratch = make([]byte, needed)
	}
	scratch := r.scratch[:needed]

	written, err := r.resampler.Convert(scratch, outCapacitySamples, frame.Data, inSamples)
	if err != nil {
		if r.log != nil {
			r.log.Error("audio regulator: resample failed", "error", err)
		}
		return false
	}

	out := scratch[:written*r.sampleSize]

	if uint32(written) > r.buf.Capacity() {
		// Defensive only — unreachable with a sane target_buffering.
		drop := uint32(written) - r.buf.Capacity()
		out = out[r.buf.ToBytes(drop):]
		written -= int(drop)
	}

	n := r.buf.Write(out, uint32(written))
	skipped := uint32(0)
	if int(n) < written {
		r.mu.Lock()
		remaining := out[r.buf.ToBytes(n):]
		remainingSamples := uint32(written) - n
		if canWrite := r.buf.CanWrite(); remainingSamples > canWrite {
			dropTarget := remainingSamples - canWrite
			r.buf.Read(nil, dropTarget)
			skipped += dropTarget
		}
		r.buf.Write(remaining, remainingSamples)
		r.mu.Unlock()
	}

	r.mu.Lock()
	capSamples := r.playbackCap()
	if over := r.buf.CanRead(); over > capSamples {
		excess := over - capSamples
		r.buf.Read(nil, excess)
		skipped += excess
	}
	r.mu.Unlock()

	r.received.Store(true)

	r.mu.Lock()
	playing := r.playbackStarted
	r.mu.Unlock()
	if playing {
		r.updateCompensation(inSamples, written, skipped)
	}

	return true
}

// playbackCap returns the current buffer cap in sample-frames: looser
// once playback has started, tighter before (spec.md §4.4 step 5).
// Must be called with mu held.
func (r *Regulator) playbackCap() uint32 {
	msToSamples := func(ms float64) uint32 {
		return uint32(ms * float64(r.sampleRate) / 1000)
	}
	if !r.playbackStarted {
		return r.targetBuffering + msToSamples(10)
	}
	return uint32(float64(r.targetBuffering)*1.1) + msToSamples(60)
}

func (r *Regulator) resamplerDelay() int {
	if r.resampler == nil {
		return 0
	}
	return int(r.resampler.Delay(int64(r.sampleRate)))
}

// updateCompensation smooths the buffered-level average and folds in this
// push's instant adjustment on every call (matching scrcpy's
// audio_regulator.c, which updates the average every push), but only
// recomputes and applies the resampler compensation once per sample_rate
// pushed output samples, per spec.md §4.4.
func (r *Regulator) updateCompensation(inSamples, written int, skipped uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	canRead := r.buf.CanRead()
	r.avg.Push(float64(canRead))

	underflow := r.underflow.Swap(0)
	r.avg.Add(float64(written-inSamples) + float64(underflow) - float64(skipped))

	r.samplesSinceResync += written
	if r.samplesSinceResync < r.sampleRate {
		return
	}
	r.samplesSinceResync -= r.sampleRate

	target := float64(r.targetBuffering)
	diff := target - r.avg.Get()

	enableThresh := enableThresholdMS * float64(r.sampleRate) / 1000
	disableThresh := disableThresholdMS * float64(r.sampleRate) / 1000

	if r.compensationActive {
		if absf(diff) < disableThresh {
			diff = 0
			r.compensationActive = false
		}
	} else {
		if absf(diff) < enableThresh {
			diff = 0
		} else {
			r.compensationActive = true
		}
	}

	if diff < 0 && float64(canRead) < target {
		diff = 0
	}

	distance := compensationSecs * r.sampleRate
	maxAbs := maxCompensationPct * float64(distance)
	if diff > maxAbs {
		diff = maxAbs
	} else if diff < -maxAbs {
		diff = -maxAbs
	}

	r.compensationActive = diff != 0

	if r.resampler != nil {
		if err := r.resampler.SetCompensation(int(diff), distance); err != nil && r.log != nil {
			r.log.Warn("audio regulator: compensation update failed", "error", err)
		}
	}
}

// Pull copies up to len(out)/sampleSize sample-frames into out, padding
// the remainder with silence, per spec.md §4.4's pull algorithm. It
// returns the number of sample-frames actually read from the ring
// (excluding silence padding).
func (r *Regulator) Pull(out []byte) (read uint32) {
	samples := uint32(len(out) / r.sampleSize)

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.playbackStarted && r.buf.CanRead() < r.targetBuffering {
		zero(out)
		return 0
	}

	n := r.buf.Read(out, samples)
	if n < samples {
		zero(out[r.buf.ToBytes(n):])
		if r.received.Load() {
			r.underflow.Add(uint64(samples - n))
		}
	}

	r.playbackStarted = true
	r.played.Store(true)
	return n
}

// Read adapts Pull to io.Reader so a Regulator can be handed directly to
// an oto.Player, matching the pull-from-a-realtime-callback model the
// spec describes.
func (r *Regulator) Read(p []byte) (int, error) {
	usable := len(p) - (len(p) % r.sampleSize)
	r.Pull(p[:usable])
	return usable, nil
}

// Stats returns the received/played/underflow counters for diagnostics
// and tests.
func (r *Regulator) Stats() (received, played bool, underflow uint64) {
	return r.received.Load(), r.played.Load(), r.underflow.Load()
}

// Format returns the sample rate and channel count the regulator was
// opened with. Only meaningful once Stats reports received=true.
func (r *Regulator) Format() (sampleRate, channels int) {
	return r.sampleRate, r.channels
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
