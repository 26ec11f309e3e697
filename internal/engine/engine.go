// Package engine wires the mirror client's streaming pipeline together:
// two packet demuxers (video, audio), their decoders, the delay buffers
// that schedule decoded frames (each against its own clock), the audio
// regulator and platform audio sink, an optional recorder, and the
// control channel's Controller/Receiver pair. It plays the role this
// pack's reference client gives its top-level "app" struct: own the
// long-lived components, start one goroutine per concurrent stage, and
// report the first hard failure.
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/mirror/internal/audio"
	"github.com/zsiec/mirror/internal/audiosink"
	"github.com/zsiec/mirror/internal/control"
	"github.com/zsiec/mirror/internal/decode"
	"github.com/zsiec/mirror/internal/delaybuffer"
	"github.com/zsiec/mirror/internal/demux"
	"github.com/zsiec/mirror/internal/media"
	"github.com/zsiec/mirror/internal/recorder"
	"github.com/zsiec/mirror/internal/sink"
	"github.com/zsiec/mirror/internal/tick"
)

// audioTargetBufferingMS and audioRingCapacityMS size the AudioRegulator,
// per spec.md §4.4's steady-state latency target and the fixed ring it
// is drawn from.
const (
	audioTargetBufferingMS = 50
	audioRingCapacityMS    = 500
	audioBytesPerSample    = 2 // S16
)

// Config describes one mirroring session's external connections and
// options. VideoConn and AudioConn are the two framed packet-stream
// sockets of spec.md §4.1; AudioConn may be nil if the device never
// opens an audio stream. ControlConn is the bidirectional control
// socket of spec.md §4.6.
type Config struct {
	VideoConn io.Reader
	AudioConn io.Reader

	ControlConn io.ReadWriter

	Display sink.FrameSink // windowed display consumer; nil disables video display

	RecordFilename string // empty disables recording
	RecordFormat   string
	Orientation    int

	VideoDelay     time.Duration
	AudioDelay     time.Duration
	FirstFrameASAP bool

	Clipboard control.Clipboard
	UHID      control.UHIDRouter

	Log *slog.Logger
}

// Engine owns one mirroring session's components and runs them until the
// context is cancelled or a component fails.
type Engine struct {
	cfg Config
	log *slog.Logger

	rec *recorder.Recorder
	ctl *control.Controller
}

// New constructs an Engine from cfg. It does not start anything; call Run.
func New(cfg Config) *Engine {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Engine{cfg: cfg, log: log}
}

// Run starts every pipeline stage as its own goroutine (spec.md §5's
// one-OS-thread-per-stage model, here one goroutine per stage under an
// errgroup) and blocks until ctx is cancelled or any stage returns a
// non-nil error, at which point it tears every other stage down.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	hasAudio := e.cfg.AudioConn != nil
	if e.cfg.RecordFilename != "" {
		e.rec = recorder.New(e.cfg.RecordFilename, e.cfg.RecordFormat, hasAudio, e.cfg.Orientation,
			func(success bool) {
				if !success {
					e.log.Error("recording ended with failure")
				}
			}, e.log)
	}

	if e.cfg.ControlConn != nil {
		e.ctl = control.New(e.cfg.ControlConn, func(err error) {
			e.log.Error("controller write failed", "error", err)
		}, e.log)
		receiver := control.NewReceiver(e.cfg.ControlConn, e.ctl.Acks, e.cfg.Clipboard, e.cfg.UHID, e.log)
		g.Go(func() error {
			return receiver.Run()
		})
		g.Go(func() error {
			<-ctx.Done()
			e.ctl.Stop()
			return nil
		})
	}

	videoDemux, err := e.buildVideoPipeline()
	if err != nil {
		return fmt.Errorf("engine: build video pipeline: %w", err)
	}
	g.Go(func() error { return videoDemux.Run() })

	if hasAudio {
		audioDemux, err := e.buildAudioPipeline()
		if err != nil {
			return fmt.Errorf("engine: build audio pipeline: %w", err)
		}
		g.Go(func() error { return audioDemux.Run() })
	}

	if e.rec != nil {
		g.Go(func() error {
			<-ctx.Done()
			e.rec.Stop()
			return nil
		})
	}

	return g.Wait()
}

// Controller returns the session's control-message Controller, or nil if
// no control socket was configured.
func (e *Engine) Controller() *control.Controller { return e.ctl }

func (e *Engine) buildVideoPipeline() (*demux.Demuxer, error) {
	dec := decode.NewVideo()

	db := delaybuffer.New(tick.FromDuration(e.cfg.VideoDelay), e.cfg.FirstFrameASAP, e.log)
	if e.cfg.Display != nil {
		db.AddSink(e.cfg.Display)
	}
	dec.AddSink(db)

	d := demux.New(e.cfg.VideoConn, media.Video, e.log)
	if e.rec != nil {
		d.AddSink(e.rec.VideoSink())
	}
	d.AddSink(dec)
	return d, nil
}

func (e *Engine) buildAudioPipeline() (*demux.Demuxer, error) {
	dec := decode.NewAudio()

	reg := audio.New(audioBytesPerSample, audioTargetBufferingMS, audioRingCapacityMS, e.log)

	db := delaybuffer.New(tick.FromDuration(e.cfg.AudioDelay), e.cfg.FirstFrameASAP, e.log)
	db.AddSink(reg)
	dec.AddSink(db)

	d := demux.New(e.cfg.AudioConn, media.Audio, e.log)
	if e.rec != nil {
		d.AddSink(e.rec.AudioSink())
	}
	d.AddSink(dec)

	go e.drivePlayback(reg)

	return d, nil
}

// drivePlayback opens the platform audio output once the regulator has
// received its first frame (and therefore knows its sample rate), per
// spec.md §6's frame-consumer model: the realtime pull callback runs on
// its own platform-owned thread, independent of the decode/demux
// goroutines.
func (e *Engine) drivePlayback(reg *audio.Regulator) {
	for {
		received, _, _ := reg.Stats()
		if received {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	sampleRate, channels := reg.Format()
	if _, err := audiosink.Open(sampleRate, channels, reg); err != nil {
		e.log.Error("audio sink open failed", "error", err)
	}
}
