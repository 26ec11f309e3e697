// Package audiosink wires an AudioRegulator to the platform audio
// output device via hajimehoshi/oto, matching the combination of
// go-astiav (resampling) and oto (playback) demonstrated together in
// this pack's reference capture-and-record client.
package audiosink

import (
	"fmt"

	"github.com/hajimehoshi/oto/v2"
)

// Puller is satisfied by *audio.Regulator: it is the pull side of the
// AudioRegulator contract (spec.md §4.4), adapted to io.Reader so oto's
// realtime callback can drive it directly.
type Puller interface {
	Read(p []byte) (int, error)
}

// Device owns the oto playback context and player for one audio stream.
type Device struct {
	ctx    *oto.Context
	player oto.Player
}

// Open creates the platform audio output at sampleRate/channels/16-bit
// and starts pulling from src.
func Open(sampleRate, channels int, src Puller) (*Device, error) {
	ctx, ready, err := oto.NewContext(sampleRate, channels, 2 /* bytes per sample, S16 */)
	if err != nil {
		return nil, fmt.Errorf("audiosink: NewContext: %w", err)
	}
	<-ready

	player := ctx.NewPlayer(src)
	player.Play()

	return &Device{ctx: ctx, player: player}, nil
}

// Close stops playback and releases the player. The underlying oto
// context has no explicit close in v2 and is left to the process.
func (d *Device) Close() error {
	return d.player.Close()
}
