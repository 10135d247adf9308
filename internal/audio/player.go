// Package audio enforces the app-wide playback invariant: at most one track
// is playing at any moment. Consumers never talk to a playback backend
// directly; they hand tracks to the Player and read its state for play/pause
// indicators.
package audio

import (
	"sync"

	"github.com/rs/zerolog"

	"agrobot/internal/metrics"
)

// Track is a playable audio resource, identified by an opaque id that is
// stable for the same message.
type Track struct {
	ID   string
	Data []byte // MP3 bytes
}

// Driver performs the actual playback. Start is called at the beginning of a
// track; done must be invoked once when the track finishes on its own.
type Driver interface {
	Start(t Track, done func()) error
	Pause() error
	Resume() error
	Stop() error
}

type Player struct {
	mu      sync.Mutex
	driver  Driver
	current string
	playing bool

	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func NewPlayer(driver Driver, logger zerolog.Logger, m *metrics.Metrics) *Player {
	if m == nil {
		m = metrics.Global()
	}
	return &Player{driver: driver, logger: logger, metrics: m}
}

// PlayPause toggles the given track: pause it when it is the playing current
// track, resume it when it is the paused current track, and otherwise stop
// whatever is loaded and start this track from the beginning.
func (p *Player) PlayPause(t Track) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t.ID == p.current {
		if p.playing {
			if err := p.driver.Pause(); err != nil {
				p.logger.Warn().Err(err).Str("track", t.ID).Msg("pause failed")
				return
			}
			p.playing = false
			return
		}
		if err := p.driver.Resume(); err != nil {
			p.logger.Warn().Err(err).Str("track", t.ID).Msg("resume failed")
			return
		}
		p.playing = true
		return
	}

	if p.current != "" {
		if err := p.driver.Stop(); err != nil {
			p.logger.Warn().Err(err).Str("track", p.current).Msg("stop failed")
		}
		p.current = ""
		p.playing = false
	}

	id := t.ID
	if err := p.driver.Start(t, func() { p.finished(id) }); err != nil {
		p.logger.Warn().Err(err).Str("track", t.ID).Msg("playback start failed")
		return
	}
	p.current = t.ID
	p.playing = true
	p.metrics.AudioPlays.Inc()
}

// Autoplay starts a track unconditionally; used when the autoplay preference
// is on and a new assistant message carries audio.
func (p *Player) Autoplay(trackID string, mp3 []byte) {
	p.PlayPause(Track{ID: trackID, Data: mp3})
}

// Stop unloads whatever is current.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == "" {
		return
	}
	if err := p.driver.Stop(); err != nil {
		p.logger.Warn().Err(err).Str("track", p.current).Msg("stop failed")
	}
	p.current = ""
	p.playing = false
}

func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Current returns the id of the loaded track, empty when nothing is loaded.
func (p *Player) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *Player) finished(trackID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != trackID {
		return
	}
	p.current = ""
	p.playing = false
}
