package audio

import (
	"testing"

	"github.com/rs/zerolog"
)

type fakeDriver struct {
	started []string
	paused  int
	resumed int
	stopped int
	done    func()
}

func (d *fakeDriver) Start(t Track, done func()) error {
	d.started = append(d.started, t.ID)
	d.done = done
	return nil
}

func (d *fakeDriver) Pause() error  { d.paused++; return nil }
func (d *fakeDriver) Resume() error { d.resumed++; return nil }
func (d *fakeDriver) Stop() error   { d.stopped++; return nil }

func newTestPlayer() (*Player, *fakeDriver) {
	d := &fakeDriver{}
	return NewPlayer(d, zerolog.Nop(), nil), d
}

func TestPlayStartsTrack(t *testing.T) {
	p, d := newTestPlayer()

	p.PlayPause(Track{ID: "s1/1", Data: []byte{1}})
	if !p.IsPlaying() || p.Current() != "s1/1" {
		t.Fatalf("expected s1/1 playing, got playing=%v current=%q", p.IsPlaying(), p.Current())
	}
	if len(d.started) != 1 {
		t.Fatalf("expected one driver start, got %d", len(d.started))
	}
}

func TestPlayPauseTogglesSameTrack(t *testing.T) {
	p, d := newTestPlayer()
	track := Track{ID: "s1/1", Data: []byte{1}}

	p.PlayPause(track)
	p.PlayPause(track)
	if p.IsPlaying() {
		t.Fatalf("expected track paused on second toggle")
	}
	if d.paused != 1 {
		t.Fatalf("expected one pause, got %d", d.paused)
	}

	p.PlayPause(track)
	if !p.IsPlaying() {
		t.Fatalf("expected track resumed on third toggle")
	}
	if d.resumed != 1 {
		t.Fatalf("expected one resume, got %d", d.resumed)
	}
	if len(d.started) != 1 {
		t.Fatalf("pause and resume must not restart the track")
	}
}

func TestNewTrackStopsCurrent(t *testing.T) {
	p, d := newTestPlayer()

	p.PlayPause(Track{ID: "s1/1", Data: []byte{1}})
	p.PlayPause(Track{ID: "s1/3", Data: []byte{2}})

	if d.stopped != 1 {
		t.Fatalf("expected current track stopped once, got %d", d.stopped)
	}
	if p.Current() != "s1/3" || !p.IsPlaying() {
		t.Fatalf("expected s1/3 playing, got %q playing=%v", p.Current(), p.IsPlaying())
	}
	if len(d.started) != 2 {
		t.Fatalf("expected two starts, got %d", len(d.started))
	}
}

func TestFinishedClearsState(t *testing.T) {
	p, d := newTestPlayer()

	p.PlayPause(Track{ID: "s1/1", Data: []byte{1}})
	d.done()

	if p.IsPlaying() || p.Current() != "" {
		t.Fatalf("expected idle player after track finished")
	}
}

func TestFinishedForStaleTrackIsIgnored(t *testing.T) {
	p, d := newTestPlayer()

	p.PlayPause(Track{ID: "s1/1", Data: []byte{1}})
	staleDone := d.done
	p.PlayPause(Track{ID: "s1/3", Data: []byte{2}})

	// First track's completion callback fires after the switch.
	staleDone()
	if p.Current() != "s1/3" || !p.IsPlaying() {
		t.Fatalf("expected s1/3 still playing, got %q", p.Current())
	}
}

func TestStopUnloads(t *testing.T) {
	p, d := newTestPlayer()

	p.Stop() // nothing loaded, no driver call
	if d.stopped != 0 {
		t.Fatalf("expected no driver stop when idle")
	}

	p.PlayPause(Track{ID: "s1/1", Data: []byte{1}})
	p.Stop()
	if p.IsPlaying() || p.Current() != "" {
		t.Fatalf("expected idle player after stop")
	}
	if d.stopped != 1 {
		t.Fatalf("expected one driver stop, got %d", d.stopped)
	}
}

func TestAutoplayStartsTrack(t *testing.T) {
	p, _ := newTestPlayer()

	p.Autoplay("s2/1", []byte{1, 2, 3})
	if p.Current() != "s2/1" || !p.IsPlaying() {
		t.Fatalf("expected autoplayed track current, got %q", p.Current())
	}
}
