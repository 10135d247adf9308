package audio

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
)

// ErrNoPlayer is returned when no supported player binary exists on PATH. It
// is surfaced at the point of use, not at startup.
var ErrNoPlayer = errors.New("no audio player binary found (tried ffplay, mpv)")

// ExecDriver plays MP3 tracks through a local player process. Pause and
// resume map to SIGSTOP/SIGCONT, which keeps the driver independent of any
// particular decoder library.
type ExecDriver struct {
	mu  sync.Mutex
	cmd *exec.Cmd
	tmp string
}

func NewExecDriver() *ExecDriver {
	return &ExecDriver{}
}

func lookupPlayer() (name string, args []string, err error) {
	if p, err := exec.LookPath("ffplay"); err == nil {
		return p, []string{"-nodisp", "-autoexit", "-loglevel", "quiet"}, nil
	}
	if p, err := exec.LookPath("mpv"); err == nil {
		return p, []string{"--no-video", "--really-quiet"}, nil
	}
	return "", nil, ErrNoPlayer
}

func (d *ExecDriver) Start(t Track, done func()) error {
	bin, args, err := lookupPlayer()
	if err != nil {
		return err
	}

	f, err := os.CreateTemp("", "agrobot-*.mp3")
	if err != nil {
		return fmt.Errorf("create temp audio file: %w", err)
	}
	if _, err := f.Write(t.Data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return fmt.Errorf("write temp audio file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("close temp audio file: %w", err)
	}

	cmd := exec.Command(bin, append(args, f.Name())...)
	if err := cmd.Start(); err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("start player: %w", err)
	}

	d.mu.Lock()
	d.cmd = cmd
	d.tmp = f.Name()
	d.mu.Unlock()

	go func() {
		_ = cmd.Wait()
		d.mu.Lock()
		if d.cmd == cmd {
			d.cmd = nil
			os.Remove(d.tmp)
			d.tmp = ""
		}
		d.mu.Unlock()
		done()
	}()

	return nil
}

func (d *ExecDriver) Pause() error {
	return d.signal(syscall.SIGSTOP)
}

func (d *ExecDriver) Resume() error {
	return d.signal(syscall.SIGCONT)
}

func (d *ExecDriver) Stop() error {
	d.mu.Lock()
	cmd := d.cmd
	d.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	// Resume first so a paused process can observe the kill.
	_ = cmd.Process.Signal(syscall.SIGCONT)
	return cmd.Process.Kill()
}

func (d *ExecDriver) signal(sig syscall.Signal) error {
	d.mu.Lock()
	cmd := d.cmd
	d.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return fmt.Errorf("no active player process")
	}
	return cmd.Process.Signal(sig)
}
