// Package sound resolves the alarm sound and plays it through an external
// player command.
package sound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/msageha/alarmd/internal/model"
)

// ErrResourceUnavailable means no playable sound or player was found.
var ErrResourceUnavailable = errors.New("sound: alarm sound unavailable")

// Player is the single process-wide alarm sound.
type Player interface {
	// Play starts playback from the beginning, restarting it if already
	// playing. With loop set, playback repeats until Stop.
	Play(loop bool)
	// Stop halts playback and rewinds. Stopping an idle player is a no-op.
	Stop()
	Playing() bool
}

// Resolver picks the sound file and player executable. The first
// configured file that exists wins, in alarm, notification, ringtone order.
type Resolver struct {
	cfg      model.SoundConfig
	logger   *slog.Logger
	lookPath func(string) (string, error)
	stat     func(string) (os.FileInfo, error)
}

func NewResolver(cfg model.SoundConfig, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		cfg:      cfg,
		logger:   logger.With("component", "sound"),
		lookPath: exec.LookPath,
		stat:     os.Stat,
	}
}

func defaultPlayers(goos string) []string {
	if goos == "darwin" {
		return []string{"afplay"}
	}
	return []string{"paplay", "aplay", "ffplay"}
}

func (r *Resolver) Resolve() (Player, error) {
	file, err := r.file()
	if err != nil {
		return nil, err
	}
	bin, err := r.player()
	if err != nil {
		return nil, err
	}

	args := append([]string(nil), r.cfg.PlayerArgs...)
	if r.cfg.Player == "" && len(args) == 0 && bin.name == "ffplay" {
		args = []string{"-nodisp", "-autoexit", "-loglevel", "quiet"}
	}
	r.logger.Info("alarm sound resolved", "file", file, "player", bin.path)
	return NewCommandPlayer(bin.path, append(args, file), r.logger), nil
}

func (r *Resolver) file() (string, error) {
	for _, f := range []string{r.cfg.Alarm, r.cfg.Notification, r.cfg.Ringtone} {
		if f == "" {
			continue
		}
		if info, err := r.stat(f); err == nil && !info.IsDir() {
			return f, nil
		}
		r.logger.Debug("sound file not usable", "file", f)
	}
	return "", fmt.Errorf("%w: no sound file configured or present", ErrResourceUnavailable)
}

type executable struct {
	name string
	path string
}

func (r *Resolver) player() (executable, error) {
	candidates := defaultPlayers(runtime.GOOS)
	if r.cfg.Player != "" {
		candidates = []string{r.cfg.Player}
	}
	for _, name := range candidates {
		if path, err := r.lookPath(name); err == nil {
			return executable{name: name, path: path}, nil
		}
	}
	return executable{}, fmt.Errorf("%w: no player among %v", ErrResourceUnavailable, candidates)
}

// CommandPlayer runs an external command once per playback and reruns it
// while looping.
type CommandPlayer struct {
	name   string
	args   []string
	logger *slog.Logger
	run    func(ctx context.Context, name string, args ...string) error
	pause  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewCommandPlayer(name string, args []string, logger *slog.Logger) *CommandPlayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandPlayer{
		name:   name,
		args:   args,
		logger: logger,
		run: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		},
		pause: 200 * time.Millisecond,
	}
}

func (p *CommandPlayer) Play(loop bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel, p.done = cancel, done

	go func() {
		defer close(done)
		for {
			err := p.run(ctx, p.name, p.args...)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				p.logger.Warn("sound playback failed", "error", err)
			}
			if !loop {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.pause):
			}
		}
	}()
}

func (p *CommandPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *CommandPlayer) stopLocked() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel, p.done = nil, nil
}

func (p *CommandPlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}
