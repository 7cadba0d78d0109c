// Package alarm schedules the delayed, cancellable alarm.
//
// The scheduler holds at most one pending trigger. Start always replaces
// it, so a burst of starts sounds once, a fixed delay after the last one.
package alarm

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/msageha/alarmd/internal/notify"
	"github.com/msageha/alarmd/internal/sound"
)

// DefaultDelay is the time between the last Start and the alarm sounding.
const DefaultDelay = 5000 * time.Millisecond

type State int

const (
	Idle State = iota
	Pending
	Sounding
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Sounding:
		return "sounding"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for _, st := range []State{Idle, Pending, Sounding} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown alarm state %q", b)
}

type Transition struct {
	From   State
	To     State
	FireAt time.Time // set when To is Pending
}

type Snapshot struct {
	State  State     `json:"state"`
	FireAt time.Time `json:"fire_at,omitempty"`
	// SoundAvailable is false once resolution failed and the alarm is
	// notification-only.
	SoundAvailable bool `json:"sound_available"`
}

// SoundResolver acquires the alarm sound. It is called at most once.
type SoundResolver interface {
	Resolve() (sound.Player, error)
}

type ResolverFunc func() (sound.Player, error)

func (f ResolverFunc) Resolve() (sound.Player, error) { return f() }

// Notifier shows and clears the alarm notification. It is called with the
// scheduler locked, so the notification always matches the state.
type Notifier interface {
	ShowAlarmPending()
	ShowAlarmSounding()
	Cancel(id int)
}

type Scheduler struct {
	clock        clockwork.Clock
	delay        time.Duration
	logger       *slog.Logger
	resolver     SoundResolver
	notifier     Notifier
	onTransition func(Transition)

	mu       sync.Mutex
	state    State
	gen      uint64
	timer    clockwork.Timer
	fireAt   time.Time
	player   sound.Player
	resolved bool
	soundErr error
	closed   bool
}

type Option func(*Scheduler)

func WithClock(c clockwork.Clock) Option { return func(s *Scheduler) { s.clock = c } }

// WithDelay overrides DefaultDelay.
func WithDelay(d time.Duration) Option { return func(s *Scheduler) { s.delay = d } }

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithNotifier(n Notifier) Option { return func(s *Scheduler) { s.notifier = n } }

// OnTransition registers fn for every state change. fn runs with the
// scheduler locked and must not call back into it.
func OnTransition(fn func(Transition)) Option { return func(s *Scheduler) { s.onTransition = fn } }

func New(resolver SoundResolver, opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:    clockwork.NewRealClock(),
		delay:    DefaultDelay,
		logger:   slog.Default(),
		resolver: resolver,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "alarm")
	return s
}

// Start schedules the alarm delay from now, replacing any pending trigger.
// A sounding alarm is stopped and rewound first.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	from := s.state
	s.stopTimerLocked()
	if from == Sounding {
		s.stopSoundLocked()
	}

	s.gen++
	gen := s.gen
	s.fireAt = s.clock.Now().Add(s.delay)
	s.timer = s.clock.AfterFunc(s.delay, func() { s.fire(gen) })
	s.state = Pending
	if s.notifier != nil {
		s.notifier.ShowAlarmPending()
	}
	s.logger.Info("alarm scheduled", "from", from, "fire_at", s.fireAt)
	s.transitionLocked(from)
}

// Stop cancels a pending trigger or silences a sounding alarm. The alarm
// notification is cleared even when idle; nothing else happens then.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notifier != nil {
		s.notifier.Cancel(notify.AlarmID)
	}
	if s.state == Idle {
		return
	}

	from := s.state
	s.gen++
	s.stopTimerLocked()
	if from == Sounding {
		s.stopSoundLocked()
	}
	s.state = Idle
	s.fireAt = time.Time{}
	s.logger.Info("alarm stopped", "from", from)
	s.transitionLocked(from)
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.gen || s.state != Pending {
		s.logger.Debug("superseded alarm trigger ignored", "gen", gen)
		return
	}

	s.timer = nil
	s.state = Sounding
	if p := s.playerLocked(); p != nil {
		p.Play(true)
	}
	if s.notifier != nil {
		s.notifier.ShowAlarmSounding()
	}
	s.logger.Warn("alarm sounding", "sound", s.player != nil)
	s.transitionLocked(Pending)
}

func (s *Scheduler) playerLocked() sound.Player {
	if s.resolved {
		return s.player
	}
	s.resolved = true
	if s.resolver == nil {
		s.soundErr = sound.ErrResourceUnavailable
		return nil
	}
	p, err := s.resolver.Resolve()
	if err != nil {
		s.soundErr = err
		if errors.Is(err, sound.ErrResourceUnavailable) {
			s.logger.Warn("alarm sound unavailable, notification only", "error", err)
		} else {
			s.logger.Error("alarm sound resolution failed, notification only", "error", err)
		}
		return nil
	}
	s.player = p
	return p
}

func (s *Scheduler) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) stopSoundLocked() {
	if s.player != nil {
		s.player.Stop()
	}
}

func (s *Scheduler) transitionLocked(from State) {
	if s.onTransition != nil {
		s.onTransition(Transition{From: from, To: s.state, FireAt: s.fireAt})
	}
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{State: s.state, SoundAvailable: !s.resolved || s.soundErr == nil}
	if s.state == Pending {
		snap.FireAt = s.fireAt
	}
	return snap
}

// Close cancels any pending trigger and silences the alarm. Later calls to
// Start are ignored.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.gen++
	s.stopTimerLocked()
	s.stopSoundLocked()
	s.state = Idle
}
