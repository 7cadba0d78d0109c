// Package status derives the daemon's status text from its inputs and
// reports daemon state to the CLI.
package status

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/msageha/alarmd/internal/model"
)

// DefaultDebounce is how long inputs must stay quiet before a render.
const DefaultDebounce = 500 * time.Millisecond

// Recorder counts emitted renders. A nil Recorder is allowed.
type Recorder interface {
	IncStatusRender()
}

// Aggregator combines the status inputs and emits a rendered text to a
// sink once the inputs have been quiet for the debounce period.
//
// Every input change stamps a new revision and restarts a single timer. A
// timer that fires for an older revision is discarded. Renders pass through
// a one-element latest-value slot to a single emitter goroutine, so the sink
// sees texts in order and is never called concurrently. A text equal to the
// previously emitted one is not emitted again.
type Aggregator struct {
	clock    clockwork.Clock
	debounce time.Duration
	logger   *slog.Logger
	recorder Recorder
	sink     func(string)

	mu       sync.Mutex
	in       Inputs
	rev      uint64
	timer    clockwork.Timer
	closed   bool
	slot     string
	slotFull bool
	last     string
	emitted  bool

	kick     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

type Option func(*Aggregator)

func WithClock(c clockwork.Clock) Option { return func(a *Aggregator) { a.clock = c } }

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option { return func(a *Aggregator) { a.debounce = d } }

func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

func WithRecorder(r Recorder) Option { return func(a *Aggregator) { a.recorder = r } }

func NewAggregator(initial Inputs, sink func(string), opts ...Option) *Aggregator {
	a := &Aggregator{
		clock:    clockwork.NewRealClock(),
		debounce: DefaultDebounce,
		logger:   slog.Default(),
		sink:     sink,
		in:       initial,
		kick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "status")
	return a
}

func (a *Aggregator) SetServiceRunning(running bool) {
	a.update(func(in *Inputs) { in.ServiceRunning = running })
}

func (a *Aggregator) SetSettings(s model.Settings) {
	a.update(func(in *Inputs) { in.Settings = s })
}

func (a *Aggregator) SetRuleSummary(s model.RuleSummary) {
	a.update(func(in *Inputs) { in.Summary = s })
}

func (a *Aggregator) SetClickCount(n int64) {
	a.update(func(in *Inputs) { in.ClickCount = n })
}

func (a *Aggregator) update(fn func(*Inputs)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	next := a.in
	fn(&next)
	if reflect.DeepEqual(next, a.in) {
		return
	}
	a.in = next
	a.scheduleLocked()
}

func (a *Aggregator) scheduleLocked() {
	a.rev++
	rev := a.rev
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = a.clock.AfterFunc(a.debounce, func() { a.fire(rev) })
}

func (a *Aggregator) fire(rev uint64) {
	a.mu.Lock()
	if a.closed || rev != a.rev {
		a.mu.Unlock()
		return
	}
	a.timer = nil
	a.slot = Render(a.in)
	a.slotFull = true
	a.mu.Unlock()

	select {
	case a.kick <- struct{}{}:
	default:
	}
}

// Run renders the initial inputs after one debounce period and then
// delivers renders to the sink until ctx is done or Close is called.
func (a *Aggregator) Run(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.scheduleLocked()
	}
	a.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.stop:
			return nil
		case <-a.kick:
			a.emit()
		}
	}
}

func (a *Aggregator) emit() {
	a.mu.Lock()
	if !a.slotFull {
		a.mu.Unlock()
		return
	}
	text := a.slot
	a.slotFull = false
	if a.emitted && text == a.last {
		a.mu.Unlock()
		return
	}
	a.last, a.emitted = text, true
	a.mu.Unlock()

	a.logger.Debug("status emitted", "text", text)
	if a.recorder != nil {
		a.recorder.IncStatusRender()
	}
	a.sink(text)
}

// Text returns the most recently emitted status text.
func (a *Aggregator) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// Inputs returns a snapshot of the current inputs.
func (a *Aggregator) Inputs() Inputs {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.in
}

// Close stops the timer and the emitter. Pending renders are dropped.
func (a *Aggregator) Close() {
	a.mu.Lock()
	a.closed = true
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.mu.Unlock()
	a.stopOnce.Do(func() { close(a.stop) })
}
