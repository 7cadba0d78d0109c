package rules

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"

	"github.com/msageha/alarmd/internal/model"
)

// Recorder counts refresh outcomes. A nil Recorder is allowed.
type Recorder interface {
	IncRulesRefresh(ok bool)
}

// Refresher reloads the rule summary on a gocron job whose period follows
// the update interval setting. Pause means no job.
type Refresher struct {
	dir       string
	onLoad    func(model.RuleSummary)
	logger    *slog.Logger
	recorder  Recorder
	scheduler gocron.Scheduler

	mu       sync.Mutex
	interval model.UpdateInterval
	job      gocron.Job
	last     model.RuleSummary
}

type Option func(*refresherConfig)

type refresherConfig struct {
	logger   *slog.Logger
	recorder Recorder
	clock    clockwork.Clock
}

func WithLogger(l *slog.Logger) Option { return func(c *refresherConfig) { c.logger = l } }

func WithRecorder(r Recorder) Option { return func(c *refresherConfig) { c.recorder = r } }

// WithClock drives the job scheduler from c.
func WithClock(c clockwork.Clock) Option { return func(cfg *refresherConfig) { cfg.clock = c } }

func NewRefresher(dir string, onLoad func(model.RuleSummary), opts ...Option) (*Refresher, error) {
	cfg := refresherConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	var schedOpts []gocron.SchedulerOption
	if cfg.clock != nil {
		schedOpts = append(schedOpts, gocron.WithClock(cfg.clock))
	}
	s, err := gocron.NewScheduler(schedOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gocron scheduler: %w", err)
	}

	return &Refresher{
		dir:       dir,
		onLoad:    onLoad,
		logger:    cfg.logger.With("component", "rules"),
		recorder:  cfg.recorder,
		scheduler: s,
		interval:  model.IntervalPause,
	}, nil
}

func (r *Refresher) Start() {
	r.scheduler.Start()
}

// Reload reads the rules now and hands the summary to onLoad. On partial
// failure the summary of the readable files is still delivered.
func (r *Refresher) Reload() (model.RuleSummary, error) {
	summary, err := LoadSummary(r.dir)
	if r.recorder != nil {
		r.recorder.IncRulesRefresh(err == nil)
	}
	if err != nil {
		r.logger.Warn("some rule files could not be read", "error", err)
	}
	r.mu.Lock()
	r.last = summary
	r.mu.Unlock()

	r.logger.Info("rules loaded", "global_groups", summary.GlobalGroups, "apps", summary.AppSize, "app_groups", summary.AppGroupSize)
	if r.onLoad != nil {
		r.onLoad(summary)
	}
	return summary, err
}

func (r *Refresher) refresh() {
	_, _ = r.Reload()
}

// SetInterval reschedules the refresh job for ms, an update interval in
// milliseconds. Unknown values are treated as pause.
func (r *Refresher) SetInterval(ms int64) error {
	interval := model.UpdateInterval(ms)
	if !model.IsKnownInterval(ms) {
		r.logger.Warn("unknown update interval, refresh paused", "ms", ms)
		interval = model.IntervalPause
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if interval == r.interval && (r.job != nil) == (interval != model.IntervalPause) {
		return nil
	}

	if r.job != nil {
		if err := r.scheduler.RemoveJob(r.job.ID()); err != nil {
			r.logger.Warn("remove refresh job failed", "error", err)
		}
		r.job = nil
	}
	r.interval = interval

	if interval == model.IntervalPause {
		r.logger.Info("rule refresh paused")
		return nil
	}

	job, err := r.scheduler.NewJob(
		gocron.DurationJob(interval.Duration()),
		gocron.NewTask(r.refresh),
		gocron.WithName("rules-refresh"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule rule refresh: %w", err)
	}
	r.job = job
	r.logger.Info("rule refresh scheduled", "interval", interval.String())
	return nil
}

func (r *Refresher) Interval() model.UpdateInterval {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}

// Scheduled reports whether a refresh job is active.
func (r *Refresher) Scheduled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job != nil
}

func (r *Refresher) Summary() model.RuleSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Refresher) Stop() error {
	return r.scheduler.Shutdown()
}
