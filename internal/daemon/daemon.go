// Package daemon runs the alarmd background process: it owns every
// long-lived component, wires them together and serves the UDS API.
package daemon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/msageha/alarmd/internal/alarm"
	"github.com/msageha/alarmd/internal/bus"
	"github.com/msageha/alarmd/internal/events"
	"github.com/msageha/alarmd/internal/inbox"
	"github.com/msageha/alarmd/internal/lock"
	"github.com/msageha/alarmd/internal/metrics"
	"github.com/msageha/alarmd/internal/model"
	"github.com/msageha/alarmd/internal/notify"
	"github.com/msageha/alarmd/internal/rules"
	"github.com/msageha/alarmd/internal/sms"
	"github.com/msageha/alarmd/internal/sound"
	"github.com/msageha/alarmd/internal/status"
	"github.com/msageha/alarmd/internal/store"
	"github.com/msageha/alarmd/internal/uds"
)

const eventBufferSize = 256

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Daemon is the main alarmd process.
type Daemon struct {
	dataDir string
	config  model.Config
	logger  *slog.Logger
	logFile io.Closer

	fileLock *lock.FileLock
	server   *uds.Server

	store      *store.Store
	settings   *store.Value[model.Settings]
	records    *store.Value[model.Records]
	inbox      *inbox.Store
	dropDir    *inbox.DropDir
	center     *notify.Center
	scheduler  *alarm.Scheduler
	aggregator *status.Aggregator
	observer   *sms.Observer
	receiver   *sms.Receiver
	refresher  *rules.Refresher
	dispatcher *Dispatcher
	eventBus   *events.Bus
	audit      *events.AuditLogger
	registry   *prom.Registry
	recorder   *metrics.PrometheusRecorder
	nats       *bus.Bridge
	metricsSrv *metrics.Server

	unsubs []func()

	ctx      context.Context
	cancel   context.CancelFunc
	shutdown sync.Once
	teardown sync.Once
}

// New creates a Daemon logging to <dataDir>/logs/daemon.log.
func New(dataDir string, cfg model.Config) (*Daemon, error) {
	logPath := filepath.Join(dataDir, "logs", "daemon.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}

	d, err := newDaemon(dataDir, cfg, logFile, logFile)
	if err != nil {
		_ = logFile.Close()
		return nil, err
	}
	return d, nil
}

// newDaemon builds every component without taking the lock or starting
// any background work.
func newDaemon(dataDir string, cfg model.Config, w io.Writer, closer io.Closer) (*Daemon, error) {
	cfg.ApplyDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}))
	d := &Daemon{
		dataDir:  dataDir,
		config:   cfg,
		logger:   logger,
		logFile:  closer,
		fileLock: lock.NewFileLock(filepath.Join(dataDir, lock.DaemonLockFile)),
		ctx:      ctx,
		cancel:   cancel,
	}
	if err := d.build(); err != nil {
		cancel()
		d.closeComponents()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) build() error {
	cfg := d.config

	d.registry = prom.NewRegistry()
	d.recorder = metrics.NewPrometheusRecorder(d.registry)
	d.eventBus = events.NewBus(eventBufferSize, d.logger)

	if cfg.Audit.Enabled {
		audit, err := events.NewAuditLogger(filepath.Join(d.dataDir, "logs", "audit.jsonl"), cfg.Audit.MaxSizeMB<<20)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		d.audit = audit
		d.unsubs = append(d.unsubs, audit.Attach(d.eventBus))
	}

	backend, err := d.openBackend()
	if err != nil {
		return err
	}
	d.store = store.New(backend, store.WithLogger(d.logger), store.WithRecorder(d.recorder))
	d.settings = store.OpenSettings(d.store)
	d.records = store.OpenRecords(d.store)

	d.inbox, err = inbox.Open(filepath.Join(d.dataDir, cfg.Inbox.DB))
	if err != nil {
		return fmt.Errorf("open inbox: %w", err)
	}
	d.dropDir = inbox.NewDropDir(
		filepath.Join(d.dataDir, cfg.Inbox.DropDir),
		filepath.Join(d.dataDir, "quarantine"),
		d.inbox, d.logger,
	)

	var sender notify.Sender
	if cfg.Notify.Desktop {
		sender = notify.NewDesktopSender()
	}
	d.center = notify.NewCenter(sender, cfg.Notify.Title, d.logger)

	d.scheduler = alarm.New(sound.NewResolver(cfg.Sound, d.logger),
		alarm.WithLogger(d.logger),
		alarm.WithNotifier(d.center),
		alarm.OnTransition(d.onAlarmTransition),
	)

	matcher := sms.NewMatcher(d.settings)
	d.observer = sms.NewObserver(d.inbox, matcher, d,
		sms.WithObserverLogger(d.logger),
		sms.WithObserverListener(d.onMessage),
	)
	d.receiver = sms.NewReceiver(matcher, d, d.onMessage, d.logger)

	d.dispatcher = NewDispatcher(d.scheduler, d.observer, d.logger)
	d.dispatcher.SetEventBus(d.eventBus)
	d.dispatcher.SetRecorder(d.recorder)

	st := d.settings.Get()
	d.aggregator = status.NewAggregator(status.Inputs{
		ServiceRunning: st.EnableService,
		Settings:       st,
		ClickCount:     d.records.Get().ClickCount,
	}, d.onStatus, status.WithLogger(d.logger), status.WithRecorder(d.recorder))

	d.refresher, err = rules.NewRefresher(filepath.Join(d.dataDir, cfg.Rules.Dir), d.onRules,
		rules.WithLogger(d.logger), rules.WithRecorder(d.recorder))
	if err != nil {
		return err
	}

	d.unsubs = append(d.unsubs,
		d.settings.Subscribe(d.onSettings),
		d.records.Subscribe(func(r model.Records) { d.aggregator.SetClickCount(r.ClickCount) }),
	)

	d.server = uds.NewServer(filepath.Join(d.dataDir, uds.DefaultSocketName))
	d.server.SetLogger(d.logger)
	d.registerHandlers()
	return nil
}

func (d *Daemon) openBackend() (store.Backend, error) {
	dir := filepath.Join(d.dataDir, d.config.Store.Dir)
	switch d.config.Store.Backend {
	case "sqlite":
		b, err := store.OpenSQLiteBackend(filepath.Join(dir, "store.db"))
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		return b, nil
	case "file":
		return store.NewFileBackend(dir, filepath.Join(d.dataDir, "quarantine")), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", d.config.Store.Backend)
	}
}

// Dispatch forwards action to the command dispatcher. The observer, the
// receiver and the NATS bridge raise commands through it.
func (d *Daemon) Dispatch(action model.Action) {
	d.dispatcher.Dispatch(action)
}

// Run starts the daemon and blocks until it has shut down. SIGINT and
// SIGTERM start a graceful shutdown; a second signal exits immediately.
func (d *Daemon) Run() error {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	defer close(done)
	go d.waitSignals(sigCh, done)

	return d.serve()
}

func (d *Daemon) waitSignals(sigCh <-chan os.Signal, done <-chan struct{}) {
	select {
	case sig := <-sigCh:
		d.logger.Info("received signal, initiating graceful shutdown", "signal", sig.String())
		d.Shutdown()
	case <-done:
		return
	}
	select {
	case <-sigCh:
		d.logger.Warn("received second signal, forcing exit")
		os.Exit(1)
	case <-done:
	}
}

// serve runs the daemon until Shutdown is called.
func (d *Daemon) serve() error {
	if err := d.fileLock.TryLock(); err != nil {
		d.closeComponents()
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.logger.Info("daemon starting", "pid", os.Getpid(), "data_dir", d.dataDir)

	if err := d.start(); err != nil {
		d.stop()
		return err
	}

	g, gctx := errgroup.WithContext(d.ctx)
	g.Go(func() error { return d.aggregator.Run(gctx) })
	g.Go(func() error { return d.dropDir.Run(gctx) })
	if d.metricsSrv != nil {
		g.Go(func() error { return d.metricsSrv.Serve(gctx) })
	}
	d.logger.Info("daemon ready")

	errCh := make(chan error, 1)
	go func() { errCh <- g.Wait() }()

	var err error
	select {
	case err = <-errCh:
	case <-d.ctx.Done():
		timeout := time.Duration(d.config.Daemon.ShutdownTimeoutSec) * time.Second
		select {
		case err = <-errCh:
		case <-time.After(timeout):
			d.logger.Warn("shutdown timeout, some loops did not stop", "timeout", timeout)
		}
	}
	if err != nil {
		d.logger.Error("background loop failed", "error", err)
	}
	d.stop()
	return err
}

// start loads the rules and starts every producer.
func (d *Daemon) start() error {
	d.refresher.Start()
	_, _ = d.refresher.Reload()
	if err := d.refresher.SetInterval(d.settings.Get().UpdateSubsInterval); err != nil {
		return err
	}

	bridge, err := bus.Connect(d.config.NATS, d.logger)
	if err != nil {
		return err
	}
	if bridge != nil {
		d.nats = bridge
		if err := bridge.Subscribe(d.receiver, d); err != nil {
			return err
		}
	}

	if d.config.Metrics.Listen != "" {
		srv, err := metrics.Listen(d.config.Metrics.Listen, d.registry, d.logger)
		if err != nil {
			return err
		}
		d.metricsSrv = srv
	}

	if d.config.Daemon.ObserveOnStart {
		d.Dispatch(model.ActionStartObservation)
	}

	if err := d.server.Start(); err != nil {
		return fmt.Errorf("start UDS server: %w", err)
	}
	d.logger.Info("UDS server listening", "socket", filepath.Join(d.dataDir, uds.DefaultSocketName))
	return nil
}

// Shutdown requests a graceful shutdown. It is safe to call more than once.
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.logger.Info("shutdown started")
		d.cancel()
	})
}

// stop halts producers, drains the store and releases the lock.
func (d *Daemon) stop() {
	if d.server != nil {
		_ = d.server.Stop()
	}
	d.closeComponents()
	_ = os.Remove(filepath.Join(d.dataDir, uds.DefaultSocketName))
	_ = d.fileLock.Unlock()
	d.logger.Info("daemon stopped")
	if d.logFile != nil {
		_ = d.logFile.Close()
	}
}

func (d *Daemon) closeComponents() {
	d.teardown.Do(func() {
		d.cancel()
		if d.nats != nil {
			d.nats.Close()
		}
		if d.refresher != nil {
			if err := d.refresher.Stop(); err != nil {
				d.logger.Warn("stop rule refresher", "error", err)
			}
		}
		if d.observer != nil {
			d.observer.Unregister()
		}
		if d.scheduler != nil {
			d.scheduler.Close()
		}
		if d.aggregator != nil {
			d.aggregator.Close()
		}
		for _, unsub := range d.unsubs {
			unsub()
		}
		d.unsubs = nil
		if d.center != nil {
			d.center.Close()
		}
		if d.store != nil {
			if err := d.store.Close(); err != nil {
				d.logger.Warn("close store", "error", err)
			}
		}
		if d.inbox != nil {
			_ = d.inbox.Close()
		}
		if d.eventBus != nil {
			d.eventBus.Close()
		}
		if d.audit != nil {
			_ = d.audit.Close()
		}
	})
}

func (d *Daemon) onSettings(s model.Settings) {
	d.aggregator.SetSettings(s)
	if err := d.refresher.SetInterval(s.UpdateSubsInterval); err != nil {
		d.logger.Warn("reschedule rule refresh", "error", err)
	}
	if !s.EnableStatusService {
		d.center.Cancel(notify.StatusID)
	} else if text := d.aggregator.Text(); text != "" {
		d.center.ShowForeground(text)
	}
}

// onStatus receives every rendered status text.
func (d *Daemon) onStatus(text string) {
	d.eventBus.Publish(events.EventStatusChanged, map[string]any{"text": text})
	if d.settings.Get().EnableStatusService {
		d.center.ShowForeground(text)
	}
}

func (d *Daemon) onRules(summary model.RuleSummary) {
	d.aggregator.SetRuleSummary(summary)
	d.eventBus.Publish(events.EventRulesRefreshed, map[string]any{
		"global_groups":  summary.GlobalGroups,
		"app_size":       summary.AppSize,
		"app_group_size": summary.AppGroupSize,
	})
}

func (d *Daemon) onMessage(path, from string, matched bool) {
	d.recorder.IncMessage(path, matched)
	if matched {
		d.eventBus.Publish(events.EventMessageMatched, map[string]any{"path": path, "from": from})
	}
}

func (d *Daemon) onAlarmTransition(t alarm.Transition) {
	data := map[string]any{"from": t.From.String(), "to": t.To.String()}
	if t.To == alarm.Pending {
		data["fire_at"] = t.FireAt.UTC().Format(time.RFC3339Nano)
	}
	d.eventBus.Publish(events.EventAlarmTransition, data)
	d.recorder.ObserveAlarmTransition(t.To.String(), int(t.To))
}
