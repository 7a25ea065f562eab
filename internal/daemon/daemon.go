// Package daemon wires the coordinator's components into a long-running
// service: discovery keeps the registry current, the scheduler feeds the
// build queue, and the coordinator executes each cycle.
package daemon

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/modset/internal/buildnum"
	"git.home.luguber.info/inful/modset/internal/changeset"
	"git.home.luguber.info/inful/modset/internal/config"
	"git.home.luguber.info/inful/modset/internal/discovery"
	"git.home.luguber.info/inful/modset/internal/events"
	"git.home.luguber.info/inful/modset/internal/logfields"
	"git.home.luguber.info/inful/modset/internal/metrics"
	"git.home.luguber.info/inful/modset/internal/queue"
	"git.home.luguber.info/inful/modset/internal/registry"
	"git.home.luguber.info/inful/modset/internal/scope"
	"git.home.luguber.info/inful/modset/internal/store"
)

// Daemon is the long-running build coordinator for one module set.
type Daemon struct {
	cfg       *config.Config
	reg       *registry.Registry
	store     *store.SQLiteStore
	scanner   *discovery.Scanner
	watcher   *discovery.Watcher
	queue     *queue.Queue
	scheduler *Scheduler
	changes   *ChangeSource
	publisher events.Publisher
	recorder  metrics.Recorder
	metricsrv *http.Server
}

// New assembles a daemon from configuration. It opens the store, runs
// the initial workspace discovery, and seeds counters from persisted
// state so build numbers survive restarts.
func New(ctx context.Context, cfg *config.Config) (*Daemon, error) {
	setName := cfg.ModuleSet.Name
	reg := registry.New(setName)

	st, err := store.Open(cfg.Store.Path, setName)
	if err != nil {
		return nil, err
	}

	scanner := discovery.NewScanner(cfg.ModuleSet.Workspace, cfg.ModuleSet.DescriptorPattern, cfg.ModuleSet.ExcludeDirs)
	modules, err := scanner.Scan(ctx)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	if _, err := discovery.Sync(reg, modules); err != nil {
		_ = st.Close()
		return nil, err
	}

	// Restore counters so numbering continues where the last run stopped.
	if counters, err := st.LoadModuleCounters(ctx); err != nil {
		slog.Warn("Failed to load module counters, starting fresh", logfields.Error(err))
	} else {
		for name, n := range counters {
			if m, ok := reg.Get(name); ok {
				m.SetNextBuildNumber(n)
			}
		}
	}
	initial, _, err := st.LoadNextBuildNumber(ctx)
	if err != nil {
		slog.Warn("Failed to load set counter, starting fresh", logfields.Error(err))
		initial = 0
	}
	numbers := buildnum.New(setName, st, reg, initial)

	selector, err := scope.NewSelector(reg, st, cfg.Strategy(), cfg.ModuleSet.Incremental)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	selector.IgnoreUpstreamChanges(cfg.ModuleSet.IgnoreUpstreamChanges)

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.Events.Enabled {
		publisher, err = events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.Subject)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
	}

	var recorder metrics.Recorder = metrics.NoopRecorder{}
	var metricsrv *http.Server
	if cfg.Metrics.Enabled {
		promReg := prom.NewRegistry()
		recorder = metrics.NewPrometheusRecorder(promReg)
		metricsrv = &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           metrics.HTTPHandler(promReg),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	antCfg := cfg.Ant
	if cfg.ModuleSet.ArchivingDisabled {
		props := make(map[string]string, len(antCfg.Properties)+1)
		for k, v := range antCfg.Properties {
			props[k] = v
		}
		props["archiving.disabled"] = "true"
		antCfg.Properties = props
	}
	runner := NewExecRunner(antCfg, cfg.ModuleSet.Workspace, nil)
	coordinator := NewCoordinator(reg, selector, numbers, st, runner, publisher, recorder, cfg.ModuleSet.ChangedModulesProperty)

	// Steps declaring an exclusive resource forbid concurrent builds.
	constraints := buildConstraints(cfg, reg, recorder)
	q := queue.New(cfg.Daemon.QueueSize, effectiveWorkers(cfg, constraints), coordinator, recorder)

	scheduler, err := NewScheduler(newDedupEnqueuer(q, reg))
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	d := &Daemon{
		cfg:       cfg,
		reg:       reg,
		store:     st,
		scanner:   scanner,
		queue:     q,
		scheduler: scheduler,
		changes:   NewChangeSource(changeset.NewDetector(cfg.ModuleSet.Workspace), reg),
		publisher: publisher,
		recorder:  recorder,
		metricsrv: metricsrv,
	}

	if cfg.Daemon.WatchEnabled {
		d.watcher, err = discovery.NewWatcher(
			cfg.ModuleSet.Workspace,
			cfg.ModuleSet.DescriptorPattern,
			cfg.ModuleSet.ExcludeDirs,
			d.rescan,
		)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
	}

	return d, nil
}

// Start launches the queue, scheduler, watcher, and metrics endpoint.
func (d *Daemon) Start(ctx context.Context) error {
	slog.Info("Starting module set coordinator",
		logfields.ModuleSet(d.reg.SetName()),
		logfields.Count(d.reg.Len()))

	d.queue.Start(ctx)

	if d.cfg.Daemon.Schedule != "" {
		if _, err := d.scheduler.ScheduleCron(d.cfg.Daemon.Schedule, d.scheduledTrigger(ctx), queue.BuildTypeScheduled); err != nil {
			return err
		}
	}
	if d.cfg.Daemon.PollInterval > 0 {
		if _, err := d.scheduler.ScheduleEvery(d.cfg.Daemon.PollInterval, d.scheduledTrigger(ctx), queue.BuildTypeChangeset); err != nil {
			return err
		}
	}
	d.scheduler.Start()

	if d.watcher != nil {
		if err := d.watcher.Start(ctx); err != nil {
			return err
		}
	}

	if d.metricsrv != nil {
		go func() {
			slog.Info("Metrics endpoint listening", slog.String("addr", d.metricsrv.Addr))
			if err := d.metricsrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics endpoint failed", logfields.Error(err))
			}
		}()
	}

	go d.pruneLoop(ctx)

	return nil
}

// pruneLoop keeps the persisted build history bounded to the configured
// per-module limit.
func (d *Daemon) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		if err := d.store.Prune(ctx, d.cfg.Store.HistoryLimit); err != nil {
			slog.Warn("Build history prune failed", logfields.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop shuts components down in dependency order: no new triggers, drain
// the queue, then release external resources.
func (d *Daemon) Stop(ctx context.Context) error {
	slog.Info("Stopping module set coordinator", logfields.ModuleSet(d.reg.SetName()))

	if err := d.scheduler.Stop(); err != nil {
		slog.Error("Scheduler shutdown failed", logfields.Error(err))
	}
	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			slog.Error("Watcher shutdown failed", logfields.Error(err))
		}
	}
	d.queue.Stop(ctx)
	if d.metricsrv != nil {
		if err := d.metricsrv.Shutdown(ctx); err != nil {
			slog.Error("Metrics endpoint shutdown failed", logfields.Error(err))
		}
	}
	if err := d.publisher.Close(); err != nil {
		slog.Error("Event publisher shutdown failed", logfields.Error(err))
	}
	return d.store.Close()
}

// TriggerBuild enqueues a manual build with the given trigger.
func (d *Daemon) TriggerBuild(trigger scope.Trigger) (string, error) {
	job := &queue.BuildJob{
		ID:        uuid.NewString(),
		Type:      queue.BuildTypeManual,
		Trigger:   trigger,
		CreatedAt: time.Now(),
	}
	if err := d.queue.Enqueue(job); err != nil {
		return "", err
	}
	return job.ID, nil
}

// Registry exposes the live module registry (status surfaces, tests).
func (d *Daemon) Registry() *registry.Registry { return d.reg }

// Queue exposes the build queue.
func (d *Daemon) Queue() *queue.Queue { return d.queue }

// scheduledTrigger picks the trigger producer matching the configured
// strategy: incremental sets diff the repository at fire time, aggregate
// sets fire one combined trigger, and non-incremental per-module sets
// fire one trigger per active module.
func (d *Daemon) scheduledTrigger(ctx context.Context) TriggersFunc {
	switch {
	case d.cfg.ModuleSet.Incremental:
		return func() []scope.Trigger { return []scope.Trigger{d.changes.NextTrigger(ctx)} }
	case d.cfg.Strategy() == scope.StrategyPerModule:
		return func() []scope.Trigger {
			active, err := d.reg.ActiveModulesSorted()
			if err != nil {
				slog.Error("Cannot schedule per-module builds", logfields.Error(err))
				return nil
			}
			triggers := make([]scope.Trigger, len(active))
			for i, m := range active {
				triggers[i] = scope.ModuleTrigger{Module: m.Name()}
			}
			return triggers
		}
	default:
		return StaticTriggers(scope.AggregateTrigger{})
	}
}

// rescan is the watcher callback: re-discover descriptors and reconcile
// the registry.
func (d *Daemon) rescan(ctx context.Context) {
	modules, err := d.scanner.Scan(ctx)
	if err != nil {
		slog.Error("Workspace rescan failed", logfields.Error(err))
		return
	}
	if _, err := discovery.Sync(d.reg, modules); err != nil {
		slog.Error("Registry synchronization failed", logfields.Error(err))
	}
}
