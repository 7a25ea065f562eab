package daemon

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strings"
	"time"

	"git.home.luguber.info/inful/modset/internal/errors"
	"git.home.luguber.info/inful/modset/internal/events"
	"git.home.luguber.info/inful/modset/internal/logfields"
	"git.home.luguber.info/inful/modset/internal/metrics"
	"git.home.luguber.info/inful/modset/internal/modname"
	"git.home.luguber.info/inful/modset/internal/queue"
	"git.home.luguber.info/inful/modset/internal/registry"
	"git.home.luguber.info/inful/modset/internal/retry"
	"git.home.luguber.info/inful/modset/internal/scope"
	"git.home.luguber.info/inful/modset/internal/store"
)

// Selector resolves a trigger into the modules to build this cycle.
type Selector interface {
	Select(trigger scope.Trigger) (scope.Scope, error)
}

// NumberReserver hands out synchronized build numbers.
type NumberReserver interface {
	ReserveSet(ctx context.Context) (int, error)
	ReserveModule(ctx context.Context, m *registry.Module) (int, error)
}

// BuildStore persists build outcomes and module counters.
type BuildStore interface {
	RecordBuild(ctx context.Context, rec store.BuildRecord) error
	SaveModuleCounter(ctx context.Context, m modname.ModuleName, n int) error
}

// Coordinator runs one build cycle per queued job: resolve the scope,
// reserve build numbers, invoke the build tool, and record outcomes.
// It is the queue's executor.
type Coordinator struct {
	setName         string
	changedProperty string
	reg             *registry.Registry
	selector        Selector
	numbers         NumberReserver
	store           BuildStore
	runner          Runner
	publisher       events.Publisher
	recorder        metrics.Recorder
	retryPolicy     retry.Policy
}

// NewCoordinator wires a coordinator. publisher and recorder may be the
// Noop implementations but must not be nil.
func NewCoordinator(
	reg *registry.Registry,
	selector Selector,
	numbers NumberReserver,
	buildStore BuildStore,
	runner Runner,
	publisher events.Publisher,
	recorder metrics.Recorder,
	changedProperty string,
) *Coordinator {
	return &Coordinator{
		setName:         reg.SetName(),
		changedProperty: changedProperty,
		reg:             reg,
		selector:        selector,
		numbers:         numbers,
		store:           buildStore,
		runner:          runner,
		publisher:       publisher,
		recorder:        recorder,
		retryPolicy:     retry.DefaultPolicy(),
	}
}

// Execute implements queue.Executor.
func (c *Coordinator) Execute(ctx context.Context, job *queue.BuildJob) error {
	c.recorder.IncTrigger(job.Trigger.Kind())
	defer c.observeRegistry()

	sc, err := c.selector.Select(job.Trigger)
	if err != nil {
		return err
	}
	c.recorder.ObserveSelectionSize(len(sc.Modules))

	if sc.Empty() {
		slog.Info("Nothing to build for trigger",
			logfields.ModuleSet(c.setName),
			logfields.Trigger(job.Trigger.Kind()))
		job.Status = queue.BuildStatusSkipped
		return nil
	}

	// Single-module jobs draw from the module's own counter inside
	// runPerModule; only whole-cycle jobs consume a set number. Counter
	// writes hit the store and may fail transiently, hence the retry.
	var setNumber int
	if _, singleModule := job.Trigger.(scope.ModuleTrigger); !singleModule {
		if err := retry.Do(ctx, c.retryPolicy, isTransient, func() error {
			var reserveErr error
			setNumber, reserveErr = c.numbers.ReserveSet(ctx)
			return reserveErr
		}); err != nil {
			return err
		}
	}

	c.publish(events.BuildEvent{
		Type:        events.EventBuildStarted,
		ModuleSet:   c.setName,
		JobID:       job.ID,
		Trigger:     job.Trigger.Kind(),
		BuildNumber: setNumber,
		Modules:     sc.Names(),
	})

	start := time.Now()
	var result scope.Result
	var runErr error
	kind := "module"
	if sc.Aggregate {
		kind = "aggregate"
		result, runErr = c.runAggregate(ctx, setNumber, sc)
	} else {
		result, runErr = c.runPerModule(ctx, sc)
	}
	duration := time.Since(start)

	c.recorder.ObserveBuildDuration(kind, duration)
	c.recorder.IncBuildOutcome(string(result))

	if setNumber > 0 {
		if err := c.store.RecordBuild(ctx, store.BuildRecord{
			BuildNumber: setNumber,
			Result:      result,
			StartedAt:   start,
			Duration:    duration,
		}); err != nil {
			slog.Error("Failed to record set build", logfields.Error(err))
		}
	}

	c.publish(events.BuildEvent{
		Type:        events.EventBuildCompleted,
		ModuleSet:   c.setName,
		JobID:       job.ID,
		Trigger:     job.Trigger.Kind(),
		BuildNumber: setNumber,
		Modules:     sc.Names(),
		Result:      result,
		Duration:    duration,
	})

	slog.Info("Build cycle finished",
		logfields.ModuleSet(c.setName),
		logfields.BuildNumber(setNumber),
		logfields.JobStatus(string(result)),
		logfields.DurationMS(float64(duration.Milliseconds())))

	if runErr != nil {
		return runErr
	}
	if result == scope.ResultFailure {
		return errors.New(errors.CategoryRuntime, errors.SeverityError, "build cycle finished with failures")
	}
	return nil
}

// runAggregate builds the whole selection as one invocation carrying the
// set-level build number.
func (c *Coordinator) runAggregate(ctx context.Context, setNumber int, sc scope.Scope) (scope.Result, error) {
	return c.runner.Run(ctx, Invocation{BuildNumber: setNumber, Properties: c.cycleProperties(sc)})
}

// runPerModule builds each selected module in dependency order with its
// own reserved number. A failing module does not stop the cycle; later
// modules get their chance and the worst result wins.
func (c *Coordinator) runPerModule(ctx context.Context, sc scope.Scope) (scope.Result, error) {
	props := c.cycleProperties(sc)
	worst := scope.ResultSuccess

	for _, m := range sc.Modules {
		var number int
		err := retry.Do(ctx, c.retryPolicy, isTransient, func() error {
			var reserveErr error
			number, reserveErr = c.numbers.ReserveModule(ctx, m)
			return reserveErr
		})
		if err != nil {
			return worse(worst, scope.ResultFailure), err
		}
		if err := c.store.SaveModuleCounter(ctx, m.Name(), m.NextBuildNumber()); err != nil {
			slog.Warn("Failed to persist module counter",
				logfields.Module(m.Name().String()),
				logfields.Error(err))
		}

		moduleStart := time.Now()
		result, runErr := c.runner.Run(ctx, Invocation{Module: m, BuildNumber: number, Properties: props})

		if err := c.store.RecordBuild(ctx, store.BuildRecord{
			Module:      m.Name(),
			BuildNumber: number,
			Result:      result,
			StartedAt:   moduleStart,
			Duration:    time.Since(moduleStart),
		}); err != nil {
			slog.Error("Failed to record module build",
				logfields.Module(m.Name().String()),
				logfields.Error(err))
		}

		worst = worse(worst, result)
		if runErr != nil {
			return worst, runErr
		}
	}
	return worst, nil
}

// cycleProperties exposes the originating change set to the build tool
// via the configured property, comma-separated in canonical form.
func (c *Coordinator) cycleProperties(sc scope.Scope) map[string]string {
	if c.changedProperty == "" || len(sc.Changed) == 0 {
		return nil
	}
	names := make([]string, len(sc.Changed))
	for i, n := range sc.Changed {
		names[i] = n.String()
	}
	return map[string]string{c.changedProperty: strings.Join(names, ",")}
}

func (c *Coordinator) publish(event events.BuildEvent) {
	if err := c.publisher.Publish(event); err != nil {
		slog.Warn("Failed to publish build event",
			slog.String("event", string(event.Type)),
			logfields.Error(err))
	}
}

func (c *Coordinator) observeRegistry() {
	disabled := len(c.reg.ModulesByDisabled(true))
	c.recorder.SetRegisteredModules(c.reg.Len()-disabled, disabled)
}

// severity order for combining per-module results into a cycle result
var resultRank = map[scope.Result]int{
	scope.ResultSuccess:  0,
	scope.ResultNotBuilt: 1,
	scope.ResultUnstable: 2,
	scope.ResultAborted:  3,
	scope.ResultFailure:  4,
}

func worse(a, b scope.Result) scope.Result {
	if resultRank[b] > resultRank[a] {
		return b
	}
	return a
}

// isTransient classifies counter-persistence failures as retryable.
func isTransient(err error) bool {
	var pe *errors.PersistenceError
	return stderrors.As(err, &pe) || errors.IsRetryable(err)
}
