package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/modset/internal/changeset"
	"git.home.luguber.info/inful/modset/internal/config"
	"git.home.luguber.info/inful/modset/internal/daemon"
	"git.home.luguber.info/inful/modset/internal/discovery"
	"git.home.luguber.info/inful/modset/internal/modname"
	"git.home.luguber.info/inful/modset/internal/registry"
	"git.home.luguber.info/inful/modset/internal/scope"
	"git.home.luguber.info/inful/modset/internal/store"
	"git.home.luguber.info/inful/modset/internal/version"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"modset.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`

	Discover struct{} `cmd:"" help:"Scan the workspace and list discovered modules"`

	Plan struct {
		Module string `short:"m" help:"Plan a single module build (org:name)"`
		Since  string `help:"Plan an incremental build from this revision"`
	} `cmd:"" help:"Show which modules the next build would select, in order"`

	Status struct{} `cmd:"" help:"Show the module set's counters and module state"`

	History struct {
		Limit int `short:"n" help:"Number of builds to show" default:"20"`
	} `cmd:"" help:"Show recent builds"`

	Daemon struct{} `cmd:"" help:"Run the build coordinator"`

	Version struct{} `cmd:"" help:"Print version information"`
}

func main() {
	kctx := kong.Parse(&CLI)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	if err := run(kctx.Command()); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func run(command string) error {
	switch command {
	case "init":
		return config.Init(CLI.Config, CLI.Init.Force)
	case "discover":
		return runDiscover()
	case "plan":
		return runPlan()
	case "status":
		return runStatus()
	case "history":
		return runHistory()
	case "daemon":
		return runDaemon()
	case "version":
		fmt.Println(version.String())
		return nil
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// loadRegistry scans the workspace and fills a registry the way the
// daemon does at startup.
func loadRegistry(ctx context.Context, cfg *config.Config) (*registry.Registry, error) {
	reg := registry.New(cfg.ModuleSet.Name)
	scanner := discovery.NewScanner(cfg.ModuleSet.Workspace, cfg.ModuleSet.DescriptorPattern, cfg.ModuleSet.ExcludeDirs)
	modules, err := scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := discovery.Sync(reg, modules); err != nil {
		return nil, err
	}
	return reg, nil
}

func runDiscover() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}
	reg, err := loadRegistry(context.Background(), cfg)
	if err != nil {
		return err
	}

	fmt.Printf("Module set %q: %d modules\n", reg.SetName(), reg.Len())
	for _, m := range reg.Modules() {
		state := ""
		if m.Disabled() {
			state = " (disabled)"
		}
		fmt.Printf("  %-40s %s%s\n", m.Name(), m.Descriptor(), state)
		for _, dep := range m.Dependencies() {
			fmt.Printf("    -> %s\n", dep)
		}
	}
	return nil
}

func runPlan() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}
	ctx := context.Background()
	reg, err := loadRegistry(ctx, cfg)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Store.Path, cfg.ModuleSet.Name)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	selector, err := scope.NewSelector(reg, st, cfg.Strategy(), cfg.ModuleSet.Incremental)
	if err != nil {
		return err
	}
	selector.IgnoreUpstreamChanges(cfg.ModuleSet.IgnoreUpstreamChanges)

	trigger, err := planTrigger(ctx, cfg, reg)
	if err != nil {
		return err
	}

	sc, err := selector.Select(trigger)
	if err != nil {
		return err
	}
	if sc.Empty() {
		fmt.Println("Nothing to build.")
		return nil
	}

	mode := "per-module"
	if sc.Aggregate {
		mode = "aggregate"
	}
	fmt.Printf("Build plan (%s, trigger %s): %d modules\n", mode, trigger.Kind(), len(sc.Modules))
	for i, m := range sc.Modules {
		fmt.Printf("  %2d. %s\n", i+1, m.Name())
	}
	if len(sc.Dependents) > 0 {
		fmt.Printf("Included as dependents of the change set:\n")
		for _, name := range sc.Dependents {
			fmt.Printf("  %s\n", name)
		}
	}
	return nil
}

func planTrigger(ctx context.Context, cfg *config.Config, reg *registry.Registry) (scope.Trigger, error) {
	switch {
	case CLI.Plan.Module != "":
		name, err := modname.Parse(CLI.Plan.Module)
		if err != nil {
			return nil, err
		}
		return scope.ModuleTrigger{Module: name}, nil
	case CLI.Plan.Since != "":
		detector := changeset.NewDetector(cfg.ModuleSet.Workspace)
		head, err := detector.HeadRevision()
		if err != nil {
			return nil, err
		}
		paths, err := detector.ChangedPaths(ctx, CLI.Plan.Since, head)
		if err != nil {
			return nil, err
		}
		changed := changeset.NewMapper(reg.Modules()).ModulesFor(paths)
		return scope.IncrementalTrigger{Changed: changed}, nil
	case cfg.ModuleSet.Incremental:
		return scope.IncrementalTrigger{}, nil
	default:
		return scope.AggregateTrigger{}, nil
	}
}

func runStatus() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}
	ctx := context.Background()
	reg, err := loadRegistry(ctx, cfg)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Store.Path, cfg.ModuleSet.Name)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	setCounter, known, err := st.LoadNextBuildNumber(ctx)
	if err != nil {
		return err
	}
	counters, err := st.LoadModuleCounters(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Module set %q (%s", reg.SetName(), cfg.ModuleSet.Strategy)
	if cfg.ModuleSet.Incremental {
		fmt.Printf(", incremental")
	}
	fmt.Println(")")
	if known {
		fmt.Printf("Next set build number: %d\n", setCounter+1)
	} else {
		fmt.Println("Next set build number: 1 (no builds recorded)")
	}

	for _, m := range reg.Modules() {
		state := "active"
		if m.Disabled() {
			state = "disabled"
		}
		fmt.Printf("  %-40s %-8s next #%-5d last %s\n",
			m.Name(), state, counters[m.Name()]+1, st.LastResult(m.Name()))
	}
	return nil
}

func runHistory() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Store.Path, cfg.ModuleSet.Name)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	records, err := st.RecentBuilds(context.Background(), CLI.History.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No builds recorded.")
		return nil
	}

	for _, rec := range records {
		target := "(set)"
		if !rec.Module.IsZero() {
			target = rec.Module.String()
		}
		fmt.Printf("#%-5d %-40s %-10s %s  %s\n",
			rec.BuildNumber, target, rec.Result,
			rec.StartedAt.Format(time.RFC3339), rec.Duration.Round(time.Millisecond))
	}
	return nil
}

func runDaemon() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := daemon.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}

	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	slog.Info("Coordinator started, waiting for shutdown signal...")
	<-ctx.Done()
	slog.Info("Shutdown signal received, stopping coordinator...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := d.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop daemon: %w", err)
	}

	slog.Info("Coordinator stopped")
	return nil
}
