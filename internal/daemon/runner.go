package daemon

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"sort"

	"git.home.luguber.info/inful/modset/internal/config"
	"git.home.luguber.info/inful/modset/internal/logfields"
	"git.home.luguber.info/inful/modset/internal/registry"
	"git.home.luguber.info/inful/modset/internal/scope"
)

// Invocation is one build-tool run: the whole set when Module is nil,
// otherwise a single module built from its descriptor directory.
type Invocation struct {
	Module      *registry.Module
	BuildNumber int
	Properties  map[string]string
}

// Runner executes one build invocation and maps its outcome to a result.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (scope.Result, error)
}

// ExecRunner invokes the configured Ant command as a subprocess.
type ExecRunner struct {
	cfg       config.AntConfig
	workspace string
	output    io.Writer
}

// NewExecRunner creates a runner for the given Ant configuration. output
// receives the build tool's combined stdout and stderr; nil means the
// process's own stdout.
func NewExecRunner(cfg config.AntConfig, workspace string, output io.Writer) *ExecRunner {
	if output == nil {
		output = os.Stdout
	}
	return &ExecRunner{cfg: cfg, workspace: workspace, output: output}
}

// Run executes the build. A non-zero exit is a build failure, not an
// error; errors are reserved for invocations that never ran or were cut
// short by cancellation.
func (r *ExecRunner) Run(ctx context.Context, inv Invocation) (scope.Result, error) {
	dir := r.workspace
	if inv.Module != nil {
		dir = filepath.Join(r.workspace, filepath.FromSlash(path.Dir(inv.Module.Descriptor())))
	}

	args := r.buildArgs(inv)
	cmd := exec.CommandContext(ctx, r.cfg.Command, args...)
	cmd.Dir = dir
	cmd.Stdout = r.output
	cmd.Stderr = r.output
	cmd.Env = os.Environ()
	if r.cfg.Opts != "" {
		cmd.Env = append(cmd.Env, "ANT_OPTS="+r.cfg.Opts)
	}
	cmd.Env = append(cmd.Env, fmt.Sprintf("BUILD_NUMBER=%d", inv.BuildNumber))

	target := "aggregate"
	if inv.Module != nil {
		target = inv.Module.Name().String()
	}
	slog.Info("Running build tool",
		logfields.Module(target),
		logfields.BuildNumber(inv.BuildNumber),
		slog.String("command", r.cfg.Command))

	err := cmd.Run()
	switch {
	case err == nil:
		return scope.ResultSuccess, nil
	case ctx.Err() != nil:
		return scope.ResultAborted, ctx.Err()
	default:
		var exitErr *exec.ExitError
		if stderrors.As(err, &exitErr) {
			slog.Warn("Build tool exited non-zero",
				logfields.Module(target),
				slog.Int("exit_code", exitErr.ExitCode()))
			return scope.ResultFailure, nil
		}
		return scope.ResultNotBuilt, fmt.Errorf("run %s: %w", r.cfg.Command, err)
	}
}

func (r *ExecRunner) buildArgs(inv Invocation) []string {
	var args []string
	if r.cfg.BuildFile != "" {
		args = append(args, "-f", r.cfg.BuildFile)
	}

	props := make(map[string]string, len(r.cfg.Properties)+len(inv.Properties)+1)
	for k, v := range r.cfg.Properties {
		props[k] = v
	}
	for k, v := range inv.Properties {
		props[k] = v
	}
	props["build.number"] = fmt.Sprintf("%d", inv.BuildNumber)

	// Deterministic argument order keeps logs and tests stable.
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, fmt.Sprintf("-D%s=%s", k, props[k]))
	}

	return append(args, r.cfg.Targets...)
}
