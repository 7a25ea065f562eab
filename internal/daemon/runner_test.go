package daemon

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/modset/internal/config"
	"git.home.luguber.info/inful/modset/internal/registry"
	"git.home.luguber.info/inful/modset/internal/scope"
)

func TestExecRunner_Run(t *testing.T) {
	t.Run("zero exit is success", func(t *testing.T) {
		r := NewExecRunner(config.AntConfig{Command: "true"}, t.TempDir(), &bytes.Buffer{})
		result, err := r.Run(context.Background(), Invocation{BuildNumber: 1})
		require.NoError(t, err)
		assert.Equal(t, scope.ResultSuccess, result)
	})

	t.Run("non-zero exit is a failure, not an error", func(t *testing.T) {
		r := NewExecRunner(config.AntConfig{Command: "false"}, t.TempDir(), &bytes.Buffer{})
		result, err := r.Run(context.Background(), Invocation{BuildNumber: 1})
		require.NoError(t, err)
		assert.Equal(t, scope.ResultFailure, result)
	})

	t.Run("missing command is an error", func(t *testing.T) {
		r := NewExecRunner(config.AntConfig{Command: "definitely-not-a-command"}, t.TempDir(), &bytes.Buffer{})
		result, err := r.Run(context.Background(), Invocation{BuildNumber: 1})
		require.Error(t, err)
		assert.Equal(t, scope.ResultNotBuilt, result)
	})

	t.Run("cancelled context aborts", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		r := NewExecRunner(config.AntConfig{Command: "true"}, t.TempDir(), &bytes.Buffer{})
		result, err := r.Run(ctx, Invocation{BuildNumber: 1})
		require.Error(t, err)
		assert.Equal(t, scope.ResultAborted, result)
	})
}

func TestExecRunner_BuildArgs(t *testing.T) {
	r := NewExecRunner(config.AntConfig{
		Command:    "ant",
		BuildFile:  "build.xml",
		Targets:    []string{"clean", "publish"},
		Properties: map[string]string{"skip.tests": "true"},
	}, ".", &bytes.Buffer{})

	args := r.buildArgs(Invocation{
		BuildNumber: 8,
		Properties:  map[string]string{"changed.modules": "org:a,org:b"},
	})

	assert.Equal(t, []string{
		"-f", "build.xml",
		"-Dbuild.number=8",
		"-Dchanged.modules=org:a,org:b",
		"-Dskip.tests=true",
		"clean", "publish",
	}, args)
}

func TestExecRunner_PropertyPrecedence(t *testing.T) {
	m := registry.NewModule(mustName(t, "org:core"), "core/ivy.xml", nil)

	// Invocation properties override installation properties.
	r := NewExecRunner(config.AntConfig{
		Command:    "ant",
		Properties: map[string]string{"key": "installation"},
	}, ".", &bytes.Buffer{})
	args := r.buildArgs(Invocation{Module: m, BuildNumber: 1, Properties: map[string]string{"key": "invocation"}})
	assert.Contains(t, args, "-Dkey=invocation")
	assert.NotContains(t, args, "-Dkey=installation")
}
