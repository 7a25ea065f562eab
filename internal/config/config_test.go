package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/modset/internal/errors"
	"git.home.luguber.info/inful/modset/internal/scope"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "modset.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("full config", func(t *testing.T) {
		path := writeConfig(t, `
module_set:
  name: platform
  strategy: per-module
  incremental: true
  changed_modules_property: modset.changed.modules
ant:
  command: /usr/bin/ant
  targets: [clean, publish]
  properties:
    skip.tests: "true"
store:
  path: /var/lib/modset/state.db
daemon:
  schedule: "0 2 * * *"
  workers: 2
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "platform", cfg.ModuleSet.Name)
		assert.Equal(t, scope.StrategyPerModule, cfg.Strategy())
		assert.True(t, cfg.ModuleSet.Incremental)
		assert.Equal(t, "modset.changed.modules", cfg.ModuleSet.ChangedModulesProperty)
		assert.Equal(t, []string{"clean", "publish"}, cfg.Ant.Targets)
		assert.Equal(t, "true", cfg.Ant.Properties["skip.tests"])
		assert.Equal(t, 2, cfg.Daemon.Workers)
	})

	t.Run("defaults fill in", func(t *testing.T) {
		path := writeConfig(t, "module_set:\n  name: platform\n")
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, scope.StrategyAggregate, cfg.Strategy())
		assert.Equal(t, "ivy.xml", cfg.ModuleSet.DescriptorPattern)
		assert.Equal(t, "ant", cfg.Ant.Command)
		assert.Equal(t, "modset.db", cfg.Store.Path)
		assert.Equal(t, 100, cfg.Daemon.QueueSize)
		assert.Equal(t, 1, cfg.Daemon.Workers)
	})

	t.Run("env expansion", func(t *testing.T) {
		t.Setenv("MODSET_TEST_SET", "expanded-set")
		path := writeConfig(t, "module_set:\n  name: ${MODSET_TEST_SET}\n")
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "expanded-set", cfg.ModuleSet.Name)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryConfig))
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "module_set: [broken"))
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryConfig))
	})
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := &Config{}
		c.ModuleSet.Name = "platform"
		c.applyDefaults()
		return c
	}

	t.Run("name required", func(t *testing.T) {
		c := base()
		c.ModuleSet.Name = ""
		require.Error(t, c.Validate())
	})

	t.Run("unknown strategy rejected", func(t *testing.T) {
		c := base()
		c.ModuleSet.Strategy = "parallel"
		err := c.Validate()
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	})

	t.Run("incremental requires per-module", func(t *testing.T) {
		c := base()
		c.ModuleSet.Strategy = string(scope.StrategyAggregate)
		c.ModuleSet.Incremental = true
		require.Error(t, c.Validate())

		c.ModuleSet.Strategy = string(scope.StrategyPerModule)
		require.NoError(t, c.Validate())
	})

	t.Run("events need a url", func(t *testing.T) {
		c := base()
		c.Events.Enabled = true
		c.Events.NATSURL = ""
		require.Error(t, c.Validate())
	})
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modset.yaml")
	require.NoError(t, Init(path, false))

	// Generated example must load cleanly.
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "platform", cfg.ModuleSet.Name)
	assert.True(t, cfg.ModuleSet.Incremental)

	require.Error(t, Init(path, false), "refuses to overwrite")
	require.NoError(t, Init(path, true))
}
