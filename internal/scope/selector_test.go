package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coerrors "git.home.luguber.info/inful/modset/internal/errors"
	"git.home.luguber.info/inful/modset/internal/modname"
	"git.home.luguber.info/inful/modset/internal/registry"
)

type stubHistory map[string]Result

func (h stubHistory) LastResult(n modname.ModuleName) Result {
	if r, ok := h[n.String()]; ok {
		return r
	}
	return ResultNotBuilt
}

func mn(t *testing.T, s string) modname.ModuleName {
	t.Helper()
	n, err := modname.Parse(s)
	require.NoError(t, err)
	return n
}

// chainRegistry builds A <- B <- C (B depends on A, C depends on B).
func chainRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New("platform")
	require.NoError(t, r.Upsert(registry.NewModule(mn(t, "org:a"), "a/ivy.xml", nil)))
	require.NoError(t, r.Upsert(registry.NewModule(mn(t, "org:b"), "b/ivy.xml", []modname.ModuleName{mn(t, "org:a")})))
	require.NoError(t, r.Upsert(registry.NewModule(mn(t, "org:c"), "c/ivy.xml", []modname.ModuleName{mn(t, "org:b")})))
	return r
}

func selectedNames(s Scope) []string {
	out := make([]string, 0, len(s.Modules))
	for _, m := range s.Modules {
		out = append(out, m.Name().String())
	}
	return out
}

func TestNewSelector(t *testing.T) {
	r := chainRegistry(t)

	_, err := NewSelector(r, nil, Strategy("bogus"), false)
	require.Error(t, err)

	_, err = NewSelector(r, nil, StrategyAggregate, true)
	require.Error(t, err)

	_, err = NewSelector(r, nil, StrategyPerModule, true)
	require.Error(t, err)

	_, err = NewSelector(r, stubHistory{}, StrategyPerModule, true)
	require.NoError(t, err)
}

func TestSelect_Aggregate(t *testing.T) {
	r := chainRegistry(t)
	sel, err := NewSelector(r, nil, StrategyAggregate, false)
	require.NoError(t, err)

	t.Run("selects all active modules regardless of changes", func(t *testing.T) {
		s, err := sel.Select(AggregateTrigger{})
		require.NoError(t, err)
		assert.True(t, s.Aggregate)
		assert.Equal(t, []string{"org:a", "org:b", "org:c"}, selectedNames(s))
	})

	t.Run("excludes disabled modules", func(t *testing.T) {
		require.NoError(t, r.SetDisabled(mn(t, "org:c"), true))
		defer func() { require.NoError(t, r.SetDisabled(mn(t, "org:c"), false)) }()

		s, err := sel.Select(AggregateTrigger{})
		require.NoError(t, err)
		assert.Equal(t, []string{"org:a", "org:b"}, selectedNames(s))
	})

	t.Run("rejects per-module trigger", func(t *testing.T) {
		_, err := sel.Select(ModuleTrigger{Module: mn(t, "org:a")})
		require.Error(t, err)
		assert.True(t, coerrors.IsCategory(err, coerrors.CategoryValidation))
	})
}

func TestSelect_PerModule(t *testing.T) {
	r := chainRegistry(t)
	sel, err := NewSelector(r, nil, StrategyPerModule, false)
	require.NoError(t, err)

	t.Run("selects exactly the triggered module", func(t *testing.T) {
		s, err := sel.Select(ModuleTrigger{Module: mn(t, "org:b")})
		require.NoError(t, err)
		assert.False(t, s.Aggregate)
		assert.Equal(t, []string{"org:b"}, selectedNames(s))
	})

	t.Run("rejects unknown module", func(t *testing.T) {
		_, err := sel.Select(ModuleTrigger{Module: mn(t, "org:ghost")})
		require.Error(t, err)
	})

	t.Run("rejects disabled module", func(t *testing.T) {
		require.NoError(t, r.SetDisabled(mn(t, "org:a"), true))
		defer func() { require.NoError(t, r.SetDisabled(mn(t, "org:a"), false)) }()
		_, err := sel.Select(ModuleTrigger{Module: mn(t, "org:a")})
		require.Error(t, err)
	})

	t.Run("rejects incremental trigger when not incremental", func(t *testing.T) {
		_, err := sel.Select(IncrementalTrigger{Changed: []modname.ModuleName{mn(t, "org:a")}})
		require.Error(t, err)
	})
}

func TestSelect_Incremental(t *testing.T) {
	t.Run("changed module pulls in transitive dependents", func(t *testing.T) {
		r := chainRegistry(t)
		sel, err := NewSelector(r, stubHistory{}, StrategyPerModule, true)
		require.NoError(t, err)

		s, err := sel.Select(IncrementalTrigger{Changed: []modname.ModuleName{mn(t, "org:a")}})
		require.NoError(t, err)
		assert.Equal(t, []string{"org:a", "org:b", "org:c"}, selectedNames(s))
		assert.Equal(t, []modname.ModuleName{mn(t, "org:a")}, s.Changed)
		assert.ElementsMatch(t, []modname.ModuleName{mn(t, "org:b"), mn(t, "org:c")}, s.Dependents)
	})

	t.Run("ignoring upstream changes keeps dependents out", func(t *testing.T) {
		r := chainRegistry(t)
		sel, err := NewSelector(r, stubHistory{}, StrategyPerModule, true)
		require.NoError(t, err)
		sel.IgnoreUpstreamChanges(true)

		s, err := sel.Select(IncrementalTrigger{Changed: []modname.ModuleName{mn(t, "org:a")}})
		require.NoError(t, err)
		assert.Equal(t, []string{"org:a"}, selectedNames(s))
		assert.Empty(t, s.Dependents)
	})

	t.Run("previously failed and unstable modules are re-selected", func(t *testing.T) {
		r := chainRegistry(t)
		hist := stubHistory{"org:b": ResultFailure, "org:c": ResultUnstable}
		sel, err := NewSelector(r, hist, StrategyPerModule, true)
		require.NoError(t, err)

		s, err := sel.Select(IncrementalTrigger{})
		require.NoError(t, err)
		assert.Equal(t, []string{"org:b", "org:c"}, selectedNames(s))
		assert.Empty(t, s.Changed)
	})

	t.Run("aborted and successful modules are not re-selected", func(t *testing.T) {
		r := chainRegistry(t)
		hist := stubHistory{"org:a": ResultSuccess, "org:b": ResultAborted}
		sel, err := NewSelector(r, hist, StrategyPerModule, true)
		require.NoError(t, err)

		s, err := sel.Select(IncrementalTrigger{})
		require.NoError(t, err)
		assert.True(t, s.Empty())
	})

	t.Run("empty changes and clean history is nothing to do", func(t *testing.T) {
		r := chainRegistry(t)
		sel, err := NewSelector(r, stubHistory{}, StrategyPerModule, true)
		require.NoError(t, err)

		s, err := sel.Select(IncrementalTrigger{})
		require.NoError(t, err)
		assert.True(t, s.Empty())
	})

	t.Run("unknown changed modules are dropped", func(t *testing.T) {
		r := chainRegistry(t)
		sel, err := NewSelector(r, stubHistory{}, StrategyPerModule, true)
		require.NoError(t, err)

		s, err := sel.Select(IncrementalTrigger{Changed: []modname.ModuleName{mn(t, "org:ghost"), mn(t, "org:c")}})
		require.NoError(t, err)
		assert.Equal(t, []string{"org:c"}, selectedNames(s))
	})

	t.Run("cyclic dependencies surface as a typed error", func(t *testing.T) {
		r := registry.New("platform")
		require.NoError(t, r.Upsert(registry.NewModule(mn(t, "org:a"), "a/ivy.xml", []modname.ModuleName{mn(t, "org:b")})))
		_ = r.Upsert(registry.NewModule(mn(t, "org:b"), "b/ivy.xml", []modname.ModuleName{mn(t, "org:a")}))
		sel, err := NewSelector(r, stubHistory{}, StrategyPerModule, true)
		require.NoError(t, err)

		_, err = sel.Select(IncrementalTrigger{Changed: []modname.ModuleName{mn(t, "org:a")}})
		var cyc *coerrors.CyclicDependencyError
		require.ErrorAs(t, err, &cyc)
	})

	t.Run("selection is monotonic in the change set", func(t *testing.T) {
		r := chainRegistry(t)
		sel, err := NewSelector(r, stubHistory{}, StrategyPerModule, true)
		require.NoError(t, err)

		small, err := sel.Select(IncrementalTrigger{Changed: []modname.ModuleName{mn(t, "org:b")}})
		require.NoError(t, err)
		large, err := sel.Select(IncrementalTrigger{Changed: []modname.ModuleName{mn(t, "org:b"), mn(t, "org:a")}})
		require.NoError(t, err)

		smallNames := selectedNames(small)
		largeNames := selectedNames(large)
		assert.Subset(t, largeNames, smallNames)
	})
}
