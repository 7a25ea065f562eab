package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coerrors "git.home.luguber.info/inful/modset/internal/errors"
	"git.home.luguber.info/inful/modset/internal/modname"
)

func mn(t *testing.T, s string) modname.ModuleName {
	t.Helper()
	n, err := modname.Parse(s)
	require.NoError(t, err)
	return n
}

func mod(t *testing.T, name, descriptor string, deps ...string) *Module {
	t.Helper()
	var depNames []modname.ModuleName
	for _, d := range deps {
		depNames = append(depNames, mn(t, d))
	}
	return NewModule(mn(t, name), descriptor, depNames)
}

func names(mods []*Module) []string {
	out := make([]string, len(mods))
	for i, m := range mods {
		out[i] = m.Name().String()
	}
	return out
}

func TestRegistry_Upsert(t *testing.T) {
	t.Run("registers and orders modules", func(t *testing.T) {
		r := New("platform")
		require.NoError(t, r.Upsert(mod(t, "org:a", "a/ivy.xml")))
		require.NoError(t, r.Upsert(mod(t, "org:b", "b/ivy.xml", "org:a")))
		require.NoError(t, r.Upsert(mod(t, "org:c", "c/ivy.xml", "org:b")))

		sorted, err := r.ActiveModulesSorted()
		require.NoError(t, err)
		assert.Equal(t, []string{"org:a", "org:b", "org:c"}, names(sorted))
	})

	t.Run("rejects same name from a different descriptor", func(t *testing.T) {
		r := New("platform")
		require.NoError(t, r.Upsert(mod(t, "org:a", "a/ivy.xml")))

		err := r.Upsert(mod(t, "org:a", "elsewhere/ivy.xml"))
		var dup *coerrors.DuplicateModuleError
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, "a/ivy.xml", dup.ExistingDescriptor)

		// Original registration untouched.
		m, ok := r.Get(mn(t, "org:a"))
		require.True(t, ok)
		assert.Equal(t, "a/ivy.xml", m.Descriptor())
	})

	t.Run("replacement from the same descriptor keeps live state", func(t *testing.T) {
		r := New("platform")
		first := mod(t, "org:a", "a/ivy.xml")
		require.NoError(t, r.Upsert(first))
		first.SetNextBuildNumber(12)
		require.NoError(t, r.SetDisabled(first.Name(), true))

		require.NoError(t, r.Upsert(mod(t, "org:a", "a/ivy.xml", "org:other")))
		m, ok := r.Get(mn(t, "org:a"))
		require.True(t, ok)
		assert.Equal(t, 12, m.NextBuildNumber())
		assert.True(t, m.Disabled())
		assert.Equal(t, []modname.ModuleName{mn(t, "org:other")}, m.Dependencies())
	})
}

func TestRegistry_ActiveModulesSorted(t *testing.T) {
	t.Run("excludes disabled modules", func(t *testing.T) {
		r := New("platform")
		require.NoError(t, r.Upsert(mod(t, "org:a", "a/ivy.xml")))
		require.NoError(t, r.Upsert(mod(t, "org:b", "b/ivy.xml")))
		require.NoError(t, r.SetDisabled(mn(t, "org:a"), true))

		sorted, err := r.ActiveModulesSorted()
		require.NoError(t, err)
		assert.Equal(t, []string{"org:b"}, names(sorted))
	})

	t.Run("never omits an enabled module", func(t *testing.T) {
		r := New("platform")
		require.NoError(t, r.Upsert(mod(t, "org:a", "a/ivy.xml")))
		require.NoError(t, r.Upsert(mod(t, "org:b", "b/ivy.xml")))
		require.NoError(t, r.SetDisabled(mn(t, "org:a"), true))
		require.NoError(t, r.SetDisabled(mn(t, "org:a"), false))

		sorted, err := r.ActiveModulesSorted()
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"org:a", "org:b"}, names(sorted))
	})

	t.Run("retains previous ordering across a cycle", func(t *testing.T) {
		r := New("platform")
		require.NoError(t, r.Upsert(mod(t, "org:a", "a/ivy.xml")))

		// org:b depends on org:a; redeclaring org:a to depend on org:b
		// closes the cycle.
		require.NoError(t, r.Upsert(mod(t, "org:b", "b/ivy.xml", "org:a")))
		err := r.Upsert(mod(t, "org:a", "a/ivy.xml", "org:b"))
		var cyc *coerrors.CyclicDependencyError
		require.ErrorAs(t, err, &cyc)

		sorted, err := r.ActiveModulesSorted()
		require.ErrorAs(t, err, &cyc)
		assert.Equal(t, []string{"org:a", "org:b"}, names(sorted))
	})

	t.Run("cycle from the start keeps empty ordering", func(t *testing.T) {
		r := New("platform")
		require.NoError(t, r.Upsert(mod(t, "org:a", "a/ivy.xml", "org:b")))
		err := r.Upsert(mod(t, "org:b", "b/ivy.xml", "org:a"))
		var cyc *coerrors.CyclicDependencyError
		require.ErrorAs(t, err, &cyc)

		sorted, err := r.ActiveModulesSorted()
		require.ErrorAs(t, err, &cyc)
		assert.Empty(t, sorted)
	})

	t.Run("disabling a cycle member resolves the ordering", func(t *testing.T) {
		r := New("platform")
		require.NoError(t, r.Upsert(mod(t, "org:a", "a/ivy.xml", "org:b")))
		_ = r.Upsert(mod(t, "org:b", "b/ivy.xml", "org:a"))

		require.NoError(t, r.SetDisabled(mn(t, "org:b"), true))
		sorted, err := r.ActiveModulesSorted()
		require.NoError(t, err)
		assert.Equal(t, []string{"org:a"}, names(sorted))
	})
}

func TestRegistry_Remove(t *testing.T) {
	r := New("platform")
	require.NoError(t, r.Upsert(mod(t, "org:a", "a/ivy.xml")))
	require.NoError(t, r.Upsert(mod(t, "org:b", "b/ivy.xml", "org:a")))

	require.NoError(t, r.Remove(mn(t, "org:a")))
	assert.False(t, r.Has(mn(t, "org:a")))

	sorted, err := r.ActiveModulesSorted()
	require.NoError(t, err)
	assert.Equal(t, []string{"org:b"}, names(sorted))

	// Removing an absent module is a no-op.
	require.NoError(t, r.Remove(mn(t, "org:ghost")))
}

func TestRegistry_RemoveAllDisabled(t *testing.T) {
	r := New("platform")
	require.NoError(t, r.Upsert(mod(t, "org:a", "a/ivy.xml")))
	require.NoError(t, r.Upsert(mod(t, "org:b", "b/ivy.xml")))
	require.NoError(t, r.Upsert(mod(t, "org:c", "c/ivy.xml")))
	require.NoError(t, r.SetDisabled(mn(t, "org:a"), true))
	require.NoError(t, r.SetDisabled(mn(t, "org:c"), true))
	assert.True(t, r.HasDisabledModule())

	removed, err := r.RemoveAllDisabled()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, r.Len())
	assert.False(t, r.HasDisabledModule())
}

func TestRegistry_ActiveDependencyGraph(t *testing.T) {
	r := New("platform")
	require.NoError(t, r.Upsert(mod(t, "org:a", "a/ivy.xml")))
	require.NoError(t, r.Upsert(mod(t, "org:b", "b/ivy.xml", "org:a")))

	g := r.ActiveDependencyGraph()
	assert.Equal(t, []modname.ModuleName{mn(t, "org:b")}, g.Dependents(mn(t, "org:a")))

	// Disabled modules drop out of the graph.
	require.NoError(t, r.SetDisabled(mn(t, "org:b"), true))
	g = r.ActiveDependencyGraph()
	assert.Empty(t, g.Dependents(mn(t, "org:a")))
}

func TestRegistry_Seed(t *testing.T) {
	r := New("platform")
	err := r.Seed([]*Module{
		mod(t, "org:a", "a/ivy.xml"),
		mod(t, "org:b", "b/ivy.xml", "org:a"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	err = r.Seed([]*Module{mod(t, "org:a", "other/ivy.xml")})
	var dup *coerrors.DuplicateModuleError
	require.ErrorAs(t, err, &dup)
}
