package buildnum

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coerrors "git.home.luguber.info/inful/modset/internal/errors"
	"git.home.luguber.info/inful/modset/internal/modname"
	"git.home.luguber.info/inful/modset/internal/registry"
)

type memStore struct {
	mu     sync.Mutex
	saved  []int
	failOn error
}

func (m *memStore) SaveNextBuildNumber(_ context.Context, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != nil {
		return m.failOn
	}
	m.saved = append(m.saved, n)
	return nil
}

func (m *memStore) last() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saved) == 0 {
		return -1
	}
	return m.saved[len(m.saved)-1]
}

func setup(t *testing.T, counters map[string]int) (*registry.Registry, *memStore) {
	t.Helper()
	r := registry.New("platform")
	for name, c := range counters {
		n, err := modname.Parse(name)
		require.NoError(t, err)
		m := registry.NewModule(n, name+"/ivy.xml", nil)
		m.SetNextBuildNumber(c)
		require.NoError(t, r.Upsert(m))
	}
	return r, &memStore{}
}

func TestSynchronizer_ReserveSet(t *testing.T) {
	t.Run("raises to module maximum then increments", func(t *testing.T) {
		r, store := setup(t, map[string]int{"org:a": 5, "org:b": 7})
		s := New("platform", store, r, 5)

		n, err := s.ReserveSet(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 8, n)
		assert.Equal(t, 8, s.NextBuildNumber())
		assert.Equal(t, 8, store.last())
	})

	t.Run("double reservation advances exactly once each", func(t *testing.T) {
		r, store := setup(t, map[string]int{"org:a": 3})
		s := New("platform", store, r, 3)

		first, err := s.ReserveSet(context.Background())
		require.NoError(t, err)
		second, err := s.ReserveSet(context.Background())
		require.NoError(t, err)
		assert.Equal(t, first+1, second)
	})

	t.Run("set counter dominates module counters after reserve", func(t *testing.T) {
		r, store := setup(t, map[string]int{"org:a": 2, "org:b": 9, "org:c": 4})
		s := New("platform", store, r, 1)

		_, err := s.ReserveSet(context.Background())
		require.NoError(t, err)
		for _, m := range r.Modules() {
			assert.GreaterOrEqual(t, s.NextBuildNumber(), m.NextBuildNumber())
		}
	})

	t.Run("rolls back on persistence failure", func(t *testing.T) {
		r, store := setup(t, map[string]int{"org:a": 7})
		s := New("platform", store, r, 5)
		cause := stderrors.New("disk full")
		store.failOn = cause

		_, err := s.ReserveSet(context.Background())
		var pe *coerrors.PersistenceError
		require.ErrorAs(t, err, &pe)
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, 5, s.NextBuildNumber())

		// Retry after the store recovers converges upward.
		store.failOn = nil
		n, err := s.ReserveSet(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 8, n)
	})
}

func TestSynchronizer_ReserveModule(t *testing.T) {
	t.Run("advances only the module counter", func(t *testing.T) {
		r, store := setup(t, map[string]int{"org:a": 5})
		s := New("platform", store, r, 5)
		m, _ := r.Get(mustName(t, "org:a"))

		n, err := s.ReserveModule(context.Background(), m)
		require.NoError(t, err)
		assert.Equal(t, 6, n)
		assert.Equal(t, 6, m.NextBuildNumber())
		// Set counter already at the scan maximum: no raise, no persist.
		assert.Equal(t, 5, s.NextBuildNumber())
		assert.Equal(t, -1, store.last())
	})

	t.Run("raises and persists the set counter when behind", func(t *testing.T) {
		r, store := setup(t, map[string]int{"org:a": 2, "org:b": 9})
		s := New("platform", store, r, 2)
		m, _ := r.Get(mustName(t, "org:a"))

		n, err := s.ReserveModule(context.Background(), m)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, 9, s.NextBuildNumber())
		assert.Equal(t, 9, store.last())
	})

	t.Run("persistence failure leaves module counter untouched", func(t *testing.T) {
		r, store := setup(t, map[string]int{"org:a": 2, "org:b": 9})
		s := New("platform", store, r, 2)
		store.failOn = stderrors.New("io timeout")
		m, _ := r.Get(mustName(t, "org:a"))

		_, err := s.ReserveModule(context.Background(), m)
		var pe *coerrors.PersistenceError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, 2, m.NextBuildNumber())
		assert.Equal(t, 2, s.NextBuildNumber())
	})
}

func TestSynchronizer_ConcurrentReservations(t *testing.T) {
	// Mixed set/module reservations must never issue a number twice for
	// the same target nor break the group invariant.
	r, store := setup(t, map[string]int{"org:a": 0, "org:b": 0})
	s := New("platform", store, r, 0)
	a, _ := r.Get(mustName(t, "org:a"))

	const rounds = 25
	var wg sync.WaitGroup
	setNums := make([]int, rounds)
	modNums := make([]int, rounds)
	for i := 0; i < rounds; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			n, err := s.ReserveSet(context.Background())
			require.NoError(t, err)
			setNums[i] = n
		}(i)
		go func(i int) {
			defer wg.Done()
			n, err := s.ReserveModule(context.Background(), a)
			require.NoError(t, err)
			modNums[i] = n
		}(i)
	}
	wg.Wait()

	assert.Len(t, unique(setNums), rounds, "set numbers must be unique")
	assert.Len(t, unique(modNums), rounds, "module numbers must be unique")
}

func mustName(t *testing.T, s string) modname.ModuleName {
	t.Helper()
	n, err := modname.Parse(s)
	require.NoError(t, err)
	return n
}

func unique(in []int) map[int]struct{} {
	out := make(map[int]struct{}, len(in))
	for _, n := range in {
		out[n] = struct{}{}
	}
	return out
}
