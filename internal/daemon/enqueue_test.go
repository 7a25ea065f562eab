package daemon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/modset/internal/modname"
	"git.home.luguber.info/inful/modset/internal/queue"
	"git.home.luguber.info/inful/modset/internal/registry"
	"git.home.luguber.info/inful/modset/internal/scope"
)

// testEnqueuer builds a dedup wrapper around a queue with no workers
// started, so every accepted job stays pending.
func testEnqueuer(t *testing.T, modules ...modname.ModuleName) (*dedupEnqueuer, *queue.Queue) {
	t.Helper()
	reg := registry.New("platform")
	for _, m := range modules {
		require.NoError(t, reg.Upsert(registry.NewModule(m, m.FileSystemName()+"/ivy.xml", nil)))
	}
	q := queue.New(10, 1, nil, nil)
	return newDedupEnqueuer(q, reg), q
}

func TestDedupEnqueuer(t *testing.T) {
	a := mustName(t, "org:a")
	b := mustName(t, "org:b")

	t.Run("drops duplicate module job", func(t *testing.T) {
		e, q := testEnqueuer(t, a, b)

		require.NoError(t, e.Enqueue(&queue.BuildJob{ID: "1", Trigger: scope.ModuleTrigger{Module: a}}))
		require.NoError(t, e.Enqueue(&queue.BuildJob{ID: "2", Trigger: scope.ModuleTrigger{Module: a}}))
		require.NoError(t, e.Enqueue(&queue.BuildJob{ID: "3", Trigger: scope.ModuleTrigger{Module: b}}))

		assert.Equal(t, 2, q.Length(), "one job per distinct module")
	})

	t.Run("drops duplicate aggregate job", func(t *testing.T) {
		e, q := testEnqueuer(t, a)

		require.NoError(t, e.Enqueue(&queue.BuildJob{ID: "1", Trigger: scope.AggregateTrigger{}}))
		require.NoError(t, e.Enqueue(&queue.BuildJob{ID: "2", Trigger: scope.AggregateTrigger{}}))

		assert.Equal(t, 1, q.Length())
	})

	t.Run("never drops incremental jobs", func(t *testing.T) {
		e, q := testEnqueuer(t, a)

		require.NoError(t, e.Enqueue(&queue.BuildJob{ID: "1", Trigger: scope.IncrementalTrigger{Changed: []modname.ModuleName{a}}}))
		require.NoError(t, e.Enqueue(&queue.BuildJob{ID: "2", Trigger: scope.IncrementalTrigger{Changed: []modname.ModuleName{a}}}))

		assert.Equal(t, 2, q.Length(), "each incremental job carries its own change set")
	})

	t.Run("aggregate is not a duplicate of a pending incremental", func(t *testing.T) {
		e, q := testEnqueuer(t, a)

		require.NoError(t, e.Enqueue(&queue.BuildJob{ID: "1", Trigger: scope.IncrementalTrigger{}}))
		require.NoError(t, e.Enqueue(&queue.BuildJob{ID: "2", Trigger: scope.AggregateTrigger{}}))

		assert.Equal(t, 2, q.Length())
	})
}
