package daemon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/modset/internal/queue"
	"git.home.luguber.info/inful/modset/internal/scope"
)

type captureEnqueuer struct {
	jobs []*queue.BuildJob
}

func (c *captureEnqueuer) Enqueue(job *queue.BuildJob) error {
	c.jobs = append(c.jobs, job)
	return nil
}

func TestScheduler_Fire(t *testing.T) {
	t.Run("enqueues one job per trigger", func(t *testing.T) {
		enq := &captureEnqueuer{}
		s, err := NewScheduler(enq)
		require.NoError(t, err)

		triggers := StaticTriggers(
			scope.ModuleTrigger{Module: mustName(t, "org:a")},
			scope.ModuleTrigger{Module: mustName(t, "org:b")},
		)
		s.fire(triggers, queue.BuildTypeScheduled)

		require.Len(t, enq.jobs, 2)
		for _, job := range enq.jobs {
			assert.NotEmpty(t, job.ID)
			assert.Equal(t, queue.BuildTypeScheduled, job.Type)
			assert.False(t, job.CreatedAt.IsZero())
		}
		assert.NotEqual(t, enq.jobs[0].ID, enq.jobs[1].ID)
	})

	t.Run("nil trigger slice enqueues nothing", func(t *testing.T) {
		enq := &captureEnqueuer{}
		s, err := NewScheduler(enq)
		require.NoError(t, err)

		s.fire(func() []scope.Trigger { return nil }, queue.BuildTypeChangeset)
		assert.Empty(t, enq.jobs)
	})

	t.Run("rejects malformed cron expression", func(t *testing.T) {
		s, err := NewScheduler(&captureEnqueuer{})
		require.NoError(t, err)

		_, err = s.ScheduleCron("not a cron", StaticTriggers(scope.AggregateTrigger{}), queue.BuildTypeScheduled)
		assert.Error(t, err)
	})
}
