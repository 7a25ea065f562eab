package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"git.home.luguber.info/inful/modset/internal/logfields"
	"git.home.luguber.info/inful/modset/internal/scope"
)

// BuildType represents the origin of a build job
type BuildType string

const (
	BuildTypeManual    BuildType = "manual"    // Manually triggered build
	BuildTypeScheduled BuildType = "scheduled" // Cron-triggered build
	BuildTypeChangeset BuildType = "changeset" // Triggered by a detected change set
	BuildTypeUpstream  BuildType = "upstream"  // Triggered by a dependency build
)

// BuildStatus represents the current status of a build job
type BuildStatus string

const (
	BuildStatusQueued    BuildStatus = "queued"
	BuildStatusRunning   BuildStatus = "running"
	BuildStatusCompleted BuildStatus = "completed"
	BuildStatusSkipped   BuildStatus = "skipped" // empty scope, nothing to do
	BuildStatusFailed    BuildStatus = "failed"
	BuildStatusCancelled BuildStatus = "cancelled"
)

// BuildJob represents a single build cycle in the queue. The trigger is
// resolved into a concrete scope by the executor when the job runs, not
// when it is enqueued, so the job always sees the current registry.
type BuildJob struct {
	ID          string        `json:"id"`
	Type        BuildType     `json:"type"`
	Status      BuildStatus   `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Error       string        `json:"error,omitempty"`

	Trigger scope.Trigger `json:"-"`

	cancel context.CancelFunc
}

// Executor resolves and runs one build job. An implementation sets the
// job's status to BuildStatusSkipped (and returns nil) when the resolved
// scope is empty.
type Executor interface {
	Execute(ctx context.Context, job *BuildJob) error
}

// DepthObserver is notified of queue depth changes. Satisfied by the
// metrics recorder.
type DepthObserver interface {
	SetQueueDepth(n int)
}

// Queue manages the module set's pending build jobs with a small worker
// pool. It is deliberately thin glue: ordering and exclusion of the actual
// module builds inside a job belong to the scheduler consuming the
// constraint set.
type Queue struct {
	jobs        chan *BuildJob
	workers     int
	maxSize     int
	mu          sync.RWMutex
	pending     map[string]*BuildJob
	active      map[string]*BuildJob
	history     []*BuildJob
	historySize int
	stopChan    chan struct{}
	wg          sync.WaitGroup
	executor    Executor
	observer    DepthObserver
}

// New creates a queue with the specified capacity and worker count.
// observer may be nil.
func New(maxSize, workers int, executor Executor, observer DepthObserver) *Queue {
	if maxSize <= 0 {
		maxSize = 100
	}
	if workers <= 0 {
		workers = 1
	}
	return &Queue{
		jobs:        make(chan *BuildJob, maxSize),
		workers:     workers,
		maxSize:     maxSize,
		pending:     make(map[string]*BuildJob),
		active:      make(map[string]*BuildJob),
		history:     make([]*BuildJob, 0),
		historySize: 50,
		stopChan:    make(chan struct{}),
		executor:    executor,
		observer:    observer,
	}
}

// Start begins processing jobs with the configured number of workers.
func (q *Queue) Start(ctx context.Context) {
	slog.Info("Starting build queue", slog.Int("workers", q.workers), slog.Int("max_size", q.maxSize))
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, fmt.Sprintf("worker-%d", i))
	}
}

// Stop gracefully shuts down the queue, cancelling active jobs.
func (q *Queue) Stop(ctx context.Context) {
	slog.Info("Stopping build queue")
	close(q.stopChan)

	q.mu.Lock()
	for _, job := range q.active {
		if job.cancel != nil {
			job.cancel()
		}
	}
	q.mu.Unlock()

	q.wg.Wait()
	slog.Info("Build queue stopped")
}

// Enqueue adds a new build job to the queue.
func (q *Queue) Enqueue(job *BuildJob) error {
	if job == nil {
		return fmt.Errorf("job cannot be nil")
	}
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if job.Trigger == nil {
		return fmt.Errorf("job trigger is required")
	}

	job.Status = BuildStatusQueued
	select {
	case q.jobs <- job:
		q.mu.Lock()
		q.pending[job.ID] = job
		q.mu.Unlock()
		q.observeDepth()
		slog.Info("Build job enqueued",
			logfields.JobID(job.ID),
			logfields.JobType(string(job.Type)),
			logfields.Trigger(job.Trigger.Kind()))
		return nil
	default:
		return fmt.Errorf("build queue is full")
	}
}

// Length returns the current queue length.
func (q *Queue) Length() int { return len(q.jobs) }

// PendingJobs returns a copy of the jobs waiting for a worker.
func (q *Queue) PendingJobs() []*BuildJob {
	q.mu.RLock()
	defer q.mu.RUnlock()
	pending := make([]*BuildJob, 0, len(q.pending))
	for _, job := range q.pending {
		pending = append(pending, job)
	}
	return pending
}

// ActiveJobs returns a copy of currently running jobs.
func (q *Queue) ActiveJobs() []*BuildJob {
	q.mu.RLock()
	defer q.mu.RUnlock()
	active := make([]*BuildJob, 0, len(q.active))
	for _, job := range q.active {
		active = append(active, job)
	}
	return active
}

// History returns recent completed jobs, oldest first.
func (q *Queue) History() []*BuildJob {
	q.mu.RLock()
	defer q.mu.RUnlock()
	history := make([]*BuildJob, len(q.history))
	copy(history, q.history)
	return history
}

func (q *Queue) worker(ctx context.Context, workerID string) {
	defer q.wg.Done()
	slog.Debug("Build worker started", logfields.Worker(workerID))

	for {
		select {
		case <-ctx.Done():
			slog.Debug("Build worker stopped by context", logfields.Worker(workerID))
			return
		case <-q.stopChan:
			slog.Debug("Build worker stopped by stop signal", logfields.Worker(workerID))
			return
		case job := <-q.jobs:
			if job != nil {
				q.observeDepth()
				q.processJob(ctx, job, workerID)
			}
		}
	}
}

func (q *Queue) processJob(ctx context.Context, job *BuildJob, workerID string) {
	jobCtx, cancel := context.WithCancel(ctx)
	job.cancel = cancel
	defer cancel()

	startTime := time.Now()
	job.StartedAt = &startTime
	job.Status = BuildStatusRunning

	q.mu.Lock()
	delete(q.pending, job.ID)
	q.active[job.ID] = job
	q.mu.Unlock()

	slog.Info("Build job started",
		logfields.JobID(job.ID),
		logfields.JobType(string(job.Type)),
		logfields.Worker(workerID))

	err := q.executor.Execute(jobCtx, job)

	endTime := time.Now()
	job.CompletedAt = &endTime
	job.Duration = endTime.Sub(*job.StartedAt)

	q.mu.Lock()
	delete(q.active, job.ID)
	q.addToHistory(job)
	q.mu.Unlock()

	switch {
	case err == nil && job.Status == BuildStatusSkipped:
		slog.Info("Build job skipped, nothing to do", logfields.JobID(job.ID))
	case err == nil:
		job.Status = BuildStatusCompleted
		slog.Info("Build job completed",
			logfields.JobID(job.ID),
			logfields.DurationMS(float64(job.Duration.Milliseconds())))
	case jobCtx.Err() != nil:
		job.Status = BuildStatusCancelled
		job.Error = err.Error()
		slog.Warn("Build job cancelled", logfields.JobID(job.ID))
	default:
		job.Status = BuildStatusFailed
		job.Error = err.Error()
		slog.Error("Build job failed",
			logfields.JobID(job.ID),
			logfields.DurationMS(float64(job.Duration.Milliseconds())),
			logfields.Error(err))
	}
}

// addToHistory appends a completed job, maintaining the size limit.
// Caller holds q.mu.
func (q *Queue) addToHistory(job *BuildJob) {
	q.history = append(q.history, job)
	if len(q.history) > q.historySize {
		copy(q.history, q.history[len(q.history)-q.historySize:])
		q.history = q.history[:q.historySize]
	}
}

func (q *Queue) observeDepth() {
	if q.observer != nil {
		q.observer.SetQueueDepth(len(q.jobs))
	}
}
