// Package metrics defines the observability hooks of the coordinator.
// Components receive a Recorder through dependency injection; NoopRecorder
// is the default so no call site needs a nil check.
package metrics

import "time"

// Recorder defines observability hooks for coordination and build metrics.
// Implementations may forward to Prometheus, OpenTelemetry, etc.
type Recorder interface {
	// IncTrigger counts received build triggers by kind
	// (aggregate|module|incremental).
	IncTrigger(kind string)
	// ObserveSelectionSize records how many modules a trigger selected.
	ObserveSelectionSize(n int)
	// IncSkippedResourceDeclarations counts malformed resource activity
	// declarations skipped while building the constraint set.
	IncSkippedResourceDeclarations()
	// ObserveBuildDuration records the duration of one module or
	// aggregate build (kind: module|aggregate).
	ObserveBuildDuration(kind string, d time.Duration)
	// IncBuildOutcome counts completed builds by result
	// (success|unstable|failure|aborted).
	IncBuildOutcome(result string)
	// SetQueueDepth tracks the number of pending build jobs.
	SetQueueDepth(n int)
	// SetRegisteredModules tracks the registry size by state.
	SetRegisteredModules(active, disabled int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are
// not configured).
type NoopRecorder struct{}

func (NoopRecorder) IncTrigger(string)                          {}
func (NoopRecorder) ObserveSelectionSize(int)                   {}
func (NoopRecorder) IncSkippedResourceDeclarations()            {}
func (NoopRecorder) ObserveBuildDuration(string, time.Duration) {}
func (NoopRecorder) IncBuildOutcome(string)                     {}
func (NoopRecorder) SetQueueDepth(int)                          {}
func (NoopRecorder) SetRegisteredModules(int, int)              {}
