package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyModule      = "module"
	KeyModuleSet   = "module_set"
	KeyBuildNumber = "build_number"
	KeyJobID       = "job_id"
	KeyJobType     = "job_type"
	KeyJobStatus   = "job_status"
	KeyTrigger     = "trigger"
	KeyStrategy    = "strategy"
	KeyResource    = "resource"
	KeyDescriptor  = "descriptor"
	KeyDurationMS  = "duration_ms"
	KeyScheduleID  = "schedule_id"
	KeyCount       = "count"
	KeyWorker      = "worker"
	KeyError       = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Module(name string) slog.Attr     { return slog.String(KeyModule, name) }
func ModuleSet(name string) slog.Attr  { return slog.String(KeyModuleSet, name) }
func BuildNumber(n int) slog.Attr      { return slog.Int(KeyBuildNumber, n) }
func JobID(id string) slog.Attr        { return slog.String(KeyJobID, id) }
func JobType(t string) slog.Attr       { return slog.String(KeyJobType, t) }
func JobStatus(s string) slog.Attr     { return slog.String(KeyJobStatus, s) }
func Trigger(t string) slog.Attr       { return slog.String(KeyTrigger, t) }
func Strategy(s string) slog.Attr      { return slog.String(KeyStrategy, s) }
func Resource(r string) slog.Attr      { return slog.String(KeyResource, r) }
func Descriptor(path string) slog.Attr { return slog.String(KeyDescriptor, path) }
func DurationMS(ms float64) slog.Attr  { return slog.Float64(KeyDurationMS, ms) }
func ScheduleID(id string) slog.Attr   { return slog.String(KeyScheduleID, id) }
func Count(n int) slog.Attr            { return slog.Int(KeyCount, n) }
func Worker(id string) slog.Attr       { return slog.String(KeyWorker, id) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
