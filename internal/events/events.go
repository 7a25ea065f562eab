// Package events publishes build lifecycle events so downstream systems
// (dashboards, dependent pipelines) can react to module set builds.
package events

import (
	"time"

	"git.home.luguber.info/inful/modset/internal/modname"
	"git.home.luguber.info/inful/modset/internal/scope"
)

// EventType identifies a build lifecycle event.
type EventType string

const (
	EventBuildStarted   EventType = "build.started"
	EventBuildCompleted EventType = "build.completed"
)

// BuildEvent is the wire payload for one lifecycle event.
type BuildEvent struct {
	Type        EventType            `json:"type"`
	ModuleSet   string               `json:"module_set"`
	JobID       string               `json:"job_id"`
	Trigger     string               `json:"trigger"`
	BuildNumber int                  `json:"build_number,omitempty"`
	Modules     []modname.ModuleName `json:"modules,omitempty"`
	Result      scope.Result         `json:"result,omitempty"`
	Duration    time.Duration        `json:"duration,omitempty"`
	Timestamp   time.Time            `json:"timestamp"`
}

// Publisher emits build lifecycle events. Implementations must be safe
// for concurrent use.
type Publisher interface {
	Publish(event BuildEvent) error
	Close() error
}

// NoopPublisher is the default when event publishing is not configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(BuildEvent) error { return nil }
func (NoopPublisher) Close() error             { return nil }
