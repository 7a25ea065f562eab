package daemon

import (
	"context"
	"log/slog"
	"sync"

	"git.home.luguber.info/inful/modset/internal/changeset"
	"git.home.luguber.info/inful/modset/internal/logfields"
	"git.home.luguber.info/inful/modset/internal/registry"
	"git.home.luguber.info/inful/modset/internal/scope"
)

// ChangeSource turns repository history into incremental triggers. It
// remembers the last revision handed out so consecutive cycles diff
// disjoint ranges; modules whose builds failed are re-selected from
// history regardless, so advancing the cursor before the build runs
// loses nothing.
type ChangeSource struct {
	detector *changeset.Detector
	reg      *registry.Registry

	mu      sync.Mutex
	lastRev string
}

func NewChangeSource(detector *changeset.Detector, reg *registry.Registry) *ChangeSource {
	return &ChangeSource{detector: detector, reg: reg}
}

// NextTrigger computes the change set since the previous call. The first
// call establishes the baseline and reports no changes.
func (cs *ChangeSource) NextTrigger(ctx context.Context) scope.Trigger {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	head, err := cs.detector.HeadRevision()
	if err != nil {
		slog.Error("Failed to resolve HEAD for incremental trigger", logfields.Error(err))
		return scope.IncrementalTrigger{}
	}

	if cs.lastRev == "" || cs.lastRev == head {
		cs.lastRev = head
		return scope.IncrementalTrigger{}
	}

	paths, err := cs.detector.ChangedPaths(ctx, cs.lastRev, head)
	if err != nil {
		slog.Error("Failed to diff revisions for incremental trigger", logfields.Error(err))
		return scope.IncrementalTrigger{}
	}
	cs.lastRev = head

	changed := changeset.NewMapper(cs.reg.Modules()).ModulesFor(paths)
	slog.Info("Change set detected",
		logfields.Count(len(changed)),
		slog.String("head", head))
	return scope.IncrementalTrigger{Changed: changed}
}
