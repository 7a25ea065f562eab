package discovery

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/modset/internal/errors"
	"git.home.luguber.info/inful/modset/internal/logfields"
	"git.home.luguber.info/inful/modset/internal/modname"
	"git.home.luguber.info/inful/modset/internal/registry"
	"git.home.luguber.info/inful/modset/internal/util/sets"
)

// Scanner walks the workspace looking for module descriptor files.
type Scanner struct {
	workspace string
	pattern   string
	excludes  []string
}

// NewScanner creates a scanner rooted at workspace. pattern is a file
// name glob for descriptors (default "ivy.xml"); excludes are directory
// name globs that are skipped entirely.
func NewScanner(workspace, pattern string, excludes []string) *Scanner {
	if pattern == "" {
		pattern = "ivy.xml"
	}
	return &Scanner{workspace: workspace, pattern: pattern, excludes: excludes}
}

// Scan discovers all modules in the workspace. Descriptor paths in the
// returned modules are slash-separated and relative to the workspace
// root so they line up with git paths.
func (s *Scanner) Scan(ctx context.Context) ([]*registry.Module, error) {
	var modules []*registry.Module

	err := filepath.WalkDir(s.workspace, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if d.IsDir() {
			if path != s.workspace && s.excluded(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}

		matched, err := filepath.Match(s.pattern, d.Name())
		if err != nil {
			return errors.Wrap(err, errors.CategoryConfig, errors.SeverityFatal, "invalid descriptor pattern "+s.pattern)
		}
		if !matched {
			return nil
		}

		rel, err := filepath.Rel(s.workspace, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		desc, err := s.parseFile(path)
		if err != nil {
			// One broken descriptor must not block discovery of the rest.
			slog.Warn("Skipping unparseable descriptor", logfields.Descriptor(rel), logfields.Error(err))
			return nil
		}

		modules = append(modules, registry.NewModule(desc.Name, rel, desc.Dependencies))
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryRegistry, errors.SeverityError, "scan workspace")
	}

	slog.Debug("Workspace scan complete", logfields.Count(len(modules)))
	return modules, nil
}

func (s *Scanner) parseFile(path string) (Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return Descriptor{}, err
	}
	defer func() { _ = f.Close() }()
	return ParseDescriptor(f)
}

func (s *Scanner) excluded(dirName string) bool {
	for _, pattern := range s.excludes {
		if ok, err := filepath.Match(pattern, dirName); err == nil && ok {
			return true
		}
	}
	return false
}

// SyncResult summarizes one registry synchronization.
type SyncResult struct {
	Added   int
	Updated int
	Removed int
}

// Sync reconciles the registry with a fresh discovery run: discovered
// modules are upserted and previously registered modules whose
// descriptors vanished are removed. Disabled state and build counters
// of surviving modules are preserved by the registry.
func Sync(reg *registry.Registry, discovered []*registry.Module) (SyncResult, error) {
	var res SyncResult

	present := sets.New[modname.ModuleName]()
	for _, m := range discovered {
		existed := reg.Has(m.Name())
		if err := reg.Upsert(m); err != nil {
			return res, err
		}
		present.Add(m.Name())
		if existed {
			res.Updated++
		} else {
			res.Added++
		}
	}

	for _, m := range reg.Modules() {
		if present.Has(m.Name()) {
			continue
		}
		if err := reg.Remove(m.Name()); err != nil {
			return res, err
		}
		res.Removed++
	}

	slog.Info("Registry synchronized",
		logfields.ModuleSet(reg.SetName()),
		slog.Int("added", res.Added),
		slog.Int("updated", res.Updated),
		slog.Int("removed", res.Removed))
	return res, nil
}
