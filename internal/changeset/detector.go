// Package changeset detects which modules changed between two revisions
// of the module set's source repository. The detected set seeds
// incremental scope selection.
package changeset

import (
	"context"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"git.home.luguber.info/inful/modset/internal/errors"
	"git.home.luguber.info/inful/modset/internal/logfields"
	"git.home.luguber.info/inful/modset/internal/modname"
	"git.home.luguber.info/inful/modset/internal/registry"
)

// Detector computes changed paths between two revisions of a git
// working copy.
type Detector struct {
	repoPath string
}

func NewDetector(repoPath string) *Detector {
	return &Detector{repoPath: repoPath}
}

// HeadRevision returns the hash the repository's HEAD points at. The
// coordinator records it after a build so the next incremental trigger
// diffs from a known-built state.
func (d *Detector) HeadRevision() (string, error) {
	repo, err := git.PlainOpen(d.repoPath)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryChangeset, errors.SeverityError, "open repository")
	}
	ref, err := repo.Head()
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryChangeset, errors.SeverityError, "resolve HEAD")
	}
	return ref.Hash().String(), nil
}

// ChangedPaths returns the sorted, deduplicated set of paths touched
// between fromRev and toRev. Revisions accept anything go-git can
// resolve (hash, branch, tag, HEAD~n).
func (d *Detector) ChangedPaths(ctx context.Context, fromRev, toRev string) ([]string, error) {
	repo, err := git.PlainOpen(d.repoPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryChangeset, errors.SeverityError, "open repository")
	}

	fromTree, err := treeAt(repo, fromRev)
	if err != nil {
		return nil, err
	}
	toTree, err := treeAt(repo, toRev)
	if err != nil {
		return nil, err
	}

	changes, err := object.DiffTreeWithOptions(ctx, fromTree, toTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryChangeset, errors.SeverityError, "diff trees")
	}

	seen := make(map[string]struct{})
	for _, change := range changes {
		// Renames surface as From+To; both sides count as touched.
		if change.From.Name != "" {
			seen[change.From.Name] = struct{}{}
		}
		if change.To.Name != "" {
			seen[change.To.Name] = struct{}{}
		}
	}

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	slog.Debug("Detected changed paths",
		slog.String("from", fromRev),
		slog.String("to", toRev),
		logfields.Count(len(paths)))
	return paths, nil
}

func treeAt(repo *git.Repository, rev string) (*object.Tree, error) {
	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryChangeset, errors.SeverityError, "resolve revision "+rev)
	}
	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryChangeset, errors.SeverityError, "load commit "+rev)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryChangeset, errors.SeverityError, "load tree "+rev)
	}
	return tree, nil
}

// Mapper resolves changed repository paths to the modules owning them.
// A path belongs to the module whose descriptor directory is the longest
// matching prefix, so nested module directories win over their parents.
type Mapper struct {
	roots []rootEntry
}

type rootEntry struct {
	dir    string
	module modname.ModuleName
}

// NewMapper builds a mapper from registered modules. Descriptor paths
// are slash-separated and relative to the repository root, matching the
// paths go-git reports.
func NewMapper(modules []*registry.Module) *Mapper {
	roots := make([]rootEntry, 0, len(modules))
	for _, m := range modules {
		roots = append(roots, rootEntry{dir: path.Dir(m.Descriptor()), module: m.Name()})
	}
	sort.Slice(roots, func(i, j int) bool { return len(roots[i].dir) > len(roots[j].dir) })
	return &Mapper{roots: roots}
}

// ModulesFor maps changed paths to the owning modules, deduplicated and
// sorted. Paths outside every module root are ignored.
func (m *Mapper) ModulesFor(paths []string) []modname.ModuleName {
	seen := make(map[modname.ModuleName]struct{})
	for _, p := range paths {
		for _, root := range m.roots {
			if matchesRoot(p, root.dir) {
				seen[root.module] = struct{}{}
				break
			}
		}
	}

	names := make([]modname.ModuleName, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i].Less(names[j]) })
	return names
}

func matchesRoot(p, dir string) bool {
	if dir == "." || dir == "" {
		return true
	}
	return p == dir || strings.HasPrefix(p, dir+"/")
}
