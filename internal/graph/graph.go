// Package graph provides the directed build-order graph over the modules of
// a module set: topological ordering for the registry, forward closure for
// incremental selection, and the resource-constraint set handed to the
// external scheduler.
package graph

import (
	"sort"
	"sync"

	"git.home.luguber.info/inful/modset/internal/errors"
	"git.home.luguber.info/inful/modset/internal/modname"
	"git.home.luguber.info/inful/modset/internal/util/sets"
)

// Graph is a directed graph over module names. An edge from A to B means
// B must build after A (B depends on A).
type Graph struct {
	mu    sync.RWMutex
	nodes map[modname.ModuleName]*node
}

type node struct {
	name       modname.ModuleName
	deps       map[modname.ModuleName]*node
	dependents map[modname.ModuleName]*node
}

// New creates an initialized, empty Graph.
func New() *Graph {
	return &Graph{nodes: make(map[modname.ModuleName]*node)}
}

// AddNode adds a node. Adding an existing node is a no-op.
func (g *Graph) AddNode(name modname.ModuleName) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[name]; ok {
		return
	}
	g.nodes[name] = &node{
		name:       name,
		deps:       make(map[modname.ModuleName]*node),
		dependents: make(map[modname.ModuleName]*node),
	}
}

// AddEdge records that `to` builds after `from`. Unknown endpoints and
// self-references are ignored: edges are declared externally against a
// dynamic module set, so dangling declarations are expected, not errors.
func (g *Graph) AddEdge(from, to modname.ModuleName) {
	if from == to {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	fromNode, ok := g.nodes[from]
	if !ok {
		return
	}
	toNode, ok := g.nodes[to]
	if !ok {
		return
	}
	toNode.deps[from] = fromNode
	fromNode.dependents[to] = toNode
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Has reports whether the node is present.
func (g *Graph) Has(name modname.ModuleName) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[name]
	return ok
}

// Dependencies returns the sorted direct dependencies of name.
func (g *Graph) Dependencies(name modname.ModuleName) []modname.ModuleName {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[name]
	if !ok {
		return nil
	}
	return sortedKeys(n.deps)
}

// Dependents returns the sorted direct dependents of name.
func (g *Graph) Dependents(name modname.ModuleName) []modname.ModuleName {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[name]
	if !ok {
		return nil
	}
	return sortedKeys(n.dependents)
}

// TopoSort returns all nodes in a dependency-respecting order. Ties are
// broken by the canonical string ordering of the module names so the result
// is deterministic for a given edge set. A cycle yields a
// *errors.CyclicDependencyError naming the blocked modules.
func (g *Graph) TopoSort() ([]modname.ModuleName, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	indegree := make(map[modname.ModuleName]int, len(g.nodes))
	for name, n := range g.nodes {
		indegree[name] = len(n.deps)
	}

	var ready []modname.ModuleName
	for name, d := range indegree {
		if d == 0 {
			ready = append(ready, name)
		}
	}

	order := make([]modname.ModuleName, 0, len(g.nodes))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i].Less(ready[j]) })
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for dep := range g.nodes[next].dependents {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) != len(g.nodes) {
		var blocked []modname.ModuleName
		for name, d := range indegree {
			if d > 0 {
				blocked = append(blocked, name)
			}
		}
		sort.Slice(blocked, func(i, j int) bool { return blocked[i].Less(blocked[j]) })
		return nil, &errors.CyclicDependencyError{Members: blocked}
	}
	return order, nil
}

// TransitiveDependents computes the forward closure of the seed set: every
// module that directly or transitively builds after one of the seeds. The
// seeds themselves are not included. A visited set guarantees termination
// even when the underlying edge declarations contain a cycle.
func (g *Graph) TransitiveDependents(seeds ...modname.ModuleName) sets.Set[modname.ModuleName] {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := sets.New[modname.ModuleName]()
	frontier := make([]modname.ModuleName, 0, len(seeds))
	for _, s := range seeds {
		if _, ok := g.nodes[s]; ok {
			frontier = append(frontier, s)
		}
	}

	closure := sets.New[modname.ModuleName]()
	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		if visited.Has(cur) {
			continue
		}
		visited.Add(cur)
		for dep := range g.nodes[cur].dependents {
			closure.Add(dep)
			frontier = append(frontier, dep)
		}
	}
	for _, s := range seeds {
		closure.Delete(s)
	}
	return closure
}

// DetectCycleWithin checks for a cycle among the given members only, using
// classic depth-first search with permanent and temporary marks. Edges
// leaving the member set are ignored.
func (g *Graph) DetectCycleWithin(members sets.Set[modname.ModuleName]) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	permanent := sets.New[modname.ModuleName]()
	temporary := sets.New[modname.ModuleName]()

	var visit func(n *node) error
	visit = func(n *node) error {
		if permanent.Has(n.name) {
			return nil
		}
		if temporary.Has(n.name) {
			return &errors.CyclicDependencyError{Members: []modname.ModuleName{n.name}}
		}
		temporary.Add(n.name)
		for name, dep := range n.dependents {
			if !members.Has(name) {
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		temporary.Delete(n.name)
		permanent.Add(n.name)
		return nil
	}

	for name := range members {
		n, ok := g.nodes[name]
		if !ok || permanent.Has(name) {
			continue
		}
		if err := visit(n); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys(m map[modname.ModuleName]*node) []modname.ModuleName {
	out := make([]modname.ModuleName, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
