package spec

import (
	"fmt"
	"sort"
	"time"

	"github.com/cuemby/helmsman/pkg/pathid"
)

// Group is a Path plus child groups, apps and pods at that level, and
// an unordered set of Path dependencies (data model section 3).
type Group struct {
	Path         pathid.Path
	Groups       map[string]*Group // base name -> child group
	Apps         map[string]*AppSpec
	Pods         map[string]*PodSpec
	Dependencies []pathid.Path
	VersionAt    time.Time
}

// NewGroup returns an empty group rooted at p.
func NewGroup(p pathid.Path) *Group {
	return &Group{
		Path:   p,
		Groups: make(map[string]*Group),
		Apps:   make(map[string]*AppSpec),
		Pods:   make(map[string]*PodSpec),
	}
}

// IsRoot reports whether g is the root group at "/", which carries the
// global version.
func (g *Group) IsRoot() bool {
	return g.Path.IsRoot()
}

// Transitive yields every descendant run-spec keyed by its Path,
// including specs nested in subgroups at any depth.
func (g *Group) Transitive() map[pathid.Path]RunSpec {
	out := make(map[pathid.Path]RunSpec)
	g.collect(out)
	return out
}

func (g *Group) collect(out map[pathid.Path]RunSpec) {
	for _, a := range g.Apps {
		out[a.ID()] = a
	}
	for _, p := range g.Pods {
		out[p.ID()] = p
	}
	for _, c := range g.Groups {
		c.collect(out)
	}
}

// TransitiveGroups yields every descendant group keyed by its Path,
// including g itself.
func (g *Group) TransitiveGroups() map[pathid.Path]*Group {
	out := make(map[pathid.Path]*Group)
	g.collectGroups(out)
	return out
}

func (g *Group) collectGroups(out map[pathid.Path]*Group) {
	out[g.Path] = g
	for _, c := range g.Groups {
		c.collectGroups(out)
	}
}

// Validate checks the group tree's two invariants: (a) no two entities
// at the same level share an immediate id, (b) no cycles in the
// dependency graph over the transitive closure of apps+pods+groups.
func (g *Group) Validate() error {
	if err := g.validateNames(); err != nil {
		return err
	}
	edges := g.dependencyEdges()
	if _, err := topoSort(edges); err != nil {
		return err
	}
	return nil
}

func (g *Group) validateNames() error {
	for name := range g.Groups {
		if _, clash := g.Apps[name]; clash {
			return fmt.Errorf("spec: group %q and app %q share an id under %s", name, name, g.Path)
		}
		if _, clash := g.Pods[name]; clash {
			return fmt.Errorf("spec: group %q and pod %q share an id under %s", name, name, g.Path)
		}
	}
	for name := range g.Apps {
		if _, clash := g.Pods[name]; clash {
			return fmt.Errorf("spec: app %q and pod %q share an id under %s", name, name, g.Path)
		}
	}
	for _, c := range g.Groups {
		if err := c.validateNames(); err != nil {
			return err
		}
	}
	return nil
}

// dependencyEdges builds the full dependency graph over the transitive
// closure of apps, pods, and groups: an edge a -> b means a depends on
// b (b must be scheduled first).
func (g *Group) dependencyEdges() map[pathid.Path][]pathid.Path {
	edges := make(map[pathid.Path][]pathid.Path)
	groups := g.TransitiveGroups()
	for path, grp := range groups {
		edges[path] = append(edges[path], grp.Dependencies...)
	}
	for path, run := range g.Transitive() {
		edges[path] = append(edges[path], run.Dependencies()...)
	}
	return edges
}

// ErrCyclicDependencies is returned by Validate and by the planner when
// the dependency graph contains a cycle (spec section 4.7 rule 2).
var ErrCyclicDependencies = fmt.Errorf("cyclic dependencies")

// topoSort runs Kahn's algorithm over the given adjacency map (node ->
// its dependencies) and returns nodes ordered so that every dependency
// precedes its dependents. It returns ErrCyclicDependencies if the
// graph isn't a DAG.
func topoSort(edges map[pathid.Path][]pathid.Path) ([]pathid.Path, error) {
	inDegree := make(map[pathid.Path]int)
	dependents := make(map[pathid.Path][]pathid.Path)

	for node := range edges {
		if _, ok := inDegree[node]; !ok {
			inDegree[node] = 0
		}
	}
	for node, deps := range edges {
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], node)
			inDegree[node]++
			if _, ok := inDegree[dep]; !ok {
				inDegree[dep] = 0
			}
		}
	}

	var ready []pathid.Path
	for node, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, node)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].Less(ready[j]) })

	var order []pathid.Path
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)

		var unlocked []pathid.Path
		for _, dependent := range dependents[n] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				unlocked = append(unlocked, dependent)
			}
		}
		sort.Slice(unlocked, func(i, j int) bool { return unlocked[i].Less(unlocked[j]) })
		ready = append(ready, unlocked...)
	}

	if len(order) != len(inDegree) {
		return nil, ErrCyclicDependencies
	}
	return order, nil
}

// TopoSortSpecs returns every path in g's dependency graph (transitive
// run-specs, groups and dependency targets) ordered so that a
// dependency always precedes its dependents, or ErrCyclicDependencies.
// Used by the planner (section 4.7 rule 2) to lay out deployment steps.
func (g *Group) TopoSortSpecs() ([]pathid.Path, error) {
	return topoSort(g.dependencyEdges())
}

// TopoLayers groups every path in g's dependency graph (transitive
// run-specs, groups and dependency targets) into dependency layers:
// every path in a layer depends only on paths in strictly
// earlier layers, so a layer's actions may run concurrently while
// layers themselves run sequentially (spec section 4.7's "within a
// single step, actions run concurrently; between steps, sequentially").
func (g *Group) TopoLayers() ([][]pathid.Path, error) {
	edges := g.dependencyEdges()
	inDegree := make(map[pathid.Path]int, len(edges))
	dependents := make(map[pathid.Path][]pathid.Path)

	for node := range edges {
		if _, ok := inDegree[node]; !ok {
			inDegree[node] = 0
		}
	}
	for node, deps := range edges {
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], node)
			inDegree[node]++
			if _, ok := inDegree[dep]; !ok {
				inDegree[dep] = 0
			}
		}
	}

	var layers [][]pathid.Path
	remaining := len(inDegree)
	for remaining > 0 {
		var layer []pathid.Path
		for node, deg := range inDegree {
			if deg == 0 {
				layer = append(layer, node)
			}
		}
		if len(layer) == 0 {
			return nil, ErrCyclicDependencies
		}
		sort.Slice(layer, func(i, j int) bool { return layer[i].Less(layer[j]) })
		for _, node := range layer {
			delete(inDegree, node)
			remaining--
			for _, dependent := range dependents[node] {
				inDegree[dependent]--
			}
		}
		layers = append(layers, layer)
	}
	return layers, nil
}
