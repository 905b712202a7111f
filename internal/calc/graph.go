package calc

import "sort"

// Graph is the directed dependency relation between symbols, stored as id
// pairs. An edge a -> b means a's formulas read b. Both directions are indexed
// so dependents can be listed without a scan. Cycles are allowed.
type Graph struct {
	deps       map[string]map[string]struct{}
	dependents map[string]map[string]struct{}
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		deps:       make(map[string]map[string]struct{}),
		dependents: make(map[string]map[string]struct{}),
	}
}

// AddEdge records that from depends on to. It reports whether the edge is new.
func (g *Graph) AddEdge(from, to string) bool {
	if _, ok := g.deps[from][to]; ok {
		return false
	}
	link(g.deps, from, to)
	link(g.dependents, to, from)
	return true
}

// RemoveEdge deletes from -> to. It reports whether the edge existed.
func (g *Graph) RemoveEdge(from, to string) bool {
	if _, ok := g.deps[from][to]; !ok {
		return false
	}
	unlink(g.deps, from, to)
	unlink(g.dependents, to, from)
	return true
}

// HasEdge reports whether from depends on to.
func (g *Graph) HasEdge(from, to string) bool {
	_, ok := g.deps[from][to]
	return ok
}

// Dependencies lists what id depends on, sorted.
func (g *Graph) Dependencies(id string) []string { return sortedKeys(g.deps[id]) }

// Dependents lists what depends on id, sorted.
func (g *Graph) Dependents(id string) []string { return sortedKeys(g.dependents[id]) }

// Order returns ids rearranged so that, where the graph is acyclic, every
// symbol comes after the symbols it depends on. Dependencies outside ids are
// ignored and cycles are cut at the first revisit.
func (g *Graph) Order(ids []string) []string {
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}

	out := make([]string, 0, len(ids))
	visited := make(map[string]bool, len(ids))
	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, dep := range g.Dependencies(id) {
			if known[dep] {
				visit(dep)
			}
		}
		out = append(out, id)
	}
	for _, id := range ids {
		visit(id)
	}
	return out
}

func link(m map[string]map[string]struct{}, a, b string) {
	set, ok := m[a]
	if !ok {
		set = make(map[string]struct{})
		m[a] = set
	}
	set[b] = struct{}{}
}

func unlink(m map[string]map[string]struct{}, a, b string) {
	delete(m[a], b)
	if len(m[a]) == 0 {
		delete(m, a)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
