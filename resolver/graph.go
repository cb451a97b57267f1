package resolver

import (
	"errors"
	"fmt"

	"github.com/dominikbraun/graph"
)

// Graph builds a directed graph of the resolved closure. An edge points from
// a package to one of its dependencies. Skipped dependencies are not part of
// the graph.
func (p *Plan) Graph() (graph.Graph[string, Entry], error) {
	g := graph.New(func(e Entry) string { return e.ID }, graph.Directed())

	for _, e := range p.Entries {
		if err := g.AddVertex(e); err != nil && !errors.Is(err, graph.ErrVertexAlreadyExists) {
			return nil, fmt.Errorf("failed to add %s: %w", e.ID, err)
		}
	}
	for _, edge := range p.Edges {
		err := g.AddEdge(edge.From, edge.To)
		switch {
		case err == nil, errors.Is(err, graph.ErrEdgeAlreadyExists):
		case errors.Is(err, graph.ErrVertexNotFound):
			// Edge into a skipped dependency.
		default:
			return nil, fmt.Errorf("failed to add edge %s -> %s: %w", edge.From, edge.To, err)
		}
	}
	return g, nil
}

// InstallOrder returns the entries with every dependency ahead of the
// packages that need it. Ties keep plan order. A closure that contains a
// cycle has no such order; the plan is then returned reversed, so the root
// still comes last.
func (p *Plan) InstallOrder() []Entry {
	index := make(map[string]int, len(p.Entries))
	for i, e := range p.Entries {
		index[e.ID] = i
	}

	reversed := func() []Entry {
		out := make([]Entry, 0, len(p.Entries))
		for i := len(p.Entries) - 1; i >= 0; i-- {
			out = append(out, p.Entries[i])
		}
		return out
	}

	g, err := p.Graph()
	if err != nil {
		return reversed()
	}
	// Dependents sort first; the result is reversed below.
	order, err := graph.StableTopologicalSort(g, func(a, b string) bool { return index[a] > index[b] })
	if err != nil || len(order) != len(p.Entries) {
		return reversed()
	}

	out := make([]Entry, 0, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		out = append(out, p.Entries[index[order[i]]])
	}
	return out
}

// Dependents returns the ids in the plan that directly depend on id.
func (p *Plan) Dependents(id string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, e := range p.Edges {
		if e.To == id && !seen[e.From] {
			seen[e.From] = true
			out = append(out, e.From)
		}
	}
	return out
}
