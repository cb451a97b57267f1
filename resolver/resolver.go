// Package resolver computes the transitive dependency closure of a package
// from the metadata cache.
package resolver

import (
	"errors"
	"fmt"

	"github.com/deftorch/deftheim/db"

	"go.uber.org/zap"
)

var ErrResolution = errors.New("dependency resolution failed")

// Source is the read side of the metadata cache the resolver walks.
type Source interface {
	DependenciesOf(id string) ([]string, error)
	LocatorOf(id string) (string, error)
	ContentHashOf(id string) (string, error)
}

// Entry is one package to install. Hash is the expected sha256 hex digest of
// the payload, empty when none is recorded.
type Entry struct {
	ID      string
	Locator string
	Hash    string
}

// Edge is a dependency relation observed while resolving.
type Edge struct {
	From string
	To   string
}

// Missing is a dependency that was skipped because no download locator is
// known for it.
type Missing struct {
	ID           string
	RequiredBy   string
	LookupFailed error
}

// Plan is the deduplicated install closure of a root package. Entries[0] is
// the root.
type Plan struct {
	Entries []Entry
	Missing []Missing
	Edges   []Edge
}

// Root returns the root entry of the plan.
func (p *Plan) Root() Entry {
	if len(p.Entries) == 0 {
		return Entry{}
	}
	return p.Entries[0]
}

// Dependencies returns every entry except the root.
func (p *Plan) Dependencies() []Entry {
	if len(p.Entries) < 2 {
		return nil
	}
	return p.Entries[1:]
}

// IDs returns the entry ids in plan order.
func (p *Plan) IDs() []string {
	ids := make([]string, 0, len(p.Entries))
	for _, e := range p.Entries {
		ids = append(ids, e.ID)
	}
	return ids
}

type Resolver struct {
	source Source
	log    *zap.SugaredLogger
}

func New(source Source, log *zap.SugaredLogger) *Resolver {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Resolver{source: source, log: log}
}

type frame struct {
	id      string
	locator string
}

func (r *Resolver) hashOf(id string) (string, error) {
	hash, err := r.source.ContentHashOf(id)
	if errors.Is(err, db.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: content hash of %s: %w", ErrResolution, id, err)
	}
	return hash, nil
}

// Resolve walks the dependency graph depth first from rootID. Every id
// appears at most once in the plan; revisiting an id (diamond or cycle)
// stops that branch. A dependency without a locator is skipped and recorded
// in Plan.Missing. Storage errors abort resolution.
func (r *Resolver) Resolve(rootID, rootLocator string) (*Plan, error) {
	if rootID == "" {
		return nil, fmt.Errorf("%w: empty root id", ErrResolution)
	}

	plan := &Plan{}
	visited := make(map[string]bool)
	stack := []frame{{id: rootID, locator: rootLocator}}

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if visited[cur.id] {
			continue
		}
		visited[cur.id] = true
		hash, err := r.hashOf(cur.id)
		if err != nil {
			return nil, err
		}
		plan.Entries = append(plan.Entries, Entry{ID: cur.id, Locator: cur.locator, Hash: hash})

		deps, err := r.source.DependenciesOf(cur.id)
		if err != nil {
			return nil, fmt.Errorf("%w: dependencies of %s: %w", ErrResolution, cur.id, err)
		}

		children := make([]frame, 0, len(deps))
		for _, dep := range deps {
			if dep == "" {
				continue
			}
			plan.Edges = append(plan.Edges, Edge{From: cur.id, To: dep})
			if visited[dep] {
				continue
			}

			locator, err := r.source.LocatorOf(dep)
			if err != nil || locator == "" {
				if err != nil && !errors.Is(err, db.ErrNotFound) {
					return nil, fmt.Errorf("%w: locator of %s: %w", ErrResolution, dep, err)
				}
				r.log.Warnw("Skipping dependency without download locator",
					zap.String("dependency", dep), zap.String("required_by", cur.id))
				plan.Missing = append(plan.Missing, Missing{ID: dep, RequiredBy: cur.id, LookupFailed: err})
				// Mark it so a second reference does not log twice.
				visited[dep] = true
				continue
			}
			children = append(children, frame{id: dep, locator: locator})
		}

		// Push in reverse so children pop in declaration order.
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}

	r.log.Infow("Resolved install plan",
		zap.String("root", rootID),
		zap.Int("packages", len(plan.Entries)),
		zap.Int("missing", len(plan.Missing)))
	return plan, nil
}
