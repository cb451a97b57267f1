package installer

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/deftorch/deftheim/resolver"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type EventKind int

const (
	EventResolved EventKind = iota
	EventStarted
	EventSkipped
	EventInstalled
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventResolved:
		return "resolved"
	case EventStarted:
		return "started"
	case EventSkipped:
		return "skipped"
	case EventInstalled:
		return "installed"
	case EventFailed:
		return "failed"
	}
	return "unknown"
}

// Event reports progress of a batch. Total is set on EventResolved.
type Event struct {
	Kind  EventKind
	ID    string
	Err   error
	Total int
}

// Reporter receives batch events. It may be called from several goroutines
// at once.
type Reporter func(Event)

// BatchResult is the outcome of installing a plan. The batch succeeds when
// the root installed; dependency failures are recorded, not returned.
type BatchResult struct {
	Root      string
	Installed []string
	Skipped   []string
	Failed    map[string]error
	Missing   []resolver.Missing
}

// OK reports whether every entry of the plan is in place.
func (r *BatchResult) OK() bool {
	return len(r.Failed) == 0 && len(r.Missing) == 0
}

type collector struct {
	mu     sync.Mutex
	result *BatchResult
}

func (c *collector) record(id string, installed bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case err != nil:
		c.result.Failed[id] = err
	case installed:
		c.result.Installed = append(c.result.Installed, id)
	default:
		c.result.Skipped = append(c.result.Skipped, id)
	}
}

func (i *Installer) report(e Event) {
	if i.opts.Reporter != nil {
		i.opts.Reporter(e)
	}
}

func (i *Installer) installEntry(ctx context.Context, e resolver.Entry) (bool, error) {
	i.report(Event{Kind: EventStarted, ID: e.ID})
	installed, err := i.install(ctx, e.ID, e.Locator, e.Hash)
	switch {
	case err != nil:
		i.report(Event{Kind: EventFailed, ID: e.ID, Err: err})
	case installed:
		i.report(Event{Kind: EventInstalled, ID: e.ID})
	default:
		i.report(Event{Kind: EventSkipped, ID: e.ID})
	}
	return installed, err
}

func (i *Installer) newResult(plan *resolver.Plan) (*collector, error) {
	if plan == nil || len(plan.Entries) == 0 {
		return nil, fmt.Errorf("%w: empty install plan", ErrValidation)
	}
	i.report(Event{Kind: EventResolved, ID: plan.Root().ID, Total: len(plan.Entries)})
	return &collector{result: &BatchResult{
		Root:    plan.Root().ID,
		Failed:  make(map[string]error),
		Missing: plan.Missing,
	}}, nil
}

// installRoot installs the root entry. Its failure fails the whole batch.
func (i *Installer) installRoot(ctx context.Context, plan *resolver.Plan, c *collector) error {
	root := plan.Root()
	installed, err := i.installEntry(ctx, root)
	if err != nil {
		return fmt.Errorf("failed to install %s: %w", root.ID, err)
	}
	c.record(root.ID, installed, nil)
	return nil
}

// InstallBatch installs the root entry of plan, then its dependencies with
// at most Options.Concurrency installs in flight. A failing dependency is
// logged and recorded in the result; it never cancels its siblings.
func (i *Installer) InstallBatch(ctx context.Context, plan *resolver.Plan) (*BatchResult, error) {
	c, err := i.newResult(plan)
	if err != nil {
		return nil, err
	}
	if err := i.installRoot(ctx, plan, c); err != nil {
		return nil, err
	}

	// Not errgroup.WithContext: one failure must not cancel the rest.
	var g errgroup.Group
	g.SetLimit(i.opts.Concurrency)
	for _, entry := range plan.Dependencies() {
		g.Go(func() error {
			installed, err := i.installEntry(ctx, entry)
			if err != nil {
				i.log.Errorw("Dependency install failed",
					zap.String("id", entry.ID), zap.String("root", plan.Root().ID), zap.Error(err))
			}
			c.record(entry.ID, installed, err)
			return nil
		})
	}
	_ = g.Wait()

	sortResult(c.result)
	i.log.Infow("Batch install finished",
		zap.String("root", c.result.Root),
		zap.Int("installed", len(c.result.Installed)),
		zap.Int("skipped", len(c.result.Skipped)),
		zap.Int("failed", len(c.result.Failed)),
		zap.Int("missing", len(c.result.Missing)))
	return c.result, nil
}

// InstallSequential installs every entry of plan in order, one at a time.
// Dependency failures are handled as in InstallBatch.
func (i *Installer) InstallSequential(ctx context.Context, plan *resolver.Plan) (*BatchResult, error) {
	c, err := i.newResult(plan)
	if err != nil {
		return nil, err
	}
	if err := i.installRoot(ctx, plan, c); err != nil {
		return nil, err
	}
	for _, entry := range plan.Dependencies() {
		installed, err := i.installEntry(ctx, entry)
		if err != nil {
			i.log.Errorw("Dependency install failed",
				zap.String("id", entry.ID), zap.String("root", plan.Root().ID), zap.Error(err))
		}
		c.record(entry.ID, installed, err)
	}

	sortResult(c.result)
	return c.result, nil
}

func sortResult(r *BatchResult) {
	sort.Strings(r.Installed)
	sort.Strings(r.Skipped)
}
