// Package effects implements the post-commit effect fan-out: a
// registry of callbacks invoked after a durable append succeeds,
// reading projections read-only via query and submitting follow-up
// commands/events back through the coordinator.
package effects

import (
	"context"
	"log"
	"os"

	"github.com/epikweb/singlewriter/pkg/engine/core"
	"github.com/epikweb/singlewriter/pkg/engine/lss"
)

// Submitter is the subset of coordinator.Coordinator the registry
// needs: resubmitting work through the same serialization token used
// by every other transaction.
type Submitter interface {
	Submit(ctx context.Context, section func(c *core.Core) (any, error)) (any, error)
}

// Callback is invoked once per dispatch round with the batch of
// events the triggering transaction just committed. A callback reads
// projections via submitter.Submit (never directly) and may submit
// new commands/events.
type Callback func(ctx context.Context, committed []lss.Event, submitter Submitter)

// Registry fans a commit out to every registered Callback. It
// implements coordinator.Dispatcher without importing that package,
// avoiding an import cycle (coordinator depends on effects only
// through the Dispatcher interface it declares).
type Registry struct {
	submitter Submitter
	callbacks []Callback
	logger    *log.Logger
}

// New constructs an empty Registry. SetSubmitter must be called once
// the owning Coordinator exists, before the first commit occurs.
func New() *Registry {
	return &Registry{logger: log.New(os.Stderr, "effects: ", log.LstdFlags|log.Lshortfile)}
}

// SetSubmitter wires the registry to the coordinator it fans out
// through. Breaks the construction-order cycle between Coordinator
// (which needs a Dispatcher) and Registry (which needs a Submitter).
func (r *Registry) SetSubmitter(s Submitter) { r.submitter = s }

// Register adds a callback to the fan-out list. Order is significant:
// callbacks run in registration order, one after another, on the
// goroutine that runs Dispatch, which is separate from the triggering
// commit's.
func (r *Registry) Register(cb Callback) {
	r.callbacks = append(r.callbacks, cb)
}

// Dispatch implements coordinator.Dispatcher. It never blocks the
// caller's own goroutine beyond running the registered callbacks;
// the coordinator itself invokes Dispatch from a background goroutine
// so the next queued job is never held up by effect work.
func (r *Registry) Dispatch(ctx context.Context, committed []lss.Event) {
	if r.submitter == nil {
		r.logger.Printf("dispatch skipped: no submitter wired yet")
		return
	}
	for _, cb := range r.callbacks {
		cb(ctx, committed, r.submitter)
	}
}
