// Package coordinator implements the serializing transaction
// coordinator: a FIFO executor binding synchronous functional-core
// work to a durable LSS append, with rollback-on-error and
// fatal-on-storage-error semantics, followed by effect fan-out.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/epikweb/singlewriter/pkg/engine/core"
	"github.com/epikweb/singlewriter/pkg/engine/lss"
)

// CriticalSection is a unit of in-memory work submitted to the
// coordinator. It may call Produce/Consume/Query on core and return
// an arbitrary caller value alongside an error.
type CriticalSection func(c *core.Core) (any, error)

// Dispatcher runs post-commit effect callbacks against the events a
// transaction durably committed. Dispatch must not block; it is
// invoked in its own goroutine so the coordinator can start the next
// queued job immediately.
type Dispatcher interface {
	Dispatch(ctx context.Context, events []lss.Event)
}

// FatalHandler is invoked when a durable append fails. The default
// terminates the process, matching the protocol's requirement that a
// StorageError forces a restart-and-replay recovery; tests supply
// their own handler to observe the failure without exiting.
type FatalHandler func(err error)

type job struct {
	ctx     context.Context
	section CriticalSection
	resultC chan result
}

type result struct {
	value any
	err   error
}

// Coordinator serializes all mutating access to one Core and one
// lss.Writer through a single worker goroutine.
type Coordinator struct {
	core   *core.Core
	writer lss.Writer

	dispatcher Dispatcher
	fatal      FatalHandler
	logger     *log.Logger

	jobs       chan job
	done       chan struct{}
	stopped    chan struct{}
	stopOnce   sync.Once
}

// Option configures a Coordinator at construction time.
type Option func(*Coordinator)

// WithDispatcher registers the effect fan-out invoked after each
// successful commit.
func WithDispatcher(d Dispatcher) Option {
	return func(c *Coordinator) { c.dispatcher = d }
}

// WithFatalHandler overrides the default process-exit behavior on a
// storage failure.
func WithFatalHandler(h FatalHandler) Option {
	return func(c *Coordinator) { c.fatal = h }
}

// WithLogger overrides the default stderr logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// New constructs a Coordinator and starts its FIFO worker goroutine
// bound to ctx; cancelling ctx drains in-flight work and stops the
// worker.
func New(ctx context.Context, coreEngine *core.Core, writer lss.Writer, opts ...Option) *Coordinator {
	c := &Coordinator{
		core:    coreEngine,
		writer:  writer,
		logger:  log.New(os.Stderr, "coordinator: ", log.LstdFlags|log.Lshortfile),
		jobs:    make(chan job),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.fatal == nil {
		c.fatal = func(err error) {
			c.logger.Printf("fatal: durable append failed, stopping: %v", err)
			os.Exit(1)
		}
	}

	go c.run(ctx)
	return c
}

// Submit enqueues criticalSection and blocks until it has run to
// commit/rollback and the resulting append (if any) has completed.
// It returns the value the critical section returned, or the error
// that caused a rollback or a fatal append failure.
//
// The parameter is written as a plain function type, matching
// effects.Submitter and grpcfacade.Submitter exactly, rather than as
// the named CriticalSection type: Go's interface satisfaction rules
// compare method parameter types for identity, and a named type is
// never identical to an unnamed type with the same underlying
// signature, so Coordinator would otherwise fail to satisfy those
// interfaces despite being structurally compatible.
func (c *Coordinator) Submit(ctx context.Context, section func(c *core.Core) (any, error)) (any, error) {
	j := job{ctx: ctx, section: section, resultC: make(chan result, 1)}

	select {
	case c.jobs <- j:
	case <-c.stopped:
		return nil, fmt.Errorf("coordinator stopped: no longer accepting work")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-j.resultC:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			c.closeStopped()
			return
		case <-c.stopped:
			return
		case j := <-c.jobs:
			c.process(j)
		}
	}
}

func (c *Coordinator) closeStopped() {
	c.stopOnce.Do(func() { close(c.stopped) })
}

func (c *Coordinator) process(j job) {
	value, err := j.section(c.core)
	if err != nil {
		c.core.Rollback()
		c.logger.Printf("critical section failed, rolled back: %v", err)
		j.resultC <- result{nil, err}
		return
	}

	txEvents := c.core.Commit()
	if len(txEvents) == 0 {
		// An empty commit skips the append (there is nothing to
		// persist) and, as a deliberate deviation from a literal
		// reading of the step order, also skips fan-out here: with no
		// committed events there is nothing for a Dispatcher to react
		// to, and no dirtied ViewState could have produced this empty
		// buffer in the first place.
		j.resultC <- result{value, nil}
		return
	}

	inputEvents := make([]lss.InputEvent, 0, len(txEvents))
	for _, e := range txEvents {
		data, merr := json.Marshal(e.Data)
		if merr != nil {
			c.logger.Printf("failed to marshal event %q for append: %v", e.Type, merr)
			j.resultC <- result{nil, merr}
			return
		}
		inputEvents = append(inputEvents, lss.InputEvent{
			PartitionID: e.PartitionID,
			Type:        e.Type,
			Data:        data,
		})
	}

	persisted, err := c.writer.PhysicalAppend(j.ctx, inputEvents)
	if err != nil {
		j.resultC <- result{nil, err}
		c.closeStopped()
		c.fatal(&AppendFailedError{Op: "process", Err: err})
		return
	}

	j.resultC <- result{value, nil}

	if c.dispatcher != nil {
		go c.dispatcher.Dispatch(j.ctx, persisted)
	}
}

// Done is closed once the worker goroutine has exited, after ctx
// passed to New is cancelled.
func (c *Coordinator) Done() <-chan struct{} { return c.done }
