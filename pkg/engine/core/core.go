package core

import "fmt"

// defaultMaxFixpointDepth bounds the recursion of the state-machine
// fixpoint (§9 design note: "implementers should cap recursion depth
// and fail the transaction on overflow to prevent runaway fixpoints").
const defaultMaxFixpointDepth = 64

// Core owns every ChangeState, ViewState and StateMachine entry and
// the current transaction's buffer, snapshot map and dirty set. It is
// not safe for concurrent use; the coordinator above it is the sole
// caller and serializes all access.
type Core struct {
	changeStates map[string]*ChangeStateEntry
	viewStates   map[string]*ViewStateEntry
	machines     map[string]*StateMachineEntry

	changeStateValues map[string]any
	viewStateValues   map[string]any

	buffer    []Event
	snapshots map[snapshotKey]any
	dirty     map[string]bool

	depth            int
	maxFixpointDepth int
}

// New constructs an empty Core. RegisterChangeState/RegisterViewState
// /RegisterStateMachine populate it before any Produce/Consume call.
func New() *Core {
	return &Core{
		changeStates:      map[string]*ChangeStateEntry{},
		viewStates:        map[string]*ViewStateEntry{},
		machines:          map[string]*StateMachineEntry{},
		changeStateValues: map[string]any{},
		viewStateValues:   map[string]any{},
		snapshots:         map[snapshotKey]any{},
		dirty:             map[string]bool{},
		maxFixpointDepth:  defaultMaxFixpointDepth,
	}
}

// RegisterChangeState adds a ChangeState entry and seeds its initial
// state. Must be called before Produce/Consume/Reduce run.
func (c *Core) RegisterChangeState(e ChangeStateEntry) {
	c.changeStates[e.ViewID] = &e
	c.changeStateValues[e.ViewID] = e.InitialState
}

// RegisterViewState adds a ViewState entry and seeds its initial
// state.
func (c *Core) RegisterViewState(e ViewStateEntry) {
	c.viewStates[e.ViewID] = &e
	c.viewStateValues[e.ViewID] = e.InitialState
}

// RegisterStateMachine adds a StateMachine entry reacting to the
// named ViewState's dirty marker.
func (c *Core) RegisterStateMachine(e StateMachineEntry) {
	c.machines[e.ViewID] = &e
}

// Produce locates the ChangeState entry whose ViewID equals
// cmd.Type, invokes its mapper, appends the resulting events to the
// transaction buffer, folds each through Reduce, then runs the
// state-machine fixpoint once. It returns only the events produced
// directly by this call, not any transitive ones emitted by machines
// it triggers.
func (c *Core) Produce(cmd Command) ([]Event, error) {
	entry, ok := c.changeStates[cmd.Type]
	if !ok {
		return nil, &UnknownCommandError{
			CoreError:   CoreError{Op: "Produce", Err: fmt.Errorf("no ChangeState entry for command type %q", cmd.Type)},
			CommandType: cmd.Type,
		}
	}

	events, err := entry.Map(cmd.Data, c.changeStateValues[entry.ViewID])
	if err != nil {
		return nil, &MapperError{
			CoreError:   CoreError{Op: "Produce", Err: err},
			CommandType: cmd.Type,
		}
	}

	for _, ev := range events {
		c.buffer = append(c.buffer, ev)
		if err := c.Reduce(ev); err != nil {
			return nil, err
		}
	}

	if err := c.runFixpoint(); err != nil {
		return nil, err
	}

	return events, nil
}

// Consume records an externally-sourced event: pushes it to the
// transaction buffer (so it is also persisted), folds it through
// Reduce, then runs the state-machine fixpoint.
func (c *Core) Consume(event Event) error {
	c.buffer = append(c.buffer, event)
	if err := c.Reduce(event); err != nil {
		return err
	}
	return c.runFixpoint()
}

// Reduce folds one event into every matching ViewState and
// ChangeState. The first time a projection is touched in the current
// transaction it is snapshotted before mutation. Every ViewState
// whose reducer matched is marked dirty.
func (c *Core) Reduce(event Event) error {
	for viewID, entry := range c.changeStates {
		fn, ok := entry.Reduce[event.Type]
		if !ok {
			continue
		}
		key := snapshotKey{kind: snapshotChangeState, viewID: viewID}
		if _, snapshotted := c.snapshots[key]; !snapshotted {
			snap, err := deepCopy(c.changeStateValues[viewID])
			if err != nil {
				return &CoreError{Op: "Reduce", Err: err}
			}
			c.snapshots[key] = snap
		}
		c.changeStateValues[viewID] = fn(c.changeStateValues[viewID], event)
	}

	for viewID, entry := range c.viewStates {
		fn, ok := entry.Reduce[event.Type]
		if !ok {
			continue
		}
		key := snapshotKey{kind: snapshotViewState, viewID: viewID}
		if _, snapshotted := c.snapshots[key]; !snapshotted {
			snap, err := deepCopy(c.viewStateValues[viewID])
			if err != nil {
				return &CoreError{Op: "Reduce", Err: err}
			}
			c.snapshots[key] = snap
		}
		c.viewStateValues[viewID] = fn(c.viewStateValues[viewID], event)
		c.dirty[viewID] = true
	}

	return nil
}

// Query path-walks the ViewState tree: path[0] selects a registered
// ViewState by ViewID, and each following element walks into a
// map[string]any. A missing key at any step returns Absent.
func (c *Core) Query(path ...string) any {
	if len(path) == 0 {
		return Absent
	}
	current, ok := c.viewStateValues[path[0]]
	if !ok {
		return Absent
	}
	for _, key := range path[1:] {
		m, ok := current.(map[string]any)
		if !ok {
			return Absent
		}
		current, ok = m[key]
		if !ok {
			return Absent
		}
	}
	return current
}

// Commit returns the transaction buffer and atomically clears it and
// the snapshot map. It does not persist anything; that is the
// coordinator's job.
func (c *Core) Commit() []Event {
	events := c.buffer
	c.buffer = nil
	c.snapshots = map[snapshotKey]any{}
	return events
}

// Rollback restores every snapshotted projection to its pre-change
// value and clears the transaction buffer and snapshot map. Safe to
// call on a transaction with no snapshots (no-op beyond clearing).
func (c *Core) Rollback() {
	for key, value := range c.snapshots {
		switch key.kind {
		case snapshotChangeState:
			c.changeStateValues[key.viewID] = value
		case snapshotViewState:
			c.viewStateValues[key.viewID] = value
		}
	}
	c.buffer = nil
	c.snapshots = map[snapshotKey]any{}
	c.dirty = map[string]bool{}
}

// DiscardDirtyMarkers clears the dirty-view marker set and any
// pre-change snapshots without restoring them, for use by the
// recovery driver after a replay pass where no StateMachine ever ran
// and nothing needs rolling back.
func (c *Core) DiscardDirtyMarkers() {
	c.dirty = map[string]bool{}
	c.snapshots = map[snapshotKey]any{}
}

// runFixpoint copies and clears the dirty-view marker set, then
// invokes each StateMachine whose ViewID appears in that snapshot
// exactly once. A trigger's calls to Produce recursively fold events
// and repopulate the dirty set; because Produce itself calls
// runFixpoint at the end of its own work, the outer fixpoint repeats
// naturally through this recursive re-entry rather than an explicit
// loop here.
func (c *Core) runFixpoint() error {
	if len(c.dirty) == 0 {
		return nil
	}

	c.depth++
	defer func() { c.depth-- }()
	if c.depth > c.maxFixpointDepth {
		return &FixpointOverflowError{
			CoreError: CoreError{Op: "runFixpoint", Err: fmt.Errorf("exceeded max fixpoint depth %d", c.maxFixpointDepth)},
		}
	}

	dirtySnapshot := c.dirty
	c.dirty = map[string]bool{}

	for viewID := range dirtySnapshot {
		machine, ok := c.machines[viewID]
		if !ok {
			continue
		}
		if err := machine.Trigger(c.Query, c.Produce); err != nil {
			return err
		}
	}

	return nil
}
