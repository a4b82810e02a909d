package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCounterCore() *Core {
	c := New()
	c.RegisterChangeState(ChangeStateEntry{
		ViewID:       "Counter.Increment",
		InitialState: map[string]any{"next": float64(1)},
		Reduce: map[string]ReducerFn{
			"Counter.Incremented": func(state any, event Event) any {
				data := event.Data.(map[string]any)
				return map[string]any{"next": data["value"].(float64) + 1}
			},
		},
		Map: func(data, state any) ([]Event, error) {
			next := state.(map[string]any)["next"].(float64)
			return []Event{{Type: "Counter.Incremented", Data: map[string]any{"value": next}}}, nil
		},
	})
	c.RegisterViewState(ViewStateEntry{
		ViewID:       "Counter.View",
		InitialState: map[string]any{},
		Reduce: map[string]ReducerFn{
			"Counter.Incremented": func(state any, event Event) any {
				m := state.(map[string]any)
				out := map[string]any{}
				for k, v := range m {
					out[k] = v
				}
				out["value"] = event.Data.(map[string]any)["value"]
				return out
			},
		},
	})
	return c
}

func TestProduceAppendsAndFoldsEvents(t *testing.T) {
	c := newCounterCore()

	events, err := c.Produce(Command{Type: "Counter.Increment"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Counter.Incremented", events[0].Type)

	assert.Equal(t, float64(1), c.Query("Counter.View", "value"))
}

func TestProduceUnknownCommandType(t *testing.T) {
	c := newCounterCore()

	_, err := c.Produce(Command{Type: "No.Such.Entry"})
	require.Error(t, err)
	assert.True(t, IsUnknownCommandError(err))
}

func TestProduceMapperError(t *testing.T) {
	c := New()
	boom := errors.New("boom")
	c.RegisterChangeState(ChangeStateEntry{
		ViewID:       "Failing.Command",
		InitialState: nil,
		Reduce:       map[string]ReducerFn{},
		Map: func(data, state any) ([]Event, error) {
			return nil, boom
		},
	})

	_, err := c.Produce(Command{Type: "Failing.Command"})
	require.Error(t, err)
	assert.True(t, IsMapperError(err))
}

func TestRollbackRestoresPreChangeSnapshot(t *testing.T) {
	c := newCounterCore()

	_, err := c.Produce(Command{Type: "Counter.Increment"})
	require.NoError(t, err)
	assert.Equal(t, float64(1), c.Query("Counter.View", "value"))

	c.Rollback()

	assert.True(t, IsAbsent(c.Query("Counter.View", "value")))
	assert.Empty(t, c.Commit())
}

func TestCommitClearsBufferAndSnapshots(t *testing.T) {
	c := newCounterCore()

	_, err := c.Produce(Command{Type: "Counter.Increment"})
	require.NoError(t, err)

	events := c.Commit()
	assert.Len(t, events, 1)

	assert.Empty(t, c.Commit())
}

func TestQueryAbsentForMissingPath(t *testing.T) {
	c := newCounterCore()

	assert.True(t, IsAbsent(c.Query("No.Such.View")))
	assert.True(t, IsAbsent(c.Query("Counter.View", "nope", "deeper")))
}

func TestStateMachineFixpointRunsOnceAndCanRecurse(t *testing.T) {
	c := newCounterCore()

	var triggerCalls int
	c.RegisterStateMachine(StateMachineEntry{
		ViewID: "Counter.View",
		Trigger: func(q Query, p Producer) error {
			triggerCalls++
			value := q("Counter.View", "value").(float64)
			if value < 3 {
				_, err := p(Command{Type: "Counter.Increment"})
				return err
			}
			return nil
		},
	})

	_, err := c.Produce(Command{Type: "Counter.Increment"})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, triggerCalls, 3)
	assert.Equal(t, float64(3), c.Query("Counter.View", "value"))
}

func TestConsumeRecordsExternalEventAndFolds(t *testing.T) {
	c := newCounterCore()

	err := c.Consume(Event{Type: "Counter.Incremented", Data: map[string]any{"value": float64(41)}})
	require.NoError(t, err)

	assert.Equal(t, float64(41), c.Query("Counter.View", "value"))
	events := c.Commit()
	require.Len(t, events, 1)
}

func TestUnmatchedEventTypeIsNoOp(t *testing.T) {
	c := newCounterCore()

	err := c.Consume(Event{Type: "Nothing.Matches.This"})
	require.NoError(t, err)

	events := c.Commit()
	require.Len(t, events, 1)
	assert.True(t, IsAbsent(c.Query("Counter.View", "value")))
}
