package recovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epikweb/singlewriter/pkg/engine/core"
	"github.com/epikweb/singlewriter/pkg/engine/lss"
	"github.com/epikweb/singlewriter/pkg/engine/lss/memory"
)

func newReplayCore() *core.Core {
	c := core.New()
	c.RegisterViewState(core.ViewStateEntry{
		ViewID:       "Subscription.List",
		InitialState: map[string]any{},
		Reduce: map[string]core.ReducerFn{
			"Subscription.Created": func(state any, event core.Event) any {
				m := state.(map[string]any)
				out := map[string]any{}
				for k, v := range m {
					out[k] = v
				}
				data := event.Data.(map[string]any)
				out[data["subscriptionId"].(string)] = data
				return out
			},
		},
	})
	return c
}

func TestReplayFoldsEventsWithoutRunningStateMachines(t *testing.T) {
	store := memory.New()
	_, err := store.PhysicalAppend(context.Background(), []lss.InputEvent{
		{PartitionID: "sub-1", Type: "Subscription.Created", Data: []byte(`{"subscriptionId":"sub-1","plan":"p","createdBy":"u"}`)},
	})
	require.NoError(t, err)

	c := newReplayCore()
	var triggerRan bool
	c.RegisterStateMachine(core.StateMachineEntry{
		ViewID: "Subscription.List",
		Trigger: func(q core.Query, p core.Producer) error {
			triggerRan = true
			return nil
		},
	})

	require.NoError(t, Replay(context.Background(), store, c, nil))

	assert.False(t, triggerRan, "state machines must not run during replay")

	list := c.Query("Subscription.List", "sub-1")
	require.False(t, core.IsAbsent(list))
	assert.Equal(t, "p", list.(map[string]any)["plan"])
}

func TestReplayIsANoOpForBootstrapEventAlone(t *testing.T) {
	store := memory.New()
	c := newReplayCore()

	require.NoError(t, Replay(context.Background(), store, c, nil))

	assert.True(t, core.IsAbsent(c.Query("Subscription.List", "sub-1")))
}
