// Package subscriptions is the reference domain spec.md's scenarios
// S1-S6 describe: subscription creation, member assignment via a
// reactive state machine, and an email-notification projection
// drained by the effect fan-out. It exercises every generic engine
// concern end-to-end, the way internal/examples/enrollment exercises
// the teacher library.
package subscriptions

import (
	"fmt"

	"github.com/epikweb/singlewriter/pkg/engine/core"
)

const (
	SubscriptionCreate     = "Subscription.Create"
	SubscriptionList       = "Subscription.List"
	SubscriptionCreated    = "Subscription.Created"
	AssignMembers          = "Subscription.Assign.Members"
	MembersAssignmentStarted = "Members.AssignmentStarted"
)

// Wire registers every ChangeState, ViewState and StateMachine entry
// this domain defines onto c. Call once, before any Produce/Consume.
func Wire(c *core.Core) {
	wireSubscriptions(c)
	wireAssignment(c)
	wireEmails(c)
}

func wireSubscriptions(c *core.Core) {
	reduce := map[string]core.ReducerFn{
		SubscriptionCreated: reduceSubscriptionCreated,
	}

	c.RegisterChangeState(core.ChangeStateEntry{
		ViewID:       SubscriptionCreate,
		InitialState: map[string]any{},
		Reduce:       reduce,
		Map:          mapSubscriptionCreate,
	})

	c.RegisterViewState(core.ViewStateEntry{
		ViewID:       SubscriptionList,
		InitialState: map[string]any{},
		Reduce:       reduce,
	})
}

// mapSubscriptionCreate allocates the next subscription id purely by
// reading how many subscriptions the ChangeState has folded so far.
// It never mutates state: per the resolved Open Question, nextId
// comes exclusively from the Subscription.Created fold, not from a
// side effect inside the mapper.
func mapSubscriptionCreate(data, state any) ([]core.Event, error) {
	fields, ok := data.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("Subscription.Create: data must be an object, got %T", data)
	}
	plan, _ := fields["plan"].(string)
	createdBy, _ := fields["createdBy"].(string)

	subscriptions := state.(map[string]any)
	subscriptionID := fmt.Sprintf("sub-%d", len(subscriptions)+1)

	return []core.Event{{
		Type:        SubscriptionCreated,
		PartitionID: subscriptionID,
		Data: map[string]any{
			"subscriptionId": subscriptionID,
			"plan":           plan,
			"createdBy":      createdBy,
		},
	}}, nil
}

func reduceSubscriptionCreated(state any, event core.Event) any {
	subscriptions := copyMap(state.(map[string]any))
	data := event.Data.(map[string]any)
	subscriptions[data["subscriptionId"].(string)] = map[string]any{
		"plan":      data["plan"],
		"createdBy": data["createdBy"],
		"members":   []any{},
	}
	return subscriptions
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
