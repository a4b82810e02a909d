package subscriptions

import (
	"fmt"

	"github.com/epikweb/singlewriter/pkg/engine/core"
)

const (
	AssignmentTracker = "Assignment.Tracker"
	MemberAssign      = "Member.Assign"

	// MemberAssignmentRequested is the durable event a Member.Assign
	// command emits. It is deliberately NOT reduced by
	// Assignment.Tracker, so a requested member stays "pending" across
	// the commit that requested it. Completion arrives later, out of
	// band, as a separate Member.AssignedToSubscription event consumed
	// by AssignmentEffect once the (here, trivial) assignment work is
	// done - never synchronously inside the same mapper.
	MemberAssignmentRequested    = "Member.AssignmentRequested"
	MemberAssignedToSubscription = "Member.AssignedToSubscription"
	MemberAssignmentFailed       = "Member.AssignmentFailed"
)

func wireAssignment(c *core.Core) {
	c.RegisterChangeState(core.ChangeStateEntry{
		ViewID:       AssignMembers,
		InitialState: nil,
		Reduce:       map[string]core.ReducerFn{},
		Map:          mapAssignMembers,
	})

	c.RegisterChangeState(core.ChangeStateEntry{
		ViewID:       MemberAssign,
		InitialState: nil,
		Reduce:       map[string]core.ReducerFn{},
		Map:          mapMemberAssign,
	})

	c.RegisterViewState(core.ViewStateEntry{
		ViewID:       AssignmentTracker,
		InitialState: map[string]any{},
		Reduce: map[string]core.ReducerFn{
			MembersAssignmentStarted:    reduceAssignmentStarted,
			MemberAssignedToSubscription: reduceMemberCompleted,
			MemberAssignmentFailed:      reduceMemberFailed,
		},
	})

	c.RegisterStateMachine(core.StateMachineEntry{
		ViewID:  AssignmentTracker,
		Trigger: triggerAssignmentTracker,
	})
}

func mapAssignMembers(data, state any) ([]core.Event, error) {
	fields, ok := data.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("Subscription.Assign.Members: data must be an object, got %T", data)
	}
	subscriptionID, _ := fields["subscriptionId"].(string)
	members, _ := fields["members"].([]any)

	return []core.Event{{
		Type:        MembersAssignmentStarted,
		PartitionID: subscriptionID,
		Data: map[string]any{
			"subscriptionId": subscriptionID,
			"members":        members,
		},
	}}, nil
}

// mapMemberAssign only records that a member's assignment was
// requested; it must not itself emit Member.AssignedToSubscription.
// Completion has to arrive asynchronously (AssignmentEffect consumes
// it back through the coordinator after the requesting transaction
// has already committed), otherwise a member would never observably
// be "pending" and the re-issue defect described in spec.md's design
// notes could never manifest.
func mapMemberAssign(data, state any) ([]core.Event, error) {
	fields, ok := data.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("Member.Assign: data must be an object, got %T", data)
	}
	subscriptionID, _ := fields["subscriptionId"].(string)
	member, _ := fields["member"].(string)

	return []core.Event{{
		Type:        MemberAssignmentRequested,
		PartitionID: subscriptionID,
		Data: map[string]any{
			"subscriptionId": subscriptionID,
			"member":         member,
		},
	}}, nil
}

func reduceAssignmentStarted(state any, event core.Event) any {
	trackers := copyMap(state.(map[string]any))
	data := event.Data.(map[string]any)
	subscriptionID := data["subscriptionId"].(string)
	trackers[subscriptionID] = map[string]any{
		"pending":   data["members"],
		"completed": []any{},
		"failed":    []any{},
	}
	return trackers
}

func reduceMemberCompleted(state any, event core.Event) any {
	return moveMember(state, event, "completed")
}

func reduceMemberFailed(state any, event core.Event) any {
	return moveMember(state, event, "failed")
}

func moveMember(state any, event core.Event, destination string) any {
	trackers := copyMap(state.(map[string]any))
	data := event.Data.(map[string]any)
	subscriptionID := data["subscriptionId"].(string)
	member := data["member"].(string)

	tracker, ok := trackers[subscriptionID].(map[string]any)
	if !ok {
		return trackers
	}

	pending, _ := tracker["pending"].([]any)
	dest, _ := tracker[destination].([]any)

	var remaining []any
	for _, m := range pending {
		if m == member {
			dest = append(dest, m)
			continue
		}
		remaining = append(remaining, m)
	}

	trackers[subscriptionID] = map[string]any{
		"pending":   remaining,
		"completed": tracker["completed"],
		"failed":    tracker["failed"],
		destination: dest,
	}
	return trackers
}

// triggerAssignmentTracker issues one Member.Assign command per
// pending member, every time the tracker is marked dirty. This
// reproduces the source's documented defect verbatim: a member still
// "pending" across two dirty passes gets re-issued a command each
// time, because nothing here deduplicates in-flight members. The
// spec leaves deduplication to the application; we surface the defect
// rather than silently fix it.
func triggerAssignmentTracker(q core.Query, p core.Producer) error {
	trackers := q(AssignmentTracker)
	if core.IsAbsent(trackers) {
		return nil
	}
	for subscriptionID, v := range trackers.(map[string]any) {
		tracker, ok := v.(map[string]any)
		if !ok {
			continue
		}
		pending, _ := tracker["pending"].([]any)
		for _, member := range pending {
			_, err := p(core.Command{
				Type: MemberAssign,
				Data: map[string]any{
					"subscriptionId": subscriptionID,
					"member":         member,
				},
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}
