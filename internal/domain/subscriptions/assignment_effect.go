package subscriptions

import (
	"context"
	"encoding/json"

	"github.com/epikweb/singlewriter/pkg/engine/core"
	"github.com/epikweb/singlewriter/pkg/engine/effects"
	"github.com/epikweb/singlewriter/pkg/engine/lss"
)

// AssignmentEffect returns an effects.Callback that completes every
// Member.AssignmentRequested event in a just-committed batch by
// consuming a Member.AssignedToSubscription event back through the
// coordinator. Because Dispatch runs post-commit, outside the
// requesting transaction, a member always passes through an
// observable "pending" state first; if the tracker gets dirtied again
// before this runs (e.g. another member in the same batch completing
// first), triggerAssignmentTracker re-issues Member.Assign for any
// member still pending, including this one - the re-issue defect
// spec.md's design notes call out, reproduced rather than patched
// over.
func AssignmentEffect() effects.Callback {
	return func(ctx context.Context, committed []lss.Event, submitter effects.Submitter) {
		for _, e := range committed {
			if e.Type != MemberAssignmentRequested {
				continue
			}

			var fields map[string]any
			if err := json.Unmarshal(e.Data, &fields); err != nil {
				continue
			}
			subscriptionID := e.PartitionID
			member, ok := fields["member"].(string)
			if !ok {
				continue
			}

			_, _ = submitter.Submit(ctx, func(c *core.Core) (any, error) {
				return nil, c.Consume(core.Event{
					Type:        MemberAssignedToSubscription,
					PartitionID: subscriptionID,
					Data: map[string]any{
						"subscriptionId": subscriptionID,
						"member":         member,
					},
				})
			})
		}
	}
}
