package subscriptions

import (
	"context"

	"github.com/epikweb/singlewriter/pkg/engine/core"
	"github.com/epikweb/singlewriter/pkg/engine/effects"
	"github.com/epikweb/singlewriter/pkg/engine/lss"
)

// EmailSender is the outbound side of the Emails.To.Send drain; the
// process wiring (cmd/engine) supplies an implementation backed by
// whatever transport it configures (e.g. an HTTP client against
// SendGrid's API when sendgrid_api_key is set).
type EmailSender interface {
	Send(ctx context.Context, subscriptionID, member string) error
}

// EmailEffect returns an effects.Callback that, on every dispatch
// round, reads the full Emails.To.Send list and attempts delivery for
// each entry, submitting Email.Succeeded or Email.Failed back through
// the coordinator. It is not itself a StateMachine: per spec.md §4.5,
// effect callbacks run post-commit, outside the serialization token,
// and only reach back into the core via Submit.
func EmailEffect(sender EmailSender) effects.Callback {
	return func(ctx context.Context, committed []lss.Event, submitter effects.Submitter) {
		result, err := submitter.Submit(ctx, func(c *core.Core) (any, error) {
			return c.Query(EmailsToSend, "list"), nil
		})
		if err != nil || core.IsAbsent(result) {
			return
		}

		list, _ := result.([]any)
		for _, v := range list {
			entry, ok := v.(map[string]any)
			if !ok {
				continue
			}
			id, _ := entry["id"].(string)
			subscriptionID, _ := entry["subscriptionId"].(string)
			member, _ := entry["member"].(string)

			if sendErr := sender.Send(ctx, subscriptionID, member); sendErr != nil {
				_, _ = submitter.Submit(ctx, func(c *core.Core) (any, error) {
					return nil, c.Consume(core.Event{
						Type:        EmailFailed,
						PartitionID: subscriptionID,
						Data:        map[string]any{"id": id},
					})
				})
				continue
			}

			_, _ = submitter.Submit(ctx, func(c *core.Core) (any, error) {
				return nil, c.Consume(core.Event{
					Type:        EmailSucceeded,
					PartitionID: subscriptionID,
					Data:        map[string]any{"id": id},
				})
			})
		}
	}
}

