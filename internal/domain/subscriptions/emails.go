package subscriptions

import (
	"fmt"

	"github.com/epikweb/singlewriter/pkg/engine/core"
)

const (
	EmailsToSend   = "Emails.To.Send"
	EmailFailed    = "Email.Failed"
	EmailSucceeded = "Email.Succeeded"

	// maxEmailAttempts bounds the at-least-once retry bookkeeping
	// (spec.md S6): an entry is dropped once its failed-attempt count
	// would reach this many.
	maxEmailAttempts = 10
)

func wireEmails(c *core.Core) {
	c.RegisterViewState(core.ViewStateEntry{
		ViewID: EmailsToSend,
		InitialState: map[string]any{
			"nextId": float64(1),
			"list":   []any{},
		},
		Reduce: map[string]core.ReducerFn{
			MemberAssignedToSubscription: reduceQueueEmail,
			EmailFailed:                  reduceEmailFailed,
			EmailSucceeded:               reduceEmailSucceeded,
		},
	})
}

// reduceQueueEmail pushes a new due notification onto state.list. The
// source's revision in one branch pushed onto a bare, non-array
// state; the corrected behavior (per the resolved Open Question)
// pushes onto state.list specifically.
func reduceQueueEmail(state any, event core.Event) any {
	s := state.(map[string]any)
	nextID := s["nextId"].(float64)
	list, _ := s["list"].([]any)
	data := event.Data.(map[string]any)

	entry := map[string]any{
		"id":             fmt.Sprintf("email-%d", int64(nextID)),
		"subscriptionId": data["subscriptionId"],
		"member":         data["member"],
		"attempt":        float64(0),
	}

	return map[string]any{
		"nextId": nextID + 1,
		"list":   append(append([]any(nil), list...), entry),
	}
}

// reduceEmailFailed increments the attempt counter for the notified
// entry and drops it once it would reach maxEmailAttempts (S6).
func reduceEmailFailed(state any, event core.Event) any {
	s := state.(map[string]any)
	list, _ := s["list"].([]any)
	data := event.Data.(map[string]any)
	id := data["id"].(string)

	out := make([]any, 0, len(list))
	for _, v := range list {
		entry, ok := v.(map[string]any)
		if !ok || entry["id"] != id {
			out = append(out, v)
			continue
		}
		attempt := entry["attempt"].(float64) + 1
		if attempt >= maxEmailAttempts {
			continue
		}
		updated := copyMap(entry)
		updated["attempt"] = attempt
		out = append(out, updated)
	}

	return map[string]any{"nextId": s["nextId"], "list": out}
}

// reduceEmailSucceeded removes the notified entry from state.list.
func reduceEmailSucceeded(state any, event core.Event) any {
	s := state.(map[string]any)
	list, _ := s["list"].([]any)
	data := event.Data.(map[string]any)
	id := data["id"].(string)

	out := make([]any, 0, len(list))
	for _, v := range list {
		entry, ok := v.(map[string]any)
		if ok && entry["id"] == id {
			continue
		}
		out = append(out, v)
	}
	return map[string]any{"nextId": s["nextId"], "list": out}
}
