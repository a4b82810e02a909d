// Package recovery implements the replay-only startup driver: before
// accepting any external input, it streams the full log through
// core.Reduce in orderId order. State machines and effects must not
// run during this pass; any dirty-view markers it leaves behind are
// discarded once replay completes.
package recovery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/epikweb/singlewriter/pkg/engine/core"
	"github.com/epikweb/singlewriter/pkg/engine/lss"
)

// Decoder turns a durable lss.Event's JSON payload back into the
// core.Event shape a ChangeState/ViewState reducer expects. Supplied
// by the caller because only the domain layer knows its own event
// schema; the engine itself is payload-agnostic.
type Decoder func(e lss.Event) (core.Event, error)

// JSONDecoder is the default Decoder: it unmarshals Data into a
// generic map[string]any, which is sufficient for reducers written
// against untyped event payloads (as core.ReducerFn expects).
func JSONDecoder(e lss.Event) (core.Event, error) {
	var data any
	if len(e.Data) > 0 {
		if err := json.Unmarshal(e.Data, &data); err != nil {
			return core.Event{}, fmt.Errorf("decode event %q: %w", e.Type, err)
		}
	}
	return core.Event{Type: e.Type, PartitionID: e.PartitionID, Data: data}, nil
}

// Replay reads the full log via reader.PhysicalRead and folds every
// event into c through core.Reduce, in orderId order. It never calls
// Produce/Consume and never triggers a StateMachine. The bootstrap
// LSS.Initialized record has no matching reducer anywhere and is
// folded as a harmless no-op.
func Replay(ctx context.Context, reader lss.Reader, c *core.Core, decode Decoder) error {
	if decode == nil {
		decode = JSONDecoder
	}

	it, err := reader.PhysicalRead(ctx)
	if err != nil {
		return fmt.Errorf("replay: open physical read: %w", err)
	}
	defer it.Close()

	for {
		e, ok, err := it.Next(ctx)
		if err != nil {
			return fmt.Errorf("replay: read event: %w", err)
		}
		if !ok {
			break
		}

		event, err := decode(e)
		if err != nil {
			return fmt.Errorf("replay: order_id %d: %w", e.OrderID, err)
		}

		if err := c.Reduce(event); err != nil {
			return fmt.Errorf("replay: reduce order_id %d: %w", e.OrderID, err)
		}
	}

	c.DiscardDirtyMarkers()
	return nil
}
