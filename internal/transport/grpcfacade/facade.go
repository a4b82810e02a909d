package grpcfacade

import (
	"context"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/epikweb/singlewriter/pkg/engine/core"
)

// Submitter is the subset of coordinator.Coordinator the facade
// needs: one synchronous round trip through the serialization token.
type Submitter interface {
	Submit(ctx context.Context, section func(c *core.Core) (any, error)) (any, error)
}

// Facade implements CommandServer by decoding the incoming
// {"type": string, "data": object} Struct into a core.Command,
// submitting it, and reporting back how many events the command
// produced directly.
type Facade struct {
	submitter Submitter
}

// NewFacade wires a Facade to submitter.
func NewFacade(submitter Submitter) *Facade {
	return &Facade{submitter: submitter}
}

// SubmitCommand implements CommandServer.
func (f *Facade) SubmitCommand(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.AsMap()

	commandType, ok := fields["type"].(string)
	if !ok || commandType == "" {
		return nil, fmt.Errorf("grpcfacade: request is missing a string \"type\" field")
	}

	result, err := f.submitter.Submit(ctx, func(c *core.Core) (any, error) {
		return c.Produce(core.Command{Type: commandType, Data: fields["data"]})
	})
	if err != nil {
		return nil, err
	}

	events, _ := result.([]core.Event)
	return structpb.NewStruct(map[string]any{
		"committed": float64(len(events)),
	})
}
