package grpcfacade

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client is a thin wrapper over a *grpc.ClientConn for callers that
// don't want to hand-construct the method name.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an existing connection; it does not own cc's
// lifecycle.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// SubmitCommand invokes the SubmitCommand RPC.
func (c *Client) SubmitCommand(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, submitCommandMethod, req, out); err != nil {
		return nil, err
	}
	return out, nil
}
