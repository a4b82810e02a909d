package grpcfacade

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/epikweb/singlewriter/pkg/engine/core"
)

type fakeSubmitter struct {
	captured core.Command
}

func (f *fakeSubmitter) Submit(ctx context.Context, section func(c *core.Core) (any, error)) (any, error) {
	c := core.New()
	c.RegisterChangeState(core.ChangeStateEntry{
		ViewID:       "Subscription.Create",
		InitialState: nil,
		Reduce:       map[string]core.ReducerFn{},
		Map: func(data, state any) ([]core.Event, error) {
			return []core.Event{{Type: "Subscription.Created", Data: data}}, nil
		},
	})
	return section(c)
}

func TestSubmitCommandDecodesAndSubmits(t *testing.T) {
	sub := &fakeSubmitter{}
	facade := NewFacade(sub)

	req, err := structpb.NewStruct(map[string]any{
		"type": "Subscription.Create",
		"data": map[string]any{"plan": "gold"},
	})
	require.NoError(t, err)

	resp, err := facade.SubmitCommand(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, float64(1), resp.AsMap()["committed"])
}

func TestSubmitCommandRejectsMissingType(t *testing.T) {
	facade := NewFacade(&fakeSubmitter{})

	req, err := structpb.NewStruct(map[string]any{"data": map[string]any{}})
	require.NoError(t, err)

	_, err = facade.SubmitCommand(context.Background(), req)
	assert.Error(t, err)
}
