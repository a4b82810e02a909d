package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epikweb/singlewriter/pkg/engine/lss"
)

func TestNewSeedsBootstrapEvent(t *testing.T) {
	store := New()

	first, err := store.LogicalReadFirst(context.Background(), lss.SystemPartition)
	require.NoError(t, err)
	assert.Equal(t, int64(0), first.OrderID)
	assert.Equal(t, lss.InitializedEventType, first.Type)
}

func TestPhysicalAppendAssignsConsecutiveOrderIDs(t *testing.T) {
	store := New()

	events, err := store.PhysicalAppend(context.Background(), []lss.InputEvent{
		{PartitionID: "p1", Type: "A"},
		{PartitionID: "p1", Type: "B"},
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, events[0].OrderID+1, events[1].OrderID)
}

func TestPhysicalAppendRejectsEmptyBatch(t *testing.T) {
	store := New()

	_, err := store.PhysicalAppend(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, lss.IsValidationError(err))
}

func TestLogicalReadFirstOnEmptyPartition(t *testing.T) {
	store := New()

	_, err := store.LogicalReadFirst(context.Background(), "never-seen")
	require.Error(t, err)
	assert.True(t, lss.IsEmptyPartitionError(err))
}

func TestLogicalReadRespectsOrderingAndPagination(t *testing.T) {
	store := New()
	_, err := store.PhysicalAppend(context.Background(), []lss.InputEvent{
		{PartitionID: "p1", Type: "A"},
		{PartitionID: "p1", Type: "B"},
		{PartitionID: "p1", Type: "C"},
	})
	require.NoError(t, err)

	descending, err := store.LogicalRead(context.Background(), "p1", lss.ReadOptions{Ascending: false, Limit: 2})
	require.NoError(t, err)
	require.Len(t, descending, 2)
	assert.Equal(t, "C", descending[0].Type)
	assert.Equal(t, "B", descending[1].Type)
}

func TestPhysicalReadStreamsFullLogInOrder(t *testing.T) {
	store := New()
	_, err := store.PhysicalAppend(context.Background(), []lss.InputEvent{
		{PartitionID: "p1", Type: "A"},
	})
	require.NoError(t, err)

	it, err := store.PhysicalRead(context.Background())
	require.NoError(t, err)
	defer it.Close()

	var lastOrderID int64 = -1
	count := 0
	for {
		e, ok, err := it.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		assert.Greater(t, e.OrderID, lastOrderID)
		lastOrderID = e.OrderID
		count++
	}
	assert.Equal(t, 2, count)
}
