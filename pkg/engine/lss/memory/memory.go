// Package memory implements an in-process lss.Store backed by a plain
// slice. It is used by the coordinator and recovery unit tests and for
// local development; the durable backing store for production is
// pkg/engine/lss/postgres.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/epikweb/singlewriter/pkg/engine/lss"
)

// Store is a single-process, mutex-guarded log-structured store. It
// satisfies lss.Store and seeds the LSS.Initialized bootstrap record
// on first use, exactly as §4.1 specifies for an empty store.
type Store struct {
	mu     sync.Mutex
	events []lss.Event
	nextID int64
	now    func() time.Time
}

// New creates an empty Store and appends the bootstrap record.
func New() *Store {
	s := &Store{now: time.Now}
	s.bootstrap()
	return s
}

// NewWithClock is like New but lets tests control the appendTime.
func NewWithClock(now func() time.Time) *Store {
	s := &Store{now: now}
	s.bootstrap()
	return s
}

func (s *Store) bootstrap() {
	at, err := lss.StampAppendTime(nil, s.now())
	if err != nil {
		panic(err)
	}
	s.events = append(s.events, lss.Event{
		OrderID:     0,
		PartitionID: lss.SystemPartition,
		Type:        lss.InitializedEventType,
		Data:        []byte("{}"),
		Metadata:    at,
	})
	s.nextID = 1
}

// PhysicalAppend implements lss.Writer.
func (s *Store) PhysicalAppend(_ context.Context, events []lss.InputEvent) ([]lss.Event, error) {
	if len(events) == 0 {
		return nil, &lss.ValidationError{
			StoreError: lss.StoreError{Op: "PhysicalAppend", Err: errEmptyBatch},
			Field:      "events", Value: "empty",
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.now()
	out := make([]lss.Event, 0, len(events))
	for _, in := range events {
		metadata, err := lss.StampAppendTime(in.Metadata, at)
		if err != nil {
			return nil, &lss.StoreError{Op: "PhysicalAppend", Err: err}
		}
		e := lss.Event{
			OrderID:     s.nextID,
			PartitionID: in.PartitionID,
			Type:        in.Type,
			Data:        in.Data,
			Metadata:    metadata,
		}
		s.nextID++
		s.events = append(s.events, e)
		out = append(out, e)
	}
	return out, nil
}

// PhysicalRead implements lss.Reader.
func (s *Store) PhysicalRead(_ context.Context) (lss.EventIterator, error) {
	s.mu.Lock()
	snapshot := append([]lss.Event(nil), s.events...)
	s.mu.Unlock()
	return &sliceIterator{events: snapshot}, nil
}

// LogicalRead implements lss.Reader.
func (s *Store) LogicalRead(_ context.Context, partitionID string, opts lss.ReadOptions) ([]lss.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []lss.Event
	for _, e := range s.events {
		if e.PartitionID == partitionID {
			matched = append(matched, e)
		}
	}
	if !opts.Ascending {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(matched) {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

// LogicalReadFirst implements lss.Reader.
func (s *Store) LogicalReadFirst(ctx context.Context, partitionID string) (lss.Event, error) {
	events, err := s.LogicalRead(ctx, partitionID, lss.ReadOptions{Ascending: true, Limit: 1})
	if err != nil {
		return lss.Event{}, err
	}
	if len(events) == 0 {
		return lss.Event{}, emptyPartitionErr(partitionID)
	}
	return events[0], nil
}

// LogicalReadLast implements lss.Reader.
func (s *Store) LogicalReadLast(ctx context.Context, partitionID string) (lss.Event, error) {
	events, err := s.LogicalRead(ctx, partitionID, lss.ReadOptions{Ascending: false, Limit: 1})
	if err != nil {
		return lss.Event{}, err
	}
	if len(events) == 0 {
		return lss.Event{}, emptyPartitionErr(partitionID)
	}
	return events[0], nil
}

func emptyPartitionErr(partitionID string) error {
	return &lss.EmptyPartitionError{
		StoreError:  lss.StoreError{Op: "LogicalRead", Err: errNoEvents},
		PartitionID: partitionID,
	}
}

type sliceIterator struct {
	events []lss.Event
	pos    int
}

func (it *sliceIterator) Next(context.Context) (lss.Event, bool, error) {
	if it.pos >= len(it.events) {
		return lss.Event{}, false, nil
	}
	e := it.events[it.pos]
	it.pos++
	return e, true, nil
}

func (it *sliceIterator) Close() error { return nil }
