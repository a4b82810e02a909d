// Package postgres implements the durable lss.Store on top of
// pgx/pgxpool, mirroring the teacher library's eventStore: a thin
// struct wrapping a *pgxpool.Pool, oppertunistic validation before any
// round trip, and lss.StoreError-family errors on every failure path.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/epikweb/singlewriter/pkg/engine/lss"
)

// Store is the durable, Postgres-backed lss.Store. The coordinator
// holds the sole Writer reference; Store itself takes no in-process
// locks, trusting the single-writer discipline enforced above it.
type Store struct {
	pool         *pgxpool.Pool
	maxBatchSize int
}

// New pings pool, ensures the schema exists, and seeds the
// LSS.Initialized bootstrap record the first time the log is empty.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		return nil, &lss.StorageError{
			StoreError: lss.StoreError{Op: "New", Err: fmt.Errorf("unable to connect to database: %w", err)},
			Resource:   "database",
		}
	}

	s := &Store{pool: pool, maxBatchSize: 1000}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return nil, &lss.StorageError{
			StoreError: lss.StoreError{Op: "New", Err: fmt.Errorf("ensure schema: %w", err)},
			Resource:   "database",
		}
	}

	if err := s.seedBootstrap(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) seedBootstrap(ctx context.Context) error {
	var count int
	err := s.pool.QueryRow(ctx, "SELECT count(*) FROM lss_log").Scan(&count)
	if err != nil {
		return &lss.StorageError{
			StoreError: lss.StoreError{Op: "seedBootstrap", Err: err},
			Resource:   "database",
		}
	}
	if count > 0 {
		return nil
	}

	metadata, err := lss.StampAppendTime(nil, time.Now())
	if err != nil {
		return &lss.StoreError{Op: "seedBootstrap", Err: err}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO lss_log (order_id, partition_id, type, data, metadata)
		VALUES (nextval('lss_log_order_id_seq') - 1, $1, $2, '{}'::jsonb, $3::jsonb)
	`, lss.SystemPartition, lss.InitializedEventType, metadata)
	if err != nil {
		return &lss.StorageError{
			StoreError: lss.StoreError{Op: "seedBootstrap", Err: err},
			Resource:   "database",
		}
	}
	return nil
}

// PhysicalAppend implements lss.Writer. All events in the batch are
// reserved consecutive order IDs from lss_log_order_id_seq and
// inserted within a single transaction, so a batch is all-or-nothing
// and no other writer can interleave order IDs into the gap (the
// coordinator above guarantees there is no other writer at all).
func (s *Store) PhysicalAppend(ctx context.Context, events []lss.InputEvent) ([]lss.Event, error) {
	if len(events) == 0 {
		return nil, &lss.ValidationError{
			StoreError: lss.StoreError{Op: "PhysicalAppend", Err: fmt.Errorf("events must not be empty")},
			Field:      "events", Value: "empty",
		}
	}
	if len(events) > s.maxBatchSize {
		return nil, &lss.ValidationError{
			StoreError: lss.StoreError{Op: "PhysicalAppend", Err: fmt.Errorf("batch size %d exceeds maximum of %d", len(events), s.maxBatchSize)},
			Field:      "events", Value: fmt.Sprintf("count:%d", len(events)),
		}
	}
	for i, e := range events {
		if len(e.PartitionID) > lss.MaxPartitionIDLen {
			return nil, &lss.ValidationError{
				StoreError: lss.StoreError{Op: "PhysicalAppend", Err: fmt.Errorf("event at index %d has oversized partition id", i)},
				Field:      "partitionId", Value: e.PartitionID,
			}
		}
		if len(e.Type) > lss.MaxTypeLen {
			return nil, &lss.ValidationError{
				StoreError: lss.StoreError{Op: "PhysicalAppend", Err: fmt.Errorf("event at index %d has oversized type", i)},
				Field:      "type", Value: e.Type,
			}
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, &lss.StorageError{
			StoreError: lss.StoreError{Op: "PhysicalAppend", Err: err},
			Resource:   "database",
		}
	}
	defer tx.Rollback(ctx)

	at := time.Now()
	out := make([]lss.Event, 0, len(events))
	batch := &pgx.Batch{}
	for _, in := range events {
		metadata, merr := lss.StampAppendTime(in.Metadata, at)
		if merr != nil {
			return nil, &lss.StoreError{Op: "PhysicalAppend", Err: merr}
		}
		data := in.Data
		if data == nil {
			data = []byte("{}")
		}
		batch.Queue(`
			INSERT INTO lss_log (order_id, partition_id, type, data, metadata)
			VALUES (nextval('lss_log_order_id_seq'), $1, $2, $3::jsonb, $4::jsonb)
			RETURNING order_id
		`, in.PartitionID, in.Type, data, metadata)
		out = append(out, lss.Event{
			PartitionID: in.PartitionID,
			Type:        in.Type,
			Data:        data,
			Metadata:    metadata,
		})
	}

	results := tx.SendBatch(ctx, batch)
	for i := range out {
		if err := results.QueryRow().Scan(&out[i].OrderID); err != nil {
			results.Close()
			return nil, &lss.StorageError{
				StoreError: lss.StoreError{Op: "PhysicalAppend", Err: fmt.Errorf("insert event %d: %w", i, err)},
				Resource:   "database",
			}
		}
	}
	if err := results.Close(); err != nil {
		return nil, &lss.StorageError{
			StoreError: lss.StoreError{Op: "PhysicalAppend", Err: err},
			Resource:   "database",
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, &lss.StorageError{
			StoreError: lss.StoreError{Op: "PhysicalAppend", Err: err},
			Resource:   "database",
		}
	}

	return out, nil
}

// PhysicalRead implements lss.Reader, streaming the whole log in
// order_id order for recovery.
func (s *Store) PhysicalRead(ctx context.Context) (lss.EventIterator, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT order_id, partition_id, type, data, metadata
		FROM lss_log
		ORDER BY order_id ASC
	`)
	if err != nil {
		return nil, &lss.StorageError{
			StoreError: lss.StoreError{Op: "PhysicalRead", Err: err},
			Resource:   "database",
		}
	}
	return &rowIterator{rows: rows}, nil
}

// LogicalRead implements lss.Reader for a single partition.
func (s *Store) LogicalRead(ctx context.Context, partitionID string, opts lss.ReadOptions) ([]lss.Event, error) {
	order := "ASC"
	if !opts.Ascending {
		order = "DESC"
	}
	query := fmt.Sprintf(`
		SELECT order_id, partition_id, type, data, metadata
		FROM lss_log
		WHERE partition_id = $1
		ORDER BY order_id %s
	`, order)
	args := []any{partitionID}
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &lss.StorageError{
			StoreError: lss.StoreError{Op: "LogicalRead", Err: err},
			Resource:   "database",
		}
	}
	defer rows.Close()

	var out []lss.Event
	for rows.Next() {
		var e lss.Event
		if err := rows.Scan(&e.OrderID, &e.PartitionID, &e.Type, &e.Data, &e.Metadata); err != nil {
			return nil, &lss.StorageError{
				StoreError: lss.StoreError{Op: "LogicalRead", Err: err},
				Resource:   "database",
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &lss.StorageError{
			StoreError: lss.StoreError{Op: "LogicalRead", Err: err},
			Resource:   "database",
		}
	}
	return out, nil
}

// LogicalReadFirst implements lss.Reader.
func (s *Store) LogicalReadFirst(ctx context.Context, partitionID string) (lss.Event, error) {
	events, err := s.LogicalRead(ctx, partitionID, lss.ReadOptions{Ascending: true, Limit: 1})
	if err != nil {
		return lss.Event{}, err
	}
	if len(events) == 0 {
		return lss.Event{}, &lss.EmptyPartitionError{
			StoreError:  lss.StoreError{Op: "LogicalReadFirst", Err: fmt.Errorf("partition is empty")},
			PartitionID: partitionID,
		}
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
		return lss.Event{}, &lss.EmptyPartitionError{
			StoreError:  lss.StoreError{Op: "LogicalReadLast", Err: fmt.Errorf("partition is empty")},
			PartitionID: partitionID,
		}
	}
	return events[0], nil
}

type rowIterator struct {
	rows pgx.Rows
}

func (it *rowIterator) Next(context.Context) (lss.Event, bool, error) {
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			return lss.Event{}, false, &lss.StorageError{
				StoreError: lss.StoreError{Op: "PhysicalRead.Next", Err: err},
				Resource:   "database",
			}
		}
		return lss.Event{}, false, nil
	}
	var e lss.Event
	if err := it.rows.Scan(&e.OrderID, &e.PartitionID, &e.Type, &e.Data, &e.Metadata); err != nil {
		return lss.Event{}, false, &lss.StorageError{
			StoreError: lss.StoreError{Op: "PhysicalRead.Next", Err: err},
			Resource:   "database",
		}
	}
	return e, true, nil
}

func (it *rowIterator) Close() error {
	it.rows.Close()
	return nil
}
