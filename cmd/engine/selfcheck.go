package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/epikweb/singlewriter/internal/domain/subscriptions"
	"github.com/epikweb/singlewriter/pkg/engine/core"
)

// selfCheck starts an ephemeral Postgres container, wires a full
// engine against it, and exercises spec.md's S1, S3 and S4 scenarios
// end-to-end. It is the test_mode entry point: a cheap, self-contained
// proof that the wiring in bootstrap actually produces a working
// engine, without needing an external database or test harness.
func selfCheck(ctx context.Context) error {
	container, err := postgres.Run(ctx,
		"postgres:17.5-alpine",
		postgres.WithDatabase("singlewriter"),
		postgres.WithUsername("singlewriter"),
		postgres.WithPassword("singlewriter"),
	)
	if err != nil {
		return fmt.Errorf("start postgres container: %w", err)
	}
	defer container.Terminate(ctx)

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return fmt.Errorf("get connection string: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return fmt.Errorf("connect to self-check database: %w", err)
	}
	defer pool.Close()

	engine, err := bootstrap(ctx, pool, "")
	if err != nil {
		return fmt.Errorf("bootstrap self-check engine: %w", err)
	}

	if err := checkS1CreateSubscription(ctx, engine); err != nil {
		return fmt.Errorf("S1: %w", err)
	}
	if err := checkS3AssignmentFixpoint(ctx, engine); err != nil {
		return fmt.Errorf("S3: %w", err)
	}
	if err := checkS4RollbackOnFailure(ctx, engine); err != nil {
		return fmt.Errorf("S4: %w", err)
	}

	return nil
}

func checkS1CreateSubscription(ctx context.Context, engine *wiredEngine) error {
	value, err := engine.coordinator.Submit(ctx, func(c *core.Core) (any, error) {
		return c.Produce(core.Command{
			Type: subscriptions.SubscriptionCreate,
			Data: map[string]any{"plan": "gold", "createdBy": "selfcheck@example.com"},
		})
	})
	if err != nil {
		return err
	}
	events, ok := value.([]core.Event)
	if !ok || len(events) != 1 {
		return fmt.Errorf("expected exactly one event, got %v", value)
	}

	view := engine.core.Query(subscriptions.SubscriptionList, "sub-1")
	if core.IsAbsent(view) {
		return fmt.Errorf("Subscription.List has no entry for sub-1 after commit")
	}
	return nil
}

func checkS3AssignmentFixpoint(ctx context.Context, engine *wiredEngine) error {
	_, err := engine.coordinator.Submit(ctx, func(c *core.Core) (any, error) {
		return c.Produce(core.Command{
			Type: subscriptions.AssignMembers,
			Data: map[string]any{"subscriptionId": "sub-1", "members": []any{"m1", "m2"}},
		})
	})
	if err != nil {
		return err
	}

	// spec.md S3: right after this commit both members are pending -
	// completion only arrives later, asynchronously, via
	// AssignmentEffect's post-commit dispatch.
	tracker, ok := engine.core.Query(subscriptions.AssignmentTracker, "sub-1").(map[string]any)
	if !ok {
		return fmt.Errorf("Assignment.Tracker has no entry for sub-1")
	}
	pending, _ := tracker["pending"].([]any)
	if len(pending) != 2 {
		return fmt.Errorf("expected both members still pending right after commit, got %v", tracker["pending"])
	}
	completed, _ := tracker["completed"].([]any)
	if len(completed) != 0 {
		return fmt.Errorf("expected no members completed yet, got %v", tracker["completed"])
	}
	return nil
}

func checkS4RollbackOnFailure(ctx context.Context, engine *wiredEngine) error {
	_, err := engine.coordinator.Submit(ctx, func(c *core.Core) (any, error) {
		if _, err := c.Produce(core.Command{
			Type: subscriptions.SubscriptionCreate,
			Data: map[string]any{"plan": "will-not-commit", "createdBy": "x"},
		}); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("deliberate self-check failure")
	})
	if err == nil {
		return fmt.Errorf("expected the critical section to fail")
	}

	if !core.IsAbsent(engine.core.Query(subscriptions.SubscriptionList, "sub-2")) {
		return fmt.Errorf("rollback did not discard sub-2")
	}
	return nil
}
