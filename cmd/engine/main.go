// Command engine boots the command-processing engine: it wires the
// durable Postgres log-structured store to the functional core, the
// transaction coordinator, the recovery driver and the effect
// fan-out, then either blocks serving submissions or, under
// test_mode, runs a built-in self-check and exits.
package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"google.golang.org/grpc"

	"github.com/epikweb/singlewriter/internal/domain/subscriptions"
	"github.com/epikweb/singlewriter/internal/transport/grpcfacade"
	"github.com/epikweb/singlewriter/pkg/engine/core"
	"github.com/epikweb/singlewriter/pkg/engine/coordinator"
	"github.com/epikweb/singlewriter/pkg/engine/effects"
	"github.com/epikweb/singlewriter/pkg/engine/lss/postgres"
	"github.com/epikweb/singlewriter/pkg/engine/recovery"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.SetOutput(os.Stderr)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	databaseURL := os.Getenv("database_url")
	if databaseURL == "" {
		log.Fatal("database_url is required")
	}
	sendgridAPIKey := os.Getenv("sendgrid_api_key")
	testMode := os.Getenv("test_mode") != ""

	if testMode {
		os.Exit(runSelfCheck(ctx))
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		log.Fatalf("failed to create connection pool: %v", err)
	}
	defer pool.Close()

	engine, err := bootstrap(ctx, pool, sendgridAPIKey)
	if err != nil {
		log.Fatalf("failed to bootstrap engine: %v", err)
	}

	if addr := os.Getenv("grpc_addr"); addr != "" {
		if err := serveGRPC(ctx, addr, engine); err != nil {
			log.Fatalf("failed to start gRPC facade: %v", err)
		}
	}

	log.Print("engine is ready, blocking until shutdown signal")
	<-ctx.Done()
	<-engine.coordinator.Done()
}

// serveGRPC starts grpcfacade's single RPC on addr in the background;
// it stops when ctx is cancelled.
func serveGRPC(ctx context.Context, addr string, engine *wiredEngine) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	server := grpc.NewServer()
	grpcfacade.RegisterServer(server, grpcfacade.NewFacade(engine.coordinator))

	go func() {
		<-ctx.Done()
		server.GracefulStop()
	}()

	go func() {
		if err := server.Serve(lis); err != nil {
			log.Printf("gRPC facade stopped: %v", err)
		}
	}()

	log.Printf("gRPC facade listening on %s", addr)
	return nil
}

type wiredEngine struct {
	core        *core.Core
	coordinator *coordinator.Coordinator
	registry    *effects.Registry
}

// bootstrap wires pgxpool -> LSS -> functional core -> recovery driver
// -> effect fan-out -> coordinator, in that order. Recovery runs before
// the coordinator exists, so the engine never accepts new submissions
// against stale projections.
func bootstrap(ctx context.Context, pool *pgxpool.Pool, sendgridAPIKey string) (*wiredEngine, error) {
	store, err := postgres.New(ctx, pool)
	if err != nil {
		return nil, err
	}

	c := core.New()
	subscriptions.Wire(c)

	if err := recovery.Replay(ctx, store, c, nil); err != nil {
		return nil, err
	}

	registry := effects.New()
	registry.Register(subscriptions.AssignmentEffect())
	registry.Register(subscriptions.EmailEffect(newEmailSender(sendgridAPIKey)))

	coord := coordinator.New(ctx, c, store, coordinator.WithDispatcher(registry))
	registry.SetSubmitter(coord)

	return &wiredEngine{core: c, coordinator: coord, registry: registry}, nil
}

// newEmailSender returns a no-op sender when no API key is
// configured, per spec.md §6 ("if absent, a no-op callback is
// registered").
func newEmailSender(apiKey string) subscriptions.EmailSender {
	if apiKey == "" {
		return noopEmailSender{}
	}
	return sendgridEmailSender{apiKey: apiKey}
}

type noopEmailSender struct{}

func (noopEmailSender) Send(context.Context, string, string) error { return nil }

// runSelfCheck spins up an ephemeral Postgres via testcontainers,
// wires a full engine against it, replays S1, S3 and S4 from spec.md
// in process, and reports success/failure as an exit code.
func runSelfCheck(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	if err := selfCheck(ctx); err != nil {
		log.Printf("self-check failed: %v", err)
		return 1
	}
	log.Print("self-check passed")
	return 0
}
