// orderflow runs the order processing service: an HTTP API for starting and
// managing orders, plus an embedded worker executing the orchestration and
// its activities.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/trace"
	_ "modernc.org/sqlite"

	"github.com/corvid-labs/durable/api"
	"github.com/corvid-labs/durable/backend"
	"github.com/corvid-labs/durable/backend/memory"
	redisbackend "github.com/corvid-labs/durable/backend/redis"
	"github.com/corvid-labs/durable/backend/sqlite"
	"github.com/corvid-labs/durable/client"
	"github.com/corvid-labs/durable/internal/orderprocessing"
	"github.com/corvid-labs/durable/registry"
	"github.com/corvid-labs/durable/worker"
)

func main() {
	var (
		addr         = flag.String("addr", ":8080", "HTTP bind address")
		backendKind  = flag.String("backend", "sqlite", "backend to use: memory, sqlite or redis")
		dbPath       = flag.String("db", "orderflow.db", "SQLite DB path for the sqlite backend")
		inventoryDB  = flag.String("inventory-db", "inventory.db", "SQLite DB path for the inventory store")
		redisAddr    = flag.String("redis", "localhost:6379", "Redis address for the redis backend")
		traceStdout  = flag.Bool("trace-stdout", false, "emit trace spans to stdout")
		seedQuantity = flag.Int("seed", 50, "initial inventory quantity for Car")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	backendOpts := []backend.BackendOption{backend.WithLogger(logger)}

	if *traceStdout {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			logger.Error("creating trace exporter", "error", err)
			os.Exit(1)
		}

		tp := trace.NewTracerProvider(trace.WithBatcher(exporter))
		defer tp.Shutdown(context.Background())

		backendOpts = append(backendOpts, backend.WithTracerProvider(tp))
	}

	b, err := newBackend(*backendKind, *dbPath, *redisAddr, backendOpts)
	if err != nil {
		logger.Error("creating backend", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	activities, err := newActivities(ctx, *inventoryDB, *seedQuantity, logger)
	if err != nil {
		logger.Error("setting up inventory", "error", err)
		os.Exit(1)
	}

	w := worker.New(b, nil)

	if err := w.RegisterOrchestration(orderprocessing.ProcessOrder, registry.WithName("ProcessOrder")); err != nil {
		logger.Error("registering orchestration", "error", err)
		os.Exit(1)
	}

	if err := w.RegisterActivity(activities); err != nil {
		logger.Error("registering activities", "error", err)
		os.Exit(1)
	}

	if err := w.Start(ctx); err != nil {
		logger.Error("starting worker", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{Addr: *addr, Handler: api.NewServer(client.New(b))}
	go func() {
		logger.Info("http server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "error", err)
			os.Exit(1)
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	logger.Info("shutting down")
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = srv.Shutdown(shutdownCtx)

	if err := w.WaitForCompletion(); err != nil {
		logger.Error("waiting for worker shutdown", "error", err)
	}
}

func newBackend(kind, dbPath, redisAddr string, opts []backend.BackendOption) (backend.Backend, error) {
	switch kind {
	case "memory":
		return memory.NewMemoryBackend(opts...), nil

	case "redis":
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{redisAddr},
		})

		return redisbackend.NewRedisBackend(rdb, redisbackend.WithBackendOptions(opts...))

	default:
		return sqlite.NewSqliteBackend(dbPath, opts...)
	}
}

func newActivities(ctx context.Context, inventoryDB string, seed int, logger *slog.Logger) (*orderprocessing.Activities, error) {
	db, err := sql.Open("sqlite", "file:"+inventoryDB+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	store, err := orderprocessing.NewInventoryStore(ctx, db)
	if err != nil {
		return nil, err
	}

	if err := store.Seed(ctx, "Car", seed); err != nil {
		return nil, err
	}

	return &orderprocessing.Activities{
		Store:  store,
		Logger: logger,
	}, nil
}
