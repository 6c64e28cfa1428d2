package orderprocessing

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/corvid-labs/durable/backend/memory"
	"github.com/corvid-labs/durable/client"
	"github.com/corvid-labs/durable/core"
	"github.com/corvid-labs/durable/internal/orcherrors"
	"github.com/corvid-labs/durable/registry"
	"github.com/corvid-labs/durable/worker"
)

var workerTestOptions = worker.Options{
	OrchestrationPollers:         1,
	OrchestrationPollingInterval: 5 * time.Millisecond,
	ExecutorCacheSize:            8,
	ExecutorCacheTTL:             time.Minute,
	ActivityPollers:              1,
	ActivityPollingInterval:      5 * time.Millisecond,
}

func newInventoryStore(t *testing.T) *InventoryStore {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := NewInventoryStore(context.Background(), db)
	require.NoError(t, err)

	return store
}

// runOrder starts a worker with the given activities, runs one order and
// returns its result and final snapshot.
func runOrder(t *testing.T, acts registry.Activity, order OrderPayload) (OrderResult, *client.Client, string) {
	t.Helper()

	b := memory.NewMemoryBackend()
	w := worker.New(b, &workerTestOptions)

	require.NoError(t, w.RegisterOrchestration(ProcessOrder, registry.WithName("ProcessOrder")))
	require.NoError(t, w.RegisterActivity(acts))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))

	defer func() {
		cancel()
		require.NoError(t, w.WaitForCompletion())
	}()

	c := client.New(b)

	instance, err := c.StartOrchestration(context.Background(), client.StartOptions{}, "ProcessOrder", order)
	require.NoError(t, err)

	result, err := client.GetResult[OrderResult](context.Background(), c, instance.InstanceID, 10*time.Second)
	require.NoError(t, err)

	return result, c, instance.InstanceID
}

func TestProcessOrder(t *testing.T) {
	store := newInventoryStore(t)
	require.NoError(t, store.Seed(context.Background(), "Car", 50))

	acts := &Activities{Store: store, Logger: slog.Default()}

	result, c, instanceID := runOrder(t, acts, OrderPayload{ItemName: "Car", Quantity: 10, TotalCost: 100})
	require.True(t, result.Processed)
	require.Empty(t, result.Message)

	left, err := store.Quantity(context.Background(), "Car")
	require.NoError(t, err)
	require.Equal(t, 40, left)

	snapshot, err := c.GetInstance(context.Background(), instanceID)
	require.NoError(t, err)
	require.Equal(t, core.InstanceStateCompleted, snapshot.State)
	require.JSONEq(t, `{"stage":"updating inventory"}`, string(snapshot.CustomStatus))
}

func TestProcessOrder_InsufficientInventory(t *testing.T) {
	store := newInventoryStore(t)
	require.NoError(t, store.Seed(context.Background(), "Car", 5))

	acts := &Activities{Store: store, Logger: slog.Default()}

	result, _, _ := runOrder(t, acts, OrderPayload{ItemName: "Car", Quantity: 100, TotalCost: 1000})
	require.False(t, result.Processed)
	require.Equal(t, "insufficient inventory", result.Message)

	// Nothing was reserved or removed
	left, err := store.Quantity(context.Background(), "Car")
	require.NoError(t, err)
	require.Equal(t, 5, left)
}

// brokenInventoryActivities fails the inventory commit, forcing the
// compensation path.
type brokenInventoryActivities struct {
	*Activities
}

func (a *brokenInventoryActivities) UpdateInventory(ctx context.Context, req InventoryRequest) (InventoryResult, error) {
	return InventoryResult{}, orcherrors.NewPermanentError(errors.New("inventory backend offline"))
}

func TestProcessOrder_CompensatesFailedUpdate(t *testing.T) {
	store := newInventoryStore(t)
	require.NoError(t, store.Seed(context.Background(), "Car", 50))

	acts := &brokenInventoryActivities{Activities: &Activities{Store: store, Logger: slog.Default()}}

	result, _, _ := runOrder(t, acts, OrderPayload{ItemName: "Car", Quantity: 10, TotalCost: 100})
	require.False(t, result.Processed)
	require.Equal(t, "failed during inventory update", result.Message)

	// The commit never happened
	left, err := store.Quantity(context.Background(), "Car")
	require.NoError(t, err)
	require.Equal(t, 50, left)
}

func TestInventoryStore(t *testing.T) {
	ctx := context.Background()
	store := newInventoryStore(t)

	// Unknown items have zero stock
	quantity, err := store.Quantity(ctx, "Car")
	require.NoError(t, err)
	require.Equal(t, 0, quantity)

	require.NoError(t, store.Seed(ctx, "Car", 10))

	left, err := store.Decrement(ctx, "Car", 4)
	require.NoError(t, err)
	require.Equal(t, 6, left)

	_, err = store.Decrement(ctx, "Car", 7)
	require.ErrorIs(t, err, ErrInsufficientInventory)

	// Seeding replaces the stock
	require.NoError(t, store.Seed(ctx, "Car", 3))
	quantity, err = store.Quantity(ctx, "Car")
	require.NoError(t, err)
	require.Equal(t, 3, quantity)
}
