package orderprocessing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

type Notification struct {
	Message string `json:"message"`
}

type Receipt struct {
	RequestID string  `json:"request_id"`
	Amount    float64 `json:"amount"`
}

// Activities are the order fulfillment activities. They share the inventory
// database and are registered together as struct methods.
type Activities struct {
	Store  *InventoryStore
	Logger *slog.Logger
}

func (a *Activities) Notify(ctx context.Context, n Notification) error {
	a.Logger.InfoContext(ctx, n.Message)
	return nil
}

// VerifyInventory checks that enough stock exists for the order. It does not
// reserve anything; UpdateInventory is the commit.
func (a *Activities) VerifyInventory(ctx context.Context, req InventoryRequest) (InventoryResult, error) {
	quantity, err := a.Store.Quantity(ctx, req.ItemName)
	if err != nil {
		return InventoryResult{}, err
	}

	a.Logger.InfoContext(ctx, "verified inventory",
		"item", req.ItemName, "requested", req.Quantity, "available", quantity)

	return InventoryResult{
		Success:      quantity >= req.Quantity,
		QuantityLeft: quantity,
	}, nil
}

func (a *Activities) ProcessPayment(ctx context.Context, req PaymentRequest) (Receipt, error) {
	a.Logger.InfoContext(ctx, "processed payment",
		"request_id", req.RequestID, "item", req.ItemName, "amount", req.Amount)

	return Receipt{RequestID: req.RequestID, Amount: req.Amount}, nil
}

func (a *Activities) RefundPayment(ctx context.Context, req PaymentRequest) (Receipt, error) {
	a.Logger.InfoContext(ctx, "refunded payment",
		"request_id", req.RequestID, "item", req.ItemName, "amount", req.Amount)

	return Receipt{RequestID: req.RequestID, Amount: req.Amount}, nil
}

// UpdateInventory commits the stock decrement. Fails when stock was consumed
// between verification and the commit.
func (a *Activities) UpdateInventory(ctx context.Context, req InventoryRequest) (InventoryResult, error) {
	left, err := a.Store.Decrement(ctx, req.ItemName, req.Quantity)
	if err != nil {
		return InventoryResult{}, err
	}

	a.Logger.InfoContext(ctx, "updated inventory",
		"item", req.ItemName, "removed", req.Quantity, "remaining", left)

	return InventoryResult{Success: true, QuantityLeft: left}, nil
}

// InventoryStore keeps item stock in a SQL database.
type InventoryStore struct {
	db *sql.DB
}

var ErrInsufficientInventory = errors.New("insufficient inventory")

func NewInventoryStore(ctx context.Context, db *sql.DB) (*InventoryStore, error) {
	if _, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS inventory (
			item_name TEXT PRIMARY KEY,
			quantity INTEGER NOT NULL
		)`,
	); err != nil {
		return nil, fmt.Errorf("creating inventory table: %w", err)
	}

	return &InventoryStore{db: db}, nil
}

// Seed sets the stock for an item, replacing any existing value.
func (s *InventoryStore) Seed(ctx context.Context, itemName string, quantity int) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO inventory (item_name, quantity) VALUES (?, ?)
			ON CONFLICT (item_name) DO UPDATE SET quantity = excluded.quantity`,
		itemName, quantity,
	); err != nil {
		return fmt.Errorf("seeding inventory: %w", err)
	}

	return nil
}

func (s *InventoryStore) Quantity(ctx context.Context, itemName string) (int, error) {
	var quantity int

	err := s.db.QueryRowContext(ctx,
		"SELECT quantity FROM inventory WHERE item_name = ?", itemName,
	).Scan(&quantity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}

		return 0, fmt.Errorf("reading inventory: %w", err)
	}

	return quantity, nil
}

// Decrement removes quantity items from stock, returning the remaining
// count. The guard in the WHERE clause makes the check-and-decrement atomic.
func (s *InventoryStore) Decrement(ctx context.Context, itemName string, quantity int) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE inventory SET quantity = quantity - ? WHERE item_name = ? AND quantity >= ?",
		quantity, itemName, quantity,
	)
	if err != nil {
		return 0, fmt.Errorf("updating inventory: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if rows == 0 {
		return 0, ErrInsufficientInventory
	}

	return s.Quantity(ctx, itemName)
}
