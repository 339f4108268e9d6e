package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"nft-shop/internal/config"
	"nft-shop/internal/models"
)

// Reservation is the outcome of one conditional increment on the ledger.
type Reservation struct {
	Granted bool
	Sold    int
	// At is stamped while the unit is held, so stamps of one item's grants
	// follow the order of their Sold values. Zero when not granted.
	At time.Time
}

// InventoryLedger is the only writer of items.sold.
type InventoryLedger interface {
	// TryReserve increments sold by one iff sold < cap, as one indivisible
	// operation. Returns ErrNotFound for unknown items.
	TryReserve(ctx context.Context, itemID string) (Reservation, error)
	// Release undoes one reservation. Never drops sold below zero.
	Release(ctx context.Context, itemID string) error
}

type ItemDB interface {
	GetItem(ctx context.Context, id string) (models.Item, error)
	ListItems(ctx context.Context) ([]models.Item, error)
	InsertItem(ctx context.Context, item models.Item) error
	UpdateItem(ctx context.Context, item models.Item) (models.Item, error)
	DeleteItem(ctx context.Context, id string) error
}

type OrderDB interface {
	InsertOrder(ctx context.Context, order models.Order) error
	ListOrders(ctx context.Context) ([]models.Order, error)
	// UpdateOrderStatus flips the status; moving to cancelled releases the
	// item's unit in the same transaction.
	UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus) (models.Order, error)
}

type SettingsDB interface {
	ListSettings(ctx context.Context) ([]models.Setting, error)
	UpsertSetting(ctx context.Context, key, value string) (models.Setting, error)
	IncrementSetting(ctx context.Context, key string, delta decimal.Decimal) (models.Setting, error)
}

type Store interface {
	InventoryLedger
	ItemDB
	OrderDB
	SettingsDB
	Close() error
}

func Connect(cfg *config.Config) (*sql.DB, error) {
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.DatabaseHost,
		cfg.DatabasePort,
		cfg.DatabaseUser,
		cfg.DatabasePassword,
		cfg.DatabaseName,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Open returns the store selected by cfg.StoreDriver. The postgres store is
// migrated before it is returned.
func Open(cfg *config.Config) (Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		return NewMemoryStore(), nil
	case "postgres":
		conn, err := Connect(cfg)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := Migrate(conn); err != nil {
			conn.Close()
			return nil, err
		}
		return NewPostgresStore(conn), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
