package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"nft-shop/internal/models"
)

const (
	tryReserveQuery = `
WITH upd AS (
    UPDATE items SET sold = sold + 1
    WHERE id = $1 AND sold < cap
    RETURNING sold, clock_timestamp() AS reserved_at
)
SELECT (SELECT sold FROM upd) AS new_sold,
       (SELECT reserved_at FROM upd) AS reserved_at,
       (SELECT sold FROM items WHERE id = $1) AS current_sold`

	releaseQuery = `UPDATE items SET sold = sold - 1 WHERE id = $1 AND sold > 0`

	itemColumns = `id, title, description, image, price, price_xep, cap, sold, created_at`

	orderColumns = `id, item_id, item_title, wallet_address, tx_hash, status, serial, created_at`
)

type postgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dbConn *sql.DB) Store {
	return &postgresStore{
		db: dbConn,
	}
}

func (p *postgresStore) Close() error {
	return p.db.Close()
}

func (p *postgresStore) TryReserve(ctx context.Context, itemID string) (Reservation, error) {
	var newSold, currentSold sql.NullInt64
	var reservedAt sql.NullTime
	err := p.db.QueryRowContext(ctx, tryReserveQuery, itemID).Scan(&newSold, &reservedAt, &currentSold)
	if err != nil {
		return Reservation{}, fmt.Errorf("failed to reserve item %q: %w", itemID, err)
	}
	if newSold.Valid {
		return Reservation{Granted: true, Sold: int(newSold.Int64), At: reservedAt.Time.UTC()}, nil
	}
	if !currentSold.Valid {
		return Reservation{}, ErrNotFound
	}
	return Reservation{Granted: false, Sold: int(currentSold.Int64)}, nil
}

func (p *postgresStore) Release(ctx context.Context, itemID string) error {
	res, err := p.db.ExecContext(ctx, releaseQuery, itemID)
	if err != nil {
		return fmt.Errorf("failed to release item %q: %w", itemID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *postgresStore) GetItem(ctx context.Context, id string) (models.Item, error) {
	row := p.db.QueryRowContext(ctx, "SELECT "+itemColumns+" FROM items WHERE id=$1", id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Item{}, ErrNotFound
	}
	if err != nil {
		return models.Item{}, fmt.Errorf("failed to get item %q: %w", id, err)
	}
	return item, nil
}

func (p *postgresStore) ListItems(ctx context.Context) ([]models.Item, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT "+itemColumns+" FROM items ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	items := []models.Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate items: %w", err)
	}
	return items, nil
}

func (p *postgresStore) InsertItem(ctx context.Context, item models.Item) error {
	_, err := p.db.ExecContext(ctx,
		"INSERT INTO items (id, title, description, image, price, price_xep, cap, sold, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8)",
		item.ID, item.Title, item.Description, item.Image, item.Price, item.PriceXEP, item.Cap, item.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert item: %w", err)
	}
	return nil
}

// UpdateItem rewrites the operator-editable columns. sold is left alone and
// cap may not drop below it.
func (p *postgresStore) UpdateItem(ctx context.Context, item models.Item) (models.Item, error) {
	row := p.db.QueryRowContext(ctx, `
UPDATE items SET title=$2, description=$3, image=$4, price=$5, price_xep=$6, cap=$7
WHERE id=$1 AND sold <= $7
RETURNING `+itemColumns,
		item.ID, item.Title, item.Description, item.Image, item.Price, item.PriceXEP, item.Cap)
	updated, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := p.GetItem(ctx, item.ID); getErr != nil {
			return models.Item{}, getErr
		}
		return models.Item{}, ErrCapBelowSold
	}
	if err != nil {
		return models.Item{}, fmt.Errorf("failed to update item %q: %w", item.ID, err)
	}
	return updated, nil
}

func (p *postgresStore) DeleteItem(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, "DELETE FROM items WHERE id=$1", id)
	if err != nil {
		return fmt.Errorf("failed to delete item %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *postgresStore) InsertOrder(ctx context.Context, order models.Order) error {
	_, err := p.db.ExecContext(ctx,
		"INSERT INTO orders (id, item_id, item_title, wallet_address, tx_hash, status, serial, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		order.ID, order.ItemID, order.ItemTitle, order.WalletAddress, order.TxHash, string(order.Status), order.Serial, order.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (p *postgresStore) ListOrders(ctx context.Context) ([]models.Order, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT "+orderColumns+" FROM orders ORDER BY created_at DESC, serial DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate orders: %w", err)
	}
	return orders, nil
}

func (p *postgresStore) UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus) (models.Order, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Order{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var itemID, current string
	err = tx.QueryRowContext(ctx, "SELECT item_id, status FROM orders WHERE id=$1 FOR UPDATE", id).Scan(&itemID, &current)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Order{}, ErrNotFound
	}
	if err != nil {
		return models.Order{}, fmt.Errorf("failed to lock order %q: %w", id, err)
	}
	if models.OrderStatus(current) == models.OrderCancelled && status != models.OrderCancelled {
		return models.Order{}, ErrInvalidTransition
	}

	row := tx.QueryRowContext(ctx, "UPDATE orders SET status=$2 WHERE id=$1 RETURNING "+orderColumns, id, string(status))
	order, err := scanOrder(row)
	if err != nil {
		return models.Order{}, fmt.Errorf("failed to update order %q: %w", id, err)
	}

	if status == models.OrderCancelled && models.OrderStatus(current) != models.OrderCancelled {
		if _, err := tx.ExecContext(ctx, releaseQuery, itemID); err != nil {
			return models.Order{}, fmt.Errorf("failed to release item %q: %w", itemID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Order{}, fmt.Errorf("failed to commit order status: %w", err)
	}
	return order, nil
}

func (p *postgresStore) ListSettings(ctx context.Context) ([]models.Setting, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT key, value FROM settings ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	settings := []models.Setting{}
	for rows.Next() {
		var s models.Setting
		if err := rows.Scan(&s.Key, &s.Value); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		settings = append(settings, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate settings: %w", err)
	}
	return settings, nil
}

func (p *postgresStore) UpsertSetting(ctx context.Context, key, value string) (models.Setting, error) {
	var s models.Setting
	err := p.db.QueryRowContext(ctx,
		"INSERT INTO settings (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value RETURNING key, value",
		key, value).Scan(&s.Key, &s.Value)
	if err != nil {
		return models.Setting{}, fmt.Errorf("failed to upsert setting %q: %w", key, err)
	}
	return s, nil
}

// IncrementSetting adds delta to a numeric setting in one statement; a
// missing key starts from zero.
func (p *postgresStore) IncrementSetting(ctx context.Context, key string, delta decimal.Decimal) (models.Setting, error) {
	var s models.Setting
	err := p.db.QueryRowContext(ctx, `
INSERT INTO settings (key, value) VALUES ($1, $2::text)
ON CONFLICT (key) DO UPDATE
SET value = (COALESCE(NULLIF(settings.value, ''), '0')::numeric + $2::numeric)::text
RETURNING key, value`, key, delta.String()).Scan(&s.Key, &s.Value)
	if isInvalidText(err) {
		return models.Setting{}, ErrInvalidValue
	}
	if err != nil {
		return models.Setting{}, fmt.Errorf("failed to increment setting %q: %w", key, err)
	}
	return s, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(s scanner) (models.Item, error) {
	var it models.Item
	err := s.Scan(&it.ID, &it.Title, &it.Description, &it.Image, &it.Price, &it.PriceXEP, &it.Cap, &it.Sold, &it.CreatedAt)
	return it, err
}

func scanOrder(s scanner) (models.Order, error) {
	var o models.Order
	var status string
	err := s.Scan(&o.ID, &o.ItemID, &o.ItemTitle, &o.WalletAddress, &o.TxHash, &status, &o.Serial, &o.CreatedAt)
	o.Status = models.OrderStatus(status)
	return o, err
}
