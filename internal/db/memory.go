package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"nft-shop/internal/models"
)

// MemoryStore keeps everything in process. Its mutex is the atomicity
// boundary for the ledger, so TryReserve is safe under concurrent callers.
type MemoryStore struct {
	mu       sync.Mutex
	items    map[string]models.Item
	orders   map[string]models.Order
	settings map[string]string

	// lastStamp keeps reservation stamps strictly increasing
	lastStamp time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:  make(map[string]models.Item),
		orders: make(map[string]models.Order),
		settings: map[string]string{
			models.SettingPendingBurn: "0",
			models.SettingBurnedTotal: "0",
		},
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) TryReserve(ctx context.Context, itemID string) (Reservation, error) {
	if err := ctx.Err(); err != nil {
		return Reservation{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[itemID]
	if !ok {
		return Reservation{}, ErrNotFound
	}
	if it.Sold >= it.Cap {
		return Reservation{Granted: false, Sold: it.Sold}, nil
	}
	it.Sold++
	m.items[itemID] = it
	at := time.Now().UTC()
	if !at.After(m.lastStamp) {
		at = m.lastStamp.Add(time.Microsecond)
	}
	m.lastStamp = at
	return Reservation{Granted: true, Sold: it.Sold, At: at}, nil
}

func (m *MemoryStore) Release(ctx context.Context, itemID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseLocked(itemID)
}

func (m *MemoryStore) releaseLocked(itemID string) error {
	it, ok := m.items[itemID]
	if !ok || it.Sold == 0 {
		return ErrNotFound
	}
	it.Sold--
	m.items[itemID] = it
	return nil
}

func (m *MemoryStore) GetItem(_ context.Context, id string) (models.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return models.Item{}, ErrNotFound
	}
	return it, nil
}

func (m *MemoryStore) ListItems(_ context.Context) ([]models.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]models.Item, 0, len(m.items))
	for _, it := range m.items {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (m *MemoryStore) InsertItem(_ context.Context, item models.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.ID]; ok {
		return ErrDuplicate
	}
	item.Sold = 0
	m.items[item.ID] = item
	return nil
}

func (m *MemoryStore) UpdateItem(_ context.Context, item models.Item) (models.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[item.ID]
	if !ok {
		return models.Item{}, ErrNotFound
	}
	if item.Cap < cur.Sold {
		return models.Item{}, ErrCapBelowSold
	}
	item.Sold = cur.Sold
	item.CreatedAt = cur.CreatedAt
	m.items[item.ID] = item
	return item, nil
}

func (m *MemoryStore) DeleteItem(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *MemoryStore) InsertOrder(ctx context.Context, order models.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.ID]; ok {
		return ErrDuplicate
	}
	m.orders[order.ID] = order
	return nil
}

func (m *MemoryStore) ListOrders(_ context.Context) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	orders := make([]models.Order, 0, len(m.orders))
	for _, o := range m.orders {
		orders = append(orders, o)
	}
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		if orders[i].Serial != orders[j].Serial {
			return orders[i].Serial > orders[j].Serial
		}
		return orders[i].ID > orders[j].ID
	})
	return orders, nil
}

func (m *MemoryStore) UpdateOrderStatus(_ context.Context, id string, status models.OrderStatus) (models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return models.Order{}, ErrNotFound
	}
	if o.Status == models.OrderCancelled && status != models.OrderCancelled {
		return models.Order{}, ErrInvalidTransition
	}
	if status == models.OrderCancelled && o.Status != models.OrderCancelled {
		// a deleted item or an already-zero counter has nothing to give back
		_ = m.releaseLocked(o.ItemID)
	}
	o.Status = status
	m.orders[id] = o
	return o, nil
}

func (m *MemoryStore) ListSettings(_ context.Context) ([]models.Setting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	settings := make([]models.Setting, 0, len(m.settings))
	for k, v := range m.settings {
		settings = append(settings, models.Setting{Key: k, Value: v})
	}
	sort.Slice(settings, func(i, j int) bool { return settings[i].Key < settings[j].Key })
	return settings, nil
}

func (m *MemoryStore) UpsertSetting(_ context.Context, key, value string) (models.Setting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return models.Setting{Key: key, Value: value}, nil
}

func (m *MemoryStore) IncrementSetting(_ context.Context, key string, delta decimal.Decimal) (models.Setting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := decimal.Zero
	if v := m.settings[key]; v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return models.Setting{}, ErrInvalidValue
		}
		cur = d
	}
	next := cur.Add(delta).String()
	m.settings[key] = next
	return models.Setting{Key: key, Value: next}, nil
}
