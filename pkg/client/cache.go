package client

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"nft-shop/internal/models"
	"nft-shop/internal/realtime"
)

// Loader fetches the shop's public state.
type Loader interface {
	GetItems(ctx context.Context) ([]models.Item, error)
	GetOrders(ctx context.Context) ([]models.Order, error)
	GetSettings(ctx context.Context) ([]models.Setting, error)
}

// Cache is a client-side copy of items, orders and settings. Items are kept
// ordered by id, orders newest first. All readers get copies.
type Cache struct {
	loader Loader

	mu       sync.RWMutex
	items    []models.Item
	orders   []models.Order
	settings map[string]string
	loaded   bool
}

func NewCache(loader Loader) *Cache {
	return &Cache{loader: loader, settings: map[string]string{}}
}

// Load fetches all three collections in parallel. Either all of them replace
// the cached state or none do.
func (c *Cache) Load(ctx context.Context) error {
	var (
		items    []models.Item
		orders   []models.Order
		settings []models.Setting
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = c.loader.GetItems(gctx)
		if err != nil {
			return fmt.Errorf("load items: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		orders, err = c.loader.GetOrders(gctx)
		if err != nil {
			return fmt.Errorf("load orders: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		settings, err = c.loader.GetSettings(gctx)
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	m := make(map[string]string, len(settings))
	for _, s := range settings {
		m[s.Key] = s.Value
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = items
	c.orders = orders
	c.settings = m
	c.loaded = true
	return nil
}

func (c *Cache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

func (c *Cache) Items() []models.Item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Item(nil), c.items...)
}

func (c *Cache) Item(id string) (models.Item, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := c.itemIndex(id); i >= 0 {
		return c.items[i], true
	}
	return models.Item{}, false
}

func (c *Cache) Orders() []models.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Order(nil), c.orders...)
}

func (c *Cache) Setting(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.settings[key]
	return v, ok
}

func (c *Cache) Settings() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.settings))
	for k, v := range c.settings {
		out[k] = v
	}
	return out
}

func (c *Cache) PendingBurn() decimal.Decimal {
	return c.decimalSetting(models.SettingPendingBurn)
}

func (c *Cache) BurnedTotal() decimal.Decimal {
	return c.decimalSetting(models.SettingBurnedTotal)
}

func (c *Cache) decimalSetting(key string) decimal.Decimal {
	v, ok := c.Setting(key)
	if !ok {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ApplyOrder records an admitted order and bumps its item's sold count to
// the order's serial when that is higher.
func (c *Cache) ApplyOrder(order models.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upsertOrderLocked(order)
	if i := c.itemIndex(order.ItemID); i >= 0 && c.items[i].Sold < order.Serial {
		c.items[i].Sold = order.Serial
	}
}

func (c *Cache) ApplyItem(item models.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upsertItemLocked(item)
}

func (c *Cache) RemoveItem(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.itemIndex(id); i >= 0 {
		c.items = append(c.items[:i], c.items[i+1:]...)
	}
}

// ApplyOrderStatus updates a known order. Unknown ids are ignored.
func (c *Cache) ApplyOrderStatus(id string, status models.OrderStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.orders {
		if c.orders[i].ID == id {
			c.orders[i].Status = status
			return
		}
	}
}

func (c *Cache) ApplySetting(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings[key] = value
}

// ApplyEvent folds one realtime frame into the cache. Frames that carry no
// state (ping, pong, echo) are ignored.
func (c *Cache) ApplyEvent(f realtime.Frame) error {
	switch f.Type {
	case realtime.FrameOrderAdmitted:
		var p realtime.OrderAdmittedPayload
		if err := f.Decode(&p); err != nil {
			return err
		}
		c.mu.Lock()
		// admissions are broadcast concurrently, so an older count may arrive last
		if i := c.itemIndex(p.Item.ID); i >= 0 && c.items[i].Sold > p.Item.Sold {
			p.Item.Sold = c.items[i].Sold
		}
		c.upsertItemLocked(p.Item)
		c.upsertOrderLocked(p.Order)
		c.mu.Unlock()
	case realtime.FrameItemUpdated:
		var item models.Item
		if err := f.Decode(&item); err != nil {
			return err
		}
		c.ApplyItem(item)
	case realtime.FrameItemDeleted:
		var p realtime.ItemDeletedPayload
		if err := f.Decode(&p); err != nil {
			return err
		}
		c.RemoveItem(p.ID)
	case realtime.FrameOrderUpdated:
		var order models.Order
		if err := f.Decode(&order); err != nil {
			return err
		}
		c.mu.Lock()
		c.upsertOrderLocked(order)
		c.mu.Unlock()
	case realtime.FrameSettingUpdated:
		var s models.Setting
		if err := f.Decode(&s); err != nil {
			return err
		}
		c.ApplySetting(s.Key, s.Value)
	}
	return nil
}

func (c *Cache) itemIndex(id string) int {
	for i := range c.items {
		if c.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (c *Cache) upsertItemLocked(item models.Item) {
	if i := c.itemIndex(item.ID); i >= 0 {
		c.items[i] = item
		return
	}
	i := sort.Search(len(c.items), func(i int) bool { return c.items[i].ID >= item.ID })
	c.items = append(c.items, models.Item{})
	copy(c.items[i+1:], c.items[i:])
	c.items[i] = item
}

func (c *Cache) upsertOrderLocked(order models.Order) {
	for i := range c.orders {
		if c.orders[i].ID == order.ID {
			c.orders[i] = order
			return
		}
	}
	c.orders = append([]models.Order{order}, c.orders...)
}
