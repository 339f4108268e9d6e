package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"nft-shop/internal/db"
	"nft-shop/internal/models"
	"nft-shop/internal/realtime"
	"nft-shop/pkg"
)

type ItemInput struct {
	Title       string
	Description string
	Image       string
	Price       decimal.Decimal
	PriceXEP    decimal.Decimal
	Cap         int
}

// CatalogService covers the public bulk reads and the operator-only edits of
// items, order statuses and settings.
type CatalogService interface {
	ListItems(ctx context.Context) ([]models.Item, error)
	CreateItem(ctx context.Context, in ItemInput) (models.Item, error)
	UpdateItem(ctx context.Context, id string, in ItemInput) (models.Item, error)
	DeleteItem(ctx context.Context, id string) error

	ListOrders(ctx context.Context) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus) (models.Order, error)

	ListSettings(ctx context.Context) ([]models.Setting, error)
	UpdateSetting(ctx context.Context, key, value string) (models.Setting, error)
	IncrementSetting(ctx context.Context, key string, amount decimal.Decimal) (models.Setting, error)
}

type catalogService struct {
	store       db.Store
	log         pkg.Logger
	broadcaster Broadcaster
	now         func() time.Time
}

func NewCatalogService(store db.Store, log pkg.Logger, broadcaster Broadcaster) CatalogService {
	return &catalogService{
		store:       store,
		log:         log,
		broadcaster: broadcaster,
		now:         time.Now,
	}
}

func (s *catalogService) broadcast(t realtime.FrameType, payload any) {
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(t, payload)
	}
}

func (s *catalogService) ListItems(ctx context.Context) ([]models.Item, error) {
	items, err := s.store.ListItems(ctx)
	if err != nil {
		s.log.Error("failed to list items", zap.Error(err))
		return nil, storeError("list items", err)
	}
	return items, nil
}

func validateItem(in ItemInput) (ItemInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Image = strings.TrimSpace(in.Image)
	if in.Title == "" || in.Cap < 1 || in.Price.IsNegative() || in.PriceXEP.IsNegative() {
		return in, ErrInvalidItem
	}
	return in, nil
}

func (s *catalogService) CreateItem(ctx context.Context, in ItemInput) (models.Item, error) {
	in, err := validateItem(in)
	if err != nil {
		return models.Item{}, err
	}
	item := models.Item{
		ID:          uuid.NewString(),
		Title:       in.Title,
		Description: in.Description,
		Image:       in.Image,
		Price:       in.Price,
		PriceXEP:    in.PriceXEP,
		Cap:         in.Cap,
		Sold:        0,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.InsertItem(ctx, item); err != nil {
		s.log.Error("failed to insert item", zap.String("title", item.Title), zap.Error(err))
		return models.Item{}, storeError("insert item", err)
	}
	s.log.Info("Item created", zap.String("itemID", item.ID), zap.Int("cap", item.Cap))
	s.broadcast(realtime.FrameItemUpdated, item)
	return item, nil
}

func (s *catalogService) UpdateItem(ctx context.Context, id string, in ItemInput) (models.Item, error) {
	in, err := validateItem(in)
	if err != nil {
		return models.Item{}, err
	}
	item, err := s.store.UpdateItem(ctx, models.Item{
		ID:          id,
		Title:       in.Title,
		Description: in.Description,
		Image:       in.Image,
		Price:       in.Price,
		PriceXEP:    in.PriceXEP,
		Cap:         in.Cap,
	})
	switch {
	case errors.Is(err, db.ErrNotFound):
		return models.Item{}, ErrItemNotFound
	case errors.Is(err, db.ErrCapBelowSold):
		return models.Item{}, ErrCapBelowSold
	case err != nil:
		s.log.Error("failed to update item", zap.String("itemID", id), zap.Error(err))
		return models.Item{}, storeError("update item", err)
	}
	s.log.Info("Item updated", zap.String("itemID", id))
	s.broadcast(realtime.FrameItemUpdated, item)
	return item, nil
}

func (s *catalogService) DeleteItem(ctx context.Context, id string) error {
	err := s.store.DeleteItem(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return ErrItemNotFound
	}
	if err != nil {
		s.log.Error("failed to delete item", zap.String("itemID", id), zap.Error(err))
		return storeError("delete item", err)
	}
	s.log.Info("Item deleted", zap.String("itemID", id))
	s.broadcast(realtime.FrameItemDeleted, realtime.ItemDeletedPayload{ID: id})
	return nil
}

func (s *catalogService) ListOrders(ctx context.Context) ([]models.Order, error) {
	orders, err := s.store.ListOrders(ctx)
	if err != nil {
		s.log.Error("failed to list orders", zap.Error(err))
		return nil, storeError("list orders", err)
	}
	return orders, nil
}

func (s *catalogService) UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus) (models.Order, error) {
	if !status.Valid() {
		return models.Order{}, ErrInvalidStatus
	}
	order, err := s.store.UpdateOrderStatus(ctx, id, status)
	switch {
	case errors.Is(err, db.ErrNotFound):
		return models.Order{}, ErrOrderNotFound
	case errors.Is(err, db.ErrInvalidTransition):
		return models.Order{}, ErrInvalidTransition
	case err != nil:
		s.log.Error("failed to update order status", zap.String("orderID", id), zap.Error(err))
		return models.Order{}, storeError("update order status", err)
	}
	s.log.Info("Order status updated", zap.String("orderID", id), zap.String("status", string(status)))
	s.broadcast(realtime.FrameOrderUpdated, order)
	if status == models.OrderCancelled {
		// the cancelled unit went back on sale
		if item, err := s.store.GetItem(ctx, order.ItemID); err == nil {
			s.broadcast(realtime.FrameItemUpdated, item)
		}
	}
	return order, nil
}

func (s *catalogService) ListSettings(ctx context.Context) ([]models.Setting, error) {
	settings, err := s.store.ListSettings(ctx)
	if err != nil {
		s.log.Error("failed to list settings", zap.Error(err))
		return nil, storeError("list settings", err)
	}
	return settings, nil
}

func (s *catalogService) UpdateSetting(ctx context.Context, key, value string) (models.Setting, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return models.Setting{}, ErrInvalidSetting
	}
	setting, err := s.store.UpsertSetting(ctx, key, value)
	if err != nil {
		s.log.Error("failed to update setting", zap.String("key", key), zap.Error(err))
		return models.Setting{}, storeError("update setting", err)
	}
	s.broadcast(realtime.FrameSettingUpdated, setting)
	return setting, nil
}

func (s *catalogService) IncrementSetting(ctx context.Context, key string, amount decimal.Decimal) (models.Setting, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return models.Setting{}, ErrInvalidSetting
	}
	setting, err := s.store.IncrementSetting(ctx, key, amount)
	if errors.Is(err, db.ErrInvalidValue) {
		return models.Setting{}, ErrInvalidSetting
	}
	if err != nil {
		s.log.Error("failed to increment setting", zap.String("key", key), zap.Error(err))
		return models.Setting{}, storeError("increment setting", err)
	}
	s.log.Info("Setting incremented", zap.String("key", key), zap.String("value", setting.Value))
	s.broadcast(realtime.FrameSettingUpdated, setting)
	return setting, nil
}
