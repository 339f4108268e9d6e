package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nft-shop/internal/db"
	"nft-shop/internal/metrics"
	"nft-shop/internal/models"
	"nft-shop/internal/realtime"
	"nft-shop/pkg"
)

type PurchaseRequest struct {
	ItemID        string
	WalletAddress string
	TxHash        string
}

// Notifier is handed every admitted order. It must not block.
type Notifier interface {
	NotifyOrder(order models.Order, item models.Item)
}

// Broadcaster pushes an event to connected realtime clients.
type Broadcaster interface {
	Broadcast(t realtime.FrameType, payload any)
}

type AdmissionService interface {
	// Admit validates the request and admits it against the item's cap.
	Admit(ctx context.Context, req PurchaseRequest) (models.Order, error)
	// AdmitWithRetry repeats Admit while it fails with a TransientStoreError.
	AdmitWithRetry(ctx context.Context, req PurchaseRequest) (models.Order, error)
}

type AdmissionOptions struct {
	AdmissionAttempts  int
	OrderWriteAttempts int
	RetryBaseDelay     time.Duration
	PostReserveTimeout time.Duration
}

type admissionService struct {
	store       db.Store
	log         pkg.Logger
	notifier    Notifier
	broadcaster Broadcaster
	metrics     *metrics.Metrics
	opts        AdmissionOptions
	now         func() time.Time
}

func NewAdmissionService(store db.Store, log pkg.Logger, notifier Notifier, broadcaster Broadcaster, m *metrics.Metrics, opts AdmissionOptions) AdmissionService {
	if opts.AdmissionAttempts <= 0 {
		opts.AdmissionAttempts = 3
	}
	if opts.OrderWriteAttempts <= 0 {
		opts.OrderWriteAttempts = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 50 * time.Millisecond
	}
	if opts.PostReserveTimeout <= 0 {
		opts.PostReserveTimeout = 10 * time.Second
	}
	return &admissionService{
		store:       store,
		log:         log,
		notifier:    notifier,
		broadcaster: broadcaster,
		metrics:     m,
		opts:        opts,
		now:         time.Now,
	}
}

func (s *admissionService) AdmitWithRetry(ctx context.Context, req PurchaseRequest) (models.Order, error) {
	var order models.Order
	err := retry(ctx, s.opts.AdmissionAttempts, s.opts.RetryBaseDelay, IsTransient, func() error {
		var err error
		order, err = s.Admit(ctx, req)
		return err
	})
	return order, err
}

func (s *admissionService) Admit(ctx context.Context, req PurchaseRequest) (models.Order, error) {
	order, err := s.admit(ctx, req)
	s.metrics.Admission(admissionResult(err))
	return order, err
}

func (s *admissionService) admit(ctx context.Context, req PurchaseRequest) (models.Order, error) {
	req.ItemID = strings.TrimSpace(req.ItemID)
	req.WalletAddress = strings.TrimSpace(req.WalletAddress)
	req.TxHash = strings.TrimSpace(req.TxHash)

	if req.WalletAddress == "" || !strings.HasPrefix(req.WalletAddress, "x") {
		return models.Order{}, ErrInvalidWallet
	}
	if req.TxHash == "" {
		return models.Order{}, ErrInvalidTxRef
	}

	item, err := s.store.GetItem(ctx, req.ItemID)
	if errors.Is(err, db.ErrNotFound) {
		return models.Order{}, ErrItemNotFound
	}
	if err != nil {
		return models.Order{}, storeError("get item", err)
	}

	res, err := s.store.TryReserve(ctx, item.ID)
	if errors.Is(err, db.ErrNotFound) {
		return models.Order{}, ErrItemNotFound
	}
	if err != nil {
		return models.Order{}, storeError("reserve", err)
	}
	if !res.Granted {
		s.log.Debug("admission rejected: sold out", zap.String("itemID", item.ID), zap.Int("sold", res.Sold))
		return models.Order{}, ErrSoldOut
	}

	// The unit is now held. Nothing below may be abandoned because the
	// caller went away, so it runs on a detached context.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.PostReserveTimeout)
	defer cancel()

	id, err := uuid.NewV7()
	if err != nil {
		if rerr := s.release(ctx, item.ID); rerr != nil {
			return models.Order{}, rerr
		}
		return models.Order{}, err
	}
	createdAt := res.At
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	order := models.Order{
		ID:            id.String(),
		ItemID:        item.ID,
		ItemTitle:     item.Title,
		WalletAddress: req.WalletAddress,
		TxHash:        req.TxHash,
		Status:        models.OrderPending,
		Serial:        res.Sold,
		CreatedAt:     createdAt.UTC(),
	}

	attempt := 0
	err = retry(pctx, s.opts.OrderWriteAttempts, s.opts.RetryBaseDelay, always, func() error {
		attempt++
		err := s.store.InsertOrder(pctx, order)
		// a duplicate on a retry means an earlier attempt landed
		if attempt > 1 && errors.Is(err, db.ErrDuplicate) {
			return nil
		}
		return err
	})
	if err != nil {
		s.log.Warn("order write failed, releasing reservation",
			zap.String("itemID", item.ID), zap.Int("serial", res.Sold), zap.Error(err))
		if rerr := s.release(ctx, item.ID); rerr != nil {
			return models.Order{}, rerr
		}
		return models.Order{}, storeError("insert order", err)
	}

	item.Sold = res.Sold
	s.log.Info("Order admitted",
		zap.String("orderID", order.ID),
		zap.String("itemID", item.ID),
		zap.Int("serial", order.Serial),
		zap.Int("cap", item.Cap))

	if s.notifier != nil {
		s.notifier.NotifyOrder(order, item)
	}
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(realtime.FrameOrderAdmitted, realtime.OrderAdmittedPayload{Order: order, Item: item})
	}
	return order, nil
}

// release hands a reserved unit back on its own detached deadline, so a
// write phase that used up its time still gets a full compensation window.
// A failure is returned as ErrLedgerDrift, which callers must not retry.
func (s *admissionService) release(parent context.Context, itemID string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.opts.PostReserveTimeout)
	defer cancel()
	err := retry(ctx, s.opts.OrderWriteAttempts, s.opts.RetryBaseDelay, func(err error) bool {
		return !errors.Is(err, db.ErrNotFound)
	}, func() error {
		return s.store.Release(ctx, itemID)
	})
	if errors.Is(err, db.ErrNotFound) {
		// the item was deleted meanwhile; there is no count left to fix
		s.log.Warn("release skipped: item gone", zap.String("itemID", itemID))
		return nil
	}
	if err != nil {
		s.log.Error("ledger drift: failed to release reservation",
			zap.String("itemID", itemID), zap.Error(err))
		return fmt.Errorf("%w: item %s: %v", ErrLedgerDrift, itemID, err)
	}
	return nil
}

func admissionResult(err error) string {
	switch {
	case err == nil:
		return "admitted"
	case errors.Is(err, ErrSoldOut):
		return "sold_out"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrItemNotFound):
		return "not_found"
	case IsTransient(err):
		return "transient"
	default:
		return "error"
	}
}
