package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"nft-shop/internal/db"
	"nft-shop/internal/models"
	"nft-shop/internal/realtime"
)

type mockLogger struct {
	mu     sync.Mutex
	errors []string
}

func (m *mockLogger) Debug(msg string, fields ...zap.Field) {}
func (m *mockLogger) Info(msg string, fields ...zap.Field)  {}
func (m *mockLogger) Warn(msg string, fields ...zap.Field)  {}
func (m *mockLogger) Error(msg string, fields ...zap.Field) {
	m.mu.Lock()
	m.errors = append(m.errors, msg)
	m.mu.Unlock()
}
func (m *mockLogger) Sync() error { return nil }

type recordingNotifier struct {
	mu     sync.Mutex
	orders []models.Order
}

func (r *recordingNotifier) NotifyOrder(order models.Order, _ models.Item) {
	r.mu.Lock()
	r.orders = append(r.orders, order)
	r.mu.Unlock()
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	frames []realtime.FrameType
}

func (r *recordingBroadcaster) Broadcast(t realtime.FrameType, _ any) {
	r.mu.Lock()
	r.frames = append(r.frames, t)
	r.mu.Unlock()
}

func (r *recordingBroadcaster) count(t realtime.FrameType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, f := range r.frames {
		if f == t {
			n++
		}
	}
	return n
}

// spyStore counts ledger calls and lets tests inject failures.
type spyStore struct {
	*db.MemoryStore
	mu            sync.Mutex
	reserveCalls  int
	reserveErrs   []error
	insertErrs    []error
	insertLands   bool
	insertBlocks  bool
	releaseErr    error
	releaseCalls  int
	insertAttempt int
}

func (s *spyStore) TryReserve(ctx context.Context, itemID string) (db.Reservation, error) {
	s.mu.Lock()
	s.reserveCalls++
	var err error
	if len(s.reserveErrs) > 0 {
		err, s.reserveErrs = s.reserveErrs[0], s.reserveErrs[1:]
	}
	s.mu.Unlock()
	if err != nil {
		return db.Reservation{}, err
	}
	return s.MemoryStore.TryReserve(ctx, itemID)
}

func (s *spyStore) InsertOrder(ctx context.Context, order models.Order) error {
	s.mu.Lock()
	s.insertAttempt++
	var err error
	if len(s.insertErrs) > 0 {
		err, s.insertErrs = s.insertErrs[0], s.insertErrs[1:]
	}
	lands, blocks := s.insertLands, s.insertBlocks
	s.mu.Unlock()
	if blocks {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		if lands {
			_ = s.MemoryStore.InsertOrder(ctx, order)
		}
		return err
	}
	return s.MemoryStore.InsertOrder(ctx, order)
}

func (s *spyStore) Release(ctx context.Context, itemID string) error {
	s.mu.Lock()
	s.releaseCalls++
	err := s.releaseErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.MemoryStore.Release(ctx, itemID)
}

func newSpyStore(t *testing.T, capacity int) (*spyStore, string) {
	t.Helper()
	mem := db.NewMemoryStore()
	item := models.Item{ID: "item-1", Title: "Pepe", Cap: capacity, CreatedAt: time.Now()}
	if err := mem.InsertItem(context.Background(), item); err != nil {
		t.Fatalf("seed item: %v", err)
	}
	return &spyStore{MemoryStore: mem}, item.ID
}

func testOptions() AdmissionOptions {
	return AdmissionOptions{
		AdmissionAttempts:  3,
		OrderWriteAttempts: 3,
		RetryBaseDelay:     time.Millisecond,
		PostReserveTimeout: time.Second,
	}
}

func validRequest(itemID string) PurchaseRequest {
	return PurchaseRequest{ItemID: itemID, WalletAddress: "xWallet1", TxHash: "0xabc"}
}

func soldOf(t *testing.T, store db.Store, itemID string) int {
	t.Helper()
	it, err := store.GetItem(context.Background(), itemID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	return it.Sold
}

func TestAdmit_Success(t *testing.T) {
	store, itemID := newSpyStore(t, 5)
	notifier := &recordingNotifier{}
	bc := &recordingBroadcaster{}
	svc := NewAdmissionService(store, &mockLogger{}, notifier, bc, nil, testOptions())

	order, err := svc.Admit(context.Background(), PurchaseRequest{ItemID: itemID, WalletAddress: "  xWallet1 ", TxHash: " 0xabc "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Serial != 1 || order.Status != models.OrderPending || order.ItemTitle != "Pepe" {
		t.Errorf("unexpected order: %+v", order)
	}
	if order.WalletAddress != "xWallet1" || order.TxHash != "0xabc" {
		t.Errorf("inputs were not trimmed: %+v", order)
	}
	if soldOf(t, store, itemID) != 1 {
		t.Errorf("expected sold=1")
	}
	if len(notifier.orders) != 1 {
		t.Errorf("expected one notification, got %d", len(notifier.orders))
	}
	if bc.count(realtime.FrameOrderAdmitted) != 1 {
		t.Errorf("expected one order_admitted broadcast")
	}
	orders, _ := store.ListOrders(context.Background())
	if len(orders) != 1 || orders[0].ID != order.ID {
		t.Errorf("order not persisted: %+v", orders)
	}
}

func TestAdmit_InvalidWalletSkipsLedger(t *testing.T) {
	store, itemID := newSpyStore(t, 5)
	svc := NewAdmissionService(store, &mockLogger{}, nil, nil, nil, testOptions())

	for _, wallet := range []string{"abc123", "", "   ", "Xabc"} {
		_, err := svc.Admit(context.Background(), PurchaseRequest{ItemID: itemID, WalletAddress: wallet, TxHash: "0x1"})
		if !errors.Is(err, ErrInvalidWallet) {
			t.Errorf("wallet %q: expected ErrInvalidWallet, got %v", wallet, err)
		}
		if !errors.Is(err, ErrValidation) {
			t.Errorf("wallet %q: expected ErrValidation in chain", wallet)
		}
	}
	if store.reserveCalls != 0 {
		t.Errorf("expected no ledger calls, got %d", store.reserveCalls)
	}
}

func TestAdmit_ValidationOrder(t *testing.T) {
	store, _ := newSpyStore(t, 5)
	svc := NewAdmissionService(store, &mockLogger{}, nil, nil, nil, testOptions())

	// wallet is checked before tx hash, tx hash before item existence
	_, err := svc.Admit(context.Background(), PurchaseRequest{ItemID: "missing", WalletAddress: "bad", TxHash: ""})
	if !errors.Is(err, ErrInvalidWallet) {
		t.Errorf("expected ErrInvalidWallet first, got %v", err)
	}
	_, err = svc.Admit(context.Background(), PurchaseRequest{ItemID: "missing", WalletAddress: "xok", TxHash: "  "})
	if !errors.Is(err, ErrInvalidTxRef) {
		t.Errorf("expected ErrInvalidTxRef, got %v", err)
	}
	_, err = svc.Admit(context.Background(), PurchaseRequest{ItemID: "missing", WalletAddress: "xok", TxHash: "0x1"})
	if !errors.Is(err, ErrItemNotFound) {
		t.Errorf("expected ErrItemNotFound, got %v", err)
	}
	if store.reserveCalls != 0 {
		t.Errorf("expected no ledger calls, got %d", store.reserveCalls)
	}
}

func TestAdmit_CapThreeTenConcurrent(t *testing.T) {
	store, itemID := newSpyStore(t, 3)
	svc := NewAdmissionService(store, &mockLogger{}, nil, nil, nil, testOptions())

	var wg sync.WaitGroup
	var mu sync.Mutex
	var serials []int
	soldOut := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			order, err := svc.Admit(context.Background(), validRequest(itemID))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				serials = append(serials, order.Serial)
			case errors.Is(err, ErrSoldOut):
				soldOut++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	sort.Ints(serials)
	if len(serials) != 3 || serials[0] != 1 || serials[1] != 2 || serials[2] != 3 {
		t.Errorf("expected serials [1 2 3], got %v", serials)
	}
	if soldOut != 7 {
		t.Errorf("expected 7 sold out, got %d", soldOut)
	}
	if soldOf(t, store, itemID) != 3 {
		t.Errorf("expected sold=3")
	}

	orders, err := store.ListOrders(context.Background())
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(orders) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(orders))
	}
	for i, want := range []int{3, 2, 1} {
		if orders[i].Serial != want {
			t.Errorf("newest-first position %d: expected serial %d, got %d", i, want, orders[i].Serial)
		}
	}
	for i := 0; i < len(orders)-1; i++ {
		if orders[i].CreatedAt.Before(orders[i+1].CreatedAt) {
			t.Errorf("serial %d created before serial %d", orders[i].Serial, orders[i+1].Serial)
		}
	}
}

func TestAdmit_SoldOutIsIdempotent(t *testing.T) {
	store, itemID := newSpyStore(t, 1)
	notifier := &recordingNotifier{}
	svc := NewAdmissionService(store, &mockLogger{}, notifier, nil, nil, testOptions())

	if _, err := svc.Admit(context.Background(), validRequest(itemID)); err != nil {
		t.Fatalf("first admission: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := svc.Admit(context.Background(), validRequest(itemID)); !errors.Is(err, ErrSoldOut) {
			t.Fatalf("expected ErrSoldOut, got %v", err)
		}
	}
	orders, _ := store.ListOrders(context.Background())
	if len(orders) != 1 || soldOf(t, store, itemID) != 1 || len(notifier.orders) != 1 {
		t.Errorf("sold-out rejections mutated state: orders=%d sold=%d notes=%d",
			len(orders), soldOf(t, store, itemID), len(notifier.orders))
	}
}

func TestAdmit_FailedOrderWriteReleasesReservation(t *testing.T) {
	store, itemID := newSpyStore(t, 2)
	boom := errors.New("disk full")
	store.insertErrs = []error{boom, boom, boom}
	notifier := &recordingNotifier{}
	svc := NewAdmissionService(store, &mockLogger{}, notifier, nil, nil, testOptions())

	_, err := svc.Admit(context.Background(), validRequest(itemID))
	if !errors.Is(err, boom) {
		t.Fatalf("expected write error, got %v", err)
	}
	if store.insertAttempt != 3 {
		t.Errorf("expected 3 write attempts, got %d", store.insertAttempt)
	}
	if soldOf(t, store, itemID) != 0 {
		t.Errorf("reservation was not released")
	}
	if len(notifier.orders) != 0 {
		t.Errorf("failed admission must not notify")
	}
}

func TestAdmit_OrderWriteRecoversOnRetry(t *testing.T) {
	store, itemID := newSpyStore(t, 2)
	store.insertErrs = []error{errors.New("blip")}
	svc := NewAdmissionService(store, &mockLogger{}, nil, nil, nil, testOptions())

	order, err := svc.Admit(context.Background(), validRequest(itemID))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Serial != 1 || soldOf(t, store, itemID) != 1 {
		t.Errorf("unexpected state: serial=%d sold=%d", order.Serial, soldOf(t, store, itemID))
	}
}

func TestAdmit_LostAckTreatedAsWritten(t *testing.T) {
	store, itemID := newSpyStore(t, 2)
	store.insertErrs = []error{&pq.Error{Code: "08006"}}
	store.insertLands = true
	svc := NewAdmissionService(store, &mockLogger{}, nil, nil, nil, testOptions())

	if _, err := svc.Admit(context.Background(), validRequest(itemID)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	orders, _ := store.ListOrders(context.Background())
	if len(orders) != 1 || soldOf(t, store, itemID) != 1 {
		t.Errorf("expected exactly one order and sold=1, got %d orders sold=%d", len(orders), soldOf(t, store, itemID))
	}
}

func TestAdmit_ReleaseFailureIsLogged(t *testing.T) {
	store, itemID := newSpyStore(t, 2)
	boom := errors.New("down")
	store.insertErrs = []error{boom, boom, boom}
	store.releaseErr = errors.New("still down")
	log := &mockLogger{}
	svc := NewAdmissionService(store, log, nil, nil, nil, testOptions())

	if _, err := svc.Admit(context.Background(), validRequest(itemID)); err == nil {
		t.Fatal("expected error")
	}
	if store.releaseCalls != 3 {
		t.Errorf("expected release to be retried 3 times, got %d", store.releaseCalls)
	}
	if len(log.errors) != 1 {
		t.Errorf("expected one error log for ledger drift, got %v", log.errors)
	}
}

func TestAdmitWithRetry_LedgerDriftIsNotRetried(t *testing.T) {
	store, itemID := newSpyStore(t, 3)
	broken := &pq.Error{Code: "08006"}
	store.insertErrs = []error{broken, broken, broken, broken, broken, broken, broken, broken, broken}
	store.releaseErr = broken
	svc := NewAdmissionService(store, &mockLogger{}, nil, nil, nil, testOptions())

	_, err := svc.AdmitWithRetry(context.Background(), validRequest(itemID))
	if !errors.Is(err, ErrLedgerDrift) {
		t.Fatalf("expected ErrLedgerDrift, got %v", err)
	}
	if IsTransient(err) {
		t.Errorf("ledger drift must not be transient: %v", err)
	}
	if store.reserveCalls != 1 {
		t.Errorf("expected a single reservation, got %d", store.reserveCalls)
	}
	if sold := soldOf(t, store, itemID); sold != 1 {
		t.Errorf("expected only the stuck unit to stay reserved, sold=%d", sold)
	}
}

func TestAdmit_ReleaseOutlivesExpiredWriteDeadline(t *testing.T) {
	store, itemID := newSpyStore(t, 2)
	store.insertBlocks = true
	opts := testOptions()
	opts.PostReserveTimeout = 20 * time.Millisecond
	log := &mockLogger{}
	svc := NewAdmissionService(store, log, nil, nil, nil, opts)

	_, err := svc.AdmitWithRetry(context.Background(), validRequest(itemID))
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrLedgerDrift) {
		t.Fatalf("release should have succeeded on a fresh deadline: %v", err)
	}
	if sold := soldOf(t, store, itemID); sold != 0 {
		t.Errorf("reservation was not released, sold=%d", sold)
	}
	if len(log.errors) != 0 {
		t.Errorf("unexpected drift log: %v", log.errors)
	}
}

func TestAdmit_CancelledContextAfterReservationStillCompletes(t *testing.T) {
	store, itemID := newSpyStore(t, 2)
	svc := NewAdmissionService(store, &mockLogger{}, nil, nil, nil, testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	wrapped := &cancelOnReserve{spyStore: store, cancel: cancel}
	svc.(*admissionService).store = wrapped

	order, err := svc.Admit(ctx, validRequest(itemID))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Serial != 1 {
		t.Errorf("expected serial 1, got %d", order.Serial)
	}
}

type cancelOnReserve struct {
	*spyStore
	cancel context.CancelFunc
}

func (c *cancelOnReserve) TryReserve(ctx context.Context, itemID string) (db.Reservation, error) {
	res, err := c.spyStore.TryReserve(ctx, itemID)
	c.cancel()
	return res, err
}

func TestAdmitWithRetry_TransientThenSuccess(t *testing.T) {
	store, itemID := newSpyStore(t, 2)
	store.reserveErrs = []error{&pq.Error{Code: "40001"}, &pq.Error{Code: "40P01"}}
	svc := NewAdmissionService(store, &mockLogger{}, nil, nil, nil, testOptions())

	order, err := svc.AdmitWithRetry(context.Background(), validRequest(itemID))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Serial != 1 || store.reserveCalls != 3 {
		t.Errorf("expected success on third attempt, serial=%d calls=%d", order.Serial, store.reserveCalls)
	}
}

func TestAdmitWithRetry_GivesUp(t *testing.T) {
	store, itemID := newSpyStore(t, 2)
	transient := &pq.Error{Code: "40001"}
	store.reserveErrs = []error{transient, transient, transient, transient}
	svc := NewAdmissionService(store, &mockLogger{}, nil, nil, nil, testOptions())

	_, err := svc.AdmitWithRetry(context.Background(), validRequest(itemID))
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if store.reserveCalls != 3 {
		t.Errorf("expected 3 attempts, got %d", store.reserveCalls)
	}
}

func TestAdmitWithRetry_TerminalErrorsNotRetried(t *testing.T) {
	store, itemID := newSpyStore(t, 0)
	svc := NewAdmissionService(store, &mockLogger{}, nil, nil, nil, testOptions())

	if _, err := svc.AdmitWithRetry(context.Background(), validRequest(itemID)); !errors.Is(err, ErrSoldOut) {
		t.Fatalf("expected ErrSoldOut, got %v", err)
	}
	if store.reserveCalls != 1 {
		t.Errorf("sold out must not be retried, got %d calls", store.reserveCalls)
	}
}

func TestAdmit_SoldNeverExceedsCapProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		capacity := rapid.IntRange(0, 12).Draw(rt, "cap")
		buyers := rapid.IntRange(0, 30).Draw(rt, "buyers")

		mem := db.NewMemoryStore()
		_ = mem.InsertItem(context.Background(), models.Item{ID: "i", Title: "t", Cap: capacity})
		svc := NewAdmissionService(mem, &mockLogger{}, nil, nil, nil, testOptions())

		var wg sync.WaitGroup
		results := make([]error, buyers)
		serials := make([]int, buyers)
		for i := 0; i < buyers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				order, err := svc.Admit(context.Background(), PurchaseRequest{ItemID: "i", WalletAddress: "xw", TxHash: "h"})
				results[i] = err
				serials[i] = order.Serial
			}(i)
		}
		wg.Wait()

		admitted := 0
		seen := map[int]bool{}
		for i, err := range results {
			switch {
			case err == nil:
				admitted++
				if serials[i] < 1 || serials[i] > capacity || seen[serials[i]] {
					rt.Fatalf("bad serial %d for cap %d", serials[i], capacity)
				}
				seen[serials[i]] = true
			case errors.Is(err, ErrSoldOut):
			default:
				rt.Fatalf("unexpected error: %v", err)
			}
		}

		want := buyers
		if capacity < want {
			want = capacity
		}
		if admitted != want {
			rt.Fatalf("admitted %d, want %d", admitted, want)
		}
		it, _ := mem.GetItem(context.Background(), "i")
		if it.Sold != admitted || it.Sold < 0 || it.Sold > it.Cap {
			rt.Fatalf("sold=%d admitted=%d cap=%d", it.Sold, admitted, it.Cap)
		}
	})
}
