package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"nft-shop/internal/metrics"
	"nft-shop/internal/models"
	"nft-shop/pkg"
)

// Sender delivers one alert to one destination.
type Sender interface {
	Chats() []string
	Send(ctx context.Context, chatID string, order models.Order, item models.Item) error
}

type job struct {
	chatID string
	order  models.Order
	item   models.Item
}

type QueueOptions struct {
	Workers     int
	Size        int
	Attempts    int
	BaseDelay   time.Duration
	SendTimeout time.Duration
}

// Queue is a fixed worker pool for outbound alerts. Enqueueing never blocks:
// when the buffer is full the alert is dropped and counted.
type Queue struct {
	sender  Sender
	log     pkg.Logger
	metrics *metrics.Metrics
	opts    QueueOptions

	jobs   chan job
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	stopped bool
}

func NewQueue(sender Sender, opts QueueOptions, log pkg.Logger, m *metrics.Metrics) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Size <= 0 {
		opts.Size = 64
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		sender:  sender,
		log:     log,
		metrics: m,
		opts:    opts,
		jobs:    make(chan job, opts.Size),
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// NotifyOrder fans the order out to one job per chat.
func (q *Queue) NotifyOrder(order models.Order, item models.Item) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		return
	}
	for _, chatID := range q.sender.Chats() {
		select {
		case q.jobs <- job{chatID: chatID, order: order, item: item}:
		default:
			q.metrics.Notification("dropped")
			q.log.Warn("notify: queue full, dropping alert",
				zap.String("orderID", order.ID), zap.String("chatID", chatID))
		}
	}
}

// Stop refuses new alerts and waits for queued ones. If ctx ends first the
// in-flight sends are cancelled.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	close(q.jobs)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for j := range q.jobs {
		q.deliver(j)
	}
}

func (q *Queue) deliver(j job) {
	delay := q.opts.BaseDelay
	var err error
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(q.ctx, q.opts.SendTimeout)
		err = q.sender.Send(ctx, j.chatID, j.order, j.item)
		cancel()
		if err == nil {
			q.metrics.Notification("sent")
			return
		}
		if attempt >= q.opts.Attempts || !q.sleep(delay) {
			break
		}
		delay *= 2
	}
	q.metrics.Notification("failed")
	q.log.Warn("notify: giving up on alert",
		zap.String("orderID", j.order.ID), zap.String("chatID", j.chatID), zap.Error(err))
}

func (q *Queue) sleep(d time.Duration) bool {
	select {
	case <-q.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
