package notify

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/safar/go-marketplace/internal/database"
)

var ErrAlreadyStarted = errors.New("notification handler already started")

type Store interface {
	OwnedShopIDs(ctx context.Context, ownerID int64) ([]int64, error)
	CountUnreadNotifications(ctx context.Context, shopIDs []int64) (int64, error)
	InsertOrderNotification(ctx context.Context, shopID, orderID int64, message string) (bool, error)
}

type Feed interface {
	Subscribe(filter database.Filter) *database.Subscription
}

type Observer interface {
	NotificationCreated()
}

// Handler keeps one seller's unread notification count in step with the
// change feed. New orders for the seller's shops produce a notification row
// and bump the count; notifications flipping to read lower it, never below
// zero. The count is loaded once in Start and not re-synced afterwards.
type Handler struct {
	sellerID int64
	store    Store
	feed     Feed
	log      *zap.Logger
	observer Observer

	unread  atomic.Int64
	updates chan int64

	started  atomic.Bool
	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
	orders   *database.Subscription
	reads    *database.Subscription
}

func NewHandler(sellerID int64, store Store, feed Feed, log *zap.Logger, observer Observer) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		sellerID: sellerID,
		store:    store,
		feed:     feed,
		log:      log.With(zap.Int64("seller_id", sellerID)),
		observer: observer,
		updates:  make(chan int64, 1),
		done:     make(chan struct{}),
	}
}

// Start loads the current unread count, subscribes to the feed and begins
// consuming events on a single goroutine.
func (h *Handler) Start(ctx context.Context) error {
	if !h.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	shopIDs, err := h.store.OwnedShopIDs(ctx, h.sellerID)
	if err != nil {
		close(h.done)
		return fmt.Errorf("load owned shops: %w", err)
	}
	if len(shopIDs) > 0 {
		count, err := h.store.CountUnreadNotifications(ctx, shopIDs)
		if err != nil {
			close(h.done)
			return fmt.Errorf("load unread count: %w", err)
		}
		h.unread.Store(count)
	}
	h.publish(h.unread.Load())

	h.orders = h.feed.Subscribe(database.Filter{Table: "orders", Event: database.EventInsert})
	h.reads = h.feed.Subscribe(database.Filter{Table: "notifications", Event: database.EventUpdate})

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h.cancel = cancel
	go h.run(runCtx)
	return nil
}

func (h *Handler) run(ctx context.Context) {
	defer close(h.done)

	orders, reads := h.orders.Events(), h.reads.Events()
	for orders != nil || reads != nil {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-orders:
			if !ok {
				orders = nil
				continue
			}
			h.handleOrderInsert(ctx, e)
		case e, ok := <-reads:
			if !ok {
				reads = nil
				continue
			}
			h.handleNotificationUpdate(ctx, e)
		}
	}
}

// owns re-reads the seller's shops so that shops created or deleted after
// Start are taken into account.
func (h *Handler) owns(ctx context.Context, shopID int64) (bool, error) {
	shopIDs, err := h.store.OwnedShopIDs(ctx, h.sellerID)
	if err != nil {
		return false, err
	}
	return slices.Contains(shopIDs, shopID), nil
}

func (h *Handler) handleOrderInsert(ctx context.Context, e database.ChangeEvent) {
	shopID, ok := e.Int64("shop_id")
	if !ok {
		h.log.Warn("order event without shop_id")
		return
	}
	orderID, ok := e.Int64("id")
	if !ok {
		h.log.Warn("order event without id", zap.Int64("shop_id", shopID))
		return
	}

	owned, err := h.owns(ctx, shopID)
	if err != nil {
		h.log.Error("check shop ownership", zap.Int64("shop_id", shopID), zap.Error(err))
		return
	}
	if !owned {
		return
	}

	number, _ := e.Record["order_number"].(string)
	message := fmt.Sprintf("New order %s received", number)
	if number == "" {
		message = fmt.Sprintf("New order #%d received", orderID)
	}

	inserted, err := h.store.InsertOrderNotification(ctx, shopID, orderID, message)
	if err != nil {
		h.log.Error("insert notification", zap.Int64("order_id", orderID), zap.Error(err))
		return
	}
	if !inserted {
		return
	}

	if h.observer != nil {
		h.observer.NotificationCreated()
	}
	h.publish(h.unread.Add(1))
}

func (h *Handler) handleNotificationUpdate(ctx context.Context, e database.ChangeEvent) {
	wasRead, okOld := e.OldBool("read")
	isRead, okNew := e.Bool("read")
	if !okOld || !okNew || wasRead || !isRead {
		return
	}

	shopID, ok := e.Int64("shop_id")
	if !ok {
		return
	}
	owned, err := h.owns(ctx, shopID)
	if err != nil {
		h.log.Error("check shop ownership", zap.Int64("shop_id", shopID), zap.Error(err))
		return
	}
	if !owned {
		return
	}

	for {
		cur := h.unread.Load()
		if cur <= 0 {
			return
		}
		if h.unread.CompareAndSwap(cur, cur-1) {
			h.publish(cur - 1)
			return
		}
	}
}

// publish keeps only the latest value in the updates channel.
func (h *Handler) publish(n int64) {
	for {
		select {
		case h.updates <- n:
			return
		default:
		}
		select {
		case <-h.updates:
		default:
		}
	}
}

func (h *Handler) Unread() int64 {
	return h.unread.Load()
}

// Updates delivers the unread count after every change. Only the most recent
// value is buffered. The channel is closed by Stop.
func (h *Handler) Updates() <-chan int64 {
	return h.updates
}

// Stop unsubscribes from the feed and waits for the event loop to exit.
func (h *Handler) Stop() {
	h.stopOnce.Do(func() {
		if h.started.CompareAndSwap(false, true) {
			close(h.done)
			close(h.updates)
			return
		}
		if h.cancel != nil {
			h.cancel()
		}
		if h.orders != nil {
			h.orders.Unsubscribe()
		}
		if h.reads != nil {
			h.reads.Unsubscribe()
		}
		<-h.done
		close(h.updates)
	})
}
