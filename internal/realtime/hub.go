package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/safar/go-marketplace/internal/notify"
)

// sellerHub runs one notify.Handler per connected seller and shares its
// unread count with every connection of that seller. The handler stops when
// the seller's last connection leaves.
type sellerHub struct {
	store    notify.Store
	feed     notify.Feed
	log      *zap.Logger
	observer notify.Observer

	mu      sync.Mutex
	sellers map[int64]*sellerEntry
}

type sellerEntry struct {
	handler *notify.Handler
	clients map[*client]struct{}
}

func newSellerHub(store notify.Store, feed notify.Feed, log *zap.Logger, observer notify.Observer) *sellerHub {
	return &sellerHub{
		store:    store,
		feed:     feed,
		log:      log,
		observer: observer,
		sellers:  make(map[int64]*sellerEntry),
	}
}

func (h *sellerHub) join(ctx context.Context, sellerID int64, c *client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok := h.sellers[sellerID]
	if !ok {
		handler := notify.NewHandler(sellerID, h.store, h.feed, h.log, h.observer)
		if err := handler.Start(ctx); err != nil {
			return err
		}
		entry = &sellerEntry{handler: handler, clients: make(map[*client]struct{})}
		h.sellers[sellerID] = entry
		// the handler's first update carries the initial count
		go h.forward(entry)
		entry.clients[c] = struct{}{}
		return nil
	}

	entry.clients[c] = struct{}{}
	c.enqueue(unreadMessage(entry.handler.Unread()))
	return nil
}

func (h *sellerHub) leave(sellerID int64, c *client) {
	h.mu.Lock()
	entry, ok := h.sellers[sellerID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(entry.clients, c)
	if len(entry.clients) > 0 {
		h.mu.Unlock()
		return
	}
	delete(h.sellers, sellerID)
	h.mu.Unlock()

	entry.handler.Stop()
}

func (h *sellerHub) forward(entry *sellerEntry) {
	for count := range entry.handler.Updates() {
		h.mu.Lock()
		for c := range entry.clients {
			c.enqueue(unreadMessage(count))
		}
		h.mu.Unlock()
	}
}

func (h *sellerHub) stopAll() {
	h.mu.Lock()
	entries := make([]*sellerEntry, 0, len(h.sellers))
	for id, entry := range h.sellers {
		entries = append(entries, entry)
		delete(h.sellers, id)
	}
	h.mu.Unlock()

	for _, entry := range entries {
		entry.handler.Stop()
	}
}
