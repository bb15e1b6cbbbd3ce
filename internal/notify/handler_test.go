package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/safar/go-marketplace/internal/database"
)

type fakeStore struct {
	mu       sync.Mutex
	owned    []int64
	unread   int64
	inserted map[[2]int64]string
	lookups  int
}

func newFakeStore(owned ...int64) *fakeStore {
	return &fakeStore{owned: owned, inserted: map[[2]int64]string{}}
}

func (f *fakeStore) OwnedShopIDs(context.Context, int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	return append([]int64(nil), f.owned...), nil
}

func (f *fakeStore) CountUnreadNotifications(context.Context, []int64) (int64, error) {
	return f.unread, nil
}

func (f *fakeStore) InsertOrderNotification(_ context.Context, shopID, orderID int64, message string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := [2]int64{shopID, orderID}
	if _, ok := f.inserted[key]; ok {
		return false, nil
	}
	f.inserted[key] = message
	return true, nil
}

func (f *fakeStore) setOwned(ids ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.owned = ids
}

func (f *fakeStore) lookupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups
}

func (f *fakeStore) insertedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserted)
}

type countingObserver struct {
	mu sync.Mutex
	n  int
}

func (c *countingObserver) NotificationCreated() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func orderInsert(id, shopID int64) database.ChangeEvent {
	return database.ChangeEvent{
		Table:  "orders",
		Type:   database.EventInsert,
		Record: map[string]any{"id": id, "shop_id": shopID, "order_number": "ORD-TEST"},
	}
}

func notificationRead(id, shopID int64, wasRead, isRead bool) database.ChangeEvent {
	return database.ChangeEvent{
		Table:     "notifications",
		Type:      database.EventUpdate,
		Record:    map[string]any{"id": id, "shop_id": shopID, "read": isRead},
		OldRecord: map[string]any{"id": id, "shop_id": shopID, "read": wasRead},
	}
}

func waitFor(t *testing.T, h *Handler, want int64) {
	t.Helper()
	require.Eventually(t, func() bool { return h.Unread() == want }, time.Second, 5*time.Millisecond)
}

func startHandler(t *testing.T, store *fakeStore, obs Observer) (*Handler, *database.ChangeFeed) {
	t.Helper()
	feed := database.NewLocalChangeFeed(16, zaptest.NewLogger(t), database.FeedHooks{})
	h := NewHandler(10, store, feed, zaptest.NewLogger(t), obs)
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(h.Stop)
	return h, feed
}

func TestStartLoadsUnreadCount(t *testing.T) {
	store := newFakeStore(1)
	store.unread = 4

	h, _ := startHandler(t, store, nil)
	assert.Equal(t, int64(4), h.Unread())
	assert.Equal(t, int64(4), <-h.Updates())
}

func TestOrderInsertForOwnedShopCreatesNotification(t *testing.T) {
	store := newFakeStore(1, 2)
	obs := &countingObserver{}
	h, feed := startHandler(t, store, obs)

	feed.Publish(orderInsert(100, 2))
	waitFor(t, h, 1)

	assert.Equal(t, 1, store.insertedCount())
	assert.Equal(t, "New order ORD-TEST received", store.inserted[[2]int64{2, 100}])
	obs.mu.Lock()
	assert.Equal(t, 1, obs.n)
	obs.mu.Unlock()
}

func TestOrderInsertForForeignShopIsIgnored(t *testing.T) {
	store := newFakeStore(1)
	h, feed := startHandler(t, store, nil)

	feed.Publish(orderInsert(100, 7))
	feed.Publish(orderInsert(101, 1))
	waitFor(t, h, 1)

	assert.Equal(t, 1, store.insertedCount())
}

func TestOwnershipIsReadAtEventTime(t *testing.T) {
	store := newFakeStore()
	h, feed := startHandler(t, store, nil)

	store.setOwned(5)
	feed.Publish(orderInsert(200, 5))
	waitFor(t, h, 1)
}

func TestDuplicateInsertDoesNotDoubleCount(t *testing.T) {
	store := newFakeStore(1)
	h, feed := startHandler(t, store, nil)

	feed.Publish(orderInsert(100, 1))
	feed.Publish(orderInsert(100, 1))
	feed.Publish(orderInsert(101, 1))
	waitFor(t, h, 2)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(2), h.Unread())
}

func TestReadTransitionDecrementsFlooredAtZero(t *testing.T) {
	store := newFakeStore(1)
	store.unread = 1
	h, feed := startHandler(t, store, nil)

	feed.Publish(notificationRead(1, 1, false, true))
	waitFor(t, h, 0)

	feed.Publish(notificationRead(2, 1, false, true))
	feed.Publish(notificationRead(3, 1, true, true))
	feed.Publish(notificationRead(4, 9, false, true))
	// start, read 1, read 2 and read 4 each look up the seller's shops
	require.Eventually(t, func() bool { return store.lookupCount() == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(0), h.Unread())

	feed.Publish(orderInsert(300, 1))
	waitFor(t, h, 1)
}

func TestStopClosesUpdates(t *testing.T) {
	store := newFakeStore(1)
	feed := database.NewLocalChangeFeed(16, zaptest.NewLogger(t), database.FeedHooks{})
	h := NewHandler(10, store, feed, zaptest.NewLogger(t), nil)
	require.NoError(t, h.Start(context.Background()))
	assert.ErrorIs(t, h.Start(context.Background()), ErrAlreadyStarted)

	h.Stop()
	h.Stop()

	for range h.Updates() {
	}
}

func TestStopBeforeStart(t *testing.T) {
	feed := database.NewLocalChangeFeed(16, zaptest.NewLogger(t), database.FeedHooks{})
	h := NewHandler(10, newFakeStore(), feed, zaptest.NewLogger(t), nil)

	h.Stop()
	assert.ErrorIs(t, h.Start(context.Background()), ErrAlreadyStarted)
}
