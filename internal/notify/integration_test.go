//go:build integration

package notify

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/safar/go-marketplace/internal/config"
	"github.com/safar/go-marketplace/internal/database"
	"github.com/safar/go-marketplace/internal/models"
	"github.com/safar/go-marketplace/internal/store"
	"github.com/safar/go-marketplace/internal/testdb"
)

func TestHandlerFollowsDatabaseChanges(t *testing.T) {
	db, dsn := testdb.Start(t)
	ctx := context.Background()

	buyer, err := store.CreateProfile(ctx, db, "buyer@example.com", "Buyer", models.RoleBuyer, "hash")
	require.NoError(t, err)
	seller, err := store.CreateProfile(ctx, db, "seller@example.com", "Seller", models.RoleSeller, "hash")
	require.NoError(t, err)
	shop, err := store.CreateShop(ctx, db, &models.Shop{OwnerID: seller.ID, Name: "Market Stall"})
	require.NoError(t, err)
	product, err := store.CreateProduct(ctx, db, &models.Product{
		ShopID:        shop.ID,
		Name:          "Bowl",
		Price:         decimal.NewFromInt(12),
		StockQuantity: 10,
	})
	require.NoError(t, err)

	feed, err := database.NewChangeFeed(dsn, config.RealtimeConfig{
		MinReconnectInterval: 100 * time.Millisecond,
		MaxReconnectInterval: time.Second,
		SubscriberBuffer:     32,
	}, zaptest.NewLogger(t), database.FeedHooks{})
	require.NoError(t, err)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = feed.Run(runCtx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		feed.Close()
	})

	h := NewHandler(seller.ID, store.New(db), feed, zaptest.NewLogger(t), nil)
	require.NoError(t, h.Start(ctx))
	t.Cleanup(h.Stop)
	assert.Equal(t, int64(0), h.Unread())

	order, err := store.CreateOrder(ctx, db, store.CreateOrderRequest{
		BuyerID: buyer.ID,
		Items:   []store.OrderItemRequest{{ProductID: product.ID, Quantity: 2}},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.Unread() == 1 }, 10*time.Second, 50*time.Millisecond)

	page, err := store.ListNotifications(ctx, db, []int64{shop.ID}, 1, 20)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	n := page.Items[0]
	require.NotNil(t, n.OrderID)
	assert.Equal(t, order.ID, *n.OrderID)
	assert.Contains(t, n.Message, order.OrderNumber)

	require.NoError(t, store.MarkNotificationRead(ctx, db, n.ID, []int64{shop.ID}))
	require.Eventually(t, func() bool { return h.Unread() == 0 }, 10*time.Second, 50*time.Millisecond)
}
