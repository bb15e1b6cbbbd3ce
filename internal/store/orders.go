package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/safar/go-marketplace/internal/database"
	"github.com/safar/go-marketplace/internal/models"
)

// standardDeliveryDays is the promised delivery window for stocked items.
const standardDeliveryDays = 5

type CreateOrderRequest struct {
	BuyerID         int64
	Items           []OrderItemRequest
	ShippingAddress json.RawMessage
}

type OrderItemRequest struct {
	ProductID int64
	Quantity  int
}

func generateOrderNumber() string {
	return "ORD-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

const orderColumns = `
	id, shop_id, buyer_id, order_number, status, payment_status, total_amount,
	shipping_address, expected_delivery_date, delivered_at, created_at, updated_at, version`

func scanOrder(row scanner) (*models.Order, error) {
	o := &models.Order{}
	var (
		address     []byte
		expected    sql.NullTime
		deliveredAt sql.NullTime
	)
	err := row.Scan(
		&o.ID,
		&o.ShopID,
		&o.BuyerID,
		&o.OrderNumber,
		&o.Status,
		&o.PaymentStatus,
		&o.TotalAmount,
		&address,
		&expected,
		&deliveredAt,
		&o.CreatedAt,
		&o.UpdatedAt,
		&o.Version,
	)
	if len(address) > 0 {
		o.ShippingAddress = json.RawMessage(address)
	}
	o.ExpectedDeliveryDate = nullTimePtr(expected)
	o.DeliveredAt = nullTimePtr(deliveredAt)
	return o, err
}

// CreateOrder places an order for items that all belong to one shop. Product
// rows are locked, in-stock items are decremented and unit prices are
// snapshotted into order_items. On-order items skip the stock check and push
// the expected delivery date out by their lead time.
func CreateOrder(ctx context.Context, db *sql.DB, req CreateOrderRequest) (*models.Order, error) {
	if len(req.Items) == 0 {
		return nil, database.ErrEmptyOrder
	}

	var order *models.Order

	err := database.WithRetry(ctx, db, database.TxOptions{
		IsolationLevel: sql.LevelSerializable,
		MaxRetries:     3,
	}, func(tx *sql.Tx) error {
		var exists bool
		err := tx.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM profiles WHERE id = $1)",
			req.BuyerID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check buyer exists: %w", err)
		}
		if !exists {
			return database.ErrUserNotFound
		}

		var (
			totalAmount decimal.Decimal
			shopID      int64
			leadDays    = standardDeliveryDays
		)
		products := make(map[int64]*models.Product, len(req.Items))

		for _, item := range req.Items {
			product, err := ReserveStock(ctx, tx, item.ProductID, item.Quantity)
			if err != nil {
				return err
			}

			if shopID == 0 {
				shopID = product.ShopID
			} else if product.ShopID != shopID {
				return database.ErrMixedShopOrder
			}

			if product.IsOnOrder && product.LeadTimeDays != nil && *product.LeadTimeDays > leadDays {
				leadDays = *product.LeadTimeDays
			}

			products[item.ProductID] = product
			totalAmount = totalAmount.Add(product.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}

		var address any
		if len(req.ShippingAddress) > 0 {
			address = []byte(req.ShippingAddress)
		}

		var orderID int64
		err = tx.QueryRowContext(ctx,
			`INSERT INTO orders (shop_id, buyer_id, order_number, status, payment_status, total_amount,
			                     shipping_address, expected_delivery_date, created_at, updated_at, version)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW() + make_interval(days => $8), NOW(), NOW(), 1)
			 RETURNING id`,
			shopID, req.BuyerID, generateOrderNumber(), models.OrderStatusPending,
			models.PaymentStatusPending, totalAmount, address, leadDays).Scan(&orderID)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		for _, item := range req.Items {
			unitPrice := products[item.ProductID].Price
			subtotal := unitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))

			_, err = tx.ExecContext(ctx,
				`INSERT INTO order_items (order_id, product_id, quantity, unit_price, subtotal, created_at)
				 VALUES ($1, $2, $3, $4, $5, NOW())`,
				orderID, item.ProductID, item.Quantity, unitPrice, subtotal)
			if err != nil {
				return fmt.Errorf("create order item: %w", err)
			}
		}

		for _, item := range req.Items {
			if products[item.ProductID].IsOnOrder {
				continue
			}
			if err := DecrementStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}

		order, err = scanOrder(tx.QueryRowContext(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
		if err != nil {
			return fmt.Errorf("fetch created order: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return order, nil
}

func GetOrder(ctx context.Context, db *sql.DB, id int64) (*models.Order, error) {
	order, err := scanOrder(db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := ListOrderItemsForOrders(ctx, db, []int64{id})
	if err != nil {
		return nil, err
	}
	order.Items = items

	return order, nil
}

func ListOrderItemsForOrders(ctx context.Context, db *sql.DB, orderIDs []int64) ([]models.OrderItem, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price, subtotal, created_at
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, id`, pq.Array(orderIDs))
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	items := []models.OrderItem{}
	for rows.Next() {
		var (
			item      models.OrderItem
			productID sql.NullInt64
		)
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&productID,
			&item.Quantity,
			&item.UnitPrice,
			&item.Subtotal,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		item.ProductID = productID.Int64
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// ListOrdersForShops returns every order of the given shops created in
// [from, to), with items attached. Zero times leave that side open.
func ListOrdersForShops(ctx context.Context, db *sql.DB, shopIDs []int64, from, to time.Time) ([]models.Order, error) {
	args := []any{pq.Array(shopIDs)}
	query := `SELECT ` + orderColumns + ` FROM orders WHERE shop_id = ANY($1)`
	if !from.IsZero() {
		args = append(args, from)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !to.IsZero() {
		args = append(args, to)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	query += " ORDER BY created_at DESC, id DESC"

	orders, err := queryOrders(ctx, db, query, args...)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]int64, len(orders))
	index := make(map[int64]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}

	items, err := ListOrderItemsForOrders(ctx, db, ids)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		i := index[item.OrderID]
		orders[i].Items = append(orders[i].Items, item)
	}

	return orders, nil
}

func queryOrders(ctx context.Context, db *sql.DB, query string, args ...any) ([]models.Order, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// ListOrdersCursor pages through a buyer's orders, newest first.
func ListOrdersCursor(ctx context.Context, db *sql.DB, buyerID int64, cursor string, limit int) (*CursorPage[models.Order], error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	limit = NormalizeLimit(limit)

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE buyer_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	orders, err := queryOrders(ctx, db, query, buyerID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, err
	}
	return newCursorPage(orders, limit), nil
}

// ListShopOrdersCursor pages through the orders of the given shops, newest
// first, optionally restricted to one status.
func ListShopOrdersCursor(ctx context.Context, db *sql.DB, shopIDs []int64, status models.OrderStatus, cursor string, limit int) (*CursorPage[models.Order], error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	limit = NormalizeLimit(limit)

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE shop_id = ANY($1)
		  AND ($2 = '' OR status = $2)
		  AND (created_at, id) < ($3, $4)
		ORDER BY created_at DESC, id DESC
		LIMIT $5`

	orders, err := queryOrders(ctx, db, query, pq.Array(shopIDs), string(status), cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, err
	}
	return newCursorPage(orders, limit), nil
}

func newCursorPage(orders []models.Order, limit int) *CursorPage[models.Order] {
	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &CursorPage[models.Order]{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}
}

// UpdateOrderStatus moves an order from `from` to `to` in a single statement.
// Delivering an order also marks it paid. The row is only touched while it
// still has status `from`; otherwise ErrStatusConflict is returned.
func UpdateOrderStatus(ctx context.Context, db *sql.DB, orderID int64, from, to models.OrderStatus) (*models.Order, error) {
	query := `
		UPDATE orders
		SET status = $1,
		    payment_status = CASE WHEN $1 = 'delivered' THEN 'paid' ELSE payment_status END,
		    delivered_at = CASE WHEN $1 = 'delivered' THEN NOW() ELSE delivered_at END,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $2 AND status = $3
		RETURNING ` + orderColumns

	order, err := scanOrder(db.QueryRowContext(ctx, query, string(to), orderID, string(from)))
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("update order status: %w", err)
	}

	var exists bool
	if err := db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check order exists: %w", err)
	}
	if !exists {
		return nil, database.ErrOrderNotFound
	}
	return nil, database.ErrStatusConflict
}
