package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/safar/go-marketplace/internal/database"
	"github.com/safar/go-marketplace/internal/models"
)

// InsertOrderNotification records a new-order notification for shopID.
// A second call for the same order is a no-op and reports inserted=false.
func InsertOrderNotification(ctx context.Context, db *sql.DB, shopID, orderID int64, message string) (bool, error) {
	result, err := db.ExecContext(ctx, `
		INSERT INTO notifications (shop_id, order_id, type, message, read, created_at)
		VALUES ($1, $2, $3, $4, FALSE, NOW())
		ON CONFLICT (shop_id, order_id, type) DO NOTHING`,
		shopID, orderID, models.NotificationTypeNewOrder, message)
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

func CountUnreadNotifications(ctx context.Context, db *sql.DB, shopIDs []int64) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE shop_id = ANY($1) AND NOT read`,
		pq.Array(shopIDs)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

func ListNotifications(ctx context.Context, db *sql.DB, shopIDs []int64, page, pageSize int) (*OffsetPage[models.Notification], error) {
	page, pageSize = NormalizePage(page, pageSize)

	var total int64
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE shop_id = ANY($1)`,
		pq.Array(shopIDs)).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count notifications: %w", err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, shop_id, order_id, type, message, read, created_at
		FROM notifications
		WHERE shop_id = ANY($1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`,
		pq.Array(shopIDs), pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var items []models.Notification
	for rows.Next() {
		var (
			n       models.Notification
			orderID sql.NullInt64
		)
		if err := rows.Scan(&n.ID, &n.ShopID, &orderID, &n.Type, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.OrderID = nullInt64Ptr(orderID)
		items = append(items, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(items, total, page, pageSize), nil
}

func MarkNotificationRead(ctx context.Context, db *sql.DB, id int64, shopIDs []int64) error {
	result, err := db.ExecContext(ctx,
		`UPDATE notifications SET read = TRUE WHERE id = $1 AND shop_id = ANY($2)`,
		id, pq.Array(shopIDs))
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrNotificationNotFound
	}
	return nil
}

func MarkAllNotificationsRead(ctx context.Context, db *sql.DB, shopIDs []int64) (int64, error) {
	result, err := db.ExecContext(ctx,
		`UPDATE notifications SET read = TRUE WHERE shop_id = ANY($1) AND NOT read`,
		pq.Array(shopIDs))
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return result.RowsAffected()
}
