package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/safar/go-marketplace/internal/models"
)

func ListSellerStats(ctx context.Context, db *sql.DB, shopIDs []int64) ([]models.SellerStats, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT shop_id, total_orders, total_revenue, total_products, average_rating, updated_at
		FROM seller_stats
		WHERE shop_id = ANY($1)
		ORDER BY shop_id`, pq.Array(shopIDs))
	if err != nil {
		return nil, fmt.Errorf("list seller stats: %w", err)
	}
	defer rows.Close()

	stats := []models.SellerStats{}
	for rows.Next() {
		var s models.SellerStats
		err := rows.Scan(
			&s.ShopID,
			&s.TotalOrders,
			&s.TotalRevenue,
			&s.TotalProducts,
			&s.AverageRating,
			&s.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan seller stats: %w", err)
		}
		stats = append(stats, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return stats, nil
}

// RefreshSellerStats recomputes the rollup for every shop and returns the
// number of rows written. Revenue counts orders that are paid or delivered.
func RefreshSellerStats(ctx context.Context, db *sql.DB) (int64, error) {
	result, err := db.ExecContext(ctx, `
		INSERT INTO seller_stats (shop_id, total_orders, total_revenue, total_products, average_rating, updated_at)
		SELECT s.id,
		       COALESCE(o.total_orders, 0),
		       COALESCE(o.total_revenue, 0),
		       COALESCE(p.total_products, 0),
		       COALESCE(r.average_rating, 0),
		       NOW()
		FROM shops s
		LEFT JOIN (
			SELECT shop_id,
			       COUNT(*) AS total_orders,
			       SUM(total_amount) FILTER (WHERE payment_status = 'paid' OR status = 'delivered') AS total_revenue
			FROM orders
			GROUP BY shop_id
		) o ON o.shop_id = s.id
		LEFT JOIN (
			SELECT shop_id, COUNT(*) AS total_products
			FROM products
			GROUP BY shop_id
		) p ON p.shop_id = s.id
		LEFT JOIN (
			SELECT pr.shop_id, AVG(rv.rating)::float8 AS average_rating
			FROM product_reviews rv
			JOIN products pr ON pr.id = rv.product_id
			GROUP BY pr.shop_id
		) r ON r.shop_id = s.id
		ON CONFLICT (shop_id) DO UPDATE
		SET total_orders = EXCLUDED.total_orders,
		    total_revenue = EXCLUDED.total_revenue,
		    total_products = EXCLUDED.total_products,
		    average_rating = EXCLUDED.average_rating,
		    updated_at = EXCLUDED.updated_at`)
	if err != nil {
		return 0, fmt.Errorf("refresh seller stats: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return n, nil
}
