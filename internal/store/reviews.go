package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/safar/go-marketplace/internal/database"
	"github.com/safar/go-marketplace/internal/models"
)

func CreateReview(ctx context.Context, db *sql.DB, review *models.Review) (*models.Review, error) {
	created := &models.Review{}
	err := db.QueryRowContext(ctx, `
		INSERT INTO product_reviews (product_id, buyer_id, rating, comment, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, product_id, buyer_id, rating, comment, created_at`,
		review.ProductID, review.BuyerID, review.Rating, review.Comment,
	).Scan(
		&created.ID,
		&created.ProductID,
		&created.BuyerID,
		&created.Rating,
		&created.Comment,
		&created.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("create review: %w", err)
	}
	return created, nil
}

func ListReviewsForProducts(ctx context.Context, db *sql.DB, productIDs []int64) ([]models.Review, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, product_id, buyer_id, rating, comment, created_at
		FROM product_reviews
		WHERE product_id = ANY($1)
		ORDER BY created_at DESC, id DESC`, pq.Array(productIDs))
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	reviews := []models.Review{}
	for rows.Next() {
		var r models.Review
		if err := rows.Scan(&r.ID, &r.ProductID, &r.BuyerID, &r.Rating, &r.Comment, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		reviews = append(reviews, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return reviews, nil
}

// ListReviewsForShops returns the reviews of every product sold by the given shops.
func ListReviewsForShops(ctx context.Context, db *sql.DB, shopIDs []int64) ([]models.Review, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT r.id, r.product_id, r.buyer_id, r.rating, r.comment, r.created_at
		FROM product_reviews r
		JOIN products p ON p.id = r.product_id
		WHERE p.shop_id = ANY($1)
		ORDER BY r.created_at DESC, r.id DESC`, pq.Array(shopIDs))
	if err != nil {
		return nil, fmt.Errorf("list shop reviews: %w", err)
	}
	defer rows.Close()

	reviews := []models.Review{}
	for rows.Next() {
		var r models.Review
		if err := rows.Scan(&r.ID, &r.ProductID, &r.BuyerID, &r.Rating, &r.Comment, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		reviews = append(reviews, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return reviews, nil
}
