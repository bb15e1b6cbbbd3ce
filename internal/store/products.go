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

const productSelect = `
	SELECT p.id, p.shop_id, p.name, p.description, p.price, p.category_id,
	       COALESCE(c.name, ''), p.stock_quantity, p.is_on_order, p.lead_time_days,
	       p.images, p.created_at, p.updated_at, p.version
	FROM products p
	LEFT JOIN categories c ON c.id = p.category_id`

func scanProduct(row scanner) (*models.Product, error) {
	p := &models.Product{}
	var (
		categoryID sql.NullInt64
		leadTime   sql.NullInt32
		images     pq.StringArray
	)
	err := row.Scan(
		&p.ID,
		&p.ShopID,
		&p.Name,
		&p.Description,
		&p.Price,
		&categoryID,
		&p.Category,
		&p.StockQuantity,
		&p.IsOnOrder,
		&leadTime,
		&images,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.Version,
	)
	p.CategoryID = nullInt64Ptr(categoryID)
	p.LeadTimeDays = nullIntPtr(leadTime)
	p.Images = []string(images)
	if p.Images == nil {
		p.Images = []string{}
	}
	return p, err
}

func CreateProduct(ctx context.Context, db *sql.DB, product *models.Product) (*models.Product, error) {
	product.ApplyStockPolicy()
	if len(product.Images) > models.MaxProductImages {
		return nil, database.ErrTooManyImages
	}

	images := product.Images
	if images == nil {
		images = []string{}
	}

	var id int64
	err := db.QueryRowContext(ctx, `
		INSERT INTO products (shop_id, name, description, price, category_id, stock_quantity,
		                      is_on_order, lead_time_days, images, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW(), 1)
		RETURNING id`,
		product.ShopID,
		product.Name,
		product.Description,
		product.Price,
		product.CategoryID,
		product.StockQuantity,
		product.IsOnOrder,
		product.LeadTimeDays,
		pq.Array(images),
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	return GetProduct(ctx, db, id)
}

func GetProduct(ctx context.Context, db *sql.DB, id int64) (*models.Product, error) {
	product, err := scanProduct(db.QueryRowContext(ctx, productSelect+` WHERE p.id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return product, nil
}

func ListProductsByShops(ctx context.Context, db *sql.DB, shopIDs []int64) ([]models.Product, error) {
	rows, err := db.QueryContext(ctx,
		productSelect+` WHERE p.shop_id = ANY($1) ORDER BY p.created_at DESC, p.id DESC`,
		pq.Array(shopIDs))
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return products, nil
}

// UpdateProduct saves the edit form. When product.Version is set the update
// only applies to that version.
func UpdateProduct(ctx context.Context, db *sql.DB, product *models.Product) (*models.Product, error) {
	product.ApplyStockPolicy()
	if len(product.Images) > models.MaxProductImages {
		return nil, database.ErrTooManyImages
	}

	images := product.Images
	if images == nil {
		images = []string{}
	}

	result, err := db.ExecContext(ctx, `
		UPDATE products
		SET name = $1, description = $2, price = $3, category_id = $4, stock_quantity = $5,
		    is_on_order = $6, lead_time_days = $7, images = $8,
		    version = version + 1, updated_at = NOW()
		WHERE id = $9 AND shop_id = $10 AND ($11 = 0 OR version = $11)`,
		product.Name,
		product.Description,
		product.Price,
		product.CategoryID,
		product.StockQuantity,
		product.IsOnOrder,
		product.LeadTimeDays,
		pq.Array(images),
		product.ID,
		product.ShopID,
		product.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		existing, err := GetProduct(ctx, db, product.ID)
		if err != nil {
			return nil, err
		}
		if existing.ShopID != product.ShopID {
			return nil, database.ErrProductNotFound
		}
		return nil, database.ErrOptimisticLockFailed
	}

	return GetProduct(ctx, db, product.ID)
}

func DeleteProduct(ctx context.Context, db *sql.DB, id int64, shopIDs []int64) error {
	result, err := db.ExecContext(ctx,
		`DELETE FROM products WHERE id = $1 AND shop_id = ANY($2)`, id, pq.Array(shopIDs))
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrProductNotFound
	}
	return nil
}

// AddProductImage appends url to the product's images unless it already
// holds MaxProductImages.
func AddProductImage(ctx context.Context, db *sql.DB, productID int64, url string) (*models.Product, error) {
	result, err := db.ExecContext(ctx, `
		UPDATE products
		SET images = array_append(images, $1), version = version + 1, updated_at = NOW()
		WHERE id = $2 AND cardinality(images) < $3`,
		url, productID, models.MaxProductImages)
	if err != nil {
		return nil, fmt.Errorf("add product image: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, err := GetProduct(ctx, db, productID); err != nil {
			return nil, err
		}
		return nil, database.ErrTooManyImages
	}

	return GetProduct(ctx, db, productID)
}

// ReserveStock locks the product row for the rest of tx and checks that
// quantity can be taken from stock. On-order products always pass.
func ReserveStock(ctx context.Context, tx *sql.Tx, productID int64, quantity int) (*models.Product, error) {
	product, err := scanProduct(tx.QueryRowContext(ctx, productSelect+`
		WHERE p.id = $1
		FOR UPDATE OF p`, productID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("lock product: %w", err)
	}

	if !product.IsOnOrder && product.StockQuantity < quantity {
		return nil, database.ErrInsufficientStock
	}

	return product, nil
}

func DecrementStock(ctx context.Context, tx *sql.Tx, productID int64, quantity int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET stock_quantity = stock_quantity - $1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND stock_quantity >= $1`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrInsufficientStock
	}

	return nil
}
