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

const shopColumns = `
	id, owner_id, name, description, location, contact_email, contact_phone,
	logo_url, banner_url, verification_status, verification_document_url,
	verification_submitted_at, created_at, updated_at`

func scanShop(row scanner) (*models.Shop, error) {
	s := &models.Shop{}
	var submittedAt sql.NullTime
	err := row.Scan(
		&s.ID,
		&s.OwnerID,
		&s.Name,
		&s.Description,
		&s.Location,
		&s.ContactEmail,
		&s.ContactPhone,
		&s.LogoURL,
		&s.BannerURL,
		&s.VerificationStatus,
		&s.VerificationDocumentURL,
		&submittedAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	s.VerificationSubmittedAt = nullTimePtr(submittedAt)
	return s, err
}

func CreateShop(ctx context.Context, db *sql.DB, shop *models.Shop) (*models.Shop, error) {
	query := `
		INSERT INTO shops (owner_id, name, description, location, contact_email, contact_phone,
		                   logo_url, banner_url, verification_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING ` + shopColumns

	created, err := scanShop(db.QueryRowContext(ctx, query,
		shop.OwnerID,
		shop.Name,
		shop.Description,
		shop.Location,
		shop.ContactEmail,
		shop.ContactPhone,
		shop.LogoURL,
		shop.BannerURL,
		models.VerificationNotSubmitted,
	))
	if err != nil {
		return nil, fmt.Errorf("create shop: %w", err)
	}

	return created, nil
}

func GetShop(ctx context.Context, db *sql.DB, id int64) (*models.Shop, error) {
	shop, err := scanShop(db.QueryRowContext(ctx, `SELECT `+shopColumns+` FROM shops WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrShopNotFound
		}
		return nil, fmt.Errorf("get shop: %w", err)
	}
	return shop, nil
}

func ListShopsByOwner(ctx context.Context, db *sql.DB, ownerID int64) ([]models.Shop, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+shopColumns+` FROM shops WHERE owner_id = $1 ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list shops: %w", err)
	}
	defer rows.Close()

	shops := []models.Shop{}
	for rows.Next() {
		shop, err := scanShop(rows)
		if err != nil {
			return nil, fmt.Errorf("scan shop: %w", err)
		}
		shops = append(shops, *shop)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return shops, nil
}

func ListShopIDsByOwner(ctx context.Context, db *sql.DB, ownerID int64) ([]int64, error) {
	var ids pq.Int64Array
	err := db.QueryRowContext(ctx,
		`SELECT COALESCE(array_agg(id ORDER BY id), '{}') FROM shops WHERE owner_id = $1`,
		ownerID).Scan(&ids)
	if err != nil {
		return nil, fmt.Errorf("list shop ids: %w", err)
	}
	return []int64(ids), nil
}

// UpdateShop overwrites the editable fields of a shop owned by shop.OwnerID.
// Verification fields are left alone.
func UpdateShop(ctx context.Context, db *sql.DB, shop *models.Shop) (*models.Shop, error) {
	query := `
		UPDATE shops
		SET name = $1, description = $2, location = $3, contact_email = $4,
		    contact_phone = $5, logo_url = $6, banner_url = $7, updated_at = NOW()
		WHERE id = $8 AND owner_id = $9
		RETURNING ` + shopColumns

	updated, err := scanShop(db.QueryRowContext(ctx, query,
		shop.Name,
		shop.Description,
		shop.Location,
		shop.ContactEmail,
		shop.ContactPhone,
		shop.LogoURL,
		shop.BannerURL,
		shop.ID,
		shop.OwnerID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrShopNotFound
		}
		return nil, fmt.Errorf("update shop: %w", err)
	}
	return updated, nil
}

func DeleteShop(ctx context.Context, db *sql.DB, id, ownerID int64) error {
	result, err := db.ExecContext(ctx, `DELETE FROM shops WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		if database.IsForeignKeyViolation(err, "orders_shop_id_fkey") {
			return database.ErrShopHasOrders
		}
		return fmt.Errorf("delete shop: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrShopNotFound
	}
	return nil
}

// SubmitShopVerification moves a not yet submitted or rejected shop to pending.
func SubmitShopVerification(ctx context.Context, db *sql.DB, shopID, ownerID int64, documentURL string) (*models.Shop, error) {
	query := `
		UPDATE shops
		SET verification_status = $1, verification_document_url = $2,
		    verification_submitted_at = NOW(), updated_at = NOW()
		WHERE id = $3 AND owner_id = $4 AND verification_status IN ($5, $6)
		RETURNING ` + shopColumns

	shop, err := scanShop(db.QueryRowContext(ctx, query,
		models.VerificationPending,
		documentURL,
		shopID,
		ownerID,
		models.VerificationNotSubmitted,
		models.VerificationRejected,
	))
	if err == nil {
		return shop, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("submit verification: %w", err)
	}

	existing, getErr := GetShop(ctx, db, shopID)
	if getErr != nil {
		return nil, getErr
	}
	if existing.OwnerID != ownerID {
		return nil, database.ErrShopNotFound
	}
	return nil, database.ErrVerificationState
}

// ReviewShopVerification records the outcome of a pending verification.
func ReviewShopVerification(ctx context.Context, db *sql.DB, shopID int64, outcome models.VerificationStatus) (*models.Shop, error) {
	if !models.VerificationPending.CanReview(outcome) {
		return nil, database.ErrVerificationState
	}

	query := `
		UPDATE shops
		SET verification_status = $1, updated_at = NOW()
		WHERE id = $2 AND verification_status = $3
		RETURNING ` + shopColumns

	shop, err := scanShop(db.QueryRowContext(ctx, query, outcome, shopID, models.VerificationPending))
	if err == nil {
		return shop, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("review verification: %w", err)
	}

	if _, getErr := GetShop(ctx, db, shopID); getErr != nil {
		return nil, getErr
	}
	return nil, database.ErrVerificationState
}
