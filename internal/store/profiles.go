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

const profileColumns = `id, email, full_name, role, password_hash, created_at, updated_at`

func scanProfile(row scanner) (*models.Profile, error) {
	p := &models.Profile{}
	err := row.Scan(
		&p.ID,
		&p.Email,
		&p.FullName,
		&p.Role,
		&p.PasswordHash,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}

func CreateProfile(ctx context.Context, db *sql.DB, email, fullName string, role models.Role, passwordHash string) (*models.Profile, error) {
	query := `
		INSERT INTO profiles (email, full_name, role, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING ` + profileColumns

	profile, err := scanProfile(db.QueryRowContext(ctx, query, email, fullName, role, passwordHash))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, database.ErrEmailTaken
		}
		return nil, fmt.Errorf("create profile: %w", err)
	}

	return profile, nil
}

func GetProfile(ctx context.Context, db *sql.DB, id int64) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`

	profile, err := scanProfile(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}

	return profile, nil
}

func GetProfileByEmail(ctx context.Context, db *sql.DB, email string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE lower(email) = lower($1)`

	profile, err := scanProfile(db.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("get profile by email: %w", err)
	}

	return profile, nil
}

// DeleteProfile removes the account along with its shops, products and
// messages. A seller whose shops still have orders gets a foreign key
// violation instead.
func DeleteProfile(ctx context.Context, db *sql.DB, id int64) error {
	result, err := db.ExecContext(ctx, `DELETE FROM profiles WHERE id = $1`, id)
	if err != nil {
		if database.IsForeignKeyViolation(err, "orders_shop_id_fkey") {
			return database.ErrShopHasOrders
		}
		return fmt.Errorf("delete profile: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrUserNotFound
	}

	return nil
}
