package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/safar/go-marketplace/internal/models"
)

// Store binds the package functions to one *sql.DB so that services can
// depend on small interfaces instead of the database handle.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) OwnedShopIDs(ctx context.Context, ownerID int64) ([]int64, error) {
	return ListShopIDsByOwner(ctx, s.db, ownerID)
}

func (s *Store) UpdateOrderStatus(ctx context.Context, orderID int64, from, to models.OrderStatus) (*models.Order, error) {
	return UpdateOrderStatus(ctx, s.db, orderID, from, to)
}

func (s *Store) ListOrdersForShops(ctx context.Context, shopIDs []int64, from, to time.Time) ([]models.Order, error) {
	return ListOrdersForShops(ctx, s.db, shopIDs, from, to)
}

func (s *Store) ListSellerStats(ctx context.Context, shopIDs []int64) ([]models.SellerStats, error) {
	return ListSellerStats(ctx, s.db, shopIDs)
}

func (s *Store) ListProductsByShops(ctx context.Context, shopIDs []int64) ([]models.Product, error) {
	return ListProductsByShops(ctx, s.db, shopIDs)
}

func (s *Store) ListReviewsForShops(ctx context.Context, shopIDs []int64) ([]models.Review, error) {
	return ListReviewsForShops(ctx, s.db, shopIDs)
}

func (s *Store) CountUnreadNotifications(ctx context.Context, shopIDs []int64) (int64, error) {
	return CountUnreadNotifications(ctx, s.db, shopIDs)
}

func (s *Store) InsertOrderNotification(ctx context.Context, shopID, orderID int64, message string) (bool, error) {
	return InsertOrderNotification(ctx, s.db, shopID, orderID, message)
}

func (s *Store) RefreshSellerStats(ctx context.Context) (int64, error) {
	return RefreshSellerStats(ctx, s.db)
}

func (s *Store) CreateProfile(ctx context.Context, email, fullName string, role models.Role, passwordHash string) (*models.Profile, error) {
	return CreateProfile(ctx, s.db, email, fullName, role, passwordHash)
}

func (s *Store) GetProfile(ctx context.Context, id int64) (*models.Profile, error) {
	return GetProfile(ctx, s.db, id)
}

func (s *Store) GetProfileByEmail(ctx context.Context, email string) (*models.Profile, error) {
	return GetProfileByEmail(ctx, s.db, email)
}
