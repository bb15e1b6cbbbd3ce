package orders

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"github.com/safar/go-marketplace/internal/auth"
	"github.com/safar/go-marketplace/internal/database"
	"github.com/safar/go-marketplace/internal/models"
)

type Store interface {
	OwnedShopIDs(ctx context.Context, ownerID int64) ([]int64, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, from, to models.OrderStatus) (*models.Order, error)
}

type Observer interface {
	OrderTransition(from, to string)
}

// Service applies seller-driven order status changes.
type Service struct {
	store    Store
	log      *zap.Logger
	observer Observer
}

func NewService(store Store, log *zap.Logger, observer Observer) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, log: log, observer: observer}
}

// AvailableTransitions returns the statuses order may move to next. The
// result is empty for terminal and unknown statuses.
func (s *Service) AvailableTransitions(order *models.Order) []models.OrderStatus {
	return order.Status.NextStatuses()
}

// Transition moves order to target and returns an updated copy. order itself
// is never modified, so on error the caller still holds the state it showed.
func (s *Service) Transition(ctx context.Context, session *auth.Session, order *models.Order, target models.OrderStatus) (*models.Order, error) {
	if session == nil {
		return nil, database.ErrForbidden
	}
	if !order.Status.CanTransitionTo(target) {
		return nil, database.ErrInvalidTransition
	}

	if session.Role != models.RoleAdmin {
		shopIDs, err := s.store.OwnedShopIDs(ctx, session.UserID)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(shopIDs, order.ShopID) {
			return nil, database.ErrForbidden
		}
	}

	updated, err := s.store.UpdateOrderStatus(ctx, order.ID, order.Status, target)
	if err != nil {
		s.log.Warn("order status update rejected",
			zap.Int64("order_id", order.ID),
			zap.String("from", string(order.Status)),
			zap.String("to", string(target)),
			zap.Error(err))
		return nil, err
	}

	patched := *order
	patched.Status = updated.Status
	patched.PaymentStatus = updated.PaymentStatus
	patched.DeliveredAt = updated.DeliveredAt
	patched.UpdatedAt = updated.UpdatedAt
	patched.Version = updated.Version

	if s.observer != nil {
		s.observer.OrderTransition(string(order.Status), string(patched.Status))
	}
	s.log.Info("order status changed",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", session.UserID),
		zap.String("from", string(order.Status)),
		zap.String("to", string(patched.Status)))

	return &patched, nil
}
