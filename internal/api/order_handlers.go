package api

import (
	"net/http"
	"slices"

	"github.com/safar/go-marketplace/internal/auth"
	"github.com/safar/go-marketplace/internal/database"
	"github.com/safar/go-marketplace/internal/models"
	"github.com/safar/go-marketplace/internal/store"
	"github.com/safar/go-marketplace/internal/validate"
)

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFrom(r.Context())

	var form validate.OrderForm
	if err := s.decode(w, r, &form); err != nil {
		s.fail(w, r, err)
		return
	}

	address, err := form.AddressJSON()
	if err != nil {
		s.fail(w, r, err)
		return
	}

	items := make([]store.OrderItemRequest, 0, len(form.Items))
	for _, item := range form.Items {
		items = append(items, store.OrderItemRequest{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}

	order, err := store.CreateOrder(r.Context(), s.db, store.CreateOrderRequest{
		BuyerID:         session.UserID,
		Items:           items,
		ShippingAddress: address,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, order)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFrom(r.Context())

	page, err := store.ListOrdersCursor(r.Context(), s.db, session.UserID,
		r.URL.Query().Get("cursor"), queryInt(r, "limit", 20))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, page)
}

func (s *Server) handleListSellerOrders(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFrom(r.Context())

	var status models.OrderStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := models.ParseOrderStatus(raw)
		if err != nil {
			s.fail(w, r, validate.Errors{{Field: "status", Message: "is not a known order status"}})
			return
		}
		status = parsed
	}

	shopIDs, err := s.ownedShopIDs(r, session)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	page, err := store.ListShopOrdersCursor(r.Context(), s.db, shopIDs, status,
		r.URL.Query().Get("cursor"), queryInt(r, "limit", 20))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, page)
}

// loadVisibleOrder returns the order if the caller bought it, owns its shop
// or is an admin. Everyone else gets ErrOrderNotFound.
func (s *Server) loadVisibleOrder(r *http.Request, session *auth.Session) (*models.Order, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return nil, err
	}

	order, err := store.GetOrder(r.Context(), s.db, id)
	if err != nil {
		return nil, err
	}

	switch {
	case session.Role == models.RoleAdmin, order.BuyerID == session.UserID:
		return order, nil
	case session.Role == models.RoleSeller:
		shopIDs, err := s.ownedShopIDs(r, session)
		if err != nil {
			return nil, err
		}
		if slices.Contains(shopIDs, order.ShopID) {
			return order, nil
		}
	}
	return nil, database.ErrOrderNotFound
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.loadVisibleOrder(r, auth.SessionFrom(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

type transitionsResponse struct {
	Status    models.OrderStatus   `json:"status"`
	Available []models.OrderStatus `json:"available"`
}

func (s *Server) handleOrderTransitions(w http.ResponseWriter, r *http.Request) {
	order, err := s.loadVisibleOrder(r, auth.SessionFrom(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	available := s.orders.AvailableTransitions(order)
	if available == nil {
		available = []models.OrderStatus{}
	}
	respondJSON(w, http.StatusOK, transitionsResponse{Status: order.Status, Available: available})
}

func (s *Server) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFrom(r.Context())

	var form validate.StatusForm
	if err := s.decode(w, r, &form); err != nil {
		s.fail(w, r, err)
		return
	}
	target, err := models.ParseOrderStatus(form.Status)
	if err != nil {
		s.fail(w, r, validate.Errors{{Field: "status", Message: "is not a known order status"}})
		return
	}

	order, err := s.loadVisibleOrder(r, session)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	updated, err := s.orders.Transition(r.Context(), session, order, target)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}
