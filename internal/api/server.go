// Package api exposes the marketplace over JSON/HTTP.
package api

import (
	"database/sql"
	"net/http"

	"go.uber.org/zap"

	"github.com/safar/go-marketplace/internal/analytics"
	"github.com/safar/go-marketplace/internal/auth"
	"github.com/safar/go-marketplace/internal/config"
	"github.com/safar/go-marketplace/internal/metrics"
	"github.com/safar/go-marketplace/internal/models"
	"github.com/safar/go-marketplace/internal/orders"
	"github.com/safar/go-marketplace/internal/storage"
	"github.com/safar/go-marketplace/internal/validate"
)

type Deps struct {
	DB        *sql.DB
	Auth      *auth.Service
	Orders    *orders.Service
	Analytics *analytics.Service
	Storage   storage.Store
	Realtime  http.Handler
	Metrics   *metrics.Metrics
	Log       *zap.Logger
	Server    config.ServerConfig
	RateLimit config.RateLimitConfig
}

type Server struct {
	db        *sql.DB
	auth      *auth.Service
	orders    *orders.Service
	analytics *analytics.Service
	storage   storage.Store
	realtime  http.Handler
	metrics   *metrics.Metrics
	log       *zap.Logger
	validate  *validate.Validator
	limiter   *RateLimiter
	maxUpload int64
}

func New(d Deps) *Server {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	maxUpload := d.Server.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 5 << 20
	}

	return &Server{
		db:        d.DB,
		auth:      d.Auth,
		orders:    d.Orders,
		analytics: d.Analytics,
		storage:   d.Storage,
		realtime:  d.Realtime,
		metrics:   d.Metrics,
		log:       log,
		validate:  validate.New(),
		limiter:   NewRateLimiter(d.RateLimit.RequestsPerSecond, d.RateLimit.Burst),
		maxUpload: maxUpload,
	}
}

// Handler returns the routed API wrapped in the shared middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	if s.realtime != nil {
		mux.Handle("GET /v1/realtime", s.realtime)
	}

	// auth
	mux.HandleFunc("POST /v1/auth/signup", s.handleSignUp)
	mux.HandleFunc("POST /v1/auth/signin", s.handleSignIn)
	mux.HandleFunc("POST /v1/auth/refresh", s.handleRefresh)
	mux.Handle("POST /v1/auth/signout", s.authed(s.handleSignOut))
	mux.Handle("GET /v1/auth/session", s.authed(s.handleSession))
	mux.Handle("DELETE /v1/account", s.authed(s.handleDeleteAccount))

	// shops
	mux.Handle("POST /v1/shops", s.authed(s.handleCreateShop, models.RoleSeller))
	mux.Handle("GET /v1/shops", s.authed(s.handleListShops, models.RoleSeller))
	mux.HandleFunc("GET /v1/shops/{id}", s.handleGetShop)
	mux.Handle("PUT /v1/shops/{id}", s.authed(s.handleUpdateShop, models.RoleSeller))
	mux.Handle("DELETE /v1/shops/{id}", s.authed(s.handleDeleteShop, models.RoleSeller))
	mux.Handle("POST /v1/shops/{id}/verification", s.authed(s.handleSubmitVerification, models.RoleSeller))
	mux.Handle("POST /v1/admin/shops/{id}/verification", s.authed(s.handleReviewVerification, models.RoleAdmin))

	// products
	mux.HandleFunc("GET /v1/categories", s.handleListCategories)
	mux.HandleFunc("GET /v1/shops/{id}/products", s.handleListShopProducts)
	mux.Handle("POST /v1/products", s.authed(s.handleCreateProduct, models.RoleSeller))
	mux.HandleFunc("GET /v1/products/{id}", s.handleGetProduct)
	mux.Handle("PUT /v1/products/{id}", s.authed(s.handleUpdateProduct, models.RoleSeller))
	mux.Handle("DELETE /v1/products/{id}", s.authed(s.handleDeleteProduct, models.RoleSeller))
	mux.Handle("POST /v1/products/{id}/images", s.authed(s.handleUploadProductImage, models.RoleSeller))
	mux.HandleFunc("GET /v1/products/{id}/reviews", s.handleListReviews)
	mux.Handle("POST /v1/products/{id}/reviews", s.authed(s.handleCreateReview, models.RoleBuyer))

	// orders
	mux.Handle("POST /v1/orders", s.authed(s.handleCreateOrder, models.RoleBuyer))
	mux.Handle("GET /v1/orders", s.authed(s.handleListOrders, models.RoleBuyer))
	mux.Handle("GET /v1/orders/{id}", s.authed(s.handleGetOrder))
	mux.Handle("GET /v1/orders/{id}/transitions", s.authed(s.handleOrderTransitions, models.RoleSeller, models.RoleAdmin))
	mux.Handle("POST /v1/orders/{id}/status", s.authed(s.handleUpdateOrderStatus, models.RoleSeller, models.RoleAdmin))
	mux.Handle("GET /v1/seller/orders", s.authed(s.handleListSellerOrders, models.RoleSeller))

	// seller dashboard
	mux.Handle("GET /v1/seller/analytics", s.authed(s.handleAnalytics, models.RoleSeller))
	mux.Handle("GET /v1/seller/notifications", s.authed(s.handleListNotifications, models.RoleSeller))
	mux.Handle("POST /v1/seller/notifications/{id}/read", s.authed(s.handleMarkNotificationRead, models.RoleSeller))
	mux.Handle("POST /v1/seller/notifications/read-all", s.authed(s.handleMarkAllNotificationsRead, models.RoleSeller))

	// messaging
	mux.Handle("GET /v1/conversations", s.authed(s.handleListConversations))
	mux.Handle("POST /v1/conversations", s.authed(s.handleStartConversation))
	mux.Handle("GET /v1/conversations/{id}/messages", s.authed(s.handleListMessages))
	mux.Handle("POST /v1/conversations/{id}/messages", s.authed(s.handleSendMessage))
	mux.Handle("POST /v1/conversations/{id}/read", s.authed(s.handleMarkConversationRead))

	var h http.Handler = mux
	h = s.limiter.Middleware(h)
	h = s.logRequests(h)
	if s.metrics != nil {
		h = s.metrics.Instrument(h)
	}
	return s.recoverPanics(h)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		s.log.Warn("health check failed", zap.Error(err))
		respondError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CleanupRateLimits drops rate limit buckets of clients that went idle.
func (s *Server) CleanupRateLimits() {
	s.limiter.Cleanup()
}
