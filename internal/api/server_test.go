package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/safar/go-marketplace/internal/analytics"
	"github.com/safar/go-marketplace/internal/auth"
	"github.com/safar/go-marketplace/internal/config"
	"github.com/safar/go-marketplace/internal/database"
	"github.com/safar/go-marketplace/internal/models"
	"github.com/safar/go-marketplace/internal/orders"
	"github.com/safar/go-marketplace/internal/storage"
	"github.com/safar/go-marketplace/internal/store"
)

type fakeProfiles struct {
	mu     sync.Mutex
	byID   map[int64]*models.Profile
	nextID int64
}

func (f *fakeProfiles) CreateProfile(_ context.Context, email, fullName string, role models.Role, hash string) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.byID {
		if p.Email == email {
			return nil, database.ErrEmailTaken
		}
	}
	f.nextID++
	p := &models.Profile{ID: f.nextID, Email: email, FullName: fullName, Role: role, PasswordHash: hash}
	f.byID[p.ID] = p
	return p, nil
}

func (f *fakeProfiles) GetProfile(_ context.Context, id int64) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.byID[id]; ok {
		return p, nil
	}
	return nil, database.ErrUserNotFound
}

func (f *fakeProfiles) put(p *models.Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[p.ID] = p
}

func (f *fakeProfiles) GetProfileByEmail(_ context.Context, email string) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.byID {
		if p.Email == email {
			return p, nil
		}
	}
	return nil, database.ErrUserNotFound
}

// analyticsSource fails the named sources and returns nothing for the rest.
type analyticsSource struct {
	failing map[string]bool
}

func (a analyticsSource) err(name string) error {
	if a.failing[name] {
		return fmt.Errorf("%s: permission denied", name)
	}
	return nil
}

func (a analyticsSource) ListOrdersForShops(context.Context, []int64, time.Time, time.Time) ([]models.Order, error) {
	return nil, a.err("orders")
}

func (a analyticsSource) ListSellerStats(context.Context, []int64) ([]models.SellerStats, error) {
	return nil, a.err("stats")
}

func (a analyticsSource) ListProductsByShops(context.Context, []int64) ([]models.Product, error) {
	return nil, a.err("products")
}

func (a analyticsSource) ListReviewsForShops(context.Context, []int64) ([]models.Review, error) {
	return nil, a.err("reviews")
}

type testEnv struct {
	handler  http.Handler
	mock     sqlmock.Sqlmock
	jwt      *auth.JWTService
	profiles *fakeProfiles
	storage  *storage.Memory
	server   *Server
}

type envOption func(*Deps)

func withRateLimit(rps float64, burst int) envOption {
	return func(d *Deps) { d.RateLimit = config.RateLimitConfig{RequestsPerSecond: rps, Burst: burst} }
}

func withMaxUpload(n int64) envOption {
	return func(d *Deps) { d.Server.MaxUploadBytes = n }
}

func withAnalytics(src analyticsSource) envOption {
	return func(d *Deps) {
		d.Analytics = analytics.NewService(src, database.RetryPolicy{Attempts: 1, BaseDelay: time.Millisecond}, d.Log, nil)
	}
}

func newEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})

	log := zaptest.NewLogger(t)
	authCfg := config.AuthConfig{
		Secret:          "access-secret",
		RefreshSecret:   "refresh-secret",
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 24 * time.Hour,
		Issuer:          "marketplace-test",
	}
	jwtSvc := auth.NewJWTService(authCfg)
	mem := storage.NewMemory("https://cdn.test")
	profiles := &fakeProfiles{byID: map[int64]*models.Profile{}, nextID: 100}

	deps := Deps{
		DB:      db,
		Auth:    auth.NewService(profiles, jwtSvc, auth.NewMemoryBlacklist(), log),
		Orders:  orders.NewService(store.New(db), log, nil),
		Storage: mem,
		Log:     log,
	}
	deps.Analytics = analytics.NewService(analyticsSource{}, database.RetryPolicy{Attempts: 1, BaseDelay: time.Millisecond}, log, nil)
	for _, opt := range opts {
		opt(&deps)
	}

	srv := New(deps)
	return &testEnv{handler: srv.Handler(), mock: mock, jwt: jwtSvc, profiles: profiles, storage: mem, server: srv}
}

// token registers a profile with the given id and role and signs an access
// token for it.
func (e *testEnv) token(t *testing.T, id int64, role models.Role) string {
	t.Helper()
	profile := &models.Profile{ID: id, Email: fmt.Sprintf("user%d@example.com", id), Role: role}
	e.profiles.put(profile)
	pair, err := e.jwt.GenerateTokenPair(profile)
	require.NoError(t, err)
	return pair.AccessToken
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

var orderRowColumns = []string{
	"id", "shop_id", "buyer_id", "order_number", "status", "payment_status", "total_amount",
	"shipping_address", "expected_delivery_date", "delivered_at", "created_at", "updated_at", "version",
}

var orderItemColumns = []string{"id", "order_id", "product_id", "quantity", "unit_price", "subtotal", "created_at"}

func (e *testEnv) expectOrder(id, shopID int64, status string) {
	now := time.Now()
	e.mock.ExpectQuery(`FROM orders WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(orderRowColumns).AddRow(
			id, shopID, 90, "ORD-API", status, "pending", "40.00",
			nil, nil, nil, now, now, 1,
		))
	e.mock.ExpectQuery(`FROM order_items`).
		WillReturnRows(sqlmock.NewRows(orderItemColumns))
}

func (e *testEnv) expectOwnedShops(ownerID int64, ids string) {
	e.mock.ExpectQuery(`SELECT COALESCE\(array_agg`).
		WithArgs(ownerID).
		WillReturnRows(sqlmock.NewRows([]string{"ids"}).AddRow(ids))
}

func TestHealthz(t *testing.T) {
	env := newEnv(t)
	env.mock.ExpectPing()

	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHealthzDatabaseDown(t *testing.T) {
	env := newEnv(t)
	env.mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSignUpValidationErrors(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/auth/signup", "", map[string]string{
		"email":     "not-an-email",
		"password":  "short",
		"full_name": "  ",
		"role":      "admin",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body validationResponse
	decodeBody(t, rec, &body)
	fields := map[string]string{}
	for _, f := range body.Fields {
		fields[f.Field] = f.Message
	}
	assert.Equal(t, "must be a valid email address", fields["email"])
	assert.Contains(t, fields, "password")
	assert.Equal(t, "is required", fields["full_name"])
	assert.Equal(t, "must be one of: buyer seller", fields["role"])
}

func TestSignUpRejectsUnknownFields(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/auth/signup", "", `{"email":"a@b.co","role":"admin","is_admin":true}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "is_admin")
}

func TestSignUpSignOutRevokesToken(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/auth/signup", "", map[string]string{
		"email":     "seller@example.com",
		"password":  "correct horse",
		"full_name": "Ama Seller",
		"role":      "seller",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created authResponse
	decodeBody(t, rec, &created)
	require.NotNil(t, created.Tokens)
	assert.Equal(t, models.RoleSeller, created.Profile.Role)
	assert.NotContains(t, rec.Body.String(), "password_hash")

	rec = env.do(t, http.MethodPost, "/v1/auth/signup", "", map[string]string{
		"email":     "seller@example.com",
		"password":  "another pass",
		"full_name": "Someone Else",
		"role":      "buyer",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	token := created.Tokens.AccessToken
	rec = env.do(t, http.MethodPost, "/v1/auth/signout", token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/auth/signout", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSignInWrongPassword(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/auth/signin", "", map[string]string{
		"email":    "nobody@example.com",
		"password": "whatever",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/seller/analytics", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/seller/analytics", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/seller/analytics", env.token(t, 4, models.RoleBuyer), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTokenOfDeletedAccountIsRejected(t *testing.T) {
	env := newEnv(t)

	token := env.token(t, 12, models.RoleSeller)
	env.profiles.mu.Lock()
	delete(env.profiles.byID, 12)
	env.profiles.mu.Unlock()

	rec := env.do(t, http.MethodGet, "/v1/seller/analytics", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDeleteShopWithOrdersConflicts(t *testing.T) {
	env := newEnv(t)
	env.mock.ExpectExec(`DELETE FROM shops`).
		WithArgs(int64(2), int64(3)).
		WillReturnError(&pq.Error{Code: "23503", Constraint: "orders_shop_id_fkey"})

	rec := env.do(t, http.MethodDelete, "/v1/shops/2", env.token(t, 3, models.RoleSeller), nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), database.ErrShopHasOrders.Error())
	assert.NotContains(t, rec.Body.String(), "pq:")
}

func TestListOrdersNegativeLimit(t *testing.T) {
	env := newEnv(t)
	env.mock.ExpectQuery(`WHERE buyer_id = \$1`).
		WithArgs(int64(4), sqlmock.AnyArg(), sqlmock.AnyArg(), 21).
		WillReturnRows(sqlmock.NewRows(orderRowColumns))

	rec := env.do(t, http.MethodGet, "/v1/orders?limit=-1", env.token(t, 4, models.RoleBuyer), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"items":[],"has_more":false}`, rec.Body.String())
}

func TestAnalyticsReportsPartialErrors(t *testing.T) {
	env := newEnv(t, withAnalytics(analyticsSource{failing: map[string]bool{"orders": true}}))
	env.expectOwnedShops(3, "{1}")

	rec := env.do(t, http.MethodGet, "/v1/seller/analytics?period=month", env.token(t, 3, models.RoleSeller), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Report struct {
			TotalOrders      int `json:"total_orders"`
			OrderStatusChart []struct {
				Label string  `json:"label"`
				Value float64 `json:"value"`
			} `json:"order_status_chart"`
		} `json:"report"`
		PartialErrors map[string]string `json:"partial_errors"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, 0, body.Report.TotalOrders)
	assert.Contains(t, body.PartialErrors, "orders")
	assert.NotContains(t, body.PartialErrors, "reviews")
}

func TestAnalyticsAllSourcesFailing(t *testing.T) {
	env := newEnv(t, withAnalytics(analyticsSource{failing: map[string]bool{
		"orders": true, "stats": true, "products": true, "reviews": true,
	}}))
	env.expectOwnedShops(3, "{1}")

	rec := env.do(t, http.MethodGet, "/v1/seller/analytics", env.token(t, 3, models.RoleSeller), nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAnalyticsRejectsForeignShop(t *testing.T) {
	env := newEnv(t)
	env.expectOwnedShops(3, "{1}")

	rec := env.do(t, http.MethodGet, "/v1/seller/analytics?shop_id=2", env.token(t, 3, models.RoleSeller), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnalyticsRangeValidation(t *testing.T) {
	env := newEnv(t)
	token := env.token(t, 3, models.RoleSeller)

	rec := env.do(t, http.MethodGet, "/v1/seller/analytics?period=decade", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/seller/analytics?from=2024-03-01&to=2024-02-01", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "must be after from")
}

func TestUpdateOrderStatusRejectsSkippedStep(t *testing.T) {
	env := newEnv(t)
	env.expectOrder(5, 1, "pending")
	env.expectOwnedShops(3, "{1}")

	rec := env.do(t, http.MethodPost, "/v1/orders/5/status", env.token(t, 3, models.RoleSeller),
		map[string]string{"status": "delivered"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateOrderStatusAdvances(t *testing.T) {
	env := newEnv(t)
	now := time.Now()
	env.expectOrder(5, 1, "pending")
	env.expectOwnedShops(3, "{1}")
	env.expectOwnedShops(3, "{1}")
	env.mock.ExpectQuery(`UPDATE orders`).
		WithArgs("processing", int64(5), "pending").
		WillReturnRows(sqlmock.NewRows(orderRowColumns).AddRow(
			5, 1, 90, "ORD-API", "processing", "pending", "40.00",
			nil, nil, nil, now, now, 2,
		))

	rec := env.do(t, http.MethodPost, "/v1/orders/5/status", env.token(t, 3, models.RoleSeller),
		map[string]string{"status": "processing"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var order models.Order
	decodeBody(t, rec, &order)
	assert.Equal(t, models.OrderStatusProcessing, order.Status)
	assert.Equal(t, 2, order.Version)
}

func TestOrderHiddenFromOtherSellers(t *testing.T) {
	env := newEnv(t)
	env.expectOrder(5, 1, "pending")
	env.expectOwnedShops(8, "{4}")

	rec := env.do(t, http.MethodGet, "/v1/orders/5/transitions", env.token(t, 8, models.RoleSeller), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrderTransitionsForAdmin(t *testing.T) {
	env := newEnv(t)
	env.expectOrder(5, 1, "shipped")

	rec := env.do(t, http.MethodGet, "/v1/orders/5/transitions", env.token(t, 1, models.RoleAdmin), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"shipped","available":["delivered"]}`, rec.Body.String())
}

func TestBadPathID(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/orders/abc", env.token(t, 1, models.RoleAdmin), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerificationUploadTooLarge(t *testing.T) {
	env := newEnv(t, withMaxUpload(64))
	env.expectOwnedShops(3, "{7}")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("document", "license.pdf")
	require.NoError(t, err)
	_, err = part.Write(bytes.Repeat([]byte("x"), 4096))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/shops/7/verification", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+env.token(t, 3, models.RoleSeller))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRateLimitPerClient(t *testing.T) {
	env := newEnv(t, withRateLimit(1, 1))
	creds := map[string]string{"email": "nobody@example.com", "password": "whatever"}

	rec := env.do(t, http.MethodPost, "/v1/auth/signin", "", creds)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/auth/signin", "", creds)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	env.mock.ExpectPing()
	rec = env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(10, 1)
	now := time.Now()
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))

	now = now.Add(5 * time.Minute)
	assert.True(t, rl.Allow("10.0.0.2"))

	now = now.Add(6 * time.Minute)
	rl.Cleanup()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.limiters, "10.0.0.1")
	assert.Contains(t, rl.limiters, "10.0.0.2")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{database.ErrOrderNotFound, http.StatusNotFound},
		{fmt.Errorf("load: %w", database.ErrShopNotFound), http.StatusNotFound},
		{database.ErrForbidden, http.StatusForbidden},
		{database.ErrStatusConflict, http.StatusConflict},
		{database.ErrShopHasOrders, http.StatusConflict},
		{storage.ErrObjectExists, http.StatusConflict},
		{database.ErrInvalidTransition, http.StatusBadRequest},
		{auth.ErrTokenRevoked, http.StatusUnauthorized},
		{errors.Join(analytics.ErrAnalyticsUnavailable, errors.New("x")), http.StatusServiceUnavailable},
		{&http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge},
		{sql.ErrConnDone, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestInternalErrorsAreHidden(t *testing.T) {
	env := newEnv(t)
	env.mock.ExpectQuery(`SELECT COALESCE\(array_agg`).
		WillReturnError(errors.New("pq: relation \"shops\" does not exist"))

	rec := env.do(t, http.MethodGet, "/v1/seller/notifications", env.token(t, 3, models.RoleSeller), nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, strings.Contains(rec.Body.String(), "relation"))
}
