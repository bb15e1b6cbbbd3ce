package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/safar/go-marketplace/internal/analytics"
	"github.com/safar/go-marketplace/internal/auth"
	"github.com/safar/go-marketplace/internal/database"
	"github.com/safar/go-marketplace/internal/storage"
	"github.com/safar/go-marketplace/internal/validate"
)

var errBadID = errors.New("invalid id")

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Error("encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

type validationResponse struct {
	Error  string                `json:"error"`
	Fields []validate.FieldError `json:"fields"`
}

// statusFor maps domain errors to HTTP statuses. Anything unknown is a 500.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, database.ErrUserNotFound),
		errors.Is(err, database.ErrShopNotFound),
		errors.Is(err, database.ErrProductNotFound),
		errors.Is(err, database.ErrOrderNotFound),
		errors.Is(err, database.ErrNotificationNotFound),
		errors.Is(err, database.ErrConversationNotFound):
		return http.StatusNotFound
	case errors.Is(err, database.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, database.ErrEmailTaken),
		errors.Is(err, database.ErrInsufficientStock),
		errors.Is(err, database.ErrOptimisticLockFailed),
		errors.Is(err, database.ErrStatusConflict),
		errors.Is(err, database.ErrVerificationState),
		errors.Is(err, database.ErrTooManyImages),
		errors.Is(err, database.ErrShopHasOrders),
		errors.Is(err, storage.ErrObjectExists):
		return http.StatusConflict
	case errors.Is(err, database.ErrInvalidTransition),
		errors.Is(err, database.ErrMixedShopOrder),
		errors.Is(err, database.ErrEmptyOrder),
		errors.Is(err, errBadID):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrInvalidTokenType),
		errors.Is(err, auth.ErrTokenRevoked):
		return http.StatusUnauthorized
	case errors.Is(err, analytics.ErrAnalyticsUnavailable):
		return http.StatusServiceUnavailable
	case database.IsConstraintViolation(err):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// fail writes err as a single JSON error response. Internal errors are
// logged and hidden from the client.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verrs validate.Errors
	if errors.As(err, &verrs) {
		respondJSON(w, http.StatusBadRequest, validationResponse{Error: "validation failed", Fields: verrs})
		return
	}

	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		respondError(w, status, "internal server error")
		return
	}
	respondError(w, status, err.Error())
}

// decode reads a JSON body into dst and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return validate.Errors{{Field: "body", Message: "is required"}}
		}
		return validate.Errors{{Field: "body", Message: fmt.Sprintf("is not valid JSON: %v", err)}}
	}
	return s.validate.Struct(dst)
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("%w: %s", errBadID, name)
	}
	return id, nil
}

func queryInt(r *http.Request, name string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return fallback
	}
	return v
}
