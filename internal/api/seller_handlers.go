package api

import (
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/safar/go-marketplace/internal/analytics"
	"github.com/safar/go-marketplace/internal/auth"
	"github.com/safar/go-marketplace/internal/database"
	"github.com/safar/go-marketplace/internal/models"
	"github.com/safar/go-marketplace/internal/store"
	"github.com/safar/go-marketplace/internal/validate"
)

// analyticsRange reads period, or from/to as RFC 3339 timestamps or dates.
// Explicit bounds override the period.
func analyticsRange(r *http.Request, now time.Time) (analytics.Range, error) {
	q := r.URL.Query()

	rng, err := analytics.RangeFor(analytics.Period(q.Get("period")), now)
	if err != nil {
		return analytics.Range{}, validate.Errors{{Field: "period", Message: "must be one of: week month year all"}}
	}

	for _, bound := range []struct {
		name string
		dst  *time.Time
	}{{"from", &rng.From}, {"to", &rng.To}} {
		raw := q.Get(bound.name)
		if raw == "" {
			continue
		}
		t, err := parseTime(raw)
		if err != nil {
			return analytics.Range{}, validate.Errors{{Field: bound.name, Message: "must be a date or RFC 3339 timestamp"}}
		}
		*bound.dst = t
	}

	if err := rng.Validate(); err != nil {
		return analytics.Range{}, validate.Errors{{Field: "to", Message: "must be after from"}}
	}
	return rng, nil
}

func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, raw)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFrom(r.Context())

	rng, err := analyticsRange(r, time.Now())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	shopIDs, err := s.ownedShopIDs(r, session)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if raw := r.URL.Query().Get("shop_id"); raw != "" {
		shopID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.fail(w, r, validate.Errors{{Field: "shop_id", Message: "is invalid"}})
			return
		}
		if !slices.Contains(shopIDs, shopID) {
			s.fail(w, r, database.ErrShopNotFound)
			return
		}
		shopIDs = []int64{shopID}
	}

	result, err := s.analytics.Load(r.Context(), shopIDs, rng)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type notificationsResponse struct {
	*store.OffsetPage[models.Notification]
	UnreadCount int64 `json:"unread_count"`
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFrom(r.Context())

	shopIDs, err := s.ownedShopIDs(r, session)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	page, err := store.ListNotifications(r.Context(), s.db, shopIDs,
		queryInt(r, "page", 1), queryInt(r, "page_size", 20))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	unread, err := store.CountUnreadNotifications(r.Context(), s.db, shopIDs)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, notificationsResponse{OffsetPage: page, UnreadCount: unread})
}

func (s *Server) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFrom(r.Context())

	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	shopIDs, err := s.ownedShopIDs(r, session)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if err := store.MarkNotificationRead(r.Context(), s.db, id, shopIDs); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFrom(r.Context())

	shopIDs, err := s.ownedShopIDs(r, session)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	n, err := store.MarkAllNotificationsRead(r.Context(), s.db, shopIDs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"updated": n})
}
