package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"slices"
	"strings"

	"github.com/safar/go-marketplace/internal/auth"
	"github.com/safar/go-marketplace/internal/database"
	"github.com/safar/go-marketplace/internal/models"
	"github.com/safar/go-marketplace/internal/storage"
	"github.com/safar/go-marketplace/internal/store"
	"github.com/safar/go-marketplace/internal/validate"
)

func (s *Server) handleCreateShop(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFrom(r.Context())

	var form validate.ShopForm
	if err := s.decode(w, r, &form); err != nil {
		s.fail(w, r, err)
		return
	}

	shop, err := store.CreateShop(r.Context(), s.db, form.Shop(session.UserID))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, shop)
}

func (s *Server) handleListShops(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFrom(r.Context())

	shops, err := store.ListShopsByOwner(r.Context(), s.db, session.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, shops)
}

func (s *Server) handleGetShop(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	shop, err := store.GetShop(r.Context(), s.db, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, shop)
}

func (s *Server) handleUpdateShop(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFrom(r.Context())

	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var form validate.ShopForm
	if err := s.decode(w, r, &form); err != nil {
		s.fail(w, r, err)
		return
	}

	shop := form.Shop(session.UserID)
	shop.ID = id

	updated, err := store.UpdateShop(r.Context(), s.db, shop)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteShop(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFrom(r.Context())

	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if err := store.DeleteShop(r.Context(), s.db, id, session.UserID); err != nil {
		s.fail(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleSubmitVerification accepts either a JSON body with document_url or
// a multipart upload of the document itself.
func (s *Server) handleSubmitVerification(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFrom(r.Context())

	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var documentURL string
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := s.requireOwnedShop(r, session, id); err != nil {
			s.fail(w, r, err)
			return
		}
		documentURL, err = s.uploadFile(w, r, "document", "verification", id, nil)
		if err != nil {
			s.fail(w, r, err)
			return
		}
	} else {
		var form validate.VerificationForm
		if err := s.decode(w, r, &form); err != nil {
			s.fail(w, r, err)
			return
		}
		documentURL = form.DocumentURL
	}

	shop, err := store.SubmitShopVerification(r.Context(), s.db, id, session.UserID, documentURL)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, shop)
}

func (s *Server) handleReviewVerification(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var form validate.VerificationReviewForm
	if err := s.decode(w, r, &form); err != nil {
		s.fail(w, r, err)
		return
	}

	shop, err := store.ReviewShopVerification(r.Context(), s.db, id, models.VerificationStatus(form.Outcome))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, shop)
}

func (s *Server) ownedShopIDs(r *http.Request, session *auth.Session) ([]int64, error) {
	return store.ListShopIDsByOwner(r.Context(), s.db, session.UserID)
}

func (s *Server) requireOwnedShop(r *http.Request, session *auth.Session, shopID int64) error {
	ids, err := s.ownedShopIDs(r, session)
	if err != nil {
		return err
	}
	if !slices.Contains(ids, shopID) {
		return database.ErrForbidden
	}
	return nil
}

// uploadFile stores the multipart file in field under a fresh key below
// prefix/ownerID and returns its public URL. allowed restricts the sniffed
// content type by prefix.
func (s *Server) uploadFile(w http.ResponseWriter, r *http.Request, field, prefix string, ownerID int64, allowed []string) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) || strings.Contains(err.Error(), "request body too large") {
			return "", &http.MaxBytesError{Limit: s.maxUpload}
		}
		return "", validate.Errors{{Field: field, Message: "is required"}}
	}

	file, header, err := r.FormFile(field)
	if err != nil {
		return "", validate.Errors{{Field: field, Message: "is required"}}
	}
	defer file.Close()

	body, err := io.ReadAll(file)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}

	contentType := http.DetectContentType(body)
	if len(allowed) > 0 && !slices.ContainsFunc(allowed, func(p string) bool {
		return strings.HasPrefix(contentType, p)
	}) {
		return "", validate.Errors{{Field: field, Message: "has unsupported type " + contentType}}
	}

	key := storage.ObjectKey(prefix, ownerID, header.Filename)
	return s.storage.Upload(r.Context(), key, body, contentType, false)
}
