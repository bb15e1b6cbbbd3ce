package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/safar/go-marketplace/internal/auth"
	"github.com/safar/go-marketplace/internal/database"
	"github.com/safar/go-marketplace/internal/models"
	"github.com/safar/go-marketplace/internal/store"
	"github.com/safar/go-marketplace/internal/validate"
)

var imageTypes = []string{"image/jpeg", "image/png", "image/webp", "image/gif"}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := store.ListCategories(r.Context(), s.db)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, categories)
}

func (s *Server) handleListShopProducts(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	products, err := store.ListProductsByShops(r.Context(), s.db, []int64{id})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, products)
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	product, err := store.GetProduct(r.Context(), s.db, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, product)
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFrom(r.Context())

	var form validate.ProductForm
	if err := s.decode(w, r, &form); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.requireOwnedShop(r, session, form.ShopID); err != nil {
		s.fail(w, r, err)
		return
	}

	product, err := store.CreateProduct(r.Context(), s.db, form.Product())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, product)
}

func (s *Server) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFrom(r.Context())

	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var form validate.ProductForm
	if err := s.decode(w, r, &form); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.requireOwnedShop(r, session, form.ShopID); err != nil {
		s.fail(w, r, err)
		return
	}

	product := form.Product()
	product.ID = id

	updated, err := store.UpdateProduct(r.Context(), s.db, product)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
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

	if err := store.DeleteProduct(r.Context(), s.db, id, shopIDs); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUploadProductImage stores one image and appends its URL to the
// product. The object is removed again when the product is already full.
func (s *Server) handleUploadProductImage(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFrom(r.Context())

	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	product, err := store.GetProduct(r.Context(), s.db, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.requireOwnedShop(r, session, product.ShopID); err != nil {
		s.fail(w, r, err)
		return
	}
	if len(product.Images) >= models.MaxProductImages {
		s.fail(w, r, database.ErrTooManyImages)
		return
	}

	url, err := s.uploadFile(w, r, "image", "products", product.ID, imageTypes)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	updated, err := store.AddProductImage(r.Context(), s.db, product.ID, url)
	if err != nil {
		s.discardUpload(r, url)
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, updated)
}

func (s *Server) discardUpload(r *http.Request, url string) {
	key, ok := strings.CutPrefix(url, s.storage.PublicURL(""))
	if !ok || key == "" {
		return
	}
	if err := s.storage.Delete(r.Context(), key); err != nil {
		s.log.Warn("remove orphaned upload", zap.String("url", url), zap.Error(err))
	}
}

func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	reviews, err := store.ListReviewsForProducts(r.Context(), s.db, []int64{id})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, reviews)
}

func (s *Server) handleCreateReview(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFrom(r.Context())

	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var form validate.ReviewForm
	if err := s.decode(w, r, &form); err != nil {
		s.fail(w, r, err)
		return
	}

	review, err := store.CreateReview(r.Context(), s.db, &models.Review{
		ProductID: id,
		BuyerID:   session.UserID,
		Rating:    form.Rating,
		Comment:   form.Comment,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, review)
}
