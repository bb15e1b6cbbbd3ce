// Package storage keeps uploaded files (product images, shop logos,
// verification documents) in an S3-compatible bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrObjectExists = errors.New("object already exists")
	ErrEmptyKey     = errors.New("storage key is required")
)

// Store is implemented by S3 and Memory.
type Store interface {
	// Upload writes body under key and returns its public URL. With upsert
	// false an existing object is left alone and ErrObjectExists returned.
	Upload(ctx context.Context, key string, body []byte, contentType string, upsert bool) (string, error)
	Delete(ctx context.Context, key string) error
	PublicURL(key string) string
}

// ObjectKey builds a collision-free key such as
// "products/42/0b8f...-....jpg" for a file uploaded by ownerID.
func ObjectKey(prefix string, ownerID int64, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return fmt.Sprintf("%s/%d/%s%s", strings.Trim(prefix, "/"), ownerID, uuid.NewString(), ext)
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}
