package analytics

import (
	"strings"

	"github.com/safar/go-marketplace/internal/models"
)

// Bucket is the coarse order state used by the dashboard.
type Bucket int

const (
	BucketPending Bucket = iota
	BucketProcessing
	BucketCompleted
	BucketCancelled
)

var bucketNames = [...]string{
	BucketPending:    "pending",
	BucketProcessing: "processing",
	BucketCompleted:  "completed",
	BucketCancelled:  "cancelled",
}

func (b Bucket) String() string {
	if b < 0 || int(b) >= len(bucketNames) {
		return bucketNames[BucketPending]
	}
	return bucketNames[b]
}

// bucketMarkers is checked in order; the first substring found wins.
var bucketMarkers = []struct {
	marker string
	bucket Bucket
}{
	{"cancel", BucketCancelled},
	{"complet", BucketCompleted},
	{"deliver", BucketCompleted},
	{"process", BucketProcessing},
}

// NormalizeStatus maps a raw status string to its bucket. Anything that is
// not recognised counts as pending. NormalizeStatus(b.String()) == b for
// every bucket.
func NormalizeStatus(raw string) Bucket {
	s := strings.ToLower(raw)
	for _, m := range bucketMarkers {
		if strings.Contains(s, m.marker) {
			return m.bucket
		}
	}
	return BucketPending
}

func BucketOf(status models.OrderStatus) Bucket {
	return NormalizeStatus(string(status))
}
