package analytics

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/safar/go-marketplace/internal/database"
	"github.com/safar/go-marketplace/internal/models"
)

var ErrAnalyticsUnavailable = errors.New("analytics data unavailable")

type Store interface {
	ListOrdersForShops(ctx context.Context, shopIDs []int64, from, to time.Time) ([]models.Order, error)
	ListSellerStats(ctx context.Context, shopIDs []int64) ([]models.SellerStats, error)
	ListProductsByShops(ctx context.Context, shopIDs []int64) ([]models.Product, error)
	ListReviewsForShops(ctx context.Context, shopIDs []int64) ([]models.Review, error)
}

type RetryObserver interface {
	RetryAttempt(operation string)
}

// Result is a report plus the sources that could not be loaded. Failed
// sources contribute nothing to the report.
type Result struct {
	Report        Report               `json:"report"`
	Stats         []models.SellerStats `json:"stats"`
	PartialErrors map[string]string    `json:"partial_errors,omitempty"`
}

type Service struct {
	store    Store
	retry    database.RetryPolicy
	log      *zap.Logger
	observer RetryObserver
	now      func() time.Time
}

func NewService(store Store, retry database.RetryPolicy, log *zap.Logger, observer RetryObserver) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, retry: retry, log: log, observer: observer, now: time.Now}
}

// Load fetches orders, stats, products and reviews concurrently, each with
// its own network retry, and aggregates whatever arrived. It fails only when
// all four fetches fail.
func (s *Service) Load(ctx context.Context, shopIDs []int64, rng Range) (*Result, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}

	var (
		in Input
		wg sync.WaitGroup
		mu sync.Mutex
	)
	errs := make(map[string]error)

	fetch := func(name string, fn func(ctx context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			policy := s.retry
			policy.Logger = s.log.With(zap.String("source", name))
			policy.OnRetry = func(int, error, time.Duration) {
				if s.observer != nil {
					s.observer.RetryAttempt("analytics_" + name)
				}
			}
			if err := database.RetryNetwork(ctx, policy, fn); err != nil {
				mu.Lock()
				errs[name] = err
				mu.Unlock()
			}
		}()
	}

	fetch("orders", func(ctx context.Context) error {
		orders, err := s.store.ListOrdersForShops(ctx, shopIDs, rng.From, rng.To)
		in.Orders = orders
		return err
	})
	fetch("stats", func(ctx context.Context) error {
		stats, err := s.store.ListSellerStats(ctx, shopIDs)
		in.Stats = stats
		return err
	})
	fetch("products", func(ctx context.Context) error {
		products, err := s.store.ListProductsByShops(ctx, shopIDs)
		in.Products = products
		return err
	})
	fetch("reviews", func(ctx context.Context) error {
		reviews, err := s.store.ListReviewsForShops(ctx, shopIDs)
		in.Reviews = reviews
		return err
	})

	wg.Wait()

	if len(errs) == 4 {
		joined := make([]error, 0, len(errs))
		for _, err := range errs {
			joined = append(joined, err)
		}
		s.log.Error("all analytics sources failed", zap.Error(errors.Join(joined...)))
		return nil, errors.Join(append([]error{ErrAnalyticsUnavailable}, joined...)...)
	}

	result := &Result{}
	if len(errs) > 0 {
		result.PartialErrors = make(map[string]string, len(errs))
		for name, err := range errs {
			s.log.Warn("analytics source failed", zap.String("source", name), zap.Error(err))
			result.PartialErrors[name] = err.Error()
		}
		// a failed branch contributes nothing, even if it returned rows
		if _, ok := errs["orders"]; ok {
			in.Orders = nil
		}
		if _, ok := errs["stats"]; ok {
			in.Stats = nil
		}
		if _, ok := errs["products"]; ok {
			in.Products = nil
		}
		if _, ok := errs["reviews"]; ok {
			in.Reviews = nil
		}
	}

	result.Report = Aggregate(in, s.now())
	result.Stats = in.Stats
	if result.Stats == nil {
		result.Stats = []models.SellerStats{}
	}
	return result, nil
}
