package analytics

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/safar/go-marketplace/internal/models"
)

const (
	topN          = 5
	revenueMonths = 6

	NoOrdersLabel      = "No Orders"
	NoSalesLabel       = "No Sales"
	UnknownProductName = "Unknown Product"
	UncategorizedName  = "Uncategorized"
)

// Input is everything fetched for one dashboard view, already scoped to the
// seller's shops and date range.
type Input struct {
	Orders   []models.Order
	Stats    []models.SellerStats
	Products []models.Product
	Reviews  []models.Review
}

type StatusCounts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Cancelled  int `json:"cancelled"`
}

func (c *StatusCounts) add(b Bucket) {
	switch b {
	case BucketProcessing:
		c.Processing++
	case BucketCompleted:
		c.Completed++
	case BucketCancelled:
		c.Cancelled++
	default:
		c.Pending++
	}
}

type ProductRevenue struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Revenue   decimal.Decimal `json:"revenue"`
}

type CategoryRevenue struct {
	Category string          `json:"category"`
	Quantity int             `json:"quantity"`
	Revenue  decimal.Decimal `json:"revenue"`
}

type ChartPoint struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

type MonthRevenue struct {
	Month   string          `json:"month"`
	Revenue decimal.Decimal `json:"revenue"`
}

type Report struct {
	TotalRevenue         decimal.Decimal   `json:"total_revenue"`
	TotalOrders          int               `json:"total_orders"`
	TotalCustomers       int               `json:"total_customers"`
	TotalProducts        int               `json:"total_products"`
	AverageOrderValue    decimal.Decimal   `json:"average_order_value"`
	StatusCounts         StatusCounts      `json:"status_counts"`
	DeliverySuccessRate  float64           `json:"delivery_success_rate"`
	MonthOverMonthGrowth float64           `json:"month_over_month_growth"`
	TopProducts          []ProductRevenue  `json:"top_products"`
	TopCategories        []CategoryRevenue `json:"top_categories"`
	RatingDistribution   [5]int            `json:"rating_distribution"`
	AverageRating        float64           `json:"average_rating"`
	OrderStatusChart     []ChartPoint      `json:"order_status_chart"`
	TopProductsChart     []ChartPoint      `json:"top_products_chart"`
	MonthlyRevenue       []MonthRevenue    `json:"monthly_revenue"`
}

// orderRecord is an order after ingestion: its status is already bucketed
// and nothing downstream looks at the raw string again.
type orderRecord struct {
	buyerID   int64
	bucket    Bucket
	paid      bool
	total     decimal.Decimal
	createdAt time.Time
	expected  *time.Time
	delivered *time.Time
	items     []models.OrderItem
}

func (o orderRecord) earnsRevenue() bool {
	return o.paid || o.bucket == BucketCompleted
}

func ingest(orders []models.Order) []orderRecord {
	out := make([]orderRecord, len(orders))
	for i, o := range orders {
		out[i] = orderRecord{
			buyerID:   o.BuyerID,
			bucket:    BucketOf(o.Status),
			paid:      o.PaymentStatus == models.PaymentStatusPaid,
			total:     o.TotalAmount,
			createdAt: o.CreatedAt,
			expected:  o.ExpectedDeliveryDate,
			delivered: o.DeliveredAt,
			items:     o.Items,
		}
	}
	return out
}

// Aggregate computes the dashboard report. Every figure falls back to zero
// or an empty list when in is empty, and both charts always hold at least
// one point.
func Aggregate(in Input, now time.Time) Report {
	orders := ingest(in.Orders)

	r := Report{
		TotalRevenue:      decimal.Zero,
		AverageOrderValue: decimal.Zero,
		TotalOrders:       len(orders),
		TotalProducts:     len(in.Products),
	}

	customers := make(map[int64]struct{})
	var completed, onTime int
	for _, o := range orders {
		customers[o.buyerID] = struct{}{}
		r.StatusCounts.add(o.bucket)
		if o.earnsRevenue() {
			r.TotalRevenue = r.TotalRevenue.Add(o.total)
		}
		if o.bucket == BucketCompleted {
			completed++
			if deliveredOnTime(o) {
				onTime++
			}
		}
	}
	r.TotalCustomers = len(customers)

	if r.TotalOrders > 0 {
		r.AverageOrderValue = r.TotalRevenue.Div(decimal.NewFromInt(int64(r.TotalOrders))).Round(2)
	}
	if completed > 0 {
		r.DeliverySuccessRate = float64(onTime) / float64(completed)
	}

	r.MonthOverMonthGrowth = monthOverMonthGrowth(orders, now)
	r.TopProducts, r.TopCategories = topSellers(orders, in.Products)
	r.RatingDistribution, r.AverageRating = ratings(in.Reviews)
	r.OrderStatusChart = statusChart(r.StatusCounts)
	r.TopProductsChart = productsChart(r.TopProducts)
	r.MonthlyRevenue = monthlyRevenue(orders, now)

	return r
}

// deliveredOnTime treats orders missing either date as on time.
func deliveredOnTime(o orderRecord) bool {
	if o.expected == nil || o.delivered == nil {
		return true
	}
	return !o.delivered.After(*o.expected)
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// monthOverMonthGrowth compares the number of orders placed in the calendar
// month of now with the month before, as a percentage.
func monthOverMonthGrowth(orders []orderRecord, now time.Time) float64 {
	current := monthStart(now)
	previous := current.AddDate(0, -1, 0)

	var thisMonth, lastMonth int
	for _, o := range orders {
		created := o.createdAt.In(now.Location())
		switch {
		case !created.Before(current) && created.Before(current.AddDate(0, 1, 0)):
			thisMonth++
		case !created.Before(previous) && created.Before(current):
			lastMonth++
		}
	}

	if lastMonth == 0 {
		if thisMonth > 0 {
			return 100
		}
		return 0
	}
	growth := float64(thisMonth-lastMonth) / float64(lastMonth) * 100
	return math.Round(growth*10) / 10
}

func topSellers(orders []orderRecord, products []models.Product) ([]ProductRevenue, []CategoryRevenue) {
	catalog := make(map[int64]models.Product, len(products))
	for _, p := range products {
		catalog[p.ID] = p
	}

	byProduct := make(map[int64]*ProductRevenue)
	byCategory := make(map[string]*CategoryRevenue)

	for _, o := range orders {
		if !o.earnsRevenue() {
			continue
		}
		for _, item := range o.items {
			revenue := item.Subtotal
			if revenue.IsZero() {
				revenue = item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
			}

			name, category := UnknownProductName, UncategorizedName
			if p, ok := catalog[item.ProductID]; ok {
				name = p.Name
				if p.Category != "" {
					category = p.Category
				}
			}

			pr, ok := byProduct[item.ProductID]
			if !ok {
				pr = &ProductRevenue{ProductID: item.ProductID, Name: name, Revenue: decimal.Zero}
				byProduct[item.ProductID] = pr
			}
			pr.Quantity += item.Quantity
			pr.Revenue = pr.Revenue.Add(revenue)

			cr, ok := byCategory[category]
			if !ok {
				cr = &CategoryRevenue{Category: category, Revenue: decimal.Zero}
				byCategory[category] = cr
			}
			cr.Quantity += item.Quantity
			cr.Revenue = cr.Revenue.Add(revenue)
		}
	}

	topProducts := make([]ProductRevenue, 0, len(byProduct))
	for _, pr := range byProduct {
		topProducts = append(topProducts, *pr)
	}
	slices.SortFunc(topProducts, func(a, b ProductRevenue) int {
		if c := b.Revenue.Cmp(a.Revenue); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.ProductID, b.ProductID)
	})

	topCategories := make([]CategoryRevenue, 0, len(byCategory))
	for _, cr := range byCategory {
		topCategories = append(topCategories, *cr)
	}
	slices.SortFunc(topCategories, func(a, b CategoryRevenue) int {
		if c := b.Revenue.Cmp(a.Revenue); c != 0 {
			return c
		}
		return cmp.Compare(a.Category, b.Category)
	})

	return truncate(topProducts, topN), truncate(topCategories, topN)
}

func truncate[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// ratings buckets reviews by whole stars. Ratings outside [1,5] are ignored
// for both the distribution and the average.
func ratings(reviews []models.Review) ([5]int, float64) {
	var dist [5]int
	var sum float64
	var n int
	for _, rv := range reviews {
		if rv.Rating < 1 || rv.Rating > 5 || math.IsNaN(rv.Rating) {
			continue
		}
		dist[int(math.Floor(rv.Rating))-1]++
		sum += rv.Rating
		n++
	}
	if n == 0 {
		return dist, 0
	}
	return dist, math.Round(sum/float64(n)*100) / 100
}

func statusChart(c StatusCounts) []ChartPoint {
	points := []ChartPoint{
		{Label: BucketPending.String(), Value: float64(c.Pending)},
		{Label: BucketProcessing.String(), Value: float64(c.Processing)},
		{Label: BucketCompleted.String(), Value: float64(c.Completed)},
		{Label: BucketCancelled.String(), Value: float64(c.Cancelled)},
	}
	points = slices.DeleteFunc(points, func(p ChartPoint) bool { return p.Value == 0 })
	if len(points) == 0 {
		return []ChartPoint{{Label: NoOrdersLabel, Value: 1}}
	}
	return points
}

func productsChart(top []ProductRevenue) []ChartPoint {
	if len(top) == 0 {
		return []ChartPoint{{Label: NoSalesLabel, Value: 0}}
	}
	points := make([]ChartPoint, len(top))
	for i, p := range top {
		points[i] = ChartPoint{Label: p.Name, Value: p.Revenue.InexactFloat64()}
	}
	return points
}

// monthlyRevenue returns revenue for the last six calendar months, oldest
// first, including months without sales.
func monthlyRevenue(orders []orderRecord, now time.Time) []MonthRevenue {
	first := monthStart(now).AddDate(0, -(revenueMonths - 1), 0)

	series := make([]MonthRevenue, revenueMonths)
	index := make(map[string]int, revenueMonths)
	for i := range series {
		key := first.AddDate(0, i, 0).Format("2006-01")
		series[i] = MonthRevenue{Month: key, Revenue: decimal.Zero}
		index[key] = i
	}

	for _, o := range orders {
		if !o.earnsRevenue() {
			continue
		}
		if i, ok := index[o.createdAt.In(now.Location()).Format("2006-01")]; ok {
			series[i].Revenue = series[i].Revenue.Add(o.total)
		}
	}
	return series
}
