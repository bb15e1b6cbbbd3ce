package analytics

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safar/go-marketplace/internal/models"
)

var now = time.Date(2024, time.January, 15, 12, 0, 0, 0, time.UTC)

func TestNormalizeStatusIsIdempotent(t *testing.T) {
	raw := []string{
		"pending", "PENDING", "confirmed", "Processing", "in process", "shipped",
		"DELIVERED", "completed", "Cancelled", "canceled_by_buyer", "", "weird",
	}
	for _, s := range raw {
		b := NormalizeStatus(s)
		assert.Equal(t, b, NormalizeStatus(b.String()), "status %q", s)
	}
}

func TestNormalizeStatusBuckets(t *testing.T) {
	assert.Equal(t, BucketCancelled, NormalizeStatus("Cancelled"))
	assert.Equal(t, BucketCompleted, NormalizeStatus("DELIVERED"))
	assert.Equal(t, BucketCompleted, NormalizeStatus("Completed"))
	assert.Equal(t, BucketProcessing, NormalizeStatus("Processing"))
	assert.Equal(t, BucketPending, NormalizeStatus("shipped"))
	assert.Equal(t, BucketPending, NormalizeStatus("confirmed"))
}

func TestStatusBucketCounts(t *testing.T) {
	r := Aggregate(Input{Orders: []models.Order{
		{Status: "pending"},
		{Status: "DELIVERED"},
		{Status: "Processing"},
	}}, now)

	assert.Equal(t, StatusCounts{Pending: 1, Processing: 1, Completed: 1, Cancelled: 0}, r.StatusCounts)
}

func TestEmptyInputReport(t *testing.T) {
	r := Aggregate(Input{}, now)

	assert.True(t, r.TotalRevenue.IsZero())
	assert.Equal(t, 0, r.TotalOrders)
	assert.Equal(t, 0, r.TotalCustomers)
	assert.True(t, r.AverageOrderValue.IsZero())
	assert.Equal(t, 0.0, r.DeliverySuccessRate)
	assert.Equal(t, 0.0, r.MonthOverMonthGrowth)
	assert.Empty(t, r.TopProducts)
	assert.Empty(t, r.TopCategories)
	assert.Equal(t, [5]int{}, r.RatingDistribution)

	require.Len(t, r.OrderStatusChart, 1)
	assert.Equal(t, NoOrdersLabel, r.OrderStatusChart[0].Label)
	require.Len(t, r.TopProductsChart, 1)
	assert.Equal(t, NoSalesLabel, r.TopProductsChart[0].Label)
	assert.Len(t, r.MonthlyRevenue, 6)
}

func TestRatingDistribution(t *testing.T) {
	r := Aggregate(Input{Reviews: []models.Review{
		{Rating: 5}, {Rating: 5}, {Rating: 1},
	}}, now)

	assert.Equal(t, [5]int{1, 0, 0, 0, 2}, r.RatingDistribution)
	assert.InDelta(t, 3.67, r.AverageRating, 1e-9)
}

func TestRatingDistributionFloorsAndDiscards(t *testing.T) {
	r := Aggregate(Input{Reviews: []models.Review{
		{Rating: 4.9}, {Rating: 1.0}, {Rating: 0.5}, {Rating: 5.5}, {Rating: 2.2},
	}}, now)

	assert.Equal(t, [5]int{1, 1, 0, 1, 0}, r.RatingDistribution)
}

func TestRevenueCountsPaidOrCompleted(t *testing.T) {
	r := Aggregate(Input{Orders: []models.Order{
		{BuyerID: 1, Status: models.OrderStatusPending, PaymentStatus: models.PaymentStatusPaid, TotalAmount: decimal.NewFromInt(10)},
		{BuyerID: 1, Status: models.OrderStatusDelivered, PaymentStatus: models.PaymentStatusPending, TotalAmount: decimal.NewFromInt(20)},
		{BuyerID: 2, Status: models.OrderStatusProcessing, PaymentStatus: models.PaymentStatusPending, TotalAmount: decimal.NewFromInt(40)},
		{BuyerID: 3, Status: "Completed", TotalAmount: decimal.NewFromInt(5)},
	}}, now)

	assert.Equal(t, "35", r.TotalRevenue.String())
	assert.Equal(t, 4, r.TotalOrders)
	assert.Equal(t, 3, r.TotalCustomers)
	assert.Equal(t, "8.75", r.AverageOrderValue.StringFixed(2))
}

func TestDeliverySuccessRate(t *testing.T) {
	expected := now.AddDate(0, 0, -2)
	late := now
	early := now.AddDate(0, 0, -3)

	r := Aggregate(Input{Orders: []models.Order{
		{Status: models.OrderStatusDelivered, ExpectedDeliveryDate: &expected, DeliveredAt: &late},
		{Status: models.OrderStatusDelivered, ExpectedDeliveryDate: &expected, DeliveredAt: &early},
		{Status: models.OrderStatusDelivered},
		{Status: models.OrderStatusDelivered, ExpectedDeliveryDate: &expected},
		{Status: models.OrderStatusPending, ExpectedDeliveryDate: &expected, DeliveredAt: &late},
	}}, now)

	assert.InDelta(t, 0.75, r.DeliverySuccessRate, 1e-9)
}

func TestMonthOverMonthGrowthAcrossYearBoundary(t *testing.T) {
	dec := time.Date(2023, time.December, 10, 0, 0, 0, 0, time.UTC)
	jan := time.Date(2024, time.January, 3, 0, 0, 0, 0, time.UTC)
	nov := time.Date(2023, time.November, 20, 0, 0, 0, 0, time.UTC)

	r := Aggregate(Input{Orders: []models.Order{
		{CreatedAt: dec}, {CreatedAt: dec},
		{CreatedAt: jan}, {CreatedAt: jan}, {CreatedAt: jan},
		{CreatedAt: nov},
	}}, now)
	assert.InDelta(t, 50.0, r.MonthOverMonthGrowth, 1e-9)

	r = Aggregate(Input{Orders: []models.Order{{CreatedAt: jan}}}, now)
	assert.Equal(t, 100.0, r.MonthOverMonthGrowth)
}

func TestTopProductsAndCategories(t *testing.T) {
	items := func(productID int64, qty int, price int64) models.OrderItem {
		return models.OrderItem{
			ProductID: productID,
			Quantity:  qty,
			UnitPrice: decimal.NewFromInt(price),
			Subtotal:  decimal.NewFromInt(price * int64(qty)),
		}
	}

	r := Aggregate(Input{
		Products: []models.Product{
			{ID: 1, Name: "Kente Scarf", Category: "Clothing"},
			{ID: 2, Name: "Radio", Category: "Electronics"},
			{ID: 3, Name: "Basket"},
		},
		Orders: []models.Order{
			{Status: models.OrderStatusDelivered, Items: []models.OrderItem{items(1, 2, 30), items(2, 1, 100)}},
			{Status: models.OrderStatusPending, PaymentStatus: models.PaymentStatusPaid, Items: []models.OrderItem{items(3, 4, 10), items(99, 1, 5)}},
		},
	}, now)

	require.Len(t, r.TopProducts, 4)
	assert.Equal(t, "Radio", r.TopProducts[0].Name)
	assert.Equal(t, "Kente Scarf", r.TopProducts[1].Name)
	assert.Equal(t, "Basket", r.TopProducts[2].Name)
	assert.Equal(t, UnknownProductName, r.TopProducts[3].Name)

	require.Len(t, r.TopCategories, 3)
	assert.Equal(t, "Electronics", r.TopCategories[0].Category)
	assert.Equal(t, "Clothing", r.TopCategories[1].Category)
	assert.Equal(t, UncategorizedName, r.TopCategories[2].Category)
	assert.Equal(t, "45", r.TopCategories[2].Revenue.String())

	require.Len(t, r.TopProductsChart, 4)
	assert.Equal(t, 100.0, r.TopProductsChart[0].Value)
}

func TestTopProductsCappedAtFive(t *testing.T) {
	var orderItems []models.OrderItem
	for id := int64(1); id <= 8; id++ {
		orderItems = append(orderItems, models.OrderItem{ProductID: id, Quantity: 1, Subtotal: decimal.NewFromInt(id)})
	}

	r := Aggregate(Input{Orders: []models.Order{{Status: models.OrderStatusDelivered, Items: orderItems}}}, now)
	require.Len(t, r.TopProducts, 5)
	assert.Equal(t, int64(8), r.TopProducts[0].ProductID)
}

func TestTopProductsSkipUnpaidAndCancelledOrders(t *testing.T) {
	line := func(productID int64, subtotal int64) []models.OrderItem {
		return []models.OrderItem{{ProductID: productID, Quantity: 1, Subtotal: decimal.NewFromInt(subtotal)}}
	}

	r := Aggregate(Input{
		Products: []models.Product{
			{ID: 1, Name: "Drum", Category: "Music"},
			{ID: 2, Name: "Mask", Category: "Art"},
		},
		Orders: []models.Order{
			{Status: models.OrderStatusDelivered, Items: line(1, 20)},
			{Status: models.OrderStatusCancelled, PaymentStatus: models.PaymentStatusPending, Items: line(2, 500)},
			{Status: models.OrderStatusPending, PaymentStatus: models.PaymentStatusPending, Items: line(2, 300)},
		},
	}, now)

	require.Len(t, r.TopProducts, 1)
	assert.Equal(t, "Drum", r.TopProducts[0].Name)
	assert.Equal(t, "20", r.TopProducts[0].Revenue.String())
	require.Len(t, r.TopCategories, 1)
	assert.Equal(t, "Music", r.TopCategories[0].Category)
}

func TestTopProductsGroupsDeletedProducts(t *testing.T) {
	r := Aggregate(Input{Orders: []models.Order{{
		Status: models.OrderStatusDelivered,
		Items: []models.OrderItem{
			{Quantity: 1, Subtotal: decimal.NewFromInt(4)},
			{Quantity: 2, Subtotal: decimal.NewFromInt(6)},
		},
	}}}, now)

	require.Len(t, r.TopProducts, 1)
	assert.Equal(t, UnknownProductName, r.TopProducts[0].Name)
	assert.Equal(t, 3, r.TopProducts[0].Quantity)
}

func TestMonthlyRevenueSeries(t *testing.T) {
	r := Aggregate(Input{Orders: []models.Order{
		{Status: models.OrderStatusDelivered, TotalAmount: decimal.NewFromInt(10), CreatedAt: time.Date(2023, time.August, 5, 0, 0, 0, 0, time.UTC)},
		{Status: models.OrderStatusDelivered, TotalAmount: decimal.NewFromInt(7), CreatedAt: time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC)},
		{Status: models.OrderStatusPending, TotalAmount: decimal.NewFromInt(99), CreatedAt: time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC)},
		{Status: models.OrderStatusDelivered, TotalAmount: decimal.NewFromInt(50), CreatedAt: time.Date(2023, time.July, 31, 0, 0, 0, 0, time.UTC)},
	}}, now)

	require.Len(t, r.MonthlyRevenue, 6)
	assert.Equal(t, "2023-08", r.MonthlyRevenue[0].Month)
	assert.Equal(t, "10", r.MonthlyRevenue[0].Revenue.String())
	assert.Equal(t, "2024-01", r.MonthlyRevenue[5].Month)
	assert.Equal(t, "7", r.MonthlyRevenue[5].Revenue.String())
}

func TestOrderStatusChartSkipsEmptyBuckets(t *testing.T) {
	r := Aggregate(Input{Orders: []models.Order{{Status: "cancelled"}, {Status: "cancelled"}}}, now)

	assert.Equal(t, []ChartPoint{{Label: "cancelled", Value: 2}}, r.OrderStatusChart)
}

func TestRangeFor(t *testing.T) {
	r, err := RangeFor(PeriodWeek, now)
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, -7), r.From)
	assert.True(t, r.To.IsZero())

	r, err = RangeFor(PeriodAll, now)
	require.NoError(t, err)
	assert.True(t, r.From.IsZero())

	_, err = RangeFor("decade", now)
	assert.Error(t, err)

	assert.Error(t, Range{From: now, To: now.Add(-time.Hour)}.Validate())
}
