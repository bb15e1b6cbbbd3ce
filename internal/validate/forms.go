package validate

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/safar/go-marketplace/internal/models"
)

type SignUpForm struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	FullName string `json:"full_name" validate:"required,notblank,max=120"`
	Role     string `json:"role" validate:"required,oneof=buyer seller"`
}

type SignInForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RefreshForm struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type ShopForm struct {
	Name         string `json:"name" validate:"required,notblank,min=2,max=120"`
	Description  string `json:"description" validate:"max=2000"`
	Location     string `json:"location" validate:"max=200"`
	ContactEmail string `json:"contact_email" validate:"omitempty,email"`
	ContactPhone string `json:"contact_phone" validate:"omitempty,max=32"`
	LogoURL      string `json:"logo_url" validate:"omitempty,url"`
	BannerURL    string `json:"banner_url" validate:"omitempty,url"`
}

func (f ShopForm) Shop(ownerID int64) *models.Shop {
	return &models.Shop{
		OwnerID:      ownerID,
		Name:         f.Name,
		Description:  f.Description,
		Location:     f.Location,
		ContactEmail: f.ContactEmail,
		ContactPhone: f.ContactPhone,
		LogoURL:      f.LogoURL,
		BannerURL:    f.BannerURL,
	}
}

type VerificationForm struct {
	DocumentURL string `json:"document_url" validate:"required,url"`
}

type VerificationReviewForm struct {
	Outcome string `json:"outcome" validate:"required,oneof=verified rejected"`
}

// ProductForm carries the on-order rule: on-order products need a lead time
// and no stock, stocked products need a stock quantity.
type ProductForm struct {
	ShopID        int64           `json:"shop_id" validate:"required,gt=0"`
	Name          string          `json:"name" validate:"required,notblank,max=200"`
	Description   string          `json:"description" validate:"max=5000"`
	Price         decimal.Decimal `json:"price" validate:"gt=0"`
	CategoryID    *int64          `json:"category_id" validate:"omitempty,gt=0"`
	StockQuantity *int            `json:"stock_quantity" validate:"required_unless=IsOnOrder true,omitempty,gte=0"`
	IsOnOrder     bool            `json:"is_on_order"`
	LeadTimeDays  *int            `json:"lead_time_days" validate:"required_if=IsOnOrder true,omitempty,gt=0,lte=365"`
	Images        []string        `json:"images" validate:"max=5,dive,url"`
	Version       int             `json:"version" validate:"gte=0"`
}

func (f ProductForm) Product() *models.Product {
	p := &models.Product{
		ShopID:       f.ShopID,
		Name:         f.Name,
		Description:  f.Description,
		Price:        f.Price,
		CategoryID:   f.CategoryID,
		IsOnOrder:    f.IsOnOrder,
		LeadTimeDays: f.LeadTimeDays,
		Images:       f.Images,
		Version:      f.Version,
	}
	if f.StockQuantity != nil {
		p.StockQuantity = *f.StockQuantity
	}
	p.ApplyStockPolicy()
	return p
}

type OrderItemForm struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"required,gt=0,lte=1000"`
}

type ShippingAddress struct {
	FullName   string `json:"full_name" validate:"required,notblank,max=120"`
	Line1      string `json:"line1" validate:"required,notblank,max=200"`
	Line2      string `json:"line2,omitempty" validate:"max=200"`
	City       string `json:"city" validate:"required,notblank,max=100"`
	PostalCode string `json:"postal_code,omitempty" validate:"max=20"`
	Country    string `json:"country" validate:"required,notblank,max=100"`
	Phone      string `json:"phone,omitempty" validate:"max=32"`
}

type OrderForm struct {
	Items           []OrderItemForm `json:"items" validate:"required,min=1,max=50,dive"`
	ShippingAddress ShippingAddress `json:"shipping_address" validate:"required"`
}

// AddressJSON encodes the shipping address for the orders.shipping_address
// column.
func (f OrderForm) AddressJSON() (json.RawMessage, error) {
	data, err := json.Marshal(f.ShippingAddress)
	if err != nil {
		return nil, fmt.Errorf("encode shipping address: %w", err)
	}
	return data, nil
}

type StatusForm struct {
	Status string `json:"status" validate:"required"`
}

type ReviewForm struct {
	Rating  float64 `json:"rating" validate:"required,gte=1,lte=5"`
	Comment string  `json:"comment" validate:"max=2000"`
}

type ConversationForm struct {
	RecipientID int64 `json:"recipient_id" validate:"required,gt=0"`
}

type MessageForm struct {
	Body string `json:"body" validate:"required,notblank,max=4000"`
}
