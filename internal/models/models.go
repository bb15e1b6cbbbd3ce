package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleBuyer || r == RoleSeller || r == RoleAdmin
}

type Profile struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Shop struct {
	ID                      int64              `json:"id"`
	OwnerID                 int64              `json:"owner_id"`
	Name                    string             `json:"name"`
	Description             string             `json:"description,omitempty"`
	Location                string             `json:"location,omitempty"`
	ContactEmail            string             `json:"contact_email,omitempty"`
	ContactPhone            string             `json:"contact_phone,omitempty"`
	LogoURL                 string             `json:"logo_url,omitempty"`
	BannerURL               string             `json:"banner_url,omitempty"`
	VerificationStatus      VerificationStatus `json:"verification_status"`
	VerificationDocumentURL string             `json:"verification_document_url,omitempty"`
	VerificationSubmittedAt *time.Time         `json:"verification_submitted_at,omitempty"`
	CreatedAt               time.Time          `json:"created_at"`
	UpdatedAt               time.Time          `json:"updated_at"`
}

type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// MaxProductImages bounds Product.Images.
const MaxProductImages = 5

type Product struct {
	ID            int64           `json:"id"`
	ShopID        int64           `json:"shop_id"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Price         decimal.Decimal `json:"price"`
	CategoryID    *int64          `json:"category_id,omitempty"`
	Category      string          `json:"category,omitempty"`
	StockQuantity int             `json:"stock_quantity"`
	IsOnOrder     bool            `json:"is_on_order"`
	LeadTimeDays  *int            `json:"lead_time_days,omitempty"`
	Images        []string        `json:"images"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Version       int             `json:"version"`
}

// ApplyStockPolicy forces stock to zero for on-order products and drops
// the lead time from stocked ones.
func (p *Product) ApplyStockPolicy() {
	if p.IsOnOrder {
		p.StockQuantity = 0
		return
	}
	p.LeadTimeDays = nil
}

type Order struct {
	ID                   int64           `json:"id"`
	ShopID               int64           `json:"shop_id"`
	BuyerID              int64           `json:"buyer_id"`
	OrderNumber          string          `json:"order_number"`
	Status               OrderStatus     `json:"status"`
	PaymentStatus        PaymentStatus   `json:"payment_status"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	ShippingAddress      json.RawMessage `json:"shipping_address,omitempty"`
	ExpectedDeliveryDate *time.Time      `json:"expected_delivery_date,omitempty"`
	DeliveredAt          *time.Time      `json:"delivered_at,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
	Version              int             `json:"version"`
	Items                []OrderItem     `json:"items,omitempty"`
}

// OrderItem is one line of an order. ProductID is zero once the product has
// been deleted.
type OrderItem struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	ProductID int64           `json:"product_id,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	CreatedAt time.Time       `json:"created_at"`
}

type SellerStats struct {
	ShopID        int64           `json:"shop_id"`
	TotalOrders   int             `json:"total_orders"`
	TotalRevenue  decimal.Decimal `json:"total_revenue"`
	TotalProducts int             `json:"total_products"`
	AverageRating float64         `json:"average_rating"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type Review struct {
	ID        int64     `json:"id"`
	ProductID int64     `json:"product_id"`
	BuyerID   int64     `json:"buyer_id"`
	Rating    float64   `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const NotificationTypeNewOrder = "new_order"

type Notification struct {
	ID        int64     `json:"id"`
	ShopID    int64     `json:"shop_id"`
	OrderID   *int64    `json:"order_id,omitempty"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

type Conversation struct {
	ID             int64      `json:"id"`
	ParticipantOne int64      `json:"participant_one"`
	ParticipantTwo int64      `json:"participant_two"`
	LastMessage    string     `json:"last_message,omitempty"`
	LastMessageAt  *time.Time `json:"last_message_at,omitempty"`
	LastSenderID   *int64     `json:"last_sender_id,omitempty"`
	UnreadCount    int        `json:"unread_count"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Other returns the participant that is not userID.
func (c Conversation) Other(userID int64) int64 {
	if c.ParticipantOne == userID {
		return c.ParticipantTwo
	}
	return c.ParticipantOne
}

func (c Conversation) Has(userID int64) bool {
	return c.ParticipantOne == userID || c.ParticipantTwo == userID
}

type PrivateMessage struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	SenderID       int64     `json:"sender_id"`
	RecipientID    int64     `json:"recipient_id"`
	Body           string    `json:"body"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"created_at"`
}
