package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the payment state of an order.
type Status string

const (
	// StatusPending is set when a shopper is redirected to hosted checkout.
	StatusPending Status = "pending"
	// StatusPaid is set by the webhook handler on provider confirmation.
	StatusPaid Status = "paid"
	// StatusAbandoned is set when a checkout session expires unpaid, or when
	// a completed payment had to be refunded because the copy was already sold.
	StatusAbandoned Status = "abandoned"
)

// Shipping is the address snapshot collected by the hosted checkout page.
type Shipping struct {
	Name       string `json:"name,omitempty" db:"shipping_name"`
	Line1      string `json:"line1,omitempty" db:"shipping_line1"`
	Line2      string `json:"line2,omitempty" db:"shipping_line2"`
	City       string `json:"city,omitempty" db:"shipping_city"`
	State      string `json:"state,omitempty" db:"shipping_state"`
	PostalCode string `json:"postal_code,omitempty" db:"shipping_postal_code"`
	Country    string `json:"country,omitempty" db:"shipping_country"`
}

// Order records a purchase attempt. Book fields are copied at purchase time
// so later catalog edits do not rewrite order history.
type Order struct {
	ID              string          `json:"id" db:"id"`
	BookID          string          `json:"book_id" db:"book_id"`
	BookTitle       string          `json:"book_title" db:"book_title"`
	BookAuthor      string          `json:"book_author" db:"book_author"`
	BookISBN        string          `json:"book_isbn,omitempty" db:"book_isbn"`
	BookPrice       decimal.Decimal `json:"book_price" db:"book_price"`
	StripeSessionID string          `json:"stripe_session_id" db:"stripe_session_id"`
	CustomerEmail   string          `json:"customer_email,omitempty" db:"customer_email"`
	AmountPaid      decimal.Decimal `json:"amount_paid" db:"amount_paid"`
	Status          Status          `json:"status" db:"status"`
	Shipping        Shipping        `json:"shipping"`
	Fulfilled       bool            `json:"fulfilled" db:"fulfilled"`
	FulfilledAt     *time.Time      `json:"fulfilled_at,omitempty" db:"fulfilled_at"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	PaidAt          *time.Time      `json:"paid_at,omitempty" db:"paid_at"`
}
