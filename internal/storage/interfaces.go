// Package storage defines the persistence interfaces for the bookstore.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mhollis/bookstore/internal/bookstore/book"
	"github.com/mhollis/bookstore/internal/bookstore/order"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicate is returned when a uniqueness constraint is violated,
	// e.g. a second book with the same ISBN.
	ErrDuplicate = errors.New("storage: duplicate record")
	// ErrBookUnavailable is returned by RecordPayment when the copy was
	// already sold to another session.
	ErrBookUnavailable = errors.New("storage: book unavailable")
	// ErrOrderAlreadyPaid is returned by RecordPayment when the session has
	// already been settled; duplicate webhook deliveries land here.
	ErrOrderAlreadyPaid = errors.New("storage: order already paid")
)

// BookStore persists catalog entries.
type BookStore interface {
	CreateBook(ctx context.Context, b book.Book) (book.Book, error)
	UpdateBook(ctx context.Context, b book.Book) (book.Book, error)
	GetBook(ctx context.Context, id string) (book.Book, error)
	// ListBooks returns the catalog ordered by title. When includeUnavailable
	// is false only copies still for sale are returned.
	ListBooks(ctx context.Context, includeUnavailable bool) ([]book.Book, error)
}

// PaymentRecord carries the confirmed-payment snapshot applied by
// RecordPayment in a single atomic step.
type PaymentRecord struct {
	SessionID     string
	BookID        string
	CustomerEmail string
	AmountPaid    decimal.Decimal
	Shipping      order.Shipping
	PaidAt        time.Time
}

// OrderStore persists orders.
type OrderStore interface {
	CreateOrder(ctx context.Context, o order.Order) (order.Order, error)
	UpdateOrder(ctx context.Context, o order.Order) (order.Order, error)
	GetOrder(ctx context.Context, id string) (order.Order, error)
	GetOrderBySession(ctx context.Context, sessionID string) (order.Order, error)
	// ListOrders returns orders newest first, optionally filtered by status
	// (empty status means all).
	ListOrders(ctx context.Context, status order.Status) ([]order.Order, error)

	// RecordPayment atomically marks the book sold and promotes the pending
	// order for the session to paid, creating the order row if the session
	// has none. It fails with ErrOrderAlreadyPaid on duplicate settlement,
	// ErrBookUnavailable when the copy is already sold and ErrNotFound when
	// the book no longer exists.
	RecordPayment(ctx context.Context, rec PaymentRecord) (order.Order, error)

	// AbandonStaleOrders transitions pending orders created before the cutoff
	// to abandoned and reports how many rows changed.
	AbandonStaleOrders(ctx context.Context, before time.Time) (int64, error)
}
