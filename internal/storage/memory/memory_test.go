package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mhollis/bookstore/internal/bookstore/book"
	"github.com/mhollis/bookstore/internal/bookstore/order"
	"github.com/mhollis/bookstore/internal/storage"
)

func newBook(title, isbn string) book.Book {
	return book.Book{
		Title:     title,
		Author:    "Author",
		ISBN:      isbn,
		Price:     decimal.RequireFromString("9.99"),
		Available: true,
	}
}

func TestBookCRUD(t *testing.T) {
	ctx := context.Background()
	s := New()

	created, err := s.CreateBook(ctx, newBook("Dune", "111"))
	if err != nil {
		t.Fatalf("CreateBook: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated book id")
	}

	got, err := s.GetBook(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetBook: %v", err)
	}
	if got.Title != "Dune" {
		t.Fatalf("got title %q", got.Title)
	}

	got.Description = "spice"
	updated, err := s.UpdateBook(ctx, got)
	if err != nil {
		t.Fatalf("UpdateBook: %v", err)
	}
	if updated.Description != "spice" {
		t.Fatalf("description not updated: %q", updated.Description)
	}

	if _, err := s.GetBook(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateBookDuplicateISBN(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.CreateBook(ctx, newBook("First", "222")); err != nil {
		t.Fatalf("CreateBook: %v", err)
	}
	if _, err := s.CreateBook(ctx, newBook("Second", "222")); !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestListBooksFiltersAndSorts(t *testing.T) {
	ctx := context.Background()
	s := New()

	sold := newBook("zebra", "")
	sold.Available = false
	if _, err := s.CreateBook(ctx, sold); err != nil {
		t.Fatalf("CreateBook: %v", err)
	}
	if _, err := s.CreateBook(ctx, newBook("Banana", "")); err != nil {
		t.Fatalf("CreateBook: %v", err)
	}
	if _, err := s.CreateBook(ctx, newBook("apple", "")); err != nil {
		t.Fatalf("CreateBook: %v", err)
	}

	available, err := s.ListBooks(ctx, false)
	if err != nil {
		t.Fatalf("ListBooks: %v", err)
	}
	if len(available) != 2 || available[0].Title != "apple" || available[1].Title != "Banana" {
		t.Fatalf("unexpected available listing: %+v", available)
	}

	all, err := s.ListBooks(ctx, true)
	if err != nil {
		t.Fatalf("ListBooks: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 books, got %d", len(all))
	}
}

func TestRecordPaymentPromotesPendingOrder(t *testing.T) {
	ctx := context.Background()
	s := New()

	b, _ := s.CreateBook(ctx, newBook("Dune", ""))
	pending, err := s.CreateOrder(ctx, order.Order{
		BookID:          b.ID,
		BookTitle:       b.Title,
		StripeSessionID: "cs_1",
		Status:          order.StatusPending,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	paid, err := s.RecordPayment(ctx, storage.PaymentRecord{
		SessionID:     "cs_1",
		BookID:        b.ID,
		CustomerEmail: "reader@example.com",
		AmountPaid:    decimal.RequireFromString("9.99"),
		PaidAt:        time.Now(),
	})
	if err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}
	if paid.ID != pending.ID {
		t.Fatalf("expected existing order %s promoted, got %s", pending.ID, paid.ID)
	}
	if paid.Status != order.StatusPaid || paid.PaidAt == nil {
		t.Fatalf("order not marked paid: %+v", paid)
	}

	gotBook, _ := s.GetBook(ctx, b.ID)
	if gotBook.Available {
		t.Fatal("book should be unavailable after sale")
	}
}

func TestRecordPaymentIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()

	b, _ := s.CreateBook(ctx, newBook("Dune", ""))
	rec := storage.PaymentRecord{
		SessionID:     "cs_dup",
		BookID:        b.ID,
		CustomerEmail: "reader@example.com",
		AmountPaid:    decimal.RequireFromString("9.99"),
		PaidAt:        time.Now(),
	}

	if _, err := s.RecordPayment(ctx, rec); err != nil {
		t.Fatalf("first RecordPayment: %v", err)
	}
	if _, err := s.RecordPayment(ctx, rec); !errors.Is(err, storage.ErrOrderAlreadyPaid) {
		t.Fatalf("expected ErrOrderAlreadyPaid, got %v", err)
	}
}

func TestRecordPaymentSoldBook(t *testing.T) {
	ctx := context.Background()
	s := New()

	b, _ := s.CreateBook(ctx, newBook("Dune", ""))
	winner := storage.PaymentRecord{
		SessionID: "cs_winner", BookID: b.ID,
		CustomerEmail: "a@example.com",
		AmountPaid:    decimal.RequireFromString("9.99"),
		PaidAt:        time.Now(),
	}
	if _, err := s.RecordPayment(ctx, winner); err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}

	loser := winner
	loser.SessionID = "cs_loser"
	loser.CustomerEmail = "b@example.com"
	if _, err := s.RecordPayment(ctx, loser); !errors.Is(err, storage.ErrBookUnavailable) {
		t.Fatalf("expected ErrBookUnavailable, got %v", err)
	}
}

func TestRecordPaymentMissingBook(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.RecordPayment(ctx, storage.PaymentRecord{
		SessionID: "cs_x", BookID: "missing",
		AmountPaid: decimal.Zero, PaidAt: time.Now(),
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAbandonStaleOrders(t *testing.T) {
	ctx := context.Background()
	s := New()

	b, _ := s.CreateBook(ctx, newBook("Dune", ""))
	stale, _ := s.CreateOrder(ctx, order.Order{BookID: b.ID, StripeSessionID: "cs_old", Status: order.StatusPending})
	fresh, _ := s.CreateOrder(ctx, order.Order{BookID: b.ID, StripeSessionID: "cs_new", Status: order.StatusPending})

	// age the stale order directly
	s.mu.Lock()
	o := s.orders[stale.ID]
	o.CreatedAt = time.Now().Add(-48 * time.Hour)
	s.orders[stale.ID] = o
	s.mu.Unlock()

	n, err := s.AbandonStaleOrders(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("AbandonStaleOrders: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 abandoned, got %d", n)
	}

	got, _ := s.GetOrder(ctx, stale.ID)
	if got.Status != order.StatusAbandoned {
		t.Fatalf("stale order status = %s", got.Status)
	}
	got, _ = s.GetOrder(ctx, fresh.ID)
	if got.Status != order.StatusPending {
		t.Fatalf("fresh order status = %s", got.Status)
	}
}

func TestListOrdersFilter(t *testing.T) {
	ctx := context.Background()
	s := New()

	b, _ := s.CreateBook(ctx, newBook("Dune", ""))
	if _, err := s.CreateOrder(ctx, order.Order{BookID: b.ID, StripeSessionID: "cs_a", Status: order.StatusPending}); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if _, err := s.RecordPayment(ctx, storage.PaymentRecord{
		SessionID: "cs_a", BookID: b.ID,
		CustomerEmail: "r@example.com",
		AmountPaid:    decimal.RequireFromString("9.99"),
		PaidAt:        time.Now(),
	}); err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}

	paid, err := s.ListOrders(ctx, order.StatusPaid)
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(paid) != 1 {
		t.Fatalf("expected 1 paid order, got %d", len(paid))
	}
	pending, _ := s.ListOrders(ctx, order.StatusPending)
	if len(pending) != 0 {
		t.Fatalf("expected no pending orders, got %d", len(pending))
	}
}
