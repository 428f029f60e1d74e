// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mhollis/bookstore/internal/bookstore/book"
	"github.com/mhollis/bookstore/internal/bookstore/order"
	"github.com/mhollis/bookstore/internal/storage"
)

// Store keeps books and orders in maps guarded by a single mutex, which also
// gives RecordPayment its atomicity.
type Store struct {
	mu              sync.RWMutex
	nextID          int64
	books           map[string]book.Book
	orders          map[string]order.Order
	ordersBySession map[string]string
}

var _ storage.BookStore = (*Store)(nil)
var _ storage.OrderStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:          1,
		books:           make(map[string]book.Book),
		orders:          make(map[string]order.Order),
		ordersBySession: make(map[string]string),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// BookStore implementation ----------------------------------------------------

func (s *Store) CreateBook(_ context.Context, b book.Book) (book.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.ID == "" {
		b.ID = s.nextIDLocked()
	} else if _, exists := s.books[b.ID]; exists {
		return book.Book{}, fmt.Errorf("book %s: %w", b.ID, storage.ErrDuplicate)
	}
	if b.ISBN != "" {
		for _, existing := range s.books {
			if existing.ISBN == b.ISBN {
				return book.Book{}, fmt.Errorf("isbn %s: %w", b.ISBN, storage.ErrDuplicate)
			}
		}
	}

	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now

	s.books[b.ID] = b
	return b, nil
}

func (s *Store) UpdateBook(_ context.Context, b book.Book) (book.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.books[b.ID]
	if !ok {
		return book.Book{}, fmt.Errorf("book %s: %w", b.ID, storage.ErrNotFound)
	}
	if b.ISBN != "" {
		for id, existing := range s.books {
			if id != b.ID && existing.ISBN == b.ISBN {
				return book.Book{}, fmt.Errorf("isbn %s: %w", b.ISBN, storage.ErrDuplicate)
			}
		}
	}

	b.CreatedAt = original.CreatedAt
	b.UpdatedAt = time.Now().UTC()

	s.books[b.ID] = b
	return b, nil
}

func (s *Store) GetBook(_ context.Context, id string) (book.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.books[id]
	if !ok {
		return book.Book{}, fmt.Errorf("book %s: %w", id, storage.ErrNotFound)
	}
	return b, nil
}

func (s *Store) ListBooks(_ context.Context, includeUnavailable bool) ([]book.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]book.Book, 0, len(s.books))
	for _, b := range s.books {
		if !includeUnavailable && !b.Available {
			continue
		}
		result = append(result, b)
	}
	sort.Slice(result, func(i, j int) bool {
		return strings.ToLower(result[i].Title) < strings.ToLower(result[j].Title)
	})
	return result, nil
}

// OrderStore implementation ---------------------------------------------------

func (s *Store) CreateOrder(_ context.Context, o order.Order) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.ID == "" {
		o.ID = s.nextIDLocked()
	} else if _, exists := s.orders[o.ID]; exists {
		return order.Order{}, fmt.Errorf("order %s: %w", o.ID, storage.ErrDuplicate)
	}
	if o.StripeSessionID != "" {
		if _, exists := s.ordersBySession[o.StripeSessionID]; exists {
			return order.Order{}, fmt.Errorf("session %s: %w", o.StripeSessionID, storage.ErrDuplicate)
		}
	}
	if o.Status == "" {
		o.Status = order.StatusPending
	}
	o.CreatedAt = time.Now().UTC()

	s.orders[o.ID] = o
	if o.StripeSessionID != "" {
		s.ordersBySession[o.StripeSessionID] = o.ID
	}
	return o, nil
}

func (s *Store) UpdateOrder(_ context.Context, o order.Order) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.orders[o.ID]
	if !ok {
		return order.Order{}, fmt.Errorf("order %s: %w", o.ID, storage.ErrNotFound)
	}
	o.CreatedAt = original.CreatedAt

	s.orders[o.ID] = o
	if o.StripeSessionID != "" {
		s.ordersBySession[o.StripeSessionID] = o.ID
	}
	return o, nil
}

func (s *Store) GetOrder(_ context.Context, id string) (order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return order.Order{}, fmt.Errorf("order %s: %w", id, storage.ErrNotFound)
	}
	return o, nil
}

func (s *Store) GetOrderBySession(_ context.Context, sessionID string) (order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.ordersBySession[sessionID]
	if !ok {
		return order.Order{}, fmt.Errorf("session %s: %w", sessionID, storage.ErrNotFound)
	}
	return s.orders[id], nil
}

func (s *Store) ListOrders(_ context.Context, status order.Status) ([]order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]order.Order, 0, len(s.orders))
	for _, o := range s.orders {
		if status != "" && o.Status != status {
			continue
		}
		result = append(result, o)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) RecordPayment(_ context.Context, rec storage.PaymentRecord) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var o order.Order
	if id, ok := s.ordersBySession[rec.SessionID]; ok {
		o = s.orders[id]
		if o.Status == order.StatusPaid {
			return order.Order{}, fmt.Errorf("session %s: %w", rec.SessionID, storage.ErrOrderAlreadyPaid)
		}
	}

	b, ok := s.books[rec.BookID]
	if !ok {
		return order.Order{}, fmt.Errorf("book %s: %w", rec.BookID, storage.ErrNotFound)
	}
	if !b.Available {
		return order.Order{}, fmt.Errorf("book %s: %w", rec.BookID, storage.ErrBookUnavailable)
	}

	b.Available = false
	b.UpdatedAt = time.Now().UTC()
	s.books[b.ID] = b

	paidAt := rec.PaidAt.UTC()
	if o.ID == "" {
		o = order.Order{
			ID:              s.nextIDLocked(),
			StripeSessionID: rec.SessionID,
			CreatedAt:       time.Now().UTC(),
		}
	}
	o.BookID = b.ID
	o.BookTitle = b.Title
	o.BookAuthor = b.Author
	o.BookISBN = b.ISBN
	o.BookPrice = b.Price
	o.CustomerEmail = rec.CustomerEmail
	o.AmountPaid = rec.AmountPaid
	o.Shipping = rec.Shipping
	o.Status = order.StatusPaid
	o.PaidAt = &paidAt

	s.orders[o.ID] = o
	s.ordersBySession[o.StripeSessionID] = o.ID
	return o, nil
}

func (s *Store) AbandonStaleOrders(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for id, o := range s.orders {
		if o.Status == order.StatusPending && o.CreatedAt.Before(before) {
			o.Status = order.StatusAbandoned
			s.orders[id] = o
			count++
		}
	}
	return count, nil
}
