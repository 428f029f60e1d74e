package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/mhollis/bookstore/internal/bookstore/book"
	"github.com/mhollis/bookstore/internal/bookstore/order"
	"github.com/mhollis/bookstore/internal/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "sqlmock")), mock
}

var bookCols = []string{
	"id", "title", "author", "isbn", "description", "published_year",
	"price", "available", "cover_path", "created_at", "updated_at",
}

var orderCols = []string{
	"id", "book_id", "book_title", "book_author", "book_isbn", "book_price",
	"stripe_session_id", "customer_email", "amount_paid", "status",
	"shipping_name", "shipping_line1", "shipping_line2", "shipping_city",
	"shipping_state", "shipping_postal_code", "shipping_country",
	"fulfilled", "fulfilled_at", "created_at", "paid_at",
}

func bookRowValues(id string, available bool) []driverValue {
	now := time.Now()
	return []driverValue{id, "Dune", "Frank Herbert", "123", "sand", 1965,
		"9.99", available, "", now, now}
}

type driverValue = driver.Value

func TestCreateBookMapsUniqueViolation(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO books").
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := s.CreateBook(context.Background(), book.Book{Title: "Dune", Author: "Frank Herbert"})
	if !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGetBookNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM books WHERE id").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetBook(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetBook(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM books WHERE id").
		WithArgs("b1").
		WillReturnRows(sqlmock.NewRows(bookCols).AddRow(bookRowValues("b1", true)...))

	b, err := s.GetBook(context.Background(), "b1")
	if err != nil {
		t.Fatalf("GetBook: %v", err)
	}
	if b.Title != "Dune" || !b.Price.Equal(decimal.RequireFromString("9.99")) {
		t.Fatalf("unexpected book: %+v", b)
	}
	if b.PublishedYear != 1965 {
		t.Fatalf("published year = %d", b.PublishedYear)
	}
}

func TestUpdateBookNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE books").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := s.UpdateBook(context.Background(), book.Book{ID: "missing", Title: "X", Author: "Y"})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordPaymentDuplicateSession(t *testing.T) {
	s, mock := newMockStore(t)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("FROM orders WHERE stripe_session_id").
		WithArgs("cs_1").
		WillReturnRows(sqlmock.NewRows(orderCols).AddRow(
			"o1", "b1", "Dune", "Frank Herbert", "", "9.99",
			"cs_1", "r@example.com", "9.99", "paid",
			"", "", "", "", "", "", "",
			false, nil, now, now))
	mock.ExpectRollback()

	_, err := s.RecordPayment(context.Background(), storage.PaymentRecord{
		SessionID: "cs_1", BookID: "b1",
		AmountPaid: decimal.RequireFromString("9.99"), PaidAt: now,
	})
	if !errors.Is(err, storage.ErrOrderAlreadyPaid) {
		t.Fatalf("expected ErrOrderAlreadyPaid, got %v", err)
	}
}

func TestRecordPaymentSoldBook(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM orders WHERE stripe_session_id").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("FROM books WHERE id").
		WillReturnRows(sqlmock.NewRows(bookCols).AddRow(bookRowValues("b1", false)...))
	mock.ExpectRollback()

	_, err := s.RecordPayment(context.Background(), storage.PaymentRecord{
		SessionID: "cs_2", BookID: "b1",
		AmountPaid: decimal.RequireFromString("9.99"), PaidAt: time.Now(),
	})
	if !errors.Is(err, storage.ErrBookUnavailable) {
		t.Fatalf("expected ErrBookUnavailable, got %v", err)
	}
}

func TestRecordPaymentCreatesOrder(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM orders WHERE stripe_session_id").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("FROM books WHERE id").
		WillReturnRows(sqlmock.NewRows(bookCols).AddRow(bookRowValues("b1", true)...))
	mock.ExpectExec("UPDATE books SET available").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO orders").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	o, err := s.RecordPayment(context.Background(), storage.PaymentRecord{
		SessionID:     "cs_3",
		BookID:        "b1",
		CustomerEmail: "r@example.com",
		AmountPaid:    decimal.RequireFromString("9.99"),
		PaidAt:        time.Now(),
	})
	if err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}
	if o.Status != order.StatusPaid || o.BookTitle != "Dune" {
		t.Fatalf("unexpected order: %+v", o)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRecordPaymentConcurrentInsert(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM orders WHERE stripe_session_id").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("FROM books WHERE id").
		WillReturnRows(sqlmock.NewRows(bookCols).AddRow(bookRowValues("b1", true)...))
	mock.ExpectExec("UPDATE books SET available").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO orders").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	_, err := s.RecordPayment(context.Background(), storage.PaymentRecord{
		SessionID: "cs_4", BookID: "b1",
		AmountPaid: decimal.RequireFromString("9.99"), PaidAt: time.Now(),
	})
	if !errors.Is(err, storage.ErrOrderAlreadyPaid) {
		t.Fatalf("expected ErrOrderAlreadyPaid, got %v", err)
	}
}

func TestAbandonStaleOrders(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE orders SET status").
		WithArgs(string(order.StatusAbandoned), string(order.StatusPending), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.AbandonStaleOrders(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("AbandonStaleOrders: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 rows, got %d", n)
	}
}
