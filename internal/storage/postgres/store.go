// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/mhollis/bookstore/internal/bookstore/book"
	"github.com/mhollis/bookstore/internal/bookstore/order"
	"github.com/mhollis/bookstore/internal/storage"
)

// Store implements the storage interfaces on top of a sqlx handle.
type Store struct {
	db *sqlx.DB
}

var _ storage.BookStore = (*Store)(nil)
var _ storage.OrderStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to Postgres, applies connection limits and verifies the
// connection with a ping.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// --- BookStore ---------------------------------------------------------------

type bookRow struct {
	ID            string          `db:"id"`
	Title         string          `db:"title"`
	Author        string          `db:"author"`
	ISBN          string          `db:"isbn"`
	Description   string          `db:"description"`
	PublishedYear sql.NullInt32   `db:"published_year"`
	Price         decimal.Decimal `db:"price"`
	Available     bool            `db:"available"`
	CoverPath     string          `db:"cover_path"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

func (r bookRow) toDomain() book.Book {
	b := book.Book{
		ID:          r.ID,
		Title:       r.Title,
		Author:      r.Author,
		ISBN:        r.ISBN,
		Description: r.Description,
		Price:       r.Price,
		Available:   r.Available,
		CoverPath:   r.CoverPath,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.PublishedYear.Valid {
		b.PublishedYear = int(r.PublishedYear.Int32)
	}
	return b
}

func publishedYear(b book.Book) sql.NullInt32 {
	if b.PublishedYear == 0 {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(b.PublishedYear), Valid: true}
}

const bookColumns = `id, title, author, isbn, description, published_year, price, available, cover_path, created_at, updated_at`

func (s *Store) CreateBook(ctx context.Context, b book.Book) (book.Book, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO books (`+bookColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, b.ID, b.Title, b.Author, b.ISBN, b.Description, publishedYear(b), b.Price, b.Available, b.CoverPath, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return book.Book{}, fmt.Errorf("book %s: %w", b.ID, storage.ErrDuplicate)
		}
		return book.Book{}, err
	}
	return b, nil
}

func (s *Store) UpdateBook(ctx context.Context, b book.Book) (book.Book, error) {
	b.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE books
		SET title = $2, author = $3, isbn = $4, description = $5,
		    published_year = $6, price = $7, available = $8, cover_path = $9,
		    updated_at = $10
		WHERE id = $1
	`, b.ID, b.Title, b.Author, b.ISBN, b.Description, publishedYear(b), b.Price, b.Available, b.CoverPath, b.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return book.Book{}, fmt.Errorf("book %s: %w", b.ID, storage.ErrDuplicate)
		}
		return book.Book{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return book.Book{}, fmt.Errorf("book %s: %w", b.ID, storage.ErrNotFound)
	}
	return b, nil
}

func (s *Store) GetBook(ctx context.Context, id string) (book.Book, error) {
	var row bookRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+bookColumns+` FROM books WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return book.Book{}, fmt.Errorf("book %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return book.Book{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListBooks(ctx context.Context, includeUnavailable bool) ([]book.Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books ORDER BY lower(title)`
	if !includeUnavailable {
		query = `SELECT ` + bookColumns + ` FROM books WHERE available ORDER BY lower(title)`
	}

	var rows []bookRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}
	result := make([]book.Book, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

// --- OrderStore --------------------------------------------------------------

type orderRow struct {
	ID              string          `db:"id"`
	BookID          string          `db:"book_id"`
	BookTitle       string          `db:"book_title"`
	BookAuthor      string          `db:"book_author"`
	BookISBN        string          `db:"book_isbn"`
	BookPrice       decimal.Decimal `db:"book_price"`
	StripeSessionID string          `db:"stripe_session_id"`
	CustomerEmail   string          `db:"customer_email"`
	AmountPaid      decimal.Decimal `db:"amount_paid"`
	Status          string          `db:"status"`
	ShippingName    string          `db:"shipping_name"`
	ShippingLine1   string          `db:"shipping_line1"`
	ShippingLine2   string          `db:"shipping_line2"`
	ShippingCity    string          `db:"shipping_city"`
	ShippingState   string          `db:"shipping_state"`
	ShippingPostal  string          `db:"shipping_postal_code"`
	ShippingCountry string          `db:"shipping_country"`
	Fulfilled       bool            `db:"fulfilled"`
	FulfilledAt     *time.Time      `db:"fulfilled_at"`
	CreatedAt       time.Time       `db:"created_at"`
	PaidAt          *time.Time      `db:"paid_at"`
}

func (r orderRow) toDomain() order.Order {
	return order.Order{
		ID:              r.ID,
		BookID:          r.BookID,
		BookTitle:       r.BookTitle,
		BookAuthor:      r.BookAuthor,
		BookISBN:        r.BookISBN,
		BookPrice:       r.BookPrice,
		StripeSessionID: r.StripeSessionID,
		CustomerEmail:   r.CustomerEmail,
		AmountPaid:      r.AmountPaid,
		Status:          order.Status(r.Status),
		Shipping: order.Shipping{
			Name:       r.ShippingName,
			Line1:      r.ShippingLine1,
			Line2:      r.ShippingLine2,
			City:       r.ShippingCity,
			State:      r.ShippingState,
			PostalCode: r.ShippingPostal,
			Country:    r.ShippingCountry,
		},
		Fulfilled:   r.Fulfilled,
		FulfilledAt: r.FulfilledAt,
		CreatedAt:   r.CreatedAt,
		PaidAt:      r.PaidAt,
	}
}

const orderColumns = `id, book_id, book_title, book_author, book_isbn, book_price,
	stripe_session_id, customer_email, amount_paid, status,
	shipping_name, shipping_line1, shipping_line2, shipping_city,
	shipping_state, shipping_postal_code, shipping_country,
	fulfilled, fulfilled_at, created_at, paid_at`

func (s *Store) CreateOrder(ctx context.Context, o order.Order) (order.Order, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Status == "" {
		o.Status = order.StatusPending
	}
	o.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		        $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`, o.ID, o.BookID, o.BookTitle, o.BookAuthor, o.BookISBN, o.BookPrice,
		o.StripeSessionID, o.CustomerEmail, o.AmountPaid, o.Status,
		o.Shipping.Name, o.Shipping.Line1, o.Shipping.Line2, o.Shipping.City,
		o.Shipping.State, o.Shipping.PostalCode, o.Shipping.Country,
		o.Fulfilled, o.FulfilledAt, o.CreatedAt, o.PaidAt)
	if err != nil {
		if isUniqueViolation(err) {
			return order.Order{}, fmt.Errorf("order %s: %w", o.ID, storage.ErrDuplicate)
		}
		return order.Order{}, err
	}
	return o, nil
}

func (s *Store) UpdateOrder(ctx context.Context, o order.Order) (order.Order, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET book_id = $2, book_title = $3, book_author = $4, book_isbn = $5,
		    book_price = $6, customer_email = $7, amount_paid = $8, status = $9,
		    shipping_name = $10, shipping_line1 = $11, shipping_line2 = $12,
		    shipping_city = $13, shipping_state = $14, shipping_postal_code = $15,
		    shipping_country = $16, fulfilled = $17, fulfilled_at = $18, paid_at = $19
		WHERE id = $1
	`, o.ID, o.BookID, o.BookTitle, o.BookAuthor, o.BookISBN,
		o.BookPrice, o.CustomerEmail, o.AmountPaid, o.Status,
		o.Shipping.Name, o.Shipping.Line1, o.Shipping.Line2,
		o.Shipping.City, o.Shipping.State, o.Shipping.PostalCode,
		o.Shipping.Country, o.Fulfilled, o.FulfilledAt, o.PaidAt)
	if err != nil {
		return order.Order{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return order.Order{}, fmt.Errorf("order %s: %w", o.ID, storage.ErrNotFound)
	}
	return o, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (order.Order, error) {
	var row orderRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+orderColumns+` FROM orders WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return order.Order{}, fmt.Errorf("order %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return order.Order{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetOrderBySession(ctx context.Context, sessionID string) (order.Order, error) {
	var row orderRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+orderColumns+` FROM orders WHERE stripe_session_id = $1
	`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return order.Order{}, fmt.Errorf("session %s: %w", sessionID, storage.ErrNotFound)
	}
	if err != nil {
		return order.Order{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListOrders(ctx context.Context, status order.Status) ([]order.Order, error) {
	var (
		rows []orderRow
		err  error
	)
	if status == "" {
		err = s.db.SelectContext(ctx, &rows, `
			SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC
		`)
	} else {
		err = s.db.SelectContext(ctx, &rows, `
			SELECT `+orderColumns+` FROM orders WHERE status = $1 ORDER BY created_at DESC
		`, status)
	}
	if err != nil {
		return nil, err
	}
	result := make([]order.Order, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) RecordPayment(ctx context.Context, rec storage.PaymentRecord) (order.Order, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return order.Order{}, err
	}
	defer tx.Rollback()

	var existing orderRow
	err = tx.GetContext(ctx, &existing, `
		SELECT `+orderColumns+` FROM orders WHERE stripe_session_id = $1 FOR UPDATE
	`, rec.SessionID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		existing = orderRow{}
	case err != nil:
		return order.Order{}, err
	case existing.Status == string(order.StatusPaid):
		return order.Order{}, fmt.Errorf("session %s: %w", rec.SessionID, storage.ErrOrderAlreadyPaid)
	}

	var b bookRow
	err = tx.GetContext(ctx, &b, `
		SELECT `+bookColumns+` FROM books WHERE id = $1 FOR UPDATE
	`, rec.BookID)
	if errors.Is(err, sql.ErrNoRows) {
		return order.Order{}, fmt.Errorf("book %s: %w", rec.BookID, storage.ErrNotFound)
	}
	if err != nil {
		return order.Order{}, err
	}
	if !b.Available {
		return order.Order{}, fmt.Errorf("book %s: %w", rec.BookID, storage.ErrBookUnavailable)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE books SET available = FALSE, updated_at = $2 WHERE id = $1
	`, b.ID, time.Now().UTC()); err != nil {
		return order.Order{}, err
	}

	paidAt := rec.PaidAt.UTC()
	o := order.Order{
		ID:              existing.ID,
		BookID:          b.ID,
		BookTitle:       b.Title,
		BookAuthor:      b.Author,
		BookISBN:        b.ISBN,
		BookPrice:       b.Price,
		StripeSessionID: rec.SessionID,
		CustomerEmail:   rec.CustomerEmail,
		AmountPaid:      rec.AmountPaid,
		Status:          order.StatusPaid,
		Shipping:        rec.Shipping,
		CreatedAt:       existing.CreatedAt,
		PaidAt:          &paidAt,
	}

	if existing.ID == "" {
		o.ID = uuid.NewString()
		o.CreatedAt = time.Now().UTC()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			        $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		`, o.ID, o.BookID, o.BookTitle, o.BookAuthor, o.BookISBN, o.BookPrice,
			o.StripeSessionID, o.CustomerEmail, o.AmountPaid, o.Status,
			o.Shipping.Name, o.Shipping.Line1, o.Shipping.Line2, o.Shipping.City,
			o.Shipping.State, o.Shipping.PostalCode, o.Shipping.Country,
			false, nil, o.CreatedAt, o.PaidAt)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE orders
			SET book_id = $2, book_title = $3, book_author = $4, book_isbn = $5,
			    book_price = $6, customer_email = $7, amount_paid = $8, status = $9,
			    shipping_name = $10, shipping_line1 = $11, shipping_line2 = $12,
			    shipping_city = $13, shipping_state = $14, shipping_postal_code = $15,
			    shipping_country = $16, paid_at = $17
			WHERE id = $1
		`, o.ID, o.BookID, o.BookTitle, o.BookAuthor, o.BookISBN,
			o.BookPrice, o.CustomerEmail, o.AmountPaid, o.Status,
			o.Shipping.Name, o.Shipping.Line1, o.Shipping.Line2,
			o.Shipping.City, o.Shipping.State, o.Shipping.PostalCode,
			o.Shipping.Country, o.PaidAt)
	}
	if err != nil {
		// A concurrent insert for the same session settled first.
		if isUniqueViolation(err) {
			return order.Order{}, fmt.Errorf("session %s: %w", rec.SessionID, storage.ErrOrderAlreadyPaid)
		}
		return order.Order{}, err
	}

	if err := tx.Commit(); err != nil {
		return order.Order{}, err
	}
	return o, nil
}

func (s *Store) AbandonStaleOrders(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = $1 WHERE status = $2 AND created_at < $3
	`, order.StatusAbandoned, order.StatusPending, before.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
