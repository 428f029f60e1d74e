// Package catalog manages the book inventory.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mhollis/bookstore/internal/bookstore/book"
	"github.com/mhollis/bookstore/internal/cache"
	"github.com/mhollis/bookstore/internal/covers"
	"github.com/mhollis/bookstore/internal/storage"
	"github.com/mhollis/bookstore/pkg/logger"
)

// ErrInvalid marks input validation failures.
var ErrInvalid = errors.New("catalog: invalid input")

// Service provides catalog reads and admin mutations. The Redis cache is
// optional (nil disables it).
type Service struct {
	store  storage.BookStore
	cache  *cache.Catalog
	covers *covers.Processor
	log    *logger.Logger
}

func New(store storage.BookStore, c *cache.Catalog, p *covers.Processor) *Service {
	return &Service{store: store, cache: c, covers: p, log: logger.NewDefault("catalog")}
}

// BookInput is the payload for creating a book.
type BookInput struct {
	Title         string          `json:"title"`
	Author        string          `json:"author"`
	ISBN          string          `json:"isbn"`
	Description   string          `json:"description"`
	PublishedYear int             `json:"published_year"`
	Price         decimal.Decimal `json:"price"`
	Available     *bool           `json:"available"`
}

// BookPatch carries a partial update; nil fields are left unchanged.
type BookPatch struct {
	Title         *string          `json:"title"`
	Author        *string          `json:"author"`
	ISBN          *string          `json:"isbn"`
	Description   *string          `json:"description"`
	PublishedYear *int             `json:"published_year"`
	Price         *decimal.Decimal `json:"price"`
	Available     *bool            `json:"available"`
}

func validate(title, author string, price decimal.Decimal) error {
	switch {
	case title == "":
		return fmt.Errorf("%w: title is required", ErrInvalid)
	case author == "":
		return fmt.Errorf("%w: author is required", ErrInvalid)
	case price.LessThanOrEqual(decimal.Zero):
		return fmt.Errorf("%w: price must be positive", ErrInvalid)
	}
	return nil
}

// CreateBook adds a catalog entry. New books default to available.
func (s *Service) CreateBook(ctx context.Context, in BookInput) (book.Book, error) {
	if err := validate(in.Title, in.Author, in.Price); err != nil {
		return book.Book{}, err
	}

	available := true
	if in.Available != nil {
		available = *in.Available
	}
	created, err := s.store.CreateBook(ctx, book.Book{
		Title:         in.Title,
		Author:        in.Author,
		ISBN:          in.ISBN,
		Description:   in.Description,
		PublishedYear: in.PublishedYear,
		Price:         in.Price,
		Available:     available,
	})
	if err != nil {
		return book.Book{}, err
	}

	s.cache.Invalidate(ctx)
	s.log.WithField("book_id", created.ID).WithField("title", created.Title).Info("book created")
	return created, nil
}

// UpdateBook applies a partial update to an existing book.
func (s *Service) UpdateBook(ctx context.Context, id string, patch BookPatch) (book.Book, error) {
	b, err := s.store.GetBook(ctx, id)
	if err != nil {
		return book.Book{}, err
	}

	if patch.Title != nil {
		b.Title = *patch.Title
	}
	if patch.Author != nil {
		b.Author = *patch.Author
	}
	if patch.ISBN != nil {
		b.ISBN = *patch.ISBN
	}
	if patch.Description != nil {
		b.Description = *patch.Description
	}
	if patch.PublishedYear != nil {
		b.PublishedYear = *patch.PublishedYear
	}
	if patch.Price != nil {
		b.Price = *patch.Price
	}
	if patch.Available != nil {
		b.Available = *patch.Available
	}
	if err := validate(b.Title, b.Author, b.Price); err != nil {
		return book.Book{}, err
	}

	updated, err := s.store.UpdateBook(ctx, b)
	if err != nil {
		return book.Book{}, err
	}

	s.cache.Invalidate(ctx)
	s.log.WithField("book_id", updated.ID).Info("book updated")
	return updated, nil
}

func (s *Service) GetBook(ctx context.Context, id string) (book.Book, error) {
	return s.store.GetBook(ctx, id)
}

// ListBooks returns the catalog, served from cache when warm.
func (s *Service) ListBooks(ctx context.Context, includeUnavailable bool) ([]book.Book, error) {
	if books, ok := s.cache.GetBooks(ctx, includeUnavailable); ok {
		return books, nil
	}
	books, err := s.store.ListBooks(ctx, includeUnavailable)
	if err != nil {
		return nil, err
	}
	s.cache.SetBooks(ctx, includeUnavailable, books)
	return books, nil
}

// AttachCover processes an uploaded image and stores it as the book's cover.
func (s *Service) AttachCover(ctx context.Context, id string, imageData []byte) (book.Book, error) {
	b, err := s.store.GetBook(ctx, id)
	if err != nil {
		return book.Book{}, err
	}

	path, err := s.covers.Save(imageData)
	if err != nil {
		return book.Book{}, fmt.Errorf("%w: %s", ErrInvalid, err)
	}

	b.CoverPath = path
	b.UpdatedAt = time.Now().UTC()
	updated, err := s.store.UpdateBook(ctx, b)
	if err != nil {
		return book.Book{}, err
	}

	s.cache.Invalidate(ctx)
	s.log.WithField("book_id", id).WithField("cover_path", path).Info("cover attached")
	return updated, nil
}
