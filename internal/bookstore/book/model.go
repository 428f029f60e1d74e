package book

import (
	"time"

	"github.com/shopspring/decimal"
)

// Book is a single physical copy in the catalog. A sale flips Available to
// false; the row itself is never deleted so order snapshots stay resolvable.
type Book struct {
	ID            string          `json:"id" db:"id"`
	Title         string          `json:"title" db:"title"`
	Author        string          `json:"author" db:"author"`
	ISBN          string          `json:"isbn,omitempty" db:"isbn"`
	Description   string          `json:"description,omitempty" db:"description"`
	PublishedYear int             `json:"published_year,omitempty" db:"published_year"`
	Price         decimal.Decimal `json:"price" db:"price"`
	Available     bool            `json:"available" db:"available"`
	CoverPath     string          `json:"cover_path,omitempty" db:"cover_path"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}
