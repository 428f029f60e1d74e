// Package main loads sample catalog data for development and demos.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/mhollis/bookstore/internal/auth"
	"github.com/mhollis/bookstore/internal/bookstore/book"
	"github.com/mhollis/bookstore/internal/storage"
	"github.com/mhollis/bookstore/internal/storage/postgres"
	"github.com/mhollis/bookstore/pkg/logger"
)

type fixture struct {
	Books []struct {
		Title         string          `yaml:"title"`
		Author        string          `yaml:"author"`
		ISBN          string          `yaml:"isbn"`
		Description   string          `yaml:"description"`
		PublishedYear int             `yaml:"published_year"`
		Price         decimal.Decimal `yaml:"price"`
	} `yaml:"books"`
}

func main() {
	file := flag.String("fixture", "fixtures/books.yaml", "path to the books fixture")
	hashPassword := flag.String("hash-password", "", "print a bcrypt hash for ADMIN_PASSWORD_HASH and exit")
	flag.Parse()

	log := logger.NewDefault("seed")

	if *hashPassword != "" {
		hash, err := auth.HashPassword(*hashPassword)
		if err != nil {
			log.WithError(err).Error("failed to hash password")
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	_ = godotenv.Load()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.Open(ctx, dsn)
	if err != nil {
		log.WithError(err).Error("failed to open database")
		os.Exit(1)
	}
	defer db.Close()

	if err := postgres.MigrateUp(db.DB); err != nil {
		log.WithError(err).Error("failed to migrate database")
		os.Exit(1)
	}
	store := postgres.New(db)

	data, err := os.ReadFile(*file)
	if err != nil {
		log.WithError(err).Error("failed to read fixture")
		os.Exit(1)
	}
	var fx fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		log.WithError(err).Error("failed to parse fixture")
		os.Exit(1)
	}

	var created, skipped int
	for _, entry := range fx.Books {
		_, err := store.CreateBook(ctx, book.Book{
			Title:         entry.Title,
			Author:        entry.Author,
			ISBN:          entry.ISBN,
			Description:   entry.Description,
			PublishedYear: entry.PublishedYear,
			Price:         entry.Price,
			Available:     true,
		})
		switch {
		case errors.Is(err, storage.ErrDuplicate):
			skipped++
		case err != nil:
			log.WithError(err).WithField("title", entry.Title).Error("failed to create book")
			os.Exit(1)
		default:
			created++
		}
	}

	log.WithField("created", created).WithField("skipped", skipped).Info("sample books loaded")
}
