// Package main applies database schema migrations.
package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/mhollis/bookstore/internal/storage/postgres"
	"github.com/mhollis/bookstore/pkg/logger"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [up|down|version]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		command = "up"
	}

	log := logger.NewDefault("migrate")

	_ = godotenv.Load()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.WithError(err).Error("failed to open database")
		os.Exit(1)
	}
	defer db.Close()

	m, err := postgres.NewMigrator(db)
	if err != nil {
		log.WithError(err).Error("failed to build migrator")
		os.Exit(1)
	}

	switch command {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.WithError(err).Error("migration failed")
			os.Exit(1)
		}
		log.Info("migrations applied")

	case "down":
		if err := m.Steps(-1); err != nil {
			log.WithError(err).Error("rollback failed")
			os.Exit(1)
		}
		log.Info("rolled back one migration")

	case "version":
		version, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			log.WithError(err).Error("failed to read version")
			os.Exit(1)
		}
		fmt.Printf("version=%d dirty=%v\n", version, dirty)

	default:
		flag.Usage()
		os.Exit(2)
	}
}
