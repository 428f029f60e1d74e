// Package app wires the bookstore's dependencies and manages its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mhollis/bookstore/internal/auth"
	"github.com/mhollis/bookstore/internal/cache"
	"github.com/mhollis/bookstore/internal/config"
	"github.com/mhollis/bookstore/internal/covers"
	"github.com/mhollis/bookstore/internal/httpapi"
	"github.com/mhollis/bookstore/internal/mailer"
	"github.com/mhollis/bookstore/internal/metrics"
	"github.com/mhollis/bookstore/internal/payment"
	"github.com/mhollis/bookstore/internal/services/catalog"
	"github.com/mhollis/bookstore/internal/services/checkout"
	"github.com/mhollis/bookstore/internal/services/orders"
	"github.com/mhollis/bookstore/internal/storage"
	"github.com/mhollis/bookstore/internal/storage/memory"
	"github.com/mhollis/bookstore/internal/storage/postgres"
	"github.com/mhollis/bookstore/internal/system"
	"github.com/mhollis/bookstore/internal/vision"
	"github.com/mhollis/bookstore/pkg/logger"
)

// store is the combined persistence surface the services need.
type store interface {
	storage.BookStore
	storage.OrderStore
}

// Application owns the HTTP server and every background component.
type Application struct {
	cfg     *config.Config
	log     *logger.Logger
	server  *http.Server
	manager *system.Manager
	db      *sqlx.DB
	cache   *cache.Catalog
}

// New builds a fully wired application from configuration.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	log := logger.New("app", logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	var (
		st store
		db *sqlx.DB
	)
	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.Open(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := postgres.MigrateUp(db.DB); err != nil {
			db.Close()
			return nil, err
		}
		st = postgres.New(db)
		log.Info("using postgres storage")
	} else {
		st = memory.New()
		log.Warn("DATABASE_URL not set, using in-memory storage")
	}

	catalogCache, err := cache.NewCatalog(ctx, cfg.Redis.Addr, cfg.Redis.TTL)
	if err != nil {
		log.WithError(err).Warn("redis unavailable, catalog cache disabled")
	} else if catalogCache != nil {
		log.WithField("addr", cfg.Redis.Addr).Info("catalog cache enabled")
	}

	var gateway payment.Gateway
	if cfg.Stripe.SecretKey != "" {
		gateway, err = payment.NewStripeGateway(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret)
		if err != nil {
			return nil, err
		}
	} else {
		gateway = disabledGateway{}
		log.Warn("STRIPE_SECRET_KEY not set, checkout disabled")
	}

	var sender mailer.Sender = mailer.NopSender{}
	if cfg.SMTP.Host != "" {
		sender = mailer.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port,
			cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From)
	} else {
		log.Warn("SMTP_HOST not set, outbound email disabled")
	}
	notifier := mailer.NewNotifier(sender, publicHost(cfg.Server.PublicURL), cfg.SMTP.AdminRecipients())

	m := metrics.New()
	authn := auth.New(cfg.Admin.Username, cfg.Admin.PasswordHash, cfg.Admin.JWTSecret, cfg.Admin.TokenTTL)

	catalogSvc := catalog.New(st, catalogCache, covers.NewProcessor(cfg.Server.MediaDir))
	ordersSvc := orders.New(st)
	checkoutSvc := checkout.New(st, st, gateway, notifier, m, catalogCache, cfg.Server.PublicURL)
	analyzer := vision.NewAnalyzer(cfg.OpenAI.APIKey, cfg.OpenAI.Model)

	var ping func(context.Context) error
	if db != nil {
		ping = db.PingContext
	}

	handler, err := httpapi.NewHandler(httpapi.Config{
		Catalog:  catalogSvc,
		Orders:   ordersSvc,
		Checkout: checkoutSvc,
		Vision:   analyzer,
		Auth:     authn,
		Metrics:  m,
		MediaDir: cfg.Server.MediaDir,
		Ping:     ping,
	})
	if err != nil {
		return nil, err
	}

	manager := system.NewManager()
	manager.Register(checkout.NewSweeper(st, m, cfg.Checkout.SessionCutoff, cfg.Checkout.SweepSchedule))

	return &Application{
		cfg: cfg,
		log: log,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		manager: manager,
		db:      db,
		cache:   catalogCache,
	}, nil
}

// Run starts the background services and the HTTP server, blocking until the
// context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.manager.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", a.server.Addr).Info("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops everything in reverse start order.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var firstErr error
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		firstErr = err
	}
	if err := a.manager.Stop(shutdownCtx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.cache.Close(); err != nil {
		a.log.WithError(err).Warn("error closing redis connection")
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	return firstErr
}

// disabledGateway fails every operation; installed when no payment
// credentials are configured.
type disabledGateway struct{}

var errPaymentsDisabled = errors.New("payment gateway not configured")

func (disabledGateway) CreateSession(context.Context, payment.CheckoutRequest) (payment.Session, error) {
	return payment.Session{}, errPaymentsDisabled
}

func (disabledGateway) VerifyEvent([]byte, string) (payment.Event, error) {
	return payment.Event{}, errPaymentsDisabled
}

func (disabledGateway) Refund(context.Context, string) error {
	return errPaymentsDisabled
}

func publicHost(publicURL string) string {
	if u, err := url.Parse(publicURL); err == nil && u.Host != "" {
		return u.Host
	}
	return "bookstore"
}
