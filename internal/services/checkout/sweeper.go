package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mhollis/bookstore/internal/metrics"
	"github.com/mhollis/bookstore/internal/storage"
	"github.com/mhollis/bookstore/pkg/logger"
)

// Sweeper periodically marks stale pending orders abandoned. Hosted checkout
// sessions expire after 24 hours, so a pending order older than the cutoff
// can never be paid.
type Sweeper struct {
	orders   storage.OrderStore
	metrics  *metrics.Metrics
	log      *logger.Logger
	cutoff   time.Duration
	schedule string
	cron     *cron.Cron
}

// NewSweeper builds a sweeper. schedule uses cron syntax, including the
// @every form.
func NewSweeper(orders storage.OrderStore, m *metrics.Metrics, cutoff time.Duration, schedule string) *Sweeper {
	return &Sweeper{
		orders:   orders,
		metrics:  m,
		log:      logger.NewDefault("sweeper"),
		cutoff:   cutoff,
		schedule: schedule,
	}
}

func (s *Sweeper) Name() string { return "order-sweeper" }

func (s *Sweeper) Start(context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, s.sweep); err != nil {
		return fmt.Errorf("schedule %q: %w", s.schedule, err)
	}
	s.cron = c
	c.Start()
	s.log.WithField("schedule", s.schedule).WithField("cutoff", s.cutoff.String()).
		Info("order sweep scheduled")
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := s.Sweep(ctx)
	if err != nil {
		s.log.WithError(err).Error("order sweep failed")
		return
	}
	if n > 0 {
		s.log.WithField("abandoned", n).Info("swept stale pending orders")
	}
}

// Sweep runs one pass and reports how many orders were abandoned.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	before := time.Now().UTC().Add(-s.cutoff)
	n, err := s.orders.AbandonStaleOrders(ctx, before)
	if err != nil {
		return 0, err
	}
	s.metrics.OrdersSwept(n)
	return n, nil
}
