// Package orders provides the admin order views and fulfillment.
package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mhollis/bookstore/internal/bookstore/order"
	"github.com/mhollis/bookstore/internal/storage"
	"github.com/mhollis/bookstore/pkg/logger"
)

var (
	// ErrInvalidStatus marks an unknown status filter.
	ErrInvalidStatus = errors.New("orders: invalid status filter")
	// ErrNotPaid is returned when fulfillment is attempted on an order that
	// has not been paid.
	ErrNotPaid = errors.New("orders: order is not paid")
)

type Service struct {
	store storage.OrderStore
	log   *logger.Logger
}

func New(store storage.OrderStore) *Service {
	return &Service{store: store, log: logger.NewDefault("orders")}
}

// List returns orders newest first, optionally filtered by status.
func (s *Service) List(ctx context.Context, status order.Status) ([]order.Order, error) {
	switch status {
	case "", order.StatusPending, order.StatusPaid, order.StatusAbandoned:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return s.store.ListOrders(ctx, status)
}

func (s *Service) Get(ctx context.Context, id string) (order.Order, error) {
	return s.store.GetOrder(ctx, id)
}

// Fulfill marks a paid order as shipped. Fulfilling an already fulfilled
// order is a no-op; anything not paid fails with ErrNotPaid.
func (s *Service) Fulfill(ctx context.Context, id string) (order.Order, error) {
	o, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return order.Order{}, err
	}
	if o.Status != order.StatusPaid {
		return order.Order{}, fmt.Errorf("order %s has status %s: %w", id, o.Status, ErrNotPaid)
	}
	if o.Fulfilled {
		return o, nil
	}

	now := time.Now().UTC()
	o.Fulfilled = true
	o.FulfilledAt = &now

	updated, err := s.store.UpdateOrder(ctx, o)
	if err != nil {
		return order.Order{}, err
	}
	s.log.WithField("order_id", id).Info("order fulfilled")
	return updated, nil
}
