// Package payment abstracts the hosted checkout provider.
package payment

import (
	"context"
	"errors"
)

// ErrNotConfigured reports a webhook delivery that cannot be verified because
// no endpoint secret is set. An operator problem, not a forged request.
var ErrNotConfigured = errors.New("webhook secret not configured")

// CheckoutRequest describes a single-book checkout session.
type CheckoutRequest struct {
	BookID  string
	OrderID string
	Title   string
	Author  string
	// AmountPence is the charge amount in the smallest currency unit.
	AmountPence int64
	SuccessURL  string
	CancelURL   string
}

// Session is a created hosted-checkout session. The shopper is redirected to
// URL to complete payment.
type Session struct {
	ID  string
	URL string
}

// Event is a verified webhook event. Raw holds the provider object payload
// for field extraction.
type Event struct {
	ID   string
	Type string
	Raw  []byte
}

// Gateway is the payment provider surface the checkout service depends on.
type Gateway interface {
	CreateSession(ctx context.Context, req CheckoutRequest) (Session, error)
	// VerifyEvent checks the webhook signature and returns the decoded event.
	VerifyEvent(payload []byte, sigHeader string) (Event, error)
	// Refund reverses a completed payment by its payment intent.
	Refund(ctx context.Context, paymentIntentID string) error
}
