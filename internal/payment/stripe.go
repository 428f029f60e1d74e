package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
)

// EventCheckoutCompleted is the provider event emitted when a shopper
// finishes the hosted checkout flow.
const EventCheckoutCompleted = "checkout.session.completed"

// StripeGateway implements Gateway against the Stripe API.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

var _ Gateway = (*StripeGateway)(nil)

// NewStripeGateway builds a gateway from API credentials.
func NewStripeGateway(secretKey, webhookSecret string) (*StripeGateway, error) {
	if strings.TrimSpace(secretKey) == "" {
		return nil, fmt.Errorf("stripe secret key required")
	}
	return &StripeGateway{
		api:           client.New(secretKey, nil),
		webhookSecret: webhookSecret,
	}, nil
}

func (g *StripeGateway) CreateSession(ctx context.Context, req CheckoutRequest) (Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(string(stripe.CurrencyGBP)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(req.Title),
						Description: stripe.String("by " + req.Author),
					},
					UnitAmount: stripe.Int64(req.AmountPence),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		ShippingAddressCollection: &stripe.CheckoutSessionShippingAddressCollectionParams{
			AllowedCountries: stripe.StringSlice([]string{"GB"}),
		},
	}
	params.Context = ctx
	params.AddMetadata("book_id", req.BookID)
	params.AddMetadata("order_id", req.OrderID)

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return Session{}, fmt.Errorf("create checkout session: %w", err)
	}
	return Session{ID: sess.ID, URL: sess.URL}, nil
}

func (g *StripeGateway) VerifyEvent(payload []byte, sigHeader string) (Event, error) {
	if g.webhookSecret == "" {
		return Event{}, ErrNotConfigured
	}
	ev, err := webhook.ConstructEvent(payload, sigHeader, g.webhookSecret)
	if err != nil {
		return Event{}, fmt.Errorf("verify webhook event: %w", err)
	}
	return Event{ID: ev.ID, Type: string(ev.Type), Raw: ev.Data.Raw}, nil
}

func (g *StripeGateway) Refund(ctx context.Context, paymentIntentID string) error {
	if strings.TrimSpace(paymentIntentID) == "" {
		return fmt.Errorf("payment intent id required")
	}
	params := &stripe.RefundParams{PaymentIntent: stripe.String(paymentIntentID)}
	params.Context = ctx
	if _, err := g.api.Refunds.New(params); err != nil {
		return fmt.Errorf("create refund: %w", err)
	}
	return nil
}
