// Package checkout drives the purchase flow: hosted checkout sessions on the
// way out, payment webhooks on the way back in.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/mhollis/bookstore/internal/bookstore/order"
	"github.com/mhollis/bookstore/internal/mailer"
	"github.com/mhollis/bookstore/internal/metrics"
	"github.com/mhollis/bookstore/internal/payment"
	"github.com/mhollis/bookstore/internal/storage"
	"github.com/mhollis/bookstore/pkg/logger"
)

var pence = decimal.NewFromInt(100)

// CatalogCache drops cached book listings. A webhook-confirmed sale changes
// availability outside the catalog service, so the checkout path has to
// invalidate the cache itself.
type CatalogCache interface {
	Invalidate(ctx context.Context)
}

// Service coordinates books, orders, the payment gateway and email.
type Service struct {
	books     storage.BookStore
	orders    storage.OrderStore
	gateway   payment.Gateway
	notifier  *mailer.Notifier
	metrics   *metrics.Metrics
	cache     CatalogCache
	log       *logger.Logger
	publicURL string
}

// New wires a checkout service. publicURL is the externally reachable base
// URL used to build the success and cancel redirects. cache may be nil.
func New(books storage.BookStore, orders storage.OrderStore, gateway payment.Gateway,
	notifier *mailer.Notifier, m *metrics.Metrics, cache CatalogCache, publicURL string) *Service {
	return &Service{
		books:     books,
		orders:    orders,
		gateway:   gateway,
		notifier:  notifier,
		metrics:   m,
		cache:     cache,
		log:       logger.NewDefault("checkout"),
		publicURL: publicURL,
	}
}

func (s *Service) invalidateCatalog(ctx context.Context) {
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
}

// Begin creates a hosted checkout session for the book and records a pending
// order against it. It returns the URL the shopper must be redirected to.
// Fails with storage.ErrNotFound for unknown books and
// storage.ErrBookUnavailable for copies already sold.
func (s *Service) Begin(ctx context.Context, bookID string) (string, error) {
	b, err := s.books.GetBook(ctx, bookID)
	if err != nil {
		return "", err
	}
	if !b.Available {
		return "", fmt.Errorf("book %s: %w", bookID, storage.ErrBookUnavailable)
	}

	orderID := uuid.NewString()
	sess, err := s.gateway.CreateSession(ctx, payment.CheckoutRequest{
		BookID:      b.ID,
		OrderID:     orderID,
		Title:       b.Title,
		Author:      b.Author,
		AmountPence: b.Price.Mul(pence).IntPart(),
		SuccessURL:  s.publicURL + "/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:   s.publicURL + "/checkout/cancel",
	})
	if err != nil {
		s.metrics.CheckoutSession("failed")
		return "", fmt.Errorf("create session for book %s: %w", bookID, err)
	}

	if _, err := s.orders.CreateOrder(ctx, order.Order{
		ID:              orderID,
		BookID:          b.ID,
		BookTitle:       b.Title,
		BookAuthor:      b.Author,
		BookISBN:        b.ISBN,
		BookPrice:       b.Price,
		StripeSessionID: sess.ID,
		Status:          order.StatusPending,
	}); err != nil {
		s.metrics.CheckoutSession("failed")
		return "", fmt.Errorf("record pending order for session %s: %w", sess.ID, err)
	}

	s.metrics.CheckoutSession("created")
	s.log.WithField("book_id", b.ID).WithField("session_id", sess.ID).
		Info("checkout session created")
	return sess.URL, nil
}

// SessionOrder looks up the order attached to a checkout session, for the
// post-payment landing pages.
func (s *Service) SessionOrder(ctx context.Context, sessionID string) (order.Order, error) {
	return s.orders.GetOrderBySession(ctx, sessionID)
}

// CompletedSession is the subset of a completed-checkout webhook payload the
// service acts on.
type CompletedSession struct {
	SessionID     string
	BookID        string
	OrderID       string
	CustomerEmail string
	// AmountTotal is the settled amount in pence, -1 when absent.
	AmountTotal   int64
	PaymentIntent string
	Shipping      order.Shipping
}

// ParseCompletedSession extracts the fields of interest from the raw session
// object. Newer API versions nest shipping under collected_information; older
// payloads carry it at the top level.
func ParseCompletedSession(raw []byte) CompletedSession {
	res := gjson.ParseBytes(raw)

	cs := CompletedSession{
		SessionID:     res.Get("id").String(),
		BookID:        res.Get("metadata.book_id").String(),
		OrderID:       res.Get("metadata.order_id").String(),
		CustomerEmail: res.Get("customer_details.email").String(),
		AmountTotal:   -1,
	}
	if amount := res.Get("amount_total"); amount.Exists() {
		cs.AmountTotal = amount.Int()
	}

	// payment_intent arrives as a bare id or an expanded object
	if pi := res.Get("payment_intent"); pi.Type == gjson.String {
		cs.PaymentIntent = pi.String()
	} else {
		cs.PaymentIntent = pi.Get("id").String()
	}

	ship := res.Get("collected_information.shipping_details")
	if !ship.Exists() {
		ship = res.Get("shipping_details")
	}
	addr := ship.Get("address")
	cs.Shipping = order.Shipping{
		Name:       ship.Get("name").String(),
		Line1:      addr.Get("line1").String(),
		Line2:      addr.Get("line2").String(),
		City:       addr.Get("city").String(),
		State:      addr.Get("state").String(),
		PostalCode: addr.Get("postal_code").String(),
		Country:    addr.Get("country").String(),
	}
	return cs
}

// WebhookResult tells the HTTP layer how to answer the provider.
type WebhookResult struct {
	Code    int
	Status  string
	Message string
}

func ack(message string) WebhookResult {
	return WebhookResult{Code: http.StatusOK, Status: "success", Message: message}
}

// ackError acknowledges a permanent error: retrying the delivery can never
// succeed, so the provider must stop redelivering it.
func ackError(message string) WebhookResult {
	return WebhookResult{Code: http.StatusOK, Status: "error", Message: message}
}

// HandleWebhook verifies and processes a payment provider event.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, sigHeader string) WebhookResult {
	ev, err := s.gateway.VerifyEvent(payload, sigHeader)
	switch {
	case errors.Is(err, payment.ErrNotConfigured):
		s.log.Error("webhook secret not configured, cannot verify deliveries")
		s.metrics.WebhookEvent("misconfigured")
		return WebhookResult{Code: http.StatusInternalServerError, Status: "error", Message: "Webhook secret not configured"}
	case err != nil:
		s.log.WithError(err).Error("webhook signature verification failed")
		s.metrics.WebhookEvent("invalid_signature")
		return WebhookResult{Code: http.StatusBadRequest, Status: "error", Message: "Invalid signature"}
	}

	log := s.log.WithField("event_id", ev.ID).WithField("event_type", ev.Type)
	log.Info("received webhook event")

	if ev.Type != payment.EventCheckoutCompleted {
		s.metrics.WebhookEvent("ignored")
		return ack("Event received")
	}
	return s.completeCheckout(ctx, ParseCompletedSession(ev.Raw))
}

func (s *Service) completeCheckout(ctx context.Context, cs CompletedSession) WebhookResult {
	log := s.log.WithField("session_id", cs.SessionID)

	// Permanent payload defects: acknowledge so the provider stops retrying.
	switch {
	case cs.BookID == "":
		log.Error("missing book_id in session metadata")
		s.metrics.WebhookEvent("permanent_error")
		return ackError("Missing book_id in metadata")
	case cs.CustomerEmail == "":
		log.Error("missing customer email in session")
		s.metrics.WebhookEvent("permanent_error")
		return ackError("Missing customer email")
	case cs.AmountTotal < 0:
		log.Error("missing amount_total in session")
		s.metrics.WebhookEvent("permanent_error")
		return ackError("Missing amount_total")
	}

	rec := storage.PaymentRecord{
		SessionID:     cs.SessionID,
		BookID:        cs.BookID,
		CustomerEmail: cs.CustomerEmail,
		AmountPaid:    decimal.NewFromInt(cs.AmountTotal).Div(pence),
		Shipping:      cs.Shipping,
		PaidAt:        time.Now().UTC(),
	}

	o, err := s.orders.RecordPayment(ctx, rec)
	switch {
	case errors.Is(err, storage.ErrOrderAlreadyPaid):
		log.Info("order already processed, acknowledging duplicate delivery")
		s.metrics.WebhookEvent("duplicate")
		return ack("Order already processed")

	case errors.Is(err, storage.ErrNotFound):
		log.WithField("book_id", cs.BookID).Error("book not found, acknowledging")
		s.metrics.WebhookEvent("permanent_error")
		return ackError(fmt.Sprintf("Book %s not found", cs.BookID))

	case errors.Is(err, storage.ErrBookUnavailable):
		return s.refundRace(ctx, cs, rec.AmountPaid)

	case err != nil:
		log.WithError(err).Error("failed to record payment")
		s.metrics.WebhookEvent("error")
		return WebhookResult{Code: http.StatusInternalServerError, Status: "error", Message: "Order processing failed"}
	}

	if !o.AmountPaid.Equal(o.BookPrice) {
		log.WithField("book_id", o.BookID).
			Warnf("price mismatch: expected £%s, received £%s",
				o.BookPrice.StringFixed(2), o.AmountPaid.StringFixed(2))
	}
	log.WithField("order_id", o.ID).Info("order paid")
	s.metrics.WebhookEvent("processed")

	// The sale flipped the book to unavailable; cached listings are stale.
	s.invalidateCatalog(ctx)

	// Email failures must not bounce the webhook; the payment is settled.
	err = s.notifier.PurchaseConfirmation(ctx, o)
	s.metrics.EmailSent("purchase_confirmation", err)
	if err != nil {
		log.WithError(err).Error("failed to send purchase confirmation")
	}
	err = s.notifier.AdminNewOrder(ctx, o)
	s.metrics.EmailSent("admin_new_order", err)
	if err != nil {
		log.WithError(err).Error("failed to send admin notification")
	}

	return ack("Order processed successfully")
}

// refundRace handles a payment that settled after the copy was sold to
// someone else: refund the charge, retire the pending order and tell both
// the customer and the admins.
func (s *Service) refundRace(ctx context.Context, cs CompletedSession, amount decimal.Decimal) WebhookResult {
	log := s.log.WithField("session_id", cs.SessionID).WithField("book_id", cs.BookID)
	log.Warn("book already sold, issuing refund")
	s.metrics.WebhookEvent("race_refund")

	refundStatus := mailer.RefundNotAttempted
	if cs.PaymentIntent != "" {
		if err := s.gateway.Refund(ctx, cs.PaymentIntent); err != nil {
			refundStatus = "failed: " + err.Error()
			log.WithError(err).WithField("payment_intent", cs.PaymentIntent).
				Error("failed to create refund")
		} else {
			refundStatus = mailer.RefundSucceeded
			log.WithField("payment_intent", cs.PaymentIntent).Info("refund created")
		}
	}

	info := mailer.RefundInfo{
		BookID:        cs.BookID,
		CustomerEmail: cs.CustomerEmail,
		SessionID:     cs.SessionID,
		PaymentIntent: cs.PaymentIntent,
		Amount:        amount,
		RefundStatus:  refundStatus,
	}

	// Retire the loser's pending order so the sweep does not have to.
	if o, err := s.orders.GetOrderBySession(ctx, cs.SessionID); err == nil {
		info.BookTitle = o.BookTitle
		info.BookAuthor = o.BookAuthor
		if o.Status == order.StatusPending {
			o.Status = order.StatusAbandoned
			if _, err := s.orders.UpdateOrder(ctx, o); err != nil {
				log.WithError(err).Error("failed to abandon raced order")
			}
		}
	} else if b, err := s.books.GetBook(ctx, cs.BookID); err == nil {
		info.BookTitle = b.Title
		info.BookAuthor = b.Author
	}
	s.invalidateCatalog(ctx)

	err := s.notifier.AdminRaceAlert(ctx, info)
	s.metrics.EmailSent("admin_race_alert", err)
	if err != nil {
		log.WithError(err).Error("failed to send admin race notification")
	}
	err = s.notifier.RefundNotice(ctx, info)
	s.metrics.EmailSent("refund_notice", err)
	if err != nil {
		log.WithError(err).Error("failed to send customer refund notification")
	}

	return ack("Book already sold - refund issued")
}
