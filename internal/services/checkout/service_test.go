package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mhollis/bookstore/internal/bookstore/book"
	"github.com/mhollis/bookstore/internal/bookstore/order"
	"github.com/mhollis/bookstore/internal/mailer"
	"github.com/mhollis/bookstore/internal/metrics"
	"github.com/mhollis/bookstore/internal/payment"
	"github.com/mhollis/bookstore/internal/storage"
	"github.com/mhollis/bookstore/internal/storage/memory"
)

type fakeGateway struct {
	sessions  []payment.CheckoutRequest
	createErr error
	verifyErr error
	refunds   []string
	refundErr error
}

func (f *fakeGateway) CreateSession(_ context.Context, req payment.CheckoutRequest) (payment.Session, error) {
	if f.createErr != nil {
		return payment.Session{}, f.createErr
	}
	f.sessions = append(f.sessions, req)
	id := fmt.Sprintf("cs_%d", len(f.sessions))
	return payment.Session{ID: id, URL: "https://checkout.example.com/" + id}, nil
}

func (f *fakeGateway) VerifyEvent(payload []byte, sigHeader string) (payment.Event, error) {
	if f.verifyErr != nil {
		return payment.Event{}, f.verifyErr
	}
	if sigHeader != "valid" {
		return payment.Event{}, errors.New("bad signature")
	}
	return payment.Event{ID: "evt_1", Type: payment.EventCheckoutCompleted, Raw: payload}, nil
}

func (f *fakeGateway) Refund(_ context.Context, paymentIntentID string) error {
	if f.refundErr != nil {
		return f.refundErr
	}
	f.refunds = append(f.refunds, paymentIntentID)
	return nil
}

type fakeSender struct {
	messages []mailer.Message
	err      error
}

func (f *fakeSender) Send(_ context.Context, msg mailer.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msg)
	return nil
}

type fakeCache struct {
	invalidations int
}

func (f *fakeCache) Invalidate(context.Context) { f.invalidations++ }

func newTestService(t *testing.T) (*Service, *memory.Store, *fakeGateway, *fakeSender) {
	t.Helper()
	store := memory.New()
	gw := &fakeGateway{}
	sender := &fakeSender{}
	notifier := mailer.NewNotifier(sender, "books.test", []string{"admin@books.test"})
	svc := New(store, store, gw, notifier, metrics.New(), nil, "https://books.test")
	return svc, store, gw, sender
}

func addBook(t *testing.T, store *memory.Store) book.Book {
	t.Helper()
	b, err := store.CreateBook(context.Background(), book.Book{
		Title:     "Dune",
		Author:    "Frank Herbert",
		ISBN:      "123",
		Price:     decimal.RequireFromString("9.99"),
		Available: true,
	})
	if err != nil {
		t.Fatalf("CreateBook: %v", err)
	}
	return b
}

func TestBeginCreatesPendingOrder(t *testing.T) {
	ctx := context.Background()
	svc, store, gw, _ := newTestService(t)
	b := addBook(t, store)

	url, err := svc.Begin(ctx, b.ID)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if !strings.HasPrefix(url, "https://checkout.example.com/") {
		t.Fatalf("unexpected redirect url %q", url)
	}

	if len(gw.sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(gw.sessions))
	}
	req := gw.sessions[0]
	if req.AmountPence != 999 {
		t.Fatalf("amount = %d pence", req.AmountPence)
	}
	if !strings.Contains(req.SuccessURL, "{CHECKOUT_SESSION_ID}") {
		t.Fatalf("success url missing session placeholder: %q", req.SuccessURL)
	}

	o, err := store.GetOrderBySession(ctx, "cs_1")
	if err != nil {
		t.Fatalf("GetOrderBySession: %v", err)
	}
	if o.Status != order.StatusPending || o.BookTitle != "Dune" {
		t.Fatalf("unexpected order: %+v", o)
	}
	if o.ID != req.OrderID {
		t.Fatalf("order id %s does not match session metadata %s", o.ID, req.OrderID)
	}
}

func TestBeginUnavailableBook(t *testing.T) {
	ctx := context.Background()
	svc, store, _, _ := newTestService(t)
	b := addBook(t, store)

	b.Available = false
	if _, err := store.UpdateBook(ctx, b); err != nil {
		t.Fatalf("UpdateBook: %v", err)
	}

	if _, err := svc.Begin(ctx, b.ID); !errors.Is(err, storage.ErrBookUnavailable) {
		t.Fatalf("expected ErrBookUnavailable, got %v", err)
	}
	if _, err := svc.Begin(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func sessionPayload(sessionID, bookID, email string, amount int64) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"metadata": {"book_id": %q, "order_id": "ord_1"},
		"customer_details": {"email": %q},
		"amount_total": %d,
		"payment_intent": "pi_123",
		"collected_information": {
			"shipping_details": {
				"name": "Reader",
				"address": {"line1": "1 High St", "city": "London", "postal_code": "N1 1AA", "country": "GB"}
			}
		}
	}`, sessionID, bookID, email, amount))
}

func TestHandleWebhookInvalidSignature(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	res := svc.HandleWebhook(context.Background(), []byte(`{}`), "bogus")
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestHandleWebhookUnconfiguredSecret(t *testing.T) {
	svc, _, gw, _ := newTestService(t)
	gw.verifyErr = payment.ErrNotConfigured

	res := svc.HandleWebhook(context.Background(), []byte(`{}`), "valid")
	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for missing webhook secret, got %d", res.Code)
	}
	if res.Message != "Webhook secret not configured" {
		t.Fatalf("unexpected message %q", res.Message)
	}
}

func TestHandleWebhookPaysOrder(t *testing.T) {
	ctx := context.Background()
	svc, store, _, sender := newTestService(t)
	b := addBook(t, store)

	if _, err := svc.Begin(ctx, b.ID); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	res := svc.HandleWebhook(ctx, sessionPayload("cs_1", b.ID, "reader@example.com", 999), "valid")
	if res.Code != http.StatusOK || res.Status != "success" {
		t.Fatalf("unexpected result: %+v", res)
	}

	o, err := store.GetOrderBySession(ctx, "cs_1")
	if err != nil {
		t.Fatalf("GetOrderBySession: %v", err)
	}
	if o.Status != order.StatusPaid {
		t.Fatalf("order status = %s", o.Status)
	}
	if o.Shipping.City != "London" {
		t.Fatalf("shipping not captured: %+v", o.Shipping)
	}

	gotBook, _ := store.GetBook(ctx, b.ID)
	if gotBook.Available {
		t.Fatal("book still available after sale")
	}

	// confirmation to the customer plus the admin notification
	if len(sender.messages) != 2 {
		t.Fatalf("expected 2 emails, got %d", len(sender.messages))
	}
	if sender.messages[0].To[0] != "reader@example.com" {
		t.Fatalf("first email to %v", sender.messages[0].To)
	}
	if !strings.Contains(sender.messages[0].Body, "Thank you for your purchase!") {
		t.Fatal("confirmation body missing greeting")
	}
}

func TestHandleWebhookDuplicateDelivery(t *testing.T) {
	ctx := context.Background()
	svc, store, _, _ := newTestService(t)
	b := addBook(t, store)

	payload := sessionPayload("cs_dup", b.ID, "reader@example.com", 999)
	if res := svc.HandleWebhook(ctx, payload, "valid"); res.Code != http.StatusOK {
		t.Fatalf("first delivery failed: %+v", res)
	}

	res := svc.HandleWebhook(ctx, payload, "valid")
	if res.Code != http.StatusOK || res.Message != "Order already processed" {
		t.Fatalf("unexpected duplicate result: %+v", res)
	}
}

func TestHandleWebhookPermanentErrors(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		payload string
	}{
		{"missing book id", `{"id": "cs_x", "customer_details": {"email": "r@example.com"}, "amount_total": 999}`},
		{"missing email", `{"id": "cs_x", "metadata": {"book_id": "b1"}, "amount_total": 999}`},
		{"missing amount", `{"id": "cs_x", "metadata": {"book_id": "b1"}, "customer_details": {"email": "r@example.com"}}`},
	}
	for _, tc := range cases {
		res := svc.HandleWebhook(ctx, []byte(tc.payload), "valid")
		if res.Code != http.StatusOK || res.Status != "error" {
			t.Fatalf("%s: expected acknowledged error, got %+v", tc.name, res)
		}
	}
}

func TestHandleWebhookMissingBookAcknowledged(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	res := svc.HandleWebhook(context.Background(),
		sessionPayload("cs_x", "deleted-book", "r@example.com", 999), "valid")
	if res.Code != http.StatusOK || res.Status != "error" {
		t.Fatalf("expected acknowledged error, got %+v", res)
	}
}

func TestHandleWebhookRaceIssuesRefund(t *testing.T) {
	ctx := context.Background()
	svc, store, gw, sender := newTestService(t)
	b := addBook(t, store)

	// winner settles first
	if res := svc.HandleWebhook(ctx, sessionPayload("cs_win", b.ID, "winner@example.com", 999), "valid"); res.Code != http.StatusOK {
		t.Fatalf("winner delivery failed: %+v", res)
	}
	sender.messages = nil

	// the loser still has a pending order from their own checkout
	if _, err := store.CreateOrder(ctx, order.Order{
		BookID: b.ID, BookTitle: b.Title, BookAuthor: b.Author,
		StripeSessionID: "cs_lose", Status: order.StatusPending,
	}); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	res := svc.HandleWebhook(ctx, sessionPayload("cs_lose", b.ID, "loser@example.com", 999), "valid")
	if res.Code != http.StatusOK || !strings.Contains(res.Message, "refund issued") {
		t.Fatalf("unexpected race result: %+v", res)
	}

	if len(gw.refunds) != 1 || gw.refunds[0] != "pi_123" {
		t.Fatalf("expected refund of pi_123, got %v", gw.refunds)
	}

	o, _ := store.GetOrderBySession(ctx, "cs_lose")
	if o.Status != order.StatusAbandoned {
		t.Fatalf("raced order status = %s", o.Status)
	}

	// admin race alert plus customer refund notice
	if len(sender.messages) != 2 {
		t.Fatalf("expected 2 emails, got %d", len(sender.messages))
	}
	if !strings.Contains(sender.messages[0].Subject, "RACE CONDITION") {
		t.Fatalf("first email subject %q", sender.messages[0].Subject)
	}
	if !strings.Contains(sender.messages[1].Body, "full refund of £9.99") {
		t.Fatal("refund notice missing amount")
	}
}

func TestHandleWebhookInvalidatesCatalogCache(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	cache := &fakeCache{}
	notifier := mailer.NewNotifier(&fakeSender{}, "books.test", nil)
	svc := New(store, store, &fakeGateway{}, notifier, metrics.New(), cache, "https://books.test")
	b := addBook(t, store)

	// a sale makes cached listings stale
	if res := svc.HandleWebhook(ctx, sessionPayload("cs_1", b.ID, "r@example.com", 999), "valid"); res.Code != http.StatusOK {
		t.Fatalf("delivery failed: %+v", res)
	}
	if cache.invalidations != 1 {
		t.Fatalf("expected 1 invalidation after sale, got %d", cache.invalidations)
	}

	// duplicate deliveries change nothing, so the cache stays put
	if res := svc.HandleWebhook(ctx, sessionPayload("cs_1", b.ID, "r@example.com", 999), "valid"); res.Code != http.StatusOK {
		t.Fatalf("duplicate delivery failed: %+v", res)
	}
	if cache.invalidations != 1 {
		t.Fatalf("duplicate delivery should not invalidate, got %d", cache.invalidations)
	}

	// the losing side of a race still invalidates
	if res := svc.HandleWebhook(ctx, sessionPayload("cs_2", b.ID, "loser@example.com", 999), "valid"); res.Code != http.StatusOK {
		t.Fatalf("race delivery failed: %+v", res)
	}
	if cache.invalidations != 2 {
		t.Fatalf("expected invalidation on race refund, got %d", cache.invalidations)
	}
}

func TestHandleWebhookEmailFailureStillAcks(t *testing.T) {
	ctx := context.Background()
	svc, store, _, sender := newTestService(t)
	b := addBook(t, store)
	sender.err = errors.New("smtp down")

	res := svc.HandleWebhook(ctx, sessionPayload("cs_mail", b.ID, "r@example.com", 999), "valid")
	if res.Code != http.StatusOK || res.Status != "success" {
		t.Fatalf("email failure must not bounce webhook: %+v", res)
	}

	o, _ := store.GetOrderBySession(ctx, "cs_mail")
	if o.Status != order.StatusPaid {
		t.Fatalf("order status = %s", o.Status)
	}
}

func TestParseCompletedSession(t *testing.T) {
	cs := ParseCompletedSession(sessionPayload("cs_9", "b9", "r@example.com", 1250))
	if cs.SessionID != "cs_9" || cs.BookID != "b9" || cs.OrderID != "ord_1" {
		t.Fatalf("unexpected ids: %+v", cs)
	}
	if cs.AmountTotal != 1250 || cs.PaymentIntent != "pi_123" {
		t.Fatalf("unexpected amounts: %+v", cs)
	}
	if cs.Shipping.Name != "Reader" || cs.Shipping.PostalCode != "N1 1AA" {
		t.Fatalf("unexpected shipping: %+v", cs.Shipping)
	}
}

func TestParseCompletedSessionLegacyShape(t *testing.T) {
	payload := []byte(`{
		"id": "cs_old",
		"metadata": {"book_id": "b1"},
		"customer_details": {"email": "r@example.com"},
		"amount_total": 999,
		"payment_intent": {"id": "pi_obj"},
		"shipping_details": {"name": "Old Reader", "address": {"line1": "2 Low Rd", "country": "GB"}}
	}`)

	cs := ParseCompletedSession(payload)
	if cs.PaymentIntent != "pi_obj" {
		t.Fatalf("expanded payment intent not parsed: %q", cs.PaymentIntent)
	}
	if cs.Shipping.Name != "Old Reader" || cs.Shipping.Line1 != "2 Low Rd" {
		t.Fatalf("top-level shipping not parsed: %+v", cs.Shipping)
	}
}

func TestParseCompletedSessionMissingAmount(t *testing.T) {
	cs := ParseCompletedSession([]byte(`{"id": "cs_na", "metadata": {"book_id": "b1"}}`))
	if cs.AmountTotal != -1 {
		t.Fatalf("missing amount should be -1, got %d", cs.AmountTotal)
	}
}
