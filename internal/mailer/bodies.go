package mailer

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mhollis/bookstore/internal/bookstore/order"
)

// Refund outcome labels used in the customer and admin notices.
const (
	RefundSucceeded    = "succeeded"
	RefundNotAttempted = "not attempted"
)

// RefundInfo describes a payment that was reversed because the copy had
// already been sold to another customer.
type RefundInfo struct {
	BookID        string
	BookTitle     string
	BookAuthor    string
	CustomerEmail string
	SessionID     string
	PaymentIntent string
	Amount        decimal.Decimal
	// RefundStatus is RefundSucceeded, RefundNotAttempted or "failed: <reason>".
	RefundStatus string
}

// Notifier composes order email and fans it out to the right recipients.
type Notifier struct {
	sender Sender
	host   string
	admins []string
}

// NewNotifier builds a notifier. host tags customer-facing subjects, admins
// receives new-order and race-condition alerts (may be empty).
func NewNotifier(sender Sender, host string, admins []string) *Notifier {
	return &Notifier{sender: sender, host: host, admins: admins}
}

// PurchaseConfirmation emails the customer their order summary.
func (n *Notifier) PurchaseConfirmation(ctx context.Context, o order.Order) error {
	var b strings.Builder
	b.WriteString("Thank you for your purchase!\n\n")
	fmt.Fprintf(&b, "ORDER #%s\n---\n", o.ID)
	fmt.Fprintf(&b, "Order Date: %s\n", o.CreatedAt.Format("2006-01-02 15:04:05"))
	b.WriteString("Status: Pending (we ship within 1 business day)\n\n")
	b.WriteString("BOOK DETAILS\n---\n")
	fmt.Fprintf(&b, "Title: %s\n", o.BookTitle)
	fmt.Fprintf(&b, "Author: %s\n", o.BookAuthor)
	if o.BookISBN != "" {
		fmt.Fprintf(&b, "ISBN: %s\n", o.BookISBN)
	}
	fmt.Fprintf(&b, "Price: £%s\n", o.AmountPaid.StringFixed(2))
	writeShippingBlock(&b, o.Shipping)
	b.WriteString("\nIf you have any questions about your order just reply to this message.\n")

	return n.sender.Send(ctx, Message{
		To:      []string{o.CustomerEmail},
		Subject: fmt.Sprintf("[%s] Order Confirmation #%s - %s", n.host, o.ID, o.BookTitle),
		Body:    b.String(),
	})
}

// AdminNewOrder emails the admins about a completed sale. It is a no-op when
// no admin recipients are configured.
func (n *Notifier) AdminNewOrder(ctx context.Context, o order.Order) error {
	if len(n.admins) == 0 {
		return nil
	}

	customer := o.Shipping.Name
	if customer == "" {
		customer = o.CustomerEmail
	}
	location := ""
	if o.Shipping.City != "" && o.Shipping.Country != "" {
		location = fmt.Sprintf(" — %s, %s", o.Shipping.City, o.Shipping.Country)
	}

	var b strings.Builder
	b.WriteString("A new order has been placed!\n\n")
	fmt.Fprintf(&b, "ORDER #%s\n---\n", o.ID)
	fmt.Fprintf(&b, "Order Date: %s\n", o.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Customer Email: %s\n", o.CustomerEmail)
	fmt.Fprintf(&b, "Stripe Session: %s\n\n", o.StripeSessionID)
	b.WriteString("BOOK DETAILS:\n")
	fmt.Fprintf(&b, "Title: %s\n", o.BookTitle)
	fmt.Fprintf(&b, "Author: %s\n", o.BookAuthor)
	if o.BookISBN != "" {
		fmt.Fprintf(&b, "ISBN: %s\n", o.BookISBN)
	}
	fmt.Fprintf(&b, "Price: £%s\n", o.AmountPaid.StringFixed(2))
	writeShippingBlock(&b, o.Shipping)

	return n.sender.Send(ctx, Message{
		To:      n.admins,
		Subject: fmt.Sprintf("[bookstore] %s bought %s%s", customer, o.BookTitle, location),
		Body:    b.String(),
	})
}

// RefundNotice tells the customer their purchase could not be completed and
// what happened to their money.
func (n *Notifier) RefundNotice(ctx context.Context, info RefundInfo) error {
	amount := info.Amount.StringFixed(2)

	var refundMsg string
	switch info.RefundStatus {
	case RefundSucceeded:
		refundMsg = fmt.Sprintf(
			"You have been issued a full refund of £%s. "+
				"The refund will appear on your payment method within 10 business days.", amount)
	case RefundNotAttempted:
		refundMsg = fmt.Sprintf(
			"We were unable to process a refund automatically. Our team "+
				"has been notified and will manually issue a full refund of £%s "+
				"to your payment method within 24 hours.", amount)
	default:
		refundMsg = fmt.Sprintf(
			"We encountered an issue processing your refund automatically. Our team "+
				"has been notified and will manually issue a full refund of £%s "+
				"to your payment method within 24 hours.", amount)
	}

	var b strings.Builder
	b.WriteString("We're sorry, but we were unable to complete your purchase.\n\n")
	b.WriteString("BOOK DETAILS\n---\n")
	fmt.Fprintf(&b, "Title: %s\n", info.BookTitle)
	fmt.Fprintf(&b, "Author: %s\n", info.BookAuthor)
	fmt.Fprintf(&b, "Price: £%s\n\n", amount)
	b.WriteString("WHAT HAPPENED\n---\n")
	b.WriteString("Unfortunately, this book was sold to another customer just moments before " +
		"your order was completed. We know this is disappointing, and we sincerely apologize " +
		"for the inconvenience.\n\n")
	b.WriteString("REFUND INFORMATION\n---\n")
	b.WriteString(refundMsg)
	b.WriteString("\n\nIf you have any questions or need assistance, please contact us.\n\n")
	b.WriteString("Thank you for your understanding\n")

	return n.sender.Send(ctx, Message{
		To:      []string{info.CustomerEmail},
		Subject: fmt.Sprintf("[%s] Order Canceled - %s", n.host, info.BookTitle),
		Body:    b.String(),
	})
}

// AdminRaceAlert tells the admins a refund was issued because two checkouts
// raced over the same copy. No-op without admin recipients.
func (n *Notifier) AdminRaceAlert(ctx context.Context, info RefundInfo) error {
	if len(n.admins) == 0 {
		return nil
	}

	outcome := "attempted"
	if info.RefundStatus == RefundSucceeded {
		outcome = "processed"
	}

	var b strings.Builder
	b.WriteString("A race condition occurred during checkout.\n\n")
	fmt.Fprintf(&b, "Book: %s by %s (ID: %s)\n", info.BookTitle, info.BookAuthor, info.BookID)
	fmt.Fprintf(&b, "Customer Email: %s\n", info.CustomerEmail)
	fmt.Fprintf(&b, "Stripe Session: %s\n", info.SessionID)
	fmt.Fprintf(&b, "Payment Intent: %s\n", info.PaymentIntent)
	fmt.Fprintf(&b, "Amount: £%s\n\n", info.Amount.StringFixed(2))
	fmt.Fprintf(&b, "Refund Status: %s\n\n", info.RefundStatus)
	b.WriteString("The customer attempted to purchase a book that was already sold to another customer.\n")
	fmt.Fprintf(&b, "A refund has been %s.\n", outcome)

	return n.sender.Send(ctx, Message{
		To:      n.admins,
		Subject: "[bookstore] RACE CONDITION: Refund issued for sold book",
		Body:    b.String(),
	})
}

func writeShippingBlock(b *strings.Builder, s order.Shipping) {
	if s.Line1 == "" {
		return
	}
	b.WriteString("\nSHIPPING ADDRESS\n---\n")
	fmt.Fprintf(b, "Name: %s\n", s.Name)
	fmt.Fprintf(b, "Address: %s\n", s.Line1)
	if s.Line2 != "" {
		fmt.Fprintf(b, "         %s\n", s.Line2)
	}
	fmt.Fprintf(b, "City: %s\n", s.City)
	fmt.Fprintf(b, "State/Province: %s\n", s.State)
	fmt.Fprintf(b, "ZIP/Postal Code: %s\n", s.PostalCode)
	fmt.Fprintf(b, "Country: %s\n", s.Country)
}
