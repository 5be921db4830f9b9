// Package payments describes the hosted payment provider as seen by the checkout builder and the webhook reconciler.
package payments

import (
	"context"
	"errors"
)

// ErrSignature is returned when a webhook payload does not match its signature header.
var ErrSignature = errors.New("webhook signature verification failed")

const ModePayment = "payment"

// LineItem is one row of a hosted checkout page. UnitAmount is in minor currency units.
type LineItem struct {
	Name       string
	ImageURL   string
	Currency   string
	UnitAmount int64
	Quantity   int64
}

type SessionRequest struct {
	LineItems          []LineItem
	Mode               string
	PaymentMethodTypes []string
	SuccessURL         string
	CancelURL          string
	ClientReferenceID  string
	Metadata           map[string]string
}

type Session struct {
	ID  string
	URL string
}

type EventType string

const (
	EventCheckoutCompleted EventType = "checkout.session.completed"
	EventPaymentFailed     EventType = "payment_intent.payment_failed"
	EventPaymentSucceeded  EventType = "payment_intent.succeeded"
	EventChargeRefunded    EventType = "charge.refunded"
)

// Event is a verified gateway notification reduced to the fields reconciliation needs.
// Fields that do not apply to Type are left empty.
type Event struct {
	ID   string
	Type EventType

	// checkout.session.completed
	SessionID string
	Metadata  map[string]string

	// payment_intent.* and charge.refunded
	PaymentIntentID string

	// charge.refunded, amounts in minor units
	ChargeID       string
	Amount         int64
	AmountRefunded int64
	RefundIDs      []string
}

// Gateway creates hosted checkout sessions and authenticates webhook deliveries.
type Gateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (Session, error)
	// ParseEvent verifies sigHeader against the raw payload bytes before decoding anything.
	// A failed verification returns an error wrapping ErrSignature.
	ParseEvent(payload []byte, sigHeader string) (Event, error)
}
