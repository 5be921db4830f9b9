// Package stripepay implements payments.Gateway on top of Stripe Checkout.
package stripepay

import (
	"context"
	"encoding/json"
	"fmt"
	"print-order-service/internal/payments"
	"strings"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/checkout/session"
	"github.com/stripe/stripe-go/v81/webhook"
)

type Conf struct {
	sessions      *session.Client
	webhookSecret string
}

// NewConf builds a gateway bound to one API key. The key is kept on the client instead of the global stripe.Key.
func NewConf(secretKey, webhookSecret string) (*Conf, error) {
	if secretKey == "" {
		return nil, fmt.Errorf("stripe secret key is empty")
	}
	if webhookSecret == "" {
		return nil, fmt.Errorf("stripe webhook secret is empty")
	}
	return &Conf{
		sessions:      &session.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey},
		webhookSecret: webhookSecret,
	}, nil
}

var _ payments.Gateway = (*Conf)(nil)

func (c *Conf) CreateSession(ctx context.Context, req payments.SessionRequest) (payments.Session, error) {
	params := sessionParams(req)
	params.Context = ctx

	s, err := c.sessions.New(params)
	if err != nil {
		return payments.Session{}, fmt.Errorf("create checkout session: %w", err)
	}
	return payments.Session{ID: s.ID, URL: s.URL}, nil
}

func sessionParams(req payments.SessionRequest) *stripe.CheckoutSessionParams {
	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.LineItems))
	for _, li := range req.LineItems {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(li.Name),
		}
		if li.ImageURL != "" {
			product.Images = stripe.StringSlice([]string{li.ImageURL})
		}
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(strings.ToLower(li.Currency)),
				ProductData: product,
				UnitAmount:  stripe.Int64(li.UnitAmount),
			},
			Quantity: stripe.Int64(li.Quantity),
		})
	}

	params := &stripe.CheckoutSessionParams{
		LineItems:  lineItems,
		Mode:       stripe.String(req.Mode),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	if len(req.PaymentMethodTypes) > 0 {
		params.PaymentMethodTypes = stripe.StringSlice(req.PaymentMethodTypes)
	}
	if req.ClientReferenceID != "" {
		params.ClientReferenceID = stripe.String(req.ClientReferenceID)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	return params
}

// ParseEvent checks the Stripe-Signature header against the exact bytes received, then decodes the event.
func (c *Conf) ParseEvent(payload []byte, sigHeader string) (payments.Event, error) {
	if err := webhook.ValidatePayload(payload, sigHeader, c.webhookSecret); err != nil {
		return payments.Event{}, fmt.Errorf("%w: %w", payments.ErrSignature, err)
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return payments.Event{}, fmt.Errorf("decode event: %w", err)
	}
	return decodeEvent(event)
}

func decodeEvent(event stripe.Event) (payments.Event, error) {
	out := payments.Event{ID: event.ID, Type: payments.EventType(event.Type)}
	if event.Data == nil {
		return out, nil
	}

	switch out.Type {
	case payments.EventCheckoutCompleted:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return out, fmt.Errorf("decode checkout session: %w", err)
		}
		out.SessionID = s.ID
		out.Metadata = s.Metadata
		if s.PaymentIntent != nil {
			out.PaymentIntentID = s.PaymentIntent.ID
		}

	case payments.EventPaymentFailed, payments.EventPaymentSucceeded:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return out, fmt.Errorf("decode payment intent: %w", err)
		}
		out.PaymentIntentID = pi.ID
		out.Metadata = pi.Metadata

	case payments.EventChargeRefunded:
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return out, fmt.Errorf("decode charge: %w", err)
		}
		out.ChargeID = ch.ID
		out.Amount = ch.Amount
		out.AmountRefunded = ch.AmountRefunded
		if ch.PaymentIntent != nil {
			out.PaymentIntentID = ch.PaymentIntent.ID
		}
		if ch.Refunds != nil {
			for _, r := range ch.Refunds.Data {
				if r != nil && r.ID != "" {
					out.RefundIDs = append(out.RefundIDs, r.ID)
				}
			}
		}
	}
	return out, nil
}
