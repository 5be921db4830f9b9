// Package checkout opens hosted payment sessions for orders.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"print-order-service/internal/orders"
	"print-order-service/internal/payments"
	"print-order-service/pkg/ctxmanage"
	"print-order-service/pkg/logkey"
	"strings"

	"github.com/shopspring/decimal"
)

// OrderCreator persists a new order together with its items.
type OrderCreator interface {
	CreateOrder(ctx context.Context, in orders.NewOrder) (orders.Order, error)
}

type Builder struct {
	store   orders.Store
	creator OrderCreator
	gateway payments.Gateway
	appURL  string
}

type Result struct {
	OrderID     string `json:"order_id,omitempty"`
	RedirectURL string `json:"url"`
	SessionID   string `json:"session_id"`
}

// paymentMethods are offered on every hosted page.
var paymentMethods = []string{"card"}

func NewBuilder(store orders.Store, creator OrderCreator, gateway payments.Gateway, appURL string) (*Builder, error) {
	if store == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if creator == nil {
		return nil, fmt.Errorf("order creator is nil")
	}
	if gateway == nil {
		return nil, fmt.Errorf("payment gateway is nil")
	}
	if _, err := url.ParseRequestURI(appURL); err != nil {
		return nil, fmt.Errorf("invalid app url %q: %w", appURL, err)
	}
	return &Builder{store: store, creator: creator, gateway: gateway, appURL: strings.TrimRight(appURL, "/")}, nil
}

// StartCheckout opens a hosted payment session for the order and stores the session id on it.
// The order status is left alone; it only changes when the gateway reports the outcome.
func (b *Builder) StartCheckout(ctx context.Context, orderID string) (Result, error) {
	if strings.TrimSpace(orderID) == "" {
		return Result{}, fmt.Errorf("%w: missing order id", orders.ErrValidation)
	}

	o, err := b.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			return Result{}, fmt.Errorf("order %s: %w", orderID, orders.ErrNotFound)
		}
		return Result{}, fmt.Errorf("%w: failed to fetch order: %w", orders.ErrStore, err)
	}
	if len(o.Items) == 0 {
		return Result{}, fmt.Errorf("%w: order %s has no items", orders.ErrValidation, orderID)
	}
	return b.openSession(ctx, o)
}

// CreateAndStart stores a pending order for a signed-in buyer and opens its payment session in
// one call. The total is computed from the items; any declared total is ignored. When the
// gateway fails the order is kept and its id is still returned so checkout can be retried.
func (b *Builder) CreateAndStart(ctx context.Context, in orders.NewOrder) (Result, error) {
	if in.UserID == nil || strings.TrimSpace(*in.UserID) == "" {
		return Result{}, fmt.Errorf("%w: user_id is required", orders.ErrValidation)
	}
	if len(in.Items) == 0 {
		return Result{}, fmt.Errorf("%w: at least one item is required", orders.ErrValidation)
	}
	in.TotalPrice = Total(in.Items)

	o, err := b.creator.CreateOrder(ctx, in)
	if err != nil {
		return Result{}, err
	}
	res, err := b.openSession(ctx, o)
	if err != nil {
		return Result{OrderID: o.ID}, err
	}
	return res, nil
}

// openSession creates the hosted page for o and records the session id on the order.
// The order status is left alone.
func (b *Builder) openSession(ctx context.Context, o orders.Order) (Result, error) {
	traceId := ctxmanage.GetTraceId(ctx)
	orderID := o.ID

	req := payments.SessionRequest{
		LineItems:          LineItems(o),
		Mode:               payments.ModePayment,
		PaymentMethodTypes: paymentMethods,
		SuccessURL:         b.redirectURL("success", orderID),
		CancelURL:          b.redirectURL("cancel", orderID),
		ClientReferenceID:  orderID,
		Metadata:           map[string]string{"order_id": orderID},
	}
	if o.UserID != nil {
		req.Metadata["user_id"] = *o.UserID
	}

	sess, err := b.gateway.CreateSession(ctx, req)
	if err != nil {
		slog.Error("error creating checkout session", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.OrderID, orderID), slog.String(logkey.ERROR, err.Error()))
		return Result{}, fmt.Errorf("%w: %w", orders.ErrGateway, err)
	}

	// No rollback here: the order outlives a failed write and a new session can be started.
	if _, err := b.store.UpdateOrder(ctx, orderID, orders.Patch{PaymentSessionRef: orders.Some(&sess.ID)}); err != nil {
		slog.Error("failed to store checkout session on order", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.OrderID, orderID), slog.String("SessionID", sess.ID), slog.String(logkey.ERROR, err.Error()))
		return Result{}, fmt.Errorf("%w: failed to store payment session: %w", orders.ErrStore, err)
	}

	slog.Info("checkout session created", slog.String(logkey.TraceID, traceId),
		slog.String(logkey.OrderID, orderID), slog.String("SessionID", sess.ID))
	return Result{OrderID: orderID, RedirectURL: sess.URL, SessionID: sess.ID}, nil
}

// Total sums price times quantity over items, a zero quantity counting as one.
func Total(items []orders.ItemSpec) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		qty := it.Quantity
		if qty == 0 {
			qty = 1
		}
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(qty))))
	}
	return total
}

// LineItems maps each order item to a gateway line item priced in minor units.
func LineItems(o orders.Order) []payments.LineItem {
	currency := o.Currency
	if currency == "" {
		currency = orders.DefaultCurrency
	}
	out := make([]payments.LineItem, 0, len(o.Items))
	for _, it := range o.Items {
		qty := it.Quantity
		if qty == 0 {
			qty = 1
		}
		out = append(out, payments.LineItem{
			Name:       it.Title,
			ImageURL:   it.ImageURL,
			Currency:   strings.ToLower(currency),
			UnitAmount: MinorUnits(it.Price),
			Quantity:   int64(qty),
		})
	}
	return out
}

// MinorUnits converts a major-unit amount to cents, rounding half up.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func (b *Builder) redirectURL(outcome, orderID string) string {
	return fmt.Sprintf("%s/checkout/%s?order_id=%s", b.appURL, outcome, url.QueryEscape(orderID))
}
