// Package webhook applies payment gateway events to stored orders.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"print-order-service/internal/orders"
	"print-order-service/internal/payments"
	"print-order-service/pkg/ctxmanage"
	"print-order-service/pkg/logkey"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

var eventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Payment webhook deliveries by event type and outcome",
	},
	[]string{"type", "outcome"},
)

// Outcomes of a delivery
const (
	OutcomeRejected    = "rejected"
	OutcomeUndecodable = "undecodable"
	OutcomeDuplicate   = "duplicate"
	OutcomeIgnored     = "ignored"
	OutcomeNoop        = "noop"
	OutcomeApplied     = "applied"
	OutcomeFailed      = "failed"
)

// ReplayLog remembers event ids whose effect has already been applied.
type ReplayLog interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Remember(ctx context.Context, eventID string) error
}

// Ack is returned for every delivery the gateway should not retry.
type Ack struct {
	EventID string   `json:"event_id,omitempty"`
	Type    string   `json:"type,omitempty"`
	Outcome string   `json:"outcome"`
	Orders  []string `json:"orders,omitempty"`
}

type Reconciler struct {
	gateway payments.Gateway
	store   orders.Store
	replay  ReplayLog
	pub     orders.Publisher
}

// NewReconciler builds a reconciler. replay and pub are optional.
func NewReconciler(gateway payments.Gateway, store orders.Store, replay ReplayLog, pub orders.Publisher) (*Reconciler, error) {
	if gateway == nil {
		return nil, fmt.Errorf("payment gateway is nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store is nil")
	}
	return &Reconciler{gateway: gateway, store: store, replay: replay, pub: pub}, nil
}

// HandleWebhook verifies rawBody against signature and applies the event.
// It fails with payments.ErrSignature for unauthenticated bodies and with orders.ErrStore when a
// write fails, so the gateway retries. Everything else is acknowledged.
func (r *Reconciler) HandleWebhook(ctx context.Context, rawBody []byte, signature string) (Ack, error) {
	traceId := ctxmanage.GetTraceId(ctx)

	ev, err := r.gateway.ParseEvent(rawBody, signature)
	if err != nil {
		if errors.Is(err, payments.ErrSignature) {
			eventsTotal.WithLabelValues("unknown", OutcomeRejected).Inc()
			slog.Error("webhook signature verification failed", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
			return Ack{}, err
		}
		// Authentic but unreadable. A retry would carry the same bytes.
		eventsTotal.WithLabelValues(string(ev.Type), OutcomeUndecodable).Inc()
		slog.Error("failed to decode webhook event", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.EventID, ev.ID), slog.String(logkey.ERROR, err.Error()))
		return Ack{EventID: ev.ID, Type: string(ev.Type), Outcome: OutcomeUndecodable}, nil
	}

	ack := Ack{EventID: ev.ID, Type: string(ev.Type)}
	log := slog.With(slog.String(logkey.TraceID, traceId), slog.String(logkey.EventID, ev.ID), slog.String(logkey.EventType, string(ev.Type)))

	if r.seen(ctx, log, ev.ID) {
		ack.Outcome = OutcomeDuplicate
		eventsTotal.WithLabelValues(string(ev.Type), ack.Outcome).Inc()
		log.Info("webhook event already applied")
		return ack, nil
	}

	var updated []orders.Order
	switch ev.Type {
	case payments.EventCheckoutCompleted:
		updated, err = r.checkoutCompleted(ctx, log, ev)
	case payments.EventPaymentFailed:
		updated, err = r.byPaymentRef(ctx, log, ev.PaymentIntentID, orders.Patch{
			Status:   orders.Some(orders.StatusPaymentFailed),
			OnlyFrom: orders.GatewaySources(orders.StatusPaymentFailed),
		})
	case payments.EventPaymentSucceeded:
		updated, err = r.byPaymentRef(ctx, log, ev.PaymentIntentID, orders.Patch{
			Status:   orders.Some(orders.StatusPaid),
			OnlyFrom: orders.GatewaySources(orders.StatusPaid),
		})
	case payments.EventChargeRefunded:
		updated, err = r.chargeRefunded(ctx, log, ev)
	default:
		ack.Outcome = OutcomeIgnored
		eventsTotal.WithLabelValues(string(ev.Type), ack.Outcome).Inc()
		log.Info("unhandled webhook event type")
		return ack, nil
	}

	if err != nil {
		eventsTotal.WithLabelValues(string(ev.Type), OutcomeFailed).Inc()
		log.Error("failed to apply webhook event", slog.String(logkey.ERROR, err.Error()))
		return Ack{}, err
	}

	ack.Outcome = OutcomeNoop
	if len(updated) > 0 {
		ack.Outcome = OutcomeApplied
	}
	for _, o := range updated {
		ack.Orders = append(ack.Orders, o.ID)
		log.Info("order reconciled", slog.String(logkey.OrderID, o.ID), slog.String(logkey.Status, string(o.Status)))
		orders.Publish(ctx, r.pub, orders.NewEvent(orders.EventStatusChanged, o, orders.SourceWebhook))
	}
	r.remember(ctx, log, ev.ID)
	eventsTotal.WithLabelValues(string(ev.Type), ack.Outcome).Inc()
	return ack, nil
}

func (r *Reconciler) checkoutCompleted(ctx context.Context, log *slog.Logger, ev payments.Event) ([]orders.Order, error) {
	orderID := ev.Metadata["order_id"]
	if orderID == "" {
		log.Warn("checkout session without order_id metadata", slog.String("SessionID", ev.SessionID))
		return nil, nil
	}

	ref := ev.PaymentIntentID
	if ref == "" {
		ref = ev.SessionID
	}

	o, err := r.store.UpdateOrder(ctx, orderID, orders.Patch{
		Status:            orders.Some(orders.StatusPaid),
		PaymentSessionRef: orders.Some(&ref),
		OnlyFrom:          orders.GatewaySources(orders.StatusPaid),
	})
	if err == nil {
		return []orders.Order{o}, nil
	}
	if !errors.Is(err, orders.ErrNotFound) {
		return nil, fmt.Errorf("%w: failed to update order %s: %w", orders.ErrStore, orderID, err)
	}
	return r.recordPaymentRef(ctx, log, orderID, ref)
}

// recordPaymentRef stores the payment reference on an order whose status may not become paid,
// e.g. one an operator cancelled before the customer finished checkout. Later refund events
// for the captured payment are matched through that reference.
func (r *Reconciler) recordPaymentRef(ctx context.Context, log *slog.Logger, orderID, ref string) ([]orders.Order, error) {
	current, err := r.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			log.Warn("no order for checkout session", slog.String(logkey.OrderID, orderID))
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to fetch order %s: %w", orders.ErrStore, orderID, err)
	}
	if current.PaymentSessionRef != nil && *current.PaymentSessionRef == ref {
		return nil, nil
	}

	o, err := r.store.UpdateOrder(ctx, orderID, orders.Patch{PaymentSessionRef: orders.Some(&ref)})
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to update order %s: %w", orders.ErrStore, orderID, err)
	}
	log.Warn("checkout completed for an order that cannot become paid, payment reference recorded",
		slog.String(logkey.OrderID, orderID), slog.String(logkey.Status, string(o.Status)))
	return []orders.Order{o}, nil
}

func (r *Reconciler) chargeRefunded(ctx context.Context, log *slog.Logger, ev payments.Event) ([]orders.Order, error) {
	ref := ev.PaymentIntentID
	if ref == "" {
		ref = ev.ChargeID
	}

	refunded := decimal.New(ev.AmountRefunded, -2)
	total := decimal.New(ev.Amount, -2)
	status := orders.StatusPartiallyRefunded
	if refunded.Equal(total) {
		status = orders.StatusRefunded
	}

	var refundRef *string
	if len(ev.RefundIDs) > 0 {
		refundRef = &ev.RefundIDs[0]
	}

	return r.byPaymentRef(ctx, log, ref, orders.Patch{
		Status:       orders.Some(status),
		RefundAmount: orders.Some(refunded),
		RefundRef:    orders.Some(refundRef),
		OnlyFrom:     orders.GatewaySources(status),
	})
}

// byPaymentRef updates every order carrying ref. No match is not an error.
func (r *Reconciler) byPaymentRef(ctx context.Context, log *slog.Logger, ref string, p orders.Patch) ([]orders.Order, error) {
	if ref == "" {
		log.Warn("webhook event without payment reference")
		return nil, nil
	}
	updated, err := r.store.UpdateOrdersByPaymentRef(ctx, ref, p)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to update orders for payment %s: %w", orders.ErrStore, ref, err)
	}
	if len(updated) == 0 {
		log.Info("no order matches payment reference", slog.String("PaymentRef", ref))
	}
	return updated, nil
}

func (r *Reconciler) seen(ctx context.Context, log *slog.Logger, eventID string) bool {
	if r.replay == nil || eventID == "" {
		return false
	}
	ok, err := r.replay.Seen(ctx, eventID)
	if err != nil {
		log.Warn("replay log lookup failed", slog.String(logkey.ERROR, err.Error()))
		return false
	}
	return ok
}

func (r *Reconciler) remember(ctx context.Context, log *slog.Logger, eventID string) {
	if r.replay == nil || eventID == "" {
		return
	}
	if err := r.replay.Remember(ctx, eventID); err != nil {
		log.Warn("failed to record webhook event", slog.String(logkey.ERROR, err.Error()))
	}
}
