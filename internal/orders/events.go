package orders

import (
	"context"
	"log/slog"
	"print-order-service/pkg/ctxmanage"
	"print-order-service/pkg/logkey"
	"time"

	"github.com/shopspring/decimal"
)

type EventKind string

const (
	EventOrderCreated  EventKind = "order.created"
	EventStatusChanged EventKind = "order.status_changed"
)

// Event sources
const (
	SourceAPI     = "api"
	SourceWebhook = "webhook"
)

// Event is published after an order is created or its status is written.
type Event struct {
	Kind       EventKind       `json:"kind"`
	OrderID    string          `json:"order_id"`
	UserID     *string         `json:"user_id,omitempty"`
	Status     Status          `json:"status"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Currency   string          `json:"currency"`
	Source     string          `json:"source"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Publisher delivers order events to downstream consumers.
type Publisher interface {
	PublishOrderEvent(ctx context.Context, ev Event) error
}

func NewEvent(kind EventKind, o Order, source string) Event {
	return Event{
		Kind:       kind,
		OrderID:    o.ID,
		UserID:     o.UserID,
		Status:     o.Status,
		TotalPrice: o.TotalPrice,
		Currency:   o.Currency,
		Source:     source,
		OccurredAt: time.Now().UTC(),
	}
}

// Publish sends ev through p and only logs failures; nil p is a no-op.
func Publish(ctx context.Context, p Publisher, ev Event) {
	if p == nil {
		return
	}
	if err := p.PublishOrderEvent(ctx, ev); err != nil {
		slog.Error("failed to publish order event", slog.String(logkey.TraceID, ctxmanage.GetTraceId(ctx)),
			slog.String(logkey.OrderID, ev.OrderID), slog.String("Kind", string(ev.Kind)), slog.String(logkey.ERROR, err.Error()))
	}
}
