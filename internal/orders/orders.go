package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"print-order-service/pkg/ctxmanage"
	"print-order-service/pkg/logkey"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100

	// MoneyScale is the number of decimal places kept for amounts.
	MoneyScale = 2
)

type Conf struct {
	store Store
	pub   Publisher
}

// NewConf builds the order service. pub may be nil when no event sink is configured.
func NewConf(store Store, pub Publisher) (*Conf, error) {
	if store == nil {
		return nil, fmt.Errorf("store is nil")
	}
	return &Conf{store: store, pub: pub}, nil
}

// CreateOrder inserts the order and its items as one logical unit.
// The items are written in a second statement; if that fails the order row is deleted again.
func (c *Conf) CreateOrder(ctx context.Context, in NewOrder) (Order, error) {
	traceId := ctxmanage.GetTraceId(ctx)

	if err := validateNewOrder(&in); err != nil {
		return Order{}, err
	}

	// The declared total is stored as is. Disagreement with the items is only reported.
	sum := decimal.Zero
	for _, it := range in.Items {
		sum = sum.Add(it.Price.Mul(decimal.NewFromInt(int64(quantityOrDefault(it.Quantity)))))
	}
	if !sum.Equal(in.TotalPrice) {
		slog.Warn("declared total differs from item sum", slog.String(logkey.TraceID, traceId),
			slog.String("Declared", in.TotalPrice.String()), slog.String("ItemSum", sum.String()))
	}

	created, err := c.store.InsertOrder(ctx, Order{
		ID:                uuid.NewString(),
		UserID:            in.UserID,
		Type:              in.Type,
		TotalPrice:        in.TotalPrice,
		Currency:          in.Currency,
		Status:            StatusPending,
		PaymentSessionRef: in.PaymentSessionRef,
		PrintfulOrderID:   in.PrintfulOrderID,
		CreatedAt:         time.Now().UTC(),
	})
	if err != nil {
		return Order{}, fmt.Errorf("%w: failed to create order: %w", ErrStore, err)
	}

	rows := make([]OrderItem, 0, len(in.Items))
	for _, it := range in.Items {
		rows = append(rows, newItemRow(created.ID, it))
	}

	items, err := c.store.InsertItems(ctx, rows)
	if err != nil {
		slog.Error("failed to add order items, rolling back order", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.OrderID, created.ID), slog.String(logkey.ERROR, err.Error()))

		if delErr := c.store.DeleteOrder(ctx, created.ID); delErr != nil {
			// Nobody retries this; the row has to be reconciled by hand.
			slog.Error("dangling order: rollback delete failed", slog.String(logkey.Severity, "critical"),
				slog.String(logkey.TraceID, traceId), slog.String(logkey.OrderID, created.ID),
				slog.String(logkey.ERROR, delErr.Error()))
			return Order{}, fmt.Errorf("%w: failed to add order items and roll back order %s: %w", ErrStore, created.ID, errors.Join(err, delErr))
		}
		return Order{}, fmt.Errorf("%w: failed to add order items, order rolled back: %w", ErrStore, err)
	}

	created.Items = items
	slog.Info("order created", slog.String(logkey.TraceID, traceId), slog.String(logkey.OrderID, created.ID),
		slog.Int("Items", len(items)), slog.String("TotalPrice", created.TotalPrice.String()))

	Publish(ctx, c.pub, NewEvent(EventOrderCreated, created, SourceAPI))
	return created, nil
}

func (c *Conf) GetOrder(ctx context.Context, id string) (Order, error) {
	if strings.TrimSpace(id) == "" {
		return Order{}, fmt.Errorf("%w: missing order id", ErrValidation)
	}
	o, err := c.store.GetOrder(ctx, id)
	if err != nil {
		return Order{}, classify(err, "failed to fetch order")
	}
	return o, nil
}

// ListOrders returns one page of the owner's orders, newest first.
// Listing without an owner is refused so one customer never sees another's orders.
func (c *Conf) ListOrders(ctx context.Context, userID string, page, pageSize int) ([]Order, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: missing user_id", ErrValidation)
	}
	offset, limit, err := window(page, pageSize)
	if err != nil {
		return nil, err
	}
	list, err := c.store.ListOrdersByUser(ctx, userID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch orders: %w", ErrStore, err)
	}
	return list, nil
}

// UpdateOrderStatus applies an operator's status or payment reference change.
// It does not check state machine edges; callers must restrict it to privileged users.
func (c *Conf) UpdateOrderStatus(ctx context.Context, id string, up StatusUpdate) (Order, error) {
	if strings.TrimSpace(id) == "" {
		return Order{}, fmt.Errorf("%w: missing order id", ErrValidation)
	}
	if s, ok := up.Status.Get(); ok && !s.Manual() {
		return Order{}, fmt.Errorf("%w: invalid status %q, must be one of: %s", ErrValidation, s, joinStatuses(ManualStatuses))
	}

	p := Patch{Status: up.Status, PaymentSessionRef: up.PaymentSessionRef}
	if p.Empty() {
		return Order{}, fmt.Errorf("%w: no valid fields to update", ErrValidation)
	}

	o, err := c.store.UpdateOrder(ctx, id, p)
	if err != nil {
		return Order{}, classify(err, "failed to update order")
	}

	slog.Info("order updated", slog.String(logkey.TraceID, ctxmanage.GetTraceId(ctx)),
		slog.String(logkey.OrderID, o.ID), slog.String(logkey.Status, string(o.Status)))
	if up.Status.Set {
		Publish(ctx, c.pub, NewEvent(EventStatusChanged, o, SourceAPI))
	}
	return o, nil
}

func validateNewOrder(in *NewOrder) error {
	if len(in.Items) == 0 {
		return fmt.Errorf("%w: missing required items", ErrValidation)
	}
	if in.Type != nil && !in.Type.Valid() {
		return fmt.Errorf("%w: invalid order type %q, must be one of: %s, %s", ErrValidation, *in.Type, TypeGenerated, TypeCurated)
	}
	if in.Currency == "" {
		in.Currency = DefaultCurrency
	}
	if !slices.Contains(SupportedCurrencies, in.Currency) {
		return fmt.Errorf("%w: invalid currency %q, supported: %s", ErrValidation, in.Currency, strings.Join(SupportedCurrencies, ", "))
	}
	if !in.TotalPrice.IsPositive() {
		return fmt.Errorf("%w: missing or invalid total_price", ErrValidation)
	}
	if !centPrecise(in.TotalPrice) {
		return fmt.Errorf("%w: total_price must have at most %d decimal places", ErrValidation, MoneyScale)
	}
	for i, it := range in.Items {
		if strings.TrimSpace(it.Title) == "" {
			return fmt.Errorf("%w: item %d: missing title", ErrValidation, i)
		}
		if !it.Price.IsPositive() {
			return fmt.Errorf("%w: item %d: price must be positive", ErrValidation, i)
		}
		if !centPrecise(it.Price) {
			return fmt.Errorf("%w: item %d: price must have at most %d decimal places", ErrValidation, i, MoneyScale)
		}
		if it.Quantity < 0 {
			return fmt.Errorf("%w: item %d: quantity must be at least 1", ErrValidation, i)
		}
	}
	return nil
}

func newItemRow(orderID string, it ItemSpec) OrderItem {
	return OrderItem{
		ID:         uuid.NewString(),
		OrderID:    orderID,
		Type:       it.Type,
		Title:      it.Title,
		ImageURL:   it.ImageURL,
		TemplateID: it.TemplateID,
		Size:       it.Size,
		Frame:      it.Frame,
		Quantity:   quantityOrDefault(it.Quantity),
		Price:      it.Price,
		CreatedAt:  time.Now().UTC(),
	}
}

// centPrecise reports whether d fits the stored NUMERIC(12,2) scale without rounding.
func centPrecise(d decimal.Decimal) bool {
	return d.Round(MoneyScale).Equal(d)
}

func quantityOrDefault(q int) int {
	if q == 0 {
		return 1
	}
	return q
}

// window converts a 1-based page into an offset and a limit.
func window(page, pageSize int) (offset, limit int, err error) {
	if page < 1 {
		return 0, 0, fmt.Errorf("%w: page must be at least 1", ErrValidation)
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		return 0, 0, fmt.Errorf("%w: page_size must be between 1 and %d", ErrValidation, MaxPageSize)
	}
	return (page - 1) * pageSize, pageSize, nil
}

// classify keeps ErrNotFound visible and marks everything else as a storage failure.
func classify(err error, msg string) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrStore, msg, err)
}

func joinStatuses(list []Status) string {
	s := make([]string, len(list))
	for i, st := range list {
		s[i] = string(st)
	}
	return strings.Join(s, ", ")
}
