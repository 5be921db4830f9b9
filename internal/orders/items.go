package orders

import (
	"context"
	"fmt"
	"log/slog"
	"print-order-service/pkg/ctxmanage"
	"print-order-service/pkg/logkey"
	"strings"
)

const DefaultItemPageSize = 20

// Item administration. None of these recompute the owning order's total.

func (c *Conf) ListItems(ctx context.Context, f ItemFilter) ([]OrderItem, error) {
	offset, limit, err := window(f.Page, f.PageSize)
	if err != nil {
		return nil, err
	}
	items, err := c.store.ListItems(ctx, f, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch order items: %w", ErrStore, err)
	}
	return items, nil
}

func (c *Conf) AddItem(ctx context.Context, orderID string, spec ItemSpec) (OrderItem, error) {
	if strings.TrimSpace(orderID) == "" || spec.Type == "" || spec.Title == "" || spec.ImageURL == "" || spec.Size == "" {
		return OrderItem{}, fmt.Errorf("%w: missing required fields", ErrValidation)
	}
	if !spec.Price.IsPositive() {
		return OrderItem{}, fmt.Errorf("%w: price must be positive", ErrValidation)
	}
	if !centPrecise(spec.Price) {
		return OrderItem{}, fmt.Errorf("%w: price must have at most %d decimal places", ErrValidation, MoneyScale)
	}
	if spec.Quantity < 0 {
		return OrderItem{}, fmt.Errorf("%w: quantity must be at least 1", ErrValidation)
	}

	if _, err := c.store.GetOrder(ctx, orderID); err != nil {
		return OrderItem{}, classify(err, "failed to fetch order")
	}

	inserted, err := c.store.InsertItems(ctx, []OrderItem{newItemRow(orderID, spec)})
	if err != nil {
		return OrderItem{}, fmt.Errorf("%w: failed to add order item: %w", ErrStore, err)
	}
	if len(inserted) != 1 {
		return OrderItem{}, fmt.Errorf("%w: failed to add order item: %d rows returned", ErrStore, len(inserted))
	}

	slog.Info("order item added", slog.String(logkey.TraceID, ctxmanage.GetTraceId(ctx)),
		slog.String(logkey.OrderID, orderID), slog.String(logkey.ItemID, inserted[0].ID))
	return inserted[0], nil
}

func (c *Conf) UpdateItem(ctx context.Context, id string, p ItemPatch) (OrderItem, error) {
	if strings.TrimSpace(id) == "" {
		return OrderItem{}, fmt.Errorf("%w: missing order item id", ErrValidation)
	}
	if p.Empty() {
		return OrderItem{}, fmt.Errorf("%w: no valid fields to update", ErrValidation)
	}
	if q, ok := p.Quantity.Get(); ok && q < 1 {
		return OrderItem{}, fmt.Errorf("%w: quantity must be at least 1", ErrValidation)
	}
	if pr, ok := p.Price.Get(); ok && !pr.IsPositive() {
		return OrderItem{}, fmt.Errorf("%w: price must be positive", ErrValidation)
	}
	if pr, ok := p.Price.Get(); ok && !centPrecise(pr) {
		return OrderItem{}, fmt.Errorf("%w: price must have at most %d decimal places", ErrValidation, MoneyScale)
	}
	if t, ok := p.Title.Get(); ok && strings.TrimSpace(t) == "" {
		return OrderItem{}, fmt.Errorf("%w: title must not be empty", ErrValidation)
	}

	item, err := c.store.UpdateItem(ctx, id, p)
	if err != nil {
		return OrderItem{}, classify(err, "failed to update order item")
	}
	return item, nil
}

func (c *Conf) DeleteItem(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: missing order item id", ErrValidation)
	}
	if err := c.store.DeleteItem(ctx, id); err != nil {
		return classify(err, "failed to delete order item")
	}
	slog.Info("order item deleted", slog.String(logkey.TraceID, ctxmanage.GetTraceId(ctx)), slog.String(logkey.ItemID, id))
	return nil
}
