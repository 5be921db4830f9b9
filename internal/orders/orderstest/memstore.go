// Package orderstest provides an in-memory orders.Store for tests.
package orderstest

import (
	"cmp"
	"context"
	"fmt"
	"print-order-service/internal/orders"
	"slices"
	"sync"
)

// MemStore keeps orders and items in maps. The Err fields inject failures into the matching call.
type MemStore struct {
	mu     sync.Mutex
	orders map[string]orders.Order
	items  map[string]orders.OrderItem
	seq    map[string]int // insertion order of items
	next   int

	ErrInsertOrder error
	ErrInsertItems error
	ErrDeleteOrder error
	ErrGetOrder    error
	ErrUpdate      error

	Updates int // number of UpdateOrder / UpdateOrdersByPaymentRef calls
}

func NewMemStore() *MemStore {
	return &MemStore{
		orders: map[string]orders.Order{},
		items:  map[string]orders.OrderItem{},
		seq:    map[string]int{},
	}
}

var _ orders.Store = (*MemStore)(nil)

// Seed stores o and its items as is.
func (m *MemStore) Seed(o orders.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range o.Items {
		m.putItem(it)
	}
	o.Items = nil
	m.orders[o.ID] = o
}

func (m *MemStore) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *MemStore) ItemCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *MemStore) InsertOrder(_ context.Context, o orders.Order) (orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ErrInsertOrder != nil {
		return orders.Order{}, m.ErrInsertOrder
	}
	o.Items = nil
	m.orders[o.ID] = o
	return o, nil
}

func (m *MemStore) InsertItems(_ context.Context, items []orders.OrderItem) ([]orders.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ErrInsertItems != nil {
		return nil, m.ErrInsertItems
	}
	for _, it := range items {
		if _, ok := m.orders[it.OrderID]; !ok {
			return nil, fmt.Errorf("foreign key violation: order %s", it.OrderID)
		}
	}
	for _, it := range items {
		m.putItem(it)
	}
	return slices.Clone(items), nil
}

func (m *MemStore) DeleteOrder(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ErrDeleteOrder != nil {
		return m.ErrDeleteOrder
	}
	delete(m.orders, id)
	for k, it := range m.items {
		if it.OrderID == id {
			delete(m.items, k)
			delete(m.seq, k)
		}
	}
	return nil
}

func (m *MemStore) GetOrder(_ context.Context, id string) (orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ErrGetOrder != nil {
		return orders.Order{}, m.ErrGetOrder
	}
	o, ok := m.orders[id]
	if !ok {
		return orders.Order{}, fmt.Errorf("order %s: %w", id, orders.ErrNotFound)
	}
	return m.withItems(o), nil
}

func (m *MemStore) ListOrdersByUser(_ context.Context, userID string, offset, limit int) ([]orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []orders.Order
	for _, o := range m.orders {
		if o.UserID != nil && *o.UserID == userID {
			out = append(out, m.withItems(o))
		}
	}
	slices.SortFunc(out, func(a, b orders.Order) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return page(out, offset, limit), nil
}

func (m *MemStore) UpdateOrder(_ context.Context, id string, p orders.Patch) (orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Updates++
	if m.ErrUpdate != nil {
		return orders.Order{}, m.ErrUpdate
	}
	o, ok := m.orders[id]
	if !ok || !p.Allows(o.Status) {
		return orders.Order{}, fmt.Errorf("order %s: %w", id, orders.ErrNotFound)
	}
	o = apply(o, p)
	m.orders[id] = o
	return m.withItems(o), nil
}

func (m *MemStore) UpdateOrdersByPaymentRef(_ context.Context, ref string, p orders.Patch) ([]orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Updates++
	if m.ErrUpdate != nil {
		return nil, m.ErrUpdate
	}
	var out []orders.Order
	for id, o := range m.orders {
		if o.PaymentSessionRef != nil && *o.PaymentSessionRef == ref && p.Allows(o.Status) {
			o = apply(o, p)
			m.orders[id] = o
			out = append(out, m.withItems(o))
		}
	}
	return out, nil
}

func (m *MemStore) ListItems(_ context.Context, f orders.ItemFilter, offset, limit int) ([]orders.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []orders.OrderItem
	for _, it := range m.items {
		if f.OrderID != "" && it.OrderID != f.OrderID {
			continue
		}
		if f.Type != "" && it.Type != f.Type {
			continue
		}
		out = append(out, it)
	}
	slices.SortFunc(out, func(a, b orders.OrderItem) int { return cmp.Compare(m.seq[b.ID], m.seq[a.ID]) })
	return page(out, offset, limit), nil
}

func (m *MemStore) UpdateItem(_ context.Context, id string, p orders.ItemPatch) (orders.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return orders.OrderItem{}, fmt.Errorf("order item %s: %w", id, orders.ErrNotFound)
	}
	if v, ok := p.Type.Get(); ok {
		it.Type = v
	}
	if v, ok := p.Title.Get(); ok {
		it.Title = v
	}
	if v, ok := p.ImageURL.Get(); ok {
		it.ImageURL = v
	}
	if v, ok := p.TemplateID.Get(); ok {
		it.TemplateID = v
	}
	if v, ok := p.Size.Get(); ok {
		it.Size = v
	}
	if v, ok := p.Frame.Get(); ok {
		it.Frame = v
	}
	if v, ok := p.Quantity.Get(); ok {
		it.Quantity = v
	}
	if v, ok := p.Price.Get(); ok {
		it.Price = v
	}
	m.items[id] = it
	return it, nil
}

func (m *MemStore) DeleteItem(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return fmt.Errorf("order item %s: %w", id, orders.ErrNotFound)
	}
	delete(m.items, id)
	delete(m.seq, id)
	return nil
}

func (m *MemStore) withItems(o orders.Order) orders.Order {
	o.Items = nil
	for _, it := range m.items {
		if it.OrderID == o.ID {
			o.Items = append(o.Items, it)
		}
	}
	slices.SortFunc(o.Items, func(a, b orders.OrderItem) int { return cmp.Compare(m.seq[a.ID], m.seq[b.ID]) })
	return o
}

func (m *MemStore) putItem(it orders.OrderItem) {
	m.items[it.ID] = it
	m.next++
	m.seq[it.ID] = m.next
}

func apply(o orders.Order, p orders.Patch) orders.Order {
	if v, ok := p.Status.Get(); ok {
		o.Status = v
	}
	if v, ok := p.PaymentSessionRef.Get(); ok {
		o.PaymentSessionRef = v
	}
	if v, ok := p.RefundAmount.Get(); ok {
		o.RefundAmount = &v
	}
	if v, ok := p.RefundRef.Get(); ok {
		o.RefundRef = v
	}
	return o
}

func page[T any](list []T, offset, limit int) []T {
	if offset >= len(list) {
		return []T{}
	}
	end := min(offset+limit, len(list))
	return list[offset:end]
}
