package orders

import "context"

// Store is the durable storage used by the order service, the checkout builder and the reconciler.
// Lookups that match nothing return an error wrapping ErrNotFound; any other error is a storage failure.
type Store interface {
	// InsertOrder writes a single order row. Items on o are ignored.
	InsertOrder(ctx context.Context, o Order) (Order, error)
	// InsertItems writes all items in one statement; either all rows are written or none.
	InsertItems(ctx context.Context, items []OrderItem) ([]OrderItem, error)
	// DeleteOrder removes the order and, through the foreign key, its items.
	DeleteOrder(ctx context.Context, id string) error
	// GetOrder returns the order joined with its items.
	GetOrder(ctx context.Context, id string) (Order, error)
	// ListOrdersByUser returns the user's orders, newest first, with items.
	ListOrdersByUser(ctx context.Context, userID string, offset, limit int) ([]Order, error)
	// UpdateOrder applies p to the order with the given id. A row filtered out by p.OnlyFrom is reported as ErrNotFound.
	UpdateOrder(ctx context.Context, id string, p Patch) (Order, error)
	// UpdateOrdersByPaymentRef applies p to every order whose payment_session_ref equals ref.
	// No match returns an empty slice and a nil error.
	UpdateOrdersByPaymentRef(ctx context.Context, ref string, p Patch) ([]Order, error)

	ListItems(ctx context.Context, f ItemFilter, offset, limit int) ([]OrderItem, error)
	UpdateItem(ctx context.Context, id string, p ItemPatch) (OrderItem, error)
	DeleteItem(ctx context.Context, id string) error
}
