package orders

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the payment/fulfilment state of an order.
type Status string

const (
	StatusPending           Status = "pending"
	StatusProcessing        Status = "processing"
	StatusPaid              Status = "paid"
	StatusFulfilled         Status = "fulfilled"
	StatusCancelled         Status = "cancelled"
	StatusRefunded          Status = "refunded"
	StatusPartiallyRefunded Status = "partially_refunded"
	StatusFailed            Status = "failed"
	StatusPaymentFailed     Status = "payment_failed"
)

// ManualStatuses are the statuses an operator may set through UpdateOrderStatus.
// paid, payment_failed and partially_refunded are reached only through gateway events.
var ManualStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusFulfilled,
	StatusCancelled,
	StatusRefunded,
	StatusFailed,
}

func (s Status) Manual() bool {
	return slices.Contains(ManualStatuses, s)
}

// OrderType tells whether the prints were generated by the customer or picked from curated art.
type OrderType string

const (
	TypeGenerated OrderType = "generated"
	TypeCurated   OrderType = "curated"
)

func (t OrderType) Valid() bool {
	return t == TypeGenerated || t == TypeCurated
}

// SupportedCurrencies is the currency allow-list for new orders.
var SupportedCurrencies = []string{"USD"}

const DefaultCurrency = "USD"

// Order represents an order row joined with its items
type Order struct {
	ID                string           `json:"id"`                  // uuid generated at creation
	UserID            *string          `json:"user_id"`             // nil for guest orders
	Type              *OrderType       `json:"type"`                // generated or curated
	TotalPrice        decimal.Decimal  `json:"total_price"`         // caller-declared total in major units
	Currency          string           `json:"currency"`            // ISO code, upper case
	Status            Status           `json:"status"`              // see Status constants
	PaymentSessionRef *string          `json:"payment_session_ref"` // checkout session or payment intent id
	RefundAmount      *decimal.Decimal `json:"refund_amount"`       // refunded so far in major units
	RefundRef         *string          `json:"refund_ref"`          // first refund id reported by the gateway
	PrintfulOrderID   *string          `json:"printful_order_id"`   // print partner order, set when fulfilment was placed up front
	CreatedAt         time.Time        `json:"created_at"`
	Items             []OrderItem      `json:"order_items"`
}

// OrderItem is a single purchasable line: a print in a given size and frame.
type OrderItem struct {
	ID         string          `json:"id"`
	OrderID    string          `json:"order_id"`
	Type       string          `json:"type"`
	Title      string          `json:"title"`
	ImageURL   string          `json:"image_url"`
	TemplateID *string         `json:"template_id"`
	Size       string          `json:"size"`
	Frame      *string         `json:"frame"`
	Quantity   int             `json:"quantity"`
	Price      decimal.Decimal `json:"price"` // unit price in major units
	CreatedAt  time.Time       `json:"created_at"`
}

// LineTotal is price times quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ItemSpec describes an item to be added to an order.
type ItemSpec struct {
	Type       string
	Title      string
	ImageURL   string
	TemplateID *string
	Size       string
	Frame      *string
	Quantity   int // 0 means 1
	Price      decimal.Decimal
}

// NewOrder is the input of CreateOrder.
type NewOrder struct {
	UserID            *string
	Type              *OrderType
	Items             []ItemSpec
	TotalPrice        decimal.Decimal
	Currency          string // empty means DefaultCurrency
	PaymentSessionRef *string
	PrintfulOrderID   *string
}

// StatusUpdate is the privileged partial update applied by UpdateOrderStatus.
type StatusUpdate struct {
	Status            Optional[Status]
	PaymentSessionRef Optional[*string]
}

// Patch is the set of order columns a store update may touch. Only fields with Set are written.
// A non-empty OnlyFrom restricts the update to rows whose current status is listed;
// other rows count as not matched.
type Patch struct {
	Status            Optional[Status]
	PaymentSessionRef Optional[*string]
	RefundAmount      Optional[decimal.Decimal]
	RefundRef         Optional[*string]

	OnlyFrom []Status
}

// Allows reports whether the precondition admits an order currently in status s.
func (p Patch) Allows(s Status) bool {
	return len(p.OnlyFrom) == 0 || slices.Contains(p.OnlyFrom, s)
}

func (p Patch) Empty() bool {
	return !p.Status.Set && !p.PaymentSessionRef.Set && !p.RefundAmount.Set && !p.RefundRef.Set
}

// ItemPatch is a partial update of an order item.
type ItemPatch struct {
	Type       Optional[string]
	Title      Optional[string]
	ImageURL   Optional[string]
	TemplateID Optional[*string]
	Size       Optional[string]
	Frame      Optional[*string]
	Quantity   Optional[int]
	Price      Optional[decimal.Decimal]
}

func (p ItemPatch) Empty() bool {
	return !p.Type.Set && !p.Title.Set && !p.ImageURL.Set && !p.TemplateID.Set &&
		!p.Size.Set && !p.Frame.Set && !p.Quantity.Set && !p.Price.Set
}

// ItemFilter narrows ListItems. Empty strings mean no filter.
type ItemFilter struct {
	OrderID  string
	Type     string
	Page     int
	PageSize int
}
