package logkey

// Attribute keys shared by every slog call in the service.
const (
	TraceID   = "TRACE ID"
	ERROR     = "ERROR"
	OrderID   = "OrderID"
	UserID    = "UserID"
	ItemID    = "ItemID"
	EventID   = "EventID"
	EventType = "EventType"
	Status    = "Status"
	Severity  = "severity"
)
