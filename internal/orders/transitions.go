package orders

import "slices"

// Gateway-driven transitions. Each target lists the statuses it may be entered from;
// re-entering the same status is allowed so redelivered events are harmless.
// fulfilled and cancelled are reached only through UpdateOrderStatus. A refunded order still
// accepts later partial-refund reports so their amount and reference are recorded.
var gatewayTransitions = map[Status][]Status{
	StatusPaid:              {StatusPending, StatusProcessing, StatusPaymentFailed, StatusPaid},
	StatusPaymentFailed:     {StatusPending, StatusProcessing, StatusPaymentFailed},
	StatusRefunded:          {StatusPaid, StatusFulfilled, StatusCancelled, StatusPartiallyRefunded, StatusRefunded},
	StatusPartiallyRefunded: {StatusPaid, StatusFulfilled, StatusCancelled, StatusPartiallyRefunded, StatusRefunded},
}

// GatewaySources returns the statuses from which a gateway event may move an order to target.
func GatewaySources(target Status) []Status {
	return gatewayTransitions[target]
}

// CanTransition reports whether a gateway event may move an order from one status to another.
func CanTransition(from, to Status) bool {
	return slices.Contains(gatewayTransitions[to], from)
}
