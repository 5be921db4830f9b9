package orders

import "errors"

// Error classes surfaced to callers. Wrap them with fmt.Errorf("%w: ...") and test with errors.Is.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrStore      = errors.New("store error")
	ErrGateway    = errors.New("gateway error")
)
