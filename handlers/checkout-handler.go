package handlers

import (
	"log/slog"
	"net/http"
	"print-order-service/internal/orders"
	"print-order-service/pkg/ctxmanage"
	"print-order-service/pkg/logkey"

	"github.com/gin-gonic/gin"
)

type checkoutSessionRequest struct {
	UserID   string            `json:"user_id" validate:"required"`
	Type     *orders.OrderType `json:"type"`
	Items    []itemRequest     `json:"items" validate:"required,min=1,dive"`
	Currency string            `json:"currency"`
}

// StartCheckout opens a hosted payment page for an existing order.
func (h *Handler) StartCheckout(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	ctx, cancel := h.opContext(c)
	defer cancel()
	res, err := h.checkout.StartCheckout(ctx, c.Param("order_id"))
	if err != nil {
		respondError(c, traceId, err, "failed to create checkout session")
		return
	}
	c.JSON(http.StatusOK, res)
}

// CreateCheckoutSession stores a pending order from a cart and returns its hosted payment page.
func (h *Handler) CreateCheckoutSession(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	var req checkoutSessionRequest
	if err := decodeJSON(c, &req); err != nil {
		slog.Error("json validation error", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		slog.Error("validation failed", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": validationMessage(err)})
		return
	}

	in := orders.NewOrder{
		UserID:   &req.UserID,
		Type:     req.Type,
		Currency: req.Currency,
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, it.toItem())
	}

	ctx, cancel := h.opContext(c)
	defer cancel()
	res, err := h.checkout.CreateAndStart(ctx, in)
	if err != nil {
		if res.OrderID != "" {
			slog.Warn("order kept without a payment session", slog.String(logkey.TraceID, traceId),
				slog.String(logkey.OrderID, res.OrderID))
		}
		respondError(c, traceId, err, "failed to create checkout session")
		return
	}
	c.JSON(http.StatusOK, res)
}
