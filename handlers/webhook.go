package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"print-order-service/internal/orders"
	"print-order-service/internal/payments"
	"print-order-service/pkg/ctxmanage"
	"print-order-service/pkg/logkey"

	"github.com/gin-gonic/gin"
)

const signatureHeader = "Stripe-Signature"

// Webhook receives payment provider events. The body is read raw because the
// signature covers the exact bytes sent.
func (h *Handler) Webhook(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	// Limit the request body size
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		slog.Error("failed to read webhook body", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	ctx, cancel := h.opContext(c)
	defer cancel()
	ack, err := h.reconciler.HandleWebhook(ctx, payload, c.GetHeader(signatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrSignature):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "webhook signature verification failed"})
		case errors.Is(err, orders.ErrStore):
			respondError(c, traceId, err, "failed to apply payment event")
		default:
			respondError(c, traceId, err, "failed to handle payment event")
		}
		return
	}
	c.JSON(http.StatusOK, ack)
}
