package handlers

import (
	"log/slog"
	"net/http"
	"print-order-service/internal/orders"
	"print-order-service/pkg/ctxmanage"
	"print-order-service/pkg/logkey"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type itemRequest struct {
	Type       string          `json:"type"`
	Title      string          `json:"title" validate:"required"`
	ImageURL   string          `json:"image_url"`
	TemplateID *string         `json:"template_id"`
	Size       string          `json:"size"`
	Frame      *string         `json:"frame"`
	Quantity   int             `json:"quantity" validate:"gte=0"`
	Price      decimal.Decimal `json:"price"`
}

func (r itemRequest) toItem() orders.ItemSpec {
	return orders.ItemSpec{
		Type:       r.Type,
		Title:      r.Title,
		ImageURL:   r.ImageURL,
		TemplateID: r.TemplateID,
		Size:       r.Size,
		Frame:      r.Frame,
		Quantity:   r.Quantity,
		Price:      r.Price,
	}
}

type createOrderRequest struct {
	UserID            *string           `json:"user_id"`
	Type              *orders.OrderType `json:"type"`
	Items             []itemRequest     `json:"items" validate:"required,min=1,dive"`
	TotalPrice        decimal.Decimal   `json:"total_price"`
	Currency          string            `json:"currency"`
	PaymentSessionRef *string           `json:"payment_session_ref"`
	PrintfulOrderID   *string           `json:"printful_order_id"`
}

type updateOrderRequest struct {
	Status            orders.Optional[orders.Status] `json:"status"`
	PaymentSessionRef orders.Optional[*string]       `json:"payment_session_ref"`
}

func (h *Handler) CreateOrder(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	var req createOrderRequest
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
		UserID:            req.UserID,
		Type:              req.Type,
		TotalPrice:        req.TotalPrice,
		Currency:          req.Currency,
		PaymentSessionRef: req.PaymentSessionRef,
		PrintfulOrderID:   req.PrintfulOrderID,
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, it.toItem())
	}

	ctx, cancel := h.opContext(c)
	defer cancel()
	o, err := h.o.CreateOrder(ctx, in)
	if err != nil {
		respondError(c, traceId, err, "failed to create order")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order": o})
}

func (h *Handler) ListOrders(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	page, err := queryInt(c, "page", 1)
	if err != nil {
		respondError(c, traceId, err, "")
		return
	}
	pageSize, err := queryInt(c, "page_size", orders.DefaultPageSize)
	if err != nil {
		respondError(c, traceId, err, "")
		return
	}

	ctx, cancel := h.opContext(c)
	defer cancel()
	list, err := h.o.ListOrders(ctx, c.Query("user_id"), page, pageSize)
	if err != nil {
		respondError(c, traceId, err, "failed to fetch orders")
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list, "page": page, "page_size": pageSize})
}

func (h *Handler) GetOrder(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	ctx, cancel := h.opContext(c)
	defer cancel()
	o, err := h.o.GetOrder(ctx, c.Param("id"))
	if err != nil {
		respondError(c, traceId, err, "failed to fetch order")
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
}

// UpdateOrder is the operator override for status and payment reference.
func (h *Handler) UpdateOrder(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	var req updateOrderRequest
	if err := decodeJSON(c, &req); err != nil {
		slog.Error("json validation error", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := h.opContext(c)
	defer cancel()
	o, err := h.o.UpdateOrderStatus(ctx, c.Param("id"), orders.StatusUpdate{
		Status:            req.Status,
		PaymentSessionRef: req.PaymentSessionRef,
	})
	if err != nil {
		respondError(c, traceId, err, "failed to update order")
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
}
