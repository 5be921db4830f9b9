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

type addItemRequest struct {
	OrderID    string          `json:"order_id" validate:"required"`
	Type       string          `json:"type" validate:"required"`
	Title      string          `json:"title" validate:"required"`
	ImageURL   string          `json:"image_url" validate:"required"`
	TemplateID *string         `json:"template_id"`
	Size       string          `json:"size" validate:"required"`
	Frame      *string         `json:"frame"`
	Quantity   int             `json:"quantity" validate:"gte=0"`
	Price      decimal.Decimal `json:"price"`
}

type updateItemRequest struct {
	Type       orders.Optional[string]          `json:"type"`
	Title      orders.Optional[string]          `json:"title"`
	ImageURL   orders.Optional[string]          `json:"image_url"`
	TemplateID orders.Optional[*string]         `json:"template_id"`
	Size       orders.Optional[string]          `json:"size"`
	Frame      orders.Optional[*string]         `json:"frame"`
	Quantity   orders.Optional[int]             `json:"quantity"`
	Price      orders.Optional[decimal.Decimal] `json:"price"`
}

func (h *Handler) ListOrderItems(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	page, err := queryInt(c, "page", 1)
	if err != nil {
		respondError(c, traceId, err, "")
		return
	}
	pageSize, err := queryInt(c, "page_size", orders.DefaultItemPageSize)
	if err != nil {
		respondError(c, traceId, err, "")
		return
	}

	ctx, cancel := h.opContext(c)
	defer cancel()
	items, err := h.o.ListItems(ctx, orders.ItemFilter{
		OrderID:  c.Query("order_id"),
		Type:     c.Query("type"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		respondError(c, traceId, err, "failed to fetch order items")
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_items": items})
}

func (h *Handler) AddOrderItem(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	var req addItemRequest
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

	ctx, cancel := h.opContext(c)
	defer cancel()
	item, err := h.o.AddItem(ctx, req.OrderID, orders.ItemSpec{
		Type:       req.Type,
		Title:      req.Title,
		ImageURL:   req.ImageURL,
		TemplateID: req.TemplateID,
		Size:       req.Size,
		Frame:      req.Frame,
		Quantity:   req.Quantity,
		Price:      req.Price,
	})
	if err != nil {
		respondError(c, traceId, err, "failed to add order item")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order_item": item})
}

func (h *Handler) UpdateOrderItem(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	var req updateItemRequest
	if err := decodeJSON(c, &req); err != nil {
		slog.Error("json validation error", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := h.opContext(c)
	defer cancel()
	item, err := h.o.UpdateItem(ctx, c.Param("id"), orders.ItemPatch{
		Type:       req.Type,
		Title:      req.Title,
		ImageURL:   req.ImageURL,
		TemplateID: req.TemplateID,
		Size:       req.Size,
		Frame:      req.Frame,
		Quantity:   req.Quantity,
		Price:      req.Price,
	})
	if err != nil {
		respondError(c, traceId, err, "failed to update order item")
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_item": item})
}

func (h *Handler) DeleteOrderItem(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	ctx, cancel := h.opContext(c)
	defer cancel()
	if err := h.o.DeleteItem(ctx, c.Param("id")); err != nil {
		respondError(c, traceId, err, "failed to delete order item")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
