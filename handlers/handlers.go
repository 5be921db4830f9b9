package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"print-order-service/internal/auth"
	"print-order-service/internal/checkout"
	"print-order-service/internal/orders"
	"print-order-service/internal/webhook"
	"print-order-service/middleware"
	"print-order-service/pkg/logkey"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	maxBodyBytes        = int64(1 << 20)
	maxWebhookBodyBytes = int64(65536)
	defaultOpTimeout    = 5 * time.Second
)

type Handler struct {
	o          *orders.Conf
	checkout   *checkout.Builder
	reconciler *webhook.Reconciler
	validate   *validator.Validate
	opTimeout  time.Duration
}

func NewHandler(o *orders.Conf, b *checkout.Builder, rec *webhook.Reconciler, opTimeout time.Duration) *Handler {
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}
	v := validator.New()
	// Report json names in validation errors.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return &Handler{
		o:          o,
		checkout:   b,
		reconciler: rec,
		validate:   v,
		opTimeout:  opTimeout,
	}
}

func API(endpointPrefix string, k *auth.Keys, h *Handler) *gin.Engine {
	r := gin.New()
	mode := os.Getenv("GIN_MODE")
	if mode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	} else if mode != gin.TestMode {
		gin.SetMode(gin.DebugMode)
	}
	m, err := middleware.NewMid(k)
	if err != nil {
		panic(err)
	}

	r.Use(middleware.Logger(), middleware.Metrics(), gin.Recovery())

	r.GET("/ping", HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group(endpointPrefix)
	{
		v1.POST("/orders", h.CreateOrder)
		v1.GET("/orders", h.ListOrders)
		v1.GET("/orders/:id", h.GetOrder)
		v1.POST("/checkout/:order_id/start", h.StartCheckout)
		v1.POST("/create-checkout-session", h.CreateCheckoutSession)
		v1.POST("/webhooks/payment", h.Webhook)
	}

	admin := r.Group(endpointPrefix)
	{
		admin.Use(m.Authentication())
		admin.PATCH("/orders/:id", m.Authorize(h.UpdateOrder, auth.RoleAdmin))
		admin.GET("/order-items", m.Authorize(h.ListOrderItems, auth.RoleAdmin))
		admin.POST("/order-items", m.Authorize(h.AddOrderItem, auth.RoleAdmin))
		admin.PATCH("/order-items/:id", m.Authorize(h.UpdateOrderItem, auth.RoleAdmin))
		admin.DELETE("/order-items/:id", m.Authorize(h.DeleteOrderItem, auth.RoleAdmin))
	}
	return r
}

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
	})
}

// opContext bounds a single store or gateway call made on behalf of the request.
func (h *Handler) opContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.opTimeout)
}

// decodeJSON reads exactly one JSON value into dst, rejecting unknown fields.
func decodeJSON(c *gin.Context, dst any) error {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// validationMessage turns the first validator failure into a short client-facing message.
func validationMessage(err error) string {
	var vErrs validator.ValidationErrors
	if !errors.As(err, &vErrs) || len(vErrs) == 0 {
		return http.StatusText(http.StatusBadRequest)
	}
	vErr := vErrs[0]
	field := vErr.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch vErr.Tag() {
	case "required":
		return field + " value missing"
	case "min", "gte":
		return field + " value is less than " + vErr.Param()
	default:
		return field + " is invalid"
	}
}

// respondError maps an error class to a status code. Store and gateway failures
// carry the underlying message in details for operators.
func respondError(c *gin.Context, traceId string, err error, msg string) {
	switch {
	case errors.Is(err, orders.ErrValidation):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, orders.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, orders.ErrGateway):
		slog.Error(msg, slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "payment provider error", "details": err.Error()})
	default:
		slog.Error(msg, slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": msg, "details": err.Error()})
	}
}

// queryInt returns the integer query parameter key, or def when it is absent.
func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", orders.ErrValidation, key)
	}
	return n, nil
}
