package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"print-order-service/internal/auth"
	"print-order-service/internal/checkout"
	"print-order-service/internal/orders"
	"print-order-service/internal/orders/orderstest"
	"print-order-service/internal/payments"
	"print-order-service/internal/webhook"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const prefix = "/api/v1"

type fakeGateway struct {
	session payments.Session
	err     error
	event   payments.Event
}

func (g *fakeGateway) CreateSession(context.Context, payments.SessionRequest) (payments.Session, error) {
	return g.session, g.err
}

func (g *fakeGateway) ParseEvent(_ []byte, sig string) (payments.Event, error) {
	if sig != "good" {
		return payments.Event{}, payments.ErrSignature
	}
	return g.event, nil
}

type testAPI struct {
	r     *gin.Engine
	store *orderstest.MemStore
	gw    *fakeGateway
	admin string
	user  string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("GIN_MODE", gin.TestMode)

	store := orderstest.NewMemStore()
	gw := &fakeGateway{session: payments.Session{ID: "cs_test_1", URL: "https://pay.example.com/cs_test_1"}}

	svc, err := orders.NewConf(store, nil)
	require.NoError(t, err)
	b, err := checkout.NewBuilder(store, svc, gw, "https://prints.example.com")
	require.NoError(t, err)
	rec, err := webhook.NewReconciler(gw, store, nil, nil)
	require.NoError(t, err)
	k, err := auth.NewKeys("s3cret", "print-store")
	require.NoError(t, err)

	admin, err := k.GenerateToken("ops-1", time.Hour, auth.RoleAdmin)
	require.NoError(t, err)
	user, err := k.GenerateToken("user-1", time.Hour, auth.RoleUser)
	require.NoError(t, err)

	return &testAPI{
		r:     API(prefix, k, NewHandler(svc, b, rec, time.Second)),
		store: store,
		gw:    gw,
		admin: admin,
		user:  user,
	}
}

func (a *testAPI) do(method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, prefix+path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.r.ServeHTTP(w, req)
	return w
}

func (a *testAPI) seed(id string, status orders.Status) {
	user := "user-1"
	ref := "cs_" + id
	a.store.Seed(orders.Order{
		ID:                id,
		UserID:            &user,
		TotalPrice:        decimal.RequireFromString("25.00"),
		Currency:          "USD",
		Status:            status,
		PaymentSessionRef: &ref,
		CreatedAt:         time.Now().UTC(),
		Items: []orders.OrderItem{
			{ID: id + "-i1", OrderID: id, Type: "print", Title: "Neon Koi", ImageURL: "https://img/koi.png", Size: "12x16", Quantity: 2, Price: decimal.RequireFromString("10.00")},
			{ID: id + "-i2", OrderID: id, Type: "print", Title: "Moon Fox", ImageURL: "https://img/fox.png", Size: "8x10", Quantity: 1, Price: decimal.RequireFromString("5.00")},
		},
	})
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestPing(t *testing.T) {
	a := newTestAPI(t)
	w := httptest.NewRecorder()
	a.r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pong")
}

func TestCreateOrder(t *testing.T) {
	a := newTestAPI(t)

	body := `{
		"user_id": "user-1",
		"type": "curated",
		"total_price": 25,
		"printful_order_id": "pf-42",
		"items": [
			{"type": "print", "title": "Neon Koi", "image_url": "https://img/koi.png", "size": "12x16", "quantity": 2, "price": "10.00"},
			{"type": "print", "title": "Moon Fox", "image_url": "https://img/fox.png", "size": "8x10", "price": 5}
		]
	}`
	w := a.do(http.MethodPost, "/orders", body, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decodeBody[struct {
		Order orders.Order `json:"order"`
	}](t, w)
	assert.NotEmpty(t, resp.Order.ID)
	assert.Equal(t, orders.StatusPending, resp.Order.Status)
	assert.Equal(t, "USD", resp.Order.Currency)
	assert.True(t, decimal.NewFromInt(25).Equal(resp.Order.TotalPrice))
	require.NotNil(t, resp.Order.PrintfulOrderID)
	assert.Equal(t, "pf-42", *resp.Order.PrintfulOrderID)
	require.Len(t, resp.Order.Items, 2)
	assert.Equal(t, 1, resp.Order.Items[1].Quantity)
	assert.Equal(t, 1, a.store.OrderCount())
	assert.Equal(t, 2, a.store.ItemCount())
}

func TestCreateOrder_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty body", ``, "empty"},
		{"malformed", `{"items": [`, ""},
		{"unknown field", `{"items": [{"title": "a", "price": 1}], "total_price": 1, "status": "paid"}`, "unknown field"},
		{"missing items", `{"total_price": 10}`, "items value missing"},
		{"empty items", `{"items": [], "total_price": 10}`, "items"},
		{"item without title", `{"items": [{"price": 1}], "total_price": 1}`, "items[0].title"},
		{"negative quantity", `{"items": [{"title": "a", "price": 1, "quantity": -1}], "total_price": 1}`, "quantity"},
		{"bad type", `{"type": "bespoke", "items": [{"title": "a", "price": 1}], "total_price": 1}`, "invalid order type"},
		{"bad currency", `{"currency": "XYZ", "items": [{"title": "a", "price": 1}], "total_price": 1}`, "invalid currency"},
		{"zero total", `{"items": [{"title": "a", "price": 1}], "total_price": 0}`, "total_price"},
		{"sub-cent total", `{"items": [{"title": "a", "price": 1}], "total_price": 1.005}`, "decimal places"},
		{"sub-cent price", `{"items": [{"title": "a", "price": 0.333}], "total_price": 1}`, "decimal places"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAPI(t)
			w := a.do(http.MethodPost, "/orders", tt.body, "")
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), tt.want)
			assert.Equal(t, 0, a.store.OrderCount())
		})
	}
}

func TestCreateOrder_StoreFailure(t *testing.T) {
	a := newTestAPI(t)
	a.store.ErrInsertItems = errors.New("disk full")

	w := a.do(http.MethodPost, "/orders", `{"items": [{"title": "a", "price": 1}], "total_price": 1}`, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decodeBody[map[string]string](t, w)
	assert.Equal(t, "failed to create order", resp["error"])
	assert.Contains(t, resp["details"], "disk full")
	assert.Equal(t, 0, a.store.OrderCount())
}

func TestGetOrder(t *testing.T) {
	a := newTestAPI(t)
	a.seed("order-1", orders.StatusPending)

	w := a.do(http.MethodGet, "/orders/order-1", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[struct {
		Order orders.Order `json:"order"`
	}](t, w)
	assert.Equal(t, "order-1", resp.Order.ID)
	assert.Len(t, resp.Order.Items, 2)

	w = a.do(http.MethodGet, "/orders/missing", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListOrders(t *testing.T) {
	a := newTestAPI(t)
	a.seed("order-1", orders.StatusPending)
	a.seed("order-2", orders.StatusPaid)

	w := a.do(http.MethodGet, "/orders?user_id=user-1&page=1&page_size=1", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[struct {
		Orders   []orders.Order `json:"orders"`
		PageSize int            `json:"page_size"`
	}](t, w)
	assert.Len(t, resp.Orders, 1)
	assert.Equal(t, 1, resp.PageSize)

	w = a.do(http.MethodGet, "/orders?user_id=someone-else", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeBody[struct {
		Orders []orders.Order `json:"orders"`
	}](t, w).Orders)

	for _, q := range []string{"", "?user_id=user-1&page=abc", "?user_id=user-1&page=0", "?user_id=user-1&page_size=500"} {
		w = a.do(http.MethodGet, "/orders"+q, "", "")
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestUpdateOrder(t *testing.T) {
	a := newTestAPI(t)
	a.seed("order-1", orders.StatusPaid)

	w := a.do(http.MethodPatch, "/orders/order-1", `{"status": "fulfilled"}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = a.do(http.MethodPatch, "/orders/order-1", `{"status": "fulfilled"}`, a.user)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(http.MethodPatch, "/orders/order-1", `{"status": "fulfilled", "payment_session_ref": null}`, a.admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeBody[struct {
		Order orders.Order `json:"order"`
	}](t, w)
	assert.Equal(t, orders.StatusFulfilled, resp.Order.Status)
	assert.Nil(t, resp.Order.PaymentSessionRef)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"gateway only status", `{"status": "paid"}`, http.StatusBadRequest},
		{"unknown status", `{"status": "shipped"}`, http.StatusBadRequest},
		{"nothing to update", `{}`, http.StatusBadRequest},
		{"immutable field", `{"total_price": 1}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := a.do(http.MethodPatch, "/orders/order-1", tt.body, a.admin)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}

	w = a.do(http.MethodPatch, "/orders/missing", `{"status": "cancelled"}`, a.admin)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartCheckout(t *testing.T) {
	a := newTestAPI(t)
	a.seed("order-1", orders.StatusPending)

	w := a.do(http.MethodPost, "/checkout/order-1/start", "", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeBody[map[string]string](t, w)
	assert.Equal(t, "https://pay.example.com/cs_test_1", resp["url"])

	o, err := a.store.GetOrder(context.Background(), "order-1")
	require.NoError(t, err)
	require.NotNil(t, o.PaymentSessionRef)
	assert.Equal(t, "cs_test_1", *o.PaymentSessionRef)
	assert.Equal(t, orders.StatusPending, o.Status)

	w = a.do(http.MethodPost, "/checkout/missing/start", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	a.gw.err = errors.New("card network down")
	w = a.do(http.MethodPost, "/checkout/order-1/start", "", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "card network down")
}

func TestCreateCheckoutSession(t *testing.T) {
	a := newTestAPI(t)

	body := `{
		"user_id": "user-1",
		"items": [
			{"type": "print", "title": "Neon Koi", "image_url": "https://img/koi.png", "size": "12x16", "quantity": 2, "price": 10},
			{"type": "print", "title": "Moon Fox", "image_url": "https://img/fox.png", "size": "8x10", "price": "5.50"}
		]
	}`
	w := a.do(http.MethodPost, "/create-checkout-session", body, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeBody[map[string]string](t, w)
	assert.Equal(t, "https://pay.example.com/cs_test_1", resp["url"])
	require.NotEmpty(t, resp["order_id"])

	o, err := a.store.GetOrder(context.Background(), resp["order_id"])
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.True(t, decimal.RequireFromString("25.50").Equal(o.TotalPrice), o.TotalPrice.String())
	require.NotNil(t, o.PaymentSessionRef)
	assert.Equal(t, "cs_test_1", *o.PaymentSessionRef)
	assert.Len(t, o.Items, 2)
}

func TestCreateCheckoutSession_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing user", `{"items": [{"title": "a", "price": 1}]}`, "user_id value missing"},
		{"no items", `{"user_id": "user-1", "items": []}`, "items"},
		{"client total", `{"user_id": "user-1", "items": [{"title": "a", "price": 1}], "total_price": 1}`, "unknown field"},
		{"free item", `{"user_id": "user-1", "items": [{"title": "a", "price": 0}]}`, "price"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAPI(t)
			w := a.do(http.MethodPost, "/create-checkout-session", tt.body, "")
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), tt.want)
			assert.Equal(t, 0, a.store.OrderCount())
		})
	}
}

func TestCreateCheckoutSession_GatewayFailureKeepsOrder(t *testing.T) {
	a := newTestAPI(t)
	a.gw.err = errors.New("card network down")

	w := a.do(http.MethodPost, "/create-checkout-session", `{"user_id": "user-1", "items": [{"title": "a", "price": 4}]}`, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "card network down")
	assert.Equal(t, 1, a.store.OrderCount())
}

func TestWebhook(t *testing.T) {
	a := newTestAPI(t)
	a.seed("order-1", orders.StatusPending)
	a.gw.event = payments.Event{
		ID:        "evt_1",
		Type:      payments.EventCheckoutCompleted,
		SessionID: "cs_order-1",
		Metadata:  map[string]string{"order_id": "order-1"},
	}

	send := func(sig string, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, prefix+"/webhooks/payment", strings.NewReader(body))
		req.Header.Set(signatureHeader, sig)
		w := httptest.NewRecorder()
		a.r.ServeHTTP(w, req)
		return w
	}

	w := send("forged", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	o, _ := a.store.GetOrder(context.Background(), "order-1")
	assert.Equal(t, orders.StatusPending, o.Status)

	w = send("good", `{}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	ack := decodeBody[webhook.Ack](t, w)
	assert.Equal(t, webhook.OutcomeApplied, ack.Outcome)
	assert.Equal(t, []string{"order-1"}, ack.Orders)
	o, _ = a.store.GetOrder(context.Background(), "order-1")
	assert.Equal(t, orders.StatusPaid, o.Status)

	w = send("good", strings.Repeat("x", int(maxWebhookBodyBytes)+1))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	a.store.ErrUpdate = errors.New("connection reset")
	a.gw.event.ID = "evt_2"
	w = send("good", `{}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestOrderItems(t *testing.T) {
	a := newTestAPI(t)
	a.seed("order-1", orders.StatusPending)
	a.seed("order-2", orders.StatusPending)

	w := a.do(http.MethodGet, "/order-items?order_id=order-1", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = a.do(http.MethodGet, "/order-items?order_id=order-1", "", a.admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	list := decodeBody[struct {
		Items []orders.OrderItem `json:"order_items"`
	}](t, w)
	assert.Len(t, list.Items, 2)

	w = a.do(http.MethodGet, "/order-items?page_size=x", "", a.admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	add := `{"order_id": "order-1", "type": "print", "title": "Glass Heron", "image_url": "https://img/heron.png", "size": "A3", "price": "30.00"}`
	w = a.do(http.MethodPost, "/order-items", add, a.admin)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decodeBody[struct {
		Item orders.OrderItem `json:"order_item"`
	}](t, w).Item
	assert.Equal(t, 1, created.Quantity)
	assert.Equal(t, "order-1", created.OrderID)

	w = a.do(http.MethodPost, "/order-items", `{"order_id": "order-1", "title": "x", "price": 1}`, a.admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(http.MethodPost, "/order-items", strings.Replace(add, "order-1", "missing", 1), a.admin)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(http.MethodPatch, "/order-items/"+created.ID, `{"quantity": 3, "frame": "oak"}`, a.admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decodeBody[struct {
		Item orders.OrderItem `json:"order_item"`
	}](t, w).Item
	assert.Equal(t, 3, updated.Quantity)
	require.NotNil(t, updated.Frame)
	assert.Equal(t, "oak", *updated.Frame)

	w = a.do(http.MethodPatch, "/order-items/"+created.ID, `{"quantity": 0}`, a.admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = a.do(http.MethodPatch, "/order-items/"+created.ID, `{"order_id": "order-2"}`, a.admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(http.MethodDelete, "/order-items/"+created.ID, "", a.admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success": true}`, w.Body.String())

	w = a.do(http.MethodDelete, "/order-items/"+created.ID, "", a.admin)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
