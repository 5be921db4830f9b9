package stripepay

import (
	"print-order-service/internal/payments"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81/webhook"
)

const testSecret = "whsec_test_secret"

func sign(t *testing.T, payload string) (body []byte, header string) {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func newTestConf(t *testing.T) *Conf {
	t.Helper()
	c, err := NewConf("sk_test_123", testSecret)
	require.NoError(t, err)
	return c
}

func TestNewConf_RequiresSecrets(t *testing.T) {
	_, err := NewConf("", testSecret)
	require.Error(t, err)
	_, err = NewConf("sk_test_123", "")
	require.Error(t, err)
}

func TestParseEvent_CheckoutCompleted(t *testing.T) {
	c := newTestConf(t)
	body, header := sign(t, `{
		"id": "evt_1", "object": "event", "type": "checkout.session.completed",
		"data": {"object": {"id": "cs_1", "object": "checkout.session", "payment_intent": "pi_1",
			"metadata": {"order_id": "order-1"}}}
	}`)

	ev, err := c.ParseEvent(body, header)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, payments.EventCheckoutCompleted, ev.Type)
	assert.Equal(t, "cs_1", ev.SessionID)
	assert.Equal(t, "pi_1", ev.PaymentIntentID)
	assert.Equal(t, "order-1", ev.Metadata["order_id"])
}

func TestParseEvent_ChargeRefunded(t *testing.T) {
	c := newTestConf(t)
	body, header := sign(t, `{
		"id": "evt_2", "object": "event", "type": "charge.refunded",
		"data": {"object": {"id": "ch_1", "object": "charge", "amount": 2500, "amount_refunded": 1000,
			"payment_intent": "pi_1",
			"refunds": {"object": "list", "data": [{"id": "re_1", "object": "refund"}, {"id": "re_2", "object": "refund"}]}}}
	}`)

	ev, err := c.ParseEvent(body, header)
	require.NoError(t, err)
	assert.Equal(t, payments.EventChargeRefunded, ev.Type)
	assert.Equal(t, "ch_1", ev.ChargeID)
	assert.Equal(t, "pi_1", ev.PaymentIntentID)
	assert.EqualValues(t, 2500, ev.Amount)
	assert.EqualValues(t, 1000, ev.AmountRefunded)
	assert.Equal(t, []string{"re_1", "re_2"}, ev.RefundIDs)
}

func TestParseEvent_PaymentIntent(t *testing.T) {
	c := newTestConf(t)
	body, header := sign(t, `{"id": "evt_3", "object": "event", "type": "payment_intent.payment_failed",
		"data": {"object": {"id": "pi_9", "object": "payment_intent"}}}`)

	ev, err := c.ParseEvent(body, header)
	require.NoError(t, err)
	assert.Equal(t, payments.EventPaymentFailed, ev.Type)
	assert.Equal(t, "pi_9", ev.PaymentIntentID)
}

func TestParseEvent_TamperedBody(t *testing.T) {
	c := newTestConf(t)
	body, header := sign(t, `{"id": "evt_1", "object": "event", "type": "checkout.session.completed",
		"data": {"object": {"id": "cs_1", "metadata": {"order_id": "order-1"}}}}`)

	tampered := append([]byte{}, body...)
	tampered[len(tampered)-3] = ' '

	_, err := c.ParseEvent(tampered, header)
	require.ErrorIs(t, err, payments.ErrSignature)
}

func TestParseEvent_TamperedInvalidJSON(t *testing.T) {
	c := newTestConf(t)
	_, header := sign(t, `{"id": "evt_1"}`)

	_, err := c.ParseEvent([]byte(`not json at all`), header)
	require.ErrorIs(t, err, payments.ErrSignature)
}

func TestParseEvent_MissingOrWrongSignature(t *testing.T) {
	c := newTestConf(t)
	body, _ := sign(t, `{"id": "evt_1", "object": "event", "type": "charge.refunded"}`)

	_, err := c.ParseEvent(body, "")
	require.ErrorIs(t, err, payments.ErrSignature)

	other := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: body, Secret: "whsec_someone_else", Timestamp: time.Now(),
	})
	_, err = c.ParseEvent(body, other.Header)
	require.ErrorIs(t, err, payments.ErrSignature)
}

func TestParseEvent_UnknownTypeIsDecoded(t *testing.T) {
	c := newTestConf(t)
	body, header := sign(t, `{"id": "evt_7", "object": "event", "type": "customer.created",
		"data": {"object": {"id": "cus_1", "object": "customer"}}}`)

	ev, err := c.ParseEvent(body, header)
	require.NoError(t, err)
	assert.Equal(t, payments.EventType("customer.created"), ev.Type)
	assert.Empty(t, ev.PaymentIntentID)
}

func TestSessionParams(t *testing.T) {
	params := sessionParams(payments.SessionRequest{
		LineItems: []payments.LineItem{
			{Name: "Neon Koi", ImageURL: "https://img/koi.png", Currency: "USD", UnitAmount: 1000, Quantity: 2},
			{Name: "Moon Fox", Currency: "usd", UnitAmount: 500, Quantity: 1},
		},
		Mode:               payments.ModePayment,
		PaymentMethodTypes: []string{"card"},
		SuccessURL:         "https://prints.example.com/checkout/success?order_id=order-1",
		CancelURL:          "https://prints.example.com/checkout/cancel?order_id=order-1",
		ClientReferenceID:  "order-1",
		Metadata:           map[string]string{"order_id": "order-1", "user_id": "user-1"},
	})

	require.Len(t, params.PaymentMethodTypes, 1)
	assert.Equal(t, "card", *params.PaymentMethodTypes[0])
	assert.Equal(t, "payment", *params.Mode)
	assert.Equal(t, "order-1", *params.ClientReferenceID)
	assert.Equal(t, map[string]string{"order_id": "order-1", "user_id": "user-1"}, params.Metadata)

	require.Len(t, params.LineItems, 2)
	first := params.LineItems[0]
	assert.Equal(t, "usd", *first.PriceData.Currency)
	assert.EqualValues(t, 1000, *first.PriceData.UnitAmount)
	assert.EqualValues(t, 2, *first.Quantity)
	require.Len(t, first.PriceData.ProductData.Images, 1)
	assert.Equal(t, "https://img/koi.png", *first.PriceData.ProductData.Images[0])
	assert.Empty(t, params.LineItems[1].PriceData.ProductData.Images)
}

func TestSessionParams_NoPaymentMethodsLeavesGatewayDefault(t *testing.T) {
	params := sessionParams(payments.SessionRequest{Mode: payments.ModePayment})
	assert.Nil(t, params.PaymentMethodTypes)
	assert.Nil(t, params.ClientReferenceID)
}
