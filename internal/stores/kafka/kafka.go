package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"print-order-service/internal/orders"
	"print-order-service/pkg/ctxmanage"
	"print-order-service/pkg/logkey"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

const (
	TopicOrderCreated       = `order-service.order-created`
	TopicOrderStatusChanged = `order-service.order-status-changed`
)

const flushTimeout = 10 * time.Second

// producer is the part of *kgo.Client used here.
type producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Flush(ctx context.Context) error
	Close()
}

type Conf struct {
	client producer
}

func NewConf(brokers []string, clientID string) (*Conf, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.AllowAutoTopicCreation(),
		kgo.RecordRetries(3),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Conf{client: client}, nil
}

var _ orders.Publisher = (*Conf)(nil)

// PublishOrderEvent routes ev by kind, keyed by order id so one order's events stay ordered.
// The record is buffered and sent in the background. Broker failures are logged, not returned,
// so callers never wait on kafka.
func (c *Conf) PublishOrderEvent(ctx context.Context, ev orders.Event) error {
	topic, err := topicFor(ev.Kind)
	if err != nil {
		return err
	}
	jsonData, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Kind, err)
	}

	traceId := ctxmanage.GetTraceId(ctx)
	rec := &kgo.Record{Topic: topic, Key: []byte(ev.OrderID), Value: jsonData}
	// The record outlives the request that produced it.
	c.client.Produce(context.WithoutCancel(ctx), rec, func(_ *kgo.Record, err error) {
		if err != nil {
			slog.Error("failed to publish order event",
				slog.String(logkey.TraceID, traceId),
				slog.String(logkey.OrderID, ev.OrderID),
				slog.String("Topic", topic),
				slog.String(logkey.ERROR, err.Error()))
		}
	})
	return nil
}

// Close waits for buffered records, then closes the client.
func (c *Conf) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := c.client.Flush(ctx); err != nil {
		slog.Error("kafka: flush on close failed", slog.String(logkey.ERROR, err.Error()))
	}
	c.client.Close()
}

func topicFor(kind orders.EventKind) (string, error) {
	switch kind {
	case orders.EventOrderCreated:
		return TopicOrderCreated, nil
	case orders.EventStatusChanged:
		return TopicOrderStatusChanged, nil
	}
	return "", fmt.Errorf("no topic for event kind %q", kind)
}
