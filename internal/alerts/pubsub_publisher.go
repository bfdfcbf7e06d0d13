package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
)

// ReconciliationAlert describes an order that finished finalization with one
// or more failed post-payment steps. Operations staff replay the failed steps
// from this message.
type ReconciliationAlert struct {
	OrderID     string    `json:"orderId"`
	UserID      string    `json:"userId"`
	PaymentRef  string    `json:"paymentRef"`
	FailedSteps []string  `json:"failedSteps"`
	Detail      string    `json:"detail,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// Publisher delivers reconciliation alerts. Implementations must be safe for
// concurrent use.
type Publisher interface {
	PublishReconciliationAlert(ctx context.Context, alert ReconciliationAlert) (string, error)
}

// PubSubPublisher publishes reconciliation alerts to a Pub/Sub topic.
type PubSubPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubPublisher constructs a Pub/Sub backed alert publisher.
func NewPubSubPublisher(topic *pubsub.Topic) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub alert publisher: topic is required")
	}
	return &PubSubPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishReconciliationAlert enqueues the alert and returns the message id.
func (p *PubSubPublisher) PublishReconciliationAlert(ctx context.Context, alert ReconciliationAlert) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub alert publisher: not initialised")
	}

	data, err := p.marshal(alert)
	if err != nil {
		return "", fmt.Errorf("marshal reconciliation alert: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "orderId", alert.OrderID)
	setAttr(attrs, "userId", alert.UserID)
	setAttr(attrs, "paymentRef", alert.PaymentRef)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish reconciliation alert: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

// Ensure the concrete type satisfies the publisher interface.
var _ Publisher = (*PubSubPublisher)(nil)
