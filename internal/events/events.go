// Package events publishes settled trades to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/lugondev/rwa-example-privy.io-sub002/internal/ledger"
	"github.com/lugondev/rwa-example-privy.io-sub002/internal/model"
)

// TypeTradeSettled tags settlement notifications.
const TypeTradeSettled = "trade_settled"

// Settlement is the payload published after a settlement commits.
type Settlement struct {
	Type            string            `json:"type"`
	Trade           model.TradeEvent  `json:"trade"`
	Order           model.OrderRecord `json:"order"`
	ResultingShares decimal.Decimal   `json:"resulting_shares"`
	AverageCost     decimal.Decimal   `json:"average_cost"`
}

// NewSettlement builds the notification for a ledger result.
func NewSettlement(res *ledger.Result) Settlement {
	return Settlement{
		Type:            TypeTradeSettled,
		Trade:           res.TradeEvent,
		Order:           res.OrderRecord,
		ResultingShares: res.ResultingShares,
		AverageCost:     res.AverageCost,
	}
}

// Publisher delivers settlement notifications. Delivery is best effort and
// happens after commit; a failure never undoes a settlement.
type Publisher interface {
	PublishSettlement(ctx context.Context, s Settlement) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) PublishSettlement(context.Context, Settlement) error { return nil }
func (Nop) Close() error                                        { return nil }

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes settlements to a topic keyed by asset ID, so every
// consumer sees one asset's trades in commit order.
type KafkaPublisher struct {
	w       MessageWriter
	timeout time.Duration
}

// NewKafkaPublisher creates a publisher writing to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return NewKafkaPublisherWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           5 * time.Second,
		MaxAttempts:            3,
		AllowAutoTopicCreation: true,
	})
}

// NewKafkaPublisherWithWriter wraps an existing writer.
func NewKafkaPublisherWithWriter(w MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{w: w, timeout: 5 * time.Second}
}

func (p *KafkaPublisher) PublishSettlement(ctx context.Context, s Settlement) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("events: marshal settlement %s: %w", s.Trade.ID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(s.Trade.AssetID),
		Value: data,
		Time:  s.Trade.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(s.Type)},
			{Key: "trade-id", Value: []byte(s.Trade.ID)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: publish settlement %s: %w", s.Trade.ID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }
