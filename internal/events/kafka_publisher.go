package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/akylbek/payment-system/agentpay"
)

// TopicTransactionResolved receives one message per terminal approval outcome
const TopicTransactionResolved = "agentpay.transaction.resolved"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes outcome events keyed by transaction ID
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher takes a comma-separated broker list
func NewKafkaPublisher(brokers string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokerAddrs(brokers)...),
			Topic:    TopicTransactionResolved,
			Balancer: &kafka.Hash{},
		},
	}
}

func brokerAddrs(brokers string) []string {
	var addrs []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	return addrs
}

func (p *KafkaPublisher) Publish(ctx context.Context, event agentpay.OutcomeEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.TransactionID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "outcome", Value: []byte(event.Outcome)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to write outcome event: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
