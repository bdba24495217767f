package kafka

import (
	"context"
	"encoding/json"

	"github.com/mktdigital/marketplace-backend/models"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher is what the reconciliation service depends on; tests swap in
// an in-memory implementation.
type EventPublisher interface {
	SendPaymentEvent(ctx context.Context, event models.PaymentEvent) error
}

type PaymentEventProducer struct {
	writer *kafka.Writer
	topic  string
	logger *zap.Logger
}

func NewPaymentEventProducer(brokers []string, topic string, logger *zap.Logger) *PaymentEventProducer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	logger.Info("kafka producer initialized",
		zap.String("topic", topic),
		zap.Strings("brokers", brokers),
	)
	return &PaymentEventProducer{writer: w, topic: topic, logger: logger}
}

// SendPaymentEvent publishes one event keyed by transaction reference so all
// outcomes of a payment attempt land in the same partition, in order.
func (p *PaymentEventProducer) SendPaymentEvent(ctx context.Context, event models.PaymentEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(event.Reference),
		Value: data,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("failed to send payment event",
			zap.String("type", event.Type),
			zap.String("reference", event.Reference),
			zap.Error(err),
		)
		return err
	}

	p.logger.Info("payment event sent",
		zap.String("type", event.Type),
		zap.String("reference", event.Reference),
	)
	return nil
}

func (p *PaymentEventProducer) Close() {
	_ = p.writer.Close()
	p.logger.Info("kafka producer closed", zap.String("topic", p.topic))
}
