// Package feed publishes execution events to a Kafka topic for market-data
// consumers. The producer is optional; the engine runs fine without it.
package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"skoll/internal/common"
)

const publishTimeout = 5 * time.Second

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// ReportEvent publishes one event keyed by the affected order id, so all
// events for one order land in the same partition, in order.
func (p *Producer) ReportEvent(ev common.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	key := ev.OrderID.Bytes()

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   key[:],
		Value: value,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
