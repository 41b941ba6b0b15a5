package ingest

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/models"
	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/observability"
)

// EventProducer publishes normalized ride events to the ride-events topic for
// downstream consumers (notification fan-out, analytics). Best-effort: the
// stream and REST refetch remain the correctness paths.
type EventProducer struct {
	writer *kafka.Writer
}

func NewEventProducer(brokers []string, topic string) *EventProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &EventProducer{writer: w}
}

func (p *EventProducer) Publish(ev models.StreamEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, err := ev.MarshalFrame()
	if err != nil {
		return err
	}
	key := ev.RideID
	if ev.Ride != nil {
		key = ev.Ride.ID
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b}); err != nil {
		observability.KafkaPublishErrors.Inc()
		return err
	}
	return nil
}

func (p *EventProducer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
