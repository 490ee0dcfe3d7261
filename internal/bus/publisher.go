package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"parking-sensor-service/internal/domain/parking"
)

// Publisher emits processed parking events to Kafka for downstream
// analytics. Optional: a nil Publisher is a no-op.
type Publisher struct {
	writer *kafka.Writer
	log    zerolog.Logger
}

func NewPublisher(brokers []string, topic string, log zerolog.Logger) *Publisher {
	if len(brokers) == 0 {
		return nil
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireOne,
			Async:        false,
			WriteTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Publish writes one event, keyed by lot and spot so per-spot ordering
// survives partitioning. Failures are logged by the caller and must
// not abort the webhook.
func (p *Publisher) Publish(ctx context.Context, event parking.Event) error {
	if p == nil {
		return nil
	}

	value, err := json.Marshal(struct {
		ID         string             `json:"id"`
		LotID      string             `json:"lot_id"`
		BookingID  *string            `json:"booking_id,omitempty"`
		SpotNumber string             `json:"spot_number"`
		EventType  parking.EventType  `json:"event_type"`
		SensorData parking.SensorData `json:"sensor_data"`
		DetectedAt time.Time          `json:"detected_at"`
	}{
		ID:         event.ID.String(),
		LotID:      event.LotID.String(),
		BookingID:  bookingIDString(event),
		SpotNumber: event.SpotNumber,
		EventType:  event.EventType,
		SensorData: event.SensorData,
		DetectedAt: event.DetectedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(fmt.Sprintf("%s:%s", event.LotID, event.SpotNumber)),
		Value: value,
	})
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}

func bookingIDString(event parking.Event) *string {
	if event.BookingID == nil {
		return nil
	}
	s := event.BookingID.String()
	return &s
}
