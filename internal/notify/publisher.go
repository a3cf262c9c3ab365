package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"github.com/vendorhub/fulfillment-service/internal/order"
)

const EventOrderStatusChanged = "OrderStatusChanged"

// Envelope is the wire format of the status-change feed. Events for one
// order share a partition key so consumers observe them in order.
type Envelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Producer   string          `json:"producer"`
	Payload    json.RawMessage `json:"payload"`
}

type StatusChangedPayload struct {
	OrderID uuid.UUID `json:"order_id"`
	From    string    `json:"from,omitempty"`
	To      string    `json:"to"`
}

// Publisher pushes authoritative status writes onto the external feed.
// Writes are fire-and-forget: a broker failure is logged and never fails
// the originating operation.
type Publisher struct {
	w       *kafka.Writer
	service string
}

func NewPublisher(brokers []string, topic, service string) *Publisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        true,
	}
	w.Completion = func(messages []kafka.Message, err error) {
		if err != nil {
			log.Error().Err(err).Int("messages", len(messages)).Msg("notify: failed to publish status events")
		}
	}
	return &Publisher{w: w, service: service}
}

// OrderStatusChanged implements order.StatusNotifier.
func (p *Publisher) OrderStatusChanged(ctx context.Context, orderID uuid.UUID, from, to order.Status) {
	eventID, err := uuid.NewV4()
	if err != nil {
		log.Error().Err(err).Msg("notify: failed to generate event id")
		return
	}

	payload, err := json.Marshal(StatusChangedPayload{OrderID: orderID, From: string(from), To: string(to)})
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("notify: failed to marshal payload")
		return
	}
	value, err := json.Marshal(Envelope{
		EventID:    eventID.String(),
		EventType:  EventOrderStatusChanged,
		OccurredAt: time.Now().UTC(),
		Producer:   p.service,
		Payload:    payload,
	})
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("notify: failed to marshal envelope")
		return
	}

	err = p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(orderID.String()),
		Value: value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "x-event-type", Value: []byte(EventOrderStatusChanged)},
		},
	})
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("notify: failed to enqueue status event")
	}
}

func (p *Publisher) Close() error {
	return p.w.Close()
}
