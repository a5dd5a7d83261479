// Package broker forwards domain events to RabbitMQ so that other
// systems can follow reservations, tickets and payments.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"parkeaya/internal/log"
	"parkeaya/internal/monitoring"
	"parkeaya/internal/service"
)

// Exchange is the topic exchange events are published to. The routing
// key is the event name, for example "reservation.created".
const Exchange = "parking.events"

// Envelope is the JSON body of every published message.
type Envelope struct {
	Event      string    `json:"event"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher keeps one connection open and redials after a failed
// publish.
type Publisher struct {
	url string
	now func() time.Time

	mu   sync.Mutex
	conn *amqp.Connection
	ch   channel
	// dial opens a channel with the exchange declared.
	dial func() (*amqp.Connection, channel, error)
}

func NewPublisher(url string) *Publisher {
	p := &Publisher{url: url, now: time.Now}
	p.dial = p.connect
	return p
}

func (p *Publisher) connect() (*amqp.Connection, channel, error) {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, nil, fmt.Errorf("dialing broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("opening channel: %w", err)
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declaring exchange: %w", err)
	}
	return conn, ch, nil
}

// HandleEvent is a bus subscriber. Failures are logged.
func (p *Publisher) HandleEvent(ctx context.Context, e service.Event) {
	if err := p.Publish(ctx, e); err != nil {
		monitoring.TrackNotificationFailure("amqp")
		log.Warn(ctx, "publishing event failed", log.Str("event", e.EventName()), log.Err(err))
	}
}

func (p *Publisher) Publish(ctx context.Context, e service.Event) error {
	msg, err := p.message(e)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		conn, ch, err := p.dial()
		if err != nil {
			return err
		}
		p.conn, p.ch = conn, ch
	}
	if err := p.ch.PublishWithContext(ctx, Exchange, e.EventName(), false, false, msg); err != nil {
		p.reset()
		return fmt.Errorf("publishing %s: %w", e.EventName(), err)
	}
	return nil
}

func (p *Publisher) message(e service.Event) (amqp.Publishing, error) {
	now := p.now().UTC()
	body, err := json.Marshal(Envelope{Event: e.EventName(), OccurredAt: now, Data: e})
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encoding %s: %w", e.EventName(), err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    now,
		Type:         e.EventName(),
		Body:         body,
	}, nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}

// Close drops the connection.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
}
