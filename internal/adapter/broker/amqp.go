package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/burenotti/healthlog/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DefaultExchange = "healthlog.events"
	publishTimeout  = 5 * time.Second
)

var ErrPublish = errors.New("failed to publish event")

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher forwards domain events to a topic exchange, routed by event type.
type Publisher struct {
	logger   *slog.Logger
	exchange string
	conn     *amqp.Connection

	mu sync.Mutex
	ch channel
}

func Dial(url, exchange string, logger *slog.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("dial broker: %w", err), ErrPublish)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Join(fmt.Errorf("open channel: %w", err), ErrPublish)
	}

	p, err := newPublisher(ch, exchange, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, exchange string, logger *slog.Logger) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, errors.Join(fmt.Errorf("declare exchange %s: %w", exchange, err), ErrPublish)
	}

	return &Publisher{
		logger:   logger,
		exchange: exchange,
		ch:       ch,
	}, nil
}

// Handle publishes a single event. It fits messagebus.EventHandler.
func (p *Publisher) Handle(event domain.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return p.Publish(ctx, event)
}

func (p *Publisher) Publish(ctx context.Context, event domain.Event) error {
	msg, err := encode(event)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ch.PublishWithContext(ctx, p.exchange, event.Type(), false, false, msg); err != nil {
		return errors.Join(fmt.Errorf("publish %s: %w", event.Type(), err), ErrPublish)
	}
	p.logger.Debug("event published", "type", event.Type(), "exchange", p.exchange)
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.ch.Close()
	if p.conn != nil {
		err = errors.Join(err, p.conn.Close())
	}
	return err
}

func encode(event domain.Event) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, errors.Join(fmt.Errorf("marshal %s: %w", event.Type(), err), ErrPublish)
	}

	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.PublishedAt().UTC(),
		Type:         event.Type(),
		Body:         body,
	}, nil
}
