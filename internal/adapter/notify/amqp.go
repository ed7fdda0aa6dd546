package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"

	"github.com/rl1809/order-verification/internal/core/domain"
)

const publishTimeout = 5 * time.Second

var errConfirmClosed = errors.New("confirm channel closed")

// amqpChannel is the subset of *amqp.Channel the publisher uses.
type amqpChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes lifecycle events to a topic exchange with the
// event type as routing key. Publisher confirms are awaited per event.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  amqpChannel
	confirms chan amqp.Confirmation
	exchange string
}

func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("channel could not be put into confirm mode: %w", err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	log.Info().Str("exchange", exchange).Msg("RabbitMQ publisher ready")
	return &AMQPPublisher{conn: conn, channel: ch, confirms: confirms, exchange: exchange}, nil
}

func newAMQPPublisherWith(ch amqpChannel, confirms chan amqp.Confirmation, exchange string) *AMQPPublisher {
	return &AMQPPublisher{channel: ch, confirms: confirms, exchange: exchange}
}

func (p *AMQPPublisher) Publish(ctx context.Context, events ...domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range events {
		body, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", e.ID, err)
		}
		err = p.channel.Publish(p.exchange, string(e.Type), false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    e.ID,
			Timestamp:    e.OccurredAt,
			Body:         body,
		})
		if err != nil {
			return fmt.Errorf("publish %s: %w", e.Type, err)
		}
		if err := p.awaitConfirm(ctx); err != nil {
			return fmt.Errorf("publish %s: %w", e.Type, err)
		}
	}
	return nil
}

func (p *AMQPPublisher) awaitConfirm(ctx context.Context) error {
	if p.confirms == nil {
		return nil
	}
	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case c, open := <-p.confirms:
		if !open {
			return errConfirmClosed
		}
		if !c.Ack {
			return fmt.Errorf("broker nacked delivery %d", c.DeliveryTag)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("no confirm within %s", publishTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *AMQPPublisher) Close() error {
	err := p.channel.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
