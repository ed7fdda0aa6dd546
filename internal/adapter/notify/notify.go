// Package notify publishes order lifecycle events to the message brokers.
package notify

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/rl1809/order-verification/internal/core/domain"
)

// Publisher is an event sink that owns a broker connection.
type Publisher interface {
	Publish(ctx context.Context, events ...domain.Event) error
	Close() error
}

// LogPublisher only logs events. It is used when no broker is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, events ...domain.Event) error {
	for _, e := range events {
		log.Debug().Str("type", string(e.Type)).Str("orderCode", e.OrderCode).Str("status", e.Status).Msg("lifecycle event")
	}
	return nil
}

func (LogPublisher) Close() error { return nil }

// Fanout publishes to every sink and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, events ...domain.Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, events...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}
