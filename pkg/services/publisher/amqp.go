package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/de-tools/egress-meter/pkg/models/domain"
	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	defaultMaxRetries = 5
	defaultRetryDelay = 2 * time.Second
)

type amqpSink struct {
	url      string
	exchange string

	mux     sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	maxRetries int
	retryDelay time.Duration
}

// NewAMQPSink connects to the broker and declares a durable fanout
// exchange for billing events. Connection loss is handled inside
// Publish by reconnecting and retrying.
func NewAMQPSink(ctx context.Context, url, exchange string) (Sink, error) {
	s := &amqpSink{
		url:        url,
		exchange:   exchange,
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}

	s.mux.Lock()
	defer s.mux.Unlock()
	if err := s.connectLocked(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	return s, nil
}

func (s *amqpSink) connectLocked(ctx context.Context) error {
	logger := zerolog.Ctx(ctx)

	var err error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if err = s.dialLocked(); err == nil {
			return nil
		}
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", s.maxRetries).
			Msg("broker connection failed, retrying")
		if werr := wait(ctx, s.retryDelay); werr != nil {
			return werr
		}
	}
	return err
}

func (s *amqpSink) dialLocked() error {
	s.closeLocked()

	conn, err := amqp091.Dial(s.url)
	if err != nil {
		return fmt.Errorf("failed to dial broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		s.exchange,
		"fanout",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange %q: %w", s.exchange, err)
	}

	s.conn = conn
	s.channel = ch
	return nil
}

func (s *amqpSink) Publish(ctx context.Context, event domain.BillingEvent) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	logger := zerolog.Ctx(ctx)

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode billing event %s: %w", event.ID, err)
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if s.conn == nil || s.conn.IsClosed() {
			if lastErr = s.connectLocked(ctx); lastErr != nil {
				continue
			}
		}

		lastErr = s.channel.PublishWithContext(
			ctx,
			s.exchange,
			"", // fanout ignores the routing key
			false,
			false,
			amqp091.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp091.Persistent,
				MessageId:    event.ID,
				Timestamp:    time.Now().UTC(),
				Body:         body,
			},
		)
		if lastErr == nil {
			return nil
		}

		logger.Warn().
			Err(lastErr).
			Str("event_id", event.ID).
			Int("attempt", attempt).
			Msg("failed to publish billing event, reconnecting")
		s.closeLocked()
		if werr := wait(ctx, s.retryDelay); werr != nil {
			return werr
		}
	}
	return fmt.Errorf("failed to publish billing event %s after %d attempts: %w", event.ID, s.maxRetries, lastErr)
}

func (s *amqpSink) Close() error {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.closeLocked()
}

func (s *amqpSink) closeLocked() error {
	if s.channel != nil {
		if err := s.channel.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
			return err
		}
		s.channel = nil
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
			return err
		}
		s.conn = nil
	}
	return nil
}

func wait(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
