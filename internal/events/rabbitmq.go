package events

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// RabbitSink publishes each event type to its own durable queue named
// {prefix}_{type}, with dots replaced by underscores.
type RabbitSink struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	prefix   string
	declared map[string]bool
}

// NewRabbitSink dials the broker and opens a channel.
func NewRabbitSink(url, prefix string) (*RabbitSink, error) {
	if url == "" {
		return nil, fmt.Errorf("RabbitMQ URL cannot be empty")
	}
	if prefix == "" {
		prefix = "leadflow"
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("could not open RabbitMQ channel: %w", err)
	}
	log.Info().Str("prefix", prefix).Msg("RabbitMQ connection established")
	return &RabbitSink{conn: conn, channel: ch, prefix: prefix, declared: map[string]bool{}}, nil
}

func (s *RabbitSink) Name() string { return "rabbitmq" }

// QueueName returns the queue an event type is routed to.
func QueueName(prefix string, t Type) string {
	return prefix + "_" + strings.ReplaceAll(strings.ToLower(string(t)), ".", "_")
}

func (s *RabbitSink) Publish(ctx context.Context, ev *Event, body []byte) error {
	queue := QueueName(s.prefix, ev.Type)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.declared[queue] {
		_, err := s.channel.QueueDeclare(
			queue,
			true,  // durable
			false, // auto-delete
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			log.Error().Err(err).Str("queue", queue).Msg("Could not declare RabbitMQ queue")
			return err
		}
		s.declared[queue] = true
	}

	err := s.channel.PublishWithContext(ctx,
		"",    // exchange (default)
		queue, // routing key = queue
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    ev.ID,
			Type:         string(ev.Type),
			Timestamp:    ev.OccurredAt,
			Body:         body,
		},
	)
	if err != nil {
		log.Error().Err(err).Str("queue", queue).Str("eventID", ev.ID).Msg("Could not publish to RabbitMQ")
		return err
	}
	log.Debug().Str("queue", queue).Str("eventID", ev.ID).Msg("Published event to RabbitMQ")
	return nil
}

func (s *RabbitSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel != nil {
		s.channel.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
