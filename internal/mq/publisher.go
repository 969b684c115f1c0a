package mq

import (
	"context"
	"encoding/json"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/strategy-repository/internal/telemetry"
)

// Результаты публикации для метрик.
const (
	publishOK        = "ok"
	publishRejected  = "rejected"
	publishNoChannel = "no_channel"
)

// PublishEvent публикует data в topic.
//
// Возвращает true, если брокер принял сообщение. При отсутствии канала
// или отказе брокера возвращает false и *PublishError; повторной
// попытки и локальной буферизации нет.
func (b *Bus) PublishEvent(ctx context.Context, topic string, data any) (bool, error) {
	if _, err := b.Publish(ctx, topic, data); err != nil {
		return false, err
	}
	return true, nil
}

// Publish публикует data в topic и возвращает отправленный конверт.
func (b *Bus) Publish(ctx context.Context, topic string, data any) (*Envelope, error) {
	if topic == "" {
		return nil, &PublishError{Topic: topic, Err: ErrEmptyTopic}
	}

	env, err := NewEnvelope(topic, data, b.metadata())
	if err != nil {
		return nil, &PublishError{Topic: topic, Err: err}
	}

	body, err := json.Marshal(env)
	if err != nil {
		return nil, &PublishError{Topic: topic, EventID: env.EventID, Err: err}
	}

	err = b.conn.WithChannel(ctx, func(ch AMQPChannel) error {
		return ch.PublishWithContext(
			ctx,
			b.exchange, // exchange
			topic,      // routing key
			false,      // mandatory
			false,      // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    env.EventID,
				Timestamp:    env.Timestamp,
				Type:         topic,
				AppId:        b.source,
				Body:         body,
			},
		)
	})
	if err != nil {
		result := publishRejected
		if errors.Is(err, ErrNoChannel) {
			result = publishNoChannel
		}
		telemetry.EventsPublished.WithLabelValues(topic, result).Inc()

		b.logger.Warn("publish failed",
			"topic", topic,
			"event_id", env.EventID,
			"error", err,
		)
		return nil, &PublishError{Topic: topic, EventID: env.EventID, Err: err}
	}

	telemetry.EventsPublished.WithLabelValues(topic, publishOK).Inc()
	b.logger.Debug("published event",
		"exchange", b.exchange,
		"topic", topic,
		"event_id", env.EventID,
	)

	return env, nil
}
