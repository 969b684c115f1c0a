package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/strategy-repository/internal/telemetry"
)

// reconnectPoll — как часто consumer проверяет соединение, если сигнал потерян.
const reconnectPoll = time.Second

// Handler — функция обработки события.
// Возвращает error, если обработка не удалась (сообщение будет nack).
type Handler func(ctx context.Context, d *Delivery) error

// Delivery — доставленное событие.
type Delivery struct {
	// Envelope — распарсенный конверт.
	Envelope *Envelope

	// Topic — топик подписки.
	Topic string

	// Raw — сырое AMQP сообщение.
	Raw amqp.Delivery
}

// Data возвращает полезную нагрузку события.
func (d *Delivery) Data() []byte {
	if d.Envelope == nil {
		return nil
	}
	return d.Envelope.Data
}

type deliveryStream struct {
	tag        string
	deliveries <-chan amqp.Delivery
}

// consumer потребляет одну очередь подписки.
type consumer struct {
	bus     *Bus
	topic   string
	queue   string
	handler Handler
	cancel  context.CancelFunc
	logger  *slog.Logger
}

// run — основной цикл потребления.
// Переживает переподключения: после SignalConnected очередь подписывается заново.
func (c *consumer) run(ctx context.Context, stream *deliveryStream, signals <-chan Signal) {
	for {
		if stream == nil {
			s, err := c.setup(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !errors.Is(err, ErrNoChannel) {
					c.logger.Error("failed to setup consume", "error", err)
				}
				if !c.waitReconnect(ctx, signals) {
					return
				}
				continue
			}
			stream = s
		}

		c.logger.Info("consumer started", "consumer_tag", stream.tag)

		c.processDeliveries(ctx, stream.deliveries)
		if ctx.Err() != nil {
			c.stop(stream.tag)
			return
		}

		c.logger.Warn("deliveries channel closed, waiting for reconnect")
		stream = nil

		if !c.waitReconnect(ctx, signals) {
			return
		}
	}
}

// setup настраивает prefetch, объявляет очередь и начинает потребление.
func (c *consumer) setup(ctx context.Context) (*deliveryStream, error) {
	tag := fmt.Sprintf("%s-%s", c.queue, uuid.NewString()[:8])

	var deliveries <-chan amqp.Delivery
	err := c.bus.conn.WithChannel(ctx, func(ch AMQPChannel) error {
		if err := ch.Qos(c.bus.prefetch, 0, false); err != nil {
			return fmt.Errorf("set qos: %w", err)
		}

		if _, err := declareSubscription(ch, c.bus.exchange, c.bus.prefix, c.topic); err != nil {
			return err
		}

		d, err := ch.Consume(
			c.queue, // queue
			tag,     // consumer tag
			false,   // auto-ack (мы ack вручную)
			false,   // exclusive
			false,   // no-local
			false,   // no-wait
			nil,     // args
		)
		if err != nil {
			return fmt.Errorf("consume: %w", err)
		}
		deliveries = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &deliveryStream{tag: tag, deliveries: deliveries}, nil
}

// waitReconnect ждёт SignalConnected. false — если ctx отменён.
func (c *consumer) waitReconnect(ctx context.Context, signals <-chan Signal) bool {
	ticker := time.NewTicker(reconnectPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case s := <-signals:
			switch s {
			case SignalConnected:
				c.logger.Info("reconnected, restarting consumer")
				return true
			case SignalMaxReconnectAttemptsReached:
				c.logger.Error("broker unavailable, consumer idle until manual connect")
			}
		case <-ticker.C:
			if c.bus.conn.IsConnected() {
				return true
			}
		}
	}
}

// processDeliveries обрабатывает сообщения, пока канал доставки открыт.
func (c *consumer) processDeliveries(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return

		case raw, ok := <-deliveries:
			if !ok {
				return
			}

			// Остановлены: сообщение без ack вернётся в очередь при закрытии канала.
			if ctx.Err() != nil {
				return
			}

			c.handleDelivery(ctx, raw)
		}
	}
}

// handleDelivery обрабатывает одно сообщение.
func (c *consumer) handleDelivery(ctx context.Context, raw amqp.Delivery) {
	env, err := DecodeEnvelope(raw.Body)
	if err != nil {
		c.logger.Error("failed to decode envelope",
			"message_id", raw.MessageId,
			"error", err,
			"body", truncate(raw.Body, 512),
		)
		c.reject(raw, telemetry.OutcomeDecodeError)
		return
	}
	if env.EventType == "" {
		env.EventType = c.topic
	}

	logger := telemetry.WithEventID(c.logger, env.EventID, env.EventType)
	logger.Debug("received event", "redelivered", raw.Redelivered)

	delivery := &Delivery{
		Envelope: env,
		Topic:    c.topic,
		Raw:      raw,
	}

	if err := c.invoke(telemetry.WithLogger(ctx, logger), delivery); err != nil {
		if ctx.Err() != nil {
			// Остановка consumer не считается неудачей доставки.
			logger.Warn("handler interrupted by shutdown, message requeued", "error", err)
			c.requeue(raw)
			return
		}
		logger.Warn("event rejected", "error", err)
		c.reject(raw, telemetry.OutcomeNack)
		return
	}

	c.bus.tracker.forget(raw)
	if err := raw.Ack(false); err != nil {
		logger.Warn("ack failed", "error", err)
		return
	}
	telemetry.EventsConsumed.WithLabelValues(c.topic, telemetry.OutcomeAck).Inc()
}

// invoke вызывает handler; паника превращается в ошибку.
func (c *consumer) invoke(ctx context.Context, d *Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler(ctx, d)
}

// reject возвращает сообщение в очередь или, при исчерпании
// MaxRedeliveries, отправляет его в dead-letter exchange.
func (c *consumer) reject(raw amqp.Delivery, outcome string) {
	if limit := c.bus.maxRedeliveries; limit > 0 {
		if failures := c.bus.tracker.fail(raw); failures >= limit {
			c.bus.tracker.forget(raw)
			if err := raw.Nack(false, false); err != nil {
				c.logger.Warn("nack failed", "error", err)
				return
			}
			c.logger.Warn("message dead-lettered",
				"message_id", raw.MessageId,
				"failures", failures,
				"dead_letter_queue", DeadLetterQueue(c.bus.prefix),
			)
			telemetry.EventsConsumed.WithLabelValues(c.topic, telemetry.OutcomeDeadLetter).Inc()
			return
		}
	}

	if err := raw.Nack(false, true); err != nil {
		c.logger.Warn("nack failed", "error", err)
		return
	}
	telemetry.EventsConsumed.WithLabelValues(c.topic, outcome).Inc()
}

// requeue возвращает сообщение в очередь без учёта в MaxRedeliveries.
func (c *consumer) requeue(raw amqp.Delivery) {
	if err := raw.Nack(false, true); err != nil {
		c.logger.Warn("nack failed", "error", err)
		return
	}
	telemetry.EventsConsumed.WithLabelValues(c.topic, telemetry.OutcomeRequeue).Inc()
}

// stop отменяет consumer tag, если канал ещё жив.
func (c *consumer) stop(tag string) {
	err := c.bus.conn.WithChannel(context.Background(), func(ch AMQPChannel) error {
		return ch.Cancel(tag, false)
	})
	if err != nil && !errors.Is(err, ErrNoChannel) && !errors.Is(err, amqp.ErrClosed) {
		c.logger.Debug("cancel consumer failed", "consumer_tag", tag, "error", err)
	}
	c.logger.Info("consumer stopped", "consumer_tag", tag)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
