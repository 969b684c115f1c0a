package mq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shaiso/strategy-repository/internal/telemetry"
)

// Значения по умолчанию для шины.
const (
	DefaultSource   = "strategy-repository"
	DefaultVersion  = "1.0.0"
	DefaultPrefetch = 1
)

// Bus — шина событий поверх topic exchange.
//
// Публикация: PublishEvent / Publish.
// Подписка: SubscribeToEvent — одна durable очередь {prefix}_{topic} на топик.
// Потребление переживает переподключение Connection без повторной подписки.
type Bus struct {
	conn            *Connection
	exchange        string
	prefix          string
	source          string
	version         string
	prefetch        int
	maxRedeliveries int
	logger          *slog.Logger
	tracker         *redeliveryTracker

	mu        sync.Mutex
	consumers []*consumer
	closed    bool
	wg        sync.WaitGroup
}

// BusConfig — конфигурация Bus.
type BusConfig struct {
	// Conn — менеджер соединения (обязателен).
	Conn *Connection

	// Exchange — если пусто, берётся из Conn.
	Exchange string

	// QueuePrefix — префикс имён очередей.
	QueuePrefix string

	// Source и Version попадают в metadata каждого конверта.
	Source  string
	Version string

	// Prefetch — количество сообщений без ack на consumer (default: 1).
	Prefetch int

	// MaxRedeliveries — после стольких неудач сообщение уходит в DLQ.
	// 0 — без ограничения: сообщение возвращается в очередь бесконечно.
	MaxRedeliveries int

	Logger *slog.Logger
}

// NewBus создаёт шину событий.
func NewBus(cfg BusConfig) *Bus {
	exchange := cfg.Exchange
	if exchange == "" && cfg.Conn != nil {
		exchange = cfg.Conn.Exchange()
	}

	source := cfg.Source
	if source == "" {
		source = DefaultSource
	}

	version := cfg.Version
	if version == "" {
		version = DefaultVersion
	}

	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = DefaultPrefetch
	}

	maxRedeliveries := cfg.MaxRedeliveries
	if maxRedeliveries < 0 {
		maxRedeliveries = 0
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Bus{
		conn:            cfg.Conn,
		exchange:        exchange,
		prefix:          cfg.QueuePrefix,
		source:          source,
		version:         version,
		prefetch:        prefetch,
		maxRedeliveries: maxRedeliveries,
		logger:          logger,
		tracker:         newRedeliveryTracker(maxTrackedDeliveries),
	}
}

// Conn возвращает менеджер соединения шины.
func (b *Bus) Conn() *Connection {
	return b.conn
}

// QueueName возвращает имя очереди подписки на topic.
func (b *Bus) QueueName(topic string) string {
	return QueueName(b.prefix, topic)
}

// SubscribeToEvent подписывает handler на topic.
//
// Если соединение установлено, очередь объявляется и привязывается
// синхронно, ошибка возвращается вызывающему. Иначе подписка ждёт
// подключения в фоне. Потребление останавливается отменой ctx или Disconnect.
func (b *Bus) SubscribeToEvent(ctx context.Context, topic string, handler Handler) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	if handler == nil {
		return fmt.Errorf("subscribe %s: nil handler", topic)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	b.mu.Unlock()

	cctx, cancel := context.WithCancel(ctx)
	c := &consumer{
		bus:     b,
		topic:   topic,
		queue:   b.QueueName(topic),
		handler: handler,
		cancel:  cancel,
		logger:  telemetry.WithTopic(b.logger, topic).With("queue", b.QueueName(topic)),
	}

	// Подписка на сигналы до setup, чтобы не пропустить переподключение.
	signals, unsubscribe := b.conn.Subscribe(8)

	var stream *deliveryStream
	if b.conn.IsConnected() {
		s, err := c.setup(cctx)
		if err != nil {
			unsubscribe()
			cancel()
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		stream = s
	} else {
		c.logger.Warn("not connected, subscription deferred until connect")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		unsubscribe()
		cancel()
		return ErrBusClosed
	}
	b.consumers = append(b.consumers, c)
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		defer unsubscribe()
		c.run(cctx, stream, signals)
	}()

	return nil
}

// Disconnect останавливает потребителей и закрывает соединение.
// Повторный вызов ничего не делает.
func (b *Bus) Disconnect() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	consumers := b.consumers
	b.consumers = nil
	b.mu.Unlock()

	for _, c := range consumers {
		c.cancel()
	}
	b.wg.Wait()

	b.logger.Info("event bus stopped", "consumers", len(consumers))

	return b.conn.Disconnect()
}

func (b *Bus) metadata() map[string]any {
	return map[string]any{
		"source":  b.source,
		"version": b.version,
	}
}
