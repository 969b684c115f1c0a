package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/shaiso/strategy-repository/internal/mq"
	"github.com/shaiso/strategy-repository/internal/telemetry"
)

// HandlerFunc обрабатывает поле data конверта.
type HandlerFunc func(ctx context.Context, data json.RawMessage) error

// Subscriber — источник событий (mq.Bus).
type Subscriber interface {
	SubscribeToEvent(ctx context.Context, topic string, handler mq.Handler) error
}

// Dispatcher — реестр topic → handler и единая точка вызова.
//
// Потокобезопасен.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	logger   *slog.Logger
}

// New создаёт пустой диспетчер.
func New(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}
}

// Register регистрирует обработчик топика.
// Повторная регистрация на тот же топик — ErrDuplicateHandler.
func (d *Dispatcher) Register(topic string, h HandlerFunc) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	if h == nil {
		return fmt.Errorf("register %s: nil handler", topic)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.handlers[topic]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, topic)
	}
	d.handlers[topic] = h
	return nil
}

// Has проверяет, зарегистрирован ли обработчик топика.
func (d *Dispatcher) Has(topic string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, exists := d.handlers[topic]
	return exists
}

// Topics возвращает зарегистрированные топики в алфавитном порядке.
func (d *Dispatcher) Topics() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	topics := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// Dispatch вызывает обработчик топика с data.
// Ошибка и паника обработчика возвращаются как *HandlerError.
func (d *Dispatcher) Dispatch(ctx context.Context, topic string, data json.RawMessage) error {
	return d.dispatch(ctx, topic, "", data)
}

// Handle — mq.Handler: маршрутизирует доставку по топику подписки.
func (d *Dispatcher) Handle(ctx context.Context, delivery *mq.Delivery) error {
	topic := delivery.Topic
	if topic == "" && delivery.Envelope != nil {
		topic = delivery.Envelope.EventType
	}

	var eventID string
	if delivery.Envelope != nil {
		eventID = delivery.Envelope.EventID
	}

	return d.dispatch(ctx, topic, eventID, delivery.Data())
}

// Bind подписывает каждый зарегистрированный топик на sub.
func (d *Dispatcher) Bind(ctx context.Context, sub Subscriber) error {
	for _, topic := range d.Topics() {
		if err := sub.SubscribeToEvent(ctx, topic, d.Handle); err != nil {
			return fmt.Errorf("bind %s: %w", topic, err)
		}
		d.logger.Info("subscribed to event", "topic", topic)
	}
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, topic, eventID string, data json.RawMessage) error {
	d.mu.RLock()
	h, ok := d.handlers[topic]
	d.mu.RUnlock()

	if !ok {
		return &HandlerError{Topic: topic, EventID: eventID, Err: ErrNoHandler}
	}

	if err := invoke(ctx, h, data); err != nil {
		telemetry.FromContext(ctx).Error("event handler failed",
			"topic", topic,
			"event_id", eventID,
			"error", err,
		)
		return &HandlerError{Topic: topic, EventID: eventID, Err: err}
	}

	return nil
}

func invoke(ctx context.Context, h HandlerFunc, data json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, data)
}
