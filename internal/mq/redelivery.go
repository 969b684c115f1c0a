package mq

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// deliveryCountHeader — счётчик доставок, который ставят quorum-очереди.
const deliveryCountHeader = "x-delivery-count"

const maxTrackedDeliveries = 10000

// redeliveryTracker считает неудачные обработки сообщения.
// Для classic-очередей брокер не ведёт счётчик, поэтому считаем сами
// по ключу сообщения. Размер ограничен: при переполнении таблица сбрасывается.
type redeliveryTracker struct {
	mu       sync.Mutex
	failures map[string]int
	limit    int
}

func newRedeliveryTracker(limit int) *redeliveryTracker {
	if limit <= 0 {
		limit = maxTrackedDeliveries
	}
	return &redeliveryTracker{
		failures: make(map[string]int),
		limit:    limit,
	}
}

// fail регистрирует неудачу и возвращает общее число неудач сообщения.
func (t *redeliveryTracker) fail(raw amqp.Delivery) int {
	key := deliveryKey(raw)

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.failures[key]; !ok && len(t.failures) >= t.limit {
		t.failures = make(map[string]int)
	}

	count := t.failures[key] + 1
	if header, ok := headerCount(raw.Headers); ok && header+1 > count {
		count = header + 1
	}
	t.failures[key] = count

	return count
}

func (t *redeliveryTracker) forget(raw amqp.Delivery) {
	key := deliveryKey(raw)

	t.mu.Lock()
	delete(t.failures, key)
	t.mu.Unlock()
}

func (t *redeliveryTracker) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.failures)
}

// deliveryKey: MessageId, затем event_id из тела, затем хэш тела.
func deliveryKey(raw amqp.Delivery) string {
	if raw.MessageId != "" {
		return raw.MessageId
	}

	var head struct {
		EventID string `json:"event_id"`
	}
	if err := json.Unmarshal(raw.Body, &head); err == nil && head.EventID != "" {
		return head.EventID
	}

	h := fnv.New64a()
	h.Write(raw.Body)
	return fmt.Sprintf("body:%x", h.Sum64())
}

func headerCount(headers amqp.Table) (int, bool) {
	v, ok := headers[deliveryCountHeader]
	if !ok {
		return 0, false
	}

	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint32:
		return int(n), true
	default:
		return 0, false
	}
}
