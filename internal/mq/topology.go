package mq

import (
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Имена и ключи топологии.
const (
	// DeadLetterRoutingKey — routing key в dead-letter exchange.
	DeadLetterRoutingKey = "dead_letter"

	exchangeKindTopic  = "topic"
	exchangeKindDirect = "direct"
)

// DeadLetterExchange возвращает имя dead-letter exchange для exchange.
func DeadLetterExchange(exchange string) string {
	return exchange + ".dlx"
}

// DeadLetterQueue возвращает имя dead-letter очереди для префикса.
func DeadLetterQueue(prefix string) string {
	return prefix + "_dead_letter"
}

// QueueName возвращает имя очереди подписки: {prefix}_{topic}.
func QueueName(prefix, topic string) string {
	return prefix + "_" + topic
}

// declareExchanges создаёт основной topic exchange и dead-letter exchange.
func declareExchanges(ch AMQPChannel, exchange string) error {
	exchanges := []struct {
		name string
		kind string
	}{
		{exchange, exchangeKindTopic},
		{DeadLetterExchange(exchange), exchangeKindDirect},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			ex.name, // name
			ex.kind, // type
			true,    // durable
			false,   // auto-deleted
			false,   // internal
			false,   // no-wait
			nil,     // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareSubscription создаёт очередь подписки с DLX и привязывает её к топику.
// Dead-letter очередь создаётся там же: declare идемпотентен.
func declareSubscription(ch AMQPChannel, exchange, prefix, topic string) (string, error) {
	dlx := DeadLetterExchange(exchange)
	dlq := DeadLetterQueue(prefix)
	queue := QueueName(prefix, topic)

	// Аргументы для очередей с DLQ
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    dlx,
		"x-dead-letter-routing-key": DeadLetterRoutingKey,
	}

	queues := []struct {
		name string
		args amqp.Table
	}{
		{dlq, nil},
		{queue, dlqArgs},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			q.name, // name
			true,   // durable
			false,  // delete when unused
			false,  // exclusive
			false,  // no-wait
			q.args, // arguments
		)
		if err != nil {
			return "", fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	bindings := []struct {
		queue      string
		routingKey string
		exchange   string
	}{
		{dlq, DeadLetterRoutingKey, dlx},
		{queue, topic, exchange},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			b.queue,      // queue name
			b.routingKey, // routing key
			b.exchange,   // exchange
			false,        // no-wait
			nil,          // arguments
		)
		if err != nil {
			return "", fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return queue, nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo(exchange, prefix string, topics []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s (topic)\n", exchange)
	for i, topic := range topics {
		branch := "├──"
		if i == len(topics)-1 {
			branch = "└──"
		}
		fmt.Fprintf(&b, "  %s %s [routing: %s]\n", branch, QueueName(prefix, topic), topic)
	}

	fmt.Fprintf(&b, "%s (direct)\n", DeadLetterExchange(exchange))
	fmt.Fprintf(&b, "  └── %s [routing: %s]\n", DeadLetterQueue(prefix), DeadLetterRoutingKey)

	return b.String()
}
