// Package mq предоставляет шину событий поверх RabbitMQ.
//
// Структура:
//   - amqp.go       — абстракции соединения и канала, Dialer по умолчанию
//   - connection.go — управление соединением (линейный retry, сигналы, Disconnect)
//   - signals.go    — рассылка сигналов connected / disconnected / max_reconnect_attempts_reached
//   - topology.go   — объявление exchanges, очередей подписки и dead-letter очереди
//   - envelope.go   — конверт события {event_id, event_type, timestamp, data, metadata}
//   - publisher.go  — публикация событий
//   - consumer.go   — цикл потребления с ack / nack(requeue)
//   - redelivery.go — учёт неудачных доставок для отправки в DLQ
//
// Топология:
//   - {exchange}          (topic)  — все события, routing key = топик
//   - {prefix}_{topic}             — durable очередь подписки
//   - {exchange}.dlx      (direct) — dead-letter exchange
//   - {prefix}_dead_letter         — сообщения, исчерпавшие MaxRedeliveries
package mq
