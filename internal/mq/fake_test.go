package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// fakeBroker — брокер в памяти для тестов: exchanges, очереди, bindings,
// ручной ack/nack, requeue при закрытии канала и dead-lettering.
type fakeBroker struct {
	mu         sync.Mutex
	exchanges  map[string]string
	queues     map[string]*fakeQueue
	bindings   []fakeBinding
	conns      []*fakeConn
	dials      int
	failDials  int
	refuse     bool
	publishErr error
	published  []amqp.Publishing
}

type fakeBinding struct {
	exchange string
	key      string
	queue    string
}

type fakeMessage struct {
	exchange    string
	routingKey  string
	pub         amqp.Publishing
	redelivered bool
}

type fakeQueue struct {
	name      string
	args      amqp.Table
	pending   []fakeMessage
	consumers []*fakeConsumer
	next      int
}

type fakeConsumer struct {
	ch       *fakeChannel
	tag      string
	out      chan amqp.Delivery
	inflight int
}

type fakeInflight struct {
	queue    string
	msg      fakeMessage
	consumer *fakeConsumer
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		exchanges: make(map[string]string),
		queues:    make(map[string]*fakeQueue),
	}
}

func (b *fakeBroker) dialer() Dialer {
	return func(ctx context.Context, url string) (AMQPConnection, error) {
		b.mu.Lock()
		defer b.mu.Unlock()

		b.dials++
		if b.refuse {
			return nil, errors.New("dial tcp: connection refused")
		}
		if b.failDials > 0 {
			b.failDials--
			return nil, errors.New("dial tcp: connection refused")
		}

		c := &fakeConn{broker: b}
		b.conns = append(b.conns, c)
		return c, nil
	}
}

func (b *fakeBroker) setRefuse(v bool) {
	b.mu.Lock()
	b.refuse = v
	b.mu.Unlock()
}

func (b *fakeBroker) setFailDials(n int) {
	b.mu.Lock()
	b.failDials = n
	b.mu.Unlock()
}

func (b *fakeBroker) setPublishErr(err error) {
	b.mu.Lock()
	b.publishErr = err
	b.mu.Unlock()
}

func (b *fakeBroker) dialCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// dropConnections закрывает все соединения со стороны брокера.
func (b *fakeBroker) dropConnections() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range b.conns {
		if !c.closed {
			c.shutdown(&amqp.Error{Code: amqp.ConnectionForced, Reason: "CONNECTION_FORCED", Server: true})
		}
	}
}

func (b *fakeBroker) exchangeKind(name string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exchanges[name]
}

func (b *fakeBroker) hasQueue(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.queues[name]
	return ok
}

func (b *fakeBroker) queueArgs(name string) amqp.Table {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[name]; ok {
		return q.args
	}
	return nil
}

func (b *fakeBroker) hasBinding(exchange, key, queue string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, bd := range b.bindings {
		if bd == (fakeBinding{exchange, key, queue}) {
			return true
		}
	}
	return false
}

// queueLen — сообщения в очереди, ожидающие доставки.
func (b *fakeBroker) queueLen(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[name]; ok {
		return len(q.pending)
	}
	return 0
}

func (b *fakeBroker) queueBodies(name string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		return nil
	}
	bodies := make([][]byte, 0, len(q.pending))
	for _, m := range q.pending {
		bodies = append(bodies, m.pub.Body)
	}
	return bodies
}

// unackedCount — доставленные, но не подтверждённые сообщения.
func (b *fakeBroker) unackedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.conns {
		for _, ch := range c.channels {
			n += len(ch.unacked)
		}
	}
	return n
}

func (b *fakeBroker) consumerCount(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[queue]; ok {
		return len(q.consumers)
	}
	return 0
}

func (b *fakeBroker) lastPublished() (amqp.Publishing, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.published) == 0 {
		return amqp.Publishing{}, false
	}
	return b.published[len(b.published)-1], true
}

func (b *fakeBroker) openConns() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.conns {
		if !c.closed {
			n++
		}
	}
	return n
}

// publishRaw кладёт произвольное тело в exchange в обход шины.
func (b *fakeBroker) publishRaw(exchange, key string, body []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.route(exchange, key, fakeMessage{
		exchange:   exchange,
		routingKey: key,
		pub:        amqp.Publishing{ContentType: "application/json", Body: body},
	})
}

// route — под b.mu.
func (b *fakeBroker) route(exchange, key string, msg fakeMessage) {
	for _, bd := range b.bindings {
		if bd.exchange != exchange || bd.key != key {
			continue
		}
		q, ok := b.queues[bd.queue]
		if !ok {
			continue
		}
		q.pending = append(q.pending, msg)
		b.pump(q)
	}
}

// deadLetter — под b.mu.
func (b *fakeBroker) deadLetter(q *fakeQueue, msg fakeMessage) {
	dlx, _ := q.args["x-dead-letter-exchange"].(string)
	if dlx == "" {
		return
	}
	key, _ := q.args["x-dead-letter-routing-key"].(string)
	if key == "" {
		key = msg.routingKey
	}
	msg.redelivered = false
	msg.exchange = dlx
	b.route(dlx, key, msg)
}

// pump раздаёт ожидающие сообщения потребителям очереди. Под b.mu.
func (b *fakeBroker) pump(q *fakeQueue) {
	for len(q.pending) > 0 {
		c := q.pick()
		if c == nil {
			return
		}

		msg := q.pending[0]
		q.pending = q.pending[1:]

		ch := c.ch
		ch.nextTag++
		tag := ch.nextTag
		ch.unacked[tag] = &fakeInflight{queue: q.name, msg: msg, consumer: c}
		c.inflight++

		c.out <- amqp.Delivery{
			Acknowledger: ch,
			Headers:      msg.pub.Headers,
			ContentType:  msg.pub.ContentType,
			DeliveryMode: msg.pub.DeliveryMode,
			MessageId:    msg.pub.MessageId,
			Timestamp:    msg.pub.Timestamp,
			Type:         msg.pub.Type,
			AppId:        msg.pub.AppId,
			ConsumerTag:  c.tag,
			DeliveryTag:  tag,
			Redelivered:  msg.redelivered,
			Exchange:     msg.exchange,
			RoutingKey:   msg.routingKey,
			Body:         msg.pub.Body,
		}
	}
}

func (q *fakeQueue) pick() *fakeConsumer {
	n := len(q.consumers)
	for i := 0; i < n; i++ {
		c := q.consumers[(q.next+i)%n]
		if c.ch.closed {
			continue
		}
		if c.ch.prefetch > 0 && c.inflight >= c.ch.prefetch {
			continue
		}
		if len(c.out) == cap(c.out) {
			continue
		}
		q.next = (q.next + i + 1) % n
		return c
	}
	return nil
}

func (q *fakeQueue) removeConsumer(c *fakeConsumer) {
	for i, qc := range q.consumers {
		if qc == c {
			q.consumers = append(q.consumers[:i], q.consumers[i+1:]...)
			return
		}
	}
}

type fakeConn struct {
	broker   *fakeBroker
	closed   bool
	channels []*fakeChannel
	notify   []chan *amqp.Error
}

func (c *fakeConn) Channel() (AMQPChannel, error) {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()

	if c.closed {
		return nil, amqp.ErrClosed
	}
	ch := &fakeChannel{
		broker:    c.broker,
		conn:      c,
		unacked:   make(map[uint64]*fakeInflight),
		consumers: make(map[string]*fakeConsumer),
	}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *fakeConn) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()

	if c.closed {
		close(receiver)
		return receiver
	}
	c.notify = append(c.notify, receiver)
	return receiver
}

func (c *fakeConn) IsClosed() bool {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Close() error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()

	if c.closed {
		return amqp.ErrClosed
	}
	c.shutdown(nil)
	return nil
}

// shutdown — под b.mu.
func (c *fakeConn) shutdown(cause *amqp.Error) {
	for _, ch := range c.channels {
		ch.shutdown(cause)
	}
	c.closed = true
	notifyClosed(c.notify, cause)
	c.notify = nil
}

func notifyClosed(receivers []chan *amqp.Error, cause *amqp.Error) {
	for _, r := range receivers {
		if cause != nil {
			select {
			case r <- cause:
			default:
			}
		}
		close(r)
	}
}

type fakeChannel struct {
	broker    *fakeBroker
	conn      *fakeConn
	closed    bool
	prefetch  int
	nextTag   uint64
	unacked   map[uint64]*fakeInflight
	consumers map[string]*fakeConsumer
	notify    []chan *amqp.Error
}

func (ch *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	ch.broker.exchanges[name] = kind
	return nil
}

func (ch *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()

	if ch.closed {
		return amqp.Queue{}, amqp.ErrClosed
	}
	q, ok := ch.broker.queues[name]
	if !ok {
		q = &fakeQueue{name: name, args: args}
		ch.broker.queues[name] = q
	}
	return amqp.Queue{Name: name, Messages: len(q.pending), Consumers: len(q.consumers)}, nil
}

func (ch *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	if _, ok := ch.broker.queues[name]; !ok {
		return fmt.Errorf("NOT_FOUND - no queue '%s'", name)
	}
	if _, ok := ch.broker.exchanges[exchange]; !ok {
		return fmt.Errorf("NOT_FOUND - no exchange '%s'", exchange)
	}
	bd := fakeBinding{exchange: exchange, key: key, queue: name}
	for _, existing := range ch.broker.bindings {
		if existing == bd {
			return nil
		}
	}
	ch.broker.bindings = append(ch.broker.bindings, bd)
	return nil
}

func (ch *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	ch.prefetch = prefetchCount
	return nil
}

func (ch *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()

	if ch.closed {
		return nil, amqp.ErrClosed
	}
	q, ok := ch.broker.queues[queue]
	if !ok {
		return nil, fmt.Errorf("NOT_FOUND - no queue '%s'", queue)
	}
	if consumer == "" {
		consumer = fmt.Sprintf("ctag-%d", len(ch.consumers)+1)
	}
	if _, dup := ch.consumers[consumer]; dup {
		return nil, fmt.Errorf("NOT_ALLOWED - attempt to reuse consumer tag '%s'", consumer)
	}

	c := &fakeConsumer{ch: ch, tag: consumer, out: make(chan amqp.Delivery, 256)}
	ch.consumers[consumer] = c
	q.consumers = append(q.consumers, c)
	ch.broker.pump(q)

	return c.out, nil
}

func (ch *fakeChannel) Cancel(consumer string, noWait bool) error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	c, ok := ch.consumers[consumer]
	if !ok {
		return nil
	}
	delete(ch.consumers, consumer)
	for _, q := range ch.broker.queues {
		q.removeConsumer(c)
	}
	close(c.out)
	return nil
}

func (ch *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	if ch.broker.publishErr != nil {
		return ch.broker.publishErr
	}
	if _, ok := ch.broker.exchanges[exchange]; !ok {
		return fmt.Errorf("NOT_FOUND - no exchange '%s'", exchange)
	}

	ch.broker.published = append(ch.broker.published, msg)
	ch.broker.route(exchange, key, fakeMessage{exchange: exchange, routingKey: key, pub: msg})
	return nil
}

func (ch *fakeChannel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()

	if ch.closed {
		close(receiver)
		return receiver
	}
	ch.notify = append(ch.notify, receiver)
	return receiver
}

func (ch *fakeChannel) IsClosed() bool {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	return ch.closed
}

func (ch *fakeChannel) Close() error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	ch.shutdown(nil)
	return nil
}

// shutdown возвращает неподтверждённые сообщения в очереди. Под b.mu.
func (ch *fakeChannel) shutdown(cause *amqp.Error) {
	if ch.closed {
		return
	}
	ch.closed = true

	for tag, c := range ch.consumers {
		for _, q := range ch.broker.queues {
			q.removeConsumer(c)
		}
		// Недоставленное из буфера уже учтено в unacked и вернётся в очередь.
		for drained := false; !drained; {
			select {
			case <-c.out:
			default:
				drained = true
			}
		}
		close(c.out)
		delete(ch.consumers, tag)
	}

	for tag := uint64(1); tag <= ch.nextTag; tag++ {
		inf, ok := ch.unacked[tag]
		if !ok {
			continue
		}
		delete(ch.unacked, tag)
		if q, ok := ch.broker.queues[inf.queue]; ok {
			msg := inf.msg
			msg.redelivered = true
			q.pending = append(q.pending, msg)
		}
	}

	notifyClosed(ch.notify, cause)
	ch.notify = nil

	for _, q := range ch.broker.queues {
		ch.broker.pump(q)
	}
}

// Acknowledger.

func (ch *fakeChannel) Ack(tag uint64, multiple bool) error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()

	inf, err := ch.take(tag)
	if err != nil {
		return err
	}
	if q, ok := ch.broker.queues[inf.queue]; ok {
		ch.broker.pump(q)
	}
	return nil
}

func (ch *fakeChannel) Nack(tag uint64, multiple, requeue bool) error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()

	inf, err := ch.take(tag)
	if err != nil {
		return err
	}
	q, ok := ch.broker.queues[inf.queue]
	if !ok {
		return nil
	}

	if requeue {
		msg := inf.msg
		msg.redelivered = true
		q.pending = append([]fakeMessage{msg}, q.pending...)
	} else {
		ch.broker.deadLetter(q, inf.msg)
	}
	ch.broker.pump(q)
	return nil
}

func (ch *fakeChannel) Reject(tag uint64, requeue bool) error {
	return ch.Nack(tag, false, requeue)
}

// take — под b.mu.
func (ch *fakeChannel) take(tag uint64) (*fakeInflight, error) {
	if ch.closed {
		return nil, amqp.ErrClosed
	}
	inf, ok := ch.unacked[tag]
	if !ok {
		return nil, fmt.Errorf("PRECONDITION_FAILED - unknown delivery tag %d", tag)
	}
	delete(ch.unacked, tag)
	inf.consumer.inflight--
	return inf, nil
}
