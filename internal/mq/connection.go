package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/strategy-repository/internal/telemetry"
)

// Значения по умолчанию для политики переподключения.
const (
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectDelay       = 5 * time.Second
)

// State — состояние соединения.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Connection — менеджер соединения с RabbitMQ.
//
// Особенности:
//   - Один канал на соединение, общий для публикации и потребления
//   - Линейный retry при разрыве: MaxReconnectAttempts попыток с фиксированной паузой
//   - Сигналы connected / max_reconnect_attempts_reached для подписчиков
//   - Disconnect безопасно вызывать повторно
type Connection struct {
	url         string
	exchange    string
	maxAttempts int
	delay       time.Duration
	dial        Dialer
	logger      *slog.Logger

	// connectMu сериализует попытки подключения.
	connectMu sync.Mutex

	mu           sync.RWMutex
	conn         AMQPConnection
	channel      AMQPChannel
	state        State
	attempts     int
	reconnecting bool
	exhausted    bool
	closed       bool
	stop         chan struct{}

	// chMu — один писатель в канал за раз.
	chMu sync.Mutex

	signals *signalHub
}

// ConnectionConfig — конфигурация Connection.
type ConnectionConfig struct {
	// URL — адрес брокера.
	URL string

	// Exchange — durable topic exchange для всех топиков.
	Exchange string

	// MaxReconnectAttempts — лимит попыток переподключения (default: 5).
	MaxReconnectAttempts int

	// ReconnectDelay — пауза перед каждой попыткой (default: 5s).
	ReconnectDelay time.Duration

	// Dialer — опционально; если nil — DialAMQP.
	Dialer Dialer

	Logger *slog.Logger
}

// NewConnection создаёт менеджер соединения. Подключение — через Connect.
func NewConnection(cfg ConnectionConfig) *Connection {
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxReconnectAttempts
	}

	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}

	dial := cfg.Dialer
	if dial == nil {
		dial = DialAMQP
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Connection{
		url:         cfg.URL,
		exchange:    cfg.Exchange,
		maxAttempts: maxAttempts,
		delay:       delay,
		dial:        dial,
		logger:      logger,
		state:       StateDisconnected,
		stop:        make(chan struct{}),
		signals:     newSignalHub(),
	}
}

// Connect устанавливает соединение, открывает канал и объявляет exchange.
// Если соединение уже установлено — ничего не делает.
// После Disconnect повторный Connect снова открывает соединение.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.closed = false
		c.stop = make(chan struct{})
	}
	stop := c.stop
	c.mu.Unlock()

	return c.connect(ctx, stop)
}

// connect выполняет одну попытку подключения в рамках сессии stop.
func (c *Connection) connect(ctx context.Context, stop chan struct{}) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.closed || c.stop != stop {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == StateConnected && c.conn != nil && c.channel != nil {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	attempt := c.attempts
	c.mu.Unlock()

	conn, ch, connClosed, chClosed, err := c.open(ctx)
	if err != nil {
		c.mu.Lock()
		if c.state == StateConnecting {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		return &ConnectError{
			URL:       SanitizeURL(c.url),
			Attempt:   attempt,
			Err:       err,
			Timestamp: time.Now(),
		}
	}

	c.mu.Lock()
	if c.closed || c.stop != stop {
		c.mu.Unlock()
		ch.Close()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.channel = ch
	c.state = StateConnected
	c.attempts = 0
	c.exhausted = false
	c.mu.Unlock()

	telemetry.BrokerConnected.Set(1)
	c.logger.Info("connected to RabbitMQ",
		"url", SanitizeURL(c.url),
		"exchange", c.exchange,
	)

	go c.watch(conn, connClosed, chClosed, stop)

	c.emit(SignalConnected)
	return nil
}

// open открывает соединение и канал, объявляет exchanges.
func (c *Connection) open(ctx context.Context) (AMQPConnection, AMQPChannel, chan *amqp.Error, chan *amqp.Error, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, nil, nil, err
	}

	conn, err := c.dial(ctx, c.url)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, nil, nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declareExchanges(ch, c.exchange); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, nil, nil, err
	}

	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

	return conn, ch, connClosed, chClosed, nil
}

// watch ждёт закрытия соединения или канала и запускает переподключение.
func (c *Connection) watch(conn AMQPConnection, connClosed, chClosed chan *amqp.Error, stop chan struct{}) {
	var amqpErr *amqp.Error

	select {
	case <-stop:
		return
	case amqpErr = <-connClosed:
	case amqpErr = <-chClosed:
	}

	c.mu.Lock()
	if c.closed || c.conn != conn {
		c.mu.Unlock()
		return
	}
	ch := c.channel
	c.conn = nil
	c.channel = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	// Соединение могло закрыться наполовину: добиваем оба хэндла.
	if ch != nil && !ch.IsClosed() {
		ch.Close()
	}
	if !conn.IsClosed() {
		conn.Close()
	}

	telemetry.BrokerConnected.Set(0)
	if amqpErr != nil {
		c.logger.Warn("connection lost", "error", amqpErr)
	} else {
		c.logger.Warn("connection lost")
	}
	c.emit(SignalDisconnected)

	if err := c.HandleDisconnect(); err != nil && !errors.Is(err, ErrClosed) {
		c.logger.Error("broker unavailable, manual restart required", "error", err)
	}
}

// HandleDisconnect переподключается по линейной политике.
//
// До MaxReconnectAttempts попыток, перед каждой — пауза ReconnectDelay.
// Счётчик попыток общий для процесса и сбрасывается только успешным Connect.
// При исчерпании попыток один раз рассылает SignalMaxReconnectAttemptsReached
// и возвращает ErrMaxReconnectExceeded.
func (c *Connection) HandleDisconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.exhausted {
		c.mu.Unlock()
		return ErrMaxReconnectExceeded
	}
	if c.reconnecting {
		c.mu.Unlock()
		return nil
	}
	c.reconnecting = true
	stop := c.stop
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	for {
		c.mu.Lock()
		if c.state == StateConnected {
			c.mu.Unlock()
			return nil
		}
		if c.attempts >= c.maxAttempts {
			signaled := c.exhausted
			c.exhausted = true
			c.mu.Unlock()

			if !signaled {
				c.logger.Error("max reconnect attempts reached", "attempts", c.maxAttempts)
				c.emit(SignalMaxReconnectAttemptsReached)
			}
			return ErrMaxReconnectExceeded
		}
		c.attempts++
		attempt := c.attempts
		c.mu.Unlock()

		telemetry.ReconnectAttempts.Inc()
		c.logger.Info("attempting to reconnect",
			"attempt", attempt,
			"max_attempts", c.maxAttempts,
			"delay", c.delay,
		)

		timer := time.NewTimer(c.delay)
		select {
		case <-stop:
			timer.Stop()
			return ErrClosed
		case <-timer.C:
		}

		err := c.connect(context.Background(), stop)
		if err == nil {
			c.logger.Info("reconnected to RabbitMQ", "attempt", attempt)
			return nil
		}
		if errors.Is(err, ErrClosed) {
			return err
		}

		c.logger.Warn("reconnect failed", "attempt", attempt, "error", err)
	}
}

// Disconnect закрывает канал, затем соединение.
// Переподключение и наблюдение за соединением останавливаются.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = StateClosing
	close(c.stop)
	conn, ch := c.conn, c.channel
	c.conn = nil
	c.channel = nil
	c.mu.Unlock()

	var errs []error

	if ch != nil && !ch.IsClosed() {
		if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}

	if conn != nil && !conn.IsClosed() {
		if err := conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}

	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()

	telemetry.BrokerConnected.Set(0)
	c.logger.Info("connection closed")

	return errors.Join(errs...)
}

// IsConnected — true, только если живы и соединение, и канал.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil || c.channel == nil {
		return false
	}
	return !c.conn.IsClosed() && !c.channel.IsClosed()
}

// State возвращает текущее состояние соединения.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Attempts возвращает текущее значение счётчика попыток переподключения.
func (c *Connection) Attempts() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attempts
}

// Exhausted — true, если попытки переподключения исчерпаны.
func (c *Connection) Exhausted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.exhausted
}

// Exchange возвращает имя exchange.
func (c *Connection) Exchange() string {
	return c.exchange
}

// Subscribe подписывает на сигналы соединения.
// Возвращает канал сигналов и функцию отписки.
func (c *Connection) Subscribe(buffer int) (<-chan Signal, func()) {
	return c.signals.subscribe(buffer)
}

// WithChannel выполняет функцию с текущим каналом.
// Вызовы сериализуются: в канал пишет один вызывающий за раз.
func (c *Connection) WithChannel(ctx context.Context, fn func(ch AMQPChannel) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.RLock()
	ch := c.channel
	c.mu.RUnlock()

	if ch == nil || ch.IsClosed() {
		return ErrNoChannel
	}

	c.chMu.Lock()
	defer c.chMu.Unlock()

	return fn(ch)
}

func (c *Connection) emit(s Signal) {
	telemetry.BrokerSignals.WithLabelValues(string(s)).Inc()
	c.signals.emit(s)
}
