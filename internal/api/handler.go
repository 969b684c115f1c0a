package api

import (
	"context"
	"log/slog"

	"github.com/shaiso/strategy-repository/internal/mq"
	"github.com/shaiso/strategy-repository/internal/strategy"
)

// Publisher публикует произвольное событие (mq.Bus).
type Publisher interface {
	Publish(ctx context.Context, topic string, data any) (*mq.Envelope, error)
}

// BrokerStatus — состояние соединения с брокером (mq.Connection).
type BrokerStatus interface {
	IsConnected() bool
	Exhausted() bool
	State() mq.State
}

// Pinger проверяет доступность БД (pgxpool.Pool).
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	service   *strategy.Service
	publisher Publisher
	broker    BrokerStatus
	db        Pinger
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Service   *strategy.Service
	Publisher Publisher    // nil — POST /api/v1/events отвечает 503
	Broker    BrokerStatus // nil — брокер в /healthz не проверяется
	DB        Pinger       // nil — БД в /healthz не проверяется
	Logger    *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service:   cfg.Service,
		publisher: cfg.Publisher,
		broker:    cfg.Broker,
		db:        cfg.DB,
		logger:    logger,
	}
}
