// Strategy consumer — сервис жизненного цикла торговых стратегий.
//
// Потребляет события воркеров из RabbitMQ, применяет переходы статусов
// в PostgreSQL, публикует strategy.requested и отдаёт HTTP API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaiso/strategy-repository/internal/api"
	"github.com/shaiso/strategy-repository/internal/config"
	"github.com/shaiso/strategy-repository/internal/dispatcher"
	"github.com/shaiso/strategy-repository/internal/lifecycle"
	"github.com/shaiso/strategy-repository/internal/mq"
	"github.com/shaiso/strategy-repository/internal/repo"
	"github.com/shaiso/strategy-repository/internal/resubmit"
	"github.com/shaiso/strategy-repository/internal/strategy"
	"github.com/shaiso/strategy-repository/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	logger := telemetry.SetupLogger("strategy-consumer")
	logger.Info("starting strategy-consumer", "version", version)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Подключаемся к базе данных
	pool, err := repo.NewPool(ctx, cfg.DBURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	store := repo.NewStore(pool)

	// Подключаемся к RabbitMQ
	conn := mq.NewConnection(mq.ConnectionConfig{
		URL:                  cfg.Broker.URL,
		Exchange:             cfg.Broker.Exchange,
		MaxReconnectAttempts: cfg.Broker.MaxReconnectAttempts,
		ReconnectDelay:       cfg.Broker.ReconnectDelay,
		Logger:               logger,
	})

	signals, unsubscribe := conn.Subscribe(16)
	defer unsubscribe()
	go logSignals(ctx, logger, signals)

	if err := conn.Connect(ctx); err != nil {
		// Сервис стартует без брокера: подписки ждут подключения.
		logger.Warn("failed to connect to broker, retrying in background", "error", err)
		go func() {
			if err := conn.HandleDisconnect(); err != nil && !errors.Is(err, mq.ErrClosed) {
				logger.Error("broker unavailable", "error", err)
			}
		}()
	}

	bus := mq.NewBus(mq.BusConfig{
		Conn:            conn,
		QueuePrefix:     cfg.Broker.QueuePrefix,
		Version:         version,
		Prefetch:        cfg.Broker.Prefetch,
		MaxRedeliveries: cfg.Broker.MaxRedeliveries,
		Logger:          logger,
	})

	// Обработчики событий воркеров
	machine := lifecycle.New(lifecycle.Config{
		Store:  store,
		Logger: logger,
	})

	d := dispatcher.New(logger)
	if err := machine.RegisterHandlers(d); err != nil {
		logger.Error("failed to register handlers", "error", err)
		os.Exit(1)
	}
	if err := d.Bind(ctx, bus); err != nil {
		logger.Error("failed to subscribe", "error", err)
		os.Exit(1)
	}
	logger.Info("subscribed", "topics", d.Topics())
	logger.Info("broker topology", "layout", mq.TopologyInfo(cfg.Broker.Exchange, cfg.Broker.QueuePrefix, d.Topics()))

	service := strategy.New(strategy.Config{
		Store:     store,
		Publisher: bus,
		Logger:    logger,
	})

	// Повторная публикация strategy.requested
	sweeper := resubmit.New(resubmit.Config{
		Store:     store,
		Requester: service,
		Lock:      repo.NewAdvisoryLock(pool, repo.ResubmitLockKey),
		Logger:    logger,
		After:     cfg.Resubmit.After,
		Rate:      cfg.Resubmit.Rate,
	})
	if err := sweeper.Start(ctx, cfg.Resubmit.Cron); err != nil {
		logger.Error("failed to start resubmit sweeper", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(api.Config{
		Service:   service,
		Publisher: bus,
		Broker:    conn,
		DB:        pool,
		Logger:    logger,
	})

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	addr := ":" + cfg.Port
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	sweeper.Stop()

	if err := bus.Disconnect(); err != nil {
		logger.Error("broker disconnect error", "error", err)
	}

	logger.Info("stopped")
}

// logSignals пишет в лог сигналы соединения с брокером.
func logSignals(ctx context.Context, logger *slog.Logger, signals <-chan mq.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-signals:
			if s == mq.SignalMaxReconnectAttemptsReached {
				logger.Error("broker reconnect attempts exhausted, manual restart required")
				continue
			}
			logger.Info("broker signal", "signal", string(s))
		}
	}
}
