package resubmit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/shaiso/strategy-repository/internal/domain"
	"github.com/shaiso/strategy-repository/internal/telemetry"
)

// Значения по умолчанию.
const (
	DefaultAfter     = 10 * time.Minute
	DefaultBatchSize = 100
)

// ErrAlreadyStarted — Start вызван повторно.
var ErrAlreadyStarted = errors.New("resubmit sweeper already started")

// StaleLister находит стратегии без принятого strategy.requested.
type StaleLister interface {
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.Strategy, error)
}

// Requester публикует strategy.requested (strategy.Service).
type Requester interface {
	RequestValidation(ctx context.Context, st *domain.Strategy) (bool, error)
}

// Locker — лидерство между экземплярами (repo.AdvisoryLock).
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// Config — конфигурация Sweeper.
type Config struct {
	Store     StaleLister
	Requester Requester
	Lock      Locker // nil — без лидерства
	Logger    *slog.Logger

	After     time.Duration // возраст pending стратегии (default: 10m)
	Rate      int           // публикаций в секунду; 0 — без ограничения
	BatchSize int           // стратегий за один тик (default: 100)

	Now func() time.Time
}

// Sweeper — периодическая повторная публикация.
type Sweeper struct {
	store     StaleLister
	requester Requester
	lock      Locker
	logger    *slog.Logger
	after     time.Duration
	batchSize int
	limiter   *rate.Limiter
	now       func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// New создаёт Sweeper.
func New(cfg Config) *Sweeper {
	after := cfg.After
	if after <= 0 {
		after = DefaultAfter
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	limit := rate.Inf
	burst := 1
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
		burst = cfg.Rate
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Sweeper{
		store:     cfg.Store,
		requester: cfg.Requester,
		lock:      cfg.Lock,
		logger:    logger,
		after:     after,
		batchSize: batchSize,
		limiter:   rate.NewLimiter(limit, burst),
		now:       now,
	}
}

// Tick выполняет один проход.
//
//  1. Проверяет лидерство (если задан Lock)
//  2. Находит pending стратегии старше After без strategy.requested
//  3. Публикует strategy.requested для каждой с ограничением частоты
//
// Ошибка публикации одной стратегии не останавливает проход.
// Возвращает число принятых брокером публикаций.
func (s *Sweeper) Tick(ctx context.Context) (int, error) {
	if s.lock != nil {
		leader, err := s.lock.TryLock(ctx)
		if err != nil {
			return 0, fmt.Errorf("try lock: %w", err)
		}
		if !leader {
			s.logger.Debug("not a leader, skipping resubmit tick")
			return 0, nil
		}
	}

	stale, err := s.store.ListStalePending(ctx, s.now().Add(-s.after), s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale pending: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	s.logger.Debug("found stale pending strategies", "count", len(stale))

	var resubmitted, failed int
	for i := range stale {
		st := &stale[i]

		if err := s.limiter.Wait(ctx); err != nil {
			return resubmitted, err
		}

		ok, err := s.requester.RequestValidation(ctx, st)
		if err != nil || !ok {
			failed++
			telemetry.Resubmitted.WithLabelValues("failed").Inc()
			telemetry.WithStrategyID(s.logger, st.ID).Warn("resubmit failed", "error", err)
			continue
		}

		resubmitted++
		telemetry.Resubmitted.WithLabelValues("ok").Inc()
	}

	s.logger.Info("resubmit tick completed",
		"stale", len(stale),
		"resubmitted", resubmitted,
		"failed", failed,
	)

	return resubmitted, nil
}

// Start запускает Tick по cron-выражению expr до Stop или отмены ctx.
func (s *Sweeper) Start(ctx context.Context, expr string) error {
	if err := ValidateCronExpr(expr); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return ErrAlreadyStarted
	}

	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(expr, func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("resubmit tick failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule resubmit: %w", err)
	}

	c.Start()
	s.cron = c

	next, _ := NextRun(expr, s.now())
	s.logger.Info("resubmit sweeper started", "schedule", expr, "next_run", next, "after", s.after)
	return nil
}

// Stop останавливает расписание, дожидается текущего Tick и снимает Lock.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}

	if s.lock != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.lock.Unlock(ctx); err != nil {
			s.logger.Warn("failed to release resubmit lock", "error", err)
		}
	}
}
