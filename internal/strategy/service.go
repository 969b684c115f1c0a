package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/shaiso/strategy-repository/internal/domain"
	"github.com/shaiso/strategy-repository/internal/repo"
	"github.com/shaiso/strategy-repository/internal/telemetry"
)

// Значения по умолчанию.
const (
	DefaultEventLogLimit = 50
	MetricsEventLimit    = 10
	MaxNameLength        = 255
)

// Publisher публикует события (mq.Bus).
type Publisher interface {
	PublishEvent(ctx context.Context, topic string, data any) (bool, error)
}

// Config — конфигурация Service.
type Config struct {
	Store     repo.Repository
	Publisher Publisher
	Logger    *slog.Logger
}

// Service — операции над стратегиями.
type Service struct {
	store     repo.Repository
	publisher Publisher
	logger    *slog.Logger
}

// New создаёт Service.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     cfg.Store,
		publisher: cfg.Publisher,
		logger:    logger,
	}
}

// CreateInput — данные новой стратегии.
type CreateInput struct {
	UserID      string
	Name        string
	Description string
}

// Validate проверяет входные данные.
func (in CreateInput) Validate() error {
	return invalid(in.Problems())
}

// Problems возвращает все нарушения; пустой список — данные корректны.
func (in CreateInput) Problems() []string {
	var problems []string

	if p := nameProblem(in.Name); p != "" {
		problems = append(problems, p)
	}
	if _, err := uuid.Parse(in.UserID); err != nil {
		problems = append(problems, "user_id must be a valid UUID")
	}
	return problems
}

func nameProblem(name string) string {
	switch {
	case strings.TrimSpace(name) == "":
		return "name is required"
	case utf8.RuneCountInString(name) > MaxNameLength:
		return fmt.Sprintf("name exceeds %d characters", MaxNameLength)
	}
	return ""
}

func invalid(problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(problems, "; "))
}

// Created — результат Create.
type Created struct {
	Strategy *domain.Strategy

	// Requested — брокер принял strategy.requested.
	Requested bool
}

// Create сохраняет стратегию в статусе pending, пишет аудит strategy.created
// и публикует strategy.requested.
//
// Ошибка публикации не отменяет создание: Requested=false, стратегию
// позже переопубликует resubmit.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Created, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	st := &domain.Strategy{
		UserID:      in.UserID,
		Name:        in.Name,
		Description: in.Description,
		Status:      domain.StatusPending,
	}

	err := s.store.InTx(ctx, func(tx repo.Repository) error {
		if err := tx.Create(ctx, st); err != nil {
			return fmt.Errorf("create strategy: %w", err)
		}
		_, err := tx.AppendAuditRecord(ctx, st.ID, domain.EventStrategyCreated, map[string]any{
			"strategy_id": st.ID,
			"user_id":     st.UserID,
			"name":        st.Name,
		})
		if err != nil {
			return fmt.Errorf("append audit record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger := telemetry.WithStrategyID(s.logger, st.ID)
	logger.Info("strategy created", "user_id", st.UserID, "name", st.Name)

	requested, err := s.RequestValidation(ctx, st)
	if err != nil {
		logger.Warn("strategy.requested not published, left for resubmit", "error", err)
	}

	return &Created{Strategy: st, Requested: requested}, nil
}

// RequestedEvent — data события strategy.requested.
type RequestedEvent struct {
	StrategyID  string                `json:"strategy_id"`
	UserID      string                `json:"user_id"`
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Status      domain.StrategyStatus `json:"status"`
	CreatedAt   time.Time             `json:"created_at"`
}

// RequestValidation публикует strategy.requested для стратегии.
// После принятия брокером добавляет запись аудита strategy.requested.
// Возвращает false, если брокер не принял публикацию.
func (s *Service) RequestValidation(ctx context.Context, st *domain.Strategy) (bool, error) {
	ev := RequestedEvent{
		StrategyID:  st.ID,
		UserID:      st.UserID,
		Name:        st.Name,
		Description: st.Description,
		Status:      st.Status,
		CreatedAt:   st.CreatedAt,
	}

	ok, err := s.publisher.PublishEvent(ctx, domain.EventStrategyRequested, ev)
	if err != nil || !ok {
		if err == nil {
			err = errors.New("publish not accepted")
		}
		return false, err
	}

	logger := telemetry.WithStrategyID(s.logger, st.ID)

	_, err = s.store.AppendAuditRecord(ctx, st.ID, domain.EventStrategyRequested, map[string]any{
		"strategy_id": ev.StrategyID,
		"user_id":     ev.UserID,
		"name":        ev.Name,
		"description": ev.Description,
		"status":      ev.Status,
		"created_at":  ev.CreatedAt,
	})
	if err != nil {
		// Событие уже в брокере; без записи аудита resubmit опубликует его ещё раз.
		logger.Error("failed to append strategy.requested audit record", "error", err)
		return true, nil
	}

	logger.Info("strategy validation requested")
	return true, nil
}

// Get возвращает стратегию.
func (s *Service) Get(ctx context.Context, id string) (*domain.Strategy, error) {
	return s.store.GetByID(ctx, id)
}

// ListByUser возвращает стратегии пользователя, новые первыми.
func (s *Service) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Strategy, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return nil, fmt.Errorf("%w: user_id must be a valid UUID", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListByUser(ctx, userID, limit, offset)
}

// StatusInfo — текущий статус стратегии.
type StatusInfo struct {
	StrategyID string                `json:"strategy_id"`
	Status     domain.StrategyStatus `json:"status"`
	CreatedAt  time.Time             `json:"created_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

// Status возвращает статус стратегии.
func (s *Service) Status(ctx context.Context, id string) (*StatusInfo, error) {
	st, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &StatusInfo{
		StrategyID: st.ID,
		Status:     st.Status,
		CreatedAt:  st.CreatedAt,
		UpdatedAt:  st.UpdatedAt,
	}, nil
}

// EventLogs возвращает журнал стратегии, новые записи первыми.
// limit <= 0 — DefaultEventLogLimit.
func (s *Service) EventLogs(ctx context.Context, id string, limit int) ([]domain.EventLog, error) {
	if limit <= 0 {
		limit = DefaultEventLogLimit
	}
	return s.store.ListEventLogs(ctx, id, limit)
}

// BacktestSummary — последний бэктест в Metrics.
type BacktestSummary struct {
	PerformanceMetrics map[string]any `json:"performance_metrics"`
	TestedAt           time.Time      `json:"tested_at"`
}

// RecentEvent — запись журнала в Metrics.
type RecentEvent struct {
	EventType string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// Metrics — сводка по стратегии.
type Metrics struct {
	StrategyID     string                `json:"strategy_id"`
	Name           string                `json:"name"`
	Status         domain.StrategyStatus `json:"status"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
	LatestBacktest *BacktestSummary      `json:"latest_backtest"`
	RecentEvents   []RecentEvent         `json:"recent_events"`
}

// Metrics возвращает сводку: статус, последний бэктест и последние события.
func (s *Service) Metrics(ctx context.Context, id string) (*Metrics, error) {
	st, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	out := &Metrics{
		StrategyID:   st.ID,
		Name:         st.Name,
		Status:       st.Status,
		CreatedAt:    st.CreatedAt,
		UpdatedAt:    st.UpdatedAt,
		RecentEvents: []RecentEvent{},
	}

	bt, err := s.store.LatestBacktest(ctx, id)
	switch {
	case err == nil:
		out.LatestBacktest = &BacktestSummary{
			PerformanceMetrics: bt.PerformanceMetrics,
			TestedAt:           bt.TestedAt,
		}
	case !errors.Is(err, repo.ErrNotFound):
		return nil, fmt.Errorf("latest backtest: %w", err)
	}

	logs, err := s.store.ListEventLogs(ctx, id, MetricsEventLimit)
	if err != nil {
		return nil, fmt.Errorf("event logs: %w", err)
	}
	for _, l := range logs {
		out.RecentEvents = append(out.RecentEvents, RecentEvent{
			EventType: l.EventType,
			Timestamp: l.Timestamp,
			Payload:   l.Payload,
		})
	}

	return out, nil
}
