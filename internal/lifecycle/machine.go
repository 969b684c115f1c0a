package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"time"

	"github.com/shaiso/strategy-repository/internal/domain"
	"github.com/shaiso/strategy-repository/internal/repo"
	"github.com/shaiso/strategy-repository/internal/telemetry"
)

// Config — конфигурация Machine.
type Config struct {
	Store  repo.Repository
	Logger *slog.Logger

	// Now — источник времени для полей timestamp в аудите (default: time.Now).
	Now func() time.Time
}

// Machine применяет события воркеров к стратегиям.
//
// Состояния не хранит: всё состояние в хранилище.
type Machine struct {
	store  repo.Repository
	logger *slog.Logger
	now    func() time.Time
}

// New создаёт Machine.
func New(cfg Config) *Machine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Machine{
		store:  cfg.Store,
		logger: logger,
		now:    now,
	}
}

// Change — событие, применяемое к стратегии.
type Change struct {
	StrategyID string
	Event      string

	// Audit — payload записи аудита.
	Audit map[string]any

	// Backtest сохраняется вместе с переходом; его ID попадает в аудит как backtest_id.
	Backtest *domain.BacktestResult
}

// Result — итог применённого события.
type Result struct {
	Strategy *domain.Strategy
	Previous domain.StrategyStatus
	Audit    *domain.EventLog
	Backtest *domain.BacktestResult

	// Expected — переход описан в графе жизненного цикла.
	Expected bool
}

// Apply применяет событие в одной транзакции:
//
//  1. загружает стратегию (нет стратегии — repo.ErrNotFound)
//  2. сохраняет результат бэктеста, если он есть
//  3. добавляет запись аудита с типом события
//  4. меняет статус по таблице переходов
//
// При любой ошибке хранилище остаётся без изменений.
func (m *Machine) Apply(ctx context.Context, change Change) (*Result, error) {
	if change.StrategyID == "" {
		return nil, fmt.Errorf("%s: %w", change.Event, ErrMissingStrategyID)
	}

	tr, ok := Lookup(change.Event)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, change.Event)
	}

	var res Result
	err := m.store.InTx(ctx, func(tx repo.Repository) error {
		st, err := tx.GetByID(ctx, change.StrategyID)
		if err != nil {
			return fmt.Errorf("get strategy %s: %w", change.StrategyID, err)
		}
		res.Previous = st.Status

		audit := make(map[string]any, len(change.Audit)+1)
		maps.Copy(audit, change.Audit)

		if change.Backtest != nil {
			bt := *change.Backtest
			bt.StrategyID = change.StrategyID
			if err := tx.CreateBacktestResult(ctx, &bt); err != nil {
				return fmt.Errorf("create backtest result: %w", err)
			}
			audit["backtest_id"] = bt.ID
			res.Backtest = &bt
		}

		entry, err := tx.AppendAuditRecord(ctx, change.StrategyID, change.Event, audit)
		if err != nil {
			return fmt.Errorf("append audit record: %w", err)
		}
		res.Audit = entry

		if tr.ChangesStatus() {
			if err := tx.UpdateStatus(ctx, change.StrategyID, tr.Target); err != nil {
				return fmt.Errorf("update status: %w", err)
			}
			st.Status = tr.Target
			st.UpdatedAt = m.now().UTC()
		}

		res.Strategy = st
		return nil
	})
	if err != nil {
		return nil, err
	}

	res.Expected = tr.expected(res.Previous)
	m.record(ctx, tr, &res)

	return &res, nil
}

func (m *Machine) record(ctx context.Context, tr Transition, res *Result) {
	logger := telemetry.WithStrategyID(telemetry.FromContext(ctx), res.Strategy.ID)

	if !tr.ChangesStatus() {
		logger.Info("audit record appended", "event", tr.Event)
		return
	}

	telemetry.StatusTransitions.WithLabelValues(string(tr.Target), strconv.FormatBool(res.Expected)).Inc()

	if !res.Expected {
		logger.Warn("status transition outside lifecycle graph",
			"event", tr.Event,
			"from", res.Previous,
			"to", tr.Target,
		)
		return
	}

	logger.Info("strategy status updated",
		"event", tr.Event,
		"from", res.Previous,
		"to", tr.Target,
	)
}
