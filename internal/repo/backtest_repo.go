package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/strategy-repository/internal/domain"
)

// CreateBacktestResult сохраняет результат бэктеста.
// Пустые ID и TestedAt заполняются.
func (s *Store) CreateBacktestResult(ctx context.Context, r *domain.BacktestResult) error {
	if !validID(r.StrategyID) {
		return ErrNotFound
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.TestedAt.IsZero() {
		r.TestedAt = time.Now().UTC()
	}

	metricsJSON, err := json.Marshal(orEmptyMap(r.PerformanceMetrics))
	if err != nil {
		return fmt.Errorf("marshal performance metrics: %w", err)
	}
	tradeLogJSON, err := json.Marshal(orEmptySlice(r.TradeLog))
	if err != nil {
		return fmt.Errorf("marshal trade log: %w", err)
	}

	query := `
		INSERT INTO backtest_results (id, strategy_id, user_id, performance_metrics, trade_log, tested_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.q.Exec(ctx, query,
		r.ID,
		r.StrategyID,
		nullString(r.UserID),
		metricsJSON,
		tradeLogJSON,
		r.TestedAt,
	)
	return wrapErr("insert backtest result", err)
}

// LatestBacktest возвращает последний результат бэктеста стратегии.
func (s *Store) LatestBacktest(ctx context.Context, strategyID string) (*domain.BacktestResult, error) {
	if !validID(strategyID) {
		return nil, ErrNotFound
	}

	query := `
		SELECT id::text, strategy_id::text, COALESCE(user_id::text, ''),
		       performance_metrics, trade_log, tested_at
		FROM backtest_results
		WHERE strategy_id = $1
		ORDER BY tested_at DESC
		LIMIT 1
	`
	var r domain.BacktestResult
	var metricsJSON, tradeLogJSON []byte

	err := s.q.QueryRow(ctx, query, strategyID).Scan(
		&r.ID,
		&r.StrategyID,
		&r.UserID,
		&metricsJSON,
		&tradeLogJSON,
		&r.TestedAt,
	)
	if err != nil {
		return nil, wrapErr("get latest backtest", err)
	}

	if metricsJSON != nil {
		if err := json.Unmarshal(metricsJSON, &r.PerformanceMetrics); err != nil {
			return nil, fmt.Errorf("unmarshal performance metrics: %w", err)
		}
	}
	if tradeLogJSON != nil {
		if err := json.Unmarshal(tradeLogJSON, &r.TradeLog); err != nil {
			return nil, fmt.Errorf("unmarshal trade log: %w", err)
		}
	}
	return &r, nil
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func orEmptySlice(s []any) []any {
	if s == nil {
		return []any{}
	}
	return s
}
