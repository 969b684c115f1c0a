package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shaiso/strategy-repository/internal/dispatcher"
	"github.com/shaiso/strategy-repository/internal/domain"
	"github.com/shaiso/strategy-repository/internal/mq"
)

// Handlers возвращает обработчики потребляемых топиков.
func (m *Machine) Handlers() map[string]dispatcher.HandlerFunc {
	return map[string]dispatcher.HandlerFunc{
		domain.EventStrategyValidated:   m.handleStrategyValidated,
		domain.EventStrategyInvalidated: m.handleStrategyInvalidated,
		domain.EventBacktestCompleted:   m.handleBacktestCompleted,
		domain.EventStrategyFailed:      m.handleStrategyFailed,
		domain.EventBacktestFailed:      m.handleBacktestFailed,
		domain.EventEvaluationCompleted: m.handleEvaluationCompleted,
	}
}

// RegisterHandlers регистрирует обработчики в диспетчере.
func (m *Machine) RegisterHandlers(d *dispatcher.Dispatcher) error {
	handlers := m.Handlers()
	for _, topic := range domain.ConsumedEvents() {
		if err := d.Register(topic, handlers[topic]); err != nil {
			return err
		}
	}
	return nil
}

func (m *Machine) handleStrategyValidated(ctx context.Context, data json.RawMessage) error {
	return m.handleValidation(ctx, domain.EventStrategyValidated, true, data)
}

func (m *Machine) handleStrategyInvalidated(ctx context.Context, data json.RawMessage) error {
	return m.handleValidation(ctx, domain.EventStrategyInvalidated, false, data)
}

func (m *Machine) handleValidation(ctx context.Context, event string, valid bool, data json.RawMessage) error {
	ev, err := decode[ValidationEvent](event, data)
	if err != nil {
		return err
	}

	_, err = m.Apply(ctx, Change{
		StrategyID: ev.StrategyID,
		Event:      event,
		Audit: map[string]any{
			"strategy_id":         ev.StrategyID,
			"is_valid":            valid,
			"validation_messages": orEmptySlice(ev.ValidationMessages),
			"risk_assessment":     orEmptyMap(ev.RiskAssessment),
		},
	})
	return err
}

func (m *Machine) handleBacktestCompleted(ctx context.Context, data json.RawMessage) error {
	ev, err := decode[BacktestCompletedEvent](domain.EventBacktestCompleted, data)
	if err != nil {
		return err
	}

	metrics := orEmptyMap(ev.PerformanceMetrics)

	_, err = m.Apply(ctx, Change{
		StrategyID: ev.StrategyID,
		Event:      domain.EventBacktestCompleted,
		Audit: map[string]any{
			"strategy_id":         ev.StrategyID,
			"performance_metrics": metrics,
		},
		Backtest: &domain.BacktestResult{
			UserID:             ev.UserID,
			PerformanceMetrics: metrics,
			TradeLog:           orEmptySlice(ev.TradeLog),
			TestedAt:           m.now().UTC(),
		},
	})
	return err
}

func (m *Machine) handleStrategyFailed(ctx context.Context, data json.RawMessage) error {
	return m.handleFailure(ctx, domain.EventStrategyFailed, data)
}

func (m *Machine) handleBacktestFailed(ctx context.Context, data json.RawMessage) error {
	return m.handleFailure(ctx, domain.EventBacktestFailed, data)
}

func (m *Machine) handleFailure(ctx context.Context, event string, data json.RawMessage) error {
	ev, err := decode[FailureEvent](event, data)
	if err != nil {
		return err
	}

	_, err = m.Apply(ctx, Change{
		StrategyID: ev.StrategyID,
		Event:      event,
		Audit: map[string]any{
			"strategy_id": ev.StrategyID,
			"error":       ev.Error,
			"timestamp":   m.now().UTC(),
		},
	})
	return err
}

func (m *Machine) handleEvaluationCompleted(ctx context.Context, data json.RawMessage) error {
	ev, err := decode[EvaluationEvent](domain.EventEvaluationCompleted, data)
	if err != nil {
		return err
	}

	_, err = m.Apply(ctx, Change{
		StrategyID: ev.StrategyID,
		Event:      domain.EventEvaluationCompleted,
		Audit: map[string]any{
			"strategy_id":       ev.StrategyID,
			"ai_score":          ev.AIScore,
			"ai_recommendation": ev.AIRecommendation,
			"risk_level":        ev.RiskLevel,
			"confidence":        ev.Confidence,
			"timestamp":         m.now().UTC(),
		},
	})
	return err
}

func decode[T any](event string, data json.RawMessage) (T, error) {
	if len(data) == 0 {
		var zero T
		return zero, fmt.Errorf("%s: %w: empty data", event, ErrMalformedEvent)
	}
	v, err := mq.ParseData[T](&mq.Envelope{EventType: event, Data: data})
	if err != nil {
		return v, fmt.Errorf("%s: %w: %v", event, ErrMalformedEvent, err)
	}
	return v, nil
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
