package strategy

import (
	"context"
	"fmt"

	"github.com/shaiso/strategy-repository/internal/domain"
	"github.com/shaiso/strategy-repository/internal/repo"
	"github.com/shaiso/strategy-repository/internal/telemetry"
)

// UpdateInput — изменения стратегии; nil — поле не меняется.
type UpdateInput struct {
	Name        *string
	Description *string
	Status      *string
}

// fields проверяет изменения и переводит их в StrategyUpdate.
func (in UpdateInput) fields() (repo.StrategyUpdate, error) {
	var problems []string
	u := repo.StrategyUpdate{Name: in.Name, Description: in.Description}

	if in.Name != nil {
		if p := nameProblem(*in.Name); p != "" {
			problems = append(problems, p)
		}
	}
	if in.Status != nil {
		status, ok := domain.ParseStrategyStatus(*in.Status)
		if !ok {
			problems = append(problems, fmt.Sprintf("unknown status %q", *in.Status))
		}
		u.Status = &status
	}
	if u.Empty() {
		problems = append(problems, "nothing to update")
	}

	return u, invalid(problems)
}

// changes — поля для записи аудита strategy.updated.
func (in UpdateInput) changes() map[string]any {
	out := make(map[string]any, 3)
	if in.Name != nil {
		out["name"] = *in.Name
	}
	if in.Description != nil {
		out["description"] = *in.Description
	}
	if in.Status != nil {
		out["status"] = *in.Status
	}
	return out
}

// Update меняет поля стратегии и пишет аудит strategy.updated
// в одной транзакции.
//
// Статус меняется без проверки графа, как и по событиям воркеров.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*domain.Strategy, error) {
	u, err := in.fields()
	if err != nil {
		return nil, err
	}

	var updated *domain.Strategy
	err = s.store.InTx(ctx, func(tx repo.Repository) error {
		prev, err := tx.GetByID(ctx, id)
		if err != nil {
			return err
		}

		st, err := tx.Update(ctx, id, u)
		if err != nil {
			return fmt.Errorf("update strategy: %w", err)
		}

		_, err = tx.AppendAuditRecord(ctx, id, domain.EventStrategyUpdated, map[string]any{
			"strategy_id": id,
			"updates":     in.changes(),
		})
		if err != nil {
			return fmt.Errorf("append audit record: %w", err)
		}

		if u.Status != nil && *u.Status != prev.Status && !prev.Status.CanTransitionTo(*u.Status) {
			telemetry.WithStrategyID(s.logger, id).Warn("status set outside lifecycle graph",
				"from", prev.Status,
				"to", *u.Status,
			)
		}

		updated = st
		return nil
	})
	if err != nil {
		return nil, err
	}

	telemetry.WithStrategyID(s.logger, id).Info("strategy updated", "status", updated.Status)
	return updated, nil
}

// Delete удаляет стратегию вместе с результатами бэктестов.
// Журнал сохраняется и дополняется записью strategy.deleted.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.store.InTx(ctx, func(tx repo.Repository) error {
		st, err := tx.GetByID(ctx, id)
		if err != nil {
			return err
		}

		_, err = tx.AppendAuditRecord(ctx, id, domain.EventStrategyDeleted, map[string]any{
			"strategy_id": id,
			"user_id":     st.UserID,
			"name":        st.Name,
			"status":      st.Status,
		})
		if err != nil {
			return fmt.Errorf("append audit record: %w", err)
		}

		if err := tx.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete strategy: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	telemetry.WithStrategyID(s.logger, id).Info("strategy deleted")
	return nil
}

// ValidationReport — результат проверки без сохранения.
type ValidationReport struct {
	IsValid          bool     `json:"is_valid"`
	ValidationErrors []string `json:"validation_errors"`
}

// Validate проверяет данные стратегии, ничего не сохраняя и не публикуя.
func (s *Service) Validate(in CreateInput) ValidationReport {
	problems := in.Problems()
	if problems == nil {
		problems = []string{}
	}

	s.logger.Debug("strategy validated (dry run)", "name", in.Name, "valid", len(problems) == 0)
	return ValidationReport{
		IsValid:          len(problems) == 0,
		ValidationErrors: problems,
	}
}
