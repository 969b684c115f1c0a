package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/shaiso/strategy-repository/internal/domain"
)

// AppendAuditRecord добавляет запись в журнал событий стратегии.
func (s *Store) AppendAuditRecord(ctx context.Context, strategyID, eventType string, payload map[string]any) (*domain.EventLog, error) {
	if !validID(strategyID) {
		return nil, ErrNotFound
	}
	if payload == nil {
		payload = map[string]any{}
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	entry := &domain.EventLog{
		ID:         uuid.NewString(),
		StrategyID: strategyID,
		EventType:  eventType,
		Payload:    payload,
		Timestamp:  time.Now().UTC(),
	}

	// Журнал без внешнего ключа: стратегия проверяется при записи.
	query := `
		INSERT INTO event_logs (id, strategy_id, event_type, payload, timestamp)
		SELECT $1::uuid, $2::uuid, $3::text, $4::jsonb, $5::timestamptz
		WHERE EXISTS (SELECT 1 FROM strategies WHERE id = $2::uuid)
	`
	result, err := s.q.Exec(ctx, query,
		entry.ID,
		entry.StrategyID,
		entry.EventType,
		payloadJSON,
		entry.Timestamp,
	)
	if err != nil {
		return nil, wrapErr("insert event log", err)
	}
	if result.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return entry, nil
}

// ListEventLogs возвращает журнал стратегии, новые записи первыми.
func (s *Store) ListEventLogs(ctx context.Context, strategyID string, limit int) ([]domain.EventLog, error) {
	if !validID(strategyID) {
		return nil, nil
	}

	query := `
		SELECT id::text, strategy_id::text, event_type, payload, timestamp
		FROM event_logs
		WHERE strategy_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`
	rows, err := s.q.Query(ctx, query, strategyID, limit)
	if err != nil {
		return nil, wrapErr("list event logs", err)
	}
	defer rows.Close()

	var logs []domain.EventLog
	for rows.Next() {
		entry, err := scanEventLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event logs: %w", err)
	}
	return logs, nil
}

func scanEventLog(row pgx.Row) (*domain.EventLog, error) {
	var entry domain.EventLog
	var payloadJSON []byte

	err := row.Scan(
		&entry.ID,
		&entry.StrategyID,
		&entry.EventType,
		&payloadJSON,
		&entry.Timestamp,
	)
	if err != nil {
		return nil, wrapErr("scan event log", err)
	}

	if payloadJSON != nil {
		if err := json.Unmarshal(payloadJSON, &entry.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	return &entry, nil
}
