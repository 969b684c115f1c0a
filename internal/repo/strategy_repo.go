package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/shaiso/strategy-repository/internal/domain"
)

const strategyColumns = `
	id::text, user_id::text, name, COALESCE(description, ''), status::text, created_at, updated_at
`

// Create сохраняет новую стратегию.
// Пустые ID, Status и CreatedAt заполняются.
func (s *Store) Create(ctx context.Context, st *domain.Strategy) error {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	if st.Status == "" {
		st.Status = domain.StatusPending
	}
	now := time.Now().UTC()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = st.CreatedAt

	query := `
		INSERT INTO strategies (id, user_id, name, description, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.q.Exec(ctx, query,
		st.ID,
		st.UserID,
		st.Name,
		nullString(st.Description),
		string(st.Status),
		st.CreatedAt,
		st.UpdatedAt,
	)
	return wrapErr("insert strategy", err)
}

// GetByID возвращает стратегию по ID.
func (s *Store) GetByID(ctx context.Context, id string) (*domain.Strategy, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}

	query := `SELECT ` + strategyColumns + ` FROM strategies WHERE id = $1`
	return scanStrategy(s.q.QueryRow(ctx, query, id))
}

// ListByUser возвращает стратегии пользователя, новые первыми.
func (s *Store) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Strategy, error) {
	if !validID(userID) {
		return nil, nil
	}

	query := `
		SELECT ` + strategyColumns + `
		FROM strategies
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := s.q.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, wrapErr("list strategies by user", err)
	}
	return scanStrategies(rows)
}

// UpdateStatus меняет статус стратегии.
func (s *Store) UpdateStatus(ctx context.Context, id string, status domain.StrategyStatus) error {
	if !validID(id) {
		return ErrNotFound
	}

	query := `
		UPDATE strategies
		SET status = $2, updated_at = $3
		WHERE id = $1
	`
	result, err := s.q.Exec(ctx, query, id, string(status), time.Now().UTC())
	if err != nil {
		return wrapErr("update strategy status", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Update меняет заданные поля стратегии.
func (s *Store) Update(ctx context.Context, id string, u StrategyUpdate) (*domain.Strategy, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}

	var status *string
	if u.Status != nil {
		v := string(*u.Status)
		status = &v
	}

	query := `
		UPDATE strategies
		SET name        = COALESCE($2::text, name),
		    description = CASE WHEN $3::boolean THEN NULLIF($4::text, '') ELSE description END,
		    status      = COALESCE($5::strategy_status, status),
		    updated_at  = $6
		WHERE id = $1
		RETURNING ` + strategyColumns

	var description string
	if u.Description != nil {
		description = *u.Description
	}

	return scanStrategy(s.q.QueryRow(ctx, query,
		id,
		u.Name,
		u.Description != nil,
		description,
		status,
		time.Now().UTC(),
	))
}

// Delete удаляет стратегию. Результаты бэктестов удаляются каскадом.
func (s *Store) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}

	result, err := s.q.Exec(ctx, `DELETE FROM strategies WHERE id = $1`, id)
	if err != nil {
		return wrapErr("delete strategy", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListStalePending возвращает pending стратегии, для которых
// strategy.requested так и не был опубликован.
func (s *Store) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.Strategy, error) {
	query := `
		SELECT ` + strategyColumns + `
		FROM strategies s
		WHERE s.status = 'pending'
		  AND s.created_at < $1
		  AND NOT EXISTS (
		      SELECT 1 FROM event_logs e
		      WHERE e.strategy_id = s.id AND e.event_type = $2
		  )
		ORDER BY s.created_at ASC
		LIMIT $3
	`
	rows, err := s.q.Query(ctx, query, olderThan, domain.EventStrategyRequested, limit)
	if err != nil {
		return nil, wrapErr("list stale pending", err)
	}
	return scanStrategies(rows)
}

func scanStrategy(row pgx.Row) (*domain.Strategy, error) {
	var st domain.Strategy
	err := row.Scan(
		&st.ID,
		&st.UserID,
		&st.Name,
		&st.Description,
		&st.Status,
		&st.CreatedAt,
		&st.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("scan strategy", err)
	}
	return &st, nil
}

func scanStrategies(rows pgx.Rows) ([]domain.Strategy, error) {
	defer rows.Close()

	var strategies []domain.Strategy
	for rows.Next() {
		st, err := scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, *st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate strategies: %w", err)
	}
	return strategies, nil
}
