package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/strategy-repository/internal/domain"
)

// Repository — хранилище стратегий, журнала событий и результатов бэктестов.
//
// Реализации: Store (PostgreSQL) и MemoryStore (тесты, локальный запуск).
type Repository interface {
	Create(ctx context.Context, s *domain.Strategy) error
	GetByID(ctx context.Context, id string) (*domain.Strategy, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Strategy, error)
	UpdateStatus(ctx context.Context, id string, status domain.StrategyStatus) error

	// Update меняет заданные поля и возвращает стратегию после изменения.
	Update(ctx context.Context, id string, u StrategyUpdate) (*domain.Strategy, error)

	// Delete удаляет стратегию и её результаты бэктестов; журнал остаётся.
	Delete(ctx context.Context, id string) error

	// ListStalePending — pending стратегии старше olderThan без записи strategy.requested.
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.Strategy, error)

	AppendAuditRecord(ctx context.Context, strategyID, eventType string, payload map[string]any) (*domain.EventLog, error)

	// ListEventLogs — журнал стратегии, новые записи первыми.
	ListEventLogs(ctx context.Context, strategyID string, limit int) ([]domain.EventLog, error)

	CreateBacktestResult(ctx context.Context, r *domain.BacktestResult) error
	LatestBacktest(ctx context.Context, strategyID string) (*domain.BacktestResult, error)

	// InTx выполняет fn атомарно: ошибка fn откатывает все её записи.
	InTx(ctx context.Context, fn func(tx Repository) error) error
}

// StrategyUpdate — изменяемые поля стратегии; nil — поле не меняется.
// Пустое Description очищает описание.
type StrategyUpdate struct {
	Name        *string
	Description *string
	Status      *domain.StrategyStatus
}

// Empty сообщает, что ни одно поле не задано.
func (u StrategyUpdate) Empty() bool {
	return u.Name == nil && u.Description == nil && u.Status == nil
}

// querier — общее у пула и транзакции.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store — Repository поверх PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	q    querier
}

// NewStore создаёт Store на пуле соединений.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, q: pool}
}

// InTx выполняет fn в транзакции.
// Внутри уже открытой транзакции fn выполняется в ней же.
func (s *Store) InTx(ctx context.Context, fn func(tx Repository) error) error {
	if s.pool == nil {
		return fn(s)
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&Store{q: tx})
	})
	if err != nil {
		return wrapErr("tx", err)
	}
	return nil
}

// validID — идентификаторы в PostgreSQL хранятся как uuid.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ Repository = (*Store)(nil)
