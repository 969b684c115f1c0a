package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/strategy-repository/internal/domain"
)

// Операции MemoryStore, на которые можно назначить сбой через FailOn.
const (
	OpCreate               = "Create"
	OpGetByID              = "GetByID"
	OpUpdateStatus         = "UpdateStatus"
	OpUpdate               = "Update"
	OpDelete               = "Delete"
	OpAppendAuditRecord    = "AppendAuditRecord"
	OpCreateBacktestResult = "CreateBacktestResult"
)

// MemoryStore — Repository в памяти.
//
// Семантика совпадает со Store, включая откат InTx.
// Транзакции сериализуются между собой.
type MemoryStore struct {
	txMu sync.Mutex

	mu         sync.RWMutex
	strategies map[string]domain.Strategy
	logs       []domain.EventLog
	backtests  []domain.BacktestResult
	failures   map[string]error
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		strategies: make(map[string]domain.Strategy),
		failures:   make(map[string]error),
	}
}

// FailOn назначает ошибку err операции op; nil снимает сбой.
func (m *MemoryStore) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// failure — под m.mu.
func (m *MemoryStore) failure(op string) error {
	return m.failures[op]
}

// Create сохраняет новую стратегию.
func (m *MemoryStore) Create(ctx context.Context, st *domain.Strategy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure(OpCreate); err != nil {
		return err
	}

	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	if _, exists := m.strategies[st.ID]; exists {
		return ErrAlreadyExists
	}
	if st.Status == "" {
		st.Status = domain.StatusPending
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}
	st.UpdatedAt = st.CreatedAt

	m.strategies[st.ID] = *st
	return nil
}

// GetByID возвращает стратегию по ID.
func (m *MemoryStore) GetByID(ctx context.Context, id string) (*domain.Strategy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure(OpGetByID); err != nil {
		return nil, err
	}

	st, ok := m.strategies[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &st, nil
}

// ListByUser возвращает стратегии пользователя, новые первыми.
func (m *MemoryStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Strategy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Strategy
	for _, st := range m.strategies {
		if st.UserID == userID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, limit, offset), nil
}

// UpdateStatus меняет статус стратегии.
func (m *MemoryStore) UpdateStatus(ctx context.Context, id string, status domain.StrategyStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure(OpUpdateStatus); err != nil {
		return err
	}

	st, ok := m.strategies[id]
	if !ok {
		return ErrNotFound
	}
	st.Status = status
	st.UpdatedAt = time.Now().UTC()
	m.strategies[id] = st
	return nil
}

// Update меняет заданные поля стратегии.
func (m *MemoryStore) Update(ctx context.Context, id string, u StrategyUpdate) (*domain.Strategy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure(OpUpdate); err != nil {
		return nil, err
	}

	st, ok := m.strategies[id]
	if !ok {
		return nil, ErrNotFound
	}
	if u.Name != nil {
		st.Name = *u.Name
	}
	if u.Description != nil {
		st.Description = *u.Description
	}
	if u.Status != nil {
		st.Status = *u.Status
	}
	st.UpdatedAt = time.Now().UTC()
	m.strategies[id] = st
	return &st, nil
}

// Delete удаляет стратегию и её результаты бэктестов; журнал остаётся.
func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure(OpDelete); err != nil {
		return err
	}
	if _, ok := m.strategies[id]; !ok {
		return ErrNotFound
	}
	delete(m.strategies, id)

	kept := m.backtests[:0:0]
	for _, r := range m.backtests {
		if r.StrategyID != id {
			kept = append(kept, r)
		}
	}
	m.backtests = kept
	return nil
}

// ListStalePending возвращает pending стратегии без записи strategy.requested.
func (m *MemoryStore) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.Strategy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	requested := make(map[string]bool)
	for _, entry := range m.logs {
		if entry.EventType == domain.EventStrategyRequested {
			requested[entry.StrategyID] = true
		}
	}

	var out []domain.Strategy
	for _, st := range m.strategies {
		if st.Status == domain.StatusPending && st.CreatedAt.Before(olderThan) && !requested[st.ID] {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return page(out, limit, 0), nil
}

// AppendAuditRecord добавляет запись в журнал.
// Как и Store, требует существующую стратегию.
func (m *MemoryStore) AppendAuditRecord(ctx context.Context, strategyID, eventType string, payload map[string]any) (*domain.EventLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure(OpAppendAuditRecord); err != nil {
		return nil, err
	}
	if _, ok := m.strategies[strategyID]; !ok {
		return nil, ErrNotFound
	}
	if payload == nil {
		payload = map[string]any{}
	}

	entry := domain.EventLog{
		ID:         uuid.NewString(),
		StrategyID: strategyID,
		EventType:  eventType,
		Payload:    payload,
		Timestamp:  time.Now().UTC(),
	}
	m.logs = append(m.logs, entry)
	return &entry, nil
}

// ListEventLogs возвращает журнал стратегии, новые записи первыми.
func (m *MemoryStore) ListEventLogs(ctx context.Context, strategyID string, limit int) ([]domain.EventLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.EventLog
	for i := len(m.logs) - 1; i >= 0; i-- {
		if m.logs[i].StrategyID == strategyID {
			out = append(out, m.logs[i])
		}
	}
	return page(out, limit, 0), nil
}

// CreateBacktestResult сохраняет результат бэктеста.
func (m *MemoryStore) CreateBacktestResult(ctx context.Context, r *domain.BacktestResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure(OpCreateBacktestResult); err != nil {
		return err
	}
	if _, ok := m.strategies[r.StrategyID]; !ok {
		return ErrNotFound
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.TestedAt.IsZero() {
		r.TestedAt = time.Now().UTC()
	}
	m.backtests = append(m.backtests, *r)
	return nil
}

// LatestBacktest возвращает последний результат бэктеста стратегии.
func (m *MemoryStore) LatestBacktest(ctx context.Context, strategyID string) (*domain.BacktestResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.backtests) - 1; i >= 0; i-- {
		if m.backtests[i].StrategyID == strategyID {
			r := m.backtests[i]
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

// BacktestCount возвращает число результатов бэктеста стратегии.
func (m *MemoryStore) BacktestCount(strategyID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, r := range m.backtests {
		if r.StrategyID == strategyID {
			n++
		}
	}
	return n
}

// InTx выполняет fn; при ошибке или панике состояние откатывается.
func (m *MemoryStore) InTx(ctx context.Context, fn func(tx Repository) error) (err error) {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snap := m.snapshot()

	defer func() {
		if p := recover(); p != nil {
			m.restore(snap)
			panic(p)
		}
		if err != nil {
			m.restore(snap)
		}
	}()

	return fn(memoryTx{m})
}

// memoryTx — вложенный InTx выполняется в той же транзакции.
type memoryTx struct {
	*MemoryStore
}

func (t memoryTx) InTx(ctx context.Context, fn func(tx Repository) error) error {
	return fn(t)
}

type memorySnapshot struct {
	strategies map[string]domain.Strategy
	logs       []domain.EventLog
	backtests  []domain.BacktestResult
}

func (m *MemoryStore) snapshot() memorySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	strategies := make(map[string]domain.Strategy, len(m.strategies))
	for id, st := range m.strategies {
		strategies[id] = st
	}
	return memorySnapshot{
		strategies: strategies,
		logs:       append([]domain.EventLog(nil), m.logs...),
		backtests:  append([]domain.BacktestResult(nil), m.backtests...),
	}
}

func (m *MemoryStore) restore(s memorySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.strategies = s.strategies
	m.logs = s.logs
	m.backtests = s.backtests
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

var (
	_ Repository = (*MemoryStore)(nil)
	_ Repository = memoryTx{}
)
