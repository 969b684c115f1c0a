package domain

import "time"

// Strategy — торговая стратегия пользователя.
//
// Статус меняется только машиной состояний в ответ на события
// от внешних воркеров валидации и бэктестинга.
type Strategy struct {
	// ID — уникальный идентификатор стратегии.
	ID string `json:"id"`

	// UserID — владелец стратегии.
	UserID string `json:"user_id"`

	// Name — название стратегии.
	Name string `json:"name"`

	// Description — описание (опционально).
	Description string `json:"description,omitempty"`

	// Status — текущий статус жизненного цикла.
	Status StrategyStatus `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsFinished возвращает true, если стратегия в финальном статусе.
func (s *Strategy) IsFinished() bool {
	return s.Status.IsTerminal()
}

// EventLog — запись аудита по событию стратегии.
//
// Записи только добавляются: не изменяются и не удаляются.
// Упорядочены по Timestamp, глобального порядка нет.
type EventLog struct {
	ID         string         `json:"id"`
	StrategyID string         `json:"strategy_id"`
	EventType  string         `json:"event_type"`
	Payload    map[string]any `json:"payload"`
	Timestamp  time.Time      `json:"timestamp"`
}

// BacktestResult — результат бэктеста стратегии.
type BacktestResult struct {
	ID                 string         `json:"id"`
	StrategyID         string         `json:"strategy_id"`
	UserID             string         `json:"user_id,omitempty"`
	PerformanceMetrics map[string]any `json:"performance_metrics"`
	TradeLog           []any          `json:"trade_log"`
	TestedAt           time.Time      `json:"tested_at"`
}
