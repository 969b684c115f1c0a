package domain

// Топики событий (routing keys).
const (
	// Публикуемые.
	EventStrategyRequested = "strategy.requested"

	// Только аудит, в брокер не публикуются.
	EventStrategyCreated = "strategy.created"
	EventStrategyUpdated = "strategy.updated"
	EventStrategyDeleted = "strategy.deleted"

	// Потребляемые от воркеров.
	EventStrategyValidated   = "strategy.validated"
	EventStrategyInvalidated = "strategy.invalidated"
	EventBacktestCompleted   = "backtest.completed"
	EventStrategyFailed      = "strategy.failed"
	EventBacktestFailed      = "backtest.failed"
	EventEvaluationCompleted = "evaluation.completed"
)

// ConsumedEvents возвращает топики, на которые подписывается сервис.
func ConsumedEvents() []string {
	return []string{
		EventStrategyValidated,
		EventStrategyInvalidated,
		EventBacktestCompleted,
		EventStrategyFailed,
		EventBacktestFailed,
		EventEvaluationCompleted,
	}
}
