package lifecycle

// ValidationEvent — data событий strategy.validated и strategy.invalidated.
type ValidationEvent struct {
	StrategyID         string         `json:"strategy_id"`
	ValidationMessages []any          `json:"validation_messages"`
	RiskAssessment     map[string]any `json:"risk_assessment"`
}

// BacktestCompletedEvent — data события backtest.completed.
type BacktestCompletedEvent struct {
	StrategyID         string         `json:"strategy_id"`
	UserID             string         `json:"user_id"`
	PerformanceMetrics map[string]any `json:"performance_metrics"`
	TradeLog           []any          `json:"trade_log"`
}

// FailureEvent — data событий strategy.failed и backtest.failed.
//
// Error не типизирован: воркеры присылают и строку, и объект.
type FailureEvent struct {
	StrategyID string `json:"strategy_id"`
	Error      any    `json:"error"`
}

// EvaluationEvent — data события evaluation.completed.
type EvaluationEvent struct {
	StrategyID       string `json:"strategy_id"`
	AIScore          any    `json:"ai_score"`
	AIRecommendation any    `json:"ai_recommendation"`
	RiskLevel        any    `json:"risk_level"`
	Confidence       any    `json:"confidence"`
}
