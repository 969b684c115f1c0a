package lifecycle

import "github.com/shaiso/strategy-repository/internal/domain"

// Transition — эффект события на статус стратегии.
type Transition struct {
	Event string

	// Target — новый статус; пустой — статус не меняется.
	Target domain.StrategyStatus
}

// ChangesStatus сообщает, меняет ли событие статус.
func (t Transition) ChangesStatus() bool {
	return t.Target != ""
}

var transitions = map[string]Transition{
	domain.EventStrategyValidated:   {Event: domain.EventStrategyValidated, Target: domain.StatusValidated},
	domain.EventStrategyInvalidated: {Event: domain.EventStrategyInvalidated, Target: domain.StatusInvalid},
	domain.EventBacktestCompleted:   {Event: domain.EventBacktestCompleted, Target: domain.StatusTested},
	domain.EventStrategyFailed:      {Event: domain.EventStrategyFailed, Target: domain.StatusFailed},
	domain.EventBacktestFailed:      {Event: domain.EventBacktestFailed, Target: domain.StatusFailed},
	domain.EventEvaluationCompleted: {Event: domain.EventEvaluationCompleted},
}

// Lookup возвращает переход для события.
func Lookup(event string) (Transition, bool) {
	t, ok := transitions[event]
	return t, ok
}

// expected сообщает, описан ли переход from → t.Target в графе.
// Событие без смены статуса и повтор текущего статуса считаются ожидаемыми.
func (t Transition) expected(from domain.StrategyStatus) bool {
	if !t.ChangesStatus() || from == t.Target {
		return true
	}
	return from.CanTransitionTo(t.Target)
}
