package domain

// StrategyStatus — статус стратегии в жизненном цикле валидации и тестирования.
//
// Жизненный цикл:
//
//	pending → parsed → validated → tested
//	                 ↘ invalid   ↘ failed
//
// invalid, tested и failed — финальные: для нового цикла нужна новая стратегия.
type StrategyStatus string

const (
	// StatusPending — стратегия создана и ожидает обработки.
	StatusPending StrategyStatus = "pending"

	// StatusParsed — правила стратегии разобраны.
	StatusParsed StrategyStatus = "parsed"

	// StatusValidated — стратегия прошла валидацию.
	StatusValidated StrategyStatus = "validated"

	// StatusInvalid — стратегия не прошла валидацию.
	StatusInvalid StrategyStatus = "invalid"

	// StatusTested — бэктест завершён.
	StatusTested StrategyStatus = "tested"

	// StatusFailed — валидация или бэктест упали с ошибкой.
	StatusFailed StrategyStatus = "failed"
)

// lifecycle — допустимые переходы по документированному графу.
var lifecycle = map[StrategyStatus][]StrategyStatus{
	StatusPending:   {StatusParsed, StatusValidated, StatusInvalid, StatusFailed},
	StatusParsed:    {StatusValidated, StatusInvalid, StatusFailed},
	StatusValidated: {StatusTested, StatusFailed},
}

// IsTerminal возвращает true, если статус финальный.
func (s StrategyStatus) IsTerminal() bool {
	switch s {
	case StatusInvalid, StatusTested, StatusFailed:
		return true
	default:
		return false
	}
}

// Valid проверяет, что статус входит в перечисление.
func (s StrategyStatus) Valid() bool {
	switch s {
	case StatusPending, StatusParsed, StatusValidated, StatusInvalid, StatusTested, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo сообщает, описан ли переход в графе жизненного цикла.
//
// Граф информационный: переходы по событиям применяются безусловно,
// события разных топиков приходят без гарантии порядка.
func (s StrategyStatus) CanTransitionTo(next StrategyStatus) bool {
	for _, allowed := range lifecycle[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// String возвращает строковое представление StrategyStatus.
func (s StrategyStatus) String() string {
	return string(s)
}

// ParseStrategyStatus парсит строку в StrategyStatus.
// Второе значение false, если статус неизвестен.
func ParseStrategyStatus(s string) (StrategyStatus, bool) {
	status := StrategyStatus(s)
	return status, status.Valid()
}
