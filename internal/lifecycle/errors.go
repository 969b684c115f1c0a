package lifecycle

import "errors"

// Ошибки машины состояний.
var (
	// ErrMissingStrategyID — в data события нет strategy_id.
	ErrMissingStrategyID = errors.New("event has no strategy_id")

	// ErrMalformedEvent — data события не разобрано.
	ErrMalformedEvent = errors.New("malformed event data")

	// ErrUnknownEvent — событие не описано в таблице переходов.
	ErrUnknownEvent = errors.New("unknown lifecycle event")
)
