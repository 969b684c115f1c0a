package dispatcher

import (
	"errors"
	"fmt"
)

// Ошибки диспетчера.
var (
	// ErrDuplicateHandler — на топик уже зарегистрирован обработчик.
	ErrDuplicateHandler = errors.New("handler already registered for topic")

	// ErrNoHandler — для топика нет обработчика.
	ErrNoHandler = errors.New("no handler for topic")

	// ErrEmptyTopic — пустой топик при регистрации.
	ErrEmptyTopic = errors.New("empty topic")
)

// HandlerError — обработчик события завершился ошибкой или паникой.
type HandlerError struct {
	Topic   string
	EventID string
	Err     error
}

func (e *HandlerError) Error() string {
	if e.EventID != "" {
		return fmt.Sprintf("handle %s (event %s): %v", e.Topic, e.EventID, e.Err)
	}
	return fmt.Sprintf("handle %s: %v", e.Topic, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
