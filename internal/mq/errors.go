package mq

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Ошибки брокера.
var (
	// ErrNoChannel — канал недоступен (нет соединения или идёт переподключение).
	ErrNoChannel = errors.New("no channel available")

	// ErrMaxReconnectExceeded — исчерпаны попытки переподключения.
	// Дальше нужен ручной перезапуск процесса.
	ErrMaxReconnectExceeded = errors.New("max reconnect attempts reached")

	// ErrClosed — соединение закрыто через Disconnect.
	ErrClosed = errors.New("connection closed")

	// ErrBusClosed — шина остановлена.
	ErrBusClosed = errors.New("event bus closed")

	// ErrEmptyTopic — пустой routing key.
	ErrEmptyTopic = errors.New("empty topic")
)

// ConnectError — брокер недоступен или отказал в аутентификации.
type ConnectError struct {
	URL       string
	Attempt   int
	Err       error
	Timestamp time.Time
}

func (e *ConnectError) Error() string {
	if e.Attempt > 0 {
		return fmt.Sprintf("connect to %s (attempt %d): %v", e.URL, e.Attempt, e.Err)
	}
	return fmt.Sprintf("connect to %s: %v", e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// PublishError — публикация не принята.
type PublishError struct {
	Topic   string
	EventID string
	Err     error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// DecodeError — тело сообщения не является корректным конвертом.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode envelope: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// SanitizeURL скрывает пароль в URL брокера для логов.
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid-url"
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
	}
	return u.String()
}
