package api

import (
	"encoding/json"
	"time"

	"github.com/shaiso/strategy-repository/internal/domain"
	"github.com/shaiso/strategy-repository/internal/mq"
)

// Strategy DTOs

// CreateStrategyRequest — запрос на создание стратегии.
type CreateStrategyRequest struct {
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// UpdateStrategyRequest — частичное изменение; отсутствующее поле не меняется.
type UpdateStrategyRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
}

// ValidationResponse — результат проверки без сохранения.
type ValidationResponse struct {
	IsValid          bool     `json:"is_valid"`
	ValidationErrors []string `json:"validation_errors"`
}

// StrategyResponse — ответ со стратегией.
type StrategyResponse struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StrategyFromDomain конвертирует domain.Strategy в StrategyResponse.
func StrategyFromDomain(s domain.Strategy) StrategyResponse {
	return StrategyResponse{
		ID:          s.ID,
		UserID:      s.UserID,
		Name:        s.Name,
		Description: s.Description,
		Status:      s.Status.String(),
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

// CreateStrategyResponse — ответ на создание: стратегия и факт публикации strategy.requested.
type CreateStrategyResponse struct {
	StrategyResponse
	Requested bool `json:"requested"`
}

// RequestResponse — ответ на повторный запрос валидации.
type RequestResponse struct {
	StrategyID string `json:"strategy_id"`
	Requested  bool   `json:"requested"`
}

// EventLog DTOs

// EventLogResponse — запись журнала.
type EventLogResponse struct {
	ID         string         `json:"id"`
	StrategyID string         `json:"strategy_id"`
	EventType  string         `json:"event_type"`
	Payload    map[string]any `json:"payload"`
	Timestamp  time.Time      `json:"timestamp"`
}

// EventLogFromDomain конвертирует domain.EventLog в EventLogResponse.
func EventLogFromDomain(l domain.EventLog) EventLogResponse {
	return EventLogResponse{
		ID:         l.ID,
		StrategyID: l.StrategyID,
		EventType:  l.EventType,
		Payload:    l.Payload,
		Timestamp:  l.Timestamp,
	}
}

// Event DTOs

// PublishEventRequest — запрос на публикацию события.
type PublishEventRequest struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// PublishEventResponse — опубликованный конверт без data.
type PublishEventResponse struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// PublishEventFromEnvelope конвертирует mq.Envelope в PublishEventResponse.
func PublishEventFromEnvelope(env *mq.Envelope) PublishEventResponse {
	return PublishEventResponse{
		EventID:   env.EventID,
		EventType: env.EventType,
		Timestamp: env.Timestamp,
	}
}

// HealthResponse — ответ /healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	Broker   string `json:"broker,omitempty"`
	Database string `json:"database,omitempty"`
	Message  string `json:"message,omitempty"`
}
