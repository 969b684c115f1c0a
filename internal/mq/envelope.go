package mq

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope — конверт события на шине.
type Envelope struct {
	// EventID — уникальный идентификатор (UUID v4).
	EventID string `json:"event_id"`

	// EventType — топик события.
	EventType string `json:"event_type"`

	// Timestamp — время публикации, UTC.
	Timestamp time.Time `json:"timestamp"`

	// Data — полезная нагрузка, как есть.
	Data json.RawMessage `json:"data"`

	// Metadata — источник и версия издателя.
	Metadata map[string]any `json:"metadata,omitempty"`
}

var emptyData = json.RawMessage(`{}`)

// NewEnvelope собирает конверт для публикации.
// nil data сериализуется как пустой объект.
func NewEnvelope(topic string, data any, metadata map[string]any) (*Envelope, error) {
	raw, err := marshalData(data)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		EventID:   uuid.New().String(),
		EventType: topic,
		Timestamp: time.Now().UTC(),
		Data:      raw,
		Metadata:  metadata,
	}, nil
}

func marshalData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return emptyData, nil
	case json.RawMessage:
		if len(v) == 0 {
			return emptyData, nil
		}
		if !json.Valid(v) {
			return nil, errors.New("data is not valid JSON")
		}
		return v, nil
	case []byte:
		if len(v) == 0 {
			return emptyData, nil
		}
		if !json.Valid(v) {
			return nil, errors.New("data is not valid JSON")
		}
		return json.RawMessage(v), nil
	}

	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal data: %w", err)
	}
	if string(b) == "null" {
		return emptyData, nil
	}
	return b, nil
}

// DecodeEnvelope разбирает тело сообщения.
// Возвращает *DecodeError, если тело не JSON-объект конверта.
func DecodeEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		env.Data = emptyData
	}
	return &env, nil
}

// ParseData разбирает Data конверта в указанный тип.
func ParseData[T any](env *Envelope) (T, error) {
	var result T

	if err := json.Unmarshal(env.Data, &result); err != nil {
		return result, fmt.Errorf("unmarshal data: %w", err)
	}

	return result, nil
}
