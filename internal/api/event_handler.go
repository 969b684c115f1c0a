package api

import (
	"encoding/json"
	"net/http"
)

// PublishEvent публикует произвольное событие в exchange.
// Используется для ручного управления воркерами и отладки.
// POST /api/v1/events
func (h *Handler) PublishEvent(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		Unavailable(w, "publisher is not configured")
		return
	}

	var req PublishEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Topic == "" {
		BadRequest(w, "topic is required")
		return
	}

	env, err := h.publisher.Publish(r.Context(), req.Topic, req.Data)
	if HandleError(w, h.logger, err, "") {
		return
	}

	h.logger.Info("event published via api", "topic", req.Topic, "event_id", env.EventID)
	Accepted(w, PublishEventFromEnvelope(env))
}
