package api

import (
	"context"
	"net/http"
	"time"
)

const healthDBTimeout = 2 * time.Second

// Health отвечает 200, пока брокер подключён и БД отвечает, иначе 503.
// После исчерпания попыток переподключения сообщает об этом в message.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	status := http.StatusOK

	if h.broker != nil {
		resp.Broker = h.broker.State().String()
		if !h.broker.IsConnected() {
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
		}
		if h.broker.Exhausted() {
			resp.Message = "max reconnect attempts reached"
		}
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthDBTimeout)
		defer cancel()

		resp.Database = "ok"
		if err := h.db.Ping(ctx); err != nil {
			resp.Database = "unavailable"
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
		}
	}

	JSON(w, status, resp)
}
