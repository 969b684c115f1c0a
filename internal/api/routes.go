package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Strategies
	mux.Handle("GET /api/v1/strategies", chain(http.HandlerFunc(h.ListStrategies)))
	mux.Handle("POST /api/v1/strategies", chain(http.HandlerFunc(h.CreateStrategy)))
	mux.Handle("POST /api/v1/strategies/validate", chain(http.HandlerFunc(h.ValidateStrategy)))
	mux.Handle("GET /api/v1/strategies/{id}", chain(http.HandlerFunc(h.GetStrategy)))
	mux.Handle("PUT /api/v1/strategies/{id}", chain(http.HandlerFunc(h.UpdateStrategy)))
	mux.Handle("DELETE /api/v1/strategies/{id}", chain(http.HandlerFunc(h.DeleteStrategy)))
	mux.Handle("GET /api/v1/strategies/{id}/status", chain(http.HandlerFunc(h.GetStrategyStatus)))
	mux.Handle("GET /api/v1/strategies/{id}/events", chain(http.HandlerFunc(h.ListStrategyEvents)))
	mux.Handle("GET /api/v1/strategies/{id}/metrics", chain(http.HandlerFunc(h.GetStrategyMetrics)))
	mux.Handle("POST /api/v1/strategies/{id}/request", chain(http.HandlerFunc(h.RequestValidation)))

	// Events
	mux.Handle("POST /api/v1/events", chain(http.HandlerFunc(h.PublishEvent)))

	// Ops: без логирования каждого запроса
	mux.Handle("GET /healthz", Recovery(h.logger)(http.HandlerFunc(h.Health)))
	mux.Handle("GET /metrics", promhttp.Handler())
}
