package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/shaiso/strategy-repository/internal/strategy"
)

// ListStrategies возвращает стратегии пользователя.
// GET /api/v1/strategies?user_id=...&limit=10&offset=0
func (h *Handler) ListStrategies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	userID := q.Get("user_id")
	if userID == "" {
		BadRequest(w, "user_id is required")
		return
	}

	limit := parseInt(q.Get("limit"), 10)
	offset := parseInt(q.Get("offset"), 0)

	list, err := h.service.ListByUser(r.Context(), userID, limit, offset)
	if HandleError(w, h.logger, err, "") {
		return
	}

	result := make([]StrategyResponse, len(list))
	for i, s := range list {
		result[i] = StrategyFromDomain(s)
	}

	List(w, result, len(result))
}

// CreateStrategy создаёт стратегию и публикует strategy.requested.
// POST /api/v1/strategies
func (h *Handler) CreateStrategy(w http.ResponseWriter, r *http.Request) {
	var req CreateStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	created, err := h.service.Create(r.Context(), strategy.CreateInput{
		UserID:      req.UserID,
		Name:        req.Name,
		Description: req.Description,
	})
	if HandleError(w, h.logger, err, "") {
		return
	}

	Created(w, CreateStrategyResponse{
		StrategyResponse: StrategyFromDomain(*created.Strategy),
		Requested:        created.Requested,
	})
}

// ValidateStrategy проверяет данные стратегии без сохранения.
// POST /api/v1/strategies/validate
func (h *Handler) ValidateStrategy(w http.ResponseWriter, r *http.Request) {
	var req CreateStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	report := h.service.Validate(strategy.CreateInput{
		UserID:      req.UserID,
		Name:        req.Name,
		Description: req.Description,
	})

	Success(w, ValidationResponse{
		IsValid:          report.IsValid,
		ValidationErrors: report.ValidationErrors,
	})
}

// UpdateStrategy меняет поля стратегии.
// PUT /api/v1/strategies/{id}
func (h *Handler) UpdateStrategy(w http.ResponseWriter, r *http.Request) {
	var req UpdateStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	st, err := h.service.Update(r.Context(), r.PathValue("id"), strategy.UpdateInput{
		Name:        req.Name,
		Description: req.Description,
		Status:      req.Status,
	})
	if HandleError(w, h.logger, err, "strategy not found") {
		return
	}

	Success(w, StrategyFromDomain(*st))
}

// DeleteStrategy удаляет стратегию.
// DELETE /api/v1/strategies/{id}
func (h *Handler) DeleteStrategy(w http.ResponseWriter, r *http.Request) {
	err := h.service.Delete(r.Context(), r.PathValue("id"))
	if HandleError(w, h.logger, err, "strategy not found") {
		return
	}

	NoContent(w)
}

// GetStrategy возвращает стратегию по ID.
// GET /api/v1/strategies/{id}
func (h *Handler) GetStrategy(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Get(r.Context(), r.PathValue("id"))
	if HandleError(w, h.logger, err, "strategy not found") {
		return
	}

	Success(w, StrategyFromDomain(*st))
}

// GetStrategyStatus возвращает статус стратегии.
// GET /api/v1/strategies/{id}/status
func (h *Handler) GetStrategyStatus(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.Status(r.Context(), r.PathValue("id"))
	if HandleError(w, h.logger, err, "strategy not found") {
		return
	}

	Success(w, info)
}

// ListStrategyEvents возвращает журнал стратегии.
// GET /api/v1/strategies/{id}/events?limit=50
func (h *Handler) ListStrategyEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// Проверяем, что стратегия существует
	if _, err := h.service.Get(r.Context(), id); HandleError(w, h.logger, err, "strategy not found") {
		return
	}

	limit := parseInt(r.URL.Query().Get("limit"), strategy.DefaultEventLogLimit)

	logs, err := h.service.EventLogs(r.Context(), id, limit)
	if HandleError(w, h.logger, err, "") {
		return
	}

	result := make([]EventLogResponse, len(logs))
	for i, l := range logs {
		result[i] = EventLogFromDomain(l)
	}

	List(w, result, len(result))
}

// GetStrategyMetrics возвращает сводку по стратегии.
// GET /api/v1/strategies/{id}/metrics
func (h *Handler) GetStrategyMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.Metrics(r.Context(), r.PathValue("id"))
	if HandleError(w, h.logger, err, "strategy not found") {
		return
	}

	Success(w, m)
}

// RequestValidation повторно публикует strategy.requested.
// POST /api/v1/strategies/{id}/request
func (h *Handler) RequestValidation(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Get(r.Context(), r.PathValue("id"))
	if HandleError(w, h.logger, err, "strategy not found") {
		return
	}

	ok, err := h.service.RequestValidation(r.Context(), st)
	if HandleError(w, h.logger, err, "") {
		return
	}

	Accepted(w, RequestResponse{StrategyID: st.ID, Requested: ok})
}

// parseInt парсит неотрицательное число с дефолтным значением.
func parseInt(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}
