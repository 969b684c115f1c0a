package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// StrategyResponse — стратегия из API.
type StrategyResponse struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
	Requested   *bool  `json:"requested,omitempty"`
}

// StatusResponse — статус стратегии.
type StatusResponse struct {
	StrategyID string `json:"strategy_id"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

// EventLogResponse — запись журнала.
type EventLogResponse struct {
	ID         string         `json:"id"`
	StrategyID string         `json:"strategy_id"`
	EventType  string         `json:"event_type"`
	Payload    map[string]any `json:"payload"`
	Timestamp  string         `json:"timestamp"`
}

// MetricsResponse — сводка по стратегии.
type MetricsResponse struct {
	StrategyID     string `json:"strategy_id"`
	Name           string `json:"name"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
	LatestBacktest *struct {
		PerformanceMetrics map[string]any `json:"performance_metrics"`
		TestedAt           string         `json:"tested_at"`
	} `json:"latest_backtest"`
	RecentEvents []struct {
		EventType string         `json:"event_type"`
		Timestamp string         `json:"timestamp"`
		Payload   map[string]any `json:"payload"`
	} `json:"recent_events"`
}

// RequestResponse — результат повторного запроса валидации.
type RequestResponse struct {
	StrategyID string `json:"strategy_id"`
	Requested  bool   `json:"requested"`
}

// ValidationResponse — результат проверки без сохранения.
type ValidationResponse struct {
	IsValid          bool     `json:"is_valid"`
	ValidationErrors []string `json:"validation_errors"`
}

// PublishResponse — опубликованное событие.
type PublishResponse struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Timestamp string `json:"timestamp"`
}

// --- Request types ---

// CreateStrategyRequest — создание стратегии.
type CreateStrategyRequest struct {
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// UpdateStrategyRequest — изменение стратегии; nil поля не отправляются.
type UpdateStrategyRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
}

// ListStrategiesOpts — параметры списка стратегий.
type ListStrategiesOpts struct {
	UserID string
	Limit  int
	Offset int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError — ответ API с ошибкой.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// --- Client ---

// Client — HTTP-клиент API сервиса стратегий.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Strategies ---

// CreateStrategy создаёт стратегию.
func (c *Client) CreateStrategy(req CreateStrategyRequest) (*StrategyResponse, error) {
	var st StrategyResponse
	err := c.post("/api/v1/strategies", req, &st)
	return &st, err
}

// ListStrategies возвращает стратегии пользователя.
func (c *Client) ListStrategies(opts ListStrategiesOpts) ([]StrategyResponse, error) {
	params := url.Values{}
	params.Set("user_id", opts.UserID)
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}

	var list []StrategyResponse
	err := c.list("/api/v1/strategies", params, &list)
	return list, err
}

// GetStrategy возвращает стратегию по ID.
func (c *Client) GetStrategy(id string) (*StrategyResponse, error) {
	var st StrategyResponse
	err := c.get("/api/v1/strategies/"+url.PathEscape(id), &st)
	return &st, err
}

// UpdateStrategy меняет поля стратегии.
func (c *Client) UpdateStrategy(id string, req UpdateStrategyRequest) (*StrategyResponse, error) {
	var st StrategyResponse
	err := c.put("/api/v1/strategies/"+url.PathEscape(id), req, &st)
	return &st, err
}

// DeleteStrategy удаляет стратегию.
func (c *Client) DeleteStrategy(id string) error {
	return c.delete("/api/v1/strategies/" + url.PathEscape(id))
}

// ValidateStrategy проверяет данные стратегии без сохранения.
func (c *Client) ValidateStrategy(req CreateStrategyRequest) (*ValidationResponse, error) {
	var r ValidationResponse
	err := c.post("/api/v1/strategies/validate", req, &r)
	return &r, err
}

// GetStatus возвращает статус стратегии.
func (c *Client) GetStatus(id string) (*StatusResponse, error) {
	var st StatusResponse
	err := c.get("/api/v1/strategies/"+url.PathEscape(id)+"/status", &st)
	return &st, err
}

// ListEvents возвращает журнал стратегии, новые записи первыми.
func (c *Client) ListEvents(id string, limit int) ([]EventLogResponse, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var logs []EventLogResponse
	err := c.list("/api/v1/strategies/"+url.PathEscape(id)+"/events", params, &logs)
	return logs, err
}

// GetMetrics возвращает сводку по стратегии.
func (c *Client) GetMetrics(id string) (*MetricsResponse, error) {
	var m MetricsResponse
	err := c.get("/api/v1/strategies/"+url.PathEscape(id)+"/metrics", &m)
	return &m, err
}

// RequestValidation повторно публикует strategy.requested.
func (c *Client) RequestValidation(id string) (*RequestResponse, error) {
	var r RequestResponse
	err := c.post("/api/v1/strategies/"+url.PathEscape(id)+"/request", nil, &r)
	return &r, err
}

// --- Events ---

// PublishEvent публикует событие с произвольным data.
func (c *Client) PublishEvent(topic string, data json.RawMessage) (*PublishResponse, error) {
	body := map[string]any{"topic": topic}
	if len(data) > 0 {
		body["data"] = data
	}

	var r PublishResponse
	err := c.post("/api/v1/events", body, &r)
	return &r, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) put(path string, body any, result any) error {
	return c.doData(http.MethodPut, path, body, result)
}

func (c *Client) delete(path string) error {
	return c.doData(http.MethodDelete, path, nil, nil)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return &APIError{Status: resp.StatusCode}
	}

	return &APIError{Status: resp.StatusCode, Code: er.Error.Code, Message: er.Error.Message}
}
