// Package api содержит HTTP API сервиса стратегий.
//
// Структура:
//   - handler.go          — Handler с DI (сервис, publisher, состояние брокера, logger)
//   - routes.go           — регистрация маршрутов
//   - middleware.go       — middleware (logging, recovery)
//   - response.go         — унифицированные JSON-ответы и обработка ошибок
//   - dto.go              — Data Transfer Objects (request/response)
//   - strategy_handler.go — обработчики для /strategies
//   - event_handler.go    — ручная публикация событий
//   - health.go           — /healthz
//
// /metrics отдаётся promhttp и в этом пакете не обрабатывается.
package api
