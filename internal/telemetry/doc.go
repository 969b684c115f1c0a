// Package telemetry обеспечивает наблюдаемость сервиса.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики брокера и жизненного цикла
//
// Сервисы используют единый формат логирования
// и экспортируют метрики на /metrics endpoint.
package telemetry
