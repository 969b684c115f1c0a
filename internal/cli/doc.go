// Package cli реализует инструмент командной строки сервиса стратегий.
//
// # Обзор
//
// CLI — клиентская утилита для HTTP API сервиса. Внутренние пакеты
// сервиса не импортирует: типы ответов продублированы в client.go.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент API. Инкапсулирует запросы, разбор ответов
// (data, список с total, error) и ошибки.
//
//	client := cli.NewClient("http://localhost:8084")
//	st, err := client.GetStrategy(id)
//
// ## Output
//
// Форматирование вывода:
//   - таблицы (text/tabwriter) — по умолчанию
//   - JSON с отступами — с флагом --json
//
// Данные пишутся в stdout, сообщения (Success/Error) — в stderr:
// strategy-cli strategy events ID --json | jq .
//
// ## Commands
//
//   - strategy: create, list, show, status, events, metrics, request
//   - event: publish
//
// Группы создаются фабриками (NewStrategyCmd, NewEventCmd), которые
// принимают clientFn и outputFn: Client и Output создаются после
// разбора PersistentFlags.
package cli
