// Package lifecycle реализует машину состояний стратегии.
//
// Машина применяет события воркеров к стратегии:
//   - transitions.go — таблица событие → целевой статус
//   - machine.go — применение перехода в одной транзакции хранилища
//   - handlers.go — обработчики шести топиков для dispatcher.Dispatcher
//   - events.go — поля data входящих событий
//
// Переходы безусловны относительно текущего статуса: события разных
// топиков приходят без гарантии порядка. Переход вне документированного
// графа пишется в лог с уровнем WARN и учитывается в метрике.
package lifecycle
