// Package strategy — сторона производителя: создание стратегий,
// публикация strategy.requested и запросы на чтение.
//
// Публикация не повторяется внутри сервиса: стратегии, для которых
// strategy.requested не был принят брокером, подбирает resubmit.
package strategy
