// Package dispatcher маршрутизирует события шины к обработчикам по топику.
//
// Один обработчик на топик. Ошибка или паника обработчика превращается
// в *HandlerError и возвращается циклу потребления, который решает
// судьбу сообщения (nack с requeue или dead-letter). Соседние топики
// и следующие сообщения это не затрагивает.
package dispatcher
