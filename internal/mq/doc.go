// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — соединение с переподключением и сигналом Reconnected
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений в очереди
//   - consumer.go   — RunConsumer и Dispatch: команды run.pending / run.cancel → RunHandler
//
// Типы сообщений:
//   - run.pending    — новый run ожидает выполнения (API, Scheduler → Orchestrator)
//   - run.cancel     — запрос на отмену run (API → Orchestrator)
//   - run.completed  — run завершён (Orchestrator → внешние подписчики)
//
// Exchanges:
//   - conveyor.runs  — события runs
//   - conveyor.dlq   — dead letter queue
package mq
