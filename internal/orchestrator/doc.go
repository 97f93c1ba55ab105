// Package orchestrator выполняет runs.
//
// Coordinator — ядро: разворачивает матрицу workflow в job'ы, выполняет
// их параллельно (не больше max_parallel одновременно), сохраняет
// результаты, вызывает Artifact Reporter и финализирует run
// (SUCCEEDED/FAILED/CANCELLED).
//
// Orchestrator — сервис вокруг Coordinator:
//   - Получает новые runs из очереди runs.pending (и polling БД как fallback)
//   - Получает запросы на отмену из runs.cancel
//   - Сохраняет итоговое состояние run'а и публикует run.completed
//
// Coordinator не зависит от БД и RabbitMQ, поэтому его же использует
// локальная команда "conveyor exec".
package orchestrator
