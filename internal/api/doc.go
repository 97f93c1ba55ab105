// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go          — Handler с DI (каталог, хранилища, publisher, logger)
//   - routes.go           — регистрация маршрутов
//   - middleware.go       — middleware (request id, logging, recovery)
//   - response.go         — унифицированные JSON-ответы и обработка ошибок
//   - dto.go              — Data Transfer Objects (request/response)
//   - event_handler.go    — приём событий (pull_request, workflow_dispatch)
//   - workflow_handler.go — обработчики для /workflows
//   - run_handler.go      — обработчики для /runs
//
// API принимает события, создаёт по ним runs и отдаёт их состояние.
// Выполняет runs сервис orchestrator.
package api
