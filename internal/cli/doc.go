// Package cli реализует инструмент командной строки Conveyor.
//
// # Обзор
//
// CLI работает в двух режимах:
//   - локально: exec, matrix, validate читают workflow-файл и выполняют
//     его в текущем процессе (тот же Coordinator, что и в оркестраторе)
//   - удалённо: trigger, run, workflow обращаются к Conveyor API по HTTP
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Conveyor API. Инкапсулирует все HTTP-запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse)
// и обработку ошибок. Типы ответов дублируются: клиент не импортирует
// internal/api.
//
//	client := cli.NewClient("http://localhost:8080")
//	runs, err := client.Trigger(cli.TriggerRequest{Event: "workflow_dispatch"})
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения, логи и вывод шагов — в stderr.
// Это позволяет использовать pipe: conveyor run list --json | jq .
//
// ## Commands
//
// Каждая команда создаётся фабричной функцией (NewRunCmd, NewExecCmd
// и т.д.), принимающей clientFn и outputFn — замыкания для ленивого
// создания Client и Output после парсинга PersistentFlags.
//
// exec возвращает *ExitError с кодом run, чтобы main завершил процесс
// с тем же кодом.
package cli
