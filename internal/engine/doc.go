// Package engine содержит разбор и статический анализ workflow.
//
// Включает:
//   - parser.go   — парсинг Workflow из YAML и валидация
//   - catalog.go  — каталог workflow из WORKFLOW_DIR
//   - matrix.go   — разворачивание матрицы в набор JobSpec
//   - guard.go    — guard-выражения шагов (if:) над значениями матрицы
//   - template.go — рендеринг Go templates ({{ .Matrix.os }})
//
// Engine ничего не выполняет: он отвечает на вопросы "какие job'ы
// существуют" и "какие шаги применимы к job'у". Выполнение — в runner.
package engine
