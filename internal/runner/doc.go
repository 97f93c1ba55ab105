// Package runner выполняет шаги одного job'а.
//
// Runner получает JobSpec и список шагов workflow и:
//   - Готовит workspace и job-локальное окружение (Env)
//   - Вычисляет guard каждого шага против JobSpec
//   - Выполняет применимые шаги строго по порядку через Action
//   - Останавливает job на первом упавшем шаге
//   - Собирает артефакты шагов для Artifact Reporter
//
// Действия (Action):
//   - shell — команда оболочки (sh, bash, pwsh, cmd)
//   - http  — HTTP-запрос (health-check, webhook)
//   - delay — пауза
//
// Шаг может менять окружение следующих шагов через command-файлы:
//
//	echo "VIRTUAL_ENV=/opt/venv" >> "$CONVEYOR_ENV"
//	echo "/opt/venv/bin" >> "$CONVEYOR_PATH"
//
// Изменения видны только последующим шагам этого же job'а.
//
// Отмена run'а не прерывает выполняющийся шаг: job останавливается
// перед следующим шагом. Таймауты шага и job'а, напротив, убивают процесс.
package runner
