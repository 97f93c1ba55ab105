package runner

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Action — интерфейс для выполнения конкретного типа шага.
//
// Реализации: ShellAction, HTTPAction, DelayAction.
//
// Строки запроса уже отрендерены. ctx содержит таймауты шага и job'а,
// но не отмену run'а.
//
// Ошибка из Execute означает, что действие не удалось даже запустить;
// ненулевой ExitCode или непустой Error в StepOutcome — обычное падение шага.
type Action interface {
	Execute(ctx context.Context, req *StepRequest) (*StepOutcome, error)
}

// StepRequest — отрендеренный шаг, готовый к выполнению.
type StepRequest struct {
	// Index — позиция шага в workflow.
	Index int

	// Name — имя шага для логов.
	Name string

	// Run — команда shell-шага.
	Run string

	// Shell — интерпретатор shell-шага.
	Shell string

	// With — параметры остальных действий.
	With map[string]string

	// Env — окружение процесса в формате KEY=VALUE.
	Env []string

	// WorkDir — рабочий каталог.
	WorkDir string

	// Output — поток вывода шага (лог job'а). Может быть nil.
	Output io.Writer
}

// StepOutcome — результат выполнения действия.
type StepOutcome struct {
	// ExitCode — код завершения процесса (0 при успехе).
	ExitCode int

	// Output — хвост объединённого stdout/stderr.
	Output string

	// Error — описание логической ошибки.
	Error string
}

// Failed возвращает true, если действие завершилось неуспешно.
func (o *StepOutcome) Failed() bool {
	return o.ExitCode != 0 || o.Error != ""
}

// Registry — реестр действий по типу шага.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry создаёт реестр с зарегистрированными действиями по умолчанию.
//
// Регистрирует: shell, http, delay.
func NewRegistry() *Registry {
	r := &Registry{actions: make(map[string]Action)}
	r.Register("shell", &ShellAction{})
	r.Register("http", &HTTPAction{})
	r.Register("delay", &DelayAction{})
	return r
}

// Register добавляет действие для типа шага.
func (r *Registry) Register(name string, action Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[name] = action
}

// Get возвращает действие для типа шага.
func (r *Registry) Get(name string) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	action, ok := r.actions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, name)
	}
	return action, nil
}

// tailBuffer хранит последние limit байт записанного вывода.
type tailBuffer struct {
	mu        sync.Mutex
	buf       []byte
	limit     int
	truncated bool
}

func newTailBuffer(limit int) *tailBuffer {
	if limit <= 0 {
		limit = defaultOutputLimit
	}
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
		b.truncated = true
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.truncated {
		return "..." + string(b.buf)
	}
	return string(b.buf)
}

// truncate обрезает строку до указанной длины.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
