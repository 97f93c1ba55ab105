package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"time"
)

const (
	defaultOutputLimit = 8 * 1024
	processWaitDelay   = 5 * time.Second
)

// ShellAction — действие для шага типа "shell".
//
// Запускает Run через выбранный интерпретатор в WorkDir с окружением Env.
// stdout и stderr объединяются; в StepOutcome.Output остаётся хвост
// размером OutputLimit, полный вывод пишется в Output запроса.
//
// Ненулевой код выхода — падение шага, ExitCode передаётся как есть.
type ShellAction struct {
	// OutputLimit — сколько байт вывода хранить в результате (default: 8KiB).
	OutputLimit int
}

// Execute выполняет команду.
func (a *ShellAction) Execute(ctx context.Context, req *StepRequest) (*StepOutcome, error) {
	name, args := shellCommand(req.Shell, req.Run)

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = req.WorkDir
	cmd.Env = req.Env
	cmd.WaitDelay = processWaitDelay

	tail := newTailBuffer(a.OutputLimit)
	var out io.Writer = tail
	if req.Output != nil {
		out = io.MultiWriter(tail, req.Output)
	}
	cmd.Stdout = out
	cmd.Stderr = out

	err := cmd.Run()
	outcome := &StepOutcome{Output: tail.String()}

	if err == nil {
		return outcome, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		outcome.ExitCode = exitErr.ExitCode()
		if outcome.ExitCode <= 0 {
			// Процесс убит сигналом (таймаут)
			outcome.ExitCode = 1
			outcome.Error = exitErr.String()
			return outcome, nil
		}
		outcome.Error = fmt.Sprintf("exit status %d", outcome.ExitCode)
		return outcome, nil
	}

	return nil, fmt.Errorf("%w: %s: %v", ErrStepStart, name, err)
}

// shellCommand возвращает интерпретатор и аргументы для скрипта.
//
// sh и bash запускаются с -e, чтобы многострочный скрипт падал
// на первой ошибке, как один шаг.
func shellCommand(shell, script string) (string, []string) {
	if shell == "" {
		shell = defaultShell()
	}

	switch shell {
	case "bash":
		return "bash", []string{"--noprofile", "--norc", "-eo", "pipefail", "-c", script}
	case "pwsh":
		return "pwsh", []string{"-NoProfile", "-NonInteractive", "-Command", script}
	case "cmd":
		return "cmd", []string{"/D", "/C", script}
	default:
		return "sh", []string{"-e", "-c", script}
	}
}

func defaultShell() string {
	if runtime.GOOS == "windows" {
		return "pwsh"
	}
	return "sh"
}
