package runner

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// DelayAction — действие для шага типа "delay".
//
// Ожидает указанное количество секунд, например пока поднимется
// сервис, запущенный предыдущим шагом. Поддерживает отмену через context.
//
// Параметры (из With):
//   - duration_sec: длительность задержки в секундах (default: 1)
type DelayAction struct{}

// Execute выполняет задержку.
func (a *DelayAction) Execute(ctx context.Context, req *StepRequest) (*StepOutcome, error) {
	durationSec := 1.0
	if raw, ok := req.With["duration_sec"]; ok {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid duration_sec %q: %w", raw, err)
		}
		durationSec = v
	}

	if durationSec <= 0 {
		durationSec = 1
	}

	duration := time.Duration(durationSec * float64(time.Second))

	timer := time.NewTimer(duration)
	defer timer.Stop()

	// Context-aware ожидание
	select {
	case <-timer.C:
		return &StepOutcome{Output: fmt.Sprintf("delayed %gs", durationSec)}, nil
	case <-ctx.Done():
		return &StepOutcome{ExitCode: 1, Error: ctx.Err().Error()}, nil
	}
}
