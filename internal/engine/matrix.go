package engine

import (
	"fmt"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Expand разворачивает декартово произведение осей в набор JobSpec.
//
// Для осей размеров s1..sN возвращает ровно s1×...×sN различных
// назначений. Порядок — "одометр": последняя объявленная ось меняется
// быстрее всех. При одинаковом порядке объявления результат всегда
// одинаковый, что делает логи воспроизводимыми.
//
// Пустая матрица — ошибка ErrNoAxes; workflow без матрицы
// обрабатывается через ExpandWorkflow.
func Expand(axes domain.Matrix) ([]domain.JobSpec, error) {
	if len(axes) == 0 {
		return nil, ErrNoAxes
	}
	if err := ValidateMatrix(axes); err != nil {
		return nil, err
	}

	total := 1
	for _, axis := range axes {
		total *= axis.Size()
	}

	jobs := make([]domain.JobSpec, 0, total)

	// indices[i] — текущая позиция на оси i
	indices := make([]int, len(axes))
	values := make([]domain.AxisValue, len(axes))

	for {
		for i, axis := range axes {
			values[i] = domain.AxisValue{Axis: axis.Name, Value: axis.Values[indices[i]]}
		}
		jobs = append(jobs, domain.NewJobSpec(values))

		// Инкремент одометра с конца
		pos := len(axes) - 1
		for pos >= 0 {
			indices[pos]++
			if indices[pos] < axes[pos].Size() {
				break
			}
			indices[pos] = 0
			pos--
		}
		if pos < 0 {
			break
		}
	}

	return jobs, nil
}

// ExpandWorkflow возвращает job'ы workflow.
// Без матрицы workflow выполняется одним job'ом с пустым назначением.
func ExpandWorkflow(wf *domain.Workflow) ([]domain.JobSpec, error) {
	if len(wf.Strategy.Matrix) == 0 {
		return []domain.JobSpec{domain.NewJobSpec(nil)}, nil
	}
	return Expand(wf.Strategy.Matrix)
}

// ValidateMatrix проверяет оси: непустые имена и значения, отсутствие дубликатов.
func ValidateMatrix(axes domain.Matrix) error {
	names := make(map[string]bool, len(axes))

	for i, axis := range axes {
		if axis.Name == "" {
			return fmt.Errorf("%w: axis %d", ErrEmptyAxisName, i)
		}
		if names[axis.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateAxis, axis.Name)
		}
		names[axis.Name] = true

		if len(axis.Values) == 0 {
			return fmt.Errorf("%w: %s", ErrEmptyAxis, axis.Name)
		}

		seen := make(map[string]bool, len(axis.Values))
		for _, v := range axis.Values {
			if seen[v] {
				return fmt.Errorf("%w: %s=%s", ErrDuplicateAxisValue, axis.Name, v)
			}
			seen[v] = true
		}
	}

	return nil
}

// MatrixSize возвращает количество job'ов без разворачивания матрицы.
func MatrixSize(axes domain.Matrix) int {
	total := 1
	for _, axis := range axes {
		total *= axis.Size()
	}
	return total
}
