package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// AxisValue — выбранное значение одной оси.
type AxisValue struct {
	Axis  string `json:"axis"`
	Value string `json:"value"`
}

// JobSpec — неизменяемое назначение "ось → значение", по одному на ось.
//
// Создаётся Matrix Expander'ом при диспатче run'а, потребляется
// исполнителем шагов и выбрасывается после завершения job'а.
// Порядок значений совпадает с порядком объявления осей.
type JobSpec struct {
	values []AxisValue
}

// NewJobSpec создаёт JobSpec из упорядоченных значений.
// Слайс копируется, поэтому JobSpec не зависит от вызывающего кода.
func NewJobSpec(values []AxisValue) JobSpec {
	cp := make([]AxisValue, len(values))
	copy(cp, values)
	return JobSpec{values: cp}
}

// Get возвращает значение оси и признак её наличия.
func (j JobSpec) Get(axis string) (string, bool) {
	for _, v := range j.values {
		if v.Axis == axis {
			return v.Value, true
		}
	}
	return "", false
}

// Values возвращает копию назначений.
func (j JobSpec) Values() []AxisValue {
	cp := make([]AxisValue, len(j.values))
	copy(cp, j.values)
	return cp
}

// Map возвращает назначения как map (для шаблонов).
func (j JobSpec) Map() map[string]string {
	m := make(map[string]string, len(j.values))
	for _, v := range j.values {
		m[v.Axis] = v.Value
	}
	return m
}

// Len возвращает количество осей.
func (j JobSpec) Len() int {
	return len(j.values)
}

// Key — стабильный идентификатор job'а: "os=ubuntu,python-version=3.11".
// Для job'а без матрицы — "default".
func (j JobSpec) Key() string {
	if len(j.values) == 0 {
		return "default"
	}
	parts := make([]string, len(j.values))
	for i, v := range j.values {
		parts[i] = v.Axis + "=" + v.Value
	}
	return strings.Join(parts, ",")
}

// Name — имя для вывода: "ubuntu, 3.11".
func (j JobSpec) Name() string {
	if len(j.values) == 0 {
		return "default"
	}
	parts := make([]string, len(j.values))
	for i, v := range j.values {
		parts[i] = v.Value
	}
	return strings.Join(parts, ", ")
}

// String реализует fmt.Stringer.
func (j JobSpec) String() string {
	return j.Key()
}

// Equal сравнивает два JobSpec поэлементно.
func (j JobSpec) Equal(other JobSpec) bool {
	if len(j.values) != len(other.values) {
		return false
	}
	for i := range j.values {
		if j.values[i] != other.values[i] {
			return false
		}
	}
	return true
}

// MarshalJSON сериализует JobSpec как список назначений.
func (j JobSpec) MarshalJSON() ([]byte, error) {
	if j.values == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(j.values)
}

// UnmarshalJSON восстанавливает JobSpec из списка назначений.
func (j *JobSpec) UnmarshalJSON(data []byte) error {
	var values []AxisValue
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	j.values = values
	return nil
}

// JobResult — итог выполнения одного job'а.
//
// Принадлежит исключительно job'у, который его создал;
// после завершения всех job'ов читается Reporter'ом.
type JobResult struct {
	// Job — назначение матрицы.
	Job JobSpec `json:"job"`

	// Status — итоговый статус: SUCCEEDED, FAILED или SKIPPED.
	Status JobStatus `json:"status"`

	// FailedStep — индекс упавшего шага, -1 если падения не было.
	FailedStep int `json:"failed_step"`

	// ExitCode — 0 при успехе, код упавшего шага (или 1) при ошибке.
	ExitCode int `json:"exit_code"`

	// Steps — результаты по каждому шагу в порядке объявления.
	Steps []StepResult `json:"steps,omitempty"`

	// Artifacts — собранные артефакты (имя → абсолютный путь).
	Artifacts map[string]string `json:"artifacts,omitempty"`

	// Workspace — каталог job'а.
	Workspace string `json:"workspace,omitempty"`

	// StartedAt — время старта (nil для SKIPPED).
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — текст ошибки при FAILED.
	Error string `json:"error,omitempty"`
}

// NewJobResult создаёт результат в статусе PENDING.
func NewJobResult(job JobSpec) *JobResult {
	return &JobResult{
		Job:        job,
		Status:     JobStatusPending,
		FailedStep: -1,
		Artifacts:  make(map[string]string),
	}
}

// Succeeded возвращает true, если job завершился успешно.
func (r *JobResult) Succeeded() bool {
	return r.Status == JobStatusSucceeded
}

// Duration возвращает продолжительность выполнения.
func (r *JobResult) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// MarkRunning переводит job в RUNNING.
func (r *JobResult) MarkRunning() {
	now := time.Now()
	r.Status = JobStatusRunning
	r.StartedAt = &now
}

// MarkSucceeded переводит job в SUCCEEDED.
func (r *JobResult) MarkSucceeded() {
	now := time.Now()
	r.Status = JobStatusSucceeded
	r.FinishedAt = &now
	r.ExitCode = 0
	r.FailedStep = -1
}

// MarkFailed переводит job в FAILED на шаге index.
// exitCode <= 0 заменяется на 1: упавший job никогда не выходит с нулём.
func (r *JobResult) MarkFailed(index, exitCode int, err string) {
	now := time.Now()
	if exitCode <= 0 {
		exitCode = 1
	}
	r.Status = JobStatusFailed
	r.FinishedAt = &now
	r.FailedStep = index
	r.ExitCode = exitCode
	r.Error = err
}

// MarkSkipped переводит job в SKIPPED (job так и не стартовал).
func (r *JobResult) MarkSkipped(reason string) {
	now := time.Now()
	r.Status = JobStatusSkipped
	r.FinishedAt = &now
	r.Error = reason
}

// StepResult — результат одного шага.
type StepResult struct {
	Index      int        `json:"index"`
	Name       string     `json:"name"`
	Status     StepStatus `json:"status"`
	ExitCode   int        `json:"exit_code"`
	DurationMs int64      `json:"duration_ms"`
	Output     string     `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
}
