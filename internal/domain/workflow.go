package domain

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Workflow — определение CI workflow.
//
// Workflow — это "рецепт" прогона: на какие события реагировать,
// какой матрицей размножить job'ы, какие шаги выполнить в каждом job'е
// и какой артефакт отправить во внешний collector.
//
// Хранится как снапшот внутри Run (JSONB), поэтому у всех полей есть
// и yaml-, и json-теги.
type Workflow struct {
	// Name — уникальное имя workflow (например, "test-examples").
	Name string `yaml:"name" json:"name"`

	// On — события, запускающие workflow.
	On Triggers `yaml:"on" json:"on"`

	// Env — переменные окружения, общие для всех шагов каждого job'а.
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// Strategy — матрица и политика выполнения job'ов.
	Strategy Strategy `yaml:"strategy" json:"strategy"`

	// Steps — упорядоченный список шагов job'а.
	Steps []Step `yaml:"steps" json:"steps"`

	// Report — отправка артефакта из одного выделенного job'а.
	Report *ReportSpec `yaml:"report,omitempty" json:"report,omitempty"`
}

// Triggers — набор событий, на которые реагирует workflow.
type Triggers struct {
	// PullRequest — открытие/обновление pull request.
	PullRequest *PullRequestTrigger `yaml:"pull_request,omitempty" json:"pull_request,omitempty"`

	// WorkflowDispatch — ручной запуск.
	WorkflowDispatch *DispatchTrigger `yaml:"workflow_dispatch,omitempty" json:"workflow_dispatch,omitempty"`

	// Schedule — запуски по cron-выражению.
	Schedule []ScheduleTrigger `yaml:"schedule,omitempty" json:"schedule,omitempty"`
}

// UnmarshalYAML принимает как маппинг, так и список имён событий.
//
// Ключ без значения ("workflow_dispatch:") включает триггер
// с настройками по умолчанию.
func (t *Triggers) UnmarshalYAML(node *yaml.Node) error {
	var out Triggers

	enable := func(name string, val *yaml.Node) error {
		empty := val == nil || val.Tag == "!!null"
		switch Event(name) {
		case EventPullRequest:
			out.PullRequest = &PullRequestTrigger{}
			if !empty {
				return val.Decode(out.PullRequest)
			}
		case EventWorkflowDispatch:
			out.WorkflowDispatch = &DispatchTrigger{}
		case EventSchedule:
			if empty {
				return fmt.Errorf("line %d: schedule requires at least one cron entry", node.Line)
			}
			return val.Decode(&out.Schedule)
		default:
			return fmt.Errorf("line %d: unknown event %q", node.Line, name)
		}
		return nil
	}

	switch node.Kind {
	case yaml.ScalarNode:
		if err := enable(node.Value, nil); err != nil {
			return err
		}
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if err := enable(item.Value, nil); err != nil {
				return err
			}
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			if err := enable(node.Content[i].Value, node.Content[i+1]); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("line %d: on must be an event name, a list or a mapping", node.Line)
	}

	*t = out
	return nil
}

// PullRequestTrigger — настройки триггера pull_request.
type PullRequestTrigger struct {
	// Types — типы действий PR. Пустой список означает "любое действие".
	Types []string `yaml:"types,omitempty" json:"types,omitempty"`
}

// DispatchTrigger — настройки ручного запуска (пока без параметров).
type DispatchTrigger struct{}

// ScheduleTrigger — одно cron-расписание.
type ScheduleTrigger struct {
	Cron string `yaml:"cron" json:"cron"`
}

// Strategy — матрица и параметры параллельного выполнения.
type Strategy struct {
	// Matrix — оси матрицы в порядке объявления.
	Matrix Matrix `yaml:"matrix,omitempty" json:"matrix,omitempty"`

	// FailFast — отмена соседних job'ов при первом падении (по умолчанию выключено).
	FailFast bool `yaml:"fail_fast,omitempty" json:"fail_fast,omitempty"`

	// MaxParallel — сколько job'ов выполнять одновременно (0 — лимит оператора).
	MaxParallel int `yaml:"max_parallel,omitempty" json:"max_parallel,omitempty"`

	// JobTimeoutSec — таймаут одного job'а в секундах (0 — без таймаута).
	JobTimeoutSec int `yaml:"job_timeout_sec,omitempty" json:"job_timeout_sec,omitempty"`
}

// Matrix — упорядоченный список осей.
//
// В YAML задаётся маппингом "ось → список значений"; порядок ключей
// сохраняется, поэтому перечисление job'ов воспроизводимо.
type Matrix []Axis

// Axis — одна ось матрицы.
type Axis struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// Size возвращает количество значений на оси.
func (a Axis) Size() int {
	return len(a.Values)
}

// UnmarshalYAML читает маппинг осей, сохраняя порядок объявления.
//
// Значения берутся как исходный текст скаляра: "3.10" остаётся "3.10",
// а не превращается в число 3.1.
func (m *Matrix) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: matrix must be a mapping of axis to values", node.Line)
	}

	axes := make(Matrix, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i]
		val := node.Content[i+1]

		axis := Axis{Name: key.Value}

		switch val.Kind {
		case yaml.SequenceNode:
			axis.Values = make([]string, 0, len(val.Content))
			for _, item := range val.Content {
				if item.Kind != yaml.ScalarNode {
					return fmt.Errorf("line %d: axis %q: values must be scalars", item.Line, axis.Name)
				}
				axis.Values = append(axis.Values, item.Value)
			}
		case yaml.ScalarNode:
			axis.Values = []string{val.Value}
		default:
			return fmt.Errorf("line %d: axis %q: expected a list of values", val.Line, axis.Name)
		}

		axes = append(axes, axis)
	}

	*m = axes
	return nil
}

// Step — определение шага job'а.
type Step struct {
	// Name — человекочитаемое имя шага.
	Name string `yaml:"name" json:"name"`

	// If — guard-выражение над значениями матрицы.
	// Пустая строка — шаг безусловный.
	If string `yaml:"if,omitempty" json:"if,omitempty"`

	// Uses — тип действия. Пустая строка означает "shell".
	Uses string `yaml:"uses,omitempty" json:"uses,omitempty"`

	// Run — команда оболочки (Go template над матрицей и env).
	Run string `yaml:"run,omitempty" json:"run,omitempty"`

	// Shell — интерпретатор: "sh" (по умолчанию), "bash", "pwsh", "cmd".
	Shell string `yaml:"shell,omitempty" json:"shell,omitempty"`

	// With — параметры для действий, отличных от shell.
	With map[string]string `yaml:"with,omitempty" json:"with,omitempty"`

	// Env — дополнительные переменные только для этого шага.
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// WorkingDirectory — каталог относительно workspace job'а.
	WorkingDirectory string `yaml:"working_directory,omitempty" json:"working_directory,omitempty"`

	// TimeoutSec — таймаут шага в секундах (0 — без таймаута).
	TimeoutSec int `yaml:"timeout_sec,omitempty" json:"timeout_sec,omitempty"`

	// Artifacts — артефакты, которые шаг оставляет в workspace (имя → путь).
	Artifacts map[string]string `yaml:"artifacts,omitempty" json:"artifacts,omitempty"`
}

// Action возвращает тип действия шага с учётом значения по умолчанию.
func (s *Step) Action() string {
	if s.Uses == "" {
		return "shell"
	}
	return s.Uses
}

// DisplayName возвращает имя шага для логов.
func (s *Step) DisplayName(index int) string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("step %d", index)
}

// ReportSpec — настройки Artifact Reporter.
type ReportSpec struct {
	// If — условие выбора job'а, чей артефакт отправляется.
	If string `yaml:"if" json:"if"`

	// Artifact — имя артефакта (ключ из Step.Artifacts).
	Artifact string `yaml:"artifact" json:"artifact"`

	// URL — адрес collector'а. Пустой — берётся из конфигурации сервиса.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`

	// TokenEnv — имя переменной окружения с токеном доступа.
	TokenEnv string `yaml:"token_env,omitempty" json:"token_env,omitempty"`

	// Flags — произвольные метки, передаваемые collector'у.
	Flags []string `yaml:"flags,omitempty" json:"flags,omitempty"`

	// FailLoudly — ошибка отправки делает весь run FAILED.
	FailLoudly bool `yaml:"fail_loudly,omitempty" json:"fail_loudly,omitempty"`
}
