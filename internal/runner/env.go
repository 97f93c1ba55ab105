package runner

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"sort"
	"strings"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Env — job-локальное окружение.
//
// Создаётся один раз на job и передаётся по ссылке через все его шаги.
// Изменения (command-файлы шагов) видны только последующим шагам
// того же job'а; после завершения job'а окружение выбрасывается.
// Env не потокобезопасен: им владеет единственная горутина job'а.
type Env struct {
	vars map[string]string
}

// NewEnv создаёт окружение из списка KEY=VALUE (формат os.Environ).
func NewEnv(base []string) *Env {
	e := &Env{vars: make(map[string]string, len(base))}
	for _, kv := range base {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		e.vars[key] = value
	}
	return e
}

// Set устанавливает переменную.
func (e *Env) Set(key, value string) {
	e.vars[key] = value
}

// SetAll устанавливает набор переменных.
func (e *Env) SetAll(vars map[string]string) {
	for k, v := range vars {
		e.vars[k] = v
	}
}

// Get возвращает значение переменной.
func (e *Env) Get(key string) (string, bool) {
	v, ok := e.vars[key]
	return v, ok
}

// AppendPath добавляет каталог в начало PATH.
func (e *Env) AppendPath(dir string) {
	key := pathKey()
	if cur, ok := e.vars[key]; ok && cur != "" {
		e.vars[key] = dir + string(os.PathListSeparator) + cur
		return
	}
	e.vars[key] = dir
}

// Clone возвращает независимую копию (окружение одного шага).
func (e *Env) Clone() *Env {
	cp := &Env{vars: make(map[string]string, len(e.vars))}
	for k, v := range e.vars {
		cp.vars[k] = v
	}
	return cp
}

// Map возвращает копию переменных (для шаблонов).
func (e *Env) Map() map[string]string {
	return e.Clone().vars
}

// Environ возвращает переменные в формате KEY=VALUE, отсортированные по ключу.
func (e *Env) Environ() []string {
	keys := make([]string, 0, len(e.vars))
	for k := range e.vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := make([]string, len(keys))
	for i, k := range keys {
		result[i] = k + "=" + e.vars[k]
	}
	return result
}

// ApplyEnvFile применяет command-файл $CONVEYOR_ENV: строки KEY=VALUE.
// Пустые строки и строки, начинающиеся с #, пропускаются.
// Отсутствующий файл — не ошибка (шаг ничего не записал).
func (e *Env) ApplyEnvFile(path string) error {
	lines, err := readLines(path)
	if err != nil {
		return err
	}

	for i, line := range lines {
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return fmt.Errorf("%w: %s:%d: %q", ErrInvalidCommandFile, path, i+1, line)
		}
		e.vars[key] = value
	}
	return nil
}

// ApplyPathFile применяет command-файл $CONVEYOR_PATH: один каталог на строку.
// Каталоги добавляются в начало PATH в порядке записи.
func (e *Env) ApplyPathFile(path string) error {
	lines, err := readLines(path)
	if err != nil {
		return err
	}

	for _, dir := range lines {
		e.AppendPath(strings.TrimSpace(dir))
	}
	return nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open command file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read command file: %w", err)
	}
	return lines, nil
}

// MatrixVar возвращает имя переменной для оси: python-version → MATRIX_PYTHON_VERSION.
func MatrixVar(axis string) string {
	var b strings.Builder
	b.WriteString("MATRIX_")
	for _, r := range strings.ToUpper(axis) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// setMatrix добавляет значения осей job'а в окружение.
func (e *Env) setMatrix(job domain.JobSpec) {
	for _, v := range job.Values() {
		e.vars[MatrixVar(v.Axis)] = v.Value
	}
}

func pathKey() string {
	if runtime.GOOS == "windows" {
		return "Path"
	}
	return "PATH"
}
