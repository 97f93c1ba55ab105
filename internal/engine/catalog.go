package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Catalog — набор загруженных workflow, индексированный по имени.
type Catalog struct {
	workflows map[string]*domain.Workflow
	files     map[string]string
}

// NewCatalog создаёт каталог из готовых workflow.
func NewCatalog(workflows ...*domain.Workflow) (*Catalog, error) {
	c := &Catalog{
		workflows: make(map[string]*domain.Workflow),
		files:     make(map[string]string),
	}
	for _, wf := range workflows {
		if err := c.add(wf, ""); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// LoadDir загружает все *.yml и *.yaml из каталога (без рекурсии).
// Ошибка в любом файле прерывает загрузку: частично валидный
// каталог не публикуется.
func LoadDir(dir string) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read workflow dir %s: %w", dir, err)
	}

	c, _ := NewCatalog()

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yml" && ext != ".yaml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		wf, err := LoadWorkflow(path)
		if err != nil {
			return nil, err
		}
		if err := c.add(wf, path); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func (c *Catalog) add(wf *domain.Workflow, path string) error {
	if prev, ok := c.files[wf.Name]; ok {
		return fmt.Errorf("%w: %s (%s, %s)", ErrDuplicateWorkflow, wf.Name, prev, path)
	}
	c.workflows[wf.Name] = wf
	c.files[wf.Name] = path
	return nil
}

// Get возвращает workflow по имени.
func (c *Catalog) Get(name string) (*domain.Workflow, error) {
	wf, ok := c.workflows[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, name)
	}
	return wf, nil
}

// List возвращает все workflow, отсортированные по имени.
func (c *Catalog) List() []*domain.Workflow {
	result := make([]*domain.Workflow, 0, len(c.workflows))
	for _, wf := range c.workflows {
		result = append(result, wf)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}

// ForEvent возвращает workflow, которые запускает событие.
func (c *Catalog) ForEvent(event domain.Event, action string) []*domain.Workflow {
	var result []*domain.Workflow
	for _, wf := range c.List() {
		if wf.On.Matches(event, action) {
			result = append(result, wf)
		}
	}
	return result
}

// Len возвращает количество workflow в каталоге.
func (c *Catalog) Len() int {
	return len(c.workflows)
}
