package report

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

const defaultUploadTimeout = 60 * time.Second

// Upload — один артефакт, отправляемый во внешний collector.
type Upload struct {
	RunID    string
	Workflow string
	Job      string // ключ job'а
	Name     string // имя артефакта
	Flags    []string
	Filename string
	Body     io.Reader
}

// Collector — внешний сервис, принимающий артефакты (например, coverage).
type Collector interface {
	Upload(ctx context.Context, upload *Upload) error
}

// HTTPCollector отправляет артефакт одним POST-запросом.
//
// Метаданные передаются query-параметрами: run, workflow, job, name,
// filename, flags (через запятую). Токен — в заголовке
// "Authorization: token <token>". Любой ответ вне 2xx — ошибка.
type HTTPCollector struct {
	url    string
	token  string
	client *http.Client
}

// NewHTTPCollector создаёт collector для адреса endpoint.
func NewHTTPCollector(endpoint, token string) *HTTPCollector {
	return &HTTPCollector{
		url:    endpoint,
		token:  token,
		client: &http.Client{Timeout: defaultUploadTimeout},
	}
}

// Upload отправляет артефакт.
func (c *HTTPCollector) Upload(ctx context.Context, upload *Upload) error {
	u, err := url.Parse(c.url)
	if err != nil {
		return fmt.Errorf("%w: invalid url %q: %v", ErrCollectorUpload, c.url, err)
	}

	q := u.Query()
	q.Set("run", upload.RunID)
	q.Set("workflow", upload.Workflow)
	q.Set("job", upload.Job)
	q.Set("name", upload.Name)
	if upload.Filename != "" {
		q.Set("filename", filepath.Base(upload.Filename))
	}
	if len(upload.Flags) > 0 {
		q.Set("flags", strings.Join(upload.Flags, ","))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), upload.Body)
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrCollectorUpload, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCollectorUpload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: HTTP %d: %s", ErrCollectorUpload, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return nil
}
