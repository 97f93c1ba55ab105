package runner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPAction — действие для шага типа "http".
//
// Выполняет HTTP-запрос, например health-check поднятого в job'е сервиса
// или webhook во внешнюю систему.
//
// Параметры (из With):
//   - url: адрес запроса (обязательно)
//   - method: HTTP-метод. Default: GET
//   - body: тело запроса как есть
//   - content_type: Content-Type тела. Default: application/json
//   - header.<Name>: заголовок запроса
//   - expect_status: ожидаемый код ответа. Default: любой < 400
//   - timeout_sec: таймаут запроса. Default: 30
type HTTPAction struct {
	// Client — HTTP-клиент (default: новый http.Client).
	Client *http.Client
}

// Execute выполняет HTTP-запрос.
func (a *HTTPAction) Execute(ctx context.Context, req *StepRequest) (*StepOutcome, error) {
	url := req.With["url"]
	if url == "" {
		return nil, fmt.Errorf("%w: url is required", ErrHTTPRequest)
	}

	method := strings.ToUpper(req.With["method"])
	if method == "" {
		method = http.MethodGet
	}

	ctx, cancel := context.WithTimeout(ctx, getTimeout(req.With))
	defer cancel()

	var bodyReader io.Reader
	if body := req.With["body"]; body != "" {
		bodyReader = strings.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrHTTPRequest, err)
	}

	setHeaders(httpReq, req.With)

	if bodyReader != nil && httpReq.Header.Get("Content-Type") == "" {
		contentType := req.With["content_type"]
		if contentType == "" {
			contentType = "application/json"
		}
		httpReq.Header.Set("Content-Type", contentType)
	}

	client := a.Client
	if client == nil {
		client = &http.Client{}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		// Сетевая ошибка — обычное падение шага, а не отказ запуска
		return &StepOutcome{ExitCode: 1, Error: fmt.Sprintf("%s %s: %v", method, url, err)}, nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, defaultOutputLimit))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrHTTPRequest, err)
	}

	outcome := &StepOutcome{
		Output: fmt.Sprintf("HTTP %d\n%s", resp.StatusCode, respBody),
	}

	if req.Output != nil {
		fmt.Fprintf(req.Output, "%s %s -> %d\n", method, url, resp.StatusCode)
	}

	if expected := req.With["expect_status"]; expected != "" {
		code, err := strconv.Atoi(expected)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid expect_status %q", ErrHTTPRequest, expected)
		}
		if resp.StatusCode != code {
			outcome.ExitCode = 1
			outcome.Error = fmt.Sprintf("HTTP %d, expected %d", resp.StatusCode, code)
		}
		return outcome, nil
	}

	if resp.StatusCode >= 400 {
		outcome.ExitCode = 1
		outcome.Error = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	return outcome, nil
}

// getTimeout извлекает таймаут запроса из параметров.
func getTimeout(with map[string]string) time.Duration {
	if v, err := strconv.ParseFloat(with["timeout_sec"], 64); err == nil && v > 0 {
		return time.Duration(v * float64(time.Second))
	}
	return defaultHTTPTimeout
}

// setHeaders устанавливает заголовки из параметров header.<Name>.
func setHeaders(req *http.Request, with map[string]string) {
	for key, val := range with {
		if name, ok := strings.CutPrefix(key, "header."); ok && name != "" {
			req.Header.Set(name, val)
		}
	}
}
