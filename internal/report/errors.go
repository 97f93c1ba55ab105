package report

import "errors"

// Ошибки отправки отчёта.
var (
	// ErrCollectorUpload — collector отклонил артефакт или недоступен.
	ErrCollectorUpload = errors.New("collector upload failed")

	// ErrArtifactMissing — выбранный job успешен, но артефакт не собран.
	ErrArtifactMissing = errors.New("artifact missing")

	// ErrNoCollector — не настроен адрес collector'а.
	ErrNoCollector = errors.New("no collector configured")
)
