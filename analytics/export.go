package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Exporter ships aggregated reports somewhere.
type Exporter interface {
	Export(ctx context.Context, r Report) error
	Flush(ctx context.Context) error
	Close() error
}

// HTTPExporter posts batches of reports as a JSON array.
type HTTPExporter struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	batchSize  int

	mu     sync.Mutex
	buffer []Report
}

func NewHTTPExporter(endpoint, apiKey string, batchSize int) *HTTPExporter {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &HTTPExporter{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		buffer:     make([]Report, 0, batchSize),
		batchSize:  batchSize,
	}
}

func (e *HTTPExporter) Export(ctx context.Context, r Report) error {
	e.mu.Lock()
	e.buffer = append(e.buffer, r)
	full := len(e.buffer) >= e.batchSize
	e.mu.Unlock()
	if full {
		return e.Flush(ctx)
	}
	return nil
}

func (e *HTTPExporter) Flush(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.buffer) == 0 {
		return nil
	}

	payload, err := json.Marshal(e.buffer)
	if err != nil {
		return fmt.Errorf("marshal analytics reports: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send analytics reports: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("analytics export failed with status %d: %s", resp.StatusCode, string(body))
	}

	// buffer is kept on failure so the next flush retries it
	e.buffer = e.buffer[:0]
	return nil
}

func (e *HTTPExporter) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Flush(ctx)
}

// LogExporter writes each report as a structured log record.
type LogExporter struct {
	log *slog.Logger
}

func NewLogExporter(log *slog.Logger) *LogExporter {
	if log == nil {
		log = slog.Default()
	}
	return &LogExporter{log: log}
}

func (e *LogExporter) Export(ctx context.Context, r Report) error {
	e.log.InfoContext(ctx, "analytics report",
		"period", r.Period,
		"key", r.Key,
		"active_learners", r.ActiveLearners,
		"xp_awarded", r.XP,
		"level_ups", r.LevelUps,
		"achievements_unlocked", r.Unlocks,
		"modules_completed", r.ModulesCompleted,
		"pathways_completed", r.PathwaysCompleted,
	)
	return nil
}

func (e *LogExporter) Flush(context.Context) error { return nil }
func (e *LogExporter) Close() error                { return nil }

// MultiExporter fans reports out to several exporters and joins their errors.
type MultiExporter struct {
	exporters []Exporter
}

func NewMultiExporter(exporters ...Exporter) *MultiExporter {
	return &MultiExporter{exporters: exporters}
}

func (e *MultiExporter) Export(ctx context.Context, r Report) error {
	var errs []error
	for _, exp := range e.exporters {
		if err := exp.Export(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", exp, err))
		}
	}
	return errors.Join(errs...)
}

func (e *MultiExporter) Flush(ctx context.Context) error {
	var errs []error
	for _, exp := range e.exporters {
		if err := exp.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", exp, err))
		}
	}
	return errors.Join(errs...)
}

func (e *MultiExporter) Close() error {
	var errs []error
	for _, exp := range e.exporters {
		if err := exp.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
