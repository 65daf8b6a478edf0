package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ErlanBelekov/schedule-engine/internal/domain"
)

// TaskTypeWebhook calls an HTTP endpoint described by the task payload.
const TaskTypeWebhook = "webhook"

// Executor performs a task's side effect. A returned error fails the attempt;
// ctx carries the task timeout.
type Executor interface {
	Execute(ctx context.Context, t *domain.ScheduleTask, attempt int) error
}

type ExecutorFunc func(ctx context.Context, t *domain.ScheduleTask, attempt int) error

func (f ExecutorFunc) Execute(ctx context.Context, t *domain.ScheduleTask, attempt int) error {
	return f(ctx, t, attempt)
}

// Registry maps task types to executors.
type Registry struct {
	mu       sync.RWMutex
	byType   map[string]Executor
	fallback Executor
}

func NewRegistry() *Registry {
	return &Registry{byType: make(map[string]Executor)}
}

func (r *Registry) Register(taskType string, e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[taskType] = e
}

// SetFallback handles task types nothing was registered for.
func (r *Registry) SetFallback(e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = e
}

func (r *Registry) For(taskType string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.byType[taskType]; ok {
		return e, true
	}
	return r.fallback, r.fallback != nil
}

// TriggerPublisher delivers trigger events to producer modules.
type TriggerPublisher interface {
	PublishTrigger(ctx context.Context, ev domain.TriggerEvent) error
}

// TriggerExecutor runs producer-owned tasks by asking the producer to act.
type TriggerExecutor struct {
	publisher TriggerPublisher
	now       func() time.Time
}

func NewTriggerExecutor(publisher TriggerPublisher) *TriggerExecutor {
	return &TriggerExecutor{publisher: publisher, now: time.Now}
}

func (e *TriggerExecutor) Execute(ctx context.Context, t *domain.ScheduleTask, attempt int) error {
	module := t.Source.Module
	if module == "" {
		module = t.Basic.TaskType
	}
	return e.publisher.PublishTrigger(ctx, domain.TriggerEvent{
		SourceModule:   module,
		SourceEntityID: t.Source.EntityID,
		TaskID:         t.ID,
		AccountID:      t.AccountID,
		Payload:        t.Basic.Payload,
		Attempt:        attempt,
		Timestamp:      e.now(),
	})
}

// WebhookExecutor reads url, method, headers and body from the task payload.
type WebhookExecutor struct {
	client *http.Client
}

func NewWebhookExecutor() *WebhookExecutor {
	return &WebhookExecutor{
		client: &http.Client{}, // no global timeout, each task sets its own
	}
}

var errWebhookURL = errors.New("webhook payload has no url")

func (e *WebhookExecutor) Execute(ctx context.Context, t *domain.ScheduleTask, _ int) error {
	url, _ := t.Basic.Payload["url"].(string)
	if url == "" {
		return errWebhookURL
	}
	method, _ := t.Basic.Payload["method"].(string)
	if method == "" {
		method = http.MethodPost
	}

	var bodyReader io.Reader
	switch body := t.Basic.Payload["body"].(type) {
	case nil:
	case string:
		bodyReader = bytes.NewReader([]byte(body))
	default:
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if headers, ok := t.Basic.Payload["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}
	req.Header.Set("X-Schedule-Task-ID", t.ID)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body) // drain so the connection can be reused by the pool

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}
