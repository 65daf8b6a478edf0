package httptransport_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ErlanBelekov/schedule-engine/internal/conflict"
	"github.com/ErlanBelekov/schedule-engine/internal/gateway"
	"github.com/ErlanBelekov/schedule-engine/internal/infrastructure/memory"
	httptransport "github.com/ErlanBelekov/schedule-engine/internal/transport/http"
	"github.com/ErlanBelekov/schedule-engine/internal/transport/http/handler"
	"github.com/ErlanBelekov/schedule-engine/internal/usecase"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testKey = "router-test-secret-with-32-chars!!"

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	t      *testing.T
	engine *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	schedules := memory.NewScheduleStore()
	tasks := memory.NewTaskStore()
	executions := memory.NewExecutionStore()

	detector := conflict.NewDetector(schedules, conflict.DefaultOptions(), logger)
	resolver := conflict.NewResolver(schedules, detector, logger)

	h := httptransport.Handlers{
		Schedules: handler.NewScheduleHandler(usecase.NewScheduleUsecase(schedules, detector, resolver), logger),
		Tasks:     handler.NewTaskHandler(usecase.NewTaskUsecase(tasks, executions), logger),
		Events:    handler.NewEventHandler(gateway.New(tasks, "UTC", logger), logger),
	}
	return &testServer{t: t, engine: httptransport.NewRouter(logger, h, []byte(testKey))}
}

func token(t *testing.T, account string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": account,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	s, err := tok.SignedString([]byte(testKey))
	if err != nil {
		t.Fatalf("sign jwt: %v", err)
	}
	return s
}

// do sends body as JSON for account and decodes the response into out when
// out is non-nil.
func (s *testServer) do(method, path, account string, body any, out any) int {
	s.t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			s.t.Fatalf("encode body: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if account != "" {
		req.Header.Set("Authorization", "Bearer "+token(s.t, account))
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	if out != nil {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			s.t.Fatalf("decode %s %s response %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w.Code
}

var day = time.Date(2026, time.October, 14, 0, 0, 0, 0, time.UTC)

func at(h, m int) int64 {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute).UnixMilli()
}

type scheduleBody struct {
	ID          string   `json:"id"`
	StartTime   int64    `json:"start_time"`
	EndTime     int64    `json:"end_time"`
	Duration    int      `json:"duration"`
	HasConflict bool     `json:"has_conflict"`
	Conflicting []string `json:"conflicting_schedules"`
	Active      bool     `json:"active"`
}

type detectionBody struct {
	HasConflict bool `json:"has_conflict"`
	Conflicts   []struct {
		ScheduleID             string `json:"schedule_id"`
		OverlapDurationMinutes int    `json:"overlap_duration_minutes"`
		Severity               string `json:"severity"`
	} `json:"conflicts"`
	Suggestions []struct {
		Type         string `json:"type"`
		NewStartTime int64  `json:"new_start_time"`
	} `json:"suggestions"`
}

type createBody struct {
	Schedule  scheduleBody   `json:"schedule"`
	Conflicts *detectionBody `json:"conflicts"`
	Error     string         `json:"error"`
}

func TestRouter_RequiresAuth(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/schedules", "/tasks"} {
		if code := s.do(http.MethodGet, path, "", nil, nil); code != http.StatusUnauthorized {
			t.Errorf("GET %s = %d, want 401", path, code)
		}
	}
}

func TestRouter_CreateScheduleReportsConflicts(t *testing.T) {
	s := newTestServer(t)

	var first createBody
	code := s.do(http.MethodPost, "/schedules", "acct-1", map[string]any{
		"title": "standup", "start_time": at(10, 0), "end_time": at(11, 0), "duration": 60,
	}, &first)
	if code != http.StatusCreated {
		t.Fatalf("create first = %d (%s)", code, first.Error)
	}
	if first.Conflicts != nil {
		t.Fatal("conflicts must be omitted when detection was not requested")
	}

	var second createBody
	code = s.do(http.MethodPost, "/schedules", "acct-1", map[string]any{
		"title": "review", "start_time": at(10, 30), "end_time": at(11, 30), "auto_detect_conflicts": true,
	}, &second)
	if code != http.StatusCreated {
		t.Fatalf("create second = %d (%s)", code, second.Error)
	}

	c := second.Conflicts
	if c == nil || !c.HasConflict || len(c.Conflicts) != 1 {
		t.Fatalf("expected one conflict, got %+v", c)
	}
	if c.Conflicts[0].ScheduleID != first.Schedule.ID || c.Conflicts[0].OverlapDurationMinutes != 30 {
		t.Fatalf("unexpected conflict %+v", c.Conflicts[0])
	}
	if len(c.Suggestions) == 0 || c.Suggestions[0].Type != "move_later" || c.Suggestions[0].NewStartTime != at(11, 0) {
		t.Fatalf("expected move_later to 11:00 first, got %+v", c.Suggestions)
	}
	if !second.Schedule.HasConflict || second.Schedule.Duration != 60 {
		t.Fatalf("expected the stored entry to be flagged, got %+v", second.Schedule)
	}

	// Another account sees neither entry.
	var clear struct {
		Result detectionBody `json:"result"`
	}
	if code := s.do(http.MethodPost, "/schedules/conflicts", "acct-2", map[string]any{
		"start_time": at(10, 0), "end_time": at(12, 0),
	}, &clear); code != http.StatusOK || clear.Result.HasConflict {
		t.Fatalf("expected no conflicts for acct-2, code=%d result=%+v", code, clear.Result)
	}
}

func TestRouter_ScheduleValidation(t *testing.T) {
	s := newTestServer(t)

	var out createBody
	if code := s.do(http.MethodPost, "/schedules", "acct-1", map[string]any{
		"title": "backwards", "start_time": at(11, 0), "end_time": at(10, 0),
	}, &out); code != http.StatusBadRequest {
		t.Fatalf("inverted range = %d, want 400", code)
	}
	if code := s.do(http.MethodPost, "/schedules", "acct-1", map[string]any{
		"title": "mismatch", "start_time": at(10, 0), "end_time": at(11, 0), "duration": 45,
	}, &out); code != http.StatusBadRequest {
		t.Fatalf("duration mismatch = %d, want 400", code)
	}
	if code := s.do(http.MethodGet, "/schedules/missing", "acct-1", nil, &out); code != http.StatusNotFound {
		t.Fatalf("missing schedule = %d, want 404", code)
	}
	if code := s.do(http.MethodGet, "/schedules?cursor=@@", "acct-1", nil, &out); code != http.StatusBadRequest {
		t.Fatalf("bad cursor = %d, want 400", code)
	}
}

func TestRouter_ResolveAndHistory(t *testing.T) {
	s := newTestServer(t)

	var a, b createBody
	s.do(http.MethodPost, "/schedules", "acct-1", map[string]any{
		"title": "a", "start_time": at(10, 0), "end_time": at(11, 0),
	}, &a)
	s.do(http.MethodPost, "/schedules", "acct-1", map[string]any{
		"title": "b", "start_time": at(9, 30), "end_time": at(10, 30), "auto_detect_conflicts": true,
	}, &b)

	var res struct {
		Schedule  scheduleBody  `json:"schedule"`
		Conflicts detectionBody `json:"conflicts"`
		Applied   bool          `json:"applied"`
		Audit     struct {
			Strategy string `json:"strategy"`
			Changes  []struct {
				Field string `json:"field"`
			} `json:"changes"`
		} `json:"audit"`
		Warning *struct {
			Remaining int `json:"remaining"`
		} `json:"warning"`
	}
	code := s.do(http.MethodPost, "/schedules/"+b.Schedule.ID+"/resolve", "acct-1", map[string]any{
		"strategy": "ADJUST_DURATION", "new_duration": 30,
	}, &res)
	if code != http.StatusOK {
		t.Fatalf("resolve = %d", code)
	}
	if !res.Applied || res.Conflicts.HasConflict || res.Warning != nil {
		t.Fatalf("expected resolved without warning, got %+v", res)
	}
	if res.Schedule.EndTime != at(10, 0) || res.Schedule.HasConflict {
		t.Fatalf("unexpected schedule %+v", res.Schedule)
	}

	var history struct {
		Resolutions []struct {
			Strategy string `json:"strategy"`
		} `json:"resolutions"`
	}
	if code := s.do(http.MethodGet, "/schedules/"+b.Schedule.ID+"/resolutions", "acct-1", nil, &history); code != http.StatusOK {
		t.Fatalf("history = %d", code)
	}
	if len(history.Resolutions) != 1 || history.Resolutions[0].Strategy != "ADJUST_DURATION" {
		t.Fatalf("unexpected history %+v", history)
	}

	var bad map[string]any
	if code := s.do(http.MethodPost, "/schedules/"+a.Schedule.ID+"/resolve", "acct-1", map[string]any{
		"strategy": "SHRUG",
	}, &bad); code != http.StatusBadRequest {
		t.Fatalf("invalid strategy = %d, want 400", code)
	}
	if code := s.do(http.MethodPost, "/schedules/"+a.Schedule.ID+"/resolve", "acct-2", map[string]any{
		"strategy": "CANCEL",
	}, &bad); code != http.StatusNotFound {
		t.Fatalf("foreign schedule = %d, want 404", code)
	}
}

type taskBody struct {
	ID         string `json:"id"`
	Scheduling struct {
		RecurrenceRule    *string `json:"recurrence_rule"`
		Status            string  `json:"status"`
		NextExecutionTime *int64  `json:"next_execution_time"`
	} `json:"scheduling"`
	Metadata struct {
		Enabled bool  `json:"enabled"`
		Version int64 `json:"version"`
	} `json:"metadata"`
}

func TestRouter_TaskLifecycleFromEvents(t *testing.T) {
	s := newTestServer(t)

	event := map[string]any{
		"type":             "recurrence.created",
		"source_module":    "reminder",
		"source_entity_id": "rem-1",
		"recurrence_spec":  map[string]any{"kind": "DAILY", "hour": 7, "minute": 15},
	}
	var created struct {
		Task taskBody `json:"task"`
	}
	if code := s.do(http.MethodPost, "/events/recurrence", "acct-1", event, &created); code != http.StatusOK {
		t.Fatalf("event = %d", code)
	}
	task := created.Task
	if task.Scheduling.RecurrenceRule == nil || *task.Scheduling.RecurrenceRule != "15 7 * * *" {
		t.Fatalf("unexpected rule %v", task.Scheduling.RecurrenceRule)
	}
	if task.Scheduling.Status != "pending" || task.Scheduling.NextExecutionTime == nil {
		t.Fatalf("unexpected scheduling %+v", task.Scheduling)
	}

	var list struct {
		Tasks []taskBody `json:"tasks"`
	}
	if code := s.do(http.MethodGet, "/tasks?source_module=reminder", "acct-1", nil, &list); code != http.StatusOK || len(list.Tasks) != 1 {
		t.Fatalf("list = %d with %d tasks", code, len(list.Tasks))
	}
	if code := s.do(http.MethodGet, "/tasks?status=bogus", "acct-1", nil, &list); code != http.StatusBadRequest {
		t.Fatalf("bogus status = %d, want 400", code)
	}

	var got taskBody
	if code := s.do(http.MethodPost, "/tasks/"+task.ID+"/disable", "acct-1", nil, &got); code != http.StatusOK || got.Scheduling.Status != "paused" {
		t.Fatalf("disable = %d status %q", code, got.Scheduling.Status)
	}
	if code := s.do(http.MethodPost, "/tasks/"+task.ID+"/enable", "acct-1", nil, &got); code != http.StatusOK || got.Scheduling.Status != "active" {
		t.Fatalf("enable = %d status %q", code, got.Scheduling.Status)
	}
	if *got.Scheduling.NextExecutionTime != *task.Scheduling.NextExecutionTime {
		t.Fatal("re-enabling before the slot must keep it")
	}

	if code := s.do(http.MethodDelete, "/tasks/"+task.ID, "acct-1", nil, &got); code != http.StatusOK || got.Scheduling.Status != "cancelled" {
		t.Fatalf("cancel = %d status %q", code, got.Scheduling.Status)
	}
	version := got.Metadata.Version
	if code := s.do(http.MethodDelete, "/tasks/"+task.ID, "acct-1", nil, &got); code != http.StatusOK || got.Metadata.Version != version {
		t.Fatalf("second cancel = %d version %d, want no change", code, got.Metadata.Version)
	}
	var errBody map[string]any
	if code := s.do(http.MethodPost, "/tasks/"+task.ID+"/enable", "acct-1", nil, &errBody); code != http.StatusConflict {
		t.Fatalf("enable cancelled = %d, want 409", code)
	}
	if code := s.do(http.MethodGet, "/tasks/"+task.ID, "acct-2", nil, &errBody); code != http.StatusNotFound {
		t.Fatalf("foreign task = %d, want 404", code)
	}

	var execs struct {
		Executions []any `json:"executions"`
	}
	if code := s.do(http.MethodGet, "/tasks/"+task.ID+"/executions", "acct-1", nil, &execs); code != http.StatusOK || len(execs.Executions) != 0 {
		t.Fatalf("executions = %d with %d records", code, len(execs.Executions))
	}
}

func TestRouter_EventErrors(t *testing.T) {
	s := newTestServer(t)
	var body map[string]any

	if code := s.do(http.MethodPost, "/events/recurrence", "acct-1", map[string]any{
		"type": "recurrence.created", "source_module": "reminder", "source_entity_id": "rem-1",
		"account_id": "acct-2", "recurrence_spec": map[string]any{"kind": "DAILY", "hour": 7, "minute": 0},
	}, &body); code != http.StatusForbidden {
		t.Fatalf("account mismatch = %d, want 403", code)
	}

	if code := s.do(http.MethodPost, "/events/recurrence", "acct-1", map[string]any{
		"type": "recurrence.created", "source_module": "reminder", "source_entity_id": "rem-1",
		"recurrence_spec": map[string]any{"kind": "DAILY", "hour": 25, "minute": 0},
	}, &body); code != http.StatusBadRequest || body["error"] != "Invalid recurrence" {
		t.Fatalf("bad hour = %d %v, want 400", code, body)
	}

	if code := s.do(http.MethodPost, "/events/recurrence", "acct-1", map[string]any{
		"type": "recurrence.deleted", "source_module": "reminder", "source_entity_id": "never-seen",
	}, &body); code != http.StatusNotFound {
		t.Fatalf("unknown delete = %d, want 404", code)
	}
}
