package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"staffplanner/internal/engine"
	"staffplanner/internal/handler"
	"staffplanner/internal/model"
	"staffplanner/internal/repository"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T, readiness ...ReadinessCheck) *gin.Engine {
	t.Helper()
	store := repository.NewMemoryStore(zap.NewNop())
	store.PutEmployee(model.Employee{ID: "emp-1", Name: "Ada", Department: "eng", Active: true})
	store.PutEmployee(model.Employee{ID: "emp-2", Name: "Grace", Department: "eng", Active: true})
	store.PutEmployee(model.Employee{ID: "emp-3", Name: "Linus", Department: "ops", Active: true})

	eng := engine.New(store, store, store, store, engine.DefaultConfig(), zap.NewNop())
	return NewRouter(RouterDeps{
		Planner:   handler.NewPlannerHandler(eng, zap.NewNop()),
		Readiness: readiness,
		Logger:    zap.NewNop(),
	})
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	r := newTestRouter(t, ReadinessCheck{Name: "db", Check: func(context.Context) error { return errors.New("down") }})

	w := do(t, r, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Errorf("/healthz = %d", w.Code)
	}
	if w.Header().Get("X-Trace-ID") == "" {
		t.Error("trace id header not set")
	}

	w = do(t, r, http.MethodGet, "/readyz", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("/readyz = %d, want 503", w.Code)
	}
	var body map[string]any
	decode(t, w, &body)
	if body["status"] != "db_not_ready" {
		t.Errorf("status = %v", body["status"])
	}
}

func TestTraceIDIsEchoed(t *testing.T) {
	r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Trace-ID", "abc123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("X-Trace-ID"); got != "abc123" {
		t.Errorf("X-Trace-ID = %q, want abc123", got)
	}
}

func TestAllocationLifecycle(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, http.MethodPost, "/allocations", map[string]any{
		"employee_id":    "emp-1",
		"project_id":     "apollo",
		"start_date":     "2024-01-01",
		"end_date":       "2024-01-31",
		"hours_per_week": 20,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", w.Code, w.Body.String())
	}
	var first engine.CommitResult
	decode(t, w, &first)

	second := map[string]any{
		"employee_id":    "emp-1",
		"project_id":     "gemini",
		"start_date":     "2024-01-15",
		"end_date":       "2024-02-15",
		"hours_per_week": 10,
	}
	w = do(t, r, http.MethodPost, "/allocations", second)
	if w.Code != http.StatusConflict {
		t.Fatalf("overlapping create = %d, want 409: %s", w.Code, w.Body.String())
	}
	var conflictBody struct {
		Error    string `json:"error"`
		Overlaps []struct {
			AllocationID string `json:"allocation_id"`
		} `json:"overlaps"`
	}
	decode(t, w, &conflictBody)
	if conflictBody.Error != "overlap_conflict" || len(conflictBody.Overlaps) != 1 || conflictBody.Overlaps[0].AllocationID != first.Allocation.ID {
		t.Errorf("conflict body = %+v", conflictBody)
	}

	w = do(t, r, http.MethodPost, "/allocations?force=true", second)
	if w.Code != http.StatusCreated {
		t.Fatalf("forced create = %d: %s", w.Code, w.Body.String())
	}

	w = do(t, r, http.MethodPost, "/conflicts/check", map[string]any{
		"employee_id": "emp-1",
		"start_date":  "2024-01-01",
		"end_date":    "2024-02-29",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("check = %d: %s", w.Code, w.Body.String())
	}
	var report model.ConflictReport
	decode(t, w, &report)
	if !report.HasConflicts || len(report.Conflicts) != 1 || report.Conflicts[0].Kind != model.ConflictOverlap {
		t.Fatalf("report = %+v", report)
	}
	if !report.Conflicts[0].CanAutoResolve {
		t.Fatal("overlap between stored allocations should be auto-resolvable")
	}

	w = do(t, r, http.MethodPost, "/conflicts/auto-resolve", map[string]any{
		"conflict_ids": []string{report.Conflicts[0].ID},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("auto-resolve = %d: %s", w.Code, w.Body.String())
	}
	var auto struct {
		Resolved int `json:"resolved"`
	}
	decode(t, w, &auto)
	if auto.Resolved != 1 {
		t.Errorf("resolved = %d, want 1: %s", auto.Resolved, w.Body.String())
	}

	w = do(t, r, http.MethodGet, "/conflicts/"+report.Conflicts[0].ID+"/resolutions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history = %d: %s", w.Code, w.Body.String())
	}
	var history struct {
		Resolutions []model.ResolutionRecord `json:"resolutions"`
	}
	decode(t, w, &history)
	if len(history.Resolutions) != 1 || history.Resolutions[0].State != model.StateResolved {
		t.Errorf("history = %+v", history.Resolutions)
	}
	if w := do(t, r, http.MethodGet, "/conflicts/unknown/resolutions", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown history = %d, want 404", w.Code)
	}

	w = do(t, r, http.MethodPost, "/conflicts/check", map[string]any{
		"employee_id": "emp-1",
		"start_date":  "2024-01-01",
		"end_date":    "2024-03-31",
	})
	decode(t, w, &report)
	if report.HasConflicts {
		t.Errorf("conflicts remain after auto-resolve: %+v", report.Conflicts)
	}

	w = do(t, r, http.MethodDelete, "/allocations/"+first.Allocation.ID, nil)
	if w.Code != http.StatusOK {
		t.Errorf("delete = %d: %s", w.Code, w.Body.String())
	}
	w = do(t, r, http.MethodDelete, "/allocations/"+first.Allocation.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"malformed json", http.MethodPost, "/allocations", "not an object", http.StatusBadRequest},
		{"bad date", http.MethodPost, "/allocations", map[string]any{
			"employee_id": "emp-1", "project_id": "p", "start_date": "01/01/2024", "end_date": "2024-01-31", "allocated_hours": 10,
		}, http.StatusBadRequest},
		{"missing hours", http.MethodPost, "/allocations", map[string]any{
			"employee_id": "emp-1", "project_id": "p", "start_date": "2024-01-01", "end_date": "2024-01-31",
		}, http.StatusBadRequest},
		{"inverted range", http.MethodPost, "/capacity/validate", map[string]any{
			"employee_id": "emp-1", "start_date": "2024-02-01", "end_date": "2024-01-01", "allocated_hours": 10,
		}, http.StatusBadRequest},
		{"unknown allocation", http.MethodPatch, "/allocations/nope", map[string]any{"allocated_hours": 5}, http.StatusNotFound},
		{"unknown conflict", http.MethodPost, "/conflicts/nope/resolve", map[string]any{"kind": "ignore"}, http.StatusNotFound},
		{"unknown resolution kind", http.MethodPost, "/conflicts/nope/resolve", map[string]any{"kind": "teleport"}, http.StatusBadRequest},
		{"utilization without dates", http.MethodGet, "/utilization", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, tt.method, tt.path, tt.body)
			if w.Code != tt.want {
				t.Errorf("%s %s = %d, want %d: %s", tt.method, tt.path, w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestCapacityAndUtilization(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, http.MethodPost, "/capacity/validate", map[string]any{
		"employee_id":    "emp-2",
		"start_date":     "2024-01-01",
		"end_date":       "2024-01-31",
		"hours_per_week": 50,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("validate = %d: %s", w.Code, w.Body.String())
	}
	var result model.CapacityValidationResult
	decode(t, w, &result)
	if result.IsValid || result.Severity != model.SeverityHigh {
		t.Errorf("result valid=%v severity=%q, want invalid/high for a 1.25 rate", result.IsValid, result.Severity)
	}

	w = do(t, r, http.MethodPost, "/allocations", map[string]any{
		"employee_id":    "emp-2",
		"project_id":     "apollo",
		"start_date":     "2024-01-01",
		"end_date":       "2024-01-31",
		"hours_per_week": 50,
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("over-capacity create = %d, want 409", w.Code)
	}
	var body map[string]any
	decode(t, w, &body)
	if body["error"] != "capacity_exceeded" || body["violations"] == nil {
		t.Errorf("body = %v", body)
	}

	w = do(t, r, http.MethodGet, "/utilization?start=2024-01-01&end=2024-01-31&department=eng", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("utilization = %d: %s", w.Code, w.Body.String())
	}
	var summary model.UtilizationSummary
	decode(t, w, &summary)
	if summary.TotalEmployees != 2 || summary.UnderutilizedCount != 2 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestCapacityOverride(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, http.MethodPut, "/employees/emp-2/capacity/2024-01-10", map[string]any{"available_hours": 0})
	if w.Code != http.StatusOK {
		t.Fatalf("set = %d: %s", w.Code, w.Body.String())
	}
	var override model.CapacityOverride
	decode(t, w, &override)
	if override.EmployeeID != "emp-2" || override.AvailableHours != 0 {
		t.Errorf("override = %+v", override)
	}

	w = do(t, r, http.MethodPost, "/capacity/validate", map[string]any{
		"employee_id":     "emp-2",
		"start_date":      "2024-01-08",
		"end_date":        "2024-01-12",
		"allocated_hours": 10,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("validate = %d: %s", w.Code, w.Body.String())
	}
	var result model.CapacityValidationResult
	decode(t, w, &result)
	if result.IsValid || len(result.Violations) != 1 {
		t.Errorf("result = %+v, want the day off as the only violation", result)
	}

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{"bad date", "/employees/emp-2/capacity/10-01-2024", map[string]any{"available_hours": 4}, http.StatusBadRequest},
		{"missing hours", "/employees/emp-2/capacity/2024-01-10", map[string]any{}, http.StatusBadRequest},
		{"too many hours", "/employees/emp-2/capacity/2024-01-10", map[string]any{"available_hours": 30}, http.StatusBadRequest},
		{"unknown employee", "/employees/emp-404/capacity/2024-01-10", map[string]any{"available_hours": 4}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, r, http.MethodPut, tt.path, tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}
