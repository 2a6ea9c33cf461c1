package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"research-insight-platform/internal/config"
	"research-insight-platform/models"
	"research-insight-platform/services"
)

type testAPI struct {
	router   *gin.Engine
	store    *services.MemoryJobStore
	enqueued []string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	api := &testAPI{store: services.NewMemoryJobStore()}
	cfg := &config.Config{
		MaxPapers:      10,
		DefaultPapers:  5,
		FileStorageDir: t.TempDir(),
	}

	handler := NewResearchHandler(cfg, api.store, func(_ *gin.Context, jobID string) error {
		api.enqueued = append(api.enqueued, jobID)
		return nil
	})

	api.router = gin.New()
	handler.Register(api.router.Group("/api"))
	return api
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func TestSubmitCreatesAndEnqueuesJob(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodPost, "/api/research", gin.H{"topic": "solid state batteries"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.JobID == "" || resp.Status != string(models.StatusPending) {
		t.Errorf("response = %+v", resp)
	}

	job, err := api.store.Get(context.Background(), resp.JobID)
	if err != nil {
		t.Fatalf("job not persisted: %v", err)
	}
	if job.MaxPapers != 5 {
		t.Errorf("default max_papers = %d, want 5", job.MaxPapers)
	}
	if len(api.enqueued) != 1 || api.enqueued[0] != resp.JobID {
		t.Errorf("enqueued = %v", api.enqueued)
	}
}

func TestSubmitValidation(t *testing.T) {
	api := newTestAPI(t)

	cases := []gin.H{
		{},
		{"topic": "ab"},
		{"topic": string(make([]byte, 300))},
		{"topic": "valid topic", "max_papers": -1},
		{"topic": "valid topic", "max_papers": 99},
	}
	for _, body := range cases {
		if w := api.do(t, http.MethodPost, "/api/research", body); w.Code != http.StatusBadRequest {
			t.Errorf("submit %v: status = %d, want 400", body, w.Code)
		}
	}
	if len(api.enqueued) != 0 {
		t.Errorf("invalid submissions enqueued jobs: %v", api.enqueued)
	}
}

func TestStatusUnknownJob(t *testing.T) {
	api := newTestAPI(t)

	if w := api.do(t, http.MethodGet, "/api/research/nope/status", nil); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestResultBeforeCompletion(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()

	job := &models.Job{ID: "j1", Topic: "batteries", Status: models.StatusAnalyzing, Progress: 40}
	if err := api.store.Create(ctx, job); err != nil {
		t.Fatal(err)
	}

	w := api.do(t, http.MethodGet, "/api/research/j1/result", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}

	var resp struct {
		ErrorCode string `json:"error_code"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ErrorCode != "not_ready" {
		t.Errorf("error_code = %q", resp.ErrorCode)
	}
}

func TestResultAfterCompletion(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()

	job := &models.Job{ID: "j1", Topic: "batteries", Status: models.StatusCompleted, Progress: 100}
	if err := api.store.Create(ctx, job); err != nil {
		t.Fatal(err)
	}
	report := &models.Report{
		JobID:       "j1",
		Topic:       "batteries",
		GeneratedAt: time.Now(),
		Narrative:   "# Research Report: batteries",
	}
	if err := api.store.SaveReport(ctx, report); err != nil {
		t.Fatal(err)
	}

	w := api.do(t, http.MethodGet, "/api/research/j1/result", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Insights models.Insights `json:"insights"`
		Report   string          `json:"report"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Insights.Topic != "batteries" || resp.Report == "" {
		t.Errorf("result payload incomplete: %+v", resp)
	}
	if resp.Insights.KeyFindings == nil || resp.Insights.Contradictions == nil {
		t.Error("insights lists absent instead of empty")
	}
}

func TestCancelTerminalJobConflicts(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()

	job := &models.Job{ID: "j1", Topic: "batteries", Status: models.StatusCompleted}
	if err := api.store.Create(ctx, job); err != nil {
		t.Fatal(err)
	}

	if w := api.do(t, http.MethodPost, "/api/research/j1/cancel", nil); w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestCancelRunningJob(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()

	job := &models.Job{ID: "j1", Topic: "batteries", Status: models.StatusResearching}
	if err := api.store.Create(ctx, job); err != nil {
		t.Fatal(err)
	}

	if w := api.do(t, http.MethodPost, "/api/research/j1/cancel", nil); w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", w.Code)
	}

	got, _ := api.store.Get(ctx, "j1")
	if !got.CancelRequested {
		t.Error("cancel flag not set")
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()

	job := &models.Job{ID: "j1", Topic: "batteries", Status: models.StatusCompleted}
	if err := api.store.Create(ctx, job); err != nil {
		t.Fatal(err)
	}

	if w := api.do(t, http.MethodDelete, "/api/research/j1", nil); w.Code != http.StatusNoContent {
		t.Errorf("first delete status = %d", w.Code)
	}
	if w := api.do(t, http.MethodDelete, "/api/research/j1", nil); w.Code != http.StatusNoContent {
		t.Errorf("second delete status = %d", w.Code)
	}
	if _, err := api.store.Get(ctx, "j1"); err == nil {
		t.Error("job survived delete")
	}
}

func TestListJobs(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()

	for _, id := range []string{"j1", "j2"} {
		if err := api.store.Create(ctx, &models.Job{ID: id, Topic: "t " + id, Status: models.StatusPending}); err != nil {
			t.Fatal(err)
		}
	}

	w := api.do(t, http.MethodGet, "/api/research", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp struct {
		Jobs  []models.JobSummary `json:"jobs"`
		Count int                 `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 2 || len(resp.Jobs) != 2 {
		t.Errorf("list = %+v", resp)
	}
}
