package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ahmethakanbesel/clipper/internal/artifact"
	"github.com/ahmethakanbesel/clipper/internal/clip"
	"github.com/ahmethakanbesel/clipper/internal/job"
	"github.com/ahmethakanbesel/clipper/internal/platform/sqlite"
	jobrepo "github.com/ahmethakanbesel/clipper/internal/repository/job"
)

type testEnv struct {
	handler   http.Handler
	repo      *jobrepo.Repository
	artifacts *artifact.Store
	videoDir  string
}

// setup wires the handler without a worker pool, so submitted jobs stay queued.
func setup(t *testing.T) *testEnv {
	t.Helper()

	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	root := t.TempDir()
	videoDir := filepath.Join(root, "videos")
	store, err := artifact.New(videoDir, filepath.Join(root, "work"))
	if err != nil {
		t.Fatal(err)
	}

	repo := jobrepo.NewRepository(db.DB)
	clipSvc := clip.NewService(repo, nil, nil, store, clip.WithPublicURL("http://clips.test"))
	jobSvc := job.NewService(repo)

	return &testEnv{
		handler:   NewHandler(clipSvc, jobSvc, store),
		repo:      repo,
		artifacts: store,
		videoDir:  videoDir,
	}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) submitJSON(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return e.do(t, req)
}

// finish drives a queued job to completed with a clip on disk.
func (e *testEnv) finish(t *testing.T, id string, content []byte) string {
	t.Helper()
	ctx := context.Background()
	for _, s := range []job.Status{job.StatusDownloading, job.StatusProcessing} {
		if _, err := e.repo.Update(ctx, id, func(j *job.Job) error { j.Status = s; return nil }); err != nil {
			t.Fatal(err)
		}
	}
	name := artifact.Filename(id)
	if err := os.WriteFile(filepath.Join(e.videoDir, name), content, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := e.repo.Update(ctx, id, func(j *job.Job) error {
		now := time.Now().UTC()
		j.Status = job.StatusCompleted
		j.OutputPath = name
		j.DownloadURL = "http://clips.test/download/" + name
		j.CompletedAt = &now
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	return name
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) APIResponse[T] {
	t.Helper()
	var resp APIResponse[T]
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	env := setup(t)
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected request id header")
	}
}

func TestAPISpec(t *testing.T) {
	env := setup(t)
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/apispec.json", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var doc struct {
		OpenAPI string                    `json:"openapi"`
		Paths   map[string]map[string]any `json:"paths"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.OpenAPI == "" {
		t.Error("expected openapi version")
	}
	for _, path := range []string{"/api/v1/jobs", "/process_video", "/job/{id}", "/download/{filename}"} {
		if _, ok := doc.Paths[path]; !ok {
			t.Errorf("path %s missing from api spec", path)
		}
	}
}

func TestSubmit_JSON(t *testing.T) {
	env := setup(t)
	rec := env.submitJSON(t, `{"source_url":"https://www.youtube.com/watch?v=abc","input_mark":"00:00:01.000","output_mark":"00:00:05.500"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body)
	}

	resp := decode[clip.SubmitResponse](t, rec)
	if resp.Data.Status != job.StatusQueued || resp.Data.JobID == "" {
		t.Errorf("unexpected response %+v", resp.Data)
	}
	if resp.Data.StatusURL != "http://clips.test/api/v1/jobs/"+resp.Data.JobID {
		t.Errorf("unexpected status url %q", resp.Data.StatusURL)
	}

	j, err := env.repo.Get(context.Background(), resp.Data.JobID)
	if err != nil {
		t.Fatalf("job not stored: %v", err)
	}
	if j.InputMark.String() != "00:00:01.000" || j.OutputMark.String() != "00:00:05.500" {
		t.Errorf("marks not stored: %s %s", j.InputMark, j.OutputMark)
	}
}

func TestSubmit_LegacyForm(t *testing.T) {
	env := setup(t)
	form := url.Values{
		"youtube_url":      {"https://youtu.be/abc"},
		"input_timestamp":  {"00:01:00.000"},
		"output_timestamp": {"00:01:30.000"},
	}
	req := httptest.NewRequest(http.MethodPost, "/process_video", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := env.do(t, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body)
	}
	resp := decode[clip.SubmitResponse](t, rec)

	// the legacy status path serves the same record
	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/job/"+resp.Data.JobID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	got := decode[job.Job](t, rec)
	if got.Data.SourceURL != "https://youtu.be/abc" || got.Data.Status != job.StatusQueued {
		t.Errorf("unexpected job %+v", got.Data)
	}
}

func TestSubmit_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		msg  string
	}{
		{"reversed range", `{"source_url":"https://a.b/v","input_mark":"00:00:05.000","output_mark":"00:00:01.000"}`, "output timestamp must be greater than input timestamp"},
		{"equal marks", `{"source_url":"https://a.b/v","input_mark":"00:00:05.000","output_mark":"00:00:05.000"}`, "output timestamp must be greater than input timestamp"},
		{"bad format", `{"source_url":"https://a.b/v","input_mark":"0:00:05","output_mark":"00:00:09.000"}`, "invalid timestamp format, use HH:MM:SS.mmm"},
		{"missing url", `{"input_mark":"00:00:01.000","output_mark":"00:00:02.000"}`, "missing required parameters"},
		{"relative url", `{"source_url":"/watch?v=1","input_mark":"00:00:01.000","output_mark":"00:00:02.000"}`, "source url must be an absolute http(s) url"},
		{"broken json", `{"source_url":`, "invalid json body"},
	}

	env := setup(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.submitJSON(t, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if resp := decode[string](t, rec); resp.Message != tt.msg {
				t.Errorf("expected message %q, got %q", tt.msg, resp.Message)
			}
		})
	}

	jobs, err := env.repo.List(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 0 {
		t.Errorf("invalid submissions must not create jobs, got %d", len(jobs))
	}
}

func TestGetJob_Errors(t *testing.T) {
	env := setup(t)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/not-a-uuid", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed id, got %d", rec.Code)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/1b4e28ba-2fa1-11d2-883f-0016d3cca427", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown id, got %d", rec.Code)
	}
}

func TestListJobs(t *testing.T) {
	env := setup(t)
	for i := 0; i < 3; i++ {
		if rec := env.submitJSON(t, `{"source_url":"https://a.b/v","input_mark":"00:00:01.000","output_mark":"00:00:02.000"}`); rec.Code != http.StatusAccepted {
			t.Fatalf("submit: %d", rec.Code)
		}
	}

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/jobs?status=queued", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if resp := decode[[]job.Job](t, rec); len(resp.Data) != 3 {
		t.Errorf("expected 3 queued jobs, got %d", len(resp.Data))
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/jobs?status=completed", nil))
	if resp := decode[[]job.Job](t, rec); len(resp.Data) != 0 {
		t.Errorf("expected no completed jobs, got %d", len(resp.Data))
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/jobs?status=bogus", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown status, got %d", rec.Code)
	}
}

func TestDownload(t *testing.T) {
	env := setup(t)
	rec := env.submitJSON(t, `{"source_url":"https://a.b/v","input_mark":"00:00:01.000","output_mark":"00:00:02.000"}`)
	id := decode[clip.SubmitResponse](t, rec).Data.JobID

	// not finished yet
	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/download/"+artifact.Filename(id), nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 before completion, got %d", rec.Code)
	}

	content := []byte("fake mp4 payload")
	name := env.finish(t, id, content)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/download/"+name, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	body, _ := io.ReadAll(rec.Body)
	if !bytes.Equal(body, content) {
		t.Errorf("unexpected body %q", body)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") || !strings.Contains(cd, name) {
		t.Errorf("unexpected Content-Disposition %q", cd)
	}
}

func TestDownload_NotFound(t *testing.T) {
	env := setup(t)
	for _, name := range []string{
		"1b4e28ba-2fa1-11d2-883f-0016d3cca427.mp4",
		"whatever.mp4",
		"clip.mkv",
		".1b4e28ba-2fa1-11d2-883f-0016d3cca427.partial",
	} {
		rec := env.do(t, httptest.NewRequest(http.MethodGet, "/download/"+name, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", name, rec.Code)
		}
	}
}

func TestDownload_Expired(t *testing.T) {
	env := setup(t)
	rec := env.submitJSON(t, `{"source_url":"https://a.b/v","input_mark":"00:00:01.000","output_mark":"00:00:02.000"}`)
	id := decode[clip.SubmitResponse](t, rec).Data.JobID
	name := env.finish(t, id, []byte("x"))

	if err := env.artifacts.Remove(name); err != nil {
		t.Fatal(err)
	}
	if _, err := env.repo.Update(context.Background(), id, func(j *job.Job) error {
		now := time.Now().UTC()
		j.OutputPath = ""
		j.DownloadURL = ""
		j.Message = job.MessageExpired
		j.ExpiredAt = &now
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/download/"+name, nil))
	if rec.Code != http.StatusGone {
		t.Errorf("expected 410, got %d", rec.Code)
	}

	// status stays queryable
	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	got := decode[job.Job](t, rec).Data
	if got.Status != job.StatusCompleted || got.DownloadURL != "" || got.ExpiredAt == nil {
		t.Errorf("unexpected expired job %+v", got)
	}
}

func TestCORS(t *testing.T) {
	env := setup(t)

	req := httptest.NewRequest(http.MethodOptions, "/process_video", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := env.do(t, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 for preflight, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected allow-origin *, got %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "POST") {
		t.Errorf("expected POST to be allowed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec = env.do(t, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected allow-origin on GET, got %q", got)
	}
}

func TestRecovery(t *testing.T) {
	h := recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}
