package httpapi_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"downloaderd/internal/storage"
)

func doRequest(t *testing.T, handler http.Handler, method, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestEnqueue_DefaultPreset(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/download", url.Values{"u": {"https://youtube.com/watch?v=abc123"}})

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["preset"] != "best" || body["status"] != "queued" {
		t.Errorf("body = %+v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestEnqueue_InvalidPreset(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/download", url.Values{
		"u": {"https://youtube.com/watch?v=abc123"}, "preset": {"not_a_preset"},
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] != "invalid_preset" {
		t.Errorf("error = %v, want invalid_preset", body["error"])
	}
}

func TestPauseResumeRetry_RoundTrip(t *testing.T) {
	s, store, _ := newTestServer(t)

	job, err := store.Enqueue("job1", "https://example.com/v", "best", time.Now())
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	rec := doRequest(t, s, http.MethodPost, "/api/jobs/"+job.ID+"/pause", url.Values{})
	if rec.Code != http.StatusOK {
		t.Fatalf("pause status = %d", rec.Code)
	}
	got, _ := store.Get(job.ID)
	if got.Status != storage.StatusPaused {
		t.Fatalf("status after pause = %q", got.Status)
	}

	rec = doRequest(t, s, http.MethodPost, "/api/jobs/"+job.ID+"/resume", url.Values{})
	if rec.Code != http.StatusOK {
		t.Fatalf("resume status = %d", rec.Code)
	}
	got, _ = store.Get(job.ID)
	if got.Status != storage.StatusQueued {
		t.Fatalf("status after resume = %q", got.Status)
	}

	// Force to failed, then retry.
	store.Begin(job.ID, 1, 1, storage.ProfilePrimary, time.Now())
	store.FinishFail(job.ID, "403 forbidden", "ExtractError", storage.ProfilePrimary, 1, 1, time.Now())
	before, _ := store.Get(job.ID)

	rec = doRequest(t, s, http.MethodPost, "/api/jobs/"+job.ID+"/retry", url.Values{})
	if rec.Code != http.StatusOK {
		t.Fatalf("retry status = %d, body=%s", rec.Code, rec.Body.String())
	}
	after, _ := store.Get(job.ID)
	if after.Status != storage.StatusQueued {
		t.Fatalf("status after retry = %q", after.Status)
	}
	if after.AttemptMax != before.AttemptMax+1 {
		t.Errorf("attempt_max = %d, want %d", after.AttemptMax, before.AttemptMax+1)
	}
}

func TestRetry_InvalidStateIs409(t *testing.T) {
	s, store, _ := newTestServer(t)
	job, _ := store.Enqueue("job1", "https://example.com/v", "best", time.Now())

	rec := doRequest(t, s, http.MethodPost, "/api/jobs/"+job.ID+"/retry", url.Values{})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 (job is queued, not failed/paused)", rec.Code)
	}
}

func TestStatus_NotFoundIs404(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/status/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestLegacyDelete_PathTraversalFilename(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/delete", url.Values{"filename": {"../../etc/passwd"}})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestFiles_PathTraversalIs403(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/files/../../etc/passwd", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestFiles_MissingIs404(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/files/does-not-exist.mp4", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGallery_PaginationAndSort(t *testing.T) {
	s, store, _ := newTestServer(t)

	titles := map[string]string{"j1": "Charlie", "j2": "Alpha", "j3": "Bravo"}
	for id, title := range titles {
		job, _ := store.Enqueue(id, "https://example.com/"+id, "best", time.Now())
		store.Begin(job.ID, 1, 1, storage.ProfilePrimary, time.Now())
		store.FinishOK(job.ID, storage.FinishOKInput{Title: title}, time.Now())
	}

	rec := doRequest(t, s, http.MethodGet, "/api/jobs?sort=title_asc&per_page=2&page=1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	jobs := body["jobs"].([]any)
	if len(jobs) != 2 {
		t.Fatalf("page 1 len = %d, want 2", len(jobs))
	}
	first := jobs[0].(map[string]any)
	second := jobs[1].(map[string]any)
	if first["title"] != "Alpha" || second["title"] != "Bravo" {
		t.Errorf("page 1 titles = %v, %v; want Alpha, Bravo", first["title"], second["title"])
	}

	rec = doRequest(t, s, http.MethodGet, "/api/jobs?sort=title_asc&per_page=2&page=2", nil)
	body = decodeBody(t, rec)
	jobs = body["jobs"].([]any)
	if len(jobs) != 1 || jobs[0].(map[string]any)["title"] != "Charlie" {
		t.Fatalf("page 2 = %+v, want [Charlie]", jobs)
	}
}

func TestPresets_ClosedSet(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/presets", nil)
	body := decodeBody(t, rec)
	presets := body["presets"].([]any)
	if len(presets) != 3 {
		t.Fatalf("presets len = %d, want 3", len(presets))
	}
}

func TestHealthz_AlwaysOK(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestCatchAll_EnqueuesReconstructedURL(t *testing.T) {
	s, store, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/https:/youtu.be/abc123", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	job, err := store.Get(body["job_id"].(string))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.RequestedURL != "https://youtu.be/abc123" {
		t.Errorf("requested_url = %q, want repaired double-slash URL", job.RequestedURL)
	}
}

func TestCatchAll_InvalidRendersError(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/not-a-url", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDeleteJob_RemovesRow(t *testing.T) {
	s, store, _ := newTestServer(t)
	job, _ := store.Enqueue("job1", "https://example.com/v", "best", time.Now())

	rec := doRequest(t, s, http.MethodDelete, "/api/jobs/"+job.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if _, err := store.Get(job.ID); err == nil {
		t.Error("expected job to be gone after delete")
	}
}

func TestDeleteJob_UnknownIs404(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodDelete, "/api/jobs/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
