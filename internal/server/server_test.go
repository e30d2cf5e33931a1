package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shortguard/shortguard/internal/app"
	"github.com/shortguard/shortguard/internal/batch"
	"github.com/shortguard/shortguard/internal/config"
	"github.com/shortguard/shortguard/internal/interfaces"
	"github.com/shortguard/shortguard/internal/server"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "test.db")
	cfg.Server.RateLimit = 0
	cfg.Classifier.Patterns = []string{`.*malware\.example\.com.*`}
	return &cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *app.Application {
	t.Helper()
	a, err := app.New(cfg, interfaces.NewTestLogger(false))
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func writeArtifacts(t *testing.T) (modelPath, tokenizerPath string) {
	t.Helper()
	dir := t.TempDir()
	modelPath = filepath.Join(dir, "model.json")
	tokenizerPath = filepath.Join(dir, "tokenizer.json")

	modelJSON := `{
		"model_id": "urlbert-lite-v4",
		"kind": "token_sequence",
		"labels": ["safe", "malicious"],
		"class_bias": [0.0, 0.0],
		"token_logits": {
			"malware": [0.0, 5.0],
			"example": [5.0, 0.0],
			"[UNK]": [0.1, 0.0]
		}
	}`
	tokenizerJSON := `{
		"vocab": ["https", "http", "://", "www", ".", "/", "com", "example", "malware", "[UNK]"],
		"max_len": 64,
		"unk_token": "[UNK]",
		"lowercase": true
	}`
	for path, contents := range map[string]string{modelPath: modelJSON, tokenizerPath: tokenizerJSON} {
		if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	return modelPath, tokenizerPath
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeShorten(t *testing.T, rec *httptest.ResponseRecorder) server.ShortenResponse {
	t.Helper()
	var resp server.ShortenResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return resp
}

func TestShortenAndRedirect(t *testing.T) {
	srv := server.NewServer(newTestApp(t, testConfig(t)))

	rec := doJSON(t, srv, http.MethodPut, "/api/v1/url/shorten",
		server.ShortenRequest{URL: "https://www.example.com/landing"}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("shorten status = %d, body %s", rec.Code, rec.Body)
	}
	resp := decodeShorten(t, rec)
	if len(resp.ShortCode) != 8 {
		t.Fatalf("short code %q has wrong length", resp.ShortCode)
	}
	if !resp.Created {
		t.Fatal("first shorten not marked created")
	}

	// Idempotent replay of the same URL.
	rec = doJSON(t, srv, http.MethodPut, "/api/v1/url/shorten",
		server.ShortenRequest{URL: "https://www.example.com/landing"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("replay status = %d", rec.Code)
	}
	if replay := decodeShorten(t, rec); replay.Created || replay.ShortCode != resp.ShortCode {
		t.Fatalf("replay = %+v, want existing code %s", replay, resp.ShortCode)
	}

	req := httptest.NewRequest(http.MethodGet, "/"+resp.ShortCode, nil)
	redirect := httptest.NewRecorder()
	srv.ServeHTTP(redirect, req)
	if redirect.Code != http.StatusFound {
		t.Fatalf("redirect status = %d", redirect.Code)
	}
	if loc := redirect.Header().Get("Location"); loc != "https://www.example.com/landing" {
		t.Fatalf("Location = %q", loc)
	}
	if cc := redirect.Header().Get("Cache-Control"); cc != "no-store" {
		t.Fatalf("Cache-Control = %q, want no-store", cc)
	}
	if pragma := redirect.Header().Get("Pragma"); pragma != "no-cache" {
		t.Fatalf("Pragma = %q, want no-cache", pragma)
	}
}

func TestShortenErrors(t *testing.T) {
	srv := server.NewServer(newTestApp(t, testConfig(t)))

	tests := []struct {
		name     string
		url      string
		wantCode int
		wantErr  string
	}{
		{"invalid url", "ftp://example.com/x", http.StatusUnprocessableEntity, "invalid_url"},
		{"blank url", "   ", http.StatusUnprocessableEntity, "invalid_url"},
		{"unsafe url", "https://malware.example.com/payload", http.StatusForbidden, "unsafe_url"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, srv, http.MethodPut, "/api/v1/url/shorten",
				server.ShortenRequest{URL: tc.url}, "")
			if rec.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tc.wantCode, rec.Body)
			}
			var resp server.ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decoding error body: %v", err)
			}
			if resp.Code != tc.wantErr {
				t.Fatalf("error code = %q, want %q", resp.Code, tc.wantErr)
			}
		})
	}
}

func TestRedirectNotFoundAndDisabled(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	srv := server.NewServer(a)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/zzzzzzzz", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown code status = %d", rec.Code)
	}

	created := decodeShorten(t, doJSON(t, srv, http.MethodPut, "/api/v1/url/shorten",
		server.ShortenRequest{URL: "https://soon-disabled.example.com/x"}, ""))
	if rec := doJSON(t, srv, http.MethodPost, "/api/v1/url/"+created.ShortCode+"/disable", nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("disable status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+created.ShortCode, nil))
	if rec.Code != http.StatusGone {
		t.Fatalf("disabled redirect status = %d, want 410", rec.Code)
	}
}

func TestStatusOverrideAndHistory(t *testing.T) {
	srv := server.NewServer(newTestApp(t, testConfig(t)))

	created := decodeShorten(t, doJSON(t, srv, http.MethodPut, "/api/v1/url/shorten",
		server.ShortenRequest{URL: "https://override.example.com/x"}, ""))

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/url/"+created.ShortCode+"/status",
		server.SetStatusRequest{Status: "malicious", ThreatScore: 0.97, ClassifierID: "manual_review"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("set status = %d, body %s", rec.Code, rec.Body)
	}

	// pending is not a settable target
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/url/"+created.ShortCode+"/status",
		server.SetStatusRequest{Status: "pending"}, "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("pending override status = %d, want 422", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/url/"+created.ShortCode+"/reset", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/url/"+created.ShortCode+"/classifications", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("history status = %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/url/nope0000/classifications", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("history for unknown code = %d, want 404", rec.Code)
	}
}

func TestAuthRequiredWhenConfigured(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.Secret = "test-secret"
	a := newTestApp(t, cfg)
	srv := server.NewServer(a)

	rec := doJSON(t, srv, http.MethodPut, "/api/v1/url/shorten",
		server.ShortenRequest{URL: "https://www.example.com/x"}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", rec.Code)
	}

	token, err := a.Auth.GenerateToken("owner-9")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	rec = doJSON(t, srv, http.MethodPut, "/api/v1/url/shorten",
		server.ShortenRequest{URL: "https://www.example.com/x"}, token)
	if rec.Code != http.StatusCreated {
		t.Fatalf("authenticated status = %d, body %s", rec.Code, rec.Body)
	}

	// The public redirect stays open.
	created := decodeShorten(t, rec)
	redirect := httptest.NewRecorder()
	srv.ServeHTTP(redirect, httptest.NewRequest(http.MethodGet, "/"+created.ShortCode, nil))
	if redirect.Code != http.StatusFound {
		t.Fatalf("redirect status = %d", redirect.Code)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.RateLimit = 1
	cfg.Server.RateBurst = 2
	srv := server.NewServer(newTestApp(t, cfg))

	limited := false
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/zzzzzzzz", nil))
		if rec.Code == http.StatusTooManyRequests {
			limited = true
		}
	}
	if !limited {
		t.Fatal("burst of requests never rate limited")
	}
}

func TestJobsUnavailableWithoutWorker(t *testing.T) {
	srv := server.NewServer(newTestApp(t, testConfig(t)))
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/jobs", server.StartJobRequest{}, "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("jobs without worker = %d, want 503", rec.Code)
	}
}

func TestJobEndpointsAndWebSocket(t *testing.T) {
	cfg := testConfig(t)
	cfg.Worker.DeepModelPath, cfg.Worker.TokenizerPath = writeArtifacts(t)
	a := newTestApp(t, cfg)
	if err := a.WithWorker(); err != nil {
		t.Fatalf("WithWorker: %v", err)
	}
	srv := server.NewServer(a)

	created := decodeShorten(t, doJSON(t, srv, http.MethodPut, "/api/v1/url/shorten",
		server.ShortenRequest{URL: "https://www.example.com/pending-item"}, ""))

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/jobs",
		server.StartJobRequest{Kind: string(batch.JobClassifyPending)}, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start job = %d, body %s", rec.Code, rec.Body)
	}
	var job batch.Job
	if err := json.NewDecoder(rec.Body).Decode(&job); err != nil {
		t.Fatalf("decoding job: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("job did not finish in time")
		}
		rec = doJSON(t, srv, http.MethodGet, "/api/v1/jobs/"+job.ID, nil, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("get job = %d", rec.Code)
		}
		var snap batch.Job
		if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
			t.Fatalf("decoding job: %v", err)
		}
		if snap.Status == batch.JobDone {
			if snap.Report == nil || snap.Report.TotalProcessed != 1 {
				t.Fatalf("job report = %+v", snap.Report)
			}
			break
		}
		if snap.Status == batch.JobFailed {
			t.Fatalf("job failed: %s", snap.Error)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The processed URL is settled now.
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/url/"+created.ShortCode, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get url = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"safe"`) {
		t.Fatalf("url not settled safe: %s", rec.Body)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/jobs", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list jobs = %d", rec.Code)
	}

	// WebSocket stream for a fresh job.
	ts := httptest.NewServer(srv)
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/jobs?kind=" + string(batch.JobReclassifySample)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing websocket: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var first batch.Job
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("reading initial job frame: %v", err)
	}
	if first.ID == "" {
		t.Fatal("initial frame has no job id")
	}
	for {
		var ev batch.JobEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("reading job event: %v", err)
		}
		if ev.Status == batch.JobDone {
			break
		}
		if ev.Status == batch.JobFailed {
			t.Fatalf("websocket job failed: %s", ev.Error)
		}
	}
}

// overHTTP runs a request against a live test server, so request contexts
// are torn down exactly as they would be in production.
func overHTTP(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func TestStartJobOutlivesRequest(t *testing.T) {
	cfg := testConfig(t)
	cfg.Worker.DeepModelPath, cfg.Worker.TokenizerPath = writeArtifacts(t)
	a := newTestApp(t, cfg)
	if err := a.WithWorker(); err != nil {
		t.Fatalf("WithWorker: %v", err)
	}
	ts := httptest.NewServer(server.NewServer(a))
	defer ts.Close()

	resp := overHTTP(t, http.MethodPut, ts.URL+"/api/v1/url/shorten",
		server.ShortenRequest{URL: "https://www.example.com/long-running-item"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("shorten = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = overHTTP(t, http.MethodPost, ts.URL+"/api/v1/jobs",
		server.StartJobRequest{Kind: string(batch.JobClassifyPending)})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start job = %d", resp.StatusCode)
	}
	var job batch.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("decoding job: %v", err)
	}
	resp.Body.Close()

	// The start request has completed; the job must keep running anyway.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("job did not finish in time")
		}
		resp = overHTTP(t, http.MethodGet, ts.URL+"/api/v1/jobs/"+job.ID, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("get job = %d", resp.StatusCode)
		}
		var snap batch.Job
		if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
			t.Fatalf("decoding job: %v", err)
		}
		resp.Body.Close()
		switch snap.Status {
		case batch.JobDone:
			if snap.Report == nil || snap.Report.TotalProcessed != 1 {
				t.Fatalf("job report = %+v", snap.Report)
			}
			return
		case batch.JobFailed, batch.JobCanceled:
			t.Fatalf("job ended %s: %s", snap.Status, snap.Error)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCancelUnknownJob(t *testing.T) {
	cfg := testConfig(t)
	cfg.Worker.DeepModelPath, cfg.Worker.TokenizerPath = writeArtifacts(t)
	a := newTestApp(t, cfg)
	if err := a.WithWorker(); err != nil {
		t.Fatalf("WithWorker: %v", err)
	}
	srv := server.NewServer(a)

	rec := doJSON(t, srv, http.MethodDelete, "/api/v1/jobs/no-such-job", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cancel unknown job = %d, want 404", rec.Code)
	}
}
