package web

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/pemtool/internal/config"
	"github.com/JonMunkholm/pemtool/internal/core"
	"github.com/JonMunkholm/pemtool/internal/store"
)

type testServer struct {
	*httptest.Server
	fixture []byte
}

func newTestServer(t *testing.T, vars map[string]string) *testServer {
	t.Helper()
	env := map[string]string{
		"STORE_DRIVER":       "sqlite",
		"RATE_LIMIT_ENABLED": "false",
	}
	for k, v := range vars {
		env[k] = v
	}
	cfg, err := config.LoadFrom(func(k string) string { return env[k] })
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	st, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "pem.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	reg := prometheus.NewRegistry()
	opts := core.OptionsFromConfig(cfg)
	opts.Metrics = core.NewMetrics(reg)
	svc := core.NewService(st, opts)
	core.RegisterLimiter(reg, svc.Limiter())

	srv := NewServer(svc, cfg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Shutdown(context.Background())
	})

	data, err := os.ReadFile(filepath.Join("..", "pem", "testdata", "line200e.pem"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return &testServer{Server: ts, fixture: data}
}

func (ts *testServer) do(t *testing.T, method, path, contentType string, body io.Reader, headers ...string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func multipartBody(t *testing.T, name string, content []byte) (string, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write(content)
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return mw.FormDataContentType(), &buf
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func (ts *testServer) upload(t *testing.T) core.FileRecord {
	t.Helper()
	ct, body := multipartBody(t, "line200e.pem", ts.fixture)
	resp := ts.do(t, http.MethodPost, "/api/files", ct, body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	return decode[core.FileRecord](t, resp)
}

func TestUploadAndGet(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.upload(t)

	if rec.Readings != 4 || rec.LineName != "Line 200E" {
		t.Errorf("record = %+v", rec)
	}

	resp := ts.do(t, http.MethodGet, "/api/files/"+rec.ID.String(), "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	got := decode[FileResponse](t, resp)
	if got.Summary.Units != "nT/s" || got.Summary.Current != 20 || got.Summary.Averaged {
		t.Errorf("summary = %+v", got.Summary)
	}
	if strings.Join(got.Summary.Stations, ",") != "0N,50N" {
		t.Errorf("stations = %v", got.Summary.Stations)
	}
	if len(got.Revisions) != 1 || got.Revisions[0].Op != core.OpUpload {
		t.Errorf("revisions = %+v", got.Revisions)
	}

	list := decode[[]core.FileRecord](t, ts.do(t, http.MethodGet, "/api/files", "", nil))
	if len(list) != 1 || list[0].ID != rec.ID {
		t.Errorf("list = %+v", list)
	}
}

func TestUploadRawBody(t *testing.T) {
	ts := newTestServer(t, nil)
	resp := ts.do(t, http.MethodPost, "/api/files?name=L200E.PEM", "text/plain", bytes.NewReader(ts.fixture))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if rec := decode[core.FileRecord](t, resp); rec.Name != "L200E.PEM" {
		t.Errorf("name = %q", rec.Name)
	}
}

func TestUploadErrors(t *testing.T) {
	ts := newTestServer(t, map[string]string{"UPLOAD_MAX_FILE_SIZE": "4096"})

	tests := []struct {
		name     string
		content  []byte
		wantCode int
		wantErr  string
	}{
		{"not pem", []byte("hello"), http.StatusBadRequest, "FILE002"},
		{"empty", nil, http.StatusBadRequest, "FILE005"},
		{"too large", bytes.Repeat([]byte("x"), 5000), http.StatusRequestEntityTooLarge, "FILE001"},
		{"malformed", bytes.Replace(ts.fixture, []byte("\n$\n"), []byte("\n"), 1), http.StatusUnprocessableEntity, "PEM004"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct, body := multipartBody(t, "bad.pem", tt.content)
			resp := ts.do(t, http.MethodPost, "/api/files", ct, body)
			if resp.StatusCode != tt.wantCode {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			if got := decode[ErrorResponse](t, resp); got.Code != tt.wantErr {
				t.Errorf("code = %q, want %q", got.Code, tt.wantErr)
			}
		})
	}

	t.Run("missing file field", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		_ = mw.WriteField("note", "x")
		_ = mw.Close()
		resp := ts.do(t, http.MethodPost, "/api/files", mw.FormDataContentType(), &buf)
		if got := decode[ErrorResponse](t, resp); got.Code != "FILE004" {
			t.Errorf("code = %q, want FILE004", got.Code)
		}
	})
}

func TestEditRevertExport(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.upload(t)
	base := "/api/files/" + rec.ID.String()

	resp := ts.do(t, http.MethodPost, base+"/edit", "application/json",
		strings.NewReader(`{"average":true,"shift":100}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("edit status = %d", resp.StatusCode)
	}
	edited := decode[core.FileRecord](t, resp)
	if edited.Revision != 1 || edited.Readings != 3 {
		t.Errorf("edited = %+v", edited)
	}

	resp = ts.do(t, http.MethodPost, base+"/edit", "application/x-www-form-urlencoded",
		strings.NewReader("op=average"))
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second average status = %d, want 409", resp.StatusCode)
	}
	if got := decode[ErrorResponse](t, resp); got.Code != "EDIT001" {
		t.Errorf("code = %q, want EDIT001", got.Code)
	}

	resp = ts.do(t, http.MethodGet, base+"/export", "", nil)
	content, _ := io.ReadAll(resp.Body)
	if resp.Header.Get("X-PEM-Revision") != "1" || !bytes.Contains(content, []byte("100N ZR1")) {
		t.Errorf("export revision %s content:\n%s", resp.Header.Get("X-PEM-Revision"), content)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "line200e.pem") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	resp = ts.do(t, http.MethodGet, base+"/export?revision=0", "", nil)
	content, _ = io.ReadAll(resp.Body)
	if !bytes.Equal(content, ts.fixture) {
		t.Error("revision 0 export differs from the upload")
	}

	resp = ts.do(t, http.MethodPost, base+"/revert", "", nil)
	if got := decode[core.FileRecord](t, resp); got.Revision != 0 || got.Readings != 4 {
		t.Errorf("reverted = %+v", got)
	}
	resp = ts.do(t, http.MethodPost, base+"/revert", "", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("revert at upload status = %d, want 409", resp.StatusCode)
	}
}

func TestEditBadRequests(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.upload(t)
	base := "/api/files/" + rec.ID.String()

	tests := []struct {
		name        string
		contentType string
		body        string
		wantCode    string
	}{
		{"unknown op", "application/x-www-form-urlencoded", "op=rotate", "EDIT009"},
		{"unknown json field", "application/json", `{"rotate":true}`, "EDIT009"},
		{"empty request", "application/json", `{}`, "EDIT009"},
		{"zero coil area", "application/x-www-form-urlencoded", "op=scale_coil_area&arg=0", "EDIT003"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, http.MethodPost, base+"/edit", tt.contentType, strings.NewReader(tt.body))
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
			if got := decode[ErrorResponse](t, resp); got.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestNotFound(t *testing.T) {
	ts := newTestServer(t, nil)
	for _, path := range []string{
		"/api/files/not-a-uuid",
		"/api/files/6f1c1f4e-9d7a-4a0e-9a55-2b1f0c3d4e5f",
		"/api/files/6f1c1f4e-9d7a-4a0e-9a55-2b1f0c3d4e5f/export",
	} {
		resp := ts.do(t, http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestDelete(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.upload(t)
	resp := ts.do(t, http.MethodDelete, "/api/files/"+rec.ID.String(), "", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp = ts.do(t, http.MethodGet, "/api/files/"+rec.ID.String(), "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", resp.StatusCode)
	}
}

func TestAPIKeyRequired(t *testing.T) {
	ts := newTestServer(t, map[string]string{"REQUIRE_API_KEY": "true", "API_KEYS": "s3cret"})

	ct, body := multipartBody(t, "line200e.pem", ts.fixture)
	if resp := ts.do(t, http.MethodPost, "/api/files", ct, body); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no key status = %d, want 401", resp.StatusCode)
	}

	ct, body = multipartBody(t, "line200e.pem", ts.fixture)
	resp := ts.do(t, http.MethodPost, "/api/files", ct, body, "X-API-Key", "s3cret")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("with key status = %d, want 201", resp.StatusCode)
	}

	entries := decode[[]core.AuditEntry](t, ts.do(t, http.MethodGet, "/api/audit-log", "", nil))
	if len(entries) != 1 || entries[0].Actor != "key-1" {
		t.Errorf("audit entries = %+v", entries)
	}

	if resp := ts.do(t, http.MethodGet, "/api/files", "", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("read without key status = %d, want 200", resp.StatusCode)
	}
}

func TestAuditLogExport(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.upload(t)
	ts.do(t, http.MethodPost, "/api/files/"+rec.ID.String()+"/edit", "application/json",
		strings.NewReader(`{"reverse":["Z"]}`))

	resp := ts.do(t, http.MethodGet, "/api/audit-log/export?action=edit", "", nil)
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q", ct)
	}
	rows, err := csv.NewReader(resp.Body).ReadAll()
	if err != nil {
		t.Fatalf("parse CSV: %v", err)
	}
	if len(rows) != 2 || rows[1][2] != "edit" || rows[1][4] != rec.ID.String() {
		t.Errorf("rows = %q", rows)
	}
}

func TestPages(t *testing.T) {
	ts := newTestServer(t, nil)

	ct, body := multipartBody(t, "<line>.pem", ts.fixture)
	resp := ts.do(t, http.MethodPost, "/upload", ct, body)
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("upload form status = %d, want 303", resp.StatusCode)
	}
	filePage := resp.Header.Get("Location")

	page := ts.do(t, http.MethodGet, "/", "", nil)
	html, _ := io.ReadAll(page.Body)
	if !bytes.Contains(html, []byte("&lt;line&gt;.pem")) || bytes.Contains(html, []byte("<line>")) {
		t.Errorf("dashboard does not escape the file name:\n%s", html)
	}
	if page.Header.Get("X-Frame-Options") != "DENY" {
		t.Error("missing security headers")
	}

	resp = ts.do(t, http.MethodPost, filePage+"/edit", "application/x-www-form-urlencoded", strings.NewReader("op=split_channels"))
	if resp.StatusCode != http.StatusSeeOther {
		t.Errorf("edit form status = %d, want 303", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodPost, filePage+"/edit", "application/x-www-form-urlencoded", strings.NewReader("op=split_channels"))
	html, _ = io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusConflict || !bytes.Contains(html, []byte("EDIT002")) {
		t.Errorf("repeated split: status %d, page:\n%s", resp.StatusCode, html)
	}

	for _, path := range []string{filePage, "/audit-log?action=edit"} {
		if resp := ts.do(t, http.MethodGet, path, "", nil); resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d", path, resp.StatusCode)
		}
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.upload(t)

	health := decode[HealthResponse](t, ts.do(t, http.MethodGet, "/healthz", "", nil))
	if health.Status != "ok" || health.Uploads.MaxConcurrent != 5 {
		t.Errorf("health = %+v", health)
	}

	resp := ts.do(t, http.MethodGet, "/metrics", "", nil)
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{`pem_uploads_total{result="ok"} 1`, "pem_active_uploads 0"} {
		if !bytes.Contains(body, []byte(want)) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"RATE_LIMIT_ENABLED":             "true",
		"RATE_LIMIT_REQUESTS_PER_MINUTE": "2",
	})
	codes := make([]int, 3)
	for i := range codes {
		codes[i] = ts.do(t, http.MethodGet, "/healthz", "", nil).StatusCode
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("status codes = %v, want the third request limited", codes)
	}
}
