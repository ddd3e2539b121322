package web

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/openpdi/internal/catalog"
	"github.com/JonMunkholm/openpdi/internal/config"
	"github.com/JonMunkholm/openpdi/internal/core"
	"github.com/JonMunkholm/openpdi/internal/history"
	"github.com/JonMunkholm/openpdi/internal/service"
)

const uofSchema = `{
  "title": "Use of Force",
  "fields": [
    {"label": "state", "format": "raw", "description": "State", "example": "TX"},
    {"label": "city", "format": "raw", "description": "City", "example": "Austin"},
    {"label": "officer_sex", "format": "sex", "description": "Officer sex", "example": "MALE"}
  ]
}`

const uofSources = `[
  {"url": "austin.csv", "type": "csv", "start": 0, "columns": {
    "state": {"raw": "TX"}, "city": {"raw": "Austin"}, "officer_sex": {"index": 0}}},
  {"url": "la.csv", "type": "csv", "start": 0, "columns": {
    "state": {"raw": "CA"}, "city": {"raw": "Los Angeles"}, "officer_sex": {"index": 0}}}
]`

type fakeFetcher map[string][]core.RawRow

func (f fakeFetcher) Fetch(_ context.Context, src core.SourceDescriptor) (core.RowIterator, error) {
	rows, ok := f[src.URL]
	if !ok {
		return nil, core.NewFetchError(core.FetchUnreachable, src.URL, errors.New("404"))
	}
	return &rowIter{rows: rows}, nil
}

type rowIter struct {
	rows []core.RawRow
	pos  int
}

func (r *rowIter) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *rowIter) Row() core.RawRow { return r.rows[r.pos-1] }
func (r *rowIter) Err() error       { return nil }
func (r *rowIter) Close() error     { return nil }

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	reg := core.NewRegistry()
	cat, err := catalog.LoadFS(fstest.MapFS{
		"uof/schema.json":  {Data: []byte(uofSchema)},
		"uof/tx/meta.json": {Data: []byte(uofSources)},
	}, reg)
	require.NoError(t, err)

	hist, err := history.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { hist.Close() })

	fetcher := fakeFetcher{
		"austin.csv": {{"m"}, {"F"}},
		"la.csv":     {{"female"}},
	}
	svc := service.New(cat, reg, fetcher, hist, service.Options{})
	s := NewServer(svc, nil, opts)
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s
}

func do(t *testing.T, s *Server, method, target, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, Options{})
	rec := do(t, s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["topics"])
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestListTopics(t *testing.T) {
	s := newTestServer(t, Options{})
	rec := do(t, s, http.MethodGet, "/api/topics", "")
	require.Equal(t, http.StatusOK, rec.Code)

	topics := decode[[]service.TopicInfo](t, rec)
	require.Len(t, topics, 1)
	assert.Equal(t, service.TopicInfo{ID: "uof", Title: "Use of Force", Fields: 3, Sources: 2, Agencies: 2}, topics[0])
}

func TestDataset(t *testing.T) {
	s := newTestServer(t, Options{})

	rec := do(t, s, http.MethodGet, "/api/topics/uof?scope=TX", "")
	require.Equal(t, http.StatusOK, rec.Code)
	ds := decode[datasetResponse](t, rec)
	assert.Equal(t, 1, ds.Sources)
	assert.Equal(t, []string{"TX-Austin"}, ds.Agencies)
	assert.Equal(t, []string{"austin.csv"}, ds.URLs)
	assert.Equal(t, []string{"TX"}, ds.Constraints.Scope)
	assert.Contains(t, ds.Summary, "| Use of Force | uof |")

	rec = do(t, s, http.MethodGet, "/api/topics/uof?columns=officer_sex&strict=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	ds = decode[datasetResponse](t, rec)
	assert.Equal(t, core.Header{"officer_sex"}, ds.Columns)
}

func TestDataset_Errors(t *testing.T) {
	s := newTestServer(t, Options{})

	tests := []struct {
		name     string
		target   string
		status   int
		wantCode string
	}{
		{"unknown topic", "/api/topics/ois", http.StatusNotFound, "CFG001"},
		{"unknown column", "/api/topics/uof?columns=weapon", http.StatusBadRequest, "CFG002"},
		{"bad strict", "/api/topics/uof?strict=maybe", http.StatusBadRequest, "REQ001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodGet, tt.target, "")
			require.Equal(t, tt.status, rec.Code)
			body := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.wantCode, body.Code)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestCoverage(t *testing.T) {
	s := newTestServer(t, Options{})

	rec := do(t, s, http.MethodGet, "/api/topics/uof/coverage", "")
	require.Equal(t, http.StatusOK, rec.Code)
	cov := decode[[]catalog.FieldCoverage](t, rec)
	require.Len(t, cov, 3)
	assert.Equal(t, "city", cov[0].Label)
	assert.Equal(t, []string{"CA-Los Angeles", "TX-Austin"}, cov[0].Agencies)

	rec = do(t, s, http.MethodGet, "/api/topics/uof/coverage?format=markdown", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/markdown")
	assert.Contains(t, rec.Body.String(), "Reporting Agencies")
}

func TestDownload(t *testing.T) {
	s := newTestServer(t, Options{})

	rec := do(t, s, http.MethodGet, "/api/topics/uof/download", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="uof.csv"`)

	want := strings.Join([]string{
		`"city","officer_sex","state"`,
		`"Austin","MALE","TX"`,
		`"Austin","FEMALE","TX"`,
		`"Los Angeles","FEMALE","CA"`,
	}, "\r\n") + "\r\n"
	assert.Equal(t, want, rec.Body.String())

	res := rec.Result()
	assert.NotEmpty(t, res.Trailer.Get("X-Run-Id"))
	assert.Empty(t, res.Trailer.Get("X-Run-Error"))
}

func TestDownload_UnknownTopic(t *testing.T) {
	s := newTestServer(t, Options{})

	rec := do(t, s, http.MethodGet, "/api/topics/ois/download", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "CFG001", decode[ErrorResponse](t, rec).Code)
}

func TestPreview(t *testing.T) {
	s := newTestServer(t, Options{})

	rec := do(t, s, http.MethodGet, "/api/topics/uof/preview?limit=2&scope=TX", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var p struct {
		Header []string   `json:"header"`
		Rows   [][]string `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, []string{"city", "officer_sex", "state"}, p.Header)
	assert.Equal(t, [][]string{{"Austin", "MALE", "TX"}, {"Austin", "FEMALE", "TX"}}, p.Rows)
}

func TestExport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pdi.db")
	s := newTestServer(t, Options{Destinations: map[string]string{"warehouse": "sqlite://" + path}})

	rec := do(t, s, http.MethodPost, "/api/topics/uof/export",
		`{"destination": "warehouse", "table": "force", "scope": ["CA"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[service.RunResult](t, rec)
	assert.EqualValues(t, 1, res.Rows)

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	var city string
	require.NoError(t, db.QueryRow(`SELECT city FROM force`).Scan(&city))
	assert.Equal(t, "Los Angeles", city)

	rec = do(t, s, http.MethodGet, "/api/runs/"+res.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	run := decode[history.Run](t, rec)
	assert.Equal(t, history.TriggerExport, run.Trigger)
	assert.Equal(t, history.StatusSucceeded, run.Status)
}

func TestExport_Errors(t *testing.T) {
	s := newTestServer(t, Options{Destinations: map[string]string{"ftp": "ftp://host/x"}})

	tests := []struct {
		name     string
		body     string
		status   int
		wantCode string
	}{
		{"no destination", `{}`, http.StatusBadRequest, "SINK002"},
		{"unsupported destination", `{"destination": "ftp"}`, http.StatusBadRequest, "SINK001"},
		{"unknown destination", `{"destination": "warehouse"}`, http.StatusBadRequest, "SINK003"},
		{"unknown field", `{"dest": "x.csv"}`, http.StatusBadRequest, "REQ001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/topics/uof/export", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantCode, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestExport_RejectsRawDestination(t *testing.T) {
	dir := t.TempDir()
	s := newTestServer(t, Options{
		DefaultDestination: filepath.Join(dir, "uof.csv"),
		Destinations:       map[string]string{"archive": filepath.Join(dir, "archive.csv")},
	})

	for _, dest := range []string{
		"csv://" + filepath.Join(dir, "outside", "..", "pwned.csv"),
		filepath.Join(dir, "pwned.csv"),
		"sqlite://" + filepath.Join(dir, "pwned.db"),
	} {
		body, err := json.Marshal(map[string]string{"destination": dest})
		require.NoError(t, err)
		rec := do(t, s, http.MethodPost, "/api/topics/uof/export", string(body))
		require.Equal(t, http.StatusBadRequest, rec.Code, dest)
		assert.Equal(t, "SINK003", decode[ErrorResponse](t, rec).Code)
	}
	for _, name := range []string{"pwned.csv", "pwned.db"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.True(t, os.IsNotExist(err), name)
	}

	rec := do(t, s, http.MethodPost, "/api/topics/uof/export", `{"destination": "archive"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	_, err := os.Stat(filepath.Join(dir, "archive.csv"))
	assert.NoError(t, err)
}

func TestExport_DefaultDestination(t *testing.T) {
	out := filepath.Join(t.TempDir(), "uof.csv")
	s := newTestServer(t, Options{DefaultDestination: out})

	rec := do(t, s, http.MethodPost, "/api/topics/uof/export", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 3, decode[service.RunResult](t, rec).Rows)
}

func TestExport_RequiresAPIKey(t *testing.T) {
	out := filepath.Join(t.TempDir(), "uof.csv")
	s := newTestServer(t, Options{
		Security:           config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k1", "k2"}},
		DefaultDestination: out,
	})

	rec := do(t, s, http.MethodPost, "/api/topics/uof/export", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/topics/uof/export", "", "X-API-Key", "nope")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/topics/uof/export", "", "X-API-Key", "k2")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Reads stay open.
	rec = do(t, s, http.MethodGet, "/api/topics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRuns(t *testing.T) {
	s := newTestServer(t, Options{})
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/topics/uof/download", "").Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/topics/uof/preview", "").Code)

	rec := do(t, s, http.MethodGet, "/api/runs?page_size=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[history.ListResult](t, rec)
	assert.EqualValues(t, 2, list.TotalCount)
	assert.Equal(t, 2, list.TotalPages)
	require.Len(t, list.Runs, 1)

	rec = do(t, s, http.MethodGet, "/api/runs?status=done", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/runs/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "RUN004", decode[ErrorResponse](t, rec).Code)
}

func TestSchedule_NoScheduler(t *testing.T) {
	s := newTestServer(t, Options{})

	rec := do(t, s, http.MethodGet, "/api/schedule", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = do(t, s, http.MethodPost, "/api/schedule/nightly/run", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPages(t *testing.T) {
	s := newTestServer(t, Options{})

	rec := do(t, s, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `<a href="/topics/uof">Use of Force</a>`)

	rec = do(t, s, http.MethodGet, "/topics/uof", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<code>officer_sex</code>")
	assert.Contains(t, rec.Body.String(), "CA-Los Angeles, TX-Austin")

	rec = do(t, s, http.MethodGet, "/topics/ois", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "CFG001")
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, Options{Rate: config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2}})

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", "").Code)
	}
	rec := do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, "RATE001", decode[ErrorResponse](t, rec).Code)

	// Pages are limited too, with an HTML error.
	rec = do(t, s, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
}
