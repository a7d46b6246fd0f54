package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/metrics"
	"github.com/kozaktomas/face-attendance/internal/pipeline"
)

func newTestServer(t *testing.T, cfg config.WebConfig, m *metrics.Manager) *Server {
	t.Helper()
	return NewServer(cfg, Deps{
		Tracker: attendance.NewTracker(),
		Events:  pipeline.NewBroadcaster(),
		Metrics: m,
		Log:     logs.NewTestingLog(t),
	})
}

func serve(s *Server, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestServer_Routes(t *testing.T) {
	m := metrics.NewManager()
	m.SetGalleryEntries(3)
	s := newTestServer(t, config.WebConfig{Host: "127.0.0.1", Port: 8080}, m)

	assert.Equal(t, "127.0.0.1:8080", s.Addr())

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/api/v1/health", http.StatusOK, `"ok"`},
		{"/api/v1/status", http.StatusOK, `"marked_count":0`},
		{"/api/v1/attendance", http.StatusOK, `"marked":[]`},
		{"/metrics", http.StatusOK, "face_attendance_pipeline_gallery_entries 3"},
		{"/api/v1/nope", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := serve(s, http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Contains(t, rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestServer_NoMetrics(t *testing.T) {
	s := newTestServer(t, config.WebConfig{}, nil)
	rec := serve(s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_RateLimit(t *testing.T) {
	s := newTestServer(t, config.WebConfig{RateLimitPerMinute: 2}, nil)

	for i := range 2 {
		rec := serve(s, http.MethodGet, "/api/v1/health", nil)
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}
	rec := serve(s, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestServer_CORS(t *testing.T) {
	t.Setenv("FACEATT_ALLOWED_ORIGINS", "https://dash.example.com")
	s := newTestServer(t, config.WebConfig{}, nil)

	tests := []struct {
		origin string
		want   string
	}{
		{"https://dash.example.com", "https://dash.example.com"},
		{"http://localhost:5173", "http://localhost:5173"},
		{"https://evil.example.com", ""},
		{"http://localhost.evil.com", ""},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			rec := serve(s, http.MethodGet, "/api/v1/health", map[string]string{"Origin": tt.origin})
			assert.Equal(t, tt.want, rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}

	rec := serve(s, http.MethodOptions, "/api/v1/status", map[string]string{"Origin": "http://localhost:3000"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, strings.Contains(rec.Header().Get("Access-Control-Allow-Methods"), "GET"))
}
