package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"scrapbook/internal/metrics"
)

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec)

	if rw.statusCode != http.StatusOK {
		t.Errorf("default status = %d, want 200", rw.statusCode)
	}

	rw.WriteHeader(http.StatusNotFound)
	rw.WriteHeader(http.StatusInternalServerError)
	if rw.statusCode != http.StatusNotFound {
		t.Errorf("status = %d, the first WriteHeader should win", rw.statusCode)
	}

	if _, err := rw.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if rw.bytesWritten != 5 {
		t.Errorf("bytesWritten = %d, want 5", rw.bytesWritten)
	}
}

func TestShouldSkip(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		config LoggingConfig
		want   bool
	}{
		{"api logged", "/api/cache/stats", DefaultLoggingConfig(), false},
		{"health skipped", "/health", DefaultLoggingConfig(), true},
		{"health logged", "/health", LoggingConfig{Enabled: true, LogHealthChecks: true}, false},
		{"cached skipped", "/cached/ab_low.jpg", DefaultLoggingConfig(), true},
		{"cached logged", "/cached/ab_low.jpg", LoggingConfig{Enabled: true, LogCachedMedia: true}, false},
		{"disabled", "/api/cache/stats", LoggingConfig{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldSkip(tt.path, tt.config); got != tt.want {
				t.Errorf("shouldSkip(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestSanitizeLogField(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"a\nb\rc", "a b c"},
		{"\x1b[31mred", "[31mred"},
		{"nul\x00byte", "nulbyte"},
		{"tab\tok", "tab\tok"},
	}
	for _, tt := range tests {
		if got := sanitizeLogField(tt.in); got != tt.want {
			t.Errorf("sanitizeLogField(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatLogLine(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/cache/all?limit=5", nil)
	req.RemoteAddr = "10.0.0.7:51234"
	req.Header.Set("User-Agent", "curl 8.0")
	rw := newResponseWriter(httptest.NewRecorder())
	rw.WriteHeader(http.StatusAccepted)
	_, _ = rw.Write([]byte("{}"))

	now := time.Date(2024, 3, 2, 10, 4, 5, 0, time.UTC)
	got := formatLogLine(req, rw, 12*time.Millisecond, now)

	want := `2024-03-02 10:04:05 10.0.0.7 POST /api/cache/all limit=5 202 2 12 "curl 8.0"`
	if got != want {
		t.Errorf("formatLogLine =\n  %s\nwant\n  %s", got, want)
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.1"}, "10.0.0.1:80", "1.2.3.4"},
		{"real ip", map[string]string{"X-Real-IP": "5.6.7.8"}, "10.0.0.1:80", "5.6.7.8"},
		{"remote addr", nil, "9.9.9.9:1234", "9.9.9.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := getClientIP(req); got != tt.want {
				t.Errorf("getClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoggerPassesThrough(t *testing.T) {
	handler := Logger(DefaultLoggingConfig())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("body"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/cache/stats", nil))

	if rec.Code != http.StatusTeapot || rec.Body.String() != "body" {
		t.Errorf("response = %d %q", rec.Code, rec.Body.String())
	}
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	r := mux.NewRouter()
	r.Use(Metrics(DefaultMetricsConfig()))
	r.HandleFunc("/cached/{filename}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}).Methods("GET")
	r.HandleFunc("/health", func(http.ResponseWriter, *http.Request) {}).Methods("GET")

	counter := metrics.HTTPRequestsTotal.WithLabelValues("GET", "/cached/{filename}", "404")
	before := testutil.ToFloat64(counter)

	for _, name := range []string{"a_low.jpg", "b_low.jpg"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/cached/"+name, nil))
	}

	if got := testutil.ToFloat64(counter) - before; got != 2 {
		t.Errorf("counter delta = %v, want 2", got)
	}

	healthBefore := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/health", "200"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/health", nil))
	if got := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/health", "200")); got != healthBefore {
		t.Error("health checks should not be recorded")
	}
}

func TestEscapeW3CField(t *testing.T) {
	if got := escapeW3CField("simple"); got != "simple" {
		t.Errorf("got %q", got)
	}
	if got := escapeW3CField(`say "hi" now`); !strings.HasPrefix(got, `"`) || !strings.Contains(got, `""hi""`) {
		t.Errorf("got %q", got)
	}
}
