package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"

	"github.com/anstrom/reconradar/internal/metrics/mocks"
)

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestRateLimiter_Allow(t *testing.T) {
	tests := []struct {
		name     string
		limit    int
		requests []string
		expected []bool
	}{
		{"under limit", 5, []string{"1.1.1.1", "1.1.1.1", "1.1.1.1"}, []bool{true, true, true}},
		{"over limit", 2, []string{"1.1.1.1", "1.1.1.1", "1.1.1.1"}, []bool{true, true, false}},
		{"per client", 1, []string{"1.1.1.1", "2.2.2.2", "1.1.1.1"}, []bool{true, true, false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := NewRateLimiter(tt.limit, time.Minute)
			for i, ip := range tt.requests {
				assert.Equal(t, tt.expected[i], limiter.Allow(ip), "request %d", i)
			}
		})
	}
}

func TestRateLimiter_WindowAndCleanup(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(1, time.Minute)
	limiter.now = func() time.Time { return now }

	assert.True(t, limiter.Allow("1.1.1.1"))
	assert.False(t, limiter.Allow("1.1.1.1"))

	now = now.Add(2 * time.Minute)
	limiter.Cleanup()
	assert.Empty(t, limiter.requests)
	assert.True(t, limiter.Allow("1.1.1.1"))
}

func TestLogging_RequestID(t *testing.T) {
	var seen string
	h := Logging(createTestLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/devices", nil))
	assert.Regexp(t, `^req_[0-9a-f]{16}$`, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	req.Header.Set("X-Request-ID", "upstream-1")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "upstream-1", seen)
}

type httpObservation struct {
	method, path, status string
}

type fakeObserver struct {
	requests  []httpObservation
	durations int
}

func (f *fakeObserver) IncrementHTTPRequests(method, path, status string) {
	f.requests = append(f.requests, httpObservation{method, path, status})
}

func (f *fakeObserver) RecordHTTPDuration(string, string, time.Duration) { f.durations++ }

func TestMetrics(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantErrors bool
	}{
		{"success", http.StatusOK, false},
		{"not found", http.StatusNotFound, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			registry := mocks.NewMockMetricsRegistry(ctrl)

			registry.EXPECT().Counter("http_requests_total", gomock.Any()).Times(1)
			registry.EXPECT().Histogram("http_request_duration_seconds", gomock.Any(), gomock.Any()).Times(1)
			if tt.wantErrors {
				registry.EXPECT().Counter("http_errors_total", gomock.Any()).Times(1)
			}

			observer := &fakeObserver{}
			router := mux.NewRouter()
			router.Use(Metrics(registry, observer))
			router.HandleFunc("/api/scan/{type}", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})

			router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/scan/wifi", nil))

			require.Len(t, observer.requests, 1)
			assert.Equal(t, "/api/scan/{type}", observer.requests[0].path)
			assert.Equal(t, "GET", observer.requests[0].method)
			assert.Equal(t, 1, observer.durations)
		})
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(createTestLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Internal server error", body["error"])
}

func TestAuthentication(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	h := Authentication(string(hash), []string{"/api/health"}, createTestLogger())(okHandler())

	tests := []struct {
		name   string
		path   string
		header map[string]string
		status int
	}{
		{"public path", "/api/health", nil, http.StatusOK},
		{"missing key", "/api/devices", nil, http.StatusUnauthorized},
		{"wrong key", "/api/devices", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"header key", "/api/devices", map[string]string{"X-API-Key": "s3cret"}, http.StatusOK},
		{"bearer key", "/api/devices", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusOK},
		{"query key", "/ws?api_key=s3cret", nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders()(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{"forwarded for", map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2"}, "1.1.1.1:1234", "10.0.0.1"},
		{"real ip", map[string]string{"X-Real-IP": "10.0.0.3"}, "1.1.1.1:1234", "10.0.0.3"},
		{"remote addr", nil, "192.168.1.5:5555", "192.168.1.5"},
		{"ipv6 remote addr", nil, "[::1]:5555", "::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getClientIP(req))
		})
	}
}
