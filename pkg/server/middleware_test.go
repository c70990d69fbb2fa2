package server

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/NERVsystems/lkmap/pkg/tracing"
)

func TestTracingMiddleware(t *testing.T) {
	ctx := context.Background()
	shutdown, _ := tracing.Setup(ctx, tracing.Config{}, "test")
	defer shutdown(ctx)

	tests := []struct {
		name   string
		status int
		setup  func(r *http.Request)
	}{
		{"success", http.StatusOK, func(r *http.Request) {}},
		{"error", http.StatusInternalServerError, func(r *http.Request) {}},
		{"view cookie", http.StatusOK, func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "view-123"})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := TracingMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if trace.SpanFromContext(r.Context()) == nil {
					t.Error("no span in request context")
				}
				w.WriteHeader(tt.status)
			}))

			req := httptest.NewRequest(http.MethodGet, "/map?sessionId=abc", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, rec.Code)
			}
		})
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	var seenID string
	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = requestIDFrom(r.Context())
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/info", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seenID != "req-42" {
		t.Errorf("handler saw request id %q", seenID)
	}
	if rec.Header().Get("X-Request-ID") != "req-42" {
		t.Errorf("response request id = %q", rec.Header().Get("X-Request-ID"))
	}
	logs := buf.String()
	for _, want := range []string{"request_id=req-42", "status=418", "bytes=15", "path=/info"} {
		if !strings.Contains(logs, want) {
			t.Errorf("log output missing %q:\n%s", want, logs)
		}
	}

	// a request ID is generated when the client sends none
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seenID == "" || seenID == "req-42" {
		t.Errorf("expected a generated request id, got %q", seenID)
	}
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	for _, h := range []string{"X-Content-Type-Options", "X-Frame-Options", "Content-Security-Policy"} {
		if rec.Header().Get(h) == "" {
			t.Errorf("missing %s header", h)
		}
	}
}

func TestRequestSizeLimiter(t *testing.T) {
	handler := RequestSizeLimiter(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
	}))

	req := httptest.NewRequest(http.MethodPost, "/map/category", strings.NewReader("category=provinces"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}

func TestRateLimiterMiddleware_TooManyRequests(t *testing.T) {
	rl := NewRateLimiter(rate.Every(time.Second), 1)
	t.Cleanup(rl.Stop)

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/map.png", nil)
	req.RemoteAddr = "1.2.3.4:1234"

	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req)
	if rec1.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", rec1.Code)
	}

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 Too Many Requests, got %d", rec2.Code)
	}

	// a different client has its own budget
	other := httptest.NewRequest(http.MethodGet, "/map.png", nil)
	other.RemoteAddr = "5.6.7.8:1234"
	rec3 := httptest.NewRecorder()
	handler.ServeHTTP(rec3, other)
	if rec3.Code != http.StatusOK {
		t.Errorf("expected 200 for a second client, got %d", rec3.Code)
	}
}

func TestRateLimiterEvictOldestVisitor(t *testing.T) {
	rl := NewRateLimiter(rate.Every(time.Minute), 1)
	rl.maxVisitors = 2
	t.Cleanup(rl.Stop)

	rl.getVisitor("1.1.1.1")
	time.Sleep(time.Millisecond)
	rl.getVisitor("2.2.2.2")
	time.Sleep(time.Millisecond)
	rl.getVisitor("3.3.3.3") // evicts 1.1.1.1

	rl.mu.Lock()
	_, ok1 := rl.visitors["1.1.1.1"]
	_, ok2 := rl.visitors["2.2.2.2"]
	_, ok3 := rl.visitors["3.3.3.3"]
	count := len(rl.visitors)
	rl.mu.Unlock()

	if ok1 {
		t.Error("oldest visitor was not evicted")
	}
	if !ok2 || !ok3 {
		t.Error("expected newer visitors to remain")
	}
	if count != 2 {
		t.Errorf("expected 2 visitors, got %d", count)
	}
}

func TestGetIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded", map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2"}, "1.1.1.1:80", "10.0.0.1"},
		{"real ip", map[string]string{"X-Real-IP": "10.0.0.3"}, "1.1.1.1:80", "10.0.0.3"},
		{"invalid forwarded", map[string]string{"X-Forwarded-For": "nonsense"}, "1.1.1.1:80", "1.1.1.1"},
		{"remote addr", nil, "1.1.1.1:80", "1.1.1.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := getIP(r); got != tt.want {
				t.Errorf("getIP = %s, want %s", got, tt.want)
			}
		})
	}
}
