package middleware_test

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/windfall/prosody_service/internal/logger"
	"github.com/windfall/prosody_service/internal/metrics"
	"github.com/windfall/prosody_service/internal/middleware"
	"github.com/windfall/prosody_service/internal/service"
	"github.com/windfall/prosody_service/pkg/response"
)

type staticValidator map[string]string

func (v staticValidator) ValidateToken(token string) (string, error) {
	if id, ok := v[token]; ok {
		return id, nil
	}
	return "", stderrors.New("unknown token")
}

func echoUser(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(middleware.GetUserID(r.Context())))
}

func TestAuth(t *testing.T) {
	h := middleware.Auth(staticValidator{"good": "user-7"})(http.HandlerFunc(echoUser))

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"valid", "Bearer good", http.StatusOK, "user-7"},
		{"lowercase scheme", "bearer good", http.StatusOK, "user-7"},
		{"missing", "", http.StatusUnauthorized, ""},
		{"basic", "Basic Zm9vOmJhcg==", http.StatusUnauthorized, ""},
		{"unknown", "Bearer bad", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.status == http.StatusOK && rec.Body.String() != tt.body {
				t.Errorf("body = %q", rec.Body.String())
			}
		})
	}
}

type scriptedLimiter struct {
	decision service.RateDecision
	err      error
	seen     []string
}

func (l *scriptedLimiter) Allow(_ context.Context, id string) (service.RateDecision, error) {
	l.seen = append(l.seen, id)
	return l.decision, l.err
}

func TestRateLimit_Allowed(t *testing.T) {
	reset := time.Now().Add(10 * time.Minute)
	limiter := &scriptedLimiter{decision: service.RateDecision{Allowed: true, Limit: 100, Remaining: 99, ResetAt: reset}}
	h := middleware.RateLimit(limiter, nil, logger.NewNop())(http.HandlerFunc(echoUser))

	req := httptest.NewRequest(http.MethodPost, "/prosody/analyze", nil)
	req.RemoteAddr = "203.0.113.9:5123"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Limit") != "100" || rec.Header().Get("X-RateLimit-Remaining") != "99" {
		t.Errorf("headers = %v", rec.Header())
	}
	if limiter.seen[0] != "ip:203.0.113.9" {
		t.Errorf("identifier = %q", limiter.seen[0])
	}
}

func TestRateLimit_KeysByUser(t *testing.T) {
	limiter := &scriptedLimiter{decision: service.RateDecision{Allowed: true, Limit: 1, Remaining: 0}}
	inner := middleware.RateLimit(limiter, nil, logger.NewNop())(http.HandlerFunc(echoUser))
	h := middleware.Auth(staticValidator{"good": "user-7"})(inner)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer good")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if limiter.seen[0] != "user:user-7" {
		t.Errorf("identifier = %q", limiter.seen[0])
	}
}

func TestRateLimit_Rejected(t *testing.T) {
	m := metrics.New()
	limiter := &scriptedLimiter{decision: service.RateDecision{
		Allowed: false, Limit: 100, Remaining: 0, ResetAt: time.Now().Add(time.Minute),
	}}
	called := false
	h := middleware.RateLimit(limiter, m, logger.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	if called {
		t.Error("handler ran for a limited request")
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	var body response.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Success || body.Error.Code != "RATE_LIMIT_EXCEEDED" || body.Error.Details["reset_time"] == nil {
		t.Errorf("body = %+v", body.Error)
	}
	if got := testutil.ToFloat64(m.RateLimited); got != 1 {
		t.Errorf("rate limited counter = %v", got)
	}
}

func TestRateLimit_FailsOpen(t *testing.T) {
	limiter := &scriptedLimiter{err: stderrors.New("redis down")}
	h := middleware.RateLimit(limiter, nil, logger.NewNop())(http.HandlerFunc(echoUser))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want pass-through", rec.Code)
	}
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, "debug", "json")
	h := middleware.Recovery(log)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
	if !strings.Contains(buf.String(), "Panic recovered") {
		t.Errorf("log = %s", buf.String())
	}
}

func TestLogger_LevelFollowsStatus(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, "debug", "json")
	h := middleware.Logger(log)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/prosody/analyze", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log: %v (%s)", err, buf.String())
	}
	if entry["level"] != "warn" || entry["status"] != float64(400) || entry["path"] != "/prosody/analyze" {
		t.Errorf("entry = %v", entry)
	}
}
