package server_test

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/windfall/prosody_service/internal/config"
	grpchandler "github.com/windfall/prosody_service/internal/handler/grpc"
	httphandler "github.com/windfall/prosody_service/internal/handler/http"
	"github.com/windfall/prosody_service/internal/logger"
	"github.com/windfall/prosody_service/internal/metrics"
	"github.com/windfall/prosody_service/internal/prosody"
	"github.com/windfall/prosody_service/internal/server"
	"github.com/windfall/prosody_service/internal/service"
)

type steadyIntensity []float64

func (s steadyIntensity) Values() []float64 { return s }
func (s steadyIntensity) Mean() float64     { return 65 }
func (s steadyIntensity) StdDev() float64   { return 8 }

type steadyExtractor struct{}

func (steadyExtractor) Extract(context.Context, string) (*prosody.Features, error) {
	return &prosody.Features{
		Duration:  20,
		Pitch:     []float64{170, 190, 210, 230},
		Intensity: steadyIntensity{60, 70, 65},
	}, nil
}

type tokens map[string]string

func (t tokens) ValidateToken(token string) (string, error) {
	if id, ok := t[token]; ok {
		return id, nil
	}
	return "", status.Error(codes.Unauthenticated, "unknown")
}

type countingLimiter struct {
	max  int
	seen map[string]int
}

func (l *countingLimiter) Allow(_ context.Context, id string) (service.RateDecision, error) {
	if l.seen == nil {
		l.seen = map[string]int{}
	}
	l.seen[id]++
	remaining := l.max - l.seen[id]
	if remaining < 0 {
		remaining = 0
	}
	return service.RateDecision{
		Allowed:   l.seen[id] <= l.max,
		Limit:     l.max,
		Remaining: remaining,
		ResetAt:   time.Now().Add(time.Minute),
	}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Host:               "127.0.0.1",
		Environment:        "test",
		MaxUploadBytes:     1 << 20,
		RequestTimeout:     5 * time.Second,
		CORSAllowedOrigins: []string{"*"},
		CORSAllowedMethods: []string{"GET", "POST"},
		CORSAllowedHeaders: []string{"Authorization", "Content-Type"},
	}
}

func newProsodyService(t *testing.T) *service.ProsodyService {
	t.Helper()
	svc, err := service.NewProsodyService(steadyExtractor{}, service.ProsodyConfig{
		Calibration: prosody.DefaultCalibration(),
		TempDir:     t.TempDir(),
	}, logger.NewNop())
	if err != nil {
		t.Fatalf("NewProsodyService: %v", err)
	}
	return svc
}

func dialBufconn(t *testing.T, opts server.GRPCOptions) *grpc.ClientConn {
	t.Helper()
	svc := newProsodyService(t)
	srv := server.NewGRPCServer(testConfig(), logger.NewNop(), grpchandler.NewHandler(logger.NewNop(), svc), opts)

	lis := bufconn.Listen(1 << 20)
	go srv.Serve(lis)
	t.Cleanup(srv.GracefulStop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestGRPC_AnalyzeAndCompare(t *testing.T) {
	conn := dialBufconn(t, server.GRPCOptions{})
	client := grpchandler.NewProsodyServiceClient(conn)
	ctx := context.Background()

	analysis, err := client.Analyze(ctx, &grpchandler.AnalyzeRequest{
		Audio: grpchandler.Audio{Data: []byte("RIFF...."), MediaType: "audio/wav"},
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if analysis.PitchMetrics.MeanF0 != 200 || analysis.Duration != 20 {
		t.Errorf("analysis = %+v", analysis.Analysis)
	}

	cmp, err := client.Compare(ctx, &grpchandler.CompareRequest{
		Reference: grpchandler.Audio{Data: []byte("a"), MediaType: "audio/wav"},
		Student:   grpchandler.Audio{Data: []byte("b"), MediaType: "audio/ogg"},
	})
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if cmp.SimilarityScore != 100 {
		t.Errorf("similarity = %v", cmp.SimilarityScore)
	}

	st, err := client.Status(ctx, &grpchandler.StatusRequest{})
	if err != nil || st.Status != "active" {
		t.Errorf("Status = %+v, %v", st, err)
	}
}

func TestGRPC_ErrorCodes(t *testing.T) {
	conn := dialBufconn(t, server.GRPCOptions{})
	client := grpchandler.NewProsodyServiceClient(conn)

	_, err := client.Analyze(context.Background(), &grpchandler.AnalyzeRequest{
		Audio: grpchandler.Audio{Data: []byte("x"), MediaType: "image/png"},
	})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("code = %v (%v)", status.Code(err), err)
	}
	if msg := status.Convert(err).Message(); msg != "File must be an audio file" {
		t.Errorf("message = %q", msg)
	}

	_, err = client.Analyze(context.Background(), &grpchandler.AnalyzeRequest{
		Audio: grpchandler.Audio{MediaType: "audio/wav"},
	})
	if status.Code(err) != codes.Internal {
		t.Errorf("empty audio code = %v", status.Code(err))
	}
}

func TestGRPC_Auth(t *testing.T) {
	conn := dialBufconn(t, server.GRPCOptions{Validator: tokens{"t1": "user-1"}})
	client := grpchandler.NewProsodyServiceClient(conn)
	req := &grpchandler.AnalyzeRequest{Audio: grpchandler.Audio{Data: []byte("x"), MediaType: "audio/wav"}}

	if _, err := client.Analyze(context.Background(), req); status.Code(err) != codes.Unauthenticated {
		t.Errorf("anonymous code = %v", status.Code(err))
	}

	ctx := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer t1")
	if _, err := client.Analyze(ctx, req); err != nil {
		t.Errorf("authenticated Analyze: %v", err)
	}

	if _, err := client.Status(context.Background(), &grpchandler.StatusRequest{}); err != nil {
		t.Errorf("Status needs no token: %v", err)
	}
}

func TestGRPC_RateLimit(t *testing.T) {
	conn := dialBufconn(t, server.GRPCOptions{Limiter: &countingLimiter{max: 1}})
	client := grpchandler.NewProsodyServiceClient(conn)
	req := &grpchandler.AnalyzeRequest{Audio: grpchandler.Audio{Data: []byte("x"), MediaType: "audio/wav"}}

	var header metadata.MD
	if _, err := client.Analyze(context.Background(), req, grpc.Header(&header)); err != nil {
		t.Fatalf("first Analyze: %v", err)
	}
	if got := header.Get("x-ratelimit-limit"); len(got) != 1 || got[0] != "1" {
		t.Errorf("header = %v", header)
	}
	_, err := client.Analyze(context.Background(), req)
	if status.Code(err) != codes.ResourceExhausted {
		t.Errorf("second Analyze code = %v", status.Code(err))
	}
	if msg := status.Convert(err).Message(); msg != "Too many requests" {
		t.Errorf("message = %q", msg)
	}
}

func TestGRPC_Health(t *testing.T) {
	conn := dialBufconn(t, server.GRPCOptions{Validator: tokens{}})
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{
		Service: grpchandler.ServiceName,
	})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v", resp.Status)
	}
}

func newHTTP(t *testing.T, opts server.HTTPOptions) http.Handler {
	t.Helper()
	svc := newProsodyService(t)
	srv := server.NewHTTPServer(testConfig(), logger.NewNop(),
		httphandler.NewHealthHandler(svc.Status()),
		httphandler.NewProsodyHandler(logger.NewNop(), svc, 1<<20),
		opts,
	)
	return srv.Handler()
}

func TestHTTP_Routes(t *testing.T) {
	h := newHTTP(t, server.HTTPOptions{Metrics: metrics.New()})

	tests := []struct {
		method, path string
		status       int
	}{
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/ready", http.StatusOK},
		{http.MethodGet, "/live", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/api/v1/prosody/analyze", http.StatusOK},
		{http.MethodGet, "/prosody/analyze", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != tt.status {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.status)
		}
	}
}

func TestHTTP_AuthOnlyGuardsV1(t *testing.T) {
	h := newHTTP(t, server.HTTPOptions{Validator: tokens{"t1": "user-1"}})

	post := func(path, token string) int {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(""))
		req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := post("/api/v1/prosody/analyze", ""); code != http.StatusUnauthorized {
		t.Errorf("anonymous v1 = %d", code)
	}
	// Authenticated but empty form: the handler runs and rejects the body.
	if code := post("/api/v1/prosody/analyze", "t1"); code != http.StatusBadRequest {
		t.Errorf("authenticated v1 = %d", code)
	}
	if code := post("/prosody/analyze", ""); code != http.StatusBadRequest {
		t.Errorf("legacy route = %d", code)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/prosody/analyze", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("describe = %d", rec.Code)
	}
}

func TestHTTP_RateLimitedRoutes(t *testing.T) {
	h := newHTTP(t, server.HTTPOptions{Limiter: &countingLimiter{max: 0}})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/prosody/analyze", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("analyze = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health = %d", rec.Code)
	}
}
