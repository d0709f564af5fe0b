package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	httphandler "github.com/windfall/prosody_service/internal/handler/http"
	"github.com/windfall/prosody_service/internal/logger"
	"github.com/windfall/prosody_service/internal/middleware"
	"github.com/windfall/prosody_service/internal/prosody"
	"github.com/windfall/prosody_service/internal/repository"
	"github.com/windfall/prosody_service/internal/service"
	"github.com/windfall/prosody_service/pkg/response"
)

type flatIntensity []float64

func (f flatIntensity) Values() []float64 { return f }
func (f flatIntensity) Mean() float64     { return 70 }
func (f flatIntensity) StdDev() float64   { return 5 }

// stubExtractor returns the same features for every file.
type stubExtractor struct {
	features *prosody.Features
	err      error
}

func (s stubExtractor) Extract(context.Context, string) (*prosody.Features, error) {
	return s.features, s.err
}

var voicedFeatures = &prosody.Features{
	Duration:  12,
	Pitch:     []float64{180, 200, 220},
	Intensity: flatIntensity{70, 72, 68},
}

type listAttempts struct{ attempts []repository.Attempt }

func (l *listAttempts) Save(_ context.Context, a *repository.Attempt) error {
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	l.attempts = append(l.attempts, *a)
	return nil
}

func (l *listAttempts) ListByUser(_ context.Context, userID string, limit int) ([]repository.Attempt, error) {
	var out []repository.Attempt
	for _, a := range l.attempts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (l *listAttempts) GetByID(_ context.Context, userID string, id uuid.UUID) (*repository.Attempt, error) {
	for _, a := range l.attempts {
		if a.ID == id && a.UserID == userID {
			return &a, nil
		}
	}
	return nil, repository.ErrNotFound
}

func newRouter(t *testing.T, ex stubExtractor, maxUpload int64, opts ...service.ProsodyOption) http.Handler {
	t.Helper()
	svc, err := service.NewProsodyService(ex, service.ProsodyConfig{
		Calibration: prosody.DefaultCalibration(),
		TempDir:     t.TempDir(),
	}, logger.NewNop(), opts...)
	if err != nil {
		t.Fatalf("NewProsodyService: %v", err)
	}
	h := httphandler.NewProsodyHandler(logger.NewNop(), svc, maxUpload)

	r := chi.NewRouter()
	r.Post("/prosody/analyze", h.LegacyAnalyze)
	r.Post("/prosody/compare", h.LegacyCompare)
	r.Route("/api/v1/prosody", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if id := r.Header.Get("X-Test-User"); id != "" {
					r = r.WithContext(middleware.WithUserID(r.Context(), id))
				}
				next.ServeHTTP(w, r)
			})
		})
		r.Get("/analyze", h.Describe)
		r.Post("/analyze", h.Analyze)
		r.Post("/compare", h.Compare)
		r.Get("/attempts", h.ListAttempts)
		r.Get("/attempts/{id}", h.GetAttempt)
	})
	return r
}

type part struct {
	field, contentType string
	data               []byte
}

func multipartRequest(t *testing.T, target string, parts ...part) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, p := range parts {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename="%s.bin"`, p.field, p.field))
		header.Set("Content-Type", p.contentType)
		w, err := mw.CreatePart(header)
		if err != nil {
			t.Fatalf("CreatePart: %v", err)
		}
		w.Write(p.data)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestLegacyAnalyze_RawDocument(t *testing.T) {
	r := newRouter(t, stubExtractor{features: voicedFeatures}, 0)
	rec := serve(r, multipartRequest(t, "/prosody/analyze", part{"audio_file", "audio/wav", []byte("RIFF")}))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"duration", "pitch_metrics", "intensity_metrics", "speaking_rate", "prosody_score", "band_estimate", "feedback"} {
		if _, ok := got[key]; !ok {
			t.Errorf("missing %q in %v", key, got)
		}
	}
	if _, ok := got["success"]; ok {
		t.Error("legacy response is enveloped")
	}
}

func TestLegacyAnalyze_Errors(t *testing.T) {
	tests := []struct {
		name   string
		ex     stubExtractor
		part   part
		status int
		detail string
	}{
		{
			name:   "not audio",
			ex:     stubExtractor{features: voicedFeatures},
			part:   part{"audio_file", "text/plain", []byte("hello")},
			status: http.StatusBadRequest,
			detail: "File must be an audio file",
		},
		{
			name:   "extraction",
			ex:     stubExtractor{err: stderrors.New("corrupt header")},
			part:   part{"audio_file", "audio/wav", []byte("RIFF")},
			status: http.StatusInternalServerError,
			detail: "Analysis failed: corrupt header",
		},
		{
			name: "unvoiced",
			ex: stubExtractor{features: &prosody.Features{
				Duration: 3, Pitch: []float64{}, Intensity: flatIntensity{70},
			}},
			part:   part{"audio_file", "audio/wav", []byte("RIFF")},
			status: http.StatusInternalServerError,
			detail: "Analysis failed: degenerate prosody metrics: no voiced frames",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(t, tt.ex, 0)
			rec := serve(r, multipartRequest(t, "/prosody/analyze", tt.part))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			var got map[string]string
			json.Unmarshal(rec.Body.Bytes(), &got)
			if got["detail"] != tt.detail {
				t.Errorf("detail = %q, want %q", got["detail"], tt.detail)
			}
		})
	}
}

func TestAnalyze_Envelope(t *testing.T) {
	r := newRouter(t, stubExtractor{features: voicedFeatures}, 0)
	rec := serve(r, multipartRequest(t, "/api/v1/prosody/analyze", part{"audio_file", "audio/ogg", []byte("OggS")}))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var got struct {
		Success   bool             `json:"success"`
		Data      prosody.Analysis `json:"data"`
		Timestamp string           `json:"timestamp"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Success || got.Timestamp == "" || got.Data.PitchMetrics.MeanF0 != 200 {
		t.Errorf("body = %+v", got)
	}
}

func TestAnalyze_MissingField(t *testing.T) {
	r := newRouter(t, stubExtractor{features: voicedFeatures}, 0)
	rec := serve(r, multipartRequest(t, "/api/v1/prosody/analyze", part{"wrong", "audio/wav", []byte("x")}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var got response.Response
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Success || got.Error.Code != "VALIDATION_ERROR" || got.Error.Message != "audio_file is required" {
		t.Errorf("error = %+v", got.Error)
	}
}

func TestAnalyze_NotMultipart(t *testing.T) {
	r := newRouter(t, stubExtractor{features: voicedFeatures}, 0)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/prosody/analyze", bytes.NewBufferString(`{"audio":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	if rec := serve(r, req); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestAnalyze_TooLarge(t *testing.T) {
	r := newRouter(t, stubExtractor{features: voicedFeatures}, 1024)
	rec := serve(r, multipartRequest(t, "/api/v1/prosody/analyze",
		part{"audio_file", "audio/wav", bytes.Repeat([]byte{1}, 4096)}))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDescribe(t *testing.T) {
	r := newRouter(t, stubExtractor{}, 0)
	rec := serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/prosody/analyze", nil))

	var got struct {
		Data map[string]string `json:"data"`
	}
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Data["method"] != "POST" || got.Data["required"] != "audio file (multipart/form-data)" {
		t.Errorf("describe = %v", got.Data)
	}
}

func TestCompare(t *testing.T) {
	r := newRouter(t, stubExtractor{features: voicedFeatures}, 0)

	rec := serve(r, multipartRequest(t, "/prosody/compare",
		part{"reference_audio", "audio/wav", []byte("ref")},
		part{"student_audio", "audio/wav", []byte("student")},
	))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var got prosody.Comparison
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SimilarityScore != 100 || got.OverallFeedback != prosody.ComparisonExcellent {
		t.Errorf("comparison = %+v", got)
	}
	if got.ImprovementAreas == nil {
		t.Error("improvement_areas encoded as null")
	}

	rec = serve(r, multipartRequest(t, "/api/v1/prosody/compare",
		part{"reference_audio", "audio/wav", []byte("ref")},
	))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing student_audio status = %d", rec.Code)
	}
}

func TestAttempts(t *testing.T) {
	store := &listAttempts{}
	r := newRouter(t, stubExtractor{features: voicedFeatures}, 0, service.WithAttempts(store))

	req := multipartRequest(t, "/api/v1/prosody/analyze", part{"audio_file", "audio/wav", []byte("RIFF")})
	req.Header.Set("X-Test-User", "user-1")
	var analyzed struct {
		Data service.AnalysisResult `json:"data"`
	}
	json.Unmarshal(serve(r, req).Body.Bytes(), &analyzed)
	if analyzed.Data.AttemptID == "" {
		t.Fatal("attempt id missing from authenticated analysis")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/prosody/attempts?limit=5", nil)
	req.Header.Set("X-Test-User", "user-1")
	rec := serve(r, req)
	var listed struct {
		Data []repository.Attempt `json:"data"`
		Meta response.Meta        `json:"meta"`
	}
	json.Unmarshal(rec.Body.Bytes(), &listed)
	if rec.Code != http.StatusOK || len(listed.Data) != 1 || listed.Meta.Limit != 5 || listed.Meta.Total != 1 {
		t.Fatalf("list = %d %+v", rec.Code, listed)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/prosody/attempts/"+analyzed.Data.AttemptID, nil)
	req.Header.Set("X-Test-User", "user-1")
	if rec := serve(r, req); rec.Code != http.StatusOK {
		t.Errorf("get status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/prosody/attempts/"+uuid.NewString(), nil)
	req.Header.Set("X-Test-User", "user-1")
	if rec := serve(r, req); rec.Code != http.StatusNotFound {
		t.Errorf("unknown attempt status = %d", rec.Code)
	}

	if rec := serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/prosody/attempts", nil)); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous list status = %d", rec.Code)
	}
}
