package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/windfall/prosody_service/internal/acoustic"
	"github.com/windfall/prosody_service/internal/audio"
	"github.com/windfall/prosody_service/internal/errors"
	"github.com/windfall/prosody_service/internal/metrics"
	"github.com/windfall/prosody_service/internal/prosody"
	"github.com/windfall/prosody_service/internal/repository"
)

const (
	// Redis key prefix for cached analyses
	analysisCacheKeyPrefix = "prosody:analysis:"
	// Upper bound for publishing one event
	publishTimeout = 3 * time.Second

	defaultAttemptLimit = 20
	maxAttemptLimit     = 100

	// ServiceName is reported by the liveness endpoints.
	ServiceName = "CELPIP Prosody Analysis Service"
)

// Operation names used in logs and metrics.
const (
	OpAnalyze = "analyze"
	OpCompare = "compare"
)

// invalidMediaTypeMessage is returned for uploads not declared as audio/*.
const invalidMediaTypeMessage = "File must be an audio file"

// AnalysisCache stores analyses keyed by recording content.
type AnalysisCache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Archiver keeps a copy of uploaded recordings.
type Archiver interface {
	UploadObject(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// EventPublisher announces finished analyses.
type EventPublisher interface {
	PublishWithAttributes(ctx context.Context, data any, attrs map[string]string) error
}

// Coach writes advice for analyses and comparisons.
type Coach interface {
	CoachAnalysis(ctx context.Context, a *prosody.Analysis) (*Coaching, error)
	CoachComparison(ctx context.Context, c *prosody.Comparison) (*Coaching, error)
}

// Recording is one uploaded audio payload with its declared media type.
type Recording struct {
	Data      []byte
	MediaType string
}

// RequestOptions carries per-request settings.
type RequestOptions struct {
	UserID string
	Coach  bool
}

// AnalysisResult is an analysis plus the optional extras.
type AnalysisResult struct {
	*prosody.Analysis
	AttemptID string    `json:"attempt_id,omitempty"`
	AudioURL  string    `json:"audio_url,omitempty"`
	Coaching  *Coaching `json:"coaching,omitempty"`
}

// ComparisonResult is a comparison plus the optional extras.
type ComparisonResult struct {
	*prosody.Comparison
	AttemptID string    `json:"attempt_id,omitempty"`
	AudioURL  string    `json:"audio_url,omitempty"`
	Coaching  *Coaching `json:"coaching,omitempty"`
}

// AnalysisEvent is published after every successful request.
type AnalysisEvent struct {
	Kind            string    `json:"kind"`
	UserID          string    `json:"user_id,omitempty"`
	AttemptID       string    `json:"attempt_id,omitempty"`
	Duration        float64   `json:"duration"`
	ProsodyScore    float64   `json:"prosody_score"`
	BandEstimate    int       `json:"band_estimate"`
	SimilarityScore *float64  `json:"similarity_score,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// ServiceStatus is the liveness payload.
type ServiceStatus struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

// ProsodyConfig holds the service settings.
type ProsodyConfig struct {
	Calibration prosody.Calibration
	TempDir     string
	CacheTTL    time.Duration
}

// ProsodyOption attaches an optional collaborator.
type ProsodyOption func(*ProsodyService)

// WithCache enables the analysis cache.
func WithCache(c AnalysisCache) ProsodyOption {
	return func(s *ProsodyService) { s.cache = c }
}

// WithArchiver enables upload archival.
func WithArchiver(a Archiver) ProsodyOption {
	return func(s *ProsodyService) { s.archiver = a }
}

// WithAttempts enables attempt history.
func WithAttempts(r repository.AttemptRepository) ProsodyOption {
	return func(s *ProsodyService) { s.attempts = r }
}

// WithEvents enables event publishing.
func WithEvents(p EventPublisher) ProsodyOption {
	return func(s *ProsodyService) { s.events = p }
}

// WithCoach enables coaching on request.
func WithCoach(c Coach) ProsodyOption {
	return func(s *ProsodyService) { s.coach = c }
}

// WithMetrics records Prometheus metrics.
func WithMetrics(m *metrics.Metrics) ProsodyOption {
	return func(s *ProsodyService) { s.metrics = m }
}

// ProsodyService runs the ingestion, extraction, scoring and comparison
// pipeline.
type ProsodyService struct {
	extractor   acoustic.Extractor
	calibration prosody.Calibration
	tempDir     string
	cacheTTL    time.Duration
	fingerprint string

	cache    AnalysisCache
	archiver Archiver
	attempts repository.AttemptRepository
	events   EventPublisher
	coach    Coach
	metrics  *metrics.Metrics

	log zerolog.Logger
}

// NewProsodyService creates a new ProsodyService.
func NewProsodyService(
	extractor acoustic.Extractor,
	cfg ProsodyConfig,
	log zerolog.Logger,
	opts ...ProsodyOption,
) (*ProsodyService, error) {
	if err := cfg.Calibration.Validate(); err != nil {
		return nil, err
	}
	s := &ProsodyService{
		extractor:   extractor,
		calibration: cfg.Calibration,
		tempDir:     cfg.TempDir,
		cacheTTL:    cfg.CacheTTL,
		log:         log,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Cached results are only valid for the same extractor settings and
	// calibration.
	sum := sha256.Sum256([]byte(fmt.Sprintf("%+v|%+v", cfg.Calibration, extractor)))
	s.fingerprint = hex.EncodeToString(sum[:6])

	return s, nil
}

// Status reports liveness.
func (s *ProsodyService) Status() ServiceStatus {
	return ServiceStatus{Message: ServiceName, Status: "active"}
}

// Calibration returns the active scoring constants.
func (s *ProsodyService) Calibration() prosody.Calibration {
	return s.calibration
}

// Analyze scores one recording.
func (s *ProsodyService) Analyze(ctx context.Context, rec Recording, opts RequestOptions) (*AnalysisResult, error) {
	mediaType, err := audio.ValidateMediaType(rec.MediaType)
	if err != nil {
		return nil, s.fail(OpAnalyze, errors.Validation(invalidMediaTypeMessage).
			WithDetails(map[string]any{"content_type": rec.MediaType}))
	}

	analysis, err := s.analyzeRecording(ctx, rec.Data, mediaType)
	if err != nil {
		return nil, s.fail(OpAnalyze, err)
	}
	s.metrics.ObserveAnalysis(analysis.Duration, strconv.Itoa(analysis.BandEstimate))

	result := &AnalysisResult{Analysis: analysis}
	if opts.Coach {
		result.Coaching = s.coachAnalysis(ctx, analysis)
	}
	result.AudioURL = s.archive(ctx, OpAnalyze, rec.Data, mediaType)

	score, band := analysis.ProsodyScore, analysis.BandEstimate
	result.AttemptID = s.saveAttempt(ctx, opts.UserID, &repository.Attempt{
		Kind:         repository.KindAnalysis,
		ProsodyScore: &score,
		BandEstimate: &band,
		AudioURL:     result.AudioURL,
	}, analysis)

	s.publish(ctx, AnalysisEvent{
		Kind:         repository.KindAnalysis,
		UserID:       opts.UserID,
		AttemptID:    result.AttemptID,
		Duration:     analysis.Duration,
		ProsodyScore: analysis.ProsodyScore,
		BandEstimate: analysis.BandEstimate,
		OccurredAt:   time.Now().UTC(),
	})

	s.metrics.ObserveRequest(OpAnalyze, "ok")
	return result, nil
}

// Compare analyses a reference and a student recording concurrently and
// diffs them.
func (s *ProsodyService) Compare(ctx context.Context, reference, student Recording, opts RequestOptions) (*ComparisonResult, error) {
	refType, err := audio.ValidateMediaType(reference.MediaType)
	if err != nil {
		return nil, s.fail(OpCompare, errors.Validation(invalidMediaTypeMessage).
			WithDetails(map[string]any{"field": "reference_audio", "content_type": reference.MediaType}))
	}
	studentType, err := audio.ValidateMediaType(student.MediaType)
	if err != nil {
		return nil, s.fail(OpCompare, errors.Validation(invalidMediaTypeMessage).
			WithDetails(map[string]any{"field": "student_audio", "content_type": student.MediaType}))
	}

	var refAnalysis, studentAnalysis *prosody.Analysis
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		refAnalysis, err = s.analyzeRecording(gctx, reference.Data, refType)
		return err
	})
	g.Go(func() error {
		var err error
		studentAnalysis, err = s.analyzeRecording(gctx, student.Data, studentType)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, s.fail(OpCompare, err)
	}

	comparison := s.calibration.Compare(refAnalysis, studentAnalysis)
	result := &ComparisonResult{Comparison: comparison}
	if opts.Coach {
		result.Coaching = s.coachComparison(ctx, comparison)
	}
	result.AudioURL = s.archive(ctx, OpCompare, student.Data, studentType)

	similarity := comparison.SimilarityScore
	score, band := studentAnalysis.ProsodyScore, studentAnalysis.BandEstimate
	result.AttemptID = s.saveAttempt(ctx, opts.UserID, &repository.Attempt{
		Kind:            repository.KindComparison,
		ProsodyScore:    &score,
		BandEstimate:    &band,
		SimilarityScore: &similarity,
		AudioURL:        result.AudioURL,
	}, comparison)

	s.publish(ctx, AnalysisEvent{
		Kind:            repository.KindComparison,
		UserID:          opts.UserID,
		AttemptID:       result.AttemptID,
		Duration:        studentAnalysis.Duration,
		ProsodyScore:    studentAnalysis.ProsodyScore,
		BandEstimate:    studentAnalysis.BandEstimate,
		SimilarityScore: &similarity,
		OccurredAt:      time.Now().UTC(),
	})

	s.metrics.ObserveRequest(OpCompare, "ok")
	return result, nil
}

// ListAttempts returns the caller's recent attempts.
func (s *ProsodyService) ListAttempts(ctx context.Context, userID string, limit int) ([]repository.Attempt, int, error) {
	if s.attempts == nil {
		return nil, 0, errors.New(errors.ErrNotFound, "attempt history is not enabled")
	}
	if userID == "" {
		return nil, 0, errors.Unauthorized("authentication required")
	}
	if limit <= 0 {
		limit = defaultAttemptLimit
	}
	if limit > maxAttemptLimit {
		limit = maxAttemptLimit
	}

	attempts, err := s.attempts.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, 0, errors.Wrap(errors.ErrDatabaseService, "failed to list attempts", err)
	}
	return attempts, limit, nil
}

// GetAttempt returns one of the caller's attempts.
func (s *ProsodyService) GetAttempt(ctx context.Context, userID string, id string) (*repository.Attempt, error) {
	if s.attempts == nil {
		return nil, errors.New(errors.ErrNotFound, "attempt history is not enabled")
	}
	if userID == "" {
		return nil, errors.Unauthorized("authentication required")
	}
	attemptID, err := uuid.Parse(id)
	if err != nil {
		return nil, errors.Validation("invalid attempt id")
	}

	attempt, err := s.attempts.GetByID(ctx, userID, attemptID)
	if stderrors.Is(err, repository.ErrNotFound) {
		return nil, errors.NotFound("attempt")
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabaseService, "failed to get attempt", err)
	}
	return attempt, nil
}

// analyzeRecording runs ingestion, extraction and scoring for one payload
// whose media type has already been validated.
func (s *ProsodyService) analyzeRecording(ctx context.Context, data []byte, mediaType string) (*prosody.Analysis, error) {
	key := s.cacheKey(data)
	if s.cache != nil {
		var cached prosody.Analysis
		found, err := s.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("Analysis cache lookup failed")
		} else {
			s.metrics.ObserveCache(found)
			if found {
				return &cached, nil
			}
		}
	}

	upload, err := audio.Materialize(data, mediaType, s.tempDir)
	if stderrors.Is(err, audio.ErrEmptyUpload) {
		return nil, errors.Extraction(err)
	}
	if err != nil {
		return nil, errors.InternalWrap("failed to store upload", err)
	}
	defer func() {
		if err := upload.Cleanup(); err != nil {
			s.log.Error().Err(err).Str("path", upload.Path).Msg("Failed to remove temp audio file")
		}
	}()

	timer := s.metrics.ExtractionTimer(mediaType)
	features, err := s.extractor.Extract(ctx, upload.Path)
	timer.ObserveDuration()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Wrap(errors.ErrTimeout, "analysis did not finish in time", ctxErr)
		}
		return nil, errors.Extraction(err)
	}

	analysis, err := s.calibration.Analyze(*features)
	if err != nil {
		if stderrors.Is(err, prosody.ErrDegenerateMetrics) {
			return nil, errors.Degenerate(err)
		}
		return nil, errors.InternalWrap("failed to compute prosody metrics", err)
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, key, analysis, s.cacheTTL); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("Failed to cache analysis")
		}
	}

	s.log.Debug().
		Str("media_type", mediaType).
		Int("bytes", len(data)).
		Float64("duration", analysis.Duration).
		Float64("prosody_score", analysis.ProsodyScore).
		Int("band_estimate", analysis.BandEstimate).
		Msg("Recording analysed")

	return analysis, nil
}

func (s *ProsodyService) cacheKey(data []byte) string {
	sum := sha256.Sum256(data)
	return analysisCacheKeyPrefix + s.fingerprint + ":" + hex.EncodeToString(sum[:])
}

func (s *ProsodyService) coachAnalysis(ctx context.Context, a *prosody.Analysis) *Coaching {
	if s.coach == nil {
		return nil
	}
	coaching, err := s.coach.CoachAnalysis(ctx, a)
	if err != nil {
		s.log.Warn().Err(err).Msg("Coaching unavailable")
		return nil
	}
	return coaching
}

func (s *ProsodyService) coachComparison(ctx context.Context, c *prosody.Comparison) *Coaching {
	if s.coach == nil {
		return nil
	}
	coaching, err := s.coach.CoachComparison(ctx, c)
	if err != nil {
		s.log.Warn().Err(err).Msg("Coaching unavailable")
		return nil
	}
	return coaching
}

// archive uploads the recording and returns its URL, or "" when archival is
// disabled or fails.
func (s *ProsodyService) archive(ctx context.Context, op string, data []byte, mediaType string) string {
	if s.archiver == nil {
		return ""
	}
	key := fmt.Sprintf("recordings/%s/%s/%s%s",
		op, time.Now().UTC().Format("2006/01/02"), uuid.NewString(), audio.Extension(mediaType))
	url, err := s.archiver.UploadObject(ctx, key, data, mediaType)
	if err != nil {
		appErr := errors.Wrap(errors.ErrStorageService, "archive upload failed", err)
		s.log.Error().Err(appErr).Str("code", string(appErr.Code)).Str("key", key).Msg("Failed to archive recording")
		return ""
	}
	return url
}

// saveAttempt stores the attempt for authenticated callers and returns its id.
func (s *ProsodyService) saveAttempt(ctx context.Context, userID string, attempt *repository.Attempt, result any) string {
	if s.attempts == nil || userID == "" {
		return ""
	}
	payload, err := json.Marshal(result)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to marshal attempt result")
		return ""
	}
	attempt.UserID = userID
	attempt.Result = payload
	if err := s.attempts.Save(ctx, attempt); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("Failed to save attempt")
		return ""
	}
	return attempt.ID.String()
}

func (s *ProsodyService) publish(ctx context.Context, event AnalysisEvent) {
	if s.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.events.PublishWithAttributes(ctx, event, map[string]string{"kind": event.Kind}); err != nil {
		appErr := errors.Wrap(errors.ErrPubSubService, "event publish failed", err)
		s.log.Error().Err(appErr).Str("code", string(appErr.Code)).Str("kind", event.Kind).Msg("Failed to publish analysis event")
	}
}

// fail records the failure outcome and passes err through.
func (s *ProsodyService) fail(op string, err error) error {
	outcome := string(errors.ErrInternal)
	if appErr, ok := errors.As(err); ok {
		outcome = string(appErr.Code)
	}
	s.metrics.ObserveRequest(op, outcome)
	s.log.Warn().Err(err).Str("operation", op).Msg("Prosody request failed")
	return err
}
