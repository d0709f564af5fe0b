package http

import (
	stderrors "errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/windfall/prosody_service/internal/errors"
	"github.com/windfall/prosody_service/internal/middleware"
	"github.com/windfall/prosody_service/internal/service"
	"github.com/windfall/prosody_service/pkg/response"
)

// Multipart field names.
const (
	FieldAudio          = "audio_file"
	FieldReferenceAudio = "reference_audio"
	FieldStudentAudio   = "student_audio"
)

// In-memory part of a multipart form; larger parts spill to disk.
const multipartMemory = 8 << 20

// ProsodyHandler serves analysis, comparison and attempt history.
type ProsodyHandler struct {
	log            zerolog.Logger
	prosodyService *service.ProsodyService
	maxUploadBytes int64
}

// NewProsodyHandler creates a new Prosody handler.
func NewProsodyHandler(log zerolog.Logger, prosodyService *service.ProsodyService, maxUploadBytes int64) *ProsodyHandler {
	return &ProsodyHandler{
		log:            log,
		prosodyService: prosodyService,
		maxUploadBytes: maxUploadBytes,
	}
}

// Analyze handles POST /api/v1/prosody/analyze
//
// Request: multipart/form-data with "audio_file" field, optional ?coach=true
// Response: enveloped analysis
func (h *ProsodyHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	result, err := h.analyze(w, r)
	if err != nil {
		h.handleError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, result)
}

// LegacyAnalyze handles POST /prosody/analyze and answers with the bare
// analysis document.
func (h *ProsodyHandler) LegacyAnalyze(w http.ResponseWriter, r *http.Request) {
	result, err := h.analyze(w, r)
	if err != nil {
		h.handleLegacyError(w, err)
		return
	}
	response.Raw(w, http.StatusOK, result)
}

// Compare handles POST /api/v1/prosody/compare
//
// Request: multipart/form-data with "reference_audio" and "student_audio"
// Response: enveloped comparison
func (h *ProsodyHandler) Compare(w http.ResponseWriter, r *http.Request) {
	result, err := h.compare(w, r)
	if err != nil {
		h.handleError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, result)
}

// LegacyCompare handles POST /prosody/compare.
func (h *ProsodyHandler) LegacyCompare(w http.ResponseWriter, r *http.Request) {
	result, err := h.compare(w, r)
	if err != nil {
		h.handleLegacyError(w, err)
		return
	}
	response.Raw(w, http.StatusOK, result)
}

// Describe handles GET /api/v1/prosody/analyze
func (h *ProsodyHandler) Describe(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{
		"message":  "Prosody analysis endpoint",
		"method":   http.MethodPost,
		"required": "audio file (multipart/form-data)",
	})
}

// ListAttempts handles GET /api/v1/prosody/attempts?limit=N
func (h *ProsodyHandler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.handleError(w, errors.Validation("limit must be an integer"))
			return
		}
		limit = n
	}

	attempts, limit, err := h.prosodyService.ListAttempts(r.Context(), middleware.GetUserID(r.Context()), limit)
	if err != nil {
		h.handleError(w, err)
		return
	}

	response.JSONWithMeta(w, http.StatusOK, attempts, &response.Meta{
		Limit: limit,
		Total: len(attempts),
	})
}

// GetAttempt handles GET /api/v1/prosody/attempts/{id}
func (h *ProsodyHandler) GetAttempt(w http.ResponseWriter, r *http.Request) {
	attempt, err := h.prosodyService.GetAttempt(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, attempt)
}

func (h *ProsodyHandler) analyze(w http.ResponseWriter, r *http.Request) (*service.AnalysisResult, error) {
	if err := h.parseForm(w, r); err != nil {
		return nil, err
	}
	rec, err := readRecording(r, FieldAudio)
	if err != nil {
		return nil, err
	}
	return h.prosodyService.Analyze(r.Context(), rec, requestOptions(r))
}

func (h *ProsodyHandler) compare(w http.ResponseWriter, r *http.Request) (*service.ComparisonResult, error) {
	if err := h.parseForm(w, r); err != nil {
		return nil, err
	}
	reference, err := readRecording(r, FieldReferenceAudio)
	if err != nil {
		return nil, err
	}
	student, err := readRecording(r, FieldStudentAudio)
	if err != nil {
		return nil, err
	}
	return h.prosodyService.Compare(r.Context(), reference, student, requestOptions(r))
}

func (h *ProsodyHandler) parseForm(w http.ResponseWriter, r *http.Request) error {
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return errors.New(errors.ErrPayloadTooLarge, "upload exceeds the size limit").
				WithDetails(map[string]any{"max_bytes": tooLarge.Limit})
		}
		return errors.Validation("failed to parse multipart form")
	}
	return nil
}

func readRecording(r *http.Request, field string) (service.Recording, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return service.Recording{}, errors.Validation(field + " is required")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return service.Recording{}, errors.Validation("failed to read " + field)
	}
	return service.Recording{
		Data:      data,
		MediaType: header.Header.Get("Content-Type"),
	}, nil
}

func requestOptions(r *http.Request) service.RequestOptions {
	coach, _ := strconv.ParseBool(r.URL.Query().Get("coach"))
	return service.RequestOptions{
		UserID: middleware.GetUserID(r.Context()),
		Coach:  coach,
	}
}

func (h *ProsodyHandler) handleError(w http.ResponseWriter, err error) {
	appErr, ok := errors.As(err)
	if !ok {
		h.log.Error().Err(err).Msg("Unhandled error")
		appErr = errors.Internal("internal server error")
	}
	response.FromError(w, appErr)
}

// handleLegacyError writes {"detail": message} bodies.
func (h *ProsodyHandler) handleLegacyError(w http.ResponseWriter, err error) {
	if appErr, ok := errors.As(err); ok {
		response.Raw(w, appErr.HTTPStatus(), map[string]string{"detail": appErr.Message})
		return
	}
	h.log.Error().Err(err).Msg("Unhandled error")
	internal := errors.Internal("internal server error")
	response.Raw(w, internal.HTTPStatus(), map[string]string{"detail": internal.Message})
}
