package grpc

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/windfall/prosody_service/internal/middleware"
	"github.com/windfall/prosody_service/internal/service"
)

// Handler implements the gRPC service.
type Handler struct {
	UnimplementedProsodyServiceServer
	log            zerolog.Logger
	prosodyService *service.ProsodyService
}

var _ ProsodyServiceServer = (*Handler)(nil)

// NewHandler creates a new gRPC handler.
func NewHandler(log zerolog.Logger, prosodyService *service.ProsodyService) *Handler {
	return &Handler{
		log:            log,
		prosodyService: prosodyService,
	}
}

// Analyze implements the Analyze RPC.
func (h *Handler) Analyze(ctx context.Context, req *AnalyzeRequest) (*service.AnalysisResult, error) {
	h.log.Debug().Str("media_type", req.Audio.MediaType).Int("bytes", len(req.Audio.Data)).Msg("Analyze called")

	return h.prosodyService.Analyze(ctx, recording(req.Audio), options(ctx, req.Coach))
}

// Compare implements the Compare RPC.
func (h *Handler) Compare(ctx context.Context, req *CompareRequest) (*service.ComparisonResult, error) {
	h.log.Debug().
		Str("reference_media_type", req.Reference.MediaType).
		Str("student_media_type", req.Student.MediaType).
		Msg("Compare called")

	return h.prosodyService.Compare(ctx, recording(req.Reference), recording(req.Student), options(ctx, req.Coach))
}

// Status implements the Status RPC.
func (h *Handler) Status(ctx context.Context, _ *StatusRequest) (*service.ServiceStatus, error) {
	status := h.prosodyService.Status()
	return &status, nil
}

func recording(a Audio) service.Recording {
	return service.Recording{Data: a.Data, MediaType: a.MediaType}
}

func options(ctx context.Context, coach bool) service.RequestOptions {
	return service.RequestOptions{
		UserID: middleware.GetUserID(ctx),
		Coach:  coach,
	}
}
