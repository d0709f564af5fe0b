package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Attempt kinds.
const (
	KindAnalysis   = "analysis"
	KindComparison = "comparison"
)

// Attempt is one stored analysis or comparison.
type Attempt struct {
	ID              uuid.UUID       `json:"id"`
	UserID          string          `json:"user_id"`
	Kind            string          `json:"kind"`
	ProsodyScore    *float64        `json:"prosody_score,omitempty"`
	BandEstimate    *int            `json:"band_estimate,omitempty"`
	SimilarityScore *float64        `json:"similarity_score,omitempty"`
	AudioURL        string          `json:"audio_url,omitempty"`
	Result          json.RawMessage `json:"result"`
	CreatedAt       time.Time       `json:"created_at"`
}

// AttemptRepository persists attempts.
type AttemptRepository interface {
	Save(ctx context.Context, attempt *Attempt) error
	ListByUser(ctx context.Context, userID string, limit int) ([]Attempt, error)
	GetByID(ctx context.Context, userID string, id uuid.UUID) (*Attempt, error)
}

// Common repository errors
var (
	ErrNotFound = &RepositoryError{Code: "NOT_FOUND", Message: "entity not found"}
)

// RepositoryError represents a repository error.
type RepositoryError struct {
	Code    string
	Message string
}

func (e *RepositoryError) Error() string {
	return e.Code + ": " + e.Message
}
