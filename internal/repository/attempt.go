package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/windfall/prosody_service/internal/client"
)

// PostgresAttemptRepository implements AttemptRepository on prosody_attempts.
type PostgresAttemptRepository struct {
	db *client.PostgresClient
}

// NewPostgresAttemptRepository creates a new PostgresAttemptRepository.
func NewPostgresAttemptRepository(db *client.PostgresClient) *PostgresAttemptRepository {
	return &PostgresAttemptRepository{db: db}
}

// Save inserts the attempt, filling in ID and CreatedAt.
func (r *PostgresAttemptRepository) Save(ctx context.Context, a *Attempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	query := `
		INSERT INTO prosody_attempts (id, user_id, kind, prosody_score, band_estimate, similarity_score, audio_url, result)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)
		RETURNING created_at
	`
	err := r.db.Pool.QueryRow(ctx, query,
		a.ID, a.UserID, a.Kind, a.ProsodyScore, a.BandEstimate, a.SimilarityScore, a.AudioURL, a.Result,
	).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert prosody attempt: %w", err)
	}
	return nil
}

// ListByUser returns the user's most recent attempts, newest first.
func (r *PostgresAttemptRepository) ListByUser(ctx context.Context, userID string, limit int) ([]Attempt, error) {
	query := `
		SELECT id, user_id, kind, prosody_score, band_estimate, similarity_score, COALESCE(audio_url, ''), result, created_at
		FROM prosody_attempts
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query prosody attempts: %w", err)
	}
	defer rows.Close()

	attempts := []Attempt{}
	for rows.Next() {
		var a Attempt
		if err := scanAttempt(rows, &a); err != nil {
			return nil, fmt.Errorf("failed to scan prosody attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate prosody attempts: %w", err)
	}
	return attempts, nil
}

// GetByID loads one of the user's attempts.
func (r *PostgresAttemptRepository) GetByID(ctx context.Context, userID string, id uuid.UUID) (*Attempt, error) {
	query := `
		SELECT id, user_id, kind, prosody_score, band_estimate, similarity_score, COALESCE(audio_url, ''), result, created_at
		FROM prosody_attempts
		WHERE id = $1 AND user_id = $2
	`
	var a Attempt
	err := scanAttempt(r.db.Pool.QueryRow(ctx, query, id, userID), &a)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prosody attempt: %w", err)
	}
	return &a, nil
}

func scanAttempt(row pgx.Row, a *Attempt) error {
	return row.Scan(
		&a.ID, &a.UserID, &a.Kind, &a.ProsodyScore, &a.BandEstimate,
		&a.SimilarityScore, &a.AudioURL, &a.Result, &a.CreatedAt,
	)
}
