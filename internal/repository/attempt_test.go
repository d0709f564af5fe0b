package repository_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/windfall/prosody_service/internal/client"
	"github.com/windfall/prosody_service/internal/repository"
	"github.com/windfall/prosody_service/migrations"
)

// newTestRepository needs a disposable database in TEST_DATABASE_URL.
func newTestRepository(t *testing.T) *repository.PostgresAttemptRepository {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		t.Fatalf("migration source: %v", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dbURL)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("migrate up: %v", err)
	}
	m.Close()

	ctx := context.Background()
	db, err := client.NewPostgresClient(ctx, dbURL)
	if err != nil {
		t.Fatalf("NewPostgresClient: %v", err)
	}
	t.Cleanup(db.Close)
	return repository.NewPostgresAttemptRepository(db)
}

func TestPostgresAttemptRepository_SaveListGet(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	user := "user-" + uuid.NewString()

	score, band := 72.5, 10
	first := &repository.Attempt{
		UserID:       user,
		Kind:         repository.KindAnalysis,
		ProsodyScore: &score,
		BandEstimate: &band,
		Result:       json.RawMessage(`{"prosody_score":72.5}`),
	}
	if err := repo.Save(ctx, first); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if first.ID == uuid.Nil || first.CreatedAt.IsZero() {
		t.Errorf("Save did not fill id/created_at: %+v", first)
	}

	similarity := 40.0
	second := &repository.Attempt{
		UserID:          user,
		Kind:            repository.KindComparison,
		SimilarityScore: &similarity,
		AudioURL:        "gs://bucket/x.wav",
		Result:          json.RawMessage(`{"similarity_score":40}`),
	}
	if err := repo.Save(ctx, second); err != nil {
		t.Fatalf("Save: %v", err)
	}

	list, err := repo.ListByUser(ctx, user, 10)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID {
		t.Fatalf("ListByUser = %+v", list)
	}
	if list[1].BandEstimate == nil || *list[1].BandEstimate != 10 {
		t.Errorf("band not round-tripped: %+v", list[1])
	}

	got, err := repo.GetByID(ctx, user, second.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.AudioURL != "gs://bucket/x.wav" || got.SimilarityScore == nil {
		t.Errorf("GetByID = %+v", got)
	}

	if _, err := repo.GetByID(ctx, "someone-else", second.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("GetByID other user: err = %v, want ErrNotFound", err)
	}
}
