package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stranger/internal/config"
	"stranger/internal/core/domain"
)

// These tests need a disposable database; they are skipped without one.
func testDB(t *testing.T) *MatchRepo {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	cfg := config.Default().Postgres
	cfg.DSN = dsn
	ctx := context.Background()
	db, err := New(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(ctx, db))
	_, err = db.ExecContext(ctx, `TRUNCATE matches CASCADE`)
	require.NoError(t, err)
	return NewMatchRepo(db)
}

func TestMatchRepo_SaveAndRecent(t *testing.T) {
	repo := testDB(t)
	ctx := context.Background()

	older := domain.NewMatch("alice", "bob", "chess")
	older.CreatedAt = time.Now().Add(-time.Hour).UTC().Truncate(time.Microsecond)
	newer := domain.NewMatch("carol", "alice", "default")
	newer.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, repo.SaveMatch(ctx, older))
	require.NoError(t, repo.SaveMatch(ctx, newer))
	// Saving again is harmless.
	require.NoError(t, repo.SaveMatch(ctx, newer))

	got, err := repo.RecentMatches(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, newer.ID, got[0].ID)
	assert.Equal(t, older.ID, got[1].ID)

	got, err = repo.RecentMatches(ctx, "bob", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "chess", got[0].GameType)

	got, err = repo.RecentMatches(ctx, "alice", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
