package downloads

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stardrive/stardrive/internal/retry"
)

// Runs against a live server when TEST_DATABASE_URL is set.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	rc := retry.DefaultConfig()
	rc.MaxAttempts = 3
	s, err := OpenPostgres(ctx, PostgresConfig{DSN: dsn, ConnectRetry: rc})
	require.NoError(t, err)
	defer s.Close()

	rec := testRecord("pg-"+time.Now().Format("150405.000000000"), time.Minute)
	require.NoError(t, s.Create(ctx, rec))
	t.Cleanup(func() { s.Delete(context.Background(), rec.ID) })

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Paths, got.Paths)
	assert.Equal(t, rec.Type, got.Type)
	assert.Equal(t, rec.Source, got.Source)

	n, err := s.PurgeExpired(ctx, rec.ExpiresAt.Add(time.Second))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	_, err = s.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}
