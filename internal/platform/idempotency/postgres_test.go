package idempotency

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"

	"github.com/homebitez/api/internal/platform/config"
	"github.com/homebitez/api/internal/platform/postgres"
	pgrepo "github.com/homebitez/api/internal/repositories/postgres"
)

func TestPostgresStore_Lifecycle(t *testing.T) {
	dsn := os.Getenv("API_POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("API_POSTGRES_TEST_DSN not set")
	}
	ctx := context.Background()
	db, err := postgres.Open(ctx, config.PostgresConfig{DSN: dsn, MaxConns: 2, ConnectTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(db.Close)
	_, err = postgres.Migrate(ctx, db, pgrepo.Migrations(), nil)
	require.NoError(t, err)

	store, err := NewPostgresStore(db)
	require.NoError(t, err)

	key := "key-" + ulid.Make().String()
	now := time.Now().UTC()

	res, err := store.Reserve(ctx, key, "fp-1", now, time.Hour)
	require.NoError(t, err)
	require.Equal(t, ReservationStateNew, res.State)

	res, err = store.Reserve(ctx, key, "fp-1", now, time.Hour)
	require.NoError(t, err)
	require.Equal(t, ReservationStatePending, res.State)

	_, err = store.Reserve(ctx, key, "fp-2", now, time.Hour)
	require.ErrorIs(t, err, ErrFingerprintMismatch)

	headers := http.Header{"Content-Type": {"application/json"}, "Content-Length": {"9"}}
	require.NoError(t, store.SaveResponse(ctx, key, "fp-1", Response{Status: 201, Headers: headers, Body: []byte(`{"ok":1}`)}, now, time.Hour))
	require.ErrorIs(t, store.SaveResponse(ctx, key, "fp-2", Response{Status: 200}, now, time.Hour), ErrFingerprintMismatch)

	res, err = store.Reserve(ctx, key, "fp-1", now, time.Hour)
	require.NoError(t, err)
	require.Equal(t, ReservationStateCompleted, res.State)
	require.Equal(t, 201, res.Record.ResponseStatus)
	require.Equal(t, []byte(`{"ok":1}`), res.Record.ResponseBody)
	require.Equal(t, []string{"application/json"}, res.Record.ResponseHeaders["Content-Type"])
	require.NotContains(t, res.Record.ResponseHeaders, "Content-Length")

	res, err = store.Reserve(ctx, key, "fp-2", now.Add(2*time.Hour), time.Hour)
	require.NoError(t, err)
	require.Equal(t, ReservationStateNew, res.State, "expired keys are recycled")

	require.NoError(t, store.Release(ctx, key, "fp-2"))
	removed, err := store.CleanupExpired(ctx, now.Add(48*time.Hour), 100)
	require.NoError(t, err)
	require.GreaterOrEqual(t, removed, 0)
}
