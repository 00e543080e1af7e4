package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pagepilot/pagepilot/api/schemas"
	"github.com/pagepilot/pagepilot/internal/config"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cfg := config.SessionConfig{TTL: time.Hour}
	return New(cfg, client, zap.NewNop()), mr
}

func TestPutGetRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	in := schemas.Session{
		ID:    "sess-1",
		Phase: schemas.PhaseScoring,
		Goal:  "find the checkout button",
	}
	require.NoError(t, store.Put(ctx, in))

	out, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Phase, out.Phase)
	assert.Equal(t, in.Goal, out.Goal)
	assert.False(t, out.CreatedAt.IsZero())
	assert.True(t, out.ExpiresAt.After(out.CreatedAt))
}

func TestGetUnknownSession(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionExpiresWithTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, schemas.Session{ID: "sess-1", Phase: schemas.PhaseIdle}))
	_, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Hour)
	_, err = store.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdatePhase(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, schemas.Session{ID: "sess-1", Phase: schemas.PhaseDeciding, Goal: "g"}))

	updated, err := store.UpdatePhase(ctx, "sess-1", schemas.PhaseAutoExecuting)
	require.NoError(t, err)
	assert.Equal(t, schemas.PhaseAutoExecuting, updated.Phase)
	assert.Equal(t, "g", updated.Goal)

	_, err = store.UpdatePhase(ctx, "missing", schemas.PhaseFailed)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, schemas.Session{ID: "sess-1"}))
	require.NoError(t, store.Delete(ctx, "sess-1"))
	require.NoError(t, store.Delete(ctx, "sess-1"))

	_, err := store.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListHonorsLimit(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, store.Put(ctx, schemas.Session{ID: id, Phase: schemas.PhaseIdle}))
	}

	all, err := store.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	capped, err := store.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, capped, 2)
}
