package watermark

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/solarops/activity/internal/cache"
	"github.com/solarops/activity/internal/database/testutil"
)

var fixedNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithMigrations())
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	store, err := NewStore(cache.NewDatabaseStore(db), opts...)
	require.NoError(t, err)
	return store
}

func TestGetDefaultsToLookback(t *testing.T) {
	store := newTestStore(t)

	got := store.Get(context.Background(), Key{UserID: "u1", Role: "operator", Category: "faults"})
	require.Equal(t, fixedNow.Add(-time.Hour), got)
}

func TestGetHonoursConfiguredLookback(t *testing.T) {
	store := newTestStore(t, WithLookback(24*time.Hour))

	got := store.Get(context.Background(), Key{UserID: "u1", Role: "operator", Category: "faults"})
	require.Equal(t, fixedNow.Add(-24*time.Hour), got)
}

func TestSetThenGetRoundTrips(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := Key{UserID: "u1", Role: "operator", Category: "faults"}
	at := time.Date(2025, 3, 14, 9, 15, 30, 123456789, time.UTC)

	require.NoError(t, store.Set(ctx, key, at))
	require.NoError(t, store.Set(ctx, key, at))

	got, ok, err := store.Lookup(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, at.Equal(got))
	require.True(t, at.Equal(store.Get(ctx, key)))
}

func TestRolesAreIsolated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	operator := Key{UserID: "u1", Role: "operator", Category: "faults"}
	manager := Key{UserID: "u1", Role: "manager", Category: "faults"}

	require.NoError(t, store.Set(ctx, operator, fixedNow))

	_, ok, err := store.Lookup(ctx, manager)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, fixedNow.Add(-time.Hour), store.Get(ctx, manager))

	require.NoError(t, store.Set(ctx, manager, fixedNow.Add(time.Minute)))
	require.True(t, fixedNow.Equal(store.Get(ctx, operator)))
}

func TestKeySegmentsCannotCollide(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.Set(ctx, Key{UserID: "alice", Role: "ops:manager", Category: "faults"}, fixedNow)
	require.Error(t, err)

	_, _, err = store.Lookup(ctx, Key{UserID: "alice:ops", Role: "manager", Category: "faults"})
	require.Error(t, err)

	_, err = store.Advance(ctx, Key{UserID: "alice", Role: "field manager", Category: "faults"}, fixedNow)
	require.Error(t, err)

	require.NoError(t, store.Set(ctx, Key{UserID: "alice", Role: "manager", Category: "faults"}, fixedNow))
	_, ok, err := store.Lookup(ctx, Key{UserID: "alice", Role: "manager", Category: "inverter_checks"})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIncompleteKeyIsRejected(t *testing.T) {
	store := newTestStore(t)

	err := store.Set(context.Background(), Key{UserID: "u1", Category: "faults"}, fixedNow)
	require.Error(t, err)
}

type failingKV struct{ cache.Store }

func (failingKV) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("kv offline")
}

func (failingKV) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("kv offline")
}

func TestReadFailureFallsBackAndWriteFailureSurfaces(t *testing.T) {
	store, err := NewStore(failingKV{}, WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	key := Key{UserID: "u1", Role: "operator", Category: "faults"}

	require.Equal(t, fixedNow.Add(-time.Hour), store.Get(context.Background(), key))
	require.Error(t, store.Set(context.Background(), key, fixedNow))
}

// unreadableKV fails reads and records writes.
type unreadableKV struct {
	cache.Store
	writes int
}

func (*unreadableKV) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("kv read timeout")
}

func (u *unreadableKV) Set(context.Context, string, []byte, time.Duration) error {
	u.writes++
	return nil
}

func TestAdvanceDoesNotWriteWhenReadFails(t *testing.T) {
	kv := &unreadableKV{}
	store, err := NewStore(kv, WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)

	_, err = store.Advance(context.Background(), Key{UserID: "u1", Role: "operator", Category: "faults"}, fixedNow)
	require.ErrorContains(t, err, "kv read timeout")
	require.Zero(t, kv.writes)
}

func TestNewStoreRequiresKV(t *testing.T) {
	_, err := NewStore(nil)
	require.Error(t, err)
}

func TestAdvanceNeverMovesBackwards(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := Key{UserID: "u1", Role: "operator", Category: "faults"}

	got, err := store.Advance(ctx, key, fixedNow)
	require.NoError(t, err)
	require.Equal(t, fixedNow, got)

	got, err = store.Advance(ctx, key, fixedNow.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, fixedNow, got)

	got, err = store.Advance(ctx, key, fixedNow.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, fixedNow.Add(time.Minute), got)
	require.Equal(t, fixedNow.Add(time.Minute), store.Get(ctx, key))
}
