package docstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) sink(s Snapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
}

func (r *recorder) last() (Snapshot, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return Snapshot{}, 0
	}
	return r.snaps[len(r.snaps)-1], len(r.snaps)
}

func ids(docs []Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID)
	}
	return out
}

var base = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func faultDoc(id, tenant string, at time.Time) Document {
	return Document{ID: id, Fields: map[string]any{"company_id": tenant, "created_at": at, "title": id}}
}

func faultQuery(since time.Time) Query {
	return Query{
		Collection:     "faults",
		TenantField:    "company_id",
		TenantID:       "acme",
		TimestampField: "created_at",
		Since:          since,
	}
}

func TestMemoryQuerySemantics(t *testing.T) {
	store := NewMemoryStore()
	store.Put("faults", faultDoc("old", "acme", base.Add(-time.Hour)))
	store.Put("faults", faultDoc("edge", "acme", base))
	store.Put("faults", faultDoc("new", "acme", base.Add(time.Minute)))
	store.Put("faults", faultDoc("other-tenant", "globex", base.Add(time.Minute)))
	store.Put("faults", Document{ID: "no-ts", Fields: map[string]any{"company_id": "acme"}})

	rec := &recorder{}
	l, err := store.Listen(context.Background(), faultQuery(base), rec.sink)
	require.NoError(t, err)
	defer l.Stop()

	require.Eventually(t, func() bool {
		_, n := rec.last()
		return n > 0
	}, time.Second, 5*time.Millisecond)

	snap, _ := rec.last()
	require.NoError(t, snap.Err)
	require.Equal(t, []string{"new", "edge"}, ids(snap.Documents))
}

func TestMemoryEmitsOnChangeAndStopsSynchronously(t *testing.T) {
	store := NewMemoryStore()
	rec := &recorder{}
	l, err := store.Listen(context.Background(), faultQuery(base), rec.sink)
	require.NoError(t, err)

	require.Eventually(t, func() bool { _, n := rec.last(); return n == 1 }, time.Second, 5*time.Millisecond)

	store.Put("faults", faultDoc("f1", "acme", base.Add(time.Second)))
	require.Eventually(t, func() bool {
		snap, _ := rec.last()
		return len(snap.Documents) == 1
	}, time.Second, 5*time.Millisecond)

	l.Stop()
	_, before := rec.last()
	store.Put("faults", faultDoc("f2", "acme", base.Add(2*time.Second)))
	time.Sleep(20 * time.Millisecond)
	_, after := rec.last()
	require.Equal(t, before, after)

	l.Stop()
}

func TestMemoryFailureInjection(t *testing.T) {
	store := NewMemoryStore()
	store.Put("faults", faultDoc("f1", "acme", base.Add(time.Second)))

	rec := &recorder{}
	l, err := store.Listen(context.Background(), faultQuery(base), rec.sink)
	require.NoError(t, err)
	defer l.Stop()

	boom := errors.New("permission denied")
	store.Fail("faults", boom)
	require.Eventually(t, func() bool {
		snap, _ := rec.last()
		return errors.Is(snap.Err, boom)
	}, time.Second, 5*time.Millisecond)

	store.Recover("faults")
	require.Eventually(t, func() bool {
		snap, _ := rec.last()
		return snap.Err == nil && len(snap.Documents) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryLimit(t *testing.T) {
	store := NewMemoryStore()
	for i := 0; i < 5; i++ {
		store.Put("faults", faultDoc(string(rune('a'+i)), "acme", base.Add(time.Duration(i)*time.Second)))
	}

	q := faultQuery(base)
	q.Limit = 2
	rec := &recorder{}
	l, err := store.Listen(context.Background(), q, rec.sink)
	require.NoError(t, err)
	defer l.Stop()

	require.Eventually(t, func() bool { _, n := rec.last(); return n > 0 }, time.Second, 5*time.Millisecond)
	snap, _ := rec.last()
	require.Equal(t, []string{"e", "d"}, ids(snap.Documents))
}

func TestQueryValidate(t *testing.T) {
	require.NoError(t, faultQuery(base).Validate())

	q := faultQuery(base)
	q.TenantID = ""
	require.Error(t, q.Validate())

	q = faultQuery(base)
	q.Limit = -1
	require.Error(t, q.Validate())
}

func TestAsTime(t *testing.T) {
	want := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	for _, value := range []any{
		want,
		&want,
		"2025-03-14T09:00:00Z",
		"2025-03-14 09:00:00+00:00",
		"2025-03-14 09:00:00",
		want.UnixMilli(),
		float64(want.UnixMilli()),
	} {
		got, ok := AsTime(value)
		require.True(t, ok, "%T", value)
		require.True(t, want.Equal(got), "%T", value)
	}

	_, ok := AsTime("not a time")
	require.False(t, ok)
	_, ok = AsTime(nil)
	require.False(t, ok)
	_, ok = AsTime(time.Time{})
	require.False(t, ok)
}

func TestBackoffCaps(t *testing.T) {
	require.Equal(t, 100*time.Millisecond, backoff(0, 100*time.Millisecond, time.Second))
	require.Equal(t, 400*time.Millisecond, backoff(2, 100*time.Millisecond, time.Second))
	require.Equal(t, time.Second, backoff(10, 100*time.Millisecond, time.Second))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "cassandra"}, nil)
	require.Error(t, err)

	backend, err := Open(context.Background(), Config{Driver: "memory"}, nil)
	require.NoError(t, err)
	require.NoError(t, backend.Close())

	backend, err = Open(context.Background(), Config{Driver: "gorm"}, nil)
	require.Error(t, err)
	require.Nil(t, backend)

	backend, err = Open(context.Background(), Config{Driver: "mongo"}, nil)
	require.Error(t, err)
	require.Nil(t, backend)
}
