package docstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/solarops/activity/internal/database/testutil"
	"github.com/solarops/activity/internal/models"
)

func seedFault(t *testing.T, db *gorm.DB, id, tenant string, at time.Time) {
	t.Helper()
	require.NoError(t, db.Create(&models.Fault{
		BaseModel: models.BaseModel{ID: id, CreatedAt: at, UpdatedAt: at},
		CompanyID: tenant,
		Title:     "fault " + id,
	}).Error)
}

func TestGormFetchAppliesTenantBoundAndOrder(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithMigrations())
	seedFault(t, db, "old", "acme", base.Add(-time.Hour))
	seedFault(t, db, "edge", "acme", base)
	seedFault(t, db, "newer", "acme", base.Add(2*time.Minute))
	seedFault(t, db, "new", "acme", base.Add(time.Minute))
	seedFault(t, db, "foreign", "globex", base.Add(time.Minute))

	store, err := NewGormStore(db, time.Second)
	require.NoError(t, err)

	docs, err := store.Fetch(context.Background(), faultQuery(base))
	require.NoError(t, err)
	require.Equal(t, []string{"newer", "new", "edge"}, ids(docs))
	require.Equal(t, "fault newer", AsString(docs[0].Fields["title"]))

	at, ok := docs[0].Timestamp("created_at")
	require.True(t, ok)
	require.True(t, base.Add(2*time.Minute).Equal(at))

	q := faultQuery(base)
	q.Limit = 1
	docs, err = store.Fetch(context.Background(), q)
	require.NoError(t, err)
	require.Equal(t, []string{"newer"}, ids(docs))
}

func TestGormListenerEmitsOnlyOnChange(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithMigrations())
	seedFault(t, db, "f1", "acme", base.Add(time.Minute))

	store, err := NewGormStore(db, 10*time.Millisecond)
	require.NoError(t, err)

	rec := &recorder{}
	l, err := store.Listen(context.Background(), faultQuery(base), rec.sink)
	require.NoError(t, err)
	defer l.Stop()

	require.Eventually(t, func() bool { _, n := rec.last(); return n == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	_, n := rec.last()
	require.Equal(t, 1, n)

	seedFault(t, db, "f2", "acme", base.Add(2*time.Minute))
	require.Eventually(t, func() bool {
		snap, _ := rec.last()
		return len(snap.Documents) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestGormListenerReportsQueryErrors(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	store, err := NewGormStore(db, 10*time.Millisecond)
	require.NoError(t, err)

	rec := &recorder{}
	l, err := store.Listen(context.Background(), faultQuery(base), rec.sink)
	require.NoError(t, err)
	defer l.Stop()

	require.Eventually(t, func() bool {
		snap, _ := rec.last()
		return snap.Err != nil
	}, time.Second, 5*time.Millisecond)
}

func TestNewGormStoreRequiresDB(t *testing.T) {
	_, err := NewGormStore(nil, 0)
	require.Error(t, err)
}
