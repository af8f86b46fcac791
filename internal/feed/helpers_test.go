package feed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/solarops/activity/internal/cache"
	"github.com/solarops/activity/internal/database/testutil"
	"github.com/solarops/activity/internal/docstore"
	"github.com/solarops/activity/internal/hidden"
	"github.com/solarops/activity/internal/watermark"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var t0 = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// flakyKV fails writes while failWrites is set, or once writeBudget is exhausted after
// limitWrites is set.
type flakyKV struct {
	cache.Store
	failWrites  atomic.Bool
	limitWrites atomic.Bool
	writeBudget atomic.Int64
}

func (f *flakyKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if f.failWrites.Load() {
		return errors.New("kv write refused")
	}
	if f.limitWrites.Load() && f.writeBudget.Add(-1) < 0 {
		return errors.New("kv write refused")
	}
	return f.Store.Set(ctx, key, value, ttl)
}

type harness struct {
	t      *testing.T
	clock  *clock
	docs   *docstore.MemoryStore
	kv     *flakyKV
	wm     *watermark.Store
	hs     *hidden.Store
	reg    *Registry
	agg    *Aggregator
	ctl    *Controller
	userID string
}

var operator = Identity{UserID: "u1", Role: "operator", TenantID: "acme"}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithMigrations())
	clk := &clock{now: t0}
	kv := &flakyKV{Store: cache.NewDatabaseStore(db)}

	wm, err := watermark.NewStore(kv, watermark.WithClock(clk.Now))
	require.NoError(t, err)
	hs, err := hidden.NewStore(kv, 0)
	require.NoError(t, err)

	return &harness{
		t:      t,
		clock:  clk,
		docs:   docstore.NewMemoryStore(),
		kv:     kv,
		wm:     wm,
		hs:     hs,
		reg:    MustRegistry(),
		userID: operator.UserID,
	}
}

func (h *harness) start(identity Identity) {
	h.t.Helper()

	agg, err := NewAggregator(identity, Dependencies{
		Registry:   h.reg,
		Querier:    h.docs,
		Watermarks: h.wm,
		Hidden:     h.hs,
	})
	require.NoError(h.t, err)
	require.NoError(h.t, agg.Start(context.Background()))
	h.t.Cleanup(agg.Stop)

	h.agg = agg
	h.ctl = NewController(agg, WithControllerClock(h.clock.Now))
	require.NoError(h.t, agg.WaitReady(ctxWithTimeout(h.t)))
}

func ctxWithTimeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	t.Cleanup(cancel)
	return ctx
}

// put stores a document in the collection backing category.
func (h *harness) put(category Category, id, tenant string, at time.Time) {
	h.t.Helper()
	cfg, ok := h.reg.Config(category)
	require.True(h.t, ok)
	h.docs.Put(cfg.Collection, docstore.Document{ID: id, Fields: map[string]any{
		cfg.TenantField:    tenant,
		cfg.TimestampField: at,
		cfg.TitleField:     string(category) + " " + id,
	}})
}

func (h *harness) eventuallyCount(category Category, want int) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return h.agg.Counts()[category] == want
	}, waitFor, tick, "count of %s never reached %d", category, want)
}

func feedIDs(items []Item) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.ID)
	}
	return out
}

func sumCounts(counts map[Category]int) int {
	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}
