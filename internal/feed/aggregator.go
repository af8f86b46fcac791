package feed

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/solarops/activity/internal/docstore"
	"github.com/solarops/activity/internal/hidden"
	"github.com/solarops/activity/internal/watermark"
	"github.com/solarops/activity/pkg/logger"
	"github.com/solarops/activity/pkg/metrics"
)

// DefaultFeedLimit caps the merged feed.
const DefaultFeedLimit = 20

var (
	// ErrAlreadyStarted is returned by Start on an aggregator that was started before.
	ErrAlreadyStarted = errors.New("feed: aggregator already started")
	// ErrNotRunning is returned by mutations on an aggregator that is not running.
	ErrNotRunning = errors.New("feed: aggregator not running")
)

// Snapshot is the published state of an aggregator.
type Snapshot struct {
	Version uint64           `json:"version"`
	Counts  map[Category]int `json:"counts"`
	Total   int              `json:"total"`
	Feed    []Item           `json:"feed"`
	Ready   bool             `json:"ready"`
}

func (s Snapshot) clone() Snapshot {
	counts := make(map[Category]int, len(s.Counts))
	for k, v := range s.Counts {
		counts[k] = v
	}
	items := make([]Item, len(s.Feed))
	copy(items, s.Feed)
	s.Counts = counts
	s.Feed = items
	return s
}

// Dependencies are the collaborators an aggregator needs.
type Dependencies struct {
	Registry   *Registry
	Querier    docstore.LiveQuerier
	Watermarks *watermark.Store
	Hidden     *hidden.Store
	FeedLimit  int
}

func (d Dependencies) validate() error {
	switch {
	case d.Registry == nil:
		return errors.New("feed: registry is required")
	case d.Querier == nil:
		return errors.New("feed: live querier is required")
	case d.Watermarks == nil:
		return errors.New("feed: watermark store is required")
	case d.Hidden == nil:
		return errors.New("feed: hidden store is required")
	}
	return nil
}

type resubscribeCmd struct {
	category Category
	since    time.Time
	reply    chan error
}

type hideCmd struct {
	refs  []hidden.Ref
	reply chan struct{}
}

// Aggregator merges every category stream of one identity into counts and a capped feed.
// All state is owned by a single reducer goroutine; subscribers and callers talk to it through
// channels.
type Aggregator struct {
	identity Identity
	deps     Dependencies
	log      *zap.Logger

	inbox       chan emission
	resubscribe chan resubscribeCmd
	hide        chan hideCmd

	lifecycle sync.Mutex
	started   bool
	stopped   bool
	cancel    context.CancelFunc
	done      chan struct{}

	mu        sync.RWMutex
	snapshot  Snapshot
	observers []func(Snapshot)
	ready     chan struct{}
}

// NewAggregator constructs an aggregator for identity. It does nothing until Start.
func NewAggregator(identity Identity, deps Dependencies) (*Aggregator, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.FeedLimit <= 0 {
		deps.FeedLimit = DefaultFeedLimit
	}

	counts := make(map[Category]int)
	for _, category := range deps.Registry.Categories() {
		counts[category] = 0
	}

	return &Aggregator{
		identity:    identity,
		deps:        deps,
		log:         logger.WithModule("feed").With(zap.String("user_id", identity.UserID), zap.String("role", identity.Role), zap.String("tenant_id", identity.TenantID)),
		inbox:       make(chan emission),
		resubscribe: make(chan resubscribeCmd),
		hide:        make(chan hideCmd),
		done:        make(chan struct{}),
		snapshot:    Snapshot{Counts: counts, Feed: []Item{}},
		ready:       make(chan struct{}),
	}, nil
}

// Identity returns the identity the aggregator runs as.
func (a *Aggregator) Identity() Identity {
	return a.identity
}

// Registry returns the category registry in use.
func (a *Aggregator) Registry() *Registry {
	return a.deps.Registry
}

// OnChange registers fn to receive every published snapshot. fn runs on the reducer
// goroutine and must not call back into the aggregator's mutating methods.
func (a *Aggregator) OnChange(fn func(Snapshot)) {
	if fn == nil {
		return
	}
	a.mu.Lock()
	a.observers = append(a.observers, fn)
	a.mu.Unlock()
}

// Start reads the watermarks, loads the hidden set and opens one subscriber per category.
func (a *Aggregator) Start(ctx context.Context) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	if a.started {
		return ErrAlreadyStarted
	}
	a.started = true
	if ctx == nil {
		ctx = context.Background()
	}

	hiddenSet, err := a.deps.Hidden.Load(ctx, a.identity.UserID)
	if err != nil {
		a.log.Warn("hidden items unavailable; starting with an empty set", zap.Error(err))
		hiddenSet = hidden.Set{}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	state := &reducerState{
		hidden:      hiddenSet,
		slices:      make(map[Category][]Item),
		reported:    make(map[Category]bool),
		generations: make(map[Category]uint64),
		subscribers: make(map[Category]*Subscriber),
	}

	for _, category := range a.deps.Registry.Categories() {
		since := a.deps.Watermarks.Get(ctx, watermark.Key{
			UserID:   a.identity.UserID,
			Role:     a.identity.Role,
			Category: string(category),
		})
		state.generations[category] = 1
		a.open(runCtx, state, category, since)
	}

	metrics.ActiveAggregators.Inc()
	go a.run(runCtx, state)

	a.log.Debug("aggregator started")
	return nil
}

// open starts a subscriber for the category's current generation. An open failure is treated
// like a failed emission.
func (a *Aggregator) open(ctx context.Context, state *reducerState, category Category, since time.Time) {
	cfg, err := a.deps.Registry.compiled(category)
	if err == nil {
		var sub *Subscriber
		sub, err = subscribe(ctx, a.deps.Querier, cfg, a.identity.TenantID, since, state.generations[category], a.inbox)
		if err == nil {
			state.subscribers[category] = sub
			return
		}
	}

	metrics.StreamErrors.WithLabelValues(string(category)).Inc()
	a.log.Warn("category stream could not be opened", zap.String("category", string(category)), zap.Error(err))
	state.reported[category] = true
}

// Stop unsubscribes every category and waits for the reducer to exit. Calling Stop more than
// once, or before Start, is a no-op.
func (a *Aggregator) Stop() {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	if !a.started || a.stopped {
		a.log.Debug("stop ignored; aggregator not running")
		return
	}
	a.stopped = true
	a.cancel()
	<-a.done

	metrics.ActiveAggregators.Dec()
	a.log.Debug("aggregator stopped")
}

// Running reports whether the aggregator was started and not yet stopped.
func (a *Aggregator) Running() bool {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	return a.started && !a.stopped
}

// Snapshot returns a copy of the latest published state.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshot.clone()
}

// Counts returns the per-category counts.
func (a *Aggregator) Counts() map[Category]int {
	return a.Snapshot().Counts
}

// TotalCount is the sum of the per-category counts, independent of the feed cap.
func (a *Aggregator) TotalCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshot.Total
}

// Feed returns the merged, hidden-filtered, capped feed.
func (a *Aggregator) Feed() []Item {
	return a.Snapshot().Feed
}

// Ready reports whether every category has reported at least once.
func (a *Aggregator) Ready() bool {
	select {
	case <-a.ready:
		return true
	default:
		return false
	}
}

// WaitReady blocks until every category has reported or ctx is done.
func (a *Aggregator) WaitReady(ctx context.Context) error {
	select {
	case <-a.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return ErrNotRunning
	}
}

// Resubscribe replaces the category's subscriber with one bounded below by since and clears
// the category immediately. It returns once the reducer has applied the change.
func (a *Aggregator) Resubscribe(ctx context.Context, category Category, since time.Time) error {
	if _, ok := a.deps.Registry.Config(category); !ok {
		return errors.New("feed: unregistered category " + string(category))
	}
	if !a.Running() {
		return ErrNotRunning
	}

	cmd := resubscribeCmd{category: category, since: since, reply: make(chan error, 1)}
	select {
	case a.resubscribe <- cmd:
	case <-a.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-a.done:
		return ErrNotRunning
	}
}

// Hide removes refs from the feed. Counts are not affected.
func (a *Aggregator) Hide(ctx context.Context, refs ...hidden.Ref) error {
	if !a.Running() {
		return ErrNotRunning
	}

	cmd := hideCmd{refs: refs, reply: make(chan struct{}, 1)}
	select {
	case a.hide <- cmd:
	case <-a.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-cmd.reply:
		return nil
	case <-a.done:
		return ErrNotRunning
	}
}

type reducerState struct {
	hidden      hidden.Set
	slices      map[Category][]Item
	reported    map[Category]bool
	generations map[Category]uint64
	subscribers map[Category]*Subscriber
	version     uint64
}

func (a *Aggregator) run(ctx context.Context, state *reducerState) {
	defer close(a.done)
	defer func() {
		for category, sub := range state.subscribers {
			sub.Unsubscribe()
			delete(state.subscribers, category)
		}
	}()

	a.publish(state)
	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-a.inbox:
			if msg.generation != state.generations[msg.category] {
				continue
			}
			state.reported[msg.category] = true
			if msg.err == nil {
				state.slices[msg.category] = msg.items
			}
			a.publish(state)

		case cmd := <-a.resubscribe:
			if sub := state.subscribers[cmd.category]; sub != nil {
				sub.Unsubscribe()
				delete(state.subscribers, cmd.category)
			}
			state.generations[cmd.category]++
			state.slices[cmd.category] = nil
			a.open(ctx, state, cmd.category, cmd.since)
			a.publish(state)
			cmd.reply <- nil

		case cmd := <-a.hide:
			state.hidden.Add(cmd.refs...)
			a.publish(state)
			cmd.reply <- struct{}{}
		}
	}
}

// publish recomputes counts and the merged feed from the reducer state.
func (a *Aggregator) publish(state *reducerState) {
	categories := a.deps.Registry.Categories()

	counts := make(map[Category]int, len(categories))
	total := 0
	var merged []Item
	ready := true
	for _, category := range categories {
		items := state.slices[category]
		counts[category] = len(items)
		total += len(items)
		for _, item := range items {
			if state.hidden.Has(item.Ref()) {
				continue
			}
			merged = append(merged, item)
		}
		if !state.reported[category] {
			ready = false
		}
	}

	sort.SliceStable(merged, func(i, j int) bool { return newer(merged[i], merged[j]) })
	if len(merged) > a.deps.FeedLimit {
		merged = merged[:a.deps.FeedLimit]
	}
	if merged == nil {
		merged = []Item{}
	}

	state.version++
	snap := Snapshot{
		Version: state.version,
		Counts:  counts,
		Total:   total,
		Feed:    merged,
		Ready:   ready,
	}

	a.mu.Lock()
	a.snapshot = snap
	observers := make([]func(Snapshot), len(a.observers))
	copy(observers, a.observers)
	a.mu.Unlock()

	if ready {
		select {
		case <-a.ready:
		default:
			close(a.ready)
		}
	}

	for _, fn := range observers {
		fn(snap.clone())
	}
}
