package docstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process document store. Listeners re-evaluate on every mutation.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Document
	failures    map[string]error
	changed     chan struct{}
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]Document),
		failures:    make(map[string]error),
		changed:     make(chan struct{}),
	}
}

// Put inserts or replaces a document.
func (m *MemoryStore) Put(collection string, doc Document) {
	m.mu.Lock()
	docs, ok := m.collections[collection]
	if !ok {
		docs = make(map[string]Document)
		m.collections[collection] = docs
	}
	fields := make(map[string]any, len(doc.Fields))
	for k, v := range doc.Fields {
		fields[k] = v
	}
	docs[doc.ID] = Document{ID: doc.ID, Fields: fields}
	m.notifyLocked()
	m.mu.Unlock()
}

// Delete removes a document.
func (m *MemoryStore) Delete(collection, id string) {
	m.mu.Lock()
	delete(m.collections[collection], id)
	m.notifyLocked()
	m.mu.Unlock()
}

// Fail makes every listener on collection report err until Recover is called.
func (m *MemoryStore) Fail(collection string, err error) {
	m.mu.Lock()
	m.failures[collection] = err
	m.notifyLocked()
	m.mu.Unlock()
}

// Recover clears a failure injected with Fail.
func (m *MemoryStore) Recover(collection string) {
	m.mu.Lock()
	delete(m.failures, collection)
	m.notifyLocked()
	m.mu.Unlock()
}

func (m *MemoryStore) notifyLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

// Listen implements LiveQuerier.
func (m *MemoryStore) Listen(ctx context.Context, q Query, sink Sink) (Listener, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	return startListener(ctx, sink, func(ctx context.Context, emit Sink) {
		for {
			snap, changed := m.evaluate(q)
			emit(snap)
			select {
			case <-ctx.Done():
				return
			case <-changed:
			}
		}
	}), nil
}

// Close implements Backend.
func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) evaluate(q Query) (Snapshot, <-chan struct{}) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failures[q.Collection]; err != nil {
		return Snapshot{Err: err}, m.changed
	}

	type hit struct {
		doc Document
		at  time.Time
	}
	var hits []hit
	for _, doc := range m.collections[q.Collection] {
		if AsString(doc.Fields[q.TenantField]) != q.TenantID {
			continue
		}
		at, ok := doc.Timestamp(q.TimestampField)
		if !ok || at.Before(q.Since) {
			continue
		}
		hits = append(hits, hit{doc: doc, at: at})
	}

	sort.Slice(hits, func(i, j int) bool {
		if !hits[i].at.Equal(hits[j].at) {
			return hits[i].at.After(hits[j].at)
		}
		return hits[i].doc.ID < hits[j].doc.ID
	})
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}

	docs := make([]Document, 0, len(hits))
	for _, h := range hits {
		docs = append(docs, h.doc)
	}
	return Snapshot{Documents: docs}, m.changed
}
