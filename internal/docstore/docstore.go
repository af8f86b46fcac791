// Package docstore abstracts the document store the activity feed listens to.
//
// Every backend answers the same question: "documents of one tenant in one collection whose
// timestamp field is at or after a bound, newest first", and keeps answering it as the
// collection changes.
package docstore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// Query is a tenant-scoped, time-bounded live query.
type Query struct {
	Collection     string
	TenantField    string
	TenantID       string
	TimestampField string
	Since          time.Time
	Limit          int
}

// Validate checks the query can be executed.
func (q Query) Validate() error {
	switch {
	case strings.TrimSpace(q.Collection) == "":
		return errors.New("docstore: collection is required")
	case strings.TrimSpace(q.TenantField) == "":
		return errors.New("docstore: tenant field is required")
	case strings.TrimSpace(q.TenantID) == "":
		return errors.New("docstore: tenant id is required")
	case strings.TrimSpace(q.TimestampField) == "":
		return errors.New("docstore: timestamp field is required")
	case q.Limit < 0:
		return errors.New("docstore: limit must not be negative")
	}
	return nil
}

// Document is a raw source document.
type Document struct {
	ID     string
	Fields map[string]any
}

// Timestamp reads the named field as an instant.
func (d Document) Timestamp(field string) (time.Time, bool) {
	return AsTime(d.Fields[field])
}

// Snapshot is one emission of a live query: the complete current result set or an error.
type Snapshot struct {
	Documents []Document
	Err       error
}

// Sink receives snapshots. It is called from a single goroutine per listener.
type Sink func(Snapshot)

// Listener is an open live query.
type Listener interface {
	// Stop cancels the query and blocks until the sink will not be called again.
	Stop()
}

// LiveQuerier opens live queries.
type LiveQuerier interface {
	Listen(ctx context.Context, q Query, sink Sink) (Listener, error)
}

// Backend is a LiveQuerier that owns external resources.
type Backend interface {
	LiveQuerier
	Close() error
}

type listener struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// startListener runs loop on its own goroutine. emit drops snapshots once the listener is
// cancelled, and Stop waits for loop to return.
func startListener(parent context.Context, sink Sink, loop func(ctx context.Context, emit Sink)) *listener {
	ctx, cancel := context.WithCancel(parent)
	l := &listener{cancel: cancel, done: make(chan struct{})}

	emit := func(snap Snapshot) {
		if ctx.Err() != nil {
			return
		}
		sink(snap)
	}

	go func() {
		defer close(l.done)
		loop(ctx, emit)
	}()
	return l
}

func (l *listener) Stop() {
	l.once.Do(l.cancel)
	<-l.done
}

// backoff returns the wait before retry attempt n (0-based), capped at max.
func backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	wait := base
	for i := 0; i < attempt && wait < max; i++ {
		wait *= 2
	}
	if wait > max {
		wait = max
	}
	return wait
}

// sleep waits for d or until ctx is done, reporting whether the wait completed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
