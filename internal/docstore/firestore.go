package docstore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/solarops/activity/pkg/logger"
)

// FirestoreStore serves live queries with Firestore snapshot listeners.
type FirestoreStore struct {
	client *firestore.Client
	log    *zap.Logger
}

// NewFirestoreStore wraps an initialised Firestore client.
func NewFirestoreStore(client *firestore.Client) (*FirestoreStore, error) {
	if client == nil {
		return nil, errors.New("docstore: firestore client is required")
	}
	return &FirestoreStore{client: client, log: logger.WithModule("docstore.firestore")}, nil
}

func (f *FirestoreStore) query(q Query) firestore.Query {
	fq := f.client.Collection(q.Collection).
		Where(q.TenantField, "==", q.TenantID).
		Where(q.TimestampField, ">=", q.Since.UTC()).
		OrderBy(q.TimestampField, firestore.Desc)
	if q.Limit > 0 {
		fq = fq.Limit(q.Limit)
	}
	return fq
}

// Listen implements LiveQuerier. A broken listener is reopened with backoff.
func (f *FirestoreStore) Listen(ctx context.Context, q Query, sink Sink) (Listener, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	return startListener(ctx, sink, func(ctx context.Context, emit Sink) {
		attempt := 0
		for {
			err := f.listenOnce(ctx, q, emit, func() { attempt = 0 })
			if ctx.Err() != nil {
				return
			}
			emit(Snapshot{Err: err})

			wait := backoff(attempt, 500*time.Millisecond, 30*time.Second)
			f.log.Debug("snapshot listener broken; retrying",
				zap.String("collection", q.Collection),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
			if !sleep(ctx, wait) {
				return
			}
			attempt++
		}
	}), nil
}

func (f *FirestoreStore) listenOnce(ctx context.Context, q Query, emit Sink, healthy func()) error {
	it := f.query(q).Snapshots(ctx)
	defer it.Stop()

	for {
		snap, err := it.Next()
		if err != nil {
			if errors.Is(err, iterator.Done) {
				return errors.New("docstore: firestore listener closed")
			}
			return err
		}

		refs, err := snap.Documents.GetAll()
		if err != nil {
			return err
		}
		docs := make([]Document, 0, len(refs))
		for _, ref := range refs {
			docs = append(docs, Document{ID: ref.Ref.ID, Fields: ref.Data()})
		}
		healthy()
		emit(Snapshot{Documents: docs})
	}
}

// Close releases the Firestore client.
func (f *FirestoreStore) Close() error {
	return f.client.Close()
}
