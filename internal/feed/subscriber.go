package feed

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/solarops/activity/internal/docstore"
	"github.com/solarops/activity/pkg/logger"
	"github.com/solarops/activity/pkg/metrics"
)

// emission is one message from a subscriber to the reducer.
type emission struct {
	category   Category
	generation uint64
	items      []Item
	err        error
}

// Subscriber keeps one live query open for a single category.
type Subscriber struct {
	category   Category
	generation uint64
	cancel     context.CancelFunc
	listener   docstore.Listener
}

// subscribe opens the category's live query bounded below by since and forwards every
// result set to out, tagged with generation. Query errors are logged, counted and forwarded
// as error emissions.
func subscribe(
	ctx context.Context,
	querier docstore.LiveQuerier,
	cfg *compiledCategory,
	tenantID string,
	since time.Time,
	generation uint64,
	out chan<- emission,
) (*Subscriber, error) {
	if querier == nil {
		return nil, errors.New("feed: live querier is required")
	}

	subCtx, cancel := context.WithCancel(ctx)
	log := logger.WithModule("feed").With(
		zap.String("category", string(cfg.Category)),
		zap.String("tenant_id", tenantID),
	)

	deliver := func(msg emission) {
		select {
		case out <- msg:
		case <-subCtx.Done():
		}
	}

	sink := func(snap docstore.Snapshot) {
		if snap.Err != nil {
			metrics.StreamErrors.WithLabelValues(string(cfg.Category)).Inc()
			log.Warn("category stream failed", zap.Error(snap.Err))
			deliver(emission{category: cfg.Category, generation: generation, err: snap.Err})
			return
		}
		metrics.StreamEmissions.WithLabelValues(string(cfg.Category)).Inc()
		deliver(emission{
			category:   cfg.Category,
			generation: generation,
			items:      cfg.projectAll(snap.Documents),
		})
	}

	listener, err := querier.Listen(subCtx, docstore.Query{
		Collection:     cfg.Collection,
		TenantField:    cfg.TenantField,
		TenantID:       tenantID,
		TimestampField: cfg.TimestampField,
		Since:          since.UTC(),
	}, sink)
	if err != nil {
		cancel()
		return nil, err
	}

	return &Subscriber{
		category:   cfg.Category,
		generation: generation,
		cancel:     cancel,
		listener:   listener,
	}, nil
}

// Unsubscribe closes the live query. No emission is delivered after it returns.
func (s *Subscriber) Unsubscribe() {
	if s == nil {
		return
	}
	s.cancel()
	s.listener.Stop()
}
