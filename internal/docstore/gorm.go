package docstore

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/solarops/activity/pkg/logger"
)

// DefaultPollInterval is how often the SQL backend re-runs open queries.
const DefaultPollInterval = 2 * time.Second

// GormStore serves live queries from SQL tables by polling and emitting when the result
// changes.
type GormStore struct {
	db       *gorm.DB
	interval time.Duration
	log      *zap.Logger
}

// NewGormStore constructs a polling backend over db.
func NewGormStore(db *gorm.DB, interval time.Duration) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("docstore: database is required")
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &GormStore{db: db, interval: interval, log: logger.WithModule("docstore.gorm")}, nil
}

// Listen implements LiveQuerier.
func (g *GormStore) Listen(ctx context.Context, q Query, sink Sink) (Listener, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	return startListener(ctx, sink, func(ctx context.Context, emit Sink) {
		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()

		var last string
		first := true
		failing := false
		for {
			docs, err := g.Fetch(ctx, q)
			switch {
			case err != nil && ctx.Err() != nil:
				return
			case err != nil:
				if !failing {
					g.log.Debug("poll failed", zap.String("collection", q.Collection), zap.Error(err))
					emit(Snapshot{Err: err})
				}
				failing = true
			default:
				sig := signature(docs, q.TimestampField)
				if first || failing || sig != last {
					emit(Snapshot{Documents: docs})
				}
				first, failing, last = false, false, sig
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}), nil
}

// Fetch runs q once.
func (g *GormStore) Fetch(ctx context.Context, q Query) ([]Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	tx := g.db.WithContext(ctx).
		Table(q.Collection).
		Where(clause.Eq{Column: clause.Column{Name: q.TenantField}, Value: q.TenantID}).
		Where(clause.Gte{Column: clause.Column{Name: q.TimestampField}, Value: q.Since.UTC()}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: q.TimestampField}, Desc: true}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}})
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var rows []map[string]any
	if err := tx.Find(&rows).Error; err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, Document{ID: AsString(row["id"]), Fields: row})
	}
	return docs, nil
}

// Close implements Backend. The database handle is owned by the caller.
func (g *GormStore) Close() error { return nil }

// Ping checks the database connection.
func (g *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func signature(docs []Document, timestampField string) string {
	var b strings.Builder
	for _, doc := range docs {
		b.WriteString(doc.ID)
		b.WriteByte('@')
		if at, ok := doc.Timestamp(timestampField); ok {
			b.WriteString(strconv.FormatInt(at.UnixNano(), 10))
		}
		if updated, ok := doc.Timestamp("updated_at"); ok {
			b.WriteByte('/')
			b.WriteString(strconv.FormatInt(updated.UnixNano(), 10))
		}
		b.WriteByte(';')
	}
	return b.String()
}
