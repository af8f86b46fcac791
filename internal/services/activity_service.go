package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/solarops/activity/internal/feed"
	"github.com/solarops/activity/internal/hidden"
	"github.com/solarops/activity/internal/watermark"
	apperrors "github.com/solarops/activity/pkg/errors"
	"github.com/solarops/activity/pkg/logger"
	"github.com/solarops/activity/pkg/validator"
)

// DefaultSnapshotTimeout bounds how long a one-shot snapshot waits for every category.
const DefaultSnapshotTimeout = 5 * time.Second

// CategoryDTO describes a registered category.
type CategoryDTO struct {
	Category       feed.Category `json:"category"`
	Label          string        `json:"label"`
	Collection     string        `json:"collection"`
	TimestampField string        `json:"timestamp_field"`
}

// WatermarkDTO is the effective watermark of one category.
type WatermarkDTO struct {
	Category  feed.Category `json:"category"`
	Watermark time.Time     `json:"watermark"`
	Explicit  bool          `json:"explicit"`
}

// SnapshotDTO is the REST rendition of an aggregator snapshot.
type SnapshotDTO struct {
	Counts map[feed.Category]int `json:"counts"`
	Total  int                   `json:"total"`
	Feed   []feed.Item           `json:"feed"`
	Ready  bool                  `json:"ready"`
}

// ActivityService serves the request/response side of the activity feed.
type ActivityService struct {
	deps    feed.Dependencies
	timeout time.Duration
	now     func() time.Time
	log     *zap.Logger
}

// NewActivityService constructs the service.
func NewActivityService(deps feed.Dependencies, snapshotTimeout time.Duration) (*ActivityService, error) {
	switch {
	case deps.Registry == nil:
		return nil, errors.New("activity service: registry is required")
	case deps.Watermarks == nil:
		return nil, errors.New("activity service: watermark store is required")
	case deps.Hidden == nil:
		return nil, errors.New("activity service: hidden store is required")
	case deps.Querier == nil:
		return nil, errors.New("activity service: live querier is required")
	}
	if snapshotTimeout <= 0 {
		snapshotTimeout = DefaultSnapshotTimeout
	}

	return &ActivityService{
		deps:    deps,
		timeout: snapshotTimeout,
		now:     time.Now,
		log:     logger.WithModule("activity"),
	}, nil
}

// Snapshot runs a short-lived aggregator for identity and returns its first complete state.
func (s *ActivityService) Snapshot(ctx context.Context, identity feed.Identity) (SnapshotDTO, error) {
	agg, err := feed.NewAggregator(identity, s.deps)
	if err != nil {
		return SnapshotDTO{}, err
	}
	if err := agg.Start(ctx); err != nil {
		return SnapshotDTO{}, err
	}
	defer agg.Stop()

	waitCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := agg.WaitReady(waitCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return SnapshotDTO{}, apperrors.ErrSnapshotTimeout.WithInternal(err)
		}
		return SnapshotDTO{}, err
	}

	snap := agg.Snapshot()
	return SnapshotDTO{Counts: snap.Counts, Total: snap.Total, Feed: snap.Feed, Ready: snap.Ready}, nil
}

// Categories lists the registry.
func (s *ActivityService) Categories() []CategoryDTO {
	configs := s.deps.Registry.Configs()
	out := make([]CategoryDTO, 0, len(configs))
	for _, cfg := range configs {
		out = append(out, CategoryDTO{
			Category:       cfg.Category,
			Label:          cfg.Label,
			Collection:     cfg.Collection,
			TimestampField: cfg.TimestampField,
		})
	}
	return out
}

// Watermarks returns the effective watermark of every category for identity.
func (s *ActivityService) Watermarks(ctx context.Context, identity feed.Identity) ([]WatermarkDTO, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}

	out := make([]WatermarkDTO, 0, len(s.deps.Registry.Categories()))
	for _, category := range s.deps.Registry.Categories() {
		key := watermarkKey(identity, category)
		at, ok, err := s.deps.Watermarks.Lookup(ctx, key)
		if err != nil {
			s.log.Warn("watermark lookup failed", zap.String("category", string(category)), zap.Error(err))
		}
		if err != nil || !ok {
			at = s.deps.Watermarks.Default()
		}
		out = append(out, WatermarkDTO{Category: category, Watermark: at, Explicit: ok && err == nil})
	}
	return out, nil
}

// MarkSeen advances the category's watermark for identity.
func (s *ActivityService) MarkSeen(ctx context.Context, identity feed.Identity, categoryName string) (WatermarkDTO, error) {
	if err := identity.Validate(); err != nil {
		return WatermarkDTO{}, err
	}
	category, err := s.deps.Registry.Parse(categoryName)
	if err != nil {
		return WatermarkDTO{}, err
	}

	at, err := s.deps.Watermarks.Advance(ctx, watermarkKey(identity, category), s.now())
	if err != nil {
		s.log.Error("failed to persist watermark",
			zap.String("user_id", identity.UserID),
			zap.String("role", identity.Role),
			zap.String("category", string(category)),
			zap.Error(err),
		)
		return WatermarkDTO{}, apperrors.ErrWatermarkPersist.WithInternal(err)
	}
	return WatermarkDTO{Category: category, Watermark: at, Explicit: true}, nil
}

// Hide persists refs in the user's hidden set. Every category is checked before anything is
// written.
func (s *ActivityService) Hide(ctx context.Context, identity feed.Identity, refs []hidden.Ref) (int, error) {
	if err := identity.Validate(); err != nil {
		return 0, err
	}
	if len(refs) == 0 {
		return 0, nil
	}

	normalised := make([]hidden.Ref, 0, len(refs))
	for _, ref := range refs {
		category, err := s.deps.Registry.Parse(ref.Category)
		if err != nil {
			return 0, err
		}
		id := strings.TrimSpace(ref.ID)
		if id == "" {
			return 0, apperrors.NewBadRequest("item id is required")
		}
		if !validator.IsKeySegment(id) {
			return 0, apperrors.NewBadRequest("item id must not contain colons or whitespace")
		}
		normalised = append(normalised, hidden.Ref{Category: string(category), ID: id})
	}

	written, err := s.deps.Hidden.Hide(ctx, identity.UserID, normalised...)
	if err != nil {
		s.log.Error("failed to persist hidden items",
			zap.String("user_id", identity.UserID),
			zap.Int("items", len(normalised)),
			zap.Int("written", written),
			zap.Error(err),
		)
		return written, apperrors.ErrHiddenPersist.WithInternal(err)
	}
	return written, nil
}

func watermarkKey(identity feed.Identity, category feed.Category) watermark.Key {
	return watermark.Key{UserID: identity.UserID, Role: identity.Role, Category: string(category)}
}
