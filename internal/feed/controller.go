package feed

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/solarops/activity/internal/hidden"
	"github.com/solarops/activity/internal/watermark"
	apperrors "github.com/solarops/activity/pkg/errors"
	"github.com/solarops/activity/pkg/logger"
)

// Controller applies the user's "seen" and "hide" intents to a running aggregator.
type Controller struct {
	agg        *Aggregator
	watermarks *watermark.Store
	hidden     *hidden.Store
	now        func() time.Time
	log        *zap.Logger
}

// ControllerOption customises a Controller.
type ControllerOption func(*Controller)

// WithControllerClock overrides the clock used for new watermarks.
func WithControllerClock(now func() time.Time) ControllerOption {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// NewController binds a controller to agg, sharing its stores.
func NewController(agg *Aggregator, opts ...ControllerOption) *Controller {
	c := &Controller{
		agg:        agg,
		watermarks: agg.deps.Watermarks,
		hidden:     agg.deps.Hidden,
		now:        time.Now,
		log:        logger.WithModule("feed.controller"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Aggregator returns the controlled aggregator.
func (c *Controller) Aggregator() *Aggregator {
	return c.agg
}

// MarkCategorySeen advances the category's watermark to now, never moving it backwards, and
// reopens the category's stream at the new bound. The watermark is persisted before any
// in-memory state changes; a failed write leaves the aggregator untouched.
func (c *Controller) MarkCategorySeen(ctx context.Context, category Category) (time.Time, error) {
	if _, ok := c.agg.deps.Registry.Config(category); !ok {
		return time.Time{}, apperrors.ErrUnknownCategory
	}

	identity := c.agg.Identity()
	key := watermark.Key{UserID: identity.UserID, Role: identity.Role, Category: string(category)}

	at, err := c.watermarks.Advance(ctx, key, c.now())
	if err != nil {
		c.log.Error("failed to persist watermark",
			zap.String("user_id", identity.UserID),
			zap.String("role", identity.Role),
			zap.String("category", string(category)),
			zap.Error(err),
		)
		return time.Time{}, apperrors.ErrWatermarkPersist.WithInternal(err)
	}

	if err := c.agg.Resubscribe(ctx, category, at); err != nil {
		return at, err
	}
	return at, nil
}

// HideItem persists the item in the user's hidden set and removes it from the feed.
func (c *Controller) HideItem(ctx context.Context, category Category, id string) error {
	if _, ok := c.agg.deps.Registry.Config(category); !ok {
		return apperrors.ErrUnknownCategory
	}
	if id == "" {
		return apperrors.NewBadRequest("item id is required")
	}
	_, err := c.hide(ctx, []hidden.Ref{{Category: string(category), ID: id}})
	return err
}

// HideAll hides every item in the current feed snapshot as one batch and reports how many
// were hidden.
func (c *Controller) HideAll(ctx context.Context) (int, error) {
	items := c.agg.Feed()
	if len(items) == 0 {
		return 0, nil
	}

	refs := make([]hidden.Ref, 0, len(items))
	for _, item := range items {
		refs = append(refs, item.Ref())
	}
	return c.hide(ctx, refs)
}

// hide persists refs and then hides the persisted ones locally, so the session never shows
// an item that the next session would hide.
func (c *Controller) hide(ctx context.Context, refs []hidden.Ref) (int, error) {
	userID := c.agg.Identity().UserID
	written, err := c.hidden.Hide(ctx, userID, refs...)
	if written > 0 {
		if hideErr := c.agg.Hide(ctx, refs[:written]...); hideErr != nil {
			return written, hideErr
		}
	}
	if err != nil {
		c.log.Error("failed to persist hidden items",
			zap.String("user_id", userID),
			zap.Int("items", len(refs)),
			zap.Int("written", written),
			zap.Error(err),
		)
		return written, apperrors.ErrHiddenPersist.WithInternal(err)
	}
	return written, nil
}
