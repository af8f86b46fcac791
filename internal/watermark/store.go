// Package watermark persists the per-user, per-role, per-category "last seen" instants.
package watermark

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/solarops/activity/internal/cache"
	"github.com/solarops/activity/pkg/logger"
	"github.com/solarops/activity/pkg/metrics"
	"github.com/solarops/activity/pkg/validator"
)

// DefaultLookback bounds the initial unseen window for a category that was never marked seen.
const DefaultLookback = time.Hour

// Key addresses a single watermark. Role is part of the key so role switches never share
// seen-state.
type Key struct {
	UserID   string
	Role     string
	Category string
}

func (k Key) storageKey() string {
	return "watermark:" + k.UserID + ":" + k.Role + ":" + k.Category
}

func (k Key) validate() error {
	if strings.TrimSpace(k.UserID) == "" || strings.TrimSpace(k.Role) == "" || strings.TrimSpace(k.Category) == "" {
		return errors.New("watermark: user, role and category are required")
	}
	if !validator.IsKeySegment(k.UserID) || !validator.IsKeySegment(k.Role) || !validator.IsKeySegment(k.Category) {
		return fmt.Errorf("watermark: key segments must not contain colons or whitespace: %+v", k)
	}
	return nil
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the clock used to compute the default watermark.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLookback overrides DefaultLookback.
func WithLookback(lookback time.Duration) Option {
	return func(s *Store) {
		if lookback > 0 {
			s.lookback = lookback
		}
	}
}

// Store reads and writes watermarks through a cache.Store.
type Store struct {
	kv       cache.Store
	now      func() time.Time
	lookback time.Duration
	log      *zap.Logger
}

// NewStore constructs a watermark store.
func NewStore(kv cache.Store, opts ...Option) (*Store, error) {
	if kv == nil {
		return nil, errors.New("watermark: key-value store is required")
	}

	s := &Store{
		kv:       kv,
		now:      time.Now,
		lookback: DefaultLookback,
		log:      logger.WithModule("watermark"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Get returns the stored watermark, or now minus the lookback when none is stored or the
// stored value cannot be read.
func (s *Store) Get(ctx context.Context, key Key) time.Time {
	value, ok, err := s.Lookup(ctx, key)
	if err != nil {
		s.log.Warn("watermark read failed; using default",
			zap.String("user_id", key.UserID),
			zap.String("role", key.Role),
			zap.String("category", key.Category),
			zap.Error(err),
		)
	}
	if err != nil || !ok {
		return s.Default()
	}
	return value
}

// Default is the watermark used for categories that were never marked seen.
func (s *Store) Default() time.Time {
	return s.now().Add(-s.lookback).UTC()
}

// Lookup returns the stored watermark and whether one exists.
func (s *Store) Lookup(ctx context.Context, key Key) (time.Time, bool, error) {
	if err := key.validate(); err != nil {
		return time.Time{}, false, err
	}

	raw, ok, err := s.kv.Get(ctx, key.storageKey())
	if err != nil {
		return time.Time{}, false, fmt.Errorf("watermark: get: %w", err)
	}
	if !ok {
		return time.Time{}, false, nil
	}

	value, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("watermark: decode %q: %w", raw, err)
	}
	return value.UTC(), true, nil
}

// Set persists the watermark immediately. Writing the same value twice is a no-op in effect.
func (s *Store) Set(ctx context.Context, key Key, at time.Time) error {
	if err := key.validate(); err != nil {
		return err
	}

	encoded := at.UTC().Format(time.RFC3339Nano)
	if err := s.kv.Set(ctx, key.storageKey(), []byte(encoded), 0); err != nil {
		metrics.WatermarkWrites.WithLabelValues("failure").Inc()
		return fmt.Errorf("watermark: set: %w", err)
	}

	metrics.WatermarkWrites.WithLabelValues("success").Inc()
	return nil
}

// Advance moves the watermark to at, or keeps the stored value when it is already later, and
// returns the effective watermark. The result is persisted even when unchanged so a failing
// store is always reported. A failed read aborts without writing.
func (s *Store) Advance(ctx context.Context, key Key, at time.Time) (time.Time, error) {
	at = at.UTC()
	stored, ok, err := s.Lookup(ctx, key)
	if err != nil {
		return time.Time{}, err
	}
	if ok && stored.After(at) {
		at = stored
	}

	if err := s.Set(ctx, key, at); err != nil {
		return time.Time{}, err
	}
	return at, nil
}
