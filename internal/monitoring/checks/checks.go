// Package checks provides readiness probes for the activity service's backends.
package checks

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/solarops/activity/internal/cache"
	"github.com/solarops/activity/internal/monitoring"
)

const defaultTimeout = 2 * time.Second

// probeKey is read, never written; a miss is a healthy answer.
const probeKey = "health:probe"

// Pinger is implemented by backends that can verify their connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Database pings the gorm handle.
func Database(db *gorm.DB, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck("database", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if db == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "database not configured"}
		}

		sqlDB, err := db.DB()
		if err != nil {
			return monitoring.ResultFromError(err, time.Since(start))
		}

		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout))
		defer cancel()
		return monitoring.ResultFromError(sqlDB.PingContext(probeCtx), time.Since(start))
	})
}

// KV reads a probe key from the store holding watermarks and hidden items.
func KV(store cache.Store, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck("kv", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if store == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "kv store not configured"}
		}

		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout))
		defer cancel()
		_, _, err := store.Get(probeCtx, probeKey)
		return monitoring.ResultFromError(err, time.Since(start))
	})
}

// DocStore pings the live-query backend when it supports it. Backends without a ping
// report up.
func DocStore(backend any, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck("docstore", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if backend == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "document store not configured"}
		}

		pinger, ok := backend.(Pinger)
		if !ok {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "no probe available"}
		}

		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout))
		defer cancel()
		return monitoring.ResultFromError(pinger.Ping(probeCtx), time.Since(start))
	})
}

func chooseTimeout(provided time.Duration) time.Duration {
	if provided <= 0 {
		return defaultTimeout
	}
	return provided
}
