package cache

import (
	"context"
	"time"
)

// Store is the persistent key-value store backing watermarks and hidden activity items.
// Keys are colon-delimited and namespaced by the caller.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
	// List returns every live entry whose key starts with prefix.
	List(ctx context.Context, prefix string) (map[string][]byte, error)
}
