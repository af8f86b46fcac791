package app

import (
	"strings"

	"github.com/solarops/activity/internal/cache"
)

const (
	CacheDriverDatabase = "database"
	CacheDriverRedis    = "redis"
)

// KVDriver returns the normalised cache driver, defaulting to the database store.
func (c CacheConfig) KVDriver() string {
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	if driver == "" {
		return CacheDriverDatabase
	}
	return driver
}

// RedisClientConfig converts the application cache configuration into the cache package representation.
func (c CacheConfig) RedisClientConfig() cache.RedisConfig {
	return cache.RedisConfig{
		Address:  strings.TrimSpace(c.Redis.Address),
		Username: strings.TrimSpace(c.Redis.Username),
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		TLS:      c.Redis.TLS,
		Timeout:  c.Redis.Timeout,
	}
}
