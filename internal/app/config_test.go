package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/solarops/activity/internal/auth"
	"github.com/solarops/activity/internal/feed"
)

func TestLoadConfigFromFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata"))
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
	require.Equal(t, "require", cfg.Database.Postgres.Options["sslmode"])

	require.Equal(t, CacheDriverRedis, cfg.Cache.KVDriver())
	require.Equal(t, "redis.example.com:6380", cfg.Cache.Redis.Address)
	require.Equal(t, 2, cfg.Cache.Redis.DB)
	require.Equal(t, 2*time.Second, cfg.Cache.Redis.Timeout)

	require.Equal(t, "mongo", cfg.DocStore.Driver)
	require.Equal(t, 500*time.Millisecond, cfg.DocStore.PollInterval)
	require.Equal(t, "solar-dashboard", cfg.DocStore.Firebase.ProjectID)
	require.Equal(t, "plants", cfg.DocStore.Mongo.Database)
	require.Equal(t, 10*time.Second, cfg.DocStore.Mongo.Timeout)

	require.Equal(t, 90*time.Minute, cfg.Activity.DefaultLookback)
	require.Equal(t, 30, cfg.Activity.FeedLimit)
	require.Equal(t, 168*time.Hour, cfg.Activity.HiddenRetention)
	require.Equal(t, 3*time.Second, cfg.Activity.SnapshotTimeout)
	require.Len(t, cfg.Activity.Categories, 2)
	require.Equal(t, feed.InverterChecks, cfg.Activity.Categories[0].Category)
	require.Equal(t, "inverter_inspections", cfg.Activity.Categories[0].Collection)
	require.Equal(t, "inspected_at", cfg.Activity.Categories[0].TimestampField)

	require.Equal(t, "jwt-secret", cfg.Auth.JWT.Secret)
	require.Equal(t, 30*time.Minute, cfg.Auth.JWT.TTL)

	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, []string{"https://dashboard.example.com", "https://ops.example.com"}, cfg.CORS.AllowedOrigins)
	require.Equal(t, 60, cfg.RateLimit.Requests)
	require.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	require.Equal(t, "*/15 * * * *", cfg.Maintenance.PurgeSchedule)

	registry, err := feed.NewRegistry(cfg.Activity.Categories...)
	require.NoError(t, err)
	inverter, ok := registry.Config(feed.InverterChecks)
	require.True(t, ok)
	require.Equal(t, "tenant_id", inverter.TenantField)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, CacheDriverDatabase, cfg.Cache.KVDriver())
	require.Equal(t, "gorm", cfg.DocStore.Driver)
	require.Equal(t, 2*time.Second, cfg.DocStore.PollInterval)
	require.Equal(t, time.Hour, cfg.Activity.DefaultLookback)
	require.Equal(t, feed.DefaultFeedLimit, cfg.Activity.FeedLimit)
	require.Equal(t, 720*time.Hour, cfg.Activity.HiddenRetention)
	require.Equal(t, 5*time.Second, cfg.Activity.SnapshotTimeout)
	require.Empty(t, cfg.Activity.Categories)
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("SOLAROPS_SERVER_PORT", "7070")
	t.Setenv("SOLAROPS_ACTIVITY_DEFAULT_LOOKBACK", "2h")
	t.Setenv("SOLAROPS_DOCSTORE_DRIVER", "firestore")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, 2*time.Hour, cfg.Activity.DefaultLookback)
	require.Equal(t, "firestore", cfg.DocStore.Driver)
}

func TestAuthConfigAdapters(t *testing.T) {
	cfg := AuthConfig{JWT: JWTSettings{Secret: "secret", Issuer: "issuer", TTL: 30 * time.Minute}}
	require.Equal(t, auth.JWTConfig{
		Secret:         "secret",
		Issuer:         "issuer",
		AccessTokenTTL: 30 * time.Minute,
	}, cfg.JWTServiceConfig())

	var empty AuthConfig
	require.Equal(t, auth.DefaultAccessTokenTTL, empty.JWTServiceConfig().AccessTokenTTL)
}

func TestStoreConfigAdapters(t *testing.T) {
	db := DatabaseConfig{
		Driver: "MySQL",
		MySQL:  DBAuthConfig{Host: "mysql.local", Port: 3307, Database: "ops", Username: "u", Password: "p"},
	}
	conn := db.ConnectionConfig()
	require.Equal(t, "mysql", conn.Driver)
	require.Equal(t, "mysql.local", conn.Host)
	require.Equal(t, 3307, conn.Port)
	require.Equal(t, "ops", conn.Name)

	sqlite := DatabaseConfig{Driver: "sqlite", Path: "./data/x.sqlite"}.ConnectionConfig()
	require.Equal(t, "./data/x.sqlite", sqlite.Path)
	require.Empty(t, sqlite.Host)

	backend := DocStoreConfig{
		Driver:   "mongo",
		Firebase: FirebaseConfig{ProjectID: " p1 "},
		Mongo:    MongoConfig{URI: "mongodb://m", Database: "plants", Timeout: time.Second},
	}.BackendConfig()
	require.Equal(t, "p1", backend.Firebase.ProjectID)
	require.Equal(t, "plants", backend.Mongo.Database)
	require.Equal(t, time.Second, backend.Mongo.Timeout)

	redis := CacheConfig{Redis: RedisCacheConfig{Address: " r:6379 ", DB: 3}}.RedisClientConfig()
	require.Equal(t, "r:6379", redis.Address)
	require.Equal(t, 3, redis.DB)
}
