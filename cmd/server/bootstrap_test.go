package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/solarops/activity/internal/app"
	"github.com/solarops/activity/internal/cache"
	"github.com/solarops/activity/internal/database/testutil"
	"github.com/solarops/activity/internal/docstore"
	"github.com/solarops/activity/internal/feed"
)

func testConfig() *app.Config {
	return &app.Config{
		Database: app.DatabaseConfig{Driver: "sqlite", Path: ":memory:"},
		Cache:    app.CacheConfig{Driver: app.CacheDriverDatabase},
		DocStore: app.DocStoreConfig{Driver: "memory"},
		Activity: app.ActivityConfig{
			DefaultLookback: time.Hour,
			FeedLimit:       10,
			HiddenRetention: 24 * time.Hour,
			SnapshotTimeout: time.Second,
		},
		Auth: app.AuthConfig{JWT: app.JWTSettings{Secret: "bootstrap-secret"}},
	}
}

func TestBootstrapRuntimeServesHealth(t *testing.T) {
	stack, err := bootstrapRuntime(context.Background(), testConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(context.Background(), zap.NewNop()) })

	require.NotNil(t, stack.Router)
	require.NotNil(t, stack.Hub)
	require.Nil(t, stack.Redis)

	rec := httptest.NewRecorder()
	stack.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	stack.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"component":"docstore"`)
	require.Contains(t, rec.Body.String(), `"component":"kv"`)
}

func TestBootstrapRuntimeRejectsUnknownDrivers(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Driver = "memcached"
	_, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "unsupported cache driver")

	cfg = testConfig()
	cfg.DocStore.Driver = "couchdb"
	_, err = bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "open document store")
}

func TestActivityDependenciesApplyConfig(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithMigrations())
	cfg := testConfig()
	cfg.Activity.Categories = []feed.CategoryConfig{{Category: feed.Faults, Collection: "plant_faults"}}

	deps, err := activityDependencies(cfg, cache.NewDatabaseStore(db), docstore.NewMemoryStore())
	require.NoError(t, err)
	require.Equal(t, 10, deps.FeedLimit)

	faults, ok := deps.Registry.Config(feed.Faults)
	require.True(t, ok)
	require.Equal(t, "plant_faults", faults.Collection)

	lag := time.Since(deps.Watermarks.Default())
	require.InDelta(t, time.Hour.Seconds(), lag.Seconds(), 5)

	cfg.Activity.Categories = []feed.CategoryConfig{{Category: "sunspots", Collection: "x"}}
	_, err = activityDependencies(cfg, cache.NewDatabaseStore(db), docstore.NewMemoryStore())
	require.ErrorContains(t, err, "build category registry")
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("SOLAROPS_TEST_ENV_FILE=loaded\n"), 0o600))
	t.Setenv("SOLAROPS_TEST_ENV_FILE", "")
	require.NoError(t, os.Unsetenv("SOLAROPS_TEST_ENV_FILE"))

	require.NoError(t, loadEnvFile(path))
	require.Equal(t, "loaded", os.Getenv("SOLAROPS_TEST_ENV_FILE"))

	require.NoError(t, loadEnvFile(filepath.Join(dir, "missing.env")))
	require.NoError(t, loadEnvFile(""))
}

func TestLoadApplicationConfigMissingPath(t *testing.T) {
	_, err := loadApplicationConfig(filepath.Join(t.TempDir(), "nope"))
	require.ErrorContains(t, err, "does not exist")
}

func TestShutdownTimeout(t *testing.T) {
	require.Equal(t, defaultShutdownTimeout, shutdownTimeout(nil))
	cfg := testConfig()
	cfg.Server.ShutdownTimeout = 3 * time.Second
	require.Equal(t, 3*time.Second, shutdownTimeout(cfg))
}
