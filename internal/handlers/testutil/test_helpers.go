package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/solarops/activity/internal/api"
	"github.com/solarops/activity/internal/app"
	iauth "github.com/solarops/activity/internal/auth"
	"github.com/solarops/activity/internal/cache"
	sharedtestutil "github.com/solarops/activity/internal/database/testutil"
	"github.com/solarops/activity/internal/docstore"
	"github.com/solarops/activity/internal/feed"
	"github.com/solarops/activity/internal/hidden"
	"github.com/solarops/activity/internal/monitoring"
	"github.com/solarops/activity/internal/monitoring/checks"
	"github.com/solarops/activity/internal/realtime"
	"github.com/solarops/activity/internal/services"
	"github.com/solarops/activity/internal/session"
	"github.com/solarops/activity/internal/watermark"
	"github.com/solarops/activity/pkg/response"
)

// Env encapsulates a fully-wired API instance backed by an in-memory database and document
// store for handler tests.
type Env struct {
	T        *testing.T
	DB       *gorm.DB
	Router   *gin.Engine
	JWT      *iauth.JWTService
	Docs     *docstore.MemoryStore
	KV       *cache.DatabaseStore
	Registry *feed.Registry
	Hub      *realtime.Hub
	Now      time.Time
}

// NewEnv provisions a fresh handler test environment. The watermark clock is pinned to
// env.Now.
func NewEnv(t *testing.T) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithMigrations())
	now := time.Now().UTC().Truncate(time.Second)

	jwtSecret := "test-suite-super-secret-key-32-bytes!!"
	cfg := &app.Config{
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{
				Secret: jwtSecret,
				Issuer: "test-suite",
				TTL:    time.Hour,
			},
		},
		Activity: app.ActivityConfig{
			DefaultLookback: time.Hour,
			FeedLimit:       feed.DefaultFeedLimit,
			SnapshotTimeout: 2 * time.Second,
		},
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	require.NoError(t, err)

	kv := cache.NewDatabaseStore(db)
	wm, err := watermark.NewStore(kv, watermark.WithLookback(cfg.Activity.DefaultLookback), watermark.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	hs, err := hidden.NewStore(kv, cfg.Activity.HiddenRetention)
	require.NoError(t, err)

	docs := docstore.NewMemoryStore()
	registry := feed.MustRegistry()
	deps := feed.Dependencies{
		Registry:   registry,
		Querier:    docs,
		Watermarks: wm,
		Hidden:     hs,
		FeedLimit:  cfg.Activity.FeedLimit,
	}

	activity, err := services.NewActivityService(deps, cfg.Activity.SnapshotTimeout)
	require.NoError(t, err)

	hub := realtime.NewHub(session.NewFactory(deps), jwtSvc.Authenticate)
	t.Cleanup(hub.Shutdown)

	health := monitoring.NewHealthManager()
	health.RegisterReadiness(checks.Database(db, 0))
	health.RegisterReadiness(checks.KV(kv, 0))
	health.RegisterReadiness(checks.DocStore(docs, 0))

	router, err := api.NewRouter(health, jwtSvc, cfg, activity, hub)
	require.NoError(t, err)

	return &Env{
		T:        t,
		DB:       db,
		Router:   router,
		JWT:      jwtSvc,
		Docs:     docs,
		KV:       kv,
		Registry: registry,
		Hub:      hub,
		Now:      now,
	}
}

// Token signs an access token for identity.
func (e *Env) Token(identity feed.Identity) string {
	e.T.Helper()
	token, err := e.JWT.IssueToken(identity)
	require.NoError(e.T, err)
	return token
}

// Put stores a source record for category, stamped at the given offset from env.Now.
func (e *Env) Put(category feed.Category, id, tenant string, age time.Duration) {
	e.T.Helper()
	cfg, ok := e.Registry.Config(category)
	require.True(e.T, ok)
	e.Docs.Put(cfg.Collection, docstore.Document{ID: id, Fields: map[string]any{
		cfg.TenantField:    tenant,
		cfg.TimestampField: e.Now.Add(-age),
		cfg.TitleField:     id,
	}})
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
