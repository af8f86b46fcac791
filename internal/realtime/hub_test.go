package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/solarops/activity/internal/cache"
	"github.com/solarops/activity/internal/database/testutil"
	"github.com/solarops/activity/internal/docstore"
	"github.com/solarops/activity/internal/feed"
	"github.com/solarops/activity/internal/hidden"
	"github.com/solarops/activity/internal/session"
	"github.com/solarops/activity/internal/watermark"
)

type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type fixture struct {
	hub  *Hub
	docs *docstore.MemoryStore
	url  string
}

var acmeOperator = feed.Identity{UserID: "u1", Role: "operator", TenantID: "acme"}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithMigrations())
	kv := cache.NewDatabaseStore(db)
	wm, err := watermark.NewStore(kv)
	require.NoError(t, err)
	hs, err := hidden.NewStore(kv, 0)
	require.NoError(t, err)
	docs := docstore.NewMemoryStore()

	factory := session.NewFactory(feed.Dependencies{
		Registry:   feed.MustRegistry(),
		Querier:    docs,
		Watermarks: wm,
		Hidden:     hs,
	})
	hub := NewHub(factory, func(token string) (feed.Identity, error) {
		switch token {
		case "globex-manager":
			return feed.Identity{UserID: "u2", Role: "manager", TenantID: "globex"}, nil
		default:
			return feed.Identity{}, errors.New("invalid token")
		}
	})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(acmeOperator, w, r)
	}))
	t.Cleanup(func() {
		hub.Shutdown()
		server.Close()
	})

	return &fixture{hub: hub, docs: docs, url: "ws" + strings.TrimPrefix(server.URL, "http")}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (f *fixture) putFault(id, tenant string) {
	f.docs.Put("faults", docstore.Document{ID: id, Fields: map[string]any{
		"company_id": tenant,
		"created_at": time.Now().UTC(),
		"title":      "fault " + id,
	}})
}

// readUntil reads messages until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(inbound) bool) inbound {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var msg inbound
		require.NoError(t, conn.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

func snapshotWhere(t *testing.T, pred func(SnapshotPayload) bool) func(inbound) bool {
	return func(msg inbound) bool {
		if msg.Event != EventSnapshot {
			return false
		}
		var payload SnapshotPayload
		require.NoError(t, json.Unmarshal(msg.Data, &payload))
		return pred(payload)
	}
}

func decodeSnapshot(t *testing.T, msg inbound) SnapshotPayload {
	var payload SnapshotPayload
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	return payload
}

func TestSnapshotsArePushedOnChange(t *testing.T) {
	f := newFixture(t)
	f.putFault("f1", "acme")
	conn := f.dial(t)

	msg := readUntil(t, conn, snapshotWhere(t, func(p SnapshotPayload) bool { return p.Ready }))
	snap := decodeSnapshot(t, msg)
	require.Equal(t, acmeOperator, snap.Identity)
	require.Equal(t, 1, snap.Counts[feed.Faults])
	require.Equal(t, 1, snap.Total)

	f.putFault("f2", "acme")
	readUntil(t, conn, snapshotWhere(t, func(p SnapshotPayload) bool { return p.Total == 2 }))
	require.Equal(t, 1, f.hub.Connections())
}

func TestActionsFlowThroughController(t *testing.T) {
	f := newFixture(t)
	f.putFault("f1", "acme")
	f.putFault("f2", "acme")
	conn := f.dial(t)
	readUntil(t, conn, snapshotWhere(t, func(p SnapshotPayload) bool { return p.Ready && p.Total == 2 }))

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "hide", "category": "faults", "id": "f1"}))
	msg := readUntil(t, conn, snapshotWhere(t, func(p SnapshotPayload) bool { return len(p.Feed) == 1 }))
	snap := decodeSnapshot(t, msg)
	require.Equal(t, 2, snap.Total)
	require.Equal(t, "f2", snap.Feed[0].ID)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "mark_seen", "category": "faults"}))
	readUntil(t, conn, snapshotWhere(t, func(p SnapshotPayload) bool { return p.Total == 0 }))
	readUntil(t, conn, func(m inbound) bool { return m.Event == EventAck })

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "ping"}))
	readUntil(t, conn, func(m inbound) bool { return m.Event == EventPong })
}

func ackFor(t *testing.T, action string) func(inbound) bool {
	return func(msg inbound) bool {
		if msg.Event != EventAck {
			return false
		}
		var ack map[string]any
		require.NoError(t, json.Unmarshal(msg.Data, &ack))
		return ack["action"] == action
	}
}

func TestAcksCarryWatermarkOnlyForMarkSeen(t *testing.T) {
	f := newFixture(t)
	f.putFault("f1", "acme")
	conn := f.dial(t)
	readUntil(t, conn, snapshotWhere(t, func(p SnapshotPayload) bool { return p.Ready && p.Total == 1 }))

	require.NoError(t, conn.WriteJSON(map[string]string{"action": ActionHideAll}))
	var hideAck map[string]any
	require.NoError(t, json.Unmarshal(readUntil(t, conn, ackFor(t, ActionHideAll)).Data, &hideAck))
	require.Equal(t, float64(1), hideAck["hidden"])
	require.NotContains(t, hideAck, "watermark")

	require.NoError(t, conn.WriteJSON(map[string]string{"action": ActionMarkSeen, "category": "faults"}))
	var seenAck AckPayload
	require.NoError(t, json.Unmarshal(readUntil(t, conn, ackFor(t, ActionMarkSeen)).Data, &seenAck))
	require.NotNil(t, seenAck.Watermark)
	require.False(t, seenAck.Watermark.IsZero())
}

func TestInvalidActionsProduceErrorEvents(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)
	readUntil(t, conn, snapshotWhere(t, func(p SnapshotPayload) bool { return p.Ready }))

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "mark_seen", "category": "inventory"}))
	msg := readUntil(t, conn, func(m inbound) bool { return m.Event == EventError })

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	require.Equal(t, "mark_seen", payload.Action)
	require.Equal(t, "activity.unknown_category", payload.Code)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	readUntil(t, conn, func(m inbound) bool { return m.Event == EventError })
}

func TestReauthSwitchesTenant(t *testing.T) {
	f := newFixture(t)
	f.putFault("acme-1", "acme")
	f.putFault("globex-1", "globex")
	f.putFault("globex-2", "globex")
	conn := f.dial(t)
	readUntil(t, conn, snapshotWhere(t, func(p SnapshotPayload) bool { return p.Ready && p.Total == 1 }))

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "reauth", "token": "globex-manager"}))
	msg := readUntil(t, conn, snapshotWhere(t, func(p SnapshotPayload) bool {
		return p.Identity.TenantID == "globex" && p.Ready
	}))
	snap := decodeSnapshot(t, msg)
	require.Equal(t, 2, snap.Total)
	for _, item := range snap.Feed {
		require.True(t, strings.HasPrefix(item.ID, "globex-"))
	}

	// After the switch no snapshot for the old tenant may arrive.
	f.putFault("acme-2", "acme")
	f.putFault("globex-3", "globex")
	msg = readUntil(t, conn, snapshotWhere(t, func(p SnapshotPayload) bool { return p.Total == 3 }))
	require.Equal(t, "globex", decodeSnapshot(t, msg).Identity.TenantID)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "reauth", "token": "bogus"}))
	readUntil(t, conn, func(m inbound) bool { return m.Event == EventError })
	require.NoError(t, conn.WriteJSON(map[string]string{"action": "hide_all"}))
	msg = readUntil(t, conn, func(m inbound) bool { return m.Event == EventError })
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	require.Equal(t, "UNAUTHORIZED", payload.Code)
}

func TestHostHelpers(t *testing.T) {
	require.Equal(t, "example.com", hostWithoutPort("https://example.com:8443"))
	require.Equal(t, "localhost", hostWithoutPort("localhost:3000"))
	require.True(t, isLoopback("127.0.0.1"))
	require.True(t, isLoopback("LOCALHOST"))
	require.False(t, isLoopback("example.com"))
}
