// Package realtime pushes activity snapshots to dashboards over WebSockets and applies the
// actions they send back.
package realtime

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/solarops/activity/internal/feed"
	"github.com/solarops/activity/internal/session"
	apperrors "github.com/solarops/activity/pkg/errors"
	"github.com/solarops/activity/pkg/logger"
	"github.com/solarops/activity/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	actionTimeout  = 10 * time.Second

	defaultBufferSize = 64
)

// Authenticator resolves a bearer token into an identity.
type Authenticator func(token string) (feed.Identity, error)

// Hub tracks live dashboard connections. Every connection owns its own session manager.
type Hub struct {
	mu          sync.RWMutex
	connections map[*connection]struct{}
	upgrader    websocket.Upgrader
	sessions    session.Factory
	auth        Authenticator
	log         *zap.Logger
}

// NewHub constructs a realtime hub. auth is used for in-band re-authentication and may be nil
// to disable it.
func NewHub(sessions session.Factory, auth Authenticator) *Hub {
	return &Hub{
		connections: make(map[*connection]struct{}),
		sessions:    sessions,
		auth:        auth,
		log:         logger.WithModule("realtime"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				originHost := hostWithoutPort(origin)
				return originHost == hostWithoutPort(r.Host) || isLoopback(originHost)
			},
		},
	}
}

// Serve upgrades the request and runs an activity session for identity until the client
// disconnects.
func (h *Hub) Serve(identity feed.Identity, w http.ResponseWriter, r *http.Request) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	client := &connection{
		hub:    h,
		socket: socket,
		send:   make(chan Message, defaultBufferSize),
		done:   make(chan struct{}),
		log:    h.log.With(zap.String("user_id", identity.UserID)),
	}
	client.sessions = h.sessions(session.WithObserver(func(sess *session.Session, snap feed.Snapshot) {
		client.enqueue(snapshotMessage(sess, snap))
	}))

	h.register(client)
	defer func() {
		client.close()
		client.sessions.Close()
	}()

	go client.writeLoop()

	if _, err := client.sessions.Activate(r.Context(), identity); err != nil {
		client.log.Warn("session start failed", zap.Error(err))
		client.enqueue(errorMessage("connect", err))
		client.flushAndClose()
		return
	}

	client.readLoop()
}

// Connections reports the number of open connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Shutdown closes every open connection. Their sessions stop as the read loops exit.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	clients := make([]*connection, 0, len(h.connections))
	for client := range h.connections {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.close()
	}
}

func (h *Hub) register(client *connection) {
	h.mu.Lock()
	h.connections[client] = struct{}{}
	h.mu.Unlock()
	metrics.RealtimeConnections.Inc()
}

func (h *Hub) unregister(client *connection) {
	h.mu.Lock()
	_, ok := h.connections[client]
	delete(h.connections, client)
	h.mu.Unlock()
	if ok {
		metrics.RealtimeConnections.Dec()
	}
}

type connection struct {
	hub      *Hub
	socket   *websocket.Conn
	sessions *session.Manager
	send     chan Message
	done     chan struct{}
	once     sync.Once
	writeMu  sync.Mutex
	log      *zap.Logger
}

// enqueue never blocks; a client that cannot keep up is disconnected.
func (c *connection) enqueue(message Message) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- message:
	case <-c.done:
	default:
		c.log.Warn("dropping backpressure client")
		c.close()
	}
}

func (c *connection) readLoop() {
	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("unexpected close", zap.Error(err))
			}
			return
		}
		if len(payload) == 0 {
			continue
		}

		var ctrl controlMessage
		if err := json.Unmarshal(payload, &ctrl); err != nil {
			c.log.Debug("invalid control payload", zap.Error(err))
			c.enqueue(errorMessage("", apperrors.NewBadRequest("invalid control payload")))
			continue
		}
		c.handle(ctrl)
	}
}

func (c *connection) handle(ctrl controlMessage) {
	action := strings.ToLower(strings.TrimSpace(ctrl.Action))
	if action == ActionPing {
		c.enqueue(Message{Event: EventPong})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	if action == ActionReauth {
		c.reauth(ctx, ctrl.Token)
		return
	}

	sess := c.sessions.Current()
	if sess == nil {
		c.enqueue(errorMessage(action, apperrors.ErrUnauthorized))
		return
	}

	switch action {
	case ActionMarkSeen:
		category, err := sess.Aggregator.Registry().Parse(ctrl.Category)
		if err != nil {
			c.enqueue(errorMessage(action, err))
			return
		}
		at, err := sess.Controller.MarkCategorySeen(ctx, category)
		if err != nil {
			c.enqueue(errorMessage(action, err))
			return
		}
		c.enqueue(Message{Event: EventAck, Data: AckPayload{Action: action, Category: string(category), Watermark: &at}})

	case ActionHide:
		category, err := sess.Aggregator.Registry().Parse(ctrl.Category)
		if err != nil {
			c.enqueue(errorMessage(action, err))
			return
		}
		if err := sess.Controller.HideItem(ctx, category, strings.TrimSpace(ctrl.ID)); err != nil {
			c.enqueue(errorMessage(action, err))
			return
		}
		c.enqueue(Message{Event: EventAck, Data: AckPayload{Action: action, Category: string(category), Hidden: 1}})

	case ActionHideAll:
		n, err := sess.Controller.HideAll(ctx)
		if err != nil {
			c.enqueue(errorMessage(action, err))
			return
		}
		c.enqueue(Message{Event: EventAck, Data: AckPayload{Action: action, Hidden: n}})

	default:
		c.log.Debug("unsupported control action", zap.String("action", ctrl.Action))
		c.enqueue(errorMessage(action, apperrors.NewBadRequest("unsupported action")))
	}
}

// reauth switches the connection to the identity carried by token. A rejected token closes
// the current session so no data of the previous identity keeps flowing.
func (c *connection) reauth(ctx context.Context, token string) {
	if c.hub.auth == nil {
		c.enqueue(errorMessage(ActionReauth, apperrors.NewBadRequest("re-authentication is not enabled")))
		return
	}

	identity, err := c.hub.auth(strings.TrimSpace(token))
	if err != nil {
		c.sessions.Close()
		c.enqueue(errorMessage(ActionReauth, err))
		return
	}
	if _, err := c.sessions.Activate(ctx, identity); err != nil {
		c.enqueue(errorMessage(ActionReauth, err))
		return
	}
	c.log.Debug("connection re-authenticated", zap.String("new_user_id", identity.UserID))
}

func (c *connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message := <-c.send:
			if err := c.write(message); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.writeControl(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *connection) write(message Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
	return c.socket.WriteJSON(message)
}

func (c *connection) writeControl(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
	return c.socket.WriteMessage(messageType, data)
}

// flushAndClose gives the writer a moment to deliver queued messages, then closes.
func (c *connection) flushAndClose() {
	deadline := time.After(writeWait)
	for len(c.send) > 0 {
		select {
		case <-deadline:
			c.close()
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
	_ = c.writeControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session unavailable"))
	c.close()
}

func (c *connection) close() {
	c.once.Do(func() {
		close(c.done)
		c.hub.unregister(c)
		_ = c.socket.Close()
	})
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		parsed, err := http.NewRequest(http.MethodGet, host, nil)
		if err == nil {
			return hostWithoutPort(parsed.URL.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
