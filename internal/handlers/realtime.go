package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/solarops/activity/internal/realtime"
	"github.com/solarops/activity/pkg/errors"
	"github.com/solarops/activity/pkg/response"
)

// RealtimeHandler upgrades authenticated requests into activity WebSocket streams.
type RealtimeHandler struct {
	hub *realtime.Hub
}

// NewRealtimeHandler constructs a realtime handler.
func NewRealtimeHandler(hub *realtime.Hub) *RealtimeHandler {
	return &RealtimeHandler{hub: hub}
}

// Stream hands the connection to the hub. Auth middleware has already resolved the identity
// from the token query parameter or the Authorization header.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	if h.hub == nil {
		response.Error(c, errors.ErrNotFound)
		return
	}

	identity, ok := callerIdentity(c)
	if !ok {
		return
	}

	h.hub.Serve(identity, c.Writer, c.Request)
}
