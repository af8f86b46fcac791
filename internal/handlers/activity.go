package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/solarops/activity/internal/hidden"
	"github.com/solarops/activity/internal/services"
	"github.com/solarops/activity/pkg/response"
)

// ActivityHandler exposes the REST side of the activity feed.
type ActivityHandler struct {
	service *services.ActivityService
}

// NewActivityHandler constructs an activity handler.
func NewActivityHandler(service *services.ActivityService) *ActivityHandler {
	return &ActivityHandler{service: service}
}

type hideItemRequest struct {
	Category string `json:"category" validate:"required,key_segment"`
	ID       string `json:"id" validate:"required,key_segment"`
}

type hideBatchRequest struct {
	Items []hideItemRequest `json:"items" validate:"required,min=1,max=200,dive"`
}

// Snapshot returns counts and the merged feed for the caller.
func (h *ActivityHandler) Snapshot(c *gin.Context) {
	identity, ok := callerIdentity(c)
	if !ok {
		return
	}

	snap, err := h.service.Snapshot(requestContext(c), identity)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, snap)
}

// Categories lists the category registry.
func (h *ActivityHandler) Categories(c *gin.Context) {
	response.Success(c, http.StatusOK, h.service.Categories())
}

// Watermarks returns the caller's effective watermarks.
func (h *ActivityHandler) Watermarks(c *gin.Context) {
	identity, ok := callerIdentity(c)
	if !ok {
		return
	}

	marks, err := h.service.Watermarks(requestContext(c), identity)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, marks)
}

// MarkSeen advances the watermark of the category in the path.
func (h *ActivityHandler) MarkSeen(c *gin.Context) {
	identity, ok := callerIdentity(c)
	if !ok {
		return
	}

	mark, err := h.service.MarkSeen(requestContext(c), identity, c.Param("category"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, mark)
}

// Hide hides a single item.
func (h *ActivityHandler) Hide(c *gin.Context) {
	var req hideItemRequest
	if !bindAndValidate(c, &req) {
		return
	}
	h.hide(c, []hideItemRequest{req})
}

// HideBatch hides several items at once.
func (h *ActivityHandler) HideBatch(c *gin.Context) {
	var req hideBatchRequest
	if !bindAndValidate(c, &req) {
		return
	}
	h.hide(c, req.Items)
}

func (h *ActivityHandler) hide(c *gin.Context, items []hideItemRequest) {
	identity, ok := callerIdentity(c)
	if !ok {
		return
	}

	refs := make([]hidden.Ref, 0, len(items))
	for _, item := range items {
		refs = append(refs, hidden.Ref{Category: item.Category, ID: item.ID})
	}

	hiddenCount, err := h.service.Hide(requestContext(c), identity, refs)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"hidden": hiddenCount})
}
