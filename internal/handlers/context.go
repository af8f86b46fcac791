package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/solarops/activity/internal/feed"
	"github.com/solarops/activity/internal/middleware"
	"github.com/solarops/activity/pkg/errors"
	"github.com/solarops/activity/pkg/response"
)

// requestContext returns the request context with a background fallback for bare test contexts.
func requestContext(c *gin.Context) context.Context {
	if c == nil || c.Request == nil {
		return context.Background()
	}
	return c.Request.Context()
}

// callerIdentity reads the identity resolved by the auth middleware. When it is missing a
// 401 is written and ok is false.
func callerIdentity(c *gin.Context) (identity feed.Identity, ok bool) {
	identity, ok = middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
	}
	return identity, ok
}
