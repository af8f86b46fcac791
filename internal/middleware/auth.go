package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/solarops/activity/internal/feed"
	"github.com/solarops/activity/pkg/errors"
	"github.com/solarops/activity/pkg/response"
)

const (
	CtxIdentityKey = "activityIdentity"
	CtxUserIDKey   = "userID"

	// TokenQueryParam carries the token for WebSocket upgrades, where browsers cannot set
	// headers.
	TokenQueryParam = "token"
)

// Authenticator resolves a bearer token into an identity.
type Authenticator interface {
	Authenticate(token string) (feed.Identity, error)
}

// Auth enforces bearer authentication and stores the caller's identity on the context.
func Auth(authenticator Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		identity, err := authenticator.Authenticate(token)
		if err != nil {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(CtxIdentityKey, identity)
		c.Set(CtxUserIDKey, identity.UserID)
		c.Next()
	}
}

// IdentityFrom returns the identity stored by Auth.
func IdentityFrom(c *gin.Context) (feed.Identity, bool) {
	value, ok := c.Get(CtxIdentityKey)
	if !ok {
		return feed.Identity{}, false
	}
	identity, ok := value.(feed.Identity)
	return identity, ok
}

func bearerToken(c *gin.Context) string {
	authz := c.GetHeader("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "Bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return strings.TrimSpace(c.Query(TokenQueryParam))
}
