// Package auth turns bearer tokens into activity identities.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/solarops/activity/internal/feed"
	apperrors "github.com/solarops/activity/pkg/errors"
)

// DefaultAccessTokenTTL defines the validity period of tokens minted by IssueToken.
const DefaultAccessTokenTTL = 15 * time.Minute

// Metadata keys carrying the role and tenant.
const (
	MetaRole   = "role"
	MetaTenant = "tenant"
)

// JWTConfig bundles the configuration required to build a JWTService.
type JWTConfig struct {
	Secret         string
	Issuer         string
	AccessTokenTTL time.Duration
	Clock          func() time.Time
}

// Claims are the claims the dashboard's identity provider signs.
type Claims struct {
	UserID   string         `json:"uid"`
	Metadata map[string]any `json:"meta,omitempty"`
	jwt.RegisteredClaims
}

// Identity extracts the {user, role, tenant} triple from the claims.
func (c *Claims) Identity() (feed.Identity, error) {
	identity := feed.Identity{
		UserID:   strings.TrimSpace(c.UserID),
		Role:     metaString(c.Metadata, MetaRole),
		TenantID: metaString(c.Metadata, MetaTenant),
	}
	if err := identity.Validate(); err != nil {
		return feed.Identity{}, err
	}
	return identity, nil
}

// JWTService validates HS256 tokens.
type JWTService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTService constructs a JWTService.
func NewJWTService(cfg JWTConfig) (*JWTService, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt: secret must be provided")
	}

	ttl := cfg.AccessTokenTTL
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &JWTService{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    ttl,
		now:    now,
	}, nil
}

// IssueToken signs a token for identity. The service only verifies tokens in production;
// this exists for tooling and tests.
func (s *JWTService) IssueToken(identity feed.Identity) (string, error) {
	if err := identity.Validate(); err != nil {
		return "", err
	}

	now := s.now()
	claims := &Claims{
		UserID: identity.UserID,
		Metadata: map[string]any{
			MetaRole:   identity.Role,
			MetaTenant: identity.TenantID,
		},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("jwt: sign token: %w", err)
	}
	return signed, nil
}

// ValidateAccessToken parses and validates a signed JWT.
func (s *JWTService) ValidateAccessToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("jwt: token string is empty")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)

	var claims Claims
	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("jwt: parse token: %w", err)
	}

	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, errors.New("jwt: invalid issuer")
	}
	if claims.UserID == "" {
		return nil, errors.New("jwt: missing user id claim")
	}

	return &claims, nil
}

// Authenticate validates the token and returns its identity. Every failure is reported as an
// AppError suitable for clients.
func (s *JWTService) Authenticate(tokenString string) (feed.Identity, error) {
	claims, err := s.ValidateAccessToken(tokenString)
	if err != nil {
		return feed.Identity{}, apperrors.ErrUnauthorized.WithInternal(err)
	}
	return claims.Identity()
}

func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	value, ok := meta[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}
