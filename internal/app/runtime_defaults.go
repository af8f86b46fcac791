package app

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/solarops/activity/internal/feed"
)

const jwtSecretBytes = 48

// ApplyRuntimeDefaults fills values the service cannot run without. It returns a map describing
// which keys were generated so callers can log the event without exposing values.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)

	if strings.TrimSpace(cfg.Auth.JWT.Secret) == "" {
		secret, err := generateHexKey(jwtSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.Auth.JWT.Secret = secret
		generated["auth.jwt.secret"] = true
	}

	if cfg.Activity.FeedLimit <= 0 {
		cfg.Activity.FeedLimit = feed.DefaultFeedLimit
	}
	if cfg.Activity.DefaultLookback < 0 {
		return nil, fmt.Errorf("activity.default_lookback must not be negative")
	}
	if cfg.Activity.HiddenRetention < 0 {
		return nil, fmt.Errorf("activity.hidden_retention must not be negative")
	}

	return generated, nil
}

func generateHexKey(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive")
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
