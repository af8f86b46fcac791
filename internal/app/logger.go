package app

import (
	"strings"

	"github.com/solarops/activity/pkg/logger"
)

// ConfigureLogging initialises the global logger, defaulting to info level and JSON output.
func ConfigureLogging(cfg LogConfig) error {
	level := strings.TrimSpace(cfg.Level)
	if level == "" {
		level = "info"
	}
	return logger.Init(level, strings.ToLower(strings.TrimSpace(cfg.Format)))
}
