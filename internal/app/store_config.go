package app

import (
	"strings"

	"github.com/solarops/activity/internal/database"
	"github.com/solarops/activity/internal/docstore"
	"github.com/solarops/activity/pkg/firebase"
)

// ConnectionConfig converts the database section into the database package representation.
func (c DatabaseConfig) ConnectionConfig() database.Config {
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	cfg := database.Config{
		Driver: driver,
		Path:   c.Path,
		DSN:    strings.TrimSpace(c.DSN),
	}

	var host DBAuthConfig
	switch driver {
	case "postgres", "postgresql":
		host = c.Postgres
	case "mysql":
		host = c.MySQL
	default:
		return cfg
	}

	cfg.Host = host.Host
	cfg.Port = host.Port
	cfg.Name = host.Database
	cfg.User = host.Username
	cfg.Password = host.Password
	cfg.Options = host.Options
	return cfg
}

// BackendConfig converts the docstore section into the docstore package representation.
func (c DocStoreConfig) BackendConfig() docstore.Config {
	return docstore.Config{
		Driver:       c.Driver,
		PollInterval: c.PollInterval,
		Firebase: firebase.Config{
			ProjectID:       strings.TrimSpace(c.Firebase.ProjectID),
			CredentialsFile: strings.TrimSpace(c.Firebase.CredentialsFile),
		},
		Mongo: docstore.MongoConfig{
			URI:      strings.TrimSpace(c.Mongo.URI),
			Database: strings.TrimSpace(c.Mongo.Database),
			Timeout:  c.Mongo.Timeout,
		},
	}
}
