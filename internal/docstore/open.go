package docstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/solarops/activity/pkg/firebase"
)

// Config selects and configures a backend.
type Config struct {
	Driver       string
	PollInterval time.Duration
	Firebase     firebase.Config
	Mongo        MongoConfig
}

// Open builds the configured backend. db is required by the gorm driver only.
func Open(ctx context.Context, cfg Config, db *gorm.DB) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "gorm", "sql":
		store, err := NewGormStore(db, cfg.PollInterval)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "memory":
		return NewMemoryStore(), nil
	case "firestore", "firebase":
		client, err := firebase.NewFirestoreClient(ctx, cfg.Firebase)
		if err != nil {
			return nil, err
		}
		store, err := NewFirestoreStore(client)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "mongo", "mongodb":
		store, err := NewMongoStore(ctx, cfg.Mongo)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("docstore: unsupported driver %q", cfg.Driver)
	}
}
