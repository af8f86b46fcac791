package firebase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/solarops/activity/pkg/logger"
)

// Config identifies the Firebase project backing the document store.
type Config struct {
	ProjectID       string
	CredentialsFile string
}

// NewFirestoreClient initialises the Firebase app and returns its Firestore client.
// When no credentials file is configured, application default credentials are used.
func NewFirestoreClient(ctx context.Context, cfg Config) (*firestore.Client, error) {
	projectID := strings.TrimSpace(cfg.ProjectID)
	if projectID == "" {
		return nil, errors.New("firebase: project id is required")
	}

	var opts []option.ClientOption
	if path := strings.TrimSpace(cfg.CredentialsFile); path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("firebase: credentials file %q: %w", path, err)
		}
		opts = append(opts, option.WithCredentialsFile(path))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase: initialise app: %w", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase: firestore client: %w", err)
	}

	logger.WithModule("firebase").Info("firestore client initialised", zap.String("project", projectID))
	return client, nil
}
