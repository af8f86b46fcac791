package feed

import (
	"fmt"
	"strings"
	"time"

	"github.com/solarops/activity/internal/hidden"
	apperrors "github.com/solarops/activity/pkg/errors"
	"github.com/solarops/activity/pkg/validator"
)

// Identity is the {user, role, tenant} triple a session runs as. Any change to it requires a
// new session.
type Identity struct {
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	TenantID string `json:"tenant_id"`
}

// Validate ensures all three parts are present and usable as storage key segments.
func (id Identity) Validate() error {
	if strings.TrimSpace(id.UserID) == "" || strings.TrimSpace(id.Role) == "" || strings.TrimSpace(id.TenantID) == "" {
		return apperrors.ErrIdentityIncomplete
	}
	for field, value := range map[string]string{"user": id.UserID, "role": id.Role, "tenant": id.TenantID} {
		if !validator.IsKeySegment(value) {
			return apperrors.ErrIdentityMalformed.WithInternal(fmt.Errorf("%s %q", field, value))
		}
	}
	return nil
}

// Item is a source record projected into the uniform feed shape.
type Item struct {
	ID               string    `json:"id"`
	Category         Category  `json:"category"`
	Title            string    `json:"title"`
	Message          string    `json:"message"`
	Timestamp        time.Time `json:"timestamp"`
	TargetLink       string    `json:"target_link"`
	SourceCollection string    `json:"source_collection"`
}

// Ref is the item's identity within the hidden set.
func (i Item) Ref() hidden.Ref {
	return hidden.Ref{Category: string(i.Category), ID: i.ID}
}

// newer orders items by timestamp descending, then category, then id.
func newer(a, b Item) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	if a.Category != b.Category {
		return a.Category < b.Category
	}
	return a.ID < b.ID
}
