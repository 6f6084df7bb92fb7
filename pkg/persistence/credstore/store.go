package credstore

import (
	"context"
	"time"
)

// DefaultProfile is used when the caller does not name one.
const DefaultProfile = "default"

// Credential is the bearer token saved for one profile.
type Credential struct {
	Profile   string
	Token     string
	UpdatedAt time.Time
}

// Store persists bearer tokens across console runs.
type Store interface {
	Save(ctx context.Context, profile string, token string) error
	// Load reports false when nothing is stored for profile.
	Load(ctx context.Context, profile string) (Credential, bool, error)
	Delete(ctx context.Context, profile string) error
	Close() error
}
