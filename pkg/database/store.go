package database

import (
	"context"

	"socialdash/pkg/config"
	"socialdash/pkg/logger"
	"socialdash/pkg/models"
)

const (
	DefaultProfilesTable = "instagram_profiles"
	DefaultPostsTable    = "instagram_posts"
	APIKeysTable         = "apify_keys"
)

// Store persists profiles and their posts. Profiles are scoped to the
// dashboard user that ingested them.
type Store interface {
	// FindProfile returns the profile for (userID, externalID), or nil when
	// there is none
	FindProfile(ctx context.Context, userID, externalID string) (*models.Profile, error)
	// InsertProfile stores a new profile, assigning ID and timestamps
	InsertProfile(ctx context.Context, p *models.Profile) error
	// UpdateProfile overwrites the stored fields of an existing profile
	UpdateProfile(ctx context.Context, p *models.Profile) error
	GetProfile(ctx context.Context, userID, id string) (*models.Profile, error)
	ListProfiles(ctx context.Context, userID string) ([]models.Profile, error)
	DeleteProfile(ctx context.Context, userID, id string) error

	DeletePosts(ctx context.Context, profileID string) error
	InsertPosts(ctx context.Context, posts []models.Post) error
	ListPosts(ctx context.Context, profileID string) ([]models.Post, error)

	// ActiveAPIKey returns the active Apify token stored in the database
	ActiveAPIKey(ctx context.Context) (string, error)

	Close()
}

// Open returns a PostgresStore for cfg.DSN, or a MemoryStore when no DSN is set
func Open(ctx context.Context, cfg config.DatabaseConfig, log logger.Logger) (Store, error) {
	if cfg.DSN == "" {
		logger.OrNop(log).Warn("No database DSN configured, using in-memory store")
		return NewMemoryStore(), nil
	}
	return NewPostgresStore(ctx, cfg, log)
}
