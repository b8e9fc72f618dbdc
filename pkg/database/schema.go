package database

import (
	"context"
	"fmt"

	errs "socialdash/pkg/errors"
)

// EnsureSchema creates the tables if they are missing and adds optional
// columns that older deployments lack
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	profiles, posts, keys := ident(s.profiles), ident(s.posts), ident(s.keys)

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id uuid PRIMARY KEY,
			user_id text NOT NULL,
			instagram_id text NOT NULL,
			username text NOT NULL,
			full_name text NOT NULL DEFAULT '',
			biography text NOT NULL DEFAULT '',
			followers_count bigint NOT NULL DEFAULT 0,
			follows_count bigint NOT NULL DEFAULT 0,
			posts_count bigint NOT NULL DEFAULT 0,
			profile_pic_url text NOT NULL DEFAULT '',
			is_business_account boolean NOT NULL DEFAULT false,
			created_at timestamptz NOT NULL DEFAULT now(),
			updated_at timestamptz NOT NULL DEFAULT now(),
			UNIQUE (user_id, instagram_id)
		)`, profiles),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id uuid PRIMARY KEY,
			profile_id uuid NOT NULL REFERENCES %s (id) ON DELETE CASCADE,
			instagram_id text NOT NULL,
			short_code text NOT NULL DEFAULT '',
			type text NOT NULL DEFAULT 'Image',
			url text NOT NULL DEFAULT '',
			caption text NOT NULL DEFAULT '',
			"timestamp" timestamptz,
			likes_count bigint NOT NULL DEFAULT 0,
			comments_count bigint NOT NULL DEFAULT 0,
			video_view_count bigint,
			display_url text NOT NULL DEFAULT '',
			is_video boolean NOT NULL DEFAULT false,
			hashtags text,
			mentions text,
			created_at timestamptz NOT NULL DEFAULT now()
		)`, posts, profiles),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (profile_id)`, ident(s.posts+"_profile_id_idx"), posts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id uuid PRIMARY KEY,
			api_key text NOT NULL,
			is_active boolean NOT NULL DEFAULT false,
			created_at timestamptz NOT NULL DEFAULT now()
		)`, keys),
		fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS profile_pic_from_supabase boolean NOT NULL DEFAULT false`, profiles),
		fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS business_category_name text`, profiles),
		fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS image_from_supabase boolean NOT NULL DEFAULT false`, posts),
		fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS product_type text`, posts),
		fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS is_comments_disabled boolean NOT NULL DEFAULT false`, posts),
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return errs.Wrap(err, errs.ErrorTypeUnknown, "schema migration failed: %v", err)
		}
	}

	s.columns.reset()
	s.logger.Info("Database schema ready")
	return nil
}
