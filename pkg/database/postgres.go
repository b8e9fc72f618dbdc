package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"socialdash/pkg/config"
	errs "socialdash/pkg/errors"
	"socialdash/pkg/logger"
	"socialdash/pkg/models"
)

const defaultMaxConns = 4

// PostgresStore is a Store backed by a pgx connection pool
type PostgresStore struct {
	pool     *pgxpool.Pool
	profiles string
	posts    string
	keys     string
	columns  *columnSet
	now      func() time.Time
	logger   logger.Logger
}

// NewPostgresStore connects to cfg.DSN. SimpleProtocol is required behind
// transaction-mode poolers such as pgbouncer.
func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig, log logger.Logger) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeConfiguration, "invalid database DSN")
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = defaultMaxConns
	}
	poolCfg.MaxConns = cfg.MaxConns
	if cfg.SimpleProtocol {
		poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeNetwork, "failed to connect to database")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errs.Wrap(err, errs.ErrorTypeNetwork, "database ping failed")
	}

	profiles, posts := cfg.ProfilesTable, cfg.PostsTable
	if profiles == "" {
		profiles = DefaultProfilesTable
	}
	if posts == "" {
		posts = DefaultPostsTable
	}

	return &PostgresStore{
		pool:     pool,
		profiles: profiles,
		posts:    posts,
		keys:     APIKeysTable,
		columns:  newColumnSet(),
		now:      time.Now,
		logger:   logger.OrNop(log).WithField("component", "database"),
	}, nil
}

// Close releases the pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pool
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

type profileRow struct {
	ID                     string    `json:"id"`
	UserID                 string    `json:"user_id"`
	InstagramID            string    `json:"instagram_id"`
	Username               string    `json:"username"`
	FullName               string    `json:"full_name"`
	Biography              string    `json:"biography"`
	FollowersCount         int64     `json:"followers_count"`
	FollowsCount           int64     `json:"follows_count"`
	PostsCount             int64     `json:"posts_count"`
	ProfilePicURL          string    `json:"profile_pic_url"`
	ProfilePicFromSupabase bool      `json:"profile_pic_from_supabase"`
	IsBusinessAccount      bool      `json:"is_business_account"`
	BusinessCategoryName   string    `json:"business_category_name"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

func (r profileRow) profile() models.Profile {
	return models.Profile{
		ID:                 r.ID,
		UserID:             r.UserID,
		ExternalID:         r.InstagramID,
		Username:           r.Username,
		DisplayName:        r.FullName,
		Bio:                r.Biography,
		FollowerCount:      r.FollowersCount,
		FollowingCount:     r.FollowsCount,
		PostCount:          r.PostsCount,
		ProfileImageRef:    r.ProfilePicURL,
		ProfileImageStored: r.ProfilePicFromSupabase,
		IsBusinessAccount:  r.IsBusinessAccount,
		BusinessCategory:   r.BusinessCategoryName,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

type postRow struct {
	ID                 string     `json:"id"`
	ProfileID          string     `json:"profile_id"`
	InstagramID        string     `json:"instagram_id"`
	ShortCode          string     `json:"short_code"`
	Type               string     `json:"type"`
	URL                string     `json:"url"`
	Caption            string     `json:"caption"`
	Timestamp          *time.Time `json:"timestamp"`
	LikesCount         int64      `json:"likes_count"`
	CommentsCount      int64      `json:"comments_count"`
	VideoViewCount     *int64     `json:"video_view_count"`
	DisplayURL         string     `json:"display_url"`
	IsVideo            bool       `json:"is_video"`
	Hashtags           string     `json:"hashtags"`
	Mentions           string     `json:"mentions"`
	ProductType        string     `json:"product_type"`
	IsCommentsDisabled bool       `json:"is_comments_disabled"`
	ImageFromSupabase  bool       `json:"image_from_supabase"`
}

func (r postRow) post() models.Post {
	return models.Post{
		ID:               r.ID,
		ProfileID:        r.ProfileID,
		ExternalID:       r.InstagramID,
		ShortCode:        r.ShortCode,
		Kind:             r.Type,
		Permalink:        r.URL,
		Caption:          r.Caption,
		PublishedAt:      r.Timestamp,
		LikeCount:        r.LikesCount,
		CommentCount:     r.CommentsCount,
		VideoViewCount:   r.VideoViewCount,
		MediaRef:         r.DisplayURL,
		IsVideo:          r.IsVideo,
		Hashtags:         decodeList(r.Hashtags),
		Mentions:         decodeList(r.Mentions),
		ProductType:      r.ProductType,
		CommentsDisabled: r.IsCommentsDisabled,
		MediaStored:      r.ImageFromSupabase,
	}
}

func encodeList(values []string) interface{} {
	if values == nil {
		return nil
	}
	data, _ := json.Marshal(values)
	return string(data)
}

func decodeList(raw string) []string {
	out := []string{}
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return []string{}
	}
	return out
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func profileColumns(p *models.Profile) []column {
	return []column{
		{"user_id", p.UserID},
		{"instagram_id", p.ExternalID},
		{"username", p.Username},
		{"full_name", p.DisplayName},
		{"biography", p.Bio},
		{"followers_count", p.FollowerCount},
		{"follows_count", p.FollowingCount},
		{"posts_count", p.PostCount},
		{"profile_pic_url", p.ProfileImageRef},
		{"profile_pic_from_supabase", p.ProfileImageStored},
		{"is_business_account", p.IsBusinessAccount},
		{"business_category_name", nullable(p.BusinessCategory)},
		{"updated_at", p.UpdatedAt},
	}
}

func postColumns(p *models.Post) []column {
	return []column{
		{"id", p.ID},
		{"profile_id", p.ProfileID},
		{"instagram_id", p.ExternalID},
		{"short_code", p.ShortCode},
		{"type", p.Kind},
		{"url", p.Permalink},
		{"caption", p.Caption},
		{"timestamp", p.PublishedAt},
		{"likes_count", p.LikeCount},
		{"comments_count", p.CommentCount},
		{"video_view_count", p.VideoViewCount},
		{"display_url", p.MediaRef},
		{"is_video", p.IsVideo},
		{"hashtags", encodeList(p.Hashtags)},
		{"mentions", encodeList(p.Mentions)},
		{"product_type", nullable(p.ProductType)},
		{"is_comments_disabled", p.CommentsDisabled},
		{"image_from_supabase", p.MediaStored},
	}
}

func insertStatement(table string, cols []column) (string, []interface{}) {
	names := make([]string, len(cols))
	marks := make([]string, len(cols))
	args := make([]interface{}, len(cols))
	for i, c := range cols {
		names[i] = ident(c.name)
		marks[i] = fmt.Sprintf("$%d", i+1)
		args[i] = c.value
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", ident(table), strings.Join(names, ", "), strings.Join(marks, ", ")), args
}

func (s *PostgresStore) logDropped(table, col string) {
	if col == "" {
		return
	}
	s.logger.WarnWithFields("Column missing from table, retried without it", map[string]interface{}{
		"table":  table,
		"column": col,
	})
}

func (s *PostgresStore) queryProfile(ctx context.Context, where string, args ...interface{}) (*models.Profile, error) {
	sql := fmt.Sprintf("SELECT to_jsonb(t) FROM %s t WHERE %s LIMIT 1", ident(s.profiles), where)

	var raw []byte
	err := s.pool.QueryRow(ctx, sql, args...).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeUnknown, "profile query failed: %v", err)
	}

	var row profileRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeParsing, "invalid profile row")
	}
	p := row.profile()
	return &p, nil
}

// FindProfile implements Store
func (s *PostgresStore) FindProfile(ctx context.Context, userID, externalID string) (*models.Profile, error) {
	return s.queryProfile(ctx, "user_id = $1 AND instagram_id = $2", userID, externalID)
}

// GetProfile implements Store
func (s *PostgresStore) GetProfile(ctx context.Context, userID, id string) (*models.Profile, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errs.New(errs.ErrorTypeNotFound, 0, "profile %s not found", id)
	}
	p, err := s.queryProfile(ctx, "user_id = $1 AND id = $2", userID, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errs.New(errs.ErrorTypeNotFound, 0, "profile %s not found", id)
	}
	return p, nil
}

// InsertProfile implements Store
func (s *PostgresStore) InsertProfile(ctx context.Context, p *models.Profile) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := s.now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	cols := append([]column{{"id", p.ID}, {"created_at", p.CreatedAt}}, profileColumns(p)...)
	dropped, err := s.columns.write(s.profiles, cols, func(cols []column) error {
		sql, args := insertStatement(s.profiles, cols)
		_, err := s.pool.Exec(ctx, sql, args...)
		return err
	})
	s.logDropped(s.profiles, dropped)
	if err != nil {
		return s.writeError(err, "profile insert failed")
	}
	return nil
}

// UpdateProfile implements Store
func (s *PostgresStore) UpdateProfile(ctx context.Context, p *models.Profile) error {
	p.UpdatedAt = s.now().UTC()

	dropped, err := s.columns.write(s.profiles, profileColumns(p), func(cols []column) error {
		sets := make([]string, len(cols))
		args := make([]interface{}, 0, len(cols)+1)
		for i, c := range cols {
			sets[i] = fmt.Sprintf("%s = $%d", ident(c.name), i+1)
			args = append(args, c.value)
		}
		args = append(args, p.ID)
		sql := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d", ident(s.profiles), strings.Join(sets, ", "), len(args))
		tag, err := s.pool.Exec(ctx, sql, args...)
		if err == nil && tag.RowsAffected() == 0 {
			return errs.New(errs.ErrorTypeNotFound, 0, "profile %s not found", p.ID)
		}
		return err
	})
	s.logDropped(s.profiles, dropped)
	if err != nil {
		return s.writeError(err, "profile update failed")
	}
	return nil
}

// ListProfiles implements Store
func (s *PostgresStore) ListProfiles(ctx context.Context, userID string) ([]models.Profile, error) {
	sql := fmt.Sprintf("SELECT to_jsonb(t) FROM %s t WHERE user_id = $1 ORDER BY updated_at DESC", ident(s.profiles))
	rows, err := s.pool.Query(ctx, sql, userID)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeUnknown, "profile list failed: %v", err)
	}

	out := []models.Profile{}
	raws, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeUnknown, "profile list failed: %v", err)
	}
	for _, raw := range raws {
		var row profileRow
		if err := json.Unmarshal(raw, &row); err != nil {
			return nil, errs.Wrap(err, errs.ErrorTypeParsing, "invalid profile row")
		}
		out = append(out, row.profile())
	}
	return out, nil
}

// DeleteProfile implements Store
func (s *PostgresStore) DeleteProfile(ctx context.Context, userID, id string) error {
	if _, err := s.GetProfile(ctx, userID, id); err != nil {
		return err
	}
	if err := s.DeletePosts(ctx, id); err != nil {
		return err
	}
	sql := fmt.Sprintf("DELETE FROM %s WHERE user_id = $1 AND id = $2", ident(s.profiles))
	if _, err := s.pool.Exec(ctx, sql, userID, id); err != nil {
		return errs.Wrap(err, errs.ErrorTypeUnknown, "profile delete failed: %v", err)
	}
	return nil
}

// DeletePosts implements Store
func (s *PostgresStore) DeletePosts(ctx context.Context, profileID string) error {
	sql := fmt.Sprintf("DELETE FROM %s WHERE profile_id = $1", ident(s.posts))
	if _, err := s.pool.Exec(ctx, sql, profileID); err != nil {
		return errs.Wrap(err, errs.ErrorTypeUnknown, "post delete failed: %v", err)
	}
	return nil
}

// InsertPosts implements Store. All posts are written in one transaction.
func (s *PostgresStore) InsertPosts(ctx context.Context, posts []models.Post) error {
	if len(posts) == 0 {
		return nil
	}
	for i := range posts {
		if posts[i].ID == "" {
			posts[i].ID = uuid.NewString()
		}
	}

	dropped, err := s.columns.write(s.posts, postColumns(&posts[0]), func([]column) error {
		return s.insertPostBatch(ctx, posts)
	})
	s.logDropped(s.posts, dropped)
	if err != nil {
		return s.writeError(err, "post insert failed")
	}
	return nil
}

func (s *PostgresStore) insertPostBatch(ctx context.Context, posts []models.Post) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	b := &pgx.Batch{}
	for i := range posts {
		sql, args := insertStatement(s.posts, s.columns.filter(s.posts, postColumns(&posts[i])))
		b.Queue(sql, args...)
	}

	br := tx.SendBatch(ctx, b)
	for range posts {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	if err := br.Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListPosts implements Store, newest first
func (s *PostgresStore) ListPosts(ctx context.Context, profileID string) ([]models.Post, error) {
	sql := fmt.Sprintf(`SELECT to_jsonb(t) FROM %s t WHERE profile_id = $1 ORDER BY "timestamp" DESC NULLS LAST`, ident(s.posts))
	rows, err := s.pool.Query(ctx, sql, profileID)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeUnknown, "post list failed: %v", err)
	}
	raws, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeUnknown, "post list failed: %v", err)
	}

	out := make([]models.Post, 0, len(raws))
	for _, raw := range raws {
		var row postRow
		if err := json.Unmarshal(raw, &row); err != nil {
			return nil, errs.Wrap(err, errs.ErrorTypeParsing, "invalid post row")
		}
		out = append(out, row.post())
	}
	return out, nil
}

// ActiveAPIKey implements Store
func (s *PostgresStore) ActiveAPIKey(ctx context.Context) (string, error) {
	sql := fmt.Sprintf("SELECT api_key FROM %s WHERE is_active ORDER BY created_at DESC LIMIT 1", ident(s.keys))

	var key string
	err := s.pool.QueryRow(ctx, sql).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", errs.New(errs.ErrorTypeNotFound, 0, "no active Apify API key found")
	}
	if err != nil {
		return "", errs.Wrap(err, errs.ErrorTypeUnknown, "api key query failed: %v", err)
	}
	return key, nil
}

// SetActiveAPIKey stores key as the only active Apify token
func (s *PostgresStore) SetActiveAPIKey(ctx context.Context, key string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, fmt.Sprintf("UPDATE %s SET is_active = false WHERE is_active", ident(s.keys))); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, fmt.Sprintf("INSERT INTO %s (id, api_key, is_active) VALUES ($1, $2, true)", ident(s.keys)), uuid.NewString(), key)
		return err
	})
}

func (s *PostgresStore) writeError(err error, msg string) error {
	if errs.TypeOf(err) != errs.ErrorTypeUnknown {
		return err
	}
	if IsSchemaMismatch(err) {
		return errs.Wrap(err, errs.ErrorTypeSchemaMismatch, "%s: %v", msg, err)
	}
	return errs.Wrap(err, errs.ErrorTypeUnknown, "%s: %v", msg, err)
}
