//go:build integration

package database

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"socialdash/pkg/config"
	errs "socialdash/pkg/errors"
	"socialdash/pkg/models"
)

var testStore *PostgresStore

func TestMain(m *testing.M) {
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "socialdash",
				"POSTGRES_PASSWORD": "socialdash",
				"POSTGRES_DB":       "socialdash",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start Postgres container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	testStore, err = NewPostgresStore(ctx, config.DatabaseConfig{
		DSN: fmt.Sprintf("postgres://socialdash:socialdash@%s:%s/socialdash?sslmode=disable", host, port.Port()),
	}, nil)
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := testStore.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	code := m.Run()

	testStore.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func TestPostgresProfileLifecycle(t *testing.T) {
	ctx := context.Background()

	p := &models.Profile{UserID: "u-life", ExternalID: "ig-42", Username: "alice", FollowerCount: 10, BusinessCategory: "Art"}
	require.NoError(t, testStore.InsertProfile(ctx, p))

	found, err := testStore.FindProfile(ctx, "u-life", "ig-42")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, p.ID, found.ID)
	assert.Equal(t, "Art", found.BusinessCategory)

	found.FollowerCount = 20
	found.ProfileImageStored = true
	require.NoError(t, testStore.UpdateProfile(ctx, found))

	got, err := testStore.GetProfile(ctx, "u-life", p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), got.FollowerCount)
	assert.True(t, got.ProfileImageStored)

	views := int64(7)
	require.NoError(t, testStore.InsertPosts(ctx, []models.Post{
		{ProfileID: p.ID, ExternalID: "p1", Kind: models.KindVideo, IsVideo: true, VideoViewCount: &views, Hashtags: []string{"go"}, Mentions: []string{}},
		{ProfileID: p.ID, ExternalID: "p2", Kind: models.KindImage, PublishedAt: ptrTime(time.Now())},
	}))

	posts, err := testStore.ListPosts(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "p2", posts[0].ExternalID)
	assert.Equal(t, []string{"go"}, posts[1].Hashtags)
	require.NotNil(t, posts[1].VideoViewCount)
	assert.Equal(t, int64(7), *posts[1].VideoViewCount)

	require.NoError(t, testStore.DeleteProfile(ctx, "u-life", p.ID))
	_, err = testStore.GetProfile(ctx, "u-life", p.ID)
	assert.True(t, errs.Is(err, errs.ErrorTypeNotFound))
}

func TestPostgresSchemaMismatchFallback(t *testing.T) {
	ctx := context.Background()
	_, err := testStore.pool.Exec(ctx, `ALTER TABLE instagram_posts DROP COLUMN IF EXISTS image_from_supabase`)
	require.NoError(t, err)
	defer func() { require.NoError(t, testStore.EnsureSchema(ctx)) }()

	p := &models.Profile{UserID: "u-schema", ExternalID: "ig-7", Username: "bob"}
	require.NoError(t, testStore.InsertProfile(ctx, p))
	require.NoError(t, testStore.InsertPosts(ctx, []models.Post{{ProfileID: p.ID, ExternalID: "x", MediaStored: true}}))

	posts, err := testStore.ListPosts(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.False(t, posts[0].MediaStored)
}

func TestPostgresActiveAPIKey(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testStore.SetActiveAPIKey(ctx, "key-1"))
	require.NoError(t, testStore.SetActiveAPIKey(ctx, "key-2"))

	key, err := testStore.ActiveAPIKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "key-2", key)
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
