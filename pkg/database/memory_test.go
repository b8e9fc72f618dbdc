package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "socialdash/pkg/errors"
	"socialdash/pkg/models"
)

func at(s string) *time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return &t
}

func TestMemoryStoreProfiles(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	found, err := store.FindProfile(ctx, "u1", "ig-1")
	require.NoError(t, err)
	assert.Nil(t, found)

	p := &models.Profile{UserID: "u1", ExternalID: "ig-1", Username: "alice"}
	require.NoError(t, store.InsertProfile(ctx, p))
	assert.NotEmpty(t, p.ID)
	assert.False(t, p.CreatedAt.IsZero())

	assert.Error(t, store.InsertProfile(ctx, &models.Profile{UserID: "u1", ExternalID: "ig-1"}))

	// another user may store the same Instagram profile
	require.NoError(t, store.InsertProfile(ctx, &models.Profile{UserID: "u2", ExternalID: "ig-1", Username: "alice"}))

	found, err = store.FindProfile(ctx, "u1", "ig-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, p.ID, found.ID)

	found.FollowerCount = 99
	require.NoError(t, store.UpdateProfile(ctx, found))
	got, err := store.GetProfile(ctx, "u1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(99), got.FollowerCount)
	assert.Equal(t, p.CreatedAt, got.CreatedAt)

	_, err = store.GetProfile(ctx, "u2", p.ID)
	assert.True(t, errs.Is(err, errs.ErrorTypeNotFound))

	list, err := store.ListProfiles(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	assert.True(t, errs.Is(store.UpdateProfile(ctx, &models.Profile{ID: "missing"}), errs.ErrorTypeNotFound))
}

func TestMemoryStorePosts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	p := &models.Profile{UserID: "u1", ExternalID: "ig-1"}
	require.NoError(t, store.InsertProfile(ctx, p))

	require.NoError(t, store.InsertPosts(ctx, []models.Post{
		{ProfileID: p.ID, ExternalID: "a", PublishedAt: at("2024-01-01T00:00:00Z")},
		{ProfileID: p.ID, ExternalID: "b"},
		{ProfileID: p.ID, ExternalID: "c", PublishedAt: at("2024-02-01T00:00:00Z")},
	}))

	posts, err := store.ListPosts(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, posts, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{posts[0].ExternalID, posts[1].ExternalID, posts[2].ExternalID})
	for _, post := range posts {
		assert.NotEmpty(t, post.ID)
	}

	require.NoError(t, store.DeletePosts(ctx, p.ID))
	posts, err = store.ListPosts(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, posts)

	err = store.InsertPosts(ctx, []models.Post{{ProfileID: "nope"}})
	assert.True(t, errs.Is(err, errs.ErrorTypeNotFound))
}

func TestMemoryStoreDeleteProfile(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	p := &models.Profile{UserID: "u1", ExternalID: "ig-1"}
	require.NoError(t, store.InsertProfile(ctx, p))
	require.NoError(t, store.InsertPosts(ctx, []models.Post{{ProfileID: p.ID, ExternalID: "a"}}))

	assert.True(t, errs.Is(store.DeleteProfile(ctx, "u2", p.ID), errs.ErrorTypeNotFound))
	require.NoError(t, store.DeleteProfile(ctx, "u1", p.ID))

	profiles, posts := store.Counts()
	assert.Equal(t, 0, profiles)
	assert.Equal(t, 0, posts)
}

func TestMemoryStoreAPIKey(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.ActiveAPIKey(ctx)
	assert.True(t, errs.Is(err, errs.ErrorTypeNotFound))

	require.NoError(t, store.SetActiveAPIKey(ctx, "apify_api_x"))
	key, err := store.ActiveAPIKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "apify_api_x", key)
}
