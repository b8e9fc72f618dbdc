package apify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "socialdash/pkg/errors"
	"socialdash/pkg/models"
)

func TestDecodeProfile(t *testing.T) {
	raw := json.RawMessage(`{
		"id": 17841400000,
		"username": "alice",
		"fullName": "Alice A",
		"followersCount": "1,234",
		"followsCount": null,
		"postsCount": 2,
		"profilePicUrl": "//cdn.example/alice.jpg",
		"isBusinessAccount": true,
		"businessCategoryName": "Artist",
		"latestPosts": [
			{"id": "p1", "shortCode": "AAA", "type": "Video", "videoViewCount": 99,
			 "timestamp": "2024-03-01T10:00:00.000Z", "displayUrl": "https://cdn.example/1.jpg",
			 "hashtags": ["x"], "likesCount": 5},
			{"shortCode": "BBB"},
			{"id": "p3", "type": "", "commentsCount": "7"}
		]
	}`)

	item, warnings, err := DecodeProfile(raw)
	require.NoError(t, err)

	assert.Equal(t, FlexString("17841400000"), item.ID)
	assert.Equal(t, FlexInt(1234), item.FollowersCount)
	assert.Equal(t, FlexInt(0), item.FollowsCount)
	assert.Equal(t, "https://cdn.example/alice.jpg", item.ProfileImageURL())

	require.Len(t, item.LatestPosts, 2)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "post 1")

	profile := item.Profile("user-1")
	assert.Equal(t, "user-1", profile.UserID)
	assert.Equal(t, "17841400000", profile.ExternalID)
	assert.Equal(t, int64(1234), profile.FollowerCount)
	assert.True(t, profile.IsBusinessAccount)
	assert.Equal(t, "Artist", profile.BusinessCategory)

	video := item.LatestPosts[0].Post("prof-1")
	assert.Equal(t, models.KindVideo, video.Kind)
	assert.True(t, video.IsVideo)
	require.NotNil(t, video.VideoViewCount)
	assert.Equal(t, int64(99), *video.VideoViewCount)
	require.NotNil(t, video.PublishedAt)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), *video.PublishedAt)
	assert.Equal(t, "https://www.instagram.com/p/AAA/", video.Permalink)
	assert.Equal(t, []string{}, video.Mentions)

	plain := item.LatestPosts[1].Post("prof-1")
	assert.Equal(t, models.KindImage, plain.Kind)
	assert.False(t, plain.IsVideo)
	assert.Nil(t, plain.VideoViewCount)
	assert.Nil(t, plain.PublishedAt)
	assert.Equal(t, int64(7), plain.CommentCount)
}

func TestDecodeProfileToleratesMistypedPostFields(t *testing.T) {
	raw := json.RawMessage(`{
		"id": "1",
		"username": "alice",
		"isBusinessAccount": "true",
		"latestPosts": [
			{"id": "p1", "timestamp": "2024-03-01T10:00:00Z", "caption": "hello"},
			{"id": "p2", "timestamp": 1709287200, "caption": 42, "shortCode": 123},
			{"id": "p3", "timestamp": 1709287200000, "type": {"name": "Video"}, "url": null,
			 "hashtags": "go", "mentions": ["bob", 7], "isCommentsDisabled": 1,
			 "likesCount": {"count": 3}, "displayUrl": ["https://cdn.example/3.jpg"]}
		]
	}`)

	item, warnings, err := DecodeProfile(raw)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, item.LatestPosts, 3)
	assert.True(t, item.Profile("user-1").IsBusinessAccount)

	want := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for _, p := range item.LatestPosts {
		post := p.Post("prof-1")
		require.NotNil(t, post.PublishedAt, post.ExternalID)
		assert.Equal(t, want, *post.PublishedAt, post.ExternalID)
	}

	numeric := item.LatestPosts[1].Post("prof-1")
	assert.Equal(t, "42", numeric.Caption)
	assert.Equal(t, "123", numeric.ShortCode)
	assert.Equal(t, "https://www.instagram.com/p/123/", numeric.Permalink)

	odd := item.LatestPosts[2].Post("prof-1")
	assert.Equal(t, models.KindImage, odd.Kind)
	assert.Equal(t, []string{}, odd.Hashtags)
	assert.Equal(t, []string{"bob"}, odd.Mentions)
	assert.True(t, odd.CommentsDisabled)
	assert.Equal(t, int64(0), odd.LikeCount)
	assert.Equal(t, "", string(item.LatestPosts[2].DisplayURL))
}

func TestDecodeProfileRequiresIdentity(t *testing.T) {
	for name, raw := range map[string]string{
		"missing id":       `{"username":"alice"}`,
		"missing username": `{"id":"1"}`,
		"not an object":    `[1,2,3]`,
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := DecodeProfile(json.RawMessage(raw))
			require.Error(t, err)
			assert.Equal(t, errs.ErrorTypeParsing, errs.TypeOf(err))
		})
	}
}

func TestProfileImageURLPriority(t *testing.T) {
	tests := []struct {
		name string
		item ProfileItem
		want string
	}{
		{"hd wins", ProfileItem{ProfilePicURLHD: "https://a/hd.jpg", ProfilePicURL: "https://a/sd.jpg"}, "https://a/hd.jpg"},
		{"snake case", ProfileItem{ProfilePicURLHDRaw: "https://a/raw.jpg", AvatarURL: "https://a/av.jpg"}, "https://a/raw.jpg"},
		{"avatar last", ProfileItem{AvatarURL: "cdn.example/av.jpg"}, "https://cdn.example/av.jpg"},
		{"http kept", ProfileItem{ProfilePicture: "http://a/p.jpg"}, "http://a/p.jpg"},
		{"none", ProfileItem{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.item.ProfileImageURL())
		})
	}
}

func TestUnknownKindKeptVerbatim(t *testing.T) {
	p := PostItem{ID: "1", Type: "Reel"}
	post := p.Post("prof")
	assert.Equal(t, "Reel", post.Kind)
	assert.False(t, post.IsVideo)
}
