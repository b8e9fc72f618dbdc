package apify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	errs "socialdash/pkg/errors"
	"socialdash/pkg/models"
)

var validate = validator.New()

// FlexInt decodes counts that arrive as numbers, numeric strings or null
type FlexInt int64

// UnmarshalJSON implements json.Unmarshaler
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = FlexInt(n)
		return nil
	}

	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		*f = 0
		return nil
	}
	*f = FlexInt(n)
	return nil
}

// FlexString decodes text that may arrive as a string, number or boolean.
// Objects, arrays and null decode to "".
type FlexString string

// UnmarshalJSON implements json.Unmarshaler
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*f = ""
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
	case '{', '[':
	default:
		*f = FlexString(data)
	}
	return nil
}

// FlexBool decodes true/false, "true"/"false" and 0/1. Anything else is false.
type FlexBool bool

// UnmarshalJSON implements json.Unmarshaler
func (f *FlexBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.ToLower(string(bytes.TrimSpace(data))), `"`)
	*f = FlexBool(s == "true" || s == "1")
	return nil
}

// FlexStrings decodes a list of tags. Non-array values decode to nil and
// non-string entries are skipped.
type FlexStrings []string

// UnmarshalJSON implements json.Unmarshaler
func (f *FlexStrings) UnmarshalJSON(data []byte) error {
	*f = nil
	var items []json.RawMessage
	if json.Unmarshal(data, &items) != nil {
		return nil
	}
	for _, raw := range items {
		var s string
		if json.Unmarshal(raw, &s) == nil && s != "" {
			*f = append(*f, s)
		}
	}
	return nil
}

// ProfileItem is one "details" record produced by the Instagram scraper actor
type ProfileItem struct {
	ID                   FlexString `json:"id" validate:"required"`
	Username             FlexString `json:"username" validate:"required"`
	FullName             FlexString `json:"fullName"`
	Biography            FlexString `json:"biography"`
	FollowersCount       FlexInt    `json:"followersCount"`
	FollowsCount         FlexInt    `json:"followsCount"`
	PostsCount           FlexInt    `json:"postsCount"`
	IsBusinessAccount    FlexBool   `json:"isBusinessAccount"`
	BusinessCategoryName FlexString `json:"businessCategoryName"`

	ProfilePicURLHD    FlexString `json:"profilePicUrlHD"`
	ProfilePicURL      FlexString `json:"profilePicUrl"`
	ProfilePicURLHDRaw FlexString `json:"profile_pic_url_hd"`
	ProfilePicURLRaw   FlexString `json:"profile_pic_url"`
	ProfilePicture     FlexString `json:"profilePicture"`
	AvatarURL          FlexString `json:"avatarUrl"`

	RawPosts    []json.RawMessage `json:"latestPosts"`
	LatestPosts []PostItem        `json:"-"`
}

// PostItem is one entry of a profile's latestPosts. Every field but id is
// decoded leniently: a mistyped value falls back to its zero value.
type PostItem struct {
	ID                 FlexString  `json:"id" validate:"required"`
	ShortCode          FlexString  `json:"shortCode"`
	Type               FlexString  `json:"type"`
	URL                FlexString  `json:"url"`
	Caption            FlexString  `json:"caption"`
	Timestamp          FlexString  `json:"timestamp"`
	LikesCount         FlexInt     `json:"likesCount"`
	CommentsCount      FlexInt     `json:"commentsCount"`
	VideoViewCount     *FlexInt    `json:"videoViewCount"`
	DisplayURL         FlexString  `json:"displayUrl"`
	Hashtags           FlexStrings `json:"hashtags"`
	Mentions           FlexStrings `json:"mentions"`
	ProductType        FlexString  `json:"productType"`
	IsCommentsDisabled FlexBool    `json:"isCommentsDisabled"`
}

// DecodeProfile decodes and validates a dataset record. Posts that fail
// validation are dropped and reported in the returned warnings.
func DecodeProfile(raw json.RawMessage) (*ProfileItem, []string, error) {
	var item ProfileItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, nil, errs.Wrap(err, errs.ErrorTypeParsing, "invalid profile record: %v", err)
	}
	if err := validate.Struct(&item); err != nil {
		return nil, nil, errs.Wrap(err, errs.ErrorTypeParsing, "invalid profile record: %v", err)
	}

	var warnings []string
	item.LatestPosts = make([]PostItem, 0, len(item.RawPosts))
	for i, rawPost := range item.RawPosts {
		var post PostItem
		if err := json.Unmarshal(rawPost, &post); err != nil {
			warnings = append(warnings, fmt.Sprintf("post %d skipped: %v", i, err))
			continue
		}
		if err := validate.Struct(&post); err != nil {
			warnings = append(warnings, fmt.Sprintf("post %d skipped: missing id", i))
			continue
		}
		item.LatestPosts = append(item.LatestPosts, post)
	}
	item.RawPosts = nil

	return &item, warnings, nil
}

// ProfileImageURL returns the best available profile picture URL, or "" if none
func (p *ProfileItem) ProfileImageURL() string {
	candidates := []FlexString{
		p.ProfilePicURLHD,
		p.ProfilePicURL,
		p.ProfilePicURLHDRaw,
		p.ProfilePicURLRaw,
		p.ProfilePicture,
		p.AvatarURL,
	}
	for _, c := range candidates {
		if u := strings.TrimSpace(string(c)); u != "" {
			return withScheme(u)
		}
	}
	return ""
}

// withScheme completes protocol-relative and bare-host URLs
func withScheme(u string) string {
	switch {
	case strings.HasPrefix(u, "http://"), strings.HasPrefix(u, "https://"):
		return u
	case strings.HasPrefix(u, "//"):
		return "https:" + u
	default:
		return "https://" + u
	}
}

// Profile converts the record into a profile row owned by userID
func (p *ProfileItem) Profile(userID string) models.Profile {
	return models.Profile{
		UserID:            userID,
		ExternalID:        string(p.ID),
		Username:          string(p.Username),
		DisplayName:       string(p.FullName),
		Bio:               string(p.Biography),
		FollowerCount:     int64(p.FollowersCount),
		FollowingCount:    int64(p.FollowsCount),
		PostCount:         int64(p.PostsCount),
		IsBusinessAccount: bool(p.IsBusinessAccount),
		BusinessCategory:  string(p.BusinessCategoryName),
	}
}

// Post converts the record into a post row of profileID. The media reference
// is left to the caller.
func (p *PostItem) Post(profileID string) models.Post {
	kind := string(p.Type)
	if kind == "" {
		kind = models.KindImage
	}

	post := models.Post{
		ProfileID:        profileID,
		ExternalID:       string(p.ID),
		ShortCode:        string(p.ShortCode),
		Kind:             kind,
		Permalink:        string(p.URL),
		Caption:          string(p.Caption),
		LikeCount:        int64(p.LikesCount),
		CommentCount:     int64(p.CommentsCount),
		IsVideo:          kind == models.KindVideo,
		Hashtags:         nonNil(p.Hashtags),
		Mentions:         nonNil(p.Mentions),
		ProductType:      string(p.ProductType),
		CommentsDisabled: bool(p.IsCommentsDisabled),
	}
	if post.Permalink == "" {
		post.Permalink = p.Permalink()
	}
	if p.VideoViewCount != nil {
		n := int64(*p.VideoViewCount)
		post.VideoViewCount = &n
	}
	if ts, ok := parseTimestamp(string(p.Timestamp)); ok {
		post.PublishedAt = &ts
	}
	return post
}

// Permalink builds the public post URL from the short code
func (p *PostItem) Permalink() string {
	if p.ShortCode == "" {
		return ""
	}
	return "https://www.instagram.com/p/" + string(p.ShortCode) + "/"
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z0700", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		// millisecond epochs
		if unix > 1e11 {
			return time.UnixMilli(unix).UTC(), true
		}
		return time.Unix(unix, 0).UTC(), true
	}
	return time.Time{}, false
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
