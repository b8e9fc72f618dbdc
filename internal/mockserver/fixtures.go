package mockserver

import "fmt"

// JPEG is a tiny payload served as image/jpeg
var JPEG = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0xFF, 0xD9}

// ProfileRecord builds a "details" dataset item as the scraper actor emits it
func ProfileRecord(id, username, picURL string, posts ...map[string]interface{}) map[string]interface{} {
	latest := make([]interface{}, 0, len(posts))
	for _, p := range posts {
		latest = append(latest, p)
	}
	return map[string]interface{}{
		"id":                id,
		"username":          username,
		"fullName":          "Full " + username,
		"biography":         "bio of " + username,
		"followersCount":    1200,
		"followsCount":      "345",
		"postsCount":        len(posts),
		"profilePicUrlHD":   picURL,
		"isBusinessAccount": false,
		"latestPosts":       latest,
	}
}

// PostRecord builds one latestPosts entry
func PostRecord(id, displayURL string) map[string]interface{} {
	return map[string]interface{}{
		"id":            id,
		"shortCode":     "SC" + id,
		"type":          "Image",
		"url":           fmt.Sprintf("https://www.instagram.com/p/SC%s/", id),
		"caption":       "caption " + id + " #go",
		"timestamp":     "2024-03-01T10:00:00.000Z",
		"likesCount":    10,
		"commentsCount": 2,
		"displayUrl":    displayURL,
		"hashtags":      []string{"go"},
		"mentions":      []string{},
	}
}
