package acquire

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxNameLength = 64

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".gif":  true,
	".heic": true,
}

// ObjectKey builds the storage key <hint>/<name>_<unixmillis>_<id><ext> for
// an image fetched from sourceURL
func ObjectKey(hint, sourceURL string, now time.Time) string {
	hint = strings.Trim(hint, "/")
	if hint == "" {
		hint = "images"
	}

	base := ""
	if u, err := url.Parse(sourceURL); err == nil {
		base = path.Base(u.Path)
	}
	if base == "." || base == "/" {
		base = ""
	}

	ext := strings.ToLower(path.Ext(base))
	name := strings.TrimSuffix(base, path.Ext(base))
	if !imageExtensions[ext] {
		ext = ".jpg"
	}

	name = strings.Trim(unsafeNameChars.ReplaceAllString(name, "_"), "_")
	if len(name) > maxNameLength {
		name = name[:maxNameLength]
	}
	if name == "" {
		name = "image"
	}

	return fmt.Sprintf("%s/%s_%d_%s%s", hint, name, now.UnixMilli(), uuid.New().String()[:8], ext)
}
