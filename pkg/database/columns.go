package database

import (
	"errors"
	"regexp"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
)

const undefinedColumn = "42703"

// optionalColumns may be missing from older deployments. Writes drop them
// and retry when the database rejects them.
var optionalColumns = map[string]bool{
	"profile_pic_from_supabase": true,
	"business_category_name":    true,
	"image_from_supabase":       true,
	"product_type":              true,
	"is_comments_disabled":      true,
}

var missingColumnPatterns = []*regexp.Regexp{
	regexp.MustCompile(`column "([^"]+)"(?: of relation "[^"]+")? does not exist`),
	regexp.MustCompile(`[Cc]ould not find the '([^']+)' column`),
	regexp.MustCompile(`column ([A-Za-z0-9_.]+) does not exist`),
}

// IsSchemaMismatch reports whether err says a column does not exist
func IsSchemaMismatch(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == undefinedColumn {
		return true
	}
	return MissingColumn(err) != ""
}

// MissingColumn extracts the offending column name from a schema mismatch
func MissingColumn(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		msg = pgErr.Message
	}
	for _, re := range missingColumnPatterns {
		if m := re.FindStringSubmatch(msg); m != nil {
			name := m[1]
			if i := strings.LastIndex(name, "."); i >= 0 {
				name = name[i+1:]
			}
			return name
		}
	}
	return ""
}

type column struct {
	name  string
	value interface{}
}

// columnSet remembers optional columns found missing per table
type columnSet struct {
	mu      sync.RWMutex
	missing map[string]map[string]bool
}

func newColumnSet() *columnSet {
	return &columnSet{missing: make(map[string]map[string]bool)}
}

func (s *columnSet) filter(table string, cols []column) []column {
	s.mu.RLock()
	defer s.mu.RUnlock()

	gone := s.missing[table]
	if len(gone) == 0 {
		return cols
	}
	out := make([]column, 0, len(cols))
	for _, c := range cols {
		if !gone[c.name] {
			out = append(out, c)
		}
	}
	return out
}

func (s *columnSet) markMissing(table, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.missing[table] == nil {
		s.missing[table] = make(map[string]bool)
	}
	s.missing[table][name] = true
}

// write runs fn with the usable columns of table. On a schema mismatch naming
// an optional column, that column is dropped and fn runs exactly once more.
// The second outcome is final. It returns the dropped column, if any.
func (s *columnSet) write(table string, cols []column, fn func([]column) error) (string, error) {
	err := fn(s.filter(table, cols))
	if err == nil || !IsSchemaMismatch(err) {
		return "", err
	}

	name := MissingColumn(err)
	if !optionalColumns[name] {
		return "", err
	}
	s.markMissing(table, name)
	return name, fn(s.filter(table, cols))
}

func (s *columnSet) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.missing = make(map[string]map[string]bool)
}
