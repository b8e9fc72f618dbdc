package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMissingColumn(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&pgconn.PgError{Code: "42703", Message: `column "image_from_supabase" of relation "instagram_posts" does not exist`}, "image_from_supabase"},
		{errors.New(`ERROR: column "product_type" does not exist (SQLSTATE 42703)`), "product_type"},
		{errors.New(`Could not find the 'profile_pic_from_supabase' column of 'instagram_profiles' in the schema cache`), "profile_pic_from_supabase"},
		{errors.New(`column t.business_category_name does not exist`), "business_category_name"},
		{errors.New("connection refused"), ""},
		{nil, ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MissingColumn(tt.err), "%v", tt.err)
		assert.Equal(t, tt.want != "", IsSchemaMismatch(tt.err), "%v", tt.err)
	}

	assert.True(t, IsSchemaMismatch(&pgconn.PgError{Code: "42703", Message: "something else"}))
}

func TestColumnSetWriteRetriesOnceWithoutOptionalColumn(t *testing.T) {
	set := newColumnSet()
	cols := []column{{"id", 1}, {"image_from_supabase", true}, {"caption", "x"}}

	var attempts [][]string
	dropped, err := set.write("posts", cols, func(cols []column) error {
		names := make([]string, len(cols))
		for i, c := range cols {
			names[i] = c.name
		}
		attempts = append(attempts, names)
		for _, c := range cols {
			if c.name == "image_from_supabase" {
				return fmt.Errorf(`column "image_from_supabase" of relation "posts" does not exist`)
			}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, "image_from_supabase", dropped)
	assert.Equal(t, [][]string{
		{"id", "image_from_supabase", "caption"},
		{"id", "caption"},
	}, attempts)

	// remembered for later writes
	assert.Len(t, set.filter("posts", cols), 2)
	assert.Len(t, set.filter("profiles", cols), 3)
}

func TestColumnSetWriteRetriesExactlyOnce(t *testing.T) {
	set := newColumnSet()
	cols := []column{{"product_type", "x"}, {"is_comments_disabled", false}}

	calls := 0
	_, err := set.write("posts", cols, func(cols []column) error {
		calls++
		return fmt.Errorf(`column "%s" does not exist`, cols[0].name)
	})

	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestColumnSetWriteRequiredColumn(t *testing.T) {
	set := newColumnSet()
	calls := 0
	_, err := set.write("posts", []column{{"caption", "x"}}, func([]column) error {
		calls++
		return errors.New(`column "caption" does not exist`)
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestListEncoding(t *testing.T) {
	assert.Nil(t, encodeList(nil))
	assert.Equal(t, `["a","b"]`, encodeList([]string{"a", "b"}))
	assert.Equal(t, []string{"a", "b"}, decodeList(`["a","b"]`))
	assert.Equal(t, []string{}, decodeList(""))
	assert.Equal(t, []string{}, decodeList("not json"))
}
