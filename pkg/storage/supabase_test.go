package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialdash/internal/mockserver"
	errs "socialdash/pkg/errors"
	"socialdash/pkg/logger"
	"socialdash/pkg/retry"
)

func newGateway(url string) *SupabaseGateway {
	return NewSupabaseGateway(SupabaseConfig{
		URL:        url,
		ServiceKey: "service-key",
		Bucket:     "instagram-images",
		Retry:      &retry.Config{MaxAttempts: 2, Backoff: &retry.ConstantBackoff{Delay: time.Millisecond}},
		Logger:     logger.NewTestLogger(),
	})
}

func TestEnsureBucketExisting(t *testing.T) {
	mock := mockserver.New()
	defer mock.Close()
	mock.AddBucket("instagram-images")

	assert.True(t, newGateway(mock.URL()).EnsureBucket(context.Background()))
	assert.Equal(t, 0, mock.Hits("/storage/v1/bucket"))
}

func TestEnsureBucketCreatesMissing(t *testing.T) {
	mock := mockserver.New()
	defer mock.Close()

	g := newGateway(mock.URL())
	assert.True(t, g.EnsureBucket(context.Background()))
	assert.True(t, mock.HasBucket("instagram-images"))
	assert.Equal(t, 1, mock.Hits("/storage/v1/bucket"))

	// idempotent
	assert.True(t, g.EnsureBucket(context.Background()))
	assert.Equal(t, 1, mock.Hits("/storage/v1/bucket"))
}

func TestEnsureBucketAlreadyExistsRace(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/storage/v1/object/list/instagram-images":
			w.WriteHeader(http.StatusNotFound)
		case "/storage/v1/bucket":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"Duplicate","message":"The resource already exists"}`))
		}
	}))
	defer server.Close()

	assert.True(t, newGateway(server.URL).EnsureBucket(context.Background()))
}

func TestEnsureBucketDoesNotCreateOnOtherErrors(t *testing.T) {
	tests := []struct {
		name string
		code int
		body string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"nope"}`},
		{"forbidden", http.StatusForbidden, `{"error":"nope"}`},
		{"server error", http.StatusInternalServerError, `{"error":"nope"}`},
		{"unknown user", http.StatusUnauthorized, `{"statusCode":"401","error":"Unauthorized","message":"User not found"}`},
		{"forbidden not found text", http.StatusForbidden, `{"message":"Resource not found for this role"}`},
		{"upstream not found text", http.StatusBadGateway, `{"message":"upstream not found"}`},
		{"bad request", http.StatusBadRequest, `{"error":"InvalidRequest","message":"invalid limit"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var creates int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/storage/v1/bucket" {
					atomic.AddInt32(&creates, 1)
				}
				w.WriteHeader(tt.code)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			assert.False(t, newGateway(server.URL).EnsureBucket(context.Background()))
			assert.Equal(t, int32(0), atomic.LoadInt32(&creates))
		})
	}
}

func TestEnsureBucketNetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	assert.False(t, newGateway(url).EnsureBucket(context.Background()))
}

func TestEnsureBucketUnconfigured(t *testing.T) {
	g := NewSupabaseGateway(SupabaseConfig{Bucket: "instagram-images"})
	assert.False(t, g.EnsureBucket(context.Background()))
}

func TestUploadAndPublicURL(t *testing.T) {
	mock := mockserver.New()
	defer mock.Close()
	mock.AddBucket("instagram-images")

	g := newGateway(mock.URL())
	url, err := g.Upload(context.Background(), "profiles/alice.jpg", mockserver.JPEG, "image/jpeg")
	require.NoError(t, err)

	assert.Equal(t, mock.PublicURL("instagram-images", "profiles/alice.jpg"), url)
	assert.True(t, g.Owns(url))
	assert.False(t, g.Owns("https://scontent.cdninstagram.com/v/alice.jpg"))

	stored, ok := mock.Object("instagram-images", "profiles/alice.jpg")
	require.True(t, ok)
	assert.Equal(t, mockserver.JPEG, stored)

	// upsert replaces the object
	_, err = g.Upload(context.Background(), "profiles/alice.jpg", []byte("v2"), "image/jpeg")
	require.NoError(t, err)
	stored, _ = mock.Object("instagram-images", "profiles/alice.jpg")
	assert.Equal(t, []byte("v2"), stored)
}

func TestUploadSendsServiceKeyHeaders(t *testing.T) {
	var auth, apikey, upsert string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		apikey = r.Header.Get("apikey")
		upsert = r.Header.Get("x-upsert")
		w.Write([]byte(`{"Key":"x"}`))
	}))
	defer server.Close()

	_, err := newGateway(server.URL).Upload(context.Background(), "a.jpg", []byte("x"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "Bearer service-key", auth)
	assert.Equal(t, "service-key", apikey)
	assert.Equal(t, "true", upsert)
}

func TestUploadErrors(t *testing.T) {
	mock := mockserver.New()
	defer mock.Close()
	mock.AddBucket("instagram-images")
	mock.SetErrorResponse("/storage/v1/object/instagram-images/", http.StatusServiceUnavailable)

	_, err := newGateway(mock.URL()).Upload(context.Background(), "x.jpg", []byte("x"), "image/jpeg")
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeServerError, errs.TypeOf(err))
	assert.Equal(t, 2, mock.Hits("/storage/v1/object/instagram-images/x.jpg"))

	_, err = NewSupabaseGateway(SupabaseConfig{Bucket: "b"}).Upload(context.Background(), "x.jpg", nil, "")
	assert.Equal(t, errs.ErrorTypeConfiguration, errs.TypeOf(err))
}
