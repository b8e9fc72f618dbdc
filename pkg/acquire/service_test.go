package acquire

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialdash/internal/mockserver"
	"socialdash/pkg/config"
	"socialdash/pkg/logger"
	"socialdash/pkg/retry"
	"socialdash/pkg/storage"
)

type fixture struct {
	mock    *mockserver.Server
	gateway *storage.SupabaseGateway
	log     *logger.TestLogger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mock := mockserver.New()
	t.Cleanup(mock.Close)
	mock.AddBucket(mockserver.DefaultBucket)

	log := logger.NewTestLogger()
	gateway := storage.NewSupabaseGateway(storage.SupabaseConfig{
		URL:        mock.URL(),
		ServiceKey: "service-key",
		Bucket:     mockserver.DefaultBucket,
		Retry:      &retry.Config{MaxAttempts: 1},
		Logger:     log,
	})
	return &fixture{mock: mock, gateway: gateway, log: log}
}

func (f *fixture) service(opts ...Option) *Service {
	opts = append([]Option{WithLogger(f.log)}, opts...)
	return NewService(config.AcquisitionConfig{FetchTimeout: 2 * time.Second}, f.gateway, opts...)
}

func (f *fixture) delegate() Delegate {
	return NewEdgeFunction(f.mock.URL(), "service-key", "", nil)
}

func TestAcquirePassthrough(t *testing.T) {
	f := newFixture(t)
	svc := f.service(WithDelegate(f.delegate()))

	for _, input := range []string{"", "not a url", "/image-proxy/v/a.jpg", "ftp://example.com/a.jpg", "data:image/png;base64,AAAA"} {
		result := svc.Acquire(context.Background(), input, "profiles/alice")
		assert.Equal(t, input, result.FinalRef)
		assert.False(t, result.Stored)
	}
	assert.Equal(t, 0, f.mock.RequestCount())
}

func TestAcquireOwnedURL(t *testing.T) {
	f := newFixture(t)
	owned := f.mock.PublicURL(mockserver.DefaultBucket, "profiles/alice/pic.jpg")

	result := f.service().Acquire(context.Background(), owned, "profiles/alice")
	assert.Equal(t, owned, result.FinalRef)
	assert.True(t, result.Stored)
	assert.Equal(t, 0, f.mock.RequestCount())
}

func TestAcquireDirectFetch(t *testing.T) {
	f := newFixture(t)
	src := f.mock.AddImage("v/t51/alice.jpg", mockserver.JPEG)

	result := f.service().Acquire(context.Background(), src, "profiles/alice")
	require.True(t, result.Stored)
	assert.True(t, strings.HasPrefix(result.FinalRef, f.mock.PublicURL(mockserver.DefaultBucket, "profiles/alice/alice_")))
	assert.True(t, strings.HasSuffix(result.FinalRef, ".jpg"))

	key := strings.TrimPrefix(result.FinalRef, f.mock.PublicURL(mockserver.DefaultBucket, ""))
	stored, ok := f.mock.Object(mockserver.DefaultBucket, key)
	require.True(t, ok)
	assert.Equal(t, mockserver.JPEG, stored)
}

func TestAcquireSendsBrowserHeaders(t *testing.T) {
	var ua, referer, accept string
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua, referer, accept = r.UserAgent(), r.Referer(), r.Header.Get("Accept")
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png"))
	}))
	defer cdn.Close()

	f := newFixture(t)
	result := f.service().Acquire(context.Background(), cdn.URL+"/a.png", "posts/1")
	assert.True(t, result.Stored)
	assert.Equal(t, DefaultUserAgent, ua)
	assert.Equal(t, DefaultReferer, referer)
	assert.Contains(t, accept, "image/")
	assert.True(t, strings.HasSuffix(result.FinalRef, ".png"))
}

func TestAcquireFallsBackToDelegate(t *testing.T) {
	f := newFixture(t)
	src := f.mock.ImageURL("v/t51/blocked.jpg")

	result := f.service(WithDelegate(f.delegate())).Acquire(context.Background(), src, "posts/p1")
	require.True(t, result.Stored)
	assert.True(t, strings.HasPrefix(result.FinalRef, f.mock.PublicURL(mockserver.DefaultBucket, "posts/p1/blocked_")))
	assert.Equal(t, 1, f.mock.Hits("/functions/v1/"+DefaultFetchFunction))
	assert.True(t, f.log.HasMessage("direct image fetch failed"))
}

func TestAcquireUploadFailureFallsBackToDelegate(t *testing.T) {
	f := newFixture(t)
	src := f.mock.AddImage("v/a.jpg", mockserver.JPEG)
	f.mock.SetErrorResponse("/storage/v1/object/"+mockserver.DefaultBucket+"/", http.StatusInternalServerError)

	result := f.service(WithDelegate(f.delegate())).Acquire(context.Background(), src, "posts/p1")
	assert.True(t, result.Stored)
	assert.Equal(t, 1, f.mock.Hits("/functions/v1/"+DefaultFetchFunction))
}

// slowGateway holds each upload for delay, honouring the upload context
type slowGateway struct {
	*storage.SupabaseGateway
	delay time.Duration
}

func (g slowGateway) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	select {
	case <-time.After(g.delay):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return g.SupabaseGateway.Upload(ctx, key, data, contentType)
}

func TestAcquireUploadHasOwnDeadline(t *testing.T) {
	f := newFixture(t)
	src := f.mock.AddImage("v/slow.jpg", mockserver.JPEG)
	gateway := slowGateway{SupabaseGateway: f.gateway, delay: 300 * time.Millisecond}

	t.Run("upload outlasting the fetch timeout", func(t *testing.T) {
		svc := NewService(config.AcquisitionConfig{FetchTimeout: 100 * time.Millisecond, UploadTimeout: 2 * time.Second},
			gateway, WithLogger(f.log), WithDelegate(f.delegate()))

		result := svc.Acquire(context.Background(), src, "posts/p1")
		require.True(t, result.Stored)
		assert.True(t, strings.HasPrefix(result.FinalRef, f.mock.PublicURL(mockserver.DefaultBucket, "posts/p1/slow_")))
		assert.Equal(t, 0, f.mock.Hits("/functions/v1/"+DefaultFetchFunction))
	})

	t.Run("upload outlasting its own deadline", func(t *testing.T) {
		svc := NewService(config.AcquisitionConfig{FetchTimeout: 2 * time.Second, UploadTimeout: 50 * time.Millisecond},
			gateway, WithLogger(f.log))

		result := svc.Acquire(context.Background(), src, "posts/p2")
		assert.False(t, result.Stored)
		assert.True(t, strings.HasPrefix(result.FinalRef, DefaultProxyPrefix+"/"))
	})
}

// An unreachable image always yields a usable proxy path distinct from the input
func TestAcquireNeverFails(t *testing.T) {
	f := newFixture(t)
	f.mock.SetDelegatedFetch(false)
	svc := f.service(WithDelegate(f.delegate()))

	inputs := []string{
		f.mock.ImageURL("v/t51.2885-19/missing.jpg?stp=dst-jpg&_nc_ht=x"),
		"https://127.0.0.1:1/v/unreachable.jpg",
	}
	for _, src := range inputs {
		result := svc.Acquire(context.Background(), src, "posts/p1")
		assert.False(t, result.Stored)
		assert.NotEqual(t, src, result.FinalRef)
		assert.True(t, strings.HasPrefix(result.FinalRef, DefaultProxyPrefix+"/"), result.FinalRef)
	}

	result := svc.Acquire(context.Background(), inputs[0], "posts/p1")
	assert.Equal(t, "/image-proxy/cdn/v/t51.2885-19/missing.jpg?stp=dst-jpg&_nc_ht=x", result.FinalRef)
}

func TestAcquireCancelledContext(t *testing.T) {
	f := newFixture(t)
	src := f.mock.AddImage("v/a.jpg", mockserver.JPEG)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := f.service(WithDelegate(f.delegate())).Acquire(ctx, src, "posts/p1")
	assert.False(t, result.Stored)
	assert.Equal(t, "/image-proxy/cdn/v/a.jpg", result.FinalRef)
}

func TestAcquireWithoutGateway(t *testing.T) {
	svc := NewService(config.AcquisitionConfig{ProxyPrefix: "/img/"}, nil)
	result := svc.Acquire(context.Background(), "https://scontent.cdninstagram.com/v/a.jpg?x=1", "p")
	assert.Equal(t, "/img/v/a.jpg?x=1", result.FinalRef)
	assert.False(t, result.Stored)
}

func TestEdgeFunctionErrors(t *testing.T) {
	_, err := NewEdgeFunction("", "", "", nil).Fetch(context.Background(), "https://x/a.jpg", "p/a.jpg")
	assert.Error(t, err)

	f := newFixture(t)
	f.mock.SetDelegatedFetch(false)
	_, err = f.delegate().Fetch(context.Background(), "https://x/a.jpg", "p/a.jpg")
	assert.ErrorContains(t, err, "fetch failed")
}
