package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialdash/pkg/auth"
	"socialdash/pkg/config"
	"socialdash/pkg/database"
	errs "socialdash/pkg/errors"
	"socialdash/pkg/imageproxy"
	"socialdash/pkg/models"
)

type stubTracker struct {
	started []string
	users   []string
	err     error
	jobs    []models.ScrapeJob
	history []models.ScrapeJob
}

func (s *stubTracker) Start(ctx context.Context, username string) (models.ScrapeJob, error) {
	if s.err != nil {
		return models.ScrapeJob{}, s.err
	}
	user, _ := auth.UserFromContext(ctx)
	s.started = append(s.started, username)
	s.users = append(s.users, user)
	job := models.ScrapeJob{RunID: "r1", ProfileUsername: username, UserID: user, Status: models.StatusRunning}
	s.jobs = append(s.jobs, job)
	return job, nil
}

func (s *stubTracker) Jobs() []models.ScrapeJob    { return s.jobs }
func (s *stubTracker) History() []models.ScrapeJob { return s.history }

type stubIngester struct {
	result  models.IngestResult
	dataset string
	user    string
}

func (s *stubIngester) Ingest(ctx context.Context, datasetID string) models.IngestResult {
	s.dataset = datasetID
	s.user, _ = auth.UserFromContext(ctx)
	return s.result
}

type fixture struct {
	tracker  *stubTracker
	ingester *stubIngester
	store    *database.MemoryStore
	handler  http.Handler
}

func newFixture(t *testing.T, mutate func(*Deps)) *fixture {
	t.Helper()
	f := &fixture{
		tracker:  &stubTracker{},
		ingester: &stubIngester{result: models.IngestResult{Success: true, PostCount: 2}},
		store:    database.NewMemoryStore(),
	}
	deps := Deps{Tracker: f.tracker, Ingester: f.ingester, Store: f.store}
	if mutate != nil {
		mutate(&deps)
	}
	f.handler = New(config.ServerConfig{}, deps).Handler()
	return f
}

func (f *fixture) do(method, path, user, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &decoded)
	return rec, decoded
}

func (f *fixture) seedProfile(t *testing.T, user, externalID string, posts int) *models.Profile {
	t.Helper()
	p := &models.Profile{UserID: user, ExternalID: externalID, Username: "u" + externalID}
	require.NoError(t, f.store.InsertProfile(context.Background(), p))
	var rows []models.Post
	for i := 0; i < posts; i++ {
		rows = append(rows, models.Post{ProfileID: p.ID, ExternalID: externalID + "-" + string(rune('a'+i))})
	}
	if len(rows) > 0 {
		require.NoError(t, f.store.InsertPosts(context.Background(), rows))
	}
	return p
}

func TestStartScrape(t *testing.T) {
	f := newFixture(t, nil)

	rec, body := f.do(http.MethodPost, "/api/instagram/scrapes", "user-1", `{"username":"alice"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, true, body["success"])
	job := body["job"].(map[string]interface{})
	assert.Equal(t, "r1", job["runId"])
	assert.Equal(t, "RUNNING", job["status"])
	assert.Equal(t, []string{"user-1"}, f.tracker.users)
}

func TestStartScrapeValidation(t *testing.T) {
	f := newFixture(t, nil)

	rec, _ := f.do(http.MethodPost, "/api/instagram/scrapes", "user-1", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := f.do(http.MethodPost, "/api/instagram/scrapes", "user-1", `{"username":" @ "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Empty(t, f.tracker.started)
}

func TestStartScrapeErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errs.Configuration("Apify API token not found"), http.StatusServiceUnavailable},
		{errs.New(errs.ErrorTypeAuth, 401, "user not authenticated"), http.StatusUnauthorized},
		{errs.New(errs.ErrorTypeServerError, 502, "apify: bad gateway"), http.StatusBadGateway},
		{errs.New(errs.ErrorTypeRateLimit, 429, "slow down"), http.StatusTooManyRequests},
	}
	for _, tt := range tests {
		f := newFixture(t, nil)
		f.tracker.err = tt.err
		rec, body := f.do(http.MethodPost, "/api/instagram/scrapes", "user-1", `{"username":"alice"}`)
		assert.Equal(t, tt.want, rec.Code)
		assert.Equal(t, tt.err.Error(), body["error"])
	}
}

func TestListScrapes(t *testing.T) {
	f := newFixture(t, nil)
	rec, body := f.do(http.MethodGet, "/api/instagram/scrapes", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{}, body["jobs"])
	assert.Equal(t, []interface{}{}, body["history"])

	f.tracker.history = []models.ScrapeJob{{RunID: "old", Status: models.StatusSucceeded}}
	f.do(http.MethodPost, "/api/instagram/scrapes", "user-1", `{"username":"alice"}`)
	_, body = f.do(http.MethodGet, "/api/instagram/scrapes", "", "")
	assert.Len(t, body["jobs"], 1)
	assert.Len(t, body["history"], 1)
}

func TestIngestEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	rec, body := f.do(http.MethodPost, "/api/instagram/datasets/d1/ingest", "user-7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(2), body["postCount"])
	assert.Equal(t, "d1", f.ingester.dataset)
	assert.Equal(t, "user-7", f.ingester.user)

	f.ingester.result = models.Failed("no Instagram profile data received")
	rec, body = f.do(http.MethodPost, "/api/instagram/datasets/d2/ingest", "user-7", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "no Instagram profile data received", body["error"])

	rec, _ = f.do(http.MethodPost, "/api/instagram/datasets/d3/ingest", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "d2", f.ingester.dataset)
}

func TestDefaultUser(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.DefaultUser = "owner" })

	f.do(http.MethodPost, "/api/instagram/datasets/d1/ingest", "", "")
	assert.Equal(t, "owner", f.ingester.user)

	f.do(http.MethodPost, "/api/instagram/datasets/d1/ingest", "guest", "")
	assert.Equal(t, "guest", f.ingester.user)
}

func TestProfilesArePerUser(t *testing.T) {
	f := newFixture(t, nil)
	mine := f.seedProfile(t, "user-1", "ig-1", 3)
	f.seedProfile(t, "user-2", "ig-2", 1)

	rec, body := f.do(http.MethodGet, "/api/instagram/profiles", "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	profiles := body["profiles"].([]interface{})
	require.Len(t, profiles, 1)
	assert.Equal(t, mine.ID, profiles[0].(map[string]interface{})["id"])

	rec, body = f.do(http.MethodGet, "/api/instagram/profiles/"+mine.ID+"/posts", "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["posts"], 3)

	rec, _ = f.do(http.MethodGet, "/api/instagram/profiles/"+mine.ID+"/posts", "user-2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(http.MethodGet, "/api/instagram/profiles", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDeleteProfile(t *testing.T) {
	f := newFixture(t, nil)
	p := f.seedProfile(t, "user-1", "ig-1", 2)

	rec, _ := f.do(http.MethodDelete, "/api/instagram/profiles/"+p.ID, "user-2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body := f.do(http.MethodDelete, "/api/instagram/profiles/"+p.ID, "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])

	profiles, posts := f.store.Counts()
	assert.Equal(t, 0, profiles)
	assert.Equal(t, 0, posts)
}

func TestHealthAndProxyMount(t *testing.T) {
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpeg"))
	}))
	defer cdn.Close()

	proxy := imageproxy.New(config.ProxyConfig{Hosts: []string{strings.TrimPrefix(cdn.URL, "http://")}},
		imageproxy.WithScheme("http"))
	f := newFixture(t, func(d *Deps) { d.Proxy = proxy })

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/image-proxy/v/a.jpg?x=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jpeg", rec.Body.String())

	rec, body := f.do(http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["cacheSize"])
	assert.Equal(t, float64(0), body["activeJobs"])
}

func TestMediaServing(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "posts", "alice"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "posts", "alice", "a.jpg"), []byte("local"), 0o644))

	f := newFixture(t, func(d *Deps) { d.MediaDir = dir })
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/media/posts/alice/a.jpg", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "local", rec.Body.String())
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	srv := New(config.ServerConfig{Addr: "127.0.0.1:0"}, Deps{Tracker: &stubTracker{}})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
