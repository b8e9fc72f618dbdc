package tracker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialdash/internal/downloader"
	"socialdash/internal/mockserver"
	"socialdash/pkg/acquire"
	"socialdash/pkg/apify"
	"socialdash/pkg/config"
	"socialdash/pkg/database"
	"socialdash/pkg/ingest"
	"socialdash/pkg/models"
	"socialdash/pkg/retry"
	"socialdash/pkg/storage"
)

func TestScrapeToIngestEndToEnd(t *testing.T) {
	mock := mockserver.New()
	defer mock.Close()
	mock.AddBucket(mockserver.DefaultBucket)

	client := apify.NewClient(apify.StaticToken("token"),
		apify.WithBaseURL(mock.URL()),
		apify.WithRateLimit(1000),
		apify.WithRetry(&retry.Config{MaxAttempts: 1}),
	)
	gateway := storage.NewSupabaseGateway(storage.SupabaseConfig{
		URL:        mock.URL(),
		ServiceKey: "service-key",
		Bucket:     mockserver.DefaultBucket,
		Retry:      &retry.Config{MaxAttempts: 1},
	})
	store := database.NewMemoryStore()
	acq := acquire.NewService(config.AcquisitionConfig{FetchTimeout: 2 * time.Second}, gateway)
	orch := ingest.New(client, store, acq, config.AcquisitionConfig{BatchSize: 3},
		ingest.WithBatchOptions(downloader.WithSleep(func(context.Context, time.Duration) error { return nil })),
	)

	sched := &manualScheduler{}
	hooks := &transitions{}
	tr := New(client, orch, config.TrackerConfig{PollInterval: 15 * time.Second},
		WithScheduler(sched.schedule),
		WithTransitionHook(hooks.hook),
	)
	defer tr.Close()

	mock.QueueRunIDs("r1")
	job, err := tr.Start(userCtx(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "r1", job.RunID)
	require.Len(t, mock.Runs(), 1)
	assert.Equal(t, "alice", mock.Runs()[0].Username)

	// first check: running, no dataset yet
	mock.SetRun("r1", "RUNNING", "")
	sched.fire()
	jobs := tr.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, models.StatusRunning, jobs[0].Status)
	assert.Empty(t, jobs[0].DatasetID)
	assert.True(t, tr.Scheduled())

	// second check: still running but the dataset is readable
	var posts []map[string]interface{}
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("p%d", i)
		posts = append(posts, mockserver.PostRecord(id, mock.AddImage("alice/"+id+".jpg", mockserver.JPEG)))
	}
	pic := mock.AddImage("alice/pic.jpg", mockserver.JPEG)
	mock.SetDataset("d1", mockserver.ProfileRecord("ig-alice", "alice", pic, posts...))
	mock.SetRun("r1", "RUNNING", "d1")
	sched.fire()

	assert.Empty(t, tr.Jobs())
	assert.False(t, tr.Scheduled())
	assert.Equal(t, 1, hooks.count("r1:RUNNING->SUCCEEDED"))
	require.Len(t, tr.History(), 1)
	assert.Equal(t, "d1", tr.History()[0].DatasetID)

	profile, err := store.FindProfile(context.Background(), "user-1", "ig-alice")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "alice", profile.Username)
	assert.Equal(t, int64(4), profile.PostCount)

	stored, err := store.ListPosts(context.Background(), profile.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 4)
}
