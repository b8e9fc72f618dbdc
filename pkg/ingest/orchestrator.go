package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"socialdash/internal/downloader"
	"socialdash/pkg/apify"
	"socialdash/pkg/auth"
	"socialdash/pkg/config"
	"socialdash/pkg/database"
	"socialdash/pkg/logger"
	"socialdash/pkg/models"
)

// Failure messages reported in IngestResult.Error
const (
	ErrNoProfileData    = "no Instagram profile data received"
	ErrNotAuthenticated = "user not authenticated"
)

// DatasetSource reads the raw items of a scrape dataset
type DatasetSource interface {
	DatasetItems(ctx context.Context, datasetID string) ([]json.RawMessage, error)
}

// Orchestrator ingests datasets
type Orchestrator struct {
	items    DatasetSource
	store    database.Store
	acquirer downloader.Acquirer
	runner   *downloader.BatchRunner
	logger   logger.Logger
}

// Option configures an Orchestrator
type Option func(*orchestratorOptions)

type orchestratorOptions struct {
	logger     logger.Logger
	runnerOpts []downloader.Option
}

// WithLogger sets a logger
func WithLogger(log logger.Logger) Option {
	return func(o *orchestratorOptions) {
		o.logger = log
	}
}

// WithBatchOptions passes options to the post-image batch runner
func WithBatchOptions(opts ...downloader.Option) Option {
	return func(o *orchestratorOptions) {
		o.runnerOpts = append(o.runnerOpts, opts...)
	}
}

// New creates an orchestrator. cfg supplies the image batch size and pause.
func New(items DatasetSource, store database.Store, acquirer downloader.Acquirer, cfg config.AcquisitionConfig, opts ...Option) *Orchestrator {
	var o orchestratorOptions
	for _, opt := range opts {
		opt(&o)
	}
	log := logger.OrNop(o.logger).WithField("component", "ingest")

	batchPause := cfg.BatchPause
	if batchPause == 0 {
		batchPause = downloader.DefaultBatchPause
	}

	return &Orchestrator{
		items:    items,
		store:    store,
		acquirer: acquirer,
		runner:   downloader.NewBatchRunner(acquirer, cfg.BatchSize, batchPause, log, o.runnerOpts...),
		logger:   log,
	}
}

// Ingest fetches datasetID and stores its first profile and that profile's
// posts for the user carried by ctx
func (o *Orchestrator) Ingest(ctx context.Context, datasetID string) models.IngestResult {
	start := time.Now()
	log := o.logger.WithField("dataset_id", datasetID)

	items, err := o.items.DatasetItems(ctx, datasetID)
	if err != nil {
		log.WithError(err).Error("Failed to fetch dataset items")
		return models.Failed(fmt.Sprintf("failed to fetch dataset items: %v", err))
	}
	if len(items) == 0 {
		return models.Failed(ErrNoProfileData)
	}

	item, warnings, err := apify.DecodeProfile(items[0])
	if err != nil {
		log.WithError(err).Error("Invalid profile record")
		return models.Failed(err.Error())
	}

	userID, ok := auth.UserFromContext(ctx)
	if !ok {
		return models.Failed(ErrNotAuthenticated)
	}

	log = log.WithFields(map[string]interface{}{
		"username": string(item.Username),
		"posts":    len(item.LatestPosts),
	})
	log.Info("Ingesting profile")

	// Post images run in batches while the profile image is fetched.
	imageCtx, cancelImages := context.WithCancel(ctx)
	defer cancelImages()

	profileImage := make(chan models.AcquisitionResult, 1)
	picURL := item.ProfileImageURL()
	go func() {
		if picURL == "" {
			profileImage <- models.AcquisitionResult{}
			return
		}
		profileImage <- o.acquirer.Acquire(imageCtx, picURL, "profiles/"+string(item.Username))
	}()

	jobs := make([]downloader.DownloadJob, len(item.LatestPosts))
	for i, post := range item.LatestPosts {
		jobs[i] = downloader.DownloadJob{
			Index: i,
			URL:   string(post.DisplayURL),
			Hint:  "posts/" + string(item.Username),
		}
	}
	postImages := make(chan []downloader.DownloadResult, 1)
	go func() {
		postImages <- o.runner.Run(imageCtx, jobs)
	}()

	pic := <-profileImage
	if picURL == "" {
		warnings = append(warnings, "profile image URL not found")
	} else if !pic.Stored {
		pic = models.AcquisitionResult{FinalRef: picURL, Stored: false}
	}

	profile := item.Profile(userID)
	profile.ProfileImageRef = pic.FinalRef
	profile.ProfileImageStored = pic.Stored

	if err := o.upsertProfile(ctx, &profile); err != nil {
		cancelImages()
		<-postImages
		log.WithError(err).Error("Failed to save profile")
		return models.Failed(fmt.Sprintf("failed to save profile: %v", err))
	}

	images := <-postImages
	posts := mergePosts(item.LatestPosts, images, profile.ID)

	stored := 0
	if pic.Stored {
		stored++
	}
	for _, p := range posts {
		if p.MediaStored {
			stored++
		}
	}

	result := models.IngestResult{
		Success:          true,
		Profile:          &profile,
		StoredImageCount: stored,
		TotalImageCount:  1 + len(posts),
	}

	if err := o.replacePosts(ctx, profile.ID, posts); err != nil {
		log.WithError(err).Warn("Profile saved but posts were not")
		warnings = append(warnings, fmt.Sprintf("posts not saved: %v", err))
	} else {
		result.PostCount = len(posts)
	}
	result.Warnings = warnings

	log.InfoWithFields("Ingestion complete", map[string]interface{}{
		"profile_id":    profile.ID,
		"post_count":    result.PostCount,
		"stored_images": result.StoredImageCount,
		"total_images":  result.TotalImageCount,
		"duration":      time.Since(start),
	})
	return result
}

// upsertProfile updates the user's existing row for the profile or inserts one
func (o *Orchestrator) upsertProfile(ctx context.Context, profile *models.Profile) error {
	existing, err := o.store.FindProfile(ctx, profile.UserID, profile.ExternalID)
	if err != nil {
		return err
	}
	if existing != nil {
		profile.ID = existing.ID
		profile.CreatedAt = existing.CreatedAt
		return o.store.UpdateProfile(ctx, profile)
	}
	return o.store.InsertProfile(ctx, profile)
}

func (o *Orchestrator) replacePosts(ctx context.Context, profileID string, posts []models.Post) error {
	if err := o.store.DeletePosts(ctx, profileID); err != nil {
		return err
	}
	if len(posts) == 0 {
		return nil
	}
	return o.store.InsertPosts(ctx, posts)
}

// mergePosts maps post records to rows. A post takes the stored reference
// from the image result with the same index; otherwise it keeps the original
// display URL with MediaStored=false.
func mergePosts(items []apify.PostItem, images []downloader.DownloadResult, profileID string) []models.Post {
	byIndex := make(map[int]downloader.DownloadResult, len(images))
	for _, img := range images {
		byIndex[img.Job.Index] = img
	}

	posts := make([]models.Post, len(items))
	for i := range items {
		post := items[i].Post(profileID)
		post.MediaRef = string(items[i].DisplayURL)
		if img, ok := byIndex[i]; ok && post.MediaRef != "" && img.Stored && img.FinalRef != "" {
			post.MediaRef = img.FinalRef
			post.MediaStored = img.Stored
		}
		posts[i] = post
	}
	return posts
}
