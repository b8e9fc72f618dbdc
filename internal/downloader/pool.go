package downloader

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"socialdash/pkg/logger"
	"socialdash/pkg/models"
)

const (
	// DefaultBatchSize is the number of images acquired concurrently
	DefaultBatchSize = 3

	// DefaultBatchPause is the pause between consecutive batches
	DefaultBatchPause = time.Second
)

// DownloadJob is one image to acquire
type DownloadJob struct {
	Index int
	URL   string
	Hint  string
}

// DownloadResult is the outcome of one job. Results are returned in job order.
type DownloadResult struct {
	Job      DownloadJob
	FinalRef string
	Stored   bool
	Duration time.Duration
}

// Acquirer resolves one remote image. Implementations never fail.
type Acquirer interface {
	Acquire(ctx context.Context, sourceURL, destinationHint string) models.AcquisitionResult
}

// BatchRunner acquires images in fixed-size concurrent batches with a pause
// between batches
type BatchRunner struct {
	batchSize int
	pause     time.Duration
	acquirer  Acquirer
	sleep     func(ctx context.Context, d time.Duration) error
	onBatch   func(batch int, jobs []DownloadJob)
	logger    logger.Logger
}

// Option configures a BatchRunner
type Option func(*BatchRunner)

// WithSleep replaces the pause implementation
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *BatchRunner) {
		r.sleep = sleep
	}
}

// WithBatchHook is called before each batch starts
func WithBatchHook(hook func(batch int, jobs []DownloadJob)) Option {
	return func(r *BatchRunner) {
		r.onBatch = hook
	}
}

// NewBatchRunner creates a runner. Non-positive sizes fall back to defaults.
func NewBatchRunner(acquirer Acquirer, batchSize int, pause time.Duration, log logger.Logger, opts ...Option) *BatchRunner {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if pause < 0 {
		pause = DefaultBatchPause
	}

	r := &BatchRunner{
		batchSize: batchSize,
		pause:     pause,
		acquirer:  acquirer,
		sleep:     sleepContext,
		logger:    logger.OrNop(log),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run acquires every job and returns one result per job, in job order. Jobs
// without a URL are skipped. When ctx is cancelled, jobs that never started
// keep their original URL.
func (r *BatchRunner) Run(ctx context.Context, jobs []DownloadJob) []DownloadResult {
	results := make([]DownloadResult, len(jobs))
	for i, job := range jobs {
		results[i] = DownloadResult{Job: job, FinalRef: job.URL}
	}

	batches := (len(jobs) + r.batchSize - 1) / r.batchSize
	r.logger.DebugWithFields("Starting image batches", map[string]interface{}{
		"jobs":       len(jobs),
		"batch_size": r.batchSize,
		"batches":    batches,
	})

	for b := 0; b < batches; b++ {
		if ctx.Err() != nil {
			r.logger.WithField("batch", b).Warn("Image batches cancelled")
			break
		}

		start := b * r.batchSize
		end := start + r.batchSize
		if end > len(jobs) {
			end = len(jobs)
		}
		if r.onBatch != nil {
			r.onBatch(b, jobs[start:end])
		}

		var g errgroup.Group
		for i := start; i < end; i++ {
			job := jobs[i]
			if job.URL == "" {
				continue
			}
			g.Go(func() error {
				began := time.Now()
				res := r.acquirer.Acquire(ctx, job.URL, job.Hint)
				results[i] = DownloadResult{
					Job:      job,
					FinalRef: res.FinalRef,
					Stored:   res.Stored,
					Duration: time.Since(began),
				}
				return nil
			})
		}
		g.Wait()

		if b < batches-1 && r.pause > 0 {
			if err := r.sleep(ctx, r.pause); err != nil {
				r.logger.WithError(err).Warn("Pause between image batches interrupted")
			}
		}
	}

	return results
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
