// Package tracker follows scrape runs from start to ingestion.
//
// A Tracker owns the registry of active jobs. Each poll cycle checks every
// RUNNING job against the job runner, ingests datasets as soon as they are
// exposed, and writes all status changes back to the registry in one step.
// The tracker only keeps a timer armed while some job is still RUNNING.
package tracker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"socialdash/pkg/apify"
	"socialdash/pkg/auth"
	"socialdash/pkg/config"
	errs "socialdash/pkg/errors"
	"socialdash/pkg/logger"
	"socialdash/pkg/models"
)

const (
	DefaultPollInterval = 15 * time.Second
	DefaultHistorySize  = 20
)

// ErrNoDataset is recorded when a run succeeds without exposing a dataset
const ErrNoDataset = "no dataset id found for completed run"

// Runner starts and checks remote scrape runs
type Runner interface {
	StartRun(ctx context.Context, username string, opts apify.RunOptions) (string, error)
	CheckStatus(ctx context.Context, runID string) (models.RunStatus, error)
}

// Ingester stores the contents of a finished dataset
type Ingester interface {
	Ingest(ctx context.Context, datasetID string) models.IngestResult
}

// ScheduleFunc arms f to run after d and returns a function that disarms it
type ScheduleFunc func(d time.Duration, f func()) (stop func() bool)

// TransitionFunc observes status changes of a job
type TransitionFunc func(job models.ScrapeJob, from, to models.JobStatus)

// Tracker is the job registry plus its polling loop
type Tracker struct {
	runner       Runner
	ingester     Ingester
	interval     time.Duration
	historySize  int
	resultsLimit int
	schedule     ScheduleFunc
	onTransition TransitionFunc
	now          func() time.Time
	logger       logger.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	// cycleMu serializes poll cycles
	cycleMu sync.Mutex

	mu        sync.Mutex
	jobs      []models.ScrapeJob
	history   []models.ScrapeJob
	scheduled bool
	stopTimer func() bool
	closed    bool
}

// Option configures a Tracker
type Option func(*Tracker)

// WithScheduler replaces time.AfterFunc. A nil scheduler disables automatic
// polling; callers then drive cycles with PollOnce.
func WithScheduler(s ScheduleFunc) Option {
	return func(t *Tracker) {
		t.schedule = s
	}
}

// WithTransitionHook registers an observer for status changes
func WithTransitionHook(fn TransitionFunc) Option {
	return func(t *Tracker) {
		t.onTransition = fn
	}
}

// WithResultsLimit caps the posts requested per run
func WithResultsLimit(n int) Option {
	return func(t *Tracker) {
		t.resultsLimit = n
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// WithLogger sets a logger
func WithLogger(log logger.Logger) Option {
	return func(t *Tracker) {
		t.logger = log
	}
}

// New creates a tracker
func New(runner Runner, ingester Ingester, cfg config.TrackerConfig, opts ...Option) *Tracker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		runner:      runner,
		ingester:    ingester,
		interval:    cfg.PollInterval,
		historySize: cfg.HistorySize,
		schedule:    afterFunc,
		now:         time.Now,
		baseCtx:     ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = logger.OrNop(t.logger).WithField("component", "tracker")
	return t
}

func afterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Start launches a scrape of username for the user carried by ctx and
// registers it as RUNNING
func (t *Tracker) Start(ctx context.Context, username string) (models.ScrapeJob, error) {
	userID, ok := auth.UserFromContext(ctx)
	if !ok {
		return models.ScrapeJob{}, errs.New(errs.ErrorTypeAuth, 401, "user not authenticated")
	}
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")

	runID, err := t.runner.StartRun(ctx, username, apify.RunOptions{ResultsLimit: t.resultsLimit})
	if err != nil {
		return models.ScrapeJob{}, err
	}

	job := models.ScrapeJob{
		RunID:           runID,
		ProfileUsername: username,
		UserID:          userID,
		Status:          models.StatusRunning,
		StartedAt:       t.now(),
	}

	t.mu.Lock()
	t.jobs = append(t.jobs, job)
	t.mu.Unlock()

	t.logger.InfoWithFields("Tracking scrape job", map[string]interface{}{
		"run_id":   runID,
		"username": username,
		"user_id":  userID,
	})
	t.arm()
	return job, nil
}

// Jobs returns a snapshot of the active jobs in start order
func (t *Tracker) Jobs() []models.ScrapeJob {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.ScrapeJob(nil), t.jobs...)
}

// History returns recently ingested jobs, newest last
func (t *Tracker) History() []models.ScrapeJob {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.ScrapeJob(nil), t.history...)
}

// Running counts the jobs still being polled
func (t *Tracker) Running() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countRunning(t.jobs)
}

// Scheduled reports whether a poll cycle is armed
func (t *Tracker) Scheduled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scheduled
}

// Close disarms the timer and cancels ingestion started by scheduled cycles
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	if t.stopTimer != nil {
		t.stopTimer()
	}
	t.scheduled = false
	t.mu.Unlock()
	t.cancel()
}

// arm schedules the next cycle unless one is pending, and disarms the timer
// once nothing is RUNNING
func (t *Tracker) arm() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if countRunning(t.jobs) == 0 {
		if t.scheduled && t.stopTimer != nil {
			t.stopTimer()
		}
		t.scheduled = false
		t.stopTimer = nil
		return
	}
	if t.closed || t.scheduled || t.schedule == nil {
		return
	}
	t.scheduled = true
	t.stopTimer = t.schedule(t.interval, t.fire)
}

func (t *Tracker) fire() {
	t.mu.Lock()
	t.scheduled = false
	t.stopTimer = nil
	closed := t.closed
	t.mu.Unlock()

	if closed {
		return
	}
	t.PollOnce(t.baseCtx)
}

// update is the outcome of checking one job during a cycle
type update struct {
	job    models.ScrapeJob
	remove bool
}

// PollOnce runs one check cycle over the RUNNING jobs. Cycles never overlap.
func (t *Tracker) PollOnce(ctx context.Context) {
	t.cycleMu.Lock()
	defer t.cycleMu.Unlock()

	var pending []models.ScrapeJob
	for _, job := range t.Jobs() {
		if job.Status == models.StatusRunning {
			pending = append(pending, job)
		}
	}

	updates := make(map[string]update, len(pending))
	for _, job := range pending {
		if ctx.Err() != nil {
			break
		}
		if u, changed := t.check(ctx, job); changed {
			updates[job.RunID] = u
		}
	}

	t.apply(updates)
	t.arm()
}

// check polls one job and, when a dataset is available, ingests it
func (t *Tracker) check(ctx context.Context, job models.ScrapeJob) (update, bool) {
	log := t.logger.WithFields(map[string]interface{}{
		"run_id":   job.RunID,
		"username": job.ProfileUsername,
	})

	status, err := t.runner.CheckStatus(ctx, job.RunID)
	if err != nil {
		if !fatalCheckError(err) {
			log.WithError(err).Warn("Status check failed, retrying next cycle")
			return update{}, false
		}
		log.WithError(err).Error("Status check failed permanently")
		return update{job: t.finish(job, models.StatusFailed, err.Error())}, true
	}

	changed := false
	if status.DatasetID != "" && status.DatasetID != job.DatasetID {
		job.DatasetID = status.DatasetID
		changed = true
	}

	switch status.Status {
	case models.StatusSucceeded:
		job = t.finish(job, models.StatusSucceeded, "")
		if job.DatasetID == "" {
			return update{job: t.finish(job, models.StatusFailed, ErrNoDataset)}, true
		}
		result := t.ingest(ctx, job)
		if !result.Success {
			log.WithField("error", result.Error).Error("Ingestion failed")
			return update{job: t.finish(job, models.StatusFailed, result.Error)}, true
		}
		return update{job: job, remove: true}, true

	case models.StatusFailed, models.StatusTimeout:
		raw := status.RawStatus
		if raw == "" {
			raw = string(status.Status)
		}
		return update{job: t.finish(job, status.Status, "run "+raw)}, true

	default:
		if job.DatasetID == "" {
			return update{job: job}, changed
		}
		// Results are readable before the run ends
		result := t.ingest(ctx, job)
		if !result.Success {
			log.WithField("error", result.Error).Warn("Early extraction failed, job stays running")
			return update{job: job}, changed
		}
		return update{job: t.finish(job, models.StatusSucceeded, ""), remove: true}, true
	}
}

// ingest runs the orchestrator as the job's user with the processing
// overlay shown
func (t *Tracker) ingest(ctx context.Context, job models.ScrapeJob) models.IngestResult {
	t.setProcessing(job.RunID, true)
	defer t.setProcessing(job.RunID, false)

	result := t.ingester.Ingest(auth.WithUser(ctx, job.UserID), job.DatasetID)
	if result.Success {
		fields := map[string]interface{}{
			"run_id":        job.RunID,
			"dataset_id":    job.DatasetID,
			"post_count":    result.PostCount,
			"stored_images": fmt.Sprintf("%d/%d", result.StoredImageCount, result.TotalImageCount),
		}
		t.logger.InfoWithFields("Dataset ingested", fields)
	}
	return result
}

// finish moves job into a terminal status and notifies the hook
func (t *Tracker) finish(job models.ScrapeJob, to models.JobStatus, msg string) models.ScrapeJob {
	from := job.Status
	if from == to {
		return job
	}
	job.Status = to
	job.Error = msg
	if job.FinishedAt == nil {
		now := t.now()
		job.FinishedAt = &now
	}

	logger.LogJobTransition(t.logger, job.RunID, job.ProfileUsername, string(from), string(to))
	if t.onTransition != nil {
		t.onTransition(job, from, to)
	}
	return job
}

func (t *Tracker) setProcessing(runID string, processing bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.jobs {
		if t.jobs[i].RunID == runID {
			t.jobs[i].Processing = processing
			return
		}
	}
}

// apply writes a cycle's updates to the registry in one step. Jobs started
// during the cycle are kept as they are.
func (t *Tracker) apply(updates map[string]update) {
	if len(updates) == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.jobs[:0]
	for _, job := range t.jobs {
		u, ok := updates[job.RunID]
		if !ok {
			kept = append(kept, job)
			continue
		}
		u.job.Processing = false
		if u.remove {
			t.history = append(t.history, u.job)
			continue
		}
		kept = append(kept, u.job)
	}
	t.jobs = kept

	if over := len(t.history) - t.historySize; over > 0 {
		t.history = append([]models.ScrapeJob(nil), t.history[over:]...)
	}
}

// fatalCheckError reports whether polling again cannot succeed
func fatalCheckError(err error) bool {
	switch errs.TypeOf(err) {
	case errs.ErrorTypeConfiguration, errs.ErrorTypeAuth, errs.ErrorTypeNotFound:
		return true
	}
	return false
}

func countRunning(jobs []models.ScrapeJob) int {
	n := 0
	for _, j := range jobs {
		if j.Status == models.StatusRunning {
			n++
		}
	}
	return n
}
