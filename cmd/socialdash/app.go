package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"socialdash/pkg/acquire"
	"socialdash/pkg/apify"
	"socialdash/pkg/auth"
	"socialdash/pkg/config"
	"socialdash/pkg/database"
	"socialdash/pkg/imageproxy"
	"socialdash/pkg/ingest"
	"socialdash/pkg/logger"
	"socialdash/pkg/retry"
	"socialdash/pkg/storage"
	"socialdash/pkg/tracker"
)

// app holds the components wired from one configuration
type app struct {
	cfg      *config.Config
	log      logger.Logger
	store    database.Store
	tokens   *auth.Manager
	apify    *apify.Client
	gateway  storage.Gateway
	mediaDir string
	acquirer *acquire.Service
	ingester *ingest.Orchestrator
}

// newApp opens the store and builds the ingestion pipeline
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := logger.GetLogger()
	a := &app{cfg: cfg, log: log}

	store, err := database.Open(ctx, cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.store = store

	tokens, err := auth.NewManager(cfg.Apify.Token,
		auth.WithKeySource(store),
		auth.WithLogger(log),
	)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	a.tokens = tokens

	a.apify = apify.NewClient(tokens,
		apify.WithBaseURL(cfg.Apify.BaseURL),
		apify.WithActor(cfg.Apify.ActorID),
		apify.WithRateLimit(cfg.Apify.RequestsPerSecond),
		apify.WithHTTPClient(&http.Client{Timeout: cfg.Apify.Timeout}),
		apify.WithRetry(&retry.Config{
			MaxAttempts: cfg.Apify.MaxRetries + 1,
			Backoff: &retry.ExponentialBackoff{
				BaseDelay:    cfg.Apify.RetryDelay,
				MaxDelay:     30 * time.Second,
				Multiplier:   2.0,
				JitterFactor: 0.1,
			},
			RetryIf: retry.DefaultRetryIf,
		}),
		apify.WithLogger(log),
	)

	opts := []acquire.Option{acquire.WithLogger(log)}
	switch cfg.Storage.Backend {
	case "local":
		local := storage.NewLocalGateway(cfg.Storage.LocalDir, cfg.Supabase.Bucket, cfg.Storage.PublicBaseURL, log)
		a.gateway = local
		a.mediaDir = local.Root()
	default:
		a.gateway = storage.NewSupabaseGateway(storage.SupabaseConfig{
			URL:           cfg.Supabase.URL,
			ServiceKey:    cfg.Supabase.ServiceKey,
			Bucket:        cfg.Supabase.Bucket,
			FileSizeLimit: cfg.Supabase.FileSizeLimit,
			Retry:         &retry.Config{MaxAttempts: cfg.Supabase.UploadAttempts, RetryIf: retry.DefaultRetryIf},
			Logger:        log,
		})
		if cfg.Supabase.URL != "" && cfg.Supabase.ServiceKey != "" {
			opts = append(opts, acquire.WithDelegate(acquire.NewEdgeFunction(
				cfg.Supabase.URL, cfg.Supabase.ServiceKey, cfg.Supabase.FetchFunction, nil)))
		}
	}

	a.acquirer = acquire.NewService(cfg.Acquisition, a.gateway, opts...)
	a.ingester = ingest.New(a.apify, store, a.acquirer, cfg.Acquisition, ingest.WithLogger(log))
	return a, nil
}

// tracker builds a job tracker; a nil scheduler leaves polling to the caller
func (a *app) tracker(schedule tracker.ScheduleFunc, hook tracker.TransitionFunc) *tracker.Tracker {
	opts := []tracker.Option{
		tracker.WithResultsLimit(a.cfg.App.ResultsLimit),
		tracker.WithLogger(a.log),
		tracker.WithScheduler(schedule),
	}
	if hook != nil {
		opts = append(opts, tracker.WithTransitionHook(hook))
	}
	return tracker.New(a.apify, a.ingester, a.cfg.Tracker, opts...)
}

// proxy builds the image proxy mounted at the acquisition proxy prefix
func (a *app) proxy() *imageproxy.Proxy {
	return imageproxy.New(a.cfg.Proxy,
		imageproxy.WithPrefix(a.cfg.Acquisition.ProxyPrefix),
		imageproxy.WithLogger(a.log),
	)
}

// userContext attaches the configured dashboard user, failing when none is set
func (a *app) userContext(ctx context.Context) (context.Context, error) {
	if a.cfg.App.UserID == "" {
		return nil, fmt.Errorf("no dashboard user configured; pass --user or set SOCIALDASH_USER_ID")
	}
	return auth.WithUser(ctx, a.cfg.App.UserID), nil
}

func (a *app) Close() {
	a.store.Close()
}
