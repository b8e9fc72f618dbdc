package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"socialdash/internal/server"
	"socialdash/pkg/logger"
	"socialdash/pkg/models"
	"socialdash/pkg/ui"
	"socialdash/pkg/ui/tui"
)

var serveTUI bool

// serveCmd runs the dashboard API with the tracker and image proxy
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard API",
	Long: `Run the HTTP API used by the dashboard.

The API starts and tracks scrapes, ingests datasets on demand, lists stored
profiles and posts, and serves the image proxy under the configured prefix.
The acting user is read from the X-User-ID header, falling back to --user.`,
	Example: `  # Serve on the default address with Postgres
  socialdash serve --dsn postgres://localhost/dashboard

  # Serve with images stored on local disk
  socialdash serve --storage local --addr :9090`,
	Run: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "listen address (default from config, :8080)")
	serveCmd.Flags().Int("limit", 0, "maximum posts scraped per profile")
	serveCmd.Flags().Duration("poll-interval", 0, "how often running scrapes are checked")
	serveCmd.Flags().BoolVar(&serveTUI, "tui", false, "show a live job board; quitting it stops the server")
}

func runServe(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		ui.PrintError("Failed to initialize", err.Error())
		os.Exit(1)
	}
	defer a.Close()

	if !a.gateway.EnsureBucket(ctx) {
		ui.PrintWarning("Image bucket is not available; images will fall back to the proxy")
	}

	jobs := a.tracker(afterFunc, func(job models.ScrapeJob, from, to models.JobStatus) {
		if to == models.StatusSucceeded {
			logger.WithField("username", job.ProfileUsername).Info("Scrape ingested")
		}
	})
	defer jobs.Close()

	proxy := a.proxy()
	if err := proxy.Start(); err != nil {
		ui.PrintError("Failed to start image proxy", err.Error())
		os.Exit(1)
	}
	defer proxy.Stop()

	srv := server.New(cfg.Server, server.Deps{
		Tracker:     jobs,
		Ingester:    a.ingester,
		Store:       a.store,
		Proxy:       proxy,
		MediaDir:    a.mediaDir,
		DefaultUser: cfg.App.UserID,
		Logger:      a.log,
	})

	ui.PrintInfo("API", cfg.Server.Addr)
	ui.PrintInfo("Image proxy", proxy.Prefix())
	ui.PrintInfo("Storage", cfg.Storage.Backend)

	logger.LogComponentStart("server", map[string]interface{}{
		"addr":          cfg.Server.Addr,
		"storage":       cfg.Storage.Backend,
		"poll_interval": cfg.Tracker.PollInterval.String(),
	})

	if serveTUI {
		go func() {
			if err := tui.Run(ctx, jobs, time.Second, false); err != nil {
				logger.WithError(err).Warn("Job board stopped")
			}
			stop()
		}()
	}

	if err := srv.ListenAndServe(ctx); err != nil {
		ui.PrintError("Server stopped", err.Error())
		os.Exit(1)
	}
	logger.LogComponentStop("server", "shutdown")
}

func afterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}
