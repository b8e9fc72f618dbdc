package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"socialdash/pkg/logger"
	"socialdash/pkg/models"
	"socialdash/pkg/tracker"
	"socialdash/pkg/ui"
	"socialdash/pkg/ui/tui"
)

var (
	noWait bool
	notify bool
	watch  bool
)

// scrapeCmd starts a scrape and follows it until it is ingested
var scrapeCmd = &cobra.Command{
	Use:   "scrape <username>",
	Short: "Scrape an Instagram profile and ingest it",
	Long: `Start an Apify scrape of the given Instagram profile and poll it until it
finishes. As soon as the run exposes a dataset, ingestion is attempted; the
profile, its posts and their images end up in the configured store.`,
	Example: `  # Scrape and ingest a profile for user "owner"
  socialdash scrape natgeo --user owner

  # Only start the run and print its id
  socialdash scrape @natgeo --user owner --no-wait`,
	Args: cobra.ExactArgs(1),
	Run:  runScrape,
}

func init() {
	rootCmd.AddCommand(scrapeCmd)
	scrapeCmd.Flags().Int("limit", 0, "maximum posts scraped per profile")
	scrapeCmd.Flags().Duration("poll-interval", 0, "how often the run is checked")
	scrapeCmd.Flags().BoolVar(&noWait, "no-wait", false, "start the run and exit without tracking it")
	scrapeCmd.Flags().BoolVar(&watch, "tui", false, "follow the run on a live job board")
	scrapeCmd.Flags().BoolVar(&notify, "notify", true, "send a desktop notification when the scrape finishes")
}

func runScrape(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		ui.PrintError("Failed to initialize", err.Error())
		os.Exit(1)
	}
	defer a.Close()

	userCtx, err := a.userContext(ctx)
	if err != nil {
		ui.PrintError("Missing user", err.Error())
		os.Exit(1)
	}

	a.gateway.EnsureBucket(ctx)

	var notifier *ui.Notifier
	if notify {
		notifier = ui.NewNotifier()
	}
	var schedule tracker.ScheduleFunc
	if watch {
		schedule = afterFunc
	}
	jobs := a.tracker(schedule, func(job models.ScrapeJob, from, to models.JobStatus) {
		if !watch {
			ui.PrintInfo("Status", fmt.Sprintf("%s -> %s", from, to))
		}
	})
	defer jobs.Close()

	username := strings.TrimSpace(args[0])
	ui.PrintInfo("Target Profile", username)

	job, err := jobs.Start(userCtx, username)
	if err != nil {
		logger.WithError(err).WithField("username", username).Error("Failed to start scrape")
		ui.PrintError("Failed to start scrape", err.Error())
		os.Exit(1)
	}
	ui.PrintJob(job)

	if noWait {
		ui.PrintSuccess("Scrape started")
		return
	}

	if watch {
		if err := tui.Run(ctx, jobs, time.Second, true); err != nil {
			ui.PrintError("Job board failed", err.Error())
			os.Exit(1)
		}
		if ctx.Err() != nil || jobs.Running() > 0 {
			ui.PrintWarning("Stopped watching; the run keeps going on Apify", job.RunID)
			os.Exit(1)
		}
	}

	ticker := time.NewTicker(cfg.Tracker.PollInterval)
	defer ticker.Stop()

	for jobs.Running() > 0 {
		select {
		case <-ctx.Done():
			ui.PrintWarning("Interrupted; the run keeps going on Apify", job.RunID)
			os.Exit(1)
		case <-ticker.C:
		}
		jobs.PollOnce(ctx)
		for _, j := range jobs.Jobs() {
			ui.PrintJob(j)
		}
	}

	// A job leaves the active list only after a successful ingestion
	for _, j := range jobs.Jobs() {
		if j.RunID == job.RunID {
			if notifier != nil {
				notifier.JobFinished(j)
			} else {
				ui.PrintError("Scrape failed", j.Error)
			}
			os.Exit(1)
		}
	}
	if notifier != nil {
		for _, j := range jobs.History() {
			if j.RunID == job.RunID {
				notifier.JobFinished(j)
			}
		}
	}

	profiles, err := a.store.ListProfiles(userCtx, cfg.App.UserID)
	if err != nil {
		ui.PrintError("Failed to read stored profiles", err.Error())
		os.Exit(1)
	}
	for _, p := range profiles {
		if strings.EqualFold(p.Username, job.ProfileUsername) {
			ui.PrintInfo("Profile", "@"+p.Username+" ("+p.ID+")")
			ui.PrintInfo("Followers", fmt.Sprintf("%d", p.FollowerCount))
			ui.PrintInfo("Posts", fmt.Sprintf("%d", p.PostCount))
		}
	}
	ui.PrintSuccess("[SCRAPE INGESTED SUCCESSFULLY]")
}
