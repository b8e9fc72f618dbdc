package ui

import (
	"fmt"
	"io"
	"os"
	"sync"

	"socialdash/pkg/models"
)

// ASCIILogo is printed above interactive command output
const ASCIILogo = `
    ╔═══════════════════════════════════════════════════════╗
    ║   ___  ___   ___ ___   _   _    ___   _   ___ _  _    ║
    ║  / __|/ _ \ / __|_ _| /_\ | |  |   \ /_\ / __| || |   ║
    ║  \__ \ (_) | (__ | | / _ \| |__| |) / _ \\__ \ __ |   ║
    ║  |___/\___/ \___|___/_/ \_\____|___/_/ \_\___/_||_|   ║
    ║          INSTAGRAM PROFILE INGESTION CONSOLE          ║
    ╚═══════════════════════════════════════════════════════╝
`

// Color functions for terminal output
var (
	Cyan    = colorize("\033[36m%s\033[0m")
	Yellow  = colorize("\033[33m%s\033[0m")
	Red     = colorize("\033[31m%s\033[0m")
	Green   = colorize("\033[32m%s\033[0m")
	Magenta = colorize("\033[35m%s\033[0m")
	Dim     = colorize("\033[2m%s\033[0m")
)

var (
	mu      sync.Mutex
	out     io.Writer = os.Stdout
	quiet   bool
	noColor bool
)

// SetQuietMode suppresses everything but errors
func SetQuietMode(q bool) {
	mu.Lock()
	defer mu.Unlock()
	quiet = q
}

// SetNoColor disables ANSI colors
func SetNoColor(n bool) {
	mu.Lock()
	defer mu.Unlock()
	noColor = n
}

// SetOutput redirects terminal output
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// colorize returns a function that wraps text with ANSI color codes
func colorize(colorString string) func(string) string {
	return func(text string) string {
		mu.Lock()
		plain := noColor
		mu.Unlock()
		if plain {
			return text
		}
		return fmt.Sprintf(colorString, text)
	}
}

func printf(important bool, format string, args ...interface{}) {
	mu.Lock()
	w, q := out, quiet
	mu.Unlock()
	if q && !important {
		return
	}
	fmt.Fprintf(w, format, args...)
}

// PrintLogo prints the ASCII logo with color
func PrintLogo() {
	printf(false, "%s", Cyan(ASCIILogo))
}

// PrintError prints an error message in red
func PrintError(msg string, args ...interface{}) {
	if len(args) > 0 {
		printf(true, "%s\n", Red(msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		printf(true, "%s\n", Red(msg))
	}
}

// PrintSuccess prints a success message in green
func PrintSuccess(msg string) {
	printf(false, "%s\n", Green(msg))
}

// PrintInfo prints an info message in cyan
func PrintInfo(label string, value string) {
	printf(false, "%s: %s\n", Cyan(label), Yellow(value))
}

// PrintWarning prints a warning message in yellow
func PrintWarning(msg string, args ...interface{}) {
	if len(args) > 0 {
		printf(false, "%s\n", Yellow(msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		printf(false, "%s\n", Yellow(msg))
	}
}

// PrintHighlight prints a highlighted message in magenta
func PrintHighlight(msg string) {
	printf(false, "%s\n", Magenta(msg))
}

// PrintJob prints one scrape job line
func PrintJob(job models.ScrapeJob) {
	status := string(job.Status)
	switch job.Status {
	case models.StatusSucceeded:
		status = Green(status)
	case models.StatusFailed, models.StatusTimeout:
		status = Red(status)
	default:
		status = Yellow(status)
	}
	if job.Processing {
		status += Dim(" (processing)")
	}

	line := fmt.Sprintf("%-24s %-12s %s", job.ProfileUsername, job.RunID, status)
	if job.DatasetID != "" {
		line += Dim(" dataset=" + job.DatasetID)
	}
	if job.Error != "" {
		line += " " + Red(job.Error)
	}
	printf(false, "%s\n", line)
}

// PrintIngestResult summarizes an ingestion
func PrintIngestResult(r models.IngestResult) {
	if !r.Success {
		PrintError("Ingestion failed", r.Error)
		return
	}
	if r.Profile != nil {
		PrintInfo("Profile", "@"+r.Profile.Username+" ("+r.Profile.ID+")")
	}
	PrintInfo("Posts", fmt.Sprintf("%d", r.PostCount))
	PrintInfo("Images stored", fmt.Sprintf("%d/%d", r.StoredImageCount, r.TotalImageCount))
	for _, w := range r.Warnings {
		PrintWarning("Warning", w)
	}
}
