package ui

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"socialdash/pkg/models"
)

// Sender delivers a desktop notification
type Sender interface {
	Send(title, message string) error
}

// SenderFunc adapts a function to Sender
type SenderFunc func(title, message string) error

// Send implements Sender
func (f SenderFunc) Send(title, message string) error {
	return f(title, message)
}

func notifySend(title, message string) error {
	return exec.Command("notify-send", "--app-name=socialdash", title, message).Run()
}

func osascript(title, message string) error {
	script := fmt.Sprintf(`display notification %q with title %q`, message, title)
	return exec.Command("osascript", "-e", script).Run()
}

func msgBox(title, message string) error {
	script := fmt.Sprintf(`Add-Type -AssemblyName System.Windows.Forms; `+
		`$n = New-Object System.Windows.Forms.NotifyIcon; $n.Icon = [System.Drawing.SystemIcons]::Information; `+
		`$n.Visible = $true; $n.ShowBalloonTip(5000, '%s', '%s', 'Info')`,
		psQuote(title), psQuote(message))
	return exec.Command("powershell", "-NoProfile", "-NonInteractive", "-Command", script).Run()
}

func psQuote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// Notifier reports finished scrape jobs on the console and the desktop
type Notifier struct {
	sender Sender
}

// NewNotifier picks the desktop sender for the current platform. Unsupported
// platforms only print to the console.
func NewNotifier() *Notifier {
	switch runtime.GOOS {
	case "linux":
		return &Notifier{sender: SenderFunc(notifySend)}
	case "darwin":
		return &Notifier{sender: SenderFunc(osascript)}
	case "windows":
		return &Notifier{sender: SenderFunc(msgBox)}
	default:
		return &Notifier{}
	}
}

// NewNotifierWithSender creates a notifier with an explicit sender
func NewNotifierWithSender(s Sender) *Notifier {
	return &Notifier{sender: s}
}

// JobFinished announces a job that reached a terminal status
func (n *Notifier) JobFinished(job models.ScrapeJob) {
	title, message := jobNotification(job)
	if job.Status == models.StatusSucceeded {
		PrintSuccess(title + ": " + message)
	} else {
		PrintError(title, message)
	}

	if n.sender != nil {
		// desktop delivery is best effort
		_ = n.sender.Send(title, message)
	}
}

func jobNotification(job models.ScrapeJob) (string, string) {
	switch job.Status {
	case models.StatusSucceeded:
		return "Scrape ingested", fmt.Sprintf("@%s is up to date", job.ProfileUsername)
	case models.StatusTimeout:
		return "Scrape timed out", fmt.Sprintf("@%s: run %s timed out", job.ProfileUsername, job.RunID)
	default:
		msg := fmt.Sprintf("@%s: run %s failed", job.ProfileUsername, job.RunID)
		if job.Error != "" {
			msg += " (" + job.Error + ")"
		}
		return "Scrape failed", msg
	}
}
