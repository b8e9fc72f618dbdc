package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"socialdash/pkg/models"
)

// View implements tea.Model
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	sections := []string{
		titleStyle.Render("SOCIALDASH · SCRAPE JOBS") + "  " + dimStyle.Render("updated "+m.updated.Format("15:04:05")),
		m.panel("Active", m.jobs, true),
		m.panel("Recent", m.history, false),
	}
	if m.showHelp {
		sections = append(sections, helpStyle.Render("q quit · r refresh now · ? hide help"))
	} else {
		sections = append(sections, helpStyle.Render("Press ? for help"))
	}

	out := lipgloss.JoinVertical(lipgloss.Left, sections...)
	if m.width > 0 {
		out = lipgloss.NewStyle().MaxWidth(m.width).Render(out)
	}
	return out
}

func (m Model) panel(title string, jobs []models.ScrapeJob, active bool) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(title))
	b.WriteString("\n")

	if len(jobs) == 0 {
		b.WriteString(dimStyle.Render("  none"))
		return panelStyle.Render(b.String())
	}

	b.WriteString(dimStyle.Render(fmt.Sprintf("  %-22s %-14s %-10s %s", "PROFILE", "RUN", "STATUS", "ELAPSED")))
	for _, job := range jobs {
		b.WriteString("\n")
		b.WriteString(m.row(job, active))
	}
	return panelStyle.Render(b.String())
}

func (m Model) row(job models.ScrapeJob, active bool) string {
	marker := " "
	if active && job.Status == models.StatusRunning {
		marker = m.spinner.View()
	}

	status := statusStyle(job.Status).Render(fmt.Sprintf("%-10s", job.Status))
	line := fmt.Sprintf("%s @%-21s %-14s %s %s", marker, truncate(job.ProfileUsername, 21),
		truncate(job.RunID, 14), status, elapsed(job, m.updated))

	if job.Processing {
		line += " " + headerStyle.Render("ingesting")
	}
	if job.Error != "" {
		line += " " + errorStyle.Render(job.Error)
	}
	return line
}

func elapsed(job models.ScrapeJob, now time.Time) string {
	if job.StartedAt.IsZero() {
		return "-"
	}
	end := now
	if job.FinishedAt != nil {
		end = *job.FinishedAt
	}
	return end.Sub(job.StartedAt).Round(time.Second).String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
