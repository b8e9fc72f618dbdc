// Package tui renders a live board of scrape jobs with bubbletea.
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"socialdash/pkg/models"
)

// Source is read on every refresh
type Source interface {
	Jobs() []models.ScrapeJob
	History() []models.ScrapeJob
}

// TickMsg triggers a refresh from the Source
type TickMsg time.Time

// Model is the job board state
type Model struct {
	source       Source
	refresh      time.Duration
	quitWhenIdle bool

	spinner spinner.Model
	jobs    []models.ScrapeJob
	history []models.ScrapeJob
	updated time.Time

	width    int
	height   int
	showHelp bool
	quitting bool
}

// NewModel creates a board over source. With quitWhenIdle the program exits
// once no job is RUNNING.
func NewModel(source Source, refresh time.Duration, quitWhenIdle bool) Model {
	if refresh <= 0 {
		refresh = time.Second
	}
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = headerStyle

	m := Model{
		source:       source,
		refresh:      refresh,
		quitWhenIdle: quitWhenIdle,
		spinner:      s,
	}
	m.pull(time.Now())
	return m
}

func (m *Model) pull(now time.Time) {
	m.jobs = m.source.Jobs()
	m.history = m.source.History()
	m.updated = now
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m Model) running() int {
	n := 0
	for _, job := range m.jobs {
		if job.Status == models.StatusRunning {
			n++
		}
	}
	return n
}

// Active returns the jobs currently shown
func (m Model) Active() []models.ScrapeJob {
	return m.jobs
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.tick())
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "?":
			m.showHelp = !m.showHelp
		case "r":
			m.pull(time.Now())
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case TickMsg:
		m.pull(time.Time(msg))
		if m.quitWhenIdle && m.running() == 0 {
			m.quitting = true
			return m, tea.Quit
		}
		return m, m.tick()
	}
	return m, nil
}
