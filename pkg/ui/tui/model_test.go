package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialdash/pkg/models"
)

type board struct {
	jobs    []models.ScrapeJob
	history []models.ScrapeJob
}

func (b *board) Jobs() []models.ScrapeJob    { return b.jobs }
func (b *board) History() []models.ScrapeJob { return b.history }

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestTickRefreshesFromSource(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	src := &board{jobs: []models.ScrapeJob{{RunID: "r1", ProfileUsername: "alice", Status: models.StatusRunning, StartedAt: start}}}
	m := NewModel(src, time.Millisecond, false)
	require.Len(t, m.Active(), 1)

	finished := start.Add(90 * time.Second)
	src.history = []models.ScrapeJob{{RunID: "r1", ProfileUsername: "alice", Status: models.StatusSucceeded, StartedAt: start, FinishedAt: &finished}}
	src.jobs = nil

	next, cmd := m.Update(TickMsg(start.Add(2 * time.Minute)))
	m = next.(Model)
	assert.Empty(t, m.Active())
	assert.False(t, isQuit(cmd))

	view := m.View()
	assert.Contains(t, view, "alice")
	assert.Contains(t, view, "SUCCEEDED")
	assert.Contains(t, view, "1m30s")
}

func TestQuitWhenIdle(t *testing.T) {
	src := &board{jobs: []models.ScrapeJob{{RunID: "r1", Status: models.StatusRunning}}}
	m := NewModel(src, time.Millisecond, true)

	_, cmd := m.Update(TickMsg(time.Now()))
	assert.False(t, isQuit(cmd))

	src.jobs = []models.ScrapeJob{{RunID: "r1", Status: models.StatusFailed, Error: "run FAILED"}}
	next, cmd := m.Update(TickMsg(time.Now()))
	assert.True(t, isQuit(cmd))
	assert.Equal(t, "", next.(Model).View())
}

func TestKeys(t *testing.T) {
	m := NewModel(&board{}, time.Millisecond, false)

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("?")})
	assert.Contains(t, next.(Model).View(), "r refresh now")

	_, cmd := next.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.True(t, isQuit(cmd))
}

func TestRowShowsProcessingAndError(t *testing.T) {
	src := &board{jobs: []models.ScrapeJob{
		{RunID: "r1", ProfileUsername: "alice", Status: models.StatusRunning, Processing: true},
		{RunID: "r2", ProfileUsername: "bob", Status: models.StatusFailed, Error: "run ABORTED"},
	}}
	view := NewModel(src, time.Millisecond, false).View()
	assert.Contains(t, view, "ingesting")
	assert.Contains(t, view, "run ABORTED")
	assert.Equal(t, 1, strings.Count(view, "@bob"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
