// Package tui is the terminal front end: a script list with record and
// playback controls driven by coordinator snapshots.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/satindergrewal/affirmloop/internal/playback"
	"github.com/satindergrewal/affirmloop/internal/recorder"
	"github.com/satindergrewal/affirmloop/internal/state"
	"github.com/satindergrewal/affirmloop/internal/store"

	tea "github.com/charmbracelet/bubbletea"
)

// Engine is the part of the coordinator the TUI drives.
type Engine interface {
	StartRecording(ctx context.Context, id uuid.UUID) error
	StopRecording(ctx context.Context) (recorder.Result, error)
	Play(ctx context.Context, id uuid.UUID, repetitions int, interval time.Duration) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
	SetSpeed(ctx context.Context, rate float64) (float64, error)
	DeleteRecording(ctx context.Context, id uuid.UUID) error
	Snapshot() state.Snapshot
	Subscribe() *state.Listener
	Unsubscribe(l *state.Listener)
}

// Scripts lists the records shown in the panel.
type Scripts interface {
	List() ([]store.Script, error)
}

const speedStep = 0.25

// Model is the root bubbletea model.
type Model struct {
	ctx      context.Context
	engine   Engine
	scripts  Scripts
	listener *state.Listener

	snap     state.Snapshot
	list     []store.Script
	selected int

	width  int
	height int

	errorMessage string
}

// New creates a Model subscribed to engine snapshots. The subscription is
// released when the user quits.
func New(ctx context.Context, engine Engine, scripts Scripts) Model {
	return Model{
		ctx:      ctx,
		engine:   engine,
		scripts:  scripts,
		listener: engine.Subscribe(),
		snap:     engine.Snapshot(),
	}
}

// Init loads the script list and starts reading snapshots.
func (m Model) Init() tea.Cmd {
	return tea.Batch(loadScriptsCmd(m.scripts), waitSnapshotCmd(m.listener))
}

func waitSnapshotCmd(l *state.Listener) tea.Cmd {
	return func() tea.Msg {
		select {
		case snap := <-l.C:
			return snapshotMsg{snap: snap}
		case <-l.Done():
			return nil
		}
	}
}

func loadScriptsCmd(scripts Scripts) tea.Cmd {
	return func() tea.Msg {
		list, err := scripts.List()
		return scriptsMsg{list: list, err: err}
	}
}

// actionCmd runs a coordinator command off the update loop.
func actionCmd(fn func() error, reload bool) tea.Cmd {
	return func() tea.Msg {
		return actionMsg{err: fn(), reload: reload}
	}
}

func clearErrorCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		return clearErrorMsg{}
	})
}

// Update processes messages and returns the updated model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case snapshotMsg:
		prev := m.snap
		m.snap = msg.snap
		cmds := []tea.Cmd{waitSnapshotCmd(m.listener)}
		// recording end and finished processing both change stored audio
		if (prev.IsRecording && !m.snap.IsRecording) || len(prev.Processing) > len(m.snap.Processing) {
			cmds = append(cmds, loadScriptsCmd(m.scripts))
		}
		return m, tea.Batch(cmds...)

	case scriptsMsg:
		if msg.err != nil {
			m.errorMessage = msg.err.Error()
			return m, clearErrorCmd()
		}
		m.list = msg.list
		if m.selected >= len(m.list) {
			m.selected = max(0, len(m.list)-1)
		}
		return m, nil

	case actionMsg:
		var cmds []tea.Cmd
		if msg.err != nil {
			m.errorMessage = msg.err.Error()
			cmds = append(cmds, clearErrorCmd())
		}
		if msg.reload {
			cmds = append(cmds, loadScriptsCmd(m.scripts))
		}
		return m, tea.Batch(cmds...)

	case clearErrorMsg:
		m.errorMessage = ""
		return m, nil
	}
	return m, nil
}

func (m Model) current() (store.Script, bool) {
	if m.selected < 0 || m.selected >= len(m.list) {
		return store.Script{}, false
	}
	return m.list[m.selected], true
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	ctx, eng := m.ctx, m.engine

	switch msg.String() {
	case KeyQuit, KeyCtrlC:
		eng.Unsubscribe(m.listener)
		return m, tea.Quit

	case KeyUp, KeyK:
		if m.selected > 0 {
			m.selected--
		}
		return m, nil

	case KeyDown, KeyJ:
		if m.selected < len(m.list)-1 {
			m.selected++
		}
		return m, nil

	case KeyRecord:
		if m.snap.IsRecording {
			return m, actionCmd(func() error {
				_, err := eng.StopRecording(ctx)
				return err
			}, true)
		}
		sc, ok := m.current()
		if !ok {
			return m, nil
		}
		return m, actionCmd(func() error { return eng.StartRecording(ctx, sc.ID) }, false)

	case KeySpace, KeyEnter:
		sc, ok := m.current()
		switch {
		case m.snap.IsPaused:
			return m, actionCmd(func() error { return eng.Resume(ctx) }, false)
		case m.snap.IsPlaying && (!ok || m.snap.CurrentPlaying == sc.ID):
			return m, actionCmd(func() error { return eng.Pause(ctx) }, false)
		case ok:
			return m, actionCmd(func() error { return eng.Play(ctx, sc.ID, sc.Repetitions, sc.Interval()) }, false)
		}
		return m, nil

	case KeyStop:
		return m, actionCmd(func() error { return eng.Stop(ctx) }, true)

	case KeyFaster, KeySlower:
		rate := m.snap.Speed + speedStep
		if msg.String() == KeySlower {
			rate = m.snap.Speed - speedStep
		}
		rate = min(max(rate, playback.MinSpeed), playback.MaxSpeed)
		return m, actionCmd(func() error {
			_, err := eng.SetSpeed(ctx, rate)
			return err
		}, false)

	case KeyDelete:
		sc, ok := m.current()
		if !ok || !sc.HasAudio() {
			return m, nil
		}
		return m, actionCmd(func() error { return eng.DeleteRecording(ctx, sc.ID) }, true)
	}
	return m, nil
}

// View renders the header, script list and status bar.
func (m Model) View() string {
	width := m.width
	if width <= 0 {
		width = 80
	}
	divider := dividerStyle.Render(strings.Repeat("─", width))

	sections := []string{
		m.renderHeader(),
		divider,
		m.renderList(),
		divider,
		m.renderStatus(),
	}
	if m.errorMessage != "" {
		sections = append(sections, errorStyle.Render("  "+m.errorMessage))
	}
	sections = append(sections, m.renderFooter())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderHeader() string {
	title := titleStyle.Render("AFFIRM")
	route := dimStyle.Render("  speaker")
	if m.snap.IsPrivateRouteActive {
		route = selectedStyle.Render("  🎧 private")
	}
	return title + route
}

func (m Model) renderList() string {
	if len(m.list) == 0 {
		return dimStyle.Render("  No scripts yet. Add one over the API.")
	}
	processing := make(map[uuid.UUID]bool, len(m.snap.Processing))
	for _, id := range m.snap.Processing {
		processing[id] = true
	}

	lines := make([]string, 0, len(m.list))
	for i, sc := range m.list {
		marker := "  "
		if i == m.selected {
			marker = "> "
		}

		audio := dimStyle.Render(" --.-s")
		if sc.HasAudio() {
			audio = fmt.Sprintf(" %4.1fs", sc.AudioDuration)
		}

		var badges []string
		if sc.PrivacyMode {
			badges = append(badges, "🔒")
		}
		switch {
		case m.snap.IsRecording && m.snap.RecordingTarget == sc.ID:
			badges = append(badges, recordingStyle.Render("● REC"))
		case processing[sc.ID]:
			badges = append(badges, processingStyle.Render("⟳ processing"))
		case m.snap.CurrentPlaying == sc.ID && m.snap.IsPaused:
			badges = append(badges, pausedStyle.Render("⏸ paused"))
		case m.snap.CurrentPlaying == sc.ID && m.snap.IsPlaying:
			badges = append(badges, playingStyle.Render("▶ playing"))
		}

		text := truncate(sc.Text, 48)
		if i == m.selected {
			text = selectedStyle.Render(text)
		}
		line := fmt.Sprintf("%s%s%s  x%d", marker, text, audio, sc.Repetitions)
		if len(badges) > 0 {
			line += "  " + strings.Join(badges, " ")
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderStatus() string {
	s := m.snap
	switch {
	case s.IsRecording:
		return fmt.Sprintf("%s %5.1fs %s",
			recordingStyle.Render("● REC"), s.RecordedSeconds, renderMeter(s.InputLevel, s.Speaking))
	case s.IsPlaying || s.IsPaused:
		label := playingStyle.Render("▶ PLAY")
		if s.IsPaused {
			label = pausedStyle.Render("⏸ PAUSE")
		}
		detail := renderProgress(s.PlaybackProgress, 20)
		if s.InInterval {
			detail = dimStyle.Render("waiting...")
		}
		return fmt.Sprintf("%s %d/%d %s %.2gx", label, s.CurrentRepetition, s.TotalRepetitions, detail, s.Speed)
	case len(s.Processing) > 0:
		return processingStyle.Render(fmt.Sprintf("⟳ processing %d recording(s)", len(s.Processing)))
	}
	return dimStyle.Render("○ IDLE")
}

func (m Model) renderFooter() string {
	keys := []struct{ key, desc string }{
		{"r", "record"},
		{"space", "play/pause"},
		{"s", "stop"},
		{"+/-", "speed"},
		{"d", "delete audio"},
		{"q", "quit"},
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = keyStyle.Render(k.key) + dimStyle.Render(" "+k.desc)
	}
	return strings.Join(parts, "  ")
}

func renderMeter(level float64, speaking bool) string {
	const width = 20
	lit := int(level * width)
	lit = min(max(lit, 0), width)
	bar := meterOnStyle.Render(strings.Repeat("█", lit)) + meterOffStyle.Render(strings.Repeat("░", width-lit))
	if speaking {
		bar += playingStyle.Render(" voice")
	}
	return bar
}

func renderProgress(p float64, width int) string {
	filled := int(p * float64(width))
	filled = min(max(filled, 0), width)
	return strings.Repeat("━", filled) + dimStyle.Render(strings.Repeat("─", width-filled))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
