package tui

import (
	"fmt"
	"strings"

	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/scoutflow/scoutflow/internal/models"
	syncer "github.com/scoutflow/scoutflow/internal/sync"
)

// Theme holds the color scheme for the dashboard.
type Theme struct {
	Accent  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Accent:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) accentStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Accent)
}

func (t Theme) successStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// View renders the dashboard.
func (m Model) View() tea.View {
	if m.quitting {
		return tea.NewView("")
	}

	left := m.renderChatList()
	right := m.renderPane()

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		lipgloss.NewStyle().Width(34).Render(left),
		right,
	)

	var b strings.Builder
	b.WriteString(m.theme.accentStyle().Bold(true).Render("scoutflow"))
	b.WriteString("  ")
	b.WriteString(m.theme.hintStyle().Render(fmt.Sprintf("[%s]", m.pane)))
	b.WriteString("\n\n")
	b.WriteString(body)
	b.WriteString("\n")

	if m.input.Focused() {
		b.WriteString("\n" + m.input.View() + "\n")
	}

	if m.status != "" {
		b.WriteString("\n" + m.theme.hintStyle().Render(m.status) + "\n")
	}

	b.WriteString("\n" + m.theme.hintStyle().Render(
		"enter open · tab pane · i message · n new · y duplicate · D delete · s stop run · q quit") + "\n")

	return tea.NewView(b.String())
}

func (m Model) renderChatList() string {
	sets := m.registry.Snapshot()
	var b strings.Builder
	idx := 0

	section := func(heading string, chats []models.Chat) {
		if len(chats) == 0 {
			return
		}
		b.WriteString(m.theme.hintStyle().Render(heading) + "\n")
		for _, c := range chats {
			title := c.Title
			if title == "" {
				title = "(untitled)"
			}
			line := "  " + title
			if idx == m.cursor {
				line = m.theme.accentStyle().Render("> " + title)
			}
			if models.RecordKey(c.ID) == m.chatKey {
				line += m.theme.successStyle().Render(" •")
			}
			b.WriteString(line + "\n")
			idx++
		}
	}

	section("Your chats", sets.Mine)
	section("Your examples", sets.MyExamples)
	section("Examples", sets.SystemExamples)

	if idx == 0 {
		b.WriteString(m.theme.hintStyle().Render("No chats yet. Press n.") + "\n")
	}
	return b.String()
}

func (m Model) renderPane() string {
	if m.conv == nil {
		return m.theme.hintStyle().Render("Select a chat and press enter.")
	}

	switch m.pane {
	case PaneSteps:
		return m.renderSteps()
	case PaneRun:
		return m.renderRun()
	default:
		return m.renderConversation()
	}
}

func (m Model) renderConversation() string {
	entries := m.conv.Snapshot()
	if len(entries) == 0 {
		return m.theme.hintStyle().Render("No messages yet.")
	}

	// Show the tail that plausibly fits on screen.
	const maxShown = 20
	if len(entries) > maxShown {
		entries = entries[len(entries)-maxShown:]
	}

	var b strings.Builder
	for _, e := range entries {
		prefix := "you"
		if e.Message.Role == models.RoleAssistant {
			prefix = "assistant"
		}
		line := fmt.Sprintf("%s: %s", m.theme.accentStyle().Render(prefix), e.Message.Content)

		switch e.State {
		case syncer.DeliverySending:
			line += m.theme.hintStyle().Render(" (sending)")
		case syncer.DeliveryFailed:
			line += m.theme.errorStyle().Render(" (failed)")
		}
		if e.Message.TextIsStreaming {
			line += m.theme.hintStyle().Render(" ▌")
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func (m Model) renderSteps() string {
	view := m.steps.Snapshot()
	if view.Source == models.SourceNone {
		return m.theme.hintStyle().Render("No workflow steps yet.")
	}

	highlighted := make(map[string]bool, len(view.Updating))
	for _, id := range view.Updating {
		highlighted[id] = true
	}

	var b strings.Builder
	b.WriteString(m.theme.hintStyle().Render(fmt.Sprintf("source: %s", view.Source)) + "\n\n")
	for _, s := range view.Steps {
		marker := "  "
		switch {
		case s.Status == models.StepStatusComplete:
			marker = m.theme.successStyle().Render("✓ ")
		case s.StepNumber == view.CurrentStep:
			marker = m.theme.accentStyle().Render("▶ ")
		}
		line := fmt.Sprintf("%s%d. %s", marker, s.StepNumber, s.Title)
		if highlighted[s.ID] {
			line = m.theme.accentStyle().Bold(true).Render(line)
		}
		b.WriteString(line + "\n")
		if s.Description != "" {
			b.WriteString(m.theme.hintStyle().Render("     "+s.Description) + "\n")
		}
	}
	return b.String()
}

func (m Model) renderRun() string {
	view := m.runs.Snapshot()
	if view.Run == nil {
		return m.theme.hintStyle().Render("No runs for this chat.")
	}

	var b strings.Builder
	state := view.Run.Status
	if view.Run.InProgress {
		state = m.theme.accentStyle().Render(state + " (in progress)")
	} else if view.Run.Status == models.RunStatusDone {
		state = m.theme.successStyle().Render(state)
	} else {
		state = m.theme.errorStyle().Render(state)
	}
	b.WriteString("run: " + state + "\n")

	progressEvents := m.runs.ProgressEvents()
	if len(progressEvents) > 0 {
		newest := progressEvents[0]
		b.WriteString(m.progress.ViewAs(pct(&newest)))
		b.WriteString(fmt.Sprintf(" %d/%d\n", *newest.Progress, *newest.Total))
	}

	if len(view.RunMessages) > 0 {
		b.WriteString("\n")
		msgs := view.RunMessages
		const maxShown = 10
		if len(msgs) > maxShown {
			msgs = msgs[len(msgs)-maxShown:]
		}
		for _, rm := range msgs {
			b.WriteString(fmt.Sprintf("[%s] %s\n", rm.CreatedAt.Format("15:04:05"), rm.Text))
		}
	}

	calls := m.runs.FunctionCallEvents()
	if len(calls) > 0 {
		b.WriteString("\n" + m.theme.hintStyle().Render(fmt.Sprintf("%d function calls", len(calls))) + "\n")
	}
	return b.String()
}
