// Package tui renders the scoutflow dashboard: the chat registry on the
// left, the selected chat's conversation, workflow steps, and run
// activity on the right. All state comes from the sync trackers; the UI
// polls their snapshots on a fixed tick.
package tui

import (
	"context"
	"fmt"
	"time"

	"charm.land/bubbles/v2/progress"
	"charm.land/bubbles/v2/textinput"
	tea "charm.land/bubbletea/v2"

	"github.com/scoutflow/scoutflow/internal/db"
	"github.com/scoutflow/scoutflow/internal/models"
	syncer "github.com/scoutflow/scoutflow/internal/sync"
)

const pollInterval = 500 * time.Millisecond

// Pane identifies which right-hand pane is visible.
type Pane int

const (
	PaneConversation Pane = iota
	PaneSteps
	PaneRun
)

func (p Pane) String() string {
	switch p {
	case PaneSteps:
		return "steps"
	case PaneRun:
		return "run"
	default:
		return "chat"
	}
}

// Options configures the dashboard.
type Options struct {
	Client       *db.Client
	Trigger      syncer.Trigger
	Principal    models.Principal
	FailMode     syncer.FailMode
	HighlightTTL time.Duration
}

// tickMsg triggers a snapshot refresh.
type tickMsg time.Time

// chatOpenedMsg carries the trackers for a freshly opened chat.
type chatOpenedMsg struct {
	chatKey string
	conv    *syncer.Conversation
	steps   *syncer.StepTracker
	runs    *syncer.RunTracker
	err     error
}

// actionDoneMsg reports the outcome of a fire-and-forget action.
type actionDoneMsg struct {
	label string
	err   error
}

// Model is the bubbletea model for the dashboard.
type Model struct {
	opts Options
	ctx  context.Context

	registry *syncer.Registry

	// Open-chat state; nil until a chat is opened.
	chatKey string
	conv    *syncer.Conversation
	steps   *syncer.StepTracker
	runs    *syncer.RunTracker

	pane     Pane
	cursor   int
	input    textinput.Model
	progress progress.Model
	theme    Theme

	width  int
	height int

	status   string
	quitting bool
	err      error
}

// NewModel creates the dashboard model. The registry must already be
// started.
func NewModel(ctx context.Context, opts Options, registry *syncer.Registry) Model {
	ti := textinput.New()
	ti.Placeholder = "Message the workflow assistant"
	ti.CharLimit = 2000

	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(30),
	)

	return Model{
		opts:     opts,
		ctx:      ctx,
		registry: registry,
		input:    ti,
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init returns the initial command (start polling).
func (m Model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), m.progress.Init())
}

// visibleChats flattens the registry snapshot in display order.
func (m Model) visibleChats() []models.Chat {
	sets := m.registry.Snapshot()
	out := make([]models.Chat, 0, len(sets.Mine)+len(sets.MyExamples)+len(sets.SystemExamples))
	out = append(out, sets.Mine...)
	out = append(out, sets.MyExamples...)
	out = append(out, sets.SystemExamples...)
	return out
}

// Update handles messages and returns the updated model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyPressMsg:
		return m.handleKey(msg)

	case tickMsg:
		return m, tickCmd()

	case chatOpenedMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("open chat: %v", msg.err)
			return m, nil
		}
		m.closeChat()
		m.chatKey = msg.chatKey
		m.conv = msg.conv
		m.steps = msg.steps
		m.runs = msg.runs
		m.pane = PaneConversation
		m.status = ""
		return m, nil

	case actionDoneMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("%s: %v", msg.label, msg.err)
		} else {
			m.status = msg.label
		}
		return m, nil

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	// The input field swallows everything except escape and enter while
	// focused.
	if m.input.Focused() {
		switch msg.String() {
		case "esc":
			m.input.Blur()
			return m, nil
		case "enter":
			text := m.input.Value()
			m.input.Reset()
			m.input.Blur()
			return m, m.sendCmd(text)
		default:
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			return m, cmd
		}
	}

	chats := m.visibleChats()

	switch msg.String() {
	case "ctrl+c", "q":
		m.quitting = true
		m.closeChat()
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(chats)-1 {
			m.cursor++
		}

	case "enter":
		if m.cursor < len(chats) {
			return m, m.openChatCmd(chats[m.cursor])
		}

	case "tab":
		m.pane = (m.pane + 1) % 3

	case "i":
		if m.conv != nil {
			return m, m.input.Focus()
		}

	case "n":
		return m, m.actionCmd("chat created", func(ctx context.Context) error {
			_, err := m.registry.Create(ctx, "New chat")
			return err
		})

	case "D":
		if m.cursor < len(chats) {
			id := models.RecordKey(chats[m.cursor].ID)
			return m, m.actionCmd("chat deleted", func(ctx context.Context) error {
				return m.registry.Delete(ctx, id)
			})
		}

	case "y":
		if m.cursor < len(chats) {
			id := models.RecordKey(chats[m.cursor].ID)
			return m, m.actionCmd("chat duplicated", func(ctx context.Context) error {
				_, err := m.registry.Duplicate(ctx, id, "")
				return err
			})
		}

	case "s":
		if m.runs != nil {
			runs := m.runs
			return m, m.actionCmd("run stopped", func(ctx context.Context) error {
				return runs.Stop(ctx, "stopped from dashboard")
			})
		}
	}

	return m, nil
}

// openChatCmd starts the per-chat trackers off the UI goroutine.
func (m Model) openChatCmd(chat models.Chat) tea.Cmd {
	opts := m.opts
	ctx := m.ctx
	id := chat.ID

	return func() tea.Msg {
		conv := syncer.NewConversation(opts.Client, opts.Trigger, opts.Principal, opts.FailMode)
		if err := conv.Start(ctx, id); err != nil {
			return chatOpenedMsg{err: err}
		}

		steps := syncer.NewStepTracker(opts.Client, opts.HighlightTTL)
		if err := steps.Start(ctx, id); err != nil {
			conv.Close(ctx)
			return chatOpenedMsg{err: err}
		}

		runs := syncer.NewRunTracker(opts.Client, opts.Principal)
		if err := runs.Start(ctx, id); err != nil {
			conv.Close(ctx)
			steps.Close(ctx)
			return chatOpenedMsg{err: err}
		}

		return chatOpenedMsg{
			chatKey: models.RecordKey(id),
			conv:    conv,
			steps:   steps,
			runs:    runs,
		}
	}
}

func (m Model) sendCmd(text string) tea.Cmd {
	conv := m.conv
	ctx := m.ctx
	return func() tea.Msg {
		if conv == nil {
			return actionDoneMsg{label: "send", err: fmt.Errorf("no chat open")}
		}
		if _, err := conv.Send(ctx, text); err != nil {
			return actionDoneMsg{label: "send", err: err}
		}
		return actionDoneMsg{label: "sent"}
	}
}

func (m Model) actionCmd(label string, fn func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		return actionDoneMsg{label: label, err: fn(cctx)}
	}
}

// closeChat tears down the open chat's trackers.
func (m *Model) closeChat() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if m.conv != nil {
		m.conv.Close(ctx)
		m.conv = nil
	}
	if m.steps != nil {
		m.steps.Close(ctx)
		m.steps = nil
	}
	if m.runs != nil {
		m.runs.Close(ctx)
		m.runs = nil
	}
	m.chatKey = ""
}

// tickCmd returns a command that sends a tick after the poll interval.
func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Run starts the dashboard and blocks until the user quits.
func Run(ctx context.Context, opts Options) error {
	registry := syncer.NewRegistry(opts.Client, opts.Principal)
	if err := registry.Start(ctx); err != nil {
		return fmt.Errorf("start registry: %w", err)
	}
	defer registry.Close(context.Background())

	model := NewModel(ctx, opts, registry)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("dashboard UI error: %w", err)
	}

	// Close any chat left open by the final model state.
	if final, ok := finalModel.(Model); ok {
		final.closeChat()
	}
	return nil
}

// pct computes a ratio for the newest progress event, 0 when unknown.
func pct(e *models.CodeRunEvent) float64 {
	if e == nil || e.Progress == nil || e.Total == nil || *e.Total == 0 {
		return 0
	}
	return float64(*e.Progress) / float64(*e.Total)
}
