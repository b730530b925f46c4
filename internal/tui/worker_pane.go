package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/aristath/delegator/internal/events"
)

// workerState tracks one spawned worker for display.
type workerState struct {
	AgentTaskID string
	TaskID      string
	WorkerType  string
	Description string
	Status      string // "running", "completed", "failed", "cancelled"
	Output      []string
	StartTime   time.Time
	Duration    time.Duration
}

// WorkerPaneModel shows the worker list and a scrollable output viewport
// for the selected worker.
type WorkerPaneModel struct {
	workers     map[string]*workerState // agentTaskID -> state
	workerOrder []string                // insertion order for display
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
	updateTag   int // for debouncing viewport refreshes
}

// NewWorkerPaneModel creates a new worker pane model.
func NewWorkerPaneModel() WorkerPaneModel {
	vp := viewport.New(0, 0)
	return WorkerPaneModel{
		workers:  make(map[string]*workerState),
		viewport: vp,
	}
}

// tickMsg debounces viewport updates during output bursts.
type tickMsg struct {
	tag int
}

// Update handles messages for the worker pane.
func (m WorkerPaneModel) Update(msg tea.Msg) (WorkerPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeViewport()

	case tea.KeyMsg:
		if !m.focused {
			break
		}

		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.workerOrder)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.AgentSpawnedEvent:
		if _, exists := m.workers[msg.ID]; !exists {
			m.workers[msg.ID] = &workerState{
				AgentTaskID: msg.ID,
				TaskID:      msg.TaskID,
				WorkerType:  msg.WorkerType,
				Description: msg.Description,
				Status:      "running",
				Output:      make([]string, 0),
				StartTime:   msg.Timestamp,
			}
			m.workerOrder = append(m.workerOrder, msg.ID)
			if len(m.workerOrder) == 1 {
				m.selectedIdx = 0
				m.updateViewportContent()
			}
		}

	case events.AgentOutputEvent:
		if worker, exists := m.workers[msg.ID]; exists {
			worker.Output = append(worker.Output, msg.Line)
			if m.selectedAgentTaskID() == msg.ID {
				m.updateTag++
				tag := m.updateTag
				return m, tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
					return tickMsg{tag: tag}
				})
			}
		}

	case events.AgentCompletedEvent:
		if worker, exists := m.workers[msg.ID]; exists {
			worker.Status = "completed"
			worker.Duration = msg.Duration
			worker.Output = append(worker.Output, fmt.Sprintf("\n[Completed in %v]", msg.Duration))
			if m.selectedAgentTaskID() == msg.ID {
				m.updateViewportContent()
			}
		}

	case events.AgentFailedEvent:
		if worker, exists := m.workers[msg.ID]; exists {
			worker.Status = "failed"
			worker.Duration = msg.Duration
			worker.Output = append(worker.Output, fmt.Sprintf("\n[Failed with exit code %d]", msg.ExitCode))
			if m.selectedAgentTaskID() == msg.ID {
				m.updateViewportContent()
			}
		}

	case events.AgentCancelledEvent:
		if worker, exists := m.workers[msg.ID]; exists {
			worker.Status = "cancelled"
			worker.Output = append(worker.Output, "\n[Cancelled]")
			if m.selectedAgentTaskID() == msg.ID {
				m.updateViewportContent()
			}
		}

	case tickMsg:
		if msg.tag == m.updateTag {
			m.updateViewportContent()
		}
	}

	return m, cmd
}

// View renders the worker pane.
func (m WorkerPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	listWidth := 28
	viewportWidth := m.width - listWidth - 4

	listContent := m.renderWorkerList(listWidth)
	viewportContent := m.viewport.View()

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		listContent,
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(viewportContent),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

// renderWorkerList renders the worker list column.
func (m WorkerPaneModel) renderWorkerList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Workers")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.workerOrder) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	} else {
		for i, id := range m.workerOrder {
			worker := m.workers[id]
			icon := m.StatusIcon(worker.Status)

			label := worker.TaskID
			if label == "" {
				label = worker.AgentTaskID
			}
			if len(label) > width-6 {
				label = label[:width-9] + "..."
			}

			line := fmt.Sprintf("%s %s", icon, label)
			if i == m.selectedIdx {
				line = lipgloss.NewStyle().
					Background(lipgloss.Color("62")).
					Foreground(lipgloss.Color("0")).
					Render(line)
			}
			b.WriteString(line)
			b.WriteString("\n")

			if worker.Status == "running" {
				elapsed := humanize.RelTime(worker.StartTime, time.Now(), "", "")
				b.WriteString(StyleStatusPending.Render("  " + worker.WorkerType + " · " + strings.TrimSpace(elapsed)))
				b.WriteString("\n")
			}
		}
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled status indicator.
func (m WorkerPaneModel) StatusIcon(status string) string {
	switch status {
	case "running":
		return StyleStatusRunning.Render("●")
	case "completed":
		return StyleStatusComplete.Render("✓")
	case "failed":
		return StyleStatusFailed.Render("✗")
	case "cancelled":
		return StyleStatusCancelled.Render("◌")
	default:
		return StyleStatusPending.Render("○")
	}
}

// selectedAgentTaskID returns the agent task ID of the selected worker.
func (m WorkerPaneModel) selectedAgentTaskID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.workerOrder) {
		return m.workerOrder[m.selectedIdx]
	}
	return ""
}

// updateViewportContent fills the viewport with the selected worker's output.
func (m *WorkerPaneModel) updateViewportContent() {
	id := m.selectedAgentTaskID()
	if id == "" {
		m.viewport.SetContent("Waiting for workers...")
		return
	}

	worker, exists := m.workers[id]
	if !exists {
		m.viewport.SetContent("Waiting for workers...")
		return
	}

	header := fmt.Sprintf("%s (%s)\n%s\n\n", worker.AgentTaskID, worker.WorkerType, worker.Description)
	m.viewport.SetContent(header + strings.Join(worker.Output, "\n"))
	m.viewport.GotoBottom()
}

// resizeViewport resizes the viewport based on pane dimensions.
func (m *WorkerPaneModel) resizeViewport() {
	listWidth := 28
	viewportWidth := m.width - listWidth - 4
	viewportHeight := m.height - 4

	if viewportWidth < 10 {
		viewportWidth = 10
	}
	if viewportHeight < 5 {
		viewportHeight = 5
	}

	m.viewport.Width = viewportWidth
	m.viewport.Height = viewportHeight
}

// SetSize updates the pane dimensions.
func (m *WorkerPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *WorkerPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
