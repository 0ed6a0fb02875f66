// Package browser is the interactive terminal UI over the hanging
// engine: it shows the active stage's viewport grid and lets the user
// step through stages and switch protocols.
package browser

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mrsinham/dicomhang/internal/engine"
	"github.com/mrsinham/dicomhang/internal/metadata"
	"github.com/mrsinham/dicomhang/internal/protocol"
)

// layoutBridge receives engine output on whatever goroutine the engine
// runs and hands it to the UI loop on its next tick.
type layoutBridge struct {
	mu     sync.Mutex
	update engine.LayoutUpdate
}

func (b *layoutBridge) UpdateViewports(update engine.LayoutUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.update = update
}

func (b *layoutBridge) RerenderViewport(index int, data engine.ViewportData) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if index < len(b.update.ViewportData) {
		b.update.ViewportData[index] = data
	}
}

func (b *layoutBridge) snapshot() engine.LayoutUpdate {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.update
}

type tickMsg time.Time

// Model is the bubbletea model for the stage browser.
type Model struct {
	eng    *engine.Engine
	bridge *layoutBridge

	cursor   int
	width    int
	quitting bool
}

// Run builds an engine over the given collaborators and drives the
// browser until the user quits.
func Run(library *protocol.Library, studies []*metadata.Study,
	priors map[string][]metadata.StudySummary, source metadata.Source, logger *slog.Logger) error {

	bridge := &layoutBridge{}
	eng, err := engine.New(bridge, library, studies, priors, source, &engine.Options{Logger: logger})
	if err != nil {
		return err
	}

	m := &Model{eng: eng, bridge: bridge}
	_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tick()
}

// tick repaints periodically so async prior matches show up without a
// keypress.
func tick() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tickMsg:
		return m, tick()

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "n", "right":
			m.eng.NextStage()
		case "p", "left":
			m.eng.PreviousStage()
		case "down", "j":
			if m.cursor < len(m.rows())-1 {
				m.cursor++
			}
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "enter":
			rows := m.rows()
			if m.cursor < len(rows) {
				m.eng.SetProtocol(rows[m.cursor].Protocol)
			}
		case "r":
			m.eng.Reset()
		}
	}
	return m, nil
}

// rows returns the protocol picker entries, best score first.
func (m *Model) rows() []engine.MatchRow {
	rows := m.eng.MatchStore().All()
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Score > rows[j].Score
	})
	return rows
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	header := titleStyle.Render("dicomhang")

	current := m.eng.CurrentProtocol()
	stageLine := subtitleStyle.Render(fmt.Sprintf("Protocol: %s — stage %d/%d",
		current.Name, m.eng.CurrentStageIndex()+1, m.eng.StageCount()))

	grid := RenderLayout(m.bridge.snapshot())

	var picker string
	for i, row := range m.rows() {
		line := fmt.Sprintf("  %s (score %.0f)", row.Protocol.Name, row.Score)
		if row.Selected {
			line += " ●"
		}
		if i == m.cursor {
			line = selectedStyle.Render("›" + line[1:])
		}
		picker += line + "\n"
	}

	help := helpStyle.Render("n/p stages · ↑/↓ protocols · enter select · r reset · q quit")

	return lipgloss.JoinVertical(lipgloss.Left, header, stageLine, grid, picker, help)
}

// RenderLayout draws a layout update as a bordered grid, one cell per
// viewport slot, row by row.
func RenderLayout(update engine.LayoutUpdate) string {
	if update.Rows == 0 || update.Columns == 0 {
		return ""
	}

	var rows []string
	for r := 0; r < update.Rows; r++ {
		var cells []string
		for col := 0; col < update.Columns; col++ {
			index := r*update.Columns + col
			if index < len(update.ViewportData) {
				cells = append(cells, renderCell(update.ViewportData[index]))
			} else {
				cells = append(cells, emptyCellStyle.Render("(no viewport)"))
			}
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func renderCell(data engine.ViewportData) string {
	if data.ImageID == "" {
		return emptyCellStyle.Render(fmt.Sprintf("[%d] empty", data.ViewportIndex))
	}
	body := fmt.Sprintf("[%d] study %s\nseries %s\nimage #%d %s",
		data.ViewportIndex,
		shorten(data.StudyInstanceUID),
		shorten(data.SeriesInstanceUID),
		data.CurrentImageIDIndex,
		shorten(data.SOPInstanceUID))
	return cellStyle.Render(body)
}

// shorten keeps UIDs readable in fixed-width cells.
func shorten(uid string) string {
	if len(uid) <= 18 {
		return uid
	}
	return "…" + uid[len(uid)-17:]
}
