package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/samber/lo"
	"github.com/savioxavier/termlink"

	"github.com/integrail/persona-lab/pkg/agency"
	"github.com/integrail/persona-lab/pkg/export"
)

// Runner performs one analysis and reports progress while it runs.
type Runner func(ctx context.Context, brief agency.Brief, reporter agency.Reporter) (*agency.Analysis, error)

type Config struct {
	Model  string                          // shown in the header
	Url    string                          // shown in the header
	OutDir string                          // where ctrl+s exports go
	Run    Runner                          // required
	Check  func(ctx context.Context) error // optional connection test run on start
}

type (
	progressMsg string
	doneMsg     struct {
		analysis *agency.Analysis
		err      error
	}
	checkMsg    struct{ err error }
	exportedMsg struct {
		paths []string
		err   error
	}
)

type phase int

const (
	phaseForm phase = iota
	phaseRunning
	phaseReport
)

const initialPersonas = 2

var (
	headerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF88")).Background(lipgloss.Color("#444444"))
	labelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("5"))
	responseStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle    = lipgloss.NewStyle().Background(lipgloss.Color("330000")).Foreground(lipgloss.Color("#FF3333"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type Model struct {
	ctx      context.Context
	cfg      Config
	phase    phase
	personas []textarea.Model
	product  textarea.Model
	focus    int // index into personas, len(personas) is the product
	viewport viewport.Model
	loader   spinner.Model
	progress chan string
	messages []string
	status   string
	analysis *agency.Analysis
	err      error
}

func New(ctx context.Context, cfg Config) *Model {
	m := &Model{
		ctx:      ctx,
		cfg:      cfg,
		product:  newInput("Describe your product or brand: features, target market, value proposition, positioning...", 8),
		viewport: viewport.New(120, 30),
		loader: spinner.New(
			spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("205"))),
			spinner.WithSpinner(spinner.Dot),
		),
		status: "checking connection...",
	}
	for range initialPersonas {
		m.addPersona()
	}
	m.setFocus(0)
	return m
}

func newInput(placeholder string, height int) textarea.Model {
	ta := textarea.New()
	ta.Placeholder = placeholder
	ta.Prompt = "┃ "
	ta.CharLimit = 2000
	ta.ShowLineNumbers = false
	ta.SetWidth(100)
	ta.SetHeight(height)
	// Remove cursor line styling
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	return ta
}

func (m *Model) addPersona() bool {
	if len(m.personas) >= agency.MaxPersonas {
		return false
	}
	n := len(m.personas) + 1
	m.personas = append(m.personas, newInput(
		fmt.Sprintf("Describe persona %d... (demographics, interests, pain points, buying behavior)", n), 3))
	return true
}

func (m *Model) setFocus(i int) tea.Cmd {
	total := len(m.personas) + 1
	m.focus = (i%total + total) % total
	for j := range m.personas {
		m.personas[j].Blur()
	}
	m.product.Blur()
	if m.focus == len(m.personas) {
		return m.product.Focus()
	}
	return m.personas[m.focus].Focus()
}

// Brief returns the form content as a brief.
func (m *Model) Brief() agency.Brief {
	return agency.Brief{
		Personas: lo.Map(m.personas, func(ta textarea.Model, _ int) string { return ta.Value() }),
		Product:  m.product.Value(),
	}.Normalized()
}

func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textarea.Blink}
	if m.cfg.Check != nil {
		cmds = append(cmds, func() tea.Msg {
			return checkMsg{err: m.cfg.Check(m.ctx)}
		})
	} else {
		m.status = ""
	}
	return tea.Batch(cmds...)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.ctx.Err() != nil {
		return m, tea.Quit
	}
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-8, 5)
		for i := range m.personas {
			m.personas[i].SetWidth(min(msg.Width-4, 120))
		}
		m.product.SetWidth(min(msg.Width-4, 120))
		return m, nil
	case spinner.TickMsg:
		if m.phase != phaseRunning {
			return m, nil
		}
		var cmd tea.Cmd
		m.loader, cmd = m.loader.Update(msg)
		return m, cmd
	case checkMsg:
		m.status = "connection active"
		if msg.err != nil {
			m.status = "connection failed: " + msg.err.Error()
		}
		return m, nil
	case progressMsg:
		m.messages = append(m.messages, string(msg))
		if len(m.messages) > 10 {
			m.messages = m.messages[1:]
		}
		return m, waitForProgress(m.progress)
	case doneMsg:
		m.phase = phaseReport
		m.analysis, m.err = msg.analysis, msg.err
		m.viewport.SetContent(m.reportContent())
		m.viewport.GotoTop()
		return m, nil
	case exportedMsg:
		m.messages = append(m.messages, exportMessages(msg)...)
		m.viewport.SetContent(m.reportContent())
		m.viewport.GotoBottom()
		return m, nil
	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}
	}
	return m, m.updateFocused(msg)
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return tea.Quit, true
	}
	switch m.phase {
	case phaseForm:
		switch msg.String() {
		case "tab":
			return m.setFocus(m.focus + 1), true
		case "shift+tab":
			return m.setFocus(m.focus - 1), true
		case "ctrl+n":
			if m.addPersona() {
				return m.setFocus(len(m.personas) - 1), true
			}
			return nil, true
		case "ctrl+r":
			return m.start(), true
		}
	case phaseRunning:
		return nil, true
	case phaseReport:
		switch msg.String() {
		case "ctrl+s":
			return m.export(), true
		case "ctrl+e":
			m.phase = phaseForm
			m.messages = nil
			return m.setFocus(m.focus), true
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return cmd, true
	}
	return nil, false
}

func (m *Model) updateFocused(msg tea.Msg) tea.Cmd {
	if m.phase != phaseForm {
		return nil
	}
	var cmd tea.Cmd
	if m.focus == len(m.personas) {
		m.product, cmd = m.product.Update(msg)
	} else {
		m.personas[m.focus], cmd = m.personas[m.focus].Update(msg)
	}
	return cmd
}

func (m *Model) start() tea.Cmd {
	brief := m.Brief()
	if err := brief.Validate(); err != nil {
		return nil
	}
	m.phase = phaseRunning
	m.messages = nil
	m.progress = make(chan string, 64)
	progress := m.progress
	run := func() tea.Msg {
		defer close(progress)
		analysis, err := m.cfg.Run(m.ctx, brief, agency.ReporterFn(func(msg string) {
			select {
			case progress <- msg:
			default:
			}
		}))
		return doneMsg{analysis: analysis, err: err}
	}
	return tea.Batch(run, waitForProgress(progress), m.loader.Tick)
}

func waitForProgress(ch <-chan string) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return progressMsg(msg)
	}
}

func (m *Model) export() tea.Cmd {
	analysis, dir := m.analysis, m.cfg.OutDir
	if analysis == nil {
		return nil
	}
	return func() tea.Msg {
		paths, err := export.WriteAll(dir, analysis)
		return exportedMsg{paths: paths, err: err}
	}
}

func exportMessages(msg exportedMsg) []string {
	res := lo.Map(msg.paths, func(path string, _ int) string {
		return responseStyle.Render("Export: ") + "saved to " + termlink.ColorLink(path, fmt.Sprintf("file://%s", path), "italic green")
	})
	if msg.err != nil {
		res = append(res, errorStyle.Render("ERROR: "+msg.err.Error()))
	}
	return res
}

func (m *Model) reportContent() string {
	var sb strings.Builder
	if m.analysis != nil {
		sb.WriteString(m.analysis.Report)
		sb.WriteString("\n\n")
		sb.WriteString(labelStyle.Render("Persona reactions"))
		sb.WriteString("\n")
		for i, r := range m.analysis.Reactions {
			sb.WriteString(fmt.Sprintf("%d. %s\n   %s\n", i+1, m.analysis.Personas[i], responseStyle.Render(r)))
		}
		for _, f := range m.analysis.Failures {
			sb.WriteString(errorStyle.Render(fmt.Sprintf("%s failed: %s", f.Step, f.Message)) + "\n")
		}
	}
	if m.err != nil {
		sb.WriteString(errorStyle.Render("ERROR: "+m.err.Error()) + "\n")
	}
	if len(m.messages) > 0 {
		sb.WriteString("\n" + strings.Join(m.messages, "\n") + "\n")
	}
	return sb.String()
}

func (m *Model) View() string {
	header := headerStyle.Render(fmt.Sprintf("persona-lab · %s @ %s", m.cfg.Model, m.cfg.Url))
	if m.status != "" {
		header += headerStyle.Render("; " + m.status)
	}

	switch m.phase {
	case phaseRunning:
		return header + fmt.Sprintf("\n\n%s Running analysis...\n\n%s\n\n", m.loader.View(), strings.Join(m.messages, "\n"))
	case phaseReport:
		return header + fmt.Sprintf("\n\n%s\n\n%s\n\n", m.viewport.View(),
			helpStyle.Render("↑/↓ scroll · ctrl+s export · ctrl+e edit brief · esc quit"))
	}

	var sb strings.Builder
	sb.WriteString(header + "\n\n")
	for i, p := range m.personas {
		sb.WriteString(labelStyle.Render(fmt.Sprintf("Persona %d", i+1)) + "\n" + p.View() + "\n")
	}
	sb.WriteString(labelStyle.Render("Product/Brand Description") + "\n" + m.product.View() + "\n\n")
	if err := m.Brief().Validate(); err != nil {
		sb.WriteString(errorStyle.Render(err.Error()) + "\n")
	}
	sb.WriteString(helpStyle.Render("tab/shift+tab move · ctrl+n add persona · ctrl+r run analysis · esc quit") + "\n")
	return sb.String()
}
