package askcmder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/ansi"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	statusStyle = lipgloss.NewStyle().Faint(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

var errInterrupted = errors.New("interrupted")

// askModel is the bubbletea model showing the answer while it streams.
type askModel struct {
	spinner     spinner.Model
	renderer    *glamour.TermRenderer
	updates     <-chan string
	content     string
	done        bool
	interrupted bool
}

// frameMsg carries the newest payload.
type frameMsg string

// doneMsg signals the stream is finished.
type doneMsg struct{}

func newAskModel(updates <-chan string, renderer *glamour.TermRenderer) askModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = statusStyle
	return askModel{
		spinner:  s,
		renderer: renderer,
		updates:  updates,
	}
}

func (m askModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForFrame(m.updates))
}

func waitForFrame(updates <-chan string) tea.Cmd {
	return func() tea.Msg {
		payload, ok := <-updates
		if !ok {
			return doneMsg{}
		}
		return frameMsg(payload)
	}
}

func (m askModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.interrupted = true
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case frameMsg:
		m.content = string(msg)
		return m, waitForFrame(m.updates)

	case doneMsg:
		m.done = true
		return m, tea.Quit
	}

	return m, nil
}

func (m askModel) View() string {
	if m.content == "" {
		if m.done {
			return ""
		}
		return m.spinner.View() + statusStyle.Render(" Waiting for the model...")
	}

	view := m.render(m.content)
	if !m.done && !m.interrupted {
		view += "\n" + m.spinner.View()
	}
	return view + "\n"
}

func (m askModel) render(content string) string {
	rendered, err := m.renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimSpace(rendered)
}

// streamWithBubbleTea renders the answer as markdown until the stream is done.
func streamWithBubbleTea(updates <-chan string, out io.Writer) error {
	// Keys are read from the terminal, not stdin, so piped input still works.
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return streamPlainText(updates, out)
	}
	defer tty.Close()

	renderer, err := newRenderer(out)
	if err != nil {
		return streamPlainText(updates, out)
	}

	p := tea.NewProgram(newAskModel(updates, renderer), tea.WithInput(tty), tea.WithOutput(out))
	final, err := p.Run()
	if err != nil {
		return fmt.Errorf("could not render answer: %w", err)
	}

	if m, ok := final.(askModel); ok && m.interrupted {
		return errInterrupted
	}
	return nil
}

// newRenderer builds a glamour renderer matching the terminal background,
// wrapped to the terminal width.
func newRenderer(out io.Writer) (*glamour.TermRenderer, error) {
	var style ansi.StyleConfig
	if termenv.HasDarkBackground() {
		style = styles.DarkStyleConfig
	} else {
		style = styles.LightStyleConfig
	}

	margin := uint(0)
	style.Document.Margin = &margin
	style.Document.BlockPrefix = ""
	style.Document.BlockSuffix = ""
	style.CodeBlock.Margin = &margin

	width := 0
	if f, ok := out.(*os.File); ok {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil {
			width = w
		}
	}

	return glamour.NewTermRenderer(
		glamour.WithStyles(style),
		glamour.WithWordWrap(width),
	)
}
