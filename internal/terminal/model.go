package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/MegaGrindStone/campus-chat/internal/engine"
	"github.com/MegaGrindStone/campus-chat/internal/models"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
)

// Conversation is the chat session driven by the terminal.
type Conversation interface {
	Submit(ctx context.Context, text string) error
	Activate(ctx context.Context, chip models.SuggestionChip) error
	Reset() error
	Replay()
}

// Model is the chat program. It runs inline: conversation output is printed above it and stays in
// the scrollback, while the model only draws the composing indicator and the input.
type Model struct {
	conv    Conversation
	target  *Target
	catalog models.Catalog
	welcome string
	ctx     context.Context
	logger  *slog.Logger

	textarea textarea.Model
	spinner  spinner.Model

	indicator  bool
	inputOn    bool
	submitting bool
	chips      []models.SuggestionChip

	// Lines are printed one batch at a time so they keep their order.
	queue    []string
	printing bool
}

type (
	submittedMsg struct {
		err error
	}
	resetMsg struct {
		err error
	}
	printedMsg struct{}
)

const helpText = "Enter sends the message, Alt+Enter starts a new line.\n" +
	"Commands: /1../n pick a suggestion, /topics list topics, /reset clear the conversation, /quit exit."

const errLoggerKey = "err"

// NewModel creates the chat program for conv, rendered through target. The welcome text is written
// in the bot reply format.
func NewModel(conv Conversation, target *Target, catalog models.Catalog, welcome string, logger *slog.Logger) Model {
	ta := textarea.New()
	ta.Placeholder = "Type your question here..."
	ta.CharLimit = 4000
	ta.ShowLineNumbers = false
	ta.Prompt = "> "
	ta.SetHeight(2)
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter", "ctrl+j"))
	ta.Focus()

	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = target.styles.indicator

	return Model{
		conv:     conv,
		target:   target,
		catalog:  catalog,
		welcome:  welcome,
		ctx:      context.Background(),
		logger:   logger.With(slog.String("module", "terminal")),
		textarea: ta,
		spinner:  s,
		inputOn:  true,
		chips:    catalog.Chips(),
	}
}

// Run runs the program on in and out until /quit or Ctrl+C is entered, or ctx is done. Rendering
// changes sent to the target after Run returns are dropped.
func (m Model) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	m.ctx = ctx

	p := tea.NewProgram(m,
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out),
	)
	m.target.Attach(p)

	_, err := p.Run()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("failed to run chat: %w", err)
	}
	return nil
}

// Init prints the welcome message and the topic chips, then replays the stored conversation.
func (m Model) Init() tea.Cmd {
	intro := m.target.welcome(m.welcome) + "\n" +
		m.target.chipLine(m.chips) + "\n" +
		m.target.notice(helpText)

	return tea.Batch(
		textarea.Blink,
		tea.Sequence(tea.Println(intro), m.replay),
	)
}

// Update handles key presses and the rendering changes sent by the target.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.textarea.SetWidth(msg.Width - 2)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "enter":
			return m.enter()
		}

	case printMsg:
		if msg.chips != nil {
			m.chips = msg.chips
		}
		cmds = append(cmds, m.print(msg.text))

	case indicatorMsg:
		m.indicator = msg.shown
		if m.indicator {
			cmds = append(cmds, m.spinner.Tick)
		}

	case inputMsg:
		m.inputOn = msg.enabled
		if m.inputOn {
			cmds = append(cmds, m.textarea.Focus())
		} else {
			m.textarea.Blur()
		}

	case clearMsg:
		m.indicator = false
		m.chips = nil
		cmds = append(cmds, m.print(m.target.notice("(conversation cleared)")))

	case submittedMsg:
		m.submitting = false
		cmds = append(cmds, m.submitted(msg.err))

	case resetMsg:
		if msg.err != nil {
			cmds = append(cmds, m.print(m.target.notice("The conversation can't be cleared while a reply is pending.")))
		}

	case printedMsg:
		m.printing = false
		cmds = append(cmds, m.flush())

	case spinner.TickMsg:
		if m.indicator {
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	// Only key presses reach the textarea, and only while input is enabled.
	if _, ok := msg.(tea.KeyMsg); ok && m.inputOn {
		m.textarea, cmd = m.textarea.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// View draws the indicator, if shown, above the input.
func (m Model) View() string {
	var sb strings.Builder
	if m.indicator {
		sb.WriteString(m.target.indicatorLine(m.spinner.View()))
		sb.WriteString("\n")
	}
	sb.WriteString(m.textarea.View())
	return sb.String()
}

func (m Model) enter() (tea.Model, tea.Cmd) {
	if !m.inputOn {
		return m, nil
	}
	if m.submitting {
		return m, m.print(m.target.notice("Still waiting for the previous reply."))
	}

	text := m.textarea.Value()
	cmd := strings.TrimSpace(text)
	if cmd == "" {
		return m, nil
	}
	m.textarea.Reset()

	switch cmd {
	case "/quit":
		return m, tea.Quit
	case "/reset":
		return m, m.reset
	case "/topics":
		m.chips = m.catalog.Chips()
		return m, m.print(m.target.chipLine(m.chips))
	case "/help":
		return m, m.print(m.target.notice(helpText))
	}

	if n, ok := chipIndex(cmd); ok {
		if n < 1 || n > len(m.chips) {
			return m, m.print(m.target.notice(fmt.Sprintf("No suggestion /%d.", n)))
		}
		chip := m.chips[n-1]
		m.submitting = true
		return m, m.submit(func(ctx context.Context) error {
			return m.conv.Activate(ctx, chip)
		})
	}

	m.submitting = true
	return m, m.submit(func(ctx context.Context) error {
		return m.conv.Submit(ctx, text)
	})
}

func (m Model) submit(fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return submittedMsg{err: fn(ctx)}
	}
}

func (m *Model) submitted(err error) tea.Cmd {
	switch {
	case err == nil, errors.Is(err, engine.ErrEmptyInput):
		return nil
	case errors.Is(err, engine.ErrBusy):
		return m.print(m.target.notice("Still waiting for the previous reply."))
	default:
		m.logger.Error("Submission failed", slog.String(errLoggerKey, err.Error()))
		return m.print(m.target.notice("The message could not be sent."))
	}
}

func (m Model) reset() tea.Msg {
	return resetMsg{err: m.conv.Reset()}
}

func (m Model) replay() tea.Msg {
	m.conv.Replay()
	return nil
}

// print queues text to be printed above the program.
func (m *Model) print(text string) tea.Cmd {
	m.queue = append(m.queue, strings.TrimRight(text, "\n"))
	return m.flush()
}

func (m *Model) flush() tea.Cmd {
	if m.printing || len(m.queue) == 0 {
		return nil
	}
	text := strings.Join(m.queue, "\n")
	m.queue = nil
	m.printing = true

	return tea.Sequence(tea.Println(text), func() tea.Msg { return printedMsg{} })
}

func chipIndex(cmd string) (int, bool) {
	digits, ok := strings.CutPrefix(cmd, "/")
	if !ok || digits == "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

