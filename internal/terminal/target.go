// Package terminal is an inline bubbletea front-end for the chat engine. Messages are printed above
// the program with lipgloss styles; the program itself only draws the composing indicator and the
// input.
package terminal

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/MegaGrindStone/campus-chat/internal/format"
	"github.com/MegaGrindStone/campus-chat/internal/models"
	"github.com/MegaGrindStone/campus-chat/internal/render"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Sender delivers messages to a running program. *tea.Program implements it.
type Sender interface {
	Send(msg tea.Msg)
}

// Target is a render.Target that forwards every rendering change to the chat program. Nodes are
// rendered to styled text here, so the program only prints them.
type Target struct {
	styles styles

	mu        sync.Mutex
	sender    Sender
	indicator string
}

type styles struct {
	user      lipgloss.Style
	bot       lipgloss.Style
	time      lipgloss.Style
	strong    lipgloss.Style
	bullet    lipgloss.Style
	indicator lipgloss.Style
	chip      lipgloss.Style
	notice    lipgloss.Style
}

// Messages sent by Target to the program.
type (
	printMsg struct {
		text  string
		chips []models.SuggestionChip
	}
	indicatorMsg struct {
		shown bool
	}
	inputMsg struct {
		enabled bool
	}
	clearMsg struct{}
)

const (
	indicatorText = "typing..."
	indent        = "  "
)

var errDetached = errors.New("terminal is not attached to a program")

// NewTarget creates a Target whose styles are chosen for w. Colors are used only if w is a terminal
// that supports them.
func NewTarget(w io.Writer) *Target {
	r := lipgloss.NewRenderer(w)
	return &Target{
		styles: styles{
			user:      r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
			bot:       r.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
			time:      r.NewStyle().Faint(true),
			strong:    r.NewStyle().Bold(true),
			bullet:    r.NewStyle().Foreground(lipgloss.Color("10")),
			indicator: r.NewStyle().Italic(true).Faint(true),
			chip:      r.NewStyle().Foreground(lipgloss.Color("13")),
			notice:    r.NewStyle().Faint(true),
		},
	}
}

// Attach directs rendering changes to s. Changes made before Attach fail with an error.
func (t *Target) Attach(s Sender) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sender = s
}

// Append prints n above the input. Suggestion chips are numbered from 1 and become the chips the
// /N commands refer to. The indicator is drawn by the program until it is removed.
func (t *Target) Append(n render.Node) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch n.Kind {
	case render.NodeMessage:
		return t.send(printMsg{text: t.message(n)})
	case render.NodeIndicator:
		t.indicator = n.ID
		return t.send(indicatorMsg{shown: true})
	case render.NodeSuggestions:
		return t.send(printMsg{text: t.chipLine(n.Chips), chips: slices.Clone(n.Chips)})
	default:
		return fmt.Errorf("unknown node kind %d", n.Kind)
	}
}

// Remove hides the indicator if id refers to it. Other nodes are already part of the scrollback and
// are left alone.
func (t *Target) Remove(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id == "" || id != t.indicator {
		return nil
	}
	t.indicator = ""
	return t.send(indicatorMsg{shown: false})
}

// SetInputEnabled enables or disables the input.
func (t *Target) SetInputEnabled(enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.send(inputMsg{enabled: enabled})
}

// Clear hides the indicator, forgets the chips and prints a separator.
func (t *Target) Clear() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.indicator = ""
	return t.send(clearMsg{})
}

func (t *Target) send(msg tea.Msg) error {
	if t.sender == nil {
		return errDetached
	}
	t.sender.Send(msg)
	return nil
}

func (t *Target) message(n render.Node) string {
	var sb strings.Builder

	name := t.styles.bot.Render("Bot")
	if n.Sender == models.SenderUser {
		name = t.styles.user.Render("You")
	}
	sb.WriteString(name)
	if n.Time != "" {
		sb.WriteString(" ")
		sb.WriteString(t.styles.time.Render(n.Time))
	}
	sb.WriteString("\n")
	sb.WriteString(t.blocks(n.Blocks))

	return sb.String()
}

func (t *Target) welcome(text string) string {
	return t.styles.bot.Render("Bot") + "\n" + t.blocks(format.Format(text))
}

func (t *Target) notice(text string) string {
	return t.styles.notice.Render(text)
}

func (t *Target) indicatorLine(spinner string) string {
	return indent + spinner + " " + t.styles.indicator.Render(indicatorText)
}

func (t *Target) blocks(blocks []format.Block) string {
	var sb strings.Builder
	for _, b := range blocks {
		switch b.Kind {
		case format.BlockLine:
			sb.WriteString(indent)
			sb.WriteString(t.spans(b.Spans))
			sb.WriteString("\n")
		case format.BlockBreak:
			sb.WriteString("\n")
		case format.BlockListItem:
			sb.WriteString(indent)
			sb.WriteString(t.styles.bullet.Render("•"))
			sb.WriteString(" ")
			sb.WriteString(t.spans(b.Spans))
			sb.WriteString("\n")
		case format.BlockListOpen, format.BlockListClose:
		}
	}
	return sb.String()
}

func (t *Target) spans(spans []format.Span) string {
	var sb strings.Builder
	for _, s := range spans {
		if s.Strong {
			sb.WriteString(t.styles.strong.Render(s.Text))
			continue
		}
		sb.WriteString(s.Text)
	}
	return sb.String()
}

func (t *Target) chipLine(chips []models.SuggestionChip) string {
	parts := make([]string, len(chips))
	for i, c := range chips {
		parts[i] = t.styles.chip.Render(fmt.Sprintf("[/%d] %s", i+1, c.Label))
	}
	return indent + strings.Join(parts, "  ")
}
