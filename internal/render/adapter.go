// Package render projects conversation messages, the transient composing indicator and suggestion chips
// into display nodes, and mounts them on a rendering target.
package render

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/MegaGrindStone/campus-chat/internal/format"
	"github.com/MegaGrindStone/campus-chat/internal/models"
)

// Target is the rendering substrate: a scrollable region that nodes are appended to in chronological
// order, plus the input affordance.
type Target interface {
	// Append adds n at the end of the scroll region and pins the scroll position to the bottom, so the
	// newest node is always visible.
	Append(n Node) error
	// Remove removes the node with the given ID. Removing an absent node is not an error.
	Remove(id string) error
	// SetInputEnabled enables or disables the input affordance.
	SetInputEnabled(enabled bool) error
	// Clear removes every node from the scroll region.
	Clear() error
}

// NodeKind identifies what a Node displays.
type NodeKind int

// Node is a renderable unit appended to a Target.
type Node struct {
	ID     string
	Kind   NodeKind
	Sender models.Sender
	Avatar string

	// Blocks and Time would be filled if Kind is NodeMessage.
	Blocks []format.Block
	Time   string

	// Chips would be filled if Kind is NodeSuggestions.
	Chips []models.SuggestionChip
}

const (
	// NodeMessage displays a conversation message.
	NodeMessage NodeKind = iota
	// NodeIndicator displays the transient composing indicator.
	NodeIndicator
	// NodeSuggestions displays a row of suggestion chips from the bot.
	NodeSuggestions
)

// Handle identifies an indicator inserted by RenderIndicator. The zero Handle refers to no indicator.
type Handle struct {
	id string
}

// Avatars holds the avatar reference shown next to each sender's nodes.
type Avatars struct {
	User string
	Bot  string
}

// Adapter renders messages, indicators and suggestions onto a Target. At most one indicator is on the
// target at any time.
//
// Failures reported by the target are logged and absorbed: rendering never fails the conversation.
type Adapter struct {
	target  Target
	avatars Avatars
	logger  *slog.Logger

	mu        sync.Mutex
	indicator string
	seq       uint64
}

// Option configures an Adapter.
type Option func(*Adapter)

const errLoggerKey = "err"

// DefaultAvatars returns the avatars bundled with the static assets.
func DefaultAvatars() Avatars {
	return Avatars{
		User: "/static/user.svg",
		Bot:  "/static/bot.svg",
	}
}

// WithAvatars overrides the default avatars. Empty fields keep their defaults.
func WithAvatars(avatars Avatars) Option {
	return func(a *Adapter) {
		if avatars.User != "" {
			a.avatars.User = avatars.User
		}
		if avatars.Bot != "" {
			a.avatars.Bot = avatars.Bot
		}
	}
}

// WithLogger sets the logger used to report target failures.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger.With(slog.String("module", "render"))
	}
}

// NewAdapter creates an Adapter rendering onto target.
func NewAdapter(target Target, opts ...Option) *Adapter {
	a := &Adapter{
		target:  target,
		avatars: DefaultAvatars(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RenderMessage appends a node displaying msg with the given formatted content.
func (a *Adapter) RenderMessage(msg models.Message, blocks []format.Block) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.append(a.messageNode(msg, blocks))
}

// MessageNode returns the node RenderMessage would append for msg, without touching the target. It
// lets a front-end draw an initial snapshot of the history.
func (a *Adapter) MessageNode(msg models.Message) Node {
	return a.messageNode(msg, MessageBlocks(msg))
}

// RenderIndicator inserts the composing indicator and returns its handle. If an indicator is already
// outstanding, its handle is returned and nothing is inserted.
func (a *Adapter) RenderIndicator() Handle {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.indicator != "" {
		return Handle{id: a.indicator}
	}

	a.seq++
	id := fmt.Sprintf("indicator-%d", a.seq)
	a.append(a.indicatorNode(id))
	a.indicator = id

	return Handle{id: id}
}

// Indicator returns the node of the outstanding indicator, if any, so a snapshot of the target can
// include it under the ID a later removal refers to.
func (a *Adapter) Indicator() (Node, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.indicator == "" {
		return Node{}, false
	}
	return a.indicatorNode(a.indicator), true
}

// RemoveIndicator removes the indicator referred to by h. It does nothing if that indicator was already
// removed.
func (a *Adapter) RemoveIndicator(h Handle) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if h.id == "" || h.id != a.indicator {
		return
	}
	a.indicator = ""

	if err := a.target.Remove(h.id); err != nil {
		a.logger.Error("Failed to remove indicator",
			slog.String("id", h.id),
			slog.String(errLoggerKey, err.Error()))
	}
}

// RenderSuggestions appends a bot node displaying chips. An empty chip list renders nothing.
func (a *Adapter) RenderSuggestions(chips []models.SuggestionChip) {
	if len(chips) == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.seq++
	a.append(Node{
		ID:     fmt.Sprintf("suggestions-%d", a.seq),
		Kind:   NodeSuggestions,
		Sender: models.SenderBot,
		Avatar: a.avatars.Bot,
		Chips:  chips,
	})
}

// SetInputEnabled enables or disables the input affordance of the target.
func (a *Adapter) SetInputEnabled(enabled bool) {
	if err := a.target.SetInputEnabled(enabled); err != nil {
		a.logger.Error("Failed to toggle input",
			slog.Bool("enabled", enabled),
			slog.String(errLoggerKey, err.Error()))
	}
}

// Clear removes every node from the target, including an outstanding indicator.
func (a *Adapter) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.indicator = ""
	if err := a.target.Clear(); err != nil {
		a.logger.Error("Failed to clear target", slog.String(errLoggerKey, err.Error()))
	}
}

// Avatar returns the avatar reference for sender.
func (a *Adapter) Avatar(sender models.Sender) string {
	return a.avatar(sender)
}

// MessageBlocks formats the content of msg for display. Bot replies are formatted with emphasis and
// lists; user input is shown verbatim.
func MessageBlocks(msg models.Message) []format.Block {
	if msg.Sender == models.SenderUser {
		return format.Plain(msg.Content)
	}
	return format.Format(msg.Content)
}

// MessageNodeID returns the node ID used for the message with the given ID.
func MessageNodeID(messageID string) string {
	return "message-" + messageID
}

func (a *Adapter) avatar(sender models.Sender) string {
	if sender == models.SenderUser {
		return a.avatars.User
	}
	return a.avatars.Bot
}

func (a *Adapter) messageNode(msg models.Message, blocks []format.Block) Node {
	return Node{
		ID:     MessageNodeID(msg.ID),
		Kind:   NodeMessage,
		Sender: msg.Sender,
		Avatar: a.avatar(msg.Sender),
		Blocks: blocks,
		Time:   msg.DisplayTime(),
	}
}

func (a *Adapter) indicatorNode(id string) Node {
	return Node{
		ID:     id,
		Kind:   NodeIndicator,
		Sender: models.SenderBot,
		Avatar: a.avatars.Bot,
	}
}

func (a *Adapter) append(n Node) {
	if err := a.target.Append(n); err != nil {
		a.logger.Error("Failed to append node",
			slog.String("id", n.ID),
			slog.String(errLoggerKey, err.Error()))
	}
}
