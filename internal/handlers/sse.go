package handlers

import (
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"strings"

	"github.com/MegaGrindStone/campus-chat/internal/format"
	"github.com/MegaGrindStone/campus-chat/internal/models"
	"github.com/MegaGrindStone/campus-chat/internal/render"
	"github.com/tmaxmax/go-sse"
)

// Publisher publishes server-sent events. *sse.Server implements it.
type Publisher interface {
	Publish(e *sse.Message, topics ...string) error
}

// SSETarget is a render.Target that turns every rendering change into a server-sent event. Nodes are
// rendered with the page's partial templates, so the browser only inserts the received fragments.
type SSETarget struct {
	pub       Publisher
	templates *template.Template
	logger    *slog.Logger
}

type messageView struct {
	ID      string
	Sender  models.Sender
	Avatar  string
	Time    string
	Content template.HTML
}

type indicatorView struct {
	ID     string
	Avatar string
}

type suggestionsView struct {
	ID     string
	Avatar string
	Chips  []models.SuggestionChip
}

// SSE event types for rendering changes.
const (
	appendSSEType = "append"
	removeSSEType = "remove"
	inputSSEType  = "input"
	resetSSEType  = "reset"
	closeSSEType  = "closeChat"
)

// NewSSETarget creates an SSETarget publishing to pub.
func NewSSETarget(pub Publisher, tmpl *template.Template, logger *slog.Logger) SSETarget {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return SSETarget{
		pub:       pub,
		templates: tmpl,
		logger:    logger.With(slog.String("module", "sse")),
	}
}

// Append publishes the rendered node as an "append" event.
func (s SSETarget) Append(n render.Node) error {
	var sb strings.Builder
	var err error
	switch n.Kind {
	case render.NodeMessage:
		err = s.templates.ExecuteTemplate(&sb, "message", newMessageView(n))
	case render.NodeIndicator:
		err = s.templates.ExecuteTemplate(&sb, "indicator", indicatorView{ID: n.ID, Avatar: n.Avatar})
	case render.NodeSuggestions:
		err = s.templates.ExecuteTemplate(&sb, "suggestions", suggestionsView{
			ID:     n.ID,
			Avatar: n.Avatar,
			Chips:  n.Chips,
		})
	default:
		return fmt.Errorf("unknown node kind %d", n.Kind)
	}
	if err != nil {
		return fmt.Errorf("failed to render node %s: %w", n.ID, err)
	}

	return s.publish(appendSSEType, sb.String())
}

// Remove publishes a "remove" event carrying the node ID.
func (s SSETarget) Remove(id string) error {
	return s.publish(removeSSEType, id)
}

// SetInputEnabled publishes an "input" event carrying "enabled" or "disabled".
func (s SSETarget) SetInputEnabled(enabled bool) error {
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	return s.publish(inputSSEType, state)
}

// Clear publishes a "reset" event.
func (s SSETarget) Clear() error {
	return s.publish(resetSSEType, "reset")
}

func (s SSETarget) publish(typ, data string) error {
	msg := sse.Message{
		Type: sse.Type(typ),
	}
	msg.AppendData(data)

	if err := s.pub.Publish(&msg); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", typ, err)
	}
	s.logger.Debug("Published", slog.String("type", typ))
	return nil
}

func newMessageView(n render.Node) messageView {
	return messageView{
		ID:      n.ID,
		Sender:  n.Sender,
		Avatar:  n.Avatar,
		Time:    n.Time,
		Content: format.HTML(n.Blocks),
	}
}
