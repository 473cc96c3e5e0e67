package handlers

import (
	"html/template"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/campus-chat/internal/engine"
	"github.com/MegaGrindStone/campus-chat/internal/models"
)

type homePageData struct {
	Welcome        template.HTML
	WelcomeTime    string
	BotAvatar      string
	Topics         []models.Topic
	Conversation   conversationView
	MaxInputHeight int
}

type conversationView struct {
	Messages  []messageView
	Indicator *indicatorView
	Busy      bool
}

// HandleHome renders the widget page: the welcome message with the quick topic chips, followed by the
// persisted conversation. Later changes arrive through the SSE stream.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	data := homePageData{
		Welcome:        m.welcome,
		WelcomeTime:    models.FormatClock(m.now()),
		BotAvatar:      m.nodes.Avatar(models.SenderBot),
		Topics:         m.catalog,
		Conversation:   m.conversation(),
		MaxInputHeight: m.maxInputHeight,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to render home page",
			slog.String("path", r.URL.Path),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

// HandleConversation renders the current conversation as a fragment: the messages, the composing
// indicator while a reply is pending, and the busy state. The page fetches it whenever its SSE stream
// (re)connects, to catch up on the changes published while it was not subscribed.
func (m Main) HandleConversation(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := m.templates.ExecuteTemplate(w, "conversation", m.conversation()); err != nil {
		m.logger.Error("Failed to render conversation",
			slog.String("path", r.URL.Path),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func (m Main) conversation() conversationView {
	messages := m.conv.Messages()

	view := conversationView{
		Messages: make([]messageView, len(messages)),
		Busy:     m.conv.State() == engine.StateAwaitingResponse,
	}
	for i, msg := range messages {
		view.Messages[i] = newMessageView(m.nodes.MessageNode(msg))
	}
	if n, ok := m.nodes.Indicator(); ok {
		view.Indicator = &indicatorView{ID: n.ID, Avatar: n.Avatar}
	}
	return view
}
