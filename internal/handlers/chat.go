package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/campus-chat/internal/engine"
)

// HandleChat accepts a submission from the page. The form carries either a "message" typed by the
// user or the "topic" key of a chip.
//
// A blank submission is ignored with 204. A submission made while a reply is outstanding is rejected
// with 409. Otherwise the turn runs in the background and the handler answers 202 right away: the
// user message, the indicator and the reply reach the page through the SSE stream.
func (m Main) HandleChat(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		m.logger.Error("Failed to parse form", slog.String(errLoggerKey, err.Error()))
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	topic := strings.TrimSpace(r.FormValue("topic"))
	text := r.FormValue("message")
	if topic == "" && strings.TrimSpace(text) == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if m.conv.State() == engine.StateAwaitingResponse {
		http.Error(w, "Awaiting response", http.StatusConflict)
		return
	}

	// The turn outlives the request, but keeps its values for logging.
	ctx := context.WithoutCancel(r.Context())

	m.turns.Add(1)
	go func() {
		defer m.turns.Done()

		var err error
		if topic != "" {
			err = m.conv.SelectTopic(ctx, topic)
		} else {
			err = m.conv.Submit(ctx, text)
		}
		if err != nil {
			level := slog.LevelError
			if errors.Is(err, engine.ErrBusy) || errors.Is(err, engine.ErrEmptyInput) {
				level = slog.LevelDebug
			}
			m.logger.Log(ctx, level, "Submission rejected",
				slog.String("topic", topic),
				slog.String(errLoggerKey, err.Error()))
		}
	}()

	w.WriteHeader(http.StatusAccepted)
}

// HandleReset clears the conversation. It answers 409 while a reply is outstanding.
func (m Main) HandleReset(w http.ResponseWriter, _ *http.Request) {
	if err := m.conv.Reset(); err != nil {
		if errors.Is(err, engine.ErrBusy) {
			http.Error(w, "Awaiting response", http.StatusConflict)
			return
		}
		m.logger.Error("Failed to reset conversation", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
