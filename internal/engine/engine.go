// Package engine drives a conversation with a question-answering backend: it records every turn in the
// history, shows the composing indicator while a query is outstanding, formats replies and offers
// follow-up suggestions.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/campus-chat/internal/format"
	"github.com/MegaGrindStone/campus-chat/internal/models"
	"github.com/MegaGrindStone/campus-chat/internal/render"
)

// History is the ordered, persisted message history.
type History interface {
	Load() []models.Message
	Append(msg models.Message)
	Messages() []models.Message
	Clear()
}

// Renderer displays the conversation. Implementations guarantee that at most one indicator is shown.
type Renderer interface {
	RenderMessage(msg models.Message, blocks []format.Block)
	RenderIndicator() render.Handle
	RemoveIndicator(h render.Handle)
	RenderSuggestions(chips []models.SuggestionChip)
	SetInputEnabled(enabled bool)
	Clear()
}

// Answerer sends a query to the answering backend. Any error, whether a network failure, a non-success
// status or a malformed body, is treated the same way.
type Answerer interface {
	Ask(ctx context.Context, text string) (models.Reply, error)
}

// SuggestionSource returns follow-up suggestion labels for a matched topic, in display order.
type SuggestionSource interface {
	Suggestions(ctx context.Context, topic string) ([]string, error)
}

// State is the state of the request/response cycle.
type State int

// Engine is a conversation with a single outstanding query at a time.
//
// Submissions made while a query is outstanding are rejected, not queued. When a reply carries a
// matched topic, suggestions are fetched in the background after the reply is rendered. That fetch is
// best effort and unordered: if another submission happens before it completes, the chips are still
// rendered whenever they arrive, possibly after the newer messages.
type Engine struct {
	history     History
	renderer    Renderer
	answerer    Answerer
	suggestions SuggestionSource
	catalog     models.Catalog

	fallback       string
	queryTimeout   time.Duration
	maxSuggestions int
	now            func() time.Time
	logger         *slog.Logger

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup

	// mu serialises state transitions together with history appends and rendering, so each
	// append-then-render sequence is atomic relative to other engine operations.
	mu      sync.Mutex
	state   State
	seq     uint64
	replies int
}

// Option configures an Engine.
type Option func(*Engine)

const (
	// StateIdle accepts submissions.
	StateIdle State = iota
	// StateAwaitingResponse has a query outstanding and rejects submissions.
	StateAwaitingResponse
)

// DefaultFallback is the bot message shown when a query fails.
const DefaultFallback = "Sorry, I encountered an error. Please try again."

// DefaultMaxSuggestions is the number of suggestion chips shown after a matched reply.
const DefaultMaxSuggestions = 3

const errLoggerKey = "err"

var (
	// ErrEmptyInput is returned when the submitted text is empty or whitespace only.
	ErrEmptyInput = errors.New("empty input")
	// ErrBusy is returned when a query is already outstanding.
	ErrBusy = errors.New("awaiting response")
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingResponse:
		return "awaiting_response"
	default:
		return "unknown"
	}
}

// WithSuggestions enables follow-up suggestions for replies that carry a matched topic.
func WithSuggestions(src SuggestionSource) Option {
	return func(e *Engine) {
		e.suggestions = src
	}
}

// WithCatalog sets the topic catalog used to translate topic selections and bind suggestion chips.
func WithCatalog(c models.Catalog) Option {
	return func(e *Engine) {
		e.catalog = c
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger.With(slog.String("module", "engine"))
	}
}

// WithFallback overrides the bot message shown when a query fails.
func WithFallback(text string) Option {
	return func(e *Engine) {
		if strings.TrimSpace(text) != "" {
			e.fallback = text
		}
	}
}

// WithQueryTimeout bounds the time a query may take before the fallback message is shown. By default
// there is no deadline and a stalled backend leaves the indicator visible.
func WithQueryTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.queryTimeout = d
	}
}

// WithMaxSuggestions sets the maximum number of suggestion chips rendered.
func WithMaxSuggestions(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSuggestions = n
		}
	}
}

// WithClock sets the clock used to timestamp messages.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an Engine and loads the history once.
func New(history History, renderer Renderer, answerer Answerer, opts ...Option) *Engine {
	e := &Engine{
		history:        history,
		renderer:       renderer,
		answerer:       answerer,
		catalog:        models.DefaultCatalog(),
		fallback:       DefaultFallback,
		maxSuggestions: DefaultMaxSuggestions,
		now:            time.Now,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.bgCtx, e.bgCancel = context.WithCancel(context.Background())

	for _, msg := range history.Load() {
		if msg.Seq > e.seq {
			e.seq = msg.Seq
		}
	}

	return e
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state
}

// Submit sends text as a user query and blocks until the reply, or the fallback message, has been
// rendered. It returns ErrEmptyInput or ErrBusy when the submission is rejected, in which case nothing
// is recorded or rendered. Backend failures are not returned: they are shown as the fallback message.
func (e *Engine) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	return e.submit(ctx, text, text)
}

// SelectTopic submits a catalog topic. The history shows the topic's label while the backend receives
// its canonical query phrase, e.g. "CS HoD" and "cs hod" for hod_cs. Unknown keys are submitted as is.
func (e *Engine) SelectTopic(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	display, query := key, key
	if t, ok := e.catalog.Lookup(key); ok {
		display, query = t.Label, t.Query
	}
	return e.submit(ctx, display, query)
}

// Activate submits a suggestion chip.
func (e *Engine) Activate(ctx context.Context, chip models.SuggestionChip) error {
	if chip.Topic != "" {
		return e.SelectTopic(ctx, chip.Topic)
	}
	return e.Submit(ctx, chip.Label)
}

// Messages returns the history in display order.
func (e *Engine) Messages() []models.Message {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.history.Messages()
}

// Replay renders the whole history, oldest first.
func (e *Engine) Replay() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, msg := range e.history.Messages() {
		e.renderer.RenderMessage(msg, render.MessageBlocks(msg))
	}
}

// Reset clears the history and the rendered conversation. It returns ErrBusy while a query is
// outstanding.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateAwaitingResponse {
		return ErrBusy
	}
	e.history.Clear()
	e.renderer.Clear()

	e.logger.Info("Conversation reset")
	return nil
}

// Close cancels pending suggestion fetches and waits for them to finish, or for ctx to be done.
func (e *Engine) Close(ctx context.Context) error {
	e.bgCancel()

	done := make(chan struct{})
	go func() {
		e.bg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to wait for suggestion fetches: %w", ctx.Err())
	}
}

func (e *Engine) submit(ctx context.Context, display, query string) error {
	if query == "" || display == "" {
		return ErrEmptyInput
	}

	e.mu.Lock()
	if e.state == StateAwaitingResponse {
		e.mu.Unlock()
		e.logger.Debug("Submission rejected while awaiting response", slog.String("query", query))
		return ErrBusy
	}
	e.state = StateAwaitingResponse

	userMsg := e.newMessage(models.SenderUser, display)
	e.history.Append(userMsg)
	e.renderer.RenderMessage(userMsg, render.MessageBlocks(userMsg))
	indicator := e.renderer.RenderIndicator()
	e.renderer.SetInputEnabled(false)
	e.mu.Unlock()

	reply, err := e.ask(ctx, query)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.renderer.RemoveIndicator(indicator)
	e.renderer.SetInputEnabled(true)

	if err != nil {
		e.logger.Warn("Query failed",
			slog.String("query", query),
			slog.String(errLoggerKey, err.Error()))

		fallback := e.newMessage(models.SenderBot, e.fallback)
		e.history.Append(fallback)
		e.renderer.RenderMessage(fallback, render.MessageBlocks(fallback))
		e.state = StateIdle
		return nil
	}

	botMsg := e.newMessage(models.SenderBot, reply.Text)
	e.history.Append(botMsg)
	e.renderer.RenderMessage(botMsg, render.MessageBlocks(botMsg))
	e.replies++

	if reply.Topic != "" && e.suggestions != nil {
		e.bg.Add(1)
		go e.suggest(reply.Topic, e.replies)
	}

	e.state = StateIdle
	return nil
}

func (e *Engine) ask(ctx context.Context, query string) (models.Reply, error) {
	if e.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.queryTimeout)
		defer cancel()
	}

	return e.answerer.Ask(ctx, query)
}

func (e *Engine) suggest(topic string, reply int) {
	defer e.bg.Done()

	labels, err := e.suggestions.Suggestions(e.bgCtx, topic)
	if err != nil {
		e.logger.Debug("Suggestions unavailable",
			slog.String("topic", topic),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	chips := make([]models.SuggestionChip, 0, e.maxSuggestions)
	for _, label := range labels {
		if len(chips) == e.maxSuggestions {
			break
		}
		if strings.TrimSpace(label) == "" {
			continue
		}
		chips = append(chips, e.catalog.Chip(label))
	}
	if len(chips) == 0 {
		e.logger.Debug("No suggestions for topic", slog.String("topic", topic))
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.replies != reply {
		e.logger.Debug("Rendering suggestions after a newer reply",
			slog.String("topic", topic),
			slog.Int("reply", reply),
			slog.Int("latest", e.replies))
	}
	e.renderer.RenderSuggestions(chips)
}

func (e *Engine) newMessage(sender models.Sender, content string) models.Message {
	e.seq++
	return models.NewMessage(e.seq, sender, content, e.now())
}
