package handlers

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	campuschat "github.com/MegaGrindStone/campus-chat"
	"github.com/MegaGrindStone/campus-chat/internal/engine"
	"github.com/MegaGrindStone/campus-chat/internal/models"
	"github.com/MegaGrindStone/campus-chat/internal/render"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/tmaxmax/go-sse"
	"github.com/yuin/goldmark"
)

// Conversation is the chat session served by the web front-end.
type Conversation interface {
	Submit(ctx context.Context, text string) error
	SelectTopic(ctx context.Context, key string) error
	Reset() error
	Messages() []models.Message
	State() engine.State
}

// NodeBuilder builds the display node of a stored message, so the page can be drawn with the same
// nodes the live stream appends.
type NodeBuilder interface {
	MessageNode(msg models.Message) render.Node
	Indicator() (render.Node, bool)
	Avatar(sender models.Sender) string
}

// Main handles the web front-end of the chat widget: the page itself, the endpoints the page posts
// to, and the server-sent events stream that carries every rendering change to the browser.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	conv  Conversation
	nodes NodeBuilder

	catalog        models.Catalog
	welcome        template.HTML
	maxInputHeight int
	allowedOrigins []string

	now    func() time.Time
	turns  *sync.WaitGroup
	logger *slog.Logger
}

// Option configures Main.
type Option func(*mainConfig)

type mainConfig struct {
	catalog         models.Catalog
	welcomeMarkdown string
	maxInputHeight  int
	allowedOrigins  []string
	logger          *slog.Logger
}

// DefaultWelcome is the markdown shown above the conversation when none is configured.
const DefaultWelcome = `**Hi! I'm the campus assistant.**

Ask me anything about the campus: admissions, fees, departments, hostels, placements, library, and more.

**Quick topics:**

- Admissions, fees, scholarships
- Library hours and borrowing rules
- Departments and HoDs (e.g., CS HoD)
- Hostel rules and canteen timings
- Transport, placements, academic calendar

What would you like to know?`

// DefaultMaxInputHeight is the height in pixels the input grows to before it scrolls.
const DefaultMaxInputHeight = 160

const errLoggerKey = "err"

// WithCatalog sets the topics offered as quick topic chips under the welcome message.
func WithCatalog(c models.Catalog) Option {
	return func(cfg *mainConfig) {
		cfg.catalog = c
	}
}

// WithWelcome sets the welcome message, written in markdown.
func WithWelcome(markdown string) Option {
	return func(cfg *mainConfig) {
		cfg.welcomeMarkdown = markdown
	}
}

// WithMaxInputHeight sets the height in pixels the input grows to before it scrolls.
func WithMaxInputHeight(px int) Option {
	return func(cfg *mainConfig) {
		if px > 0 {
			cfg.maxInputHeight = px
		}
	}
}

// WithAllowedOrigins sets the origins allowed to embed the widget's endpoints cross-origin.
func WithAllowedOrigins(origins []string) Option {
	return func(cfg *mainConfig) {
		cfg.allowedOrigins = origins
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *mainConfig) {
		cfg.logger = logger
	}
}

// ParseTemplates parses the page and partial templates from the embedded filesystem.
func ParseTemplates() (*template.Template, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		campuschat.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return tmpl, nil
}

// NewSSEServer creates the server-sent events server every page subscribes to.
func NewSSEServer() *sse.Server {
	return &sse.Server{
		OnSession: func(s *sse.Session) (sse.Subscription, bool) {
			return sse.Subscription{
				Client:      s,
				LastEventID: s.LastEventID,
				Topics:      []string{sse.DefaultTopic},
			}, true
		},
	}
}

// NewMain creates the web front-end of conv. Rendering changes published to sseSrv, usually by an
// SSETarget, reach every open page.
func NewMain(
	conv Conversation,
	nodes NodeBuilder,
	sseSrv *sse.Server,
	tmpl *template.Template,
	opts ...Option,
) (Main, error) {
	cfg := mainConfig{
		catalog:         models.DefaultCatalog(),
		welcomeMarkdown: DefaultWelcome,
		maxInputHeight:  DefaultMaxInputHeight,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	welcome, err := renderMarkdown(cfg.welcomeMarkdown)
	if err != nil {
		return Main{}, fmt.Errorf("failed to render welcome message: %w", err)
	}

	return Main{
		sseSrv:         sseSrv,
		templates:      tmpl,
		conv:           conv,
		nodes:          nodes,
		catalog:        cfg.catalog,
		welcome:        welcome,
		maxInputHeight: cfg.maxInputHeight,
		allowedOrigins: cfg.allowedOrigins,
		now:            time.Now,
		turns:          &sync.WaitGroup{},
		logger:         cfg.logger.With(slog.String("module", "handlers")),
	}, nil
}

// Router returns the HTTP routes of the widget.
func (m Main) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(m.requestLogger)
	r.Use(middleware.Recoverer)
	if len(m.allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: m.allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "Last-Event-ID"},
			MaxAge:         300,
		}))
	}

	r.Get("/", m.HandleHome)
	r.Get("/conversation", m.HandleConversation)
	r.Post("/chat", m.HandleChat)
	r.Post("/reset", m.HandleReset)
	r.Handle("/sse/messages", m.sseSrv)
	r.Handle("/static/*", http.FileServerFS(campuschat.StaticFS))

	return r
}

// Shutdown waits for the turns in flight to finish, then terminates the SSE server. It broadcasts a
// close message to all connected clients and waits up to 5 seconds for connections to terminate.
// After the timeout, any remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.turns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Shutting down with turns in flight")
	}

	e := &sse.Message{Type: sse.Type(closeSSEType)}
	// We create a close event that complies with SSE spec requiring data
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}

func (m Main) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			m.logger.Debug("Request",
				slog.String("requestID", middleware.GetReqID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("elapsed", time.Since(start)))
		}()
		next.ServeHTTP(ww, r)
	})
}

func renderMarkdown(source string) (template.HTML, error) {
	var buf bytes.Buffer
	// Raw HTML in the source is omitted by the default renderer.
	if err := goldmark.Convert([]byte(source), &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil //nolint:gosec
}
