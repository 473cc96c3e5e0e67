package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/MegaGrindStone/campus-chat/internal/conversation"
	"github.com/MegaGrindStone/campus-chat/internal/engine"
	"github.com/MegaGrindStone/campus-chat/internal/handlers"
	"github.com/MegaGrindStone/campus-chat/internal/models"
	"github.com/MegaGrindStone/campus-chat/internal/render"
	"github.com/MegaGrindStone/campus-chat/internal/services"
	"github.com/MegaGrindStone/campus-chat/internal/terminal"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type app struct {
	configPath string
	debug      bool

	cfg    config
	cfgDir string
	logger *slog.Logger
}

const errLoggerKey = "err"

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   appName,
		Short: "Campus information chat assistant",
		Long: `campuschat serves the campus chat widget and talks to the question-answering backend.

Examples:
  campuschat serve                  Serve the web widget
  campuschat chat                   Chat in the terminal
  campuschat history                Print the stored conversation
  campuschat history --clear        Delete the stored conversation`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.ErrOrStderr())
		},
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "",
		"Path to the config file (default <user config dir>/campuschat/config.yaml)")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging")

	root.AddCommand(a.serveCmd())
	root.AddCommand(a.chatCmd())
	root.AddCommand(a.historyCmd())

	return root
}

func (a *app) init(logOut io.Writer) error {
	// The .env file is optional.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error loading .env: %w", err)
	}

	level := slog.LevelInfo
	if a.debug {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))

	cfgDir, err := defaultConfigDir()
	if err != nil {
		return err
	}
	a.cfgDir = cfgDir

	path := a.configPath
	if path == "" {
		path = filepath.Join(cfgDir, "config.yaml")
	}
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.logger.Debug("Loaded config", slog.String("path", path), slog.String("port", cfg.Port))
	return nil
}

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the web chat widget",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.chat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func (a *app) historyCmd() *cobra.Command {
	var clearHistory bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print or clear the stored conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.history(cmd.OutOrStdout(), clearHistory)
		},
	}
	cmd.Flags().BoolVar(&clearHistory, "clear", false, "Delete the stored conversation")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	kv, closeKV, err := a.openKV()
	if err != nil {
		return err
	}
	defer closeKV()

	answerer, err := a.cfg.Backend.answerer(a.logger)
	if err != nil {
		return fmt.Errorf("error creating backend: %w", err)
	}

	tmpl, err := handlers.ParseTemplates()
	if err != nil {
		return err
	}
	sseSrv := handlers.NewSSEServer()

	adapter := render.NewAdapter(handlers.NewSSETarget(sseSrv, tmpl, a.logger),
		render.WithAvatars(a.cfg.avatars()),
		render.WithLogger(a.logger))
	store := conversation.NewStore(kv, a.cfg.HistoryKey, a.logger)
	eng := engine.New(store, adapter, answerer, a.cfg.engineOptions(a.logger)...)

	welcome := a.cfg.Welcome
	if welcome == "" {
		welcome = handlers.DefaultWelcome
	}
	m, err := handlers.NewMain(eng, adapter, sseSrv, tmpl,
		handlers.WithWelcome(welcome),
		handlers.WithMaxInputHeight(a.cfg.MaxInputHeight),
		handlers.WithAllowedOrigins(a.cfg.AllowedOrigins),
		handlers.WithLogger(a.logger))
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           m.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// SSE connections never go idle, so they are closed as soon as shutdown starts.
	sseDone := make(chan struct{})
	srv.RegisterOnShutdown(func() {
		defer close(sseDone)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := m.Shutdown(ctx); err != nil {
			a.logger.Error("Failed to shutdown sse server", slog.String(errLoggerKey, err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		a.logger.Info("Server starting", slog.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case <-ctx.Done():
		a.logger.Info("Start shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("Graceful shutdown failed", slog.String(errLoggerKey, err.Error()))
			if err := srv.Close(); err != nil {
				a.logger.Error("Forcing server close", slog.String(errLoggerKey, err.Error()))
			}
		}

		select {
		case <-sseDone:
		case <-shutdownCtx.Done():
		}
		if err := eng.Close(shutdownCtx); err != nil {
			a.logger.Error("Failed to close engine", slog.String(errLoggerKey, err.Error()))
		}
	}

	return nil
}

func (a *app) chat(ctx context.Context, in io.Reader, out io.Writer) error {
	kv, closeKV, err := a.openKV()
	if err != nil {
		return err
	}
	defer closeKV()

	answerer, err := a.cfg.Backend.answerer(a.logger)
	if err != nil {
		return fmt.Errorf("error creating backend: %w", err)
	}

	target := terminal.NewTarget(out)
	adapter := render.NewAdapter(target, render.WithLogger(a.logger))
	store := conversation.NewStore(kv, a.cfg.HistoryKey, a.logger)
	eng := engine.New(store, adapter, answerer, a.cfg.engineOptions(a.logger)...)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := eng.Close(closeCtx); err != nil {
			a.logger.Error("Failed to close engine", slog.String(errLoggerKey, err.Error()))
		}
	}()

	welcome := a.cfg.Welcome
	if welcome == "" {
		welcome = "**Hi! I'm the campus assistant.** Ask me anything about the campus."
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := terminal.NewModel(eng, target, models.DefaultCatalog(), welcome, a.logger)
	if err := m.Run(ctx, in, out); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *app) history(out io.Writer, clearHistory bool) error {
	kv, closeKV, err := a.openKV()
	if err != nil {
		return err
	}
	defer closeKV()

	store := conversation.NewStore(kv, a.cfg.HistoryKey, a.logger)
	if clearHistory {
		store.Clear()
		fmt.Fprintln(out, "Conversation cleared.")
		return nil
	}

	messages := store.Load()
	if len(messages) == 0 {
		fmt.Fprintln(out, "No stored conversation.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, msg := range messages {
		fmt.Fprintf(w, "%s\t%s\t%s\n", msg.Timestamp.Format(time.DateTime), msg.Sender, msg.Content)
	}
	return w.Flush()
}

// openKV opens the persistence substrate named by storePath: a BoltDB file, by default in the config
// directory, or a process-local map for "memory".
func (a *app) openKV() (conversation.KV, func(), error) {
	if a.cfg.StorePath == memoryStorePath {
		return services.NewMemoryKV(), func() {}, nil
	}

	path := a.cfg.StorePath
	if path == "" {
		if err := os.MkdirAll(a.cfgDir, 0755); err != nil {
			return nil, nil, fmt.Errorf("error creating config directory: %w", err)
		}
		path = filepath.Join(a.cfgDir, "history.db")
	}

	db, err := services.NewBoltDB(path)
	if err != nil {
		return nil, nil, err
	}
	return db, func() {
		if err := db.Close(); err != nil {
			a.logger.Error("Failed to close store", slog.String(errLoggerKey, err.Error()))
		}
	}, nil
}
