package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/MegaGrindStone/campus-chat/internal/engine"
	"github.com/MegaGrindStone/campus-chat/internal/models"
	"github.com/MegaGrindStone/campus-chat/internal/render"
	"github.com/MegaGrindStone/campus-chat/internal/services"
	"gopkg.in/yaml.v3"
)

type backendConfig interface {
	answerer(logger *slog.Logger) (engine.Answerer, error)
	suggestions(catalog models.Catalog, logger *slog.Logger) engine.SuggestionSource
}

// BaseBackendConfig contains the common fields for all backend configurations.
type BaseBackendConfig struct {
	Provider string `yaml:"provider"`
}

type config struct {
	Port           string        `yaml:"port"`
	StorePath      string        `yaml:"storePath"`
	HistoryKey     string        `yaml:"historyKey"`
	Welcome        string        `yaml:"welcome"`
	Fallback       string        `yaml:"fallback"`
	QueryTimeout   time.Duration `yaml:"queryTimeout"`
	MaxSuggestions int           `yaml:"maxSuggestions"`
	MaxInputHeight int           `yaml:"maxInputHeight"`
	AllowedOrigins []string      `yaml:"allowedOrigins"`
	Avatars        avatarsConfig `yaml:"avatars"`
	Backend        backendConfig `yaml:"backend"`
}

type avatarsConfig struct {
	User string `yaml:"user"`
	Bot  string `yaml:"bot"`
}

type httpBackendConfig struct {
	BaseBackendConfig `yaml:",inline"`
	QueryURL          string `yaml:"queryURL"`
	SuggestionsURL    string `yaml:"suggestionsURL"`
}

type ollamaConfig struct {
	BaseBackendConfig `yaml:",inline"`
	Host              string `yaml:"host"`
	Model             string `yaml:"model"`
	SystemPrompt      string `yaml:"systemPrompt"`
}

type openAIConfig struct {
	BaseBackendConfig `yaml:",inline"`
	APIKey            string   `yaml:"apiKey"`
	BaseURL           string   `yaml:"baseURL"`
	Model             string   `yaml:"model"`
	SystemPrompt      string   `yaml:"systemPrompt"`
	Temperature       *float32 `yaml:"temperature"`
}

const (
	appName         = "campuschat"
	defaultPort     = "8080"
	defaultQueryURL = "http://localhost:5000/chat"
	memoryStorePath = "memory"
)

// loadConfig reads the configuration at path. A missing file yields the default configuration, which
// talks to a question-answering backend on localhost.
func loadConfig(path string) (config, error) {
	var cfg config

	f, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return config{}, fmt.Errorf("error opening config file: %w", err)
	default:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return config{}, fmt.Errorf("error decoding config file: %w", err)
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

func defaultConfigDir() (string, error) {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("error getting user config dir: %w", err)
	}
	return filepath.Join(cfgDir, appName), nil
}

func (c *config) applyDefaults() {
	if c.Port == "" {
		c.Port = os.Getenv("CAMPUSCHAT_PORT")
	}
	if c.Port == "" {
		c.Port = defaultPort
	}
	if c.Backend == nil {
		c.Backend = &httpBackendConfig{
			BaseBackendConfig: BaseBackendConfig{Provider: "http"},
			QueryURL:          defaultQueryURL,
		}
	}
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port           string         `yaml:"port"`
		StorePath      string         `yaml:"storePath"`
		HistoryKey     string         `yaml:"historyKey"`
		Welcome        string         `yaml:"welcome"`
		Fallback       string         `yaml:"fallback"`
		QueryTimeout   time.Duration  `yaml:"queryTimeout"`
		MaxSuggestions int            `yaml:"maxSuggestions"`
		MaxInputHeight int            `yaml:"maxInputHeight"`
		AllowedOrigins []string       `yaml:"allowedOrigins"`
		Avatars        avatarsConfig  `yaml:"avatars"`
		Backend        map[string]any `yaml:"backend"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	c.StorePath = rawConfig.StorePath
	c.HistoryKey = rawConfig.HistoryKey
	c.Welcome = rawConfig.Welcome
	c.Fallback = rawConfig.Fallback
	c.QueryTimeout = rawConfig.QueryTimeout
	c.MaxSuggestions = rawConfig.MaxSuggestions
	c.MaxInputHeight = rawConfig.MaxInputHeight
	c.AllowedOrigins = rawConfig.AllowedOrigins
	c.Avatars = rawConfig.Avatars

	if rawConfig.Backend == nil {
		return nil
	}

	provider, ok := rawConfig.Backend["provider"].(string)
	if !ok {
		return fmt.Errorf("backend provider is required")
	}

	backendRawYAML, err := yaml.Marshal(rawConfig.Backend)
	if err != nil {
		return err
	}

	var backend backendConfig
	switch provider {
	case "http":
		backend = &httpBackendConfig{}
	case "ollama":
		backend = &ollamaConfig{}
	case "openai":
		backend = &openAIConfig{}
	default:
		return fmt.Errorf("unknown backend provider: %s", provider)
	}

	if err := yaml.Unmarshal(backendRawYAML, backend); err != nil {
		return err
	}

	c.Backend = backend
	return nil
}

func (c config) engineOptions(logger *slog.Logger) []engine.Option {
	catalog := models.DefaultCatalog()
	opts := []engine.Option{
		engine.WithCatalog(catalog),
		engine.WithLogger(logger),
		engine.WithFallback(c.Fallback),
		engine.WithQueryTimeout(c.QueryTimeout),
		engine.WithMaxSuggestions(c.MaxSuggestions),
	}
	if src := c.Backend.suggestions(catalog, logger); src != nil {
		opts = append(opts, engine.WithSuggestions(src))
	}
	return opts
}

func (c config) avatars() render.Avatars {
	return render.Avatars{User: c.Avatars.User, Bot: c.Avatars.Bot}
}

func (h httpBackendConfig) answerer(logger *slog.Logger) (engine.Answerer, error) {
	if h.QueryURL == "" {
		return nil, fmt.Errorf("queryURL is required")
	}
	return services.NewQAEndpoint(h.QueryURL, nil, logger), nil
}

func (h httpBackendConfig) suggestions(catalog models.Catalog, logger *slog.Logger) engine.SuggestionSource {
	if h.SuggestionsURL == "" {
		return services.NewCatalogSuggestions(catalog)
	}
	return services.NewSuggestionsEndpoint(h.SuggestionsURL, nil, logger)
}

func (o ollamaConfig) answerer(logger *slog.Logger) (engine.Answerer, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = "http://localhost:11434"
	}
	return services.NewOllama(host, o.Model, o.SystemPrompt, logger)
}

func (o ollamaConfig) suggestions(models.Catalog, *slog.Logger) engine.SuggestionSource {
	return nil
}

func (o openAIConfig) answerer(logger *slog.Logger) (engine.Answerer, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("apiKey is required")
	}

	var opts []services.OpenAIOption
	if o.BaseURL != "" {
		opts = append(opts, services.WithOpenAIBaseURL(o.BaseURL))
	}
	if o.Temperature != nil {
		opts = append(opts, services.WithOpenAITemperature(*o.Temperature))
	}
	return services.NewOpenAI(apiKey, o.Model, o.SystemPrompt, logger, opts...), nil
}

func (o openAIConfig) suggestions(models.Catalog, *slog.Logger) engine.SuggestionSource {
	return nil
}
