// handlers.go contains the RunE handler functions for the CLI commands.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/quillchat/quill/internal/backoff"
	"github.com/quillchat/quill/internal/capabilities"
	"github.com/quillchat/quill/internal/config"
	"github.com/quillchat/quill/internal/engine"
	"github.com/quillchat/quill/internal/engine/providers"
	"github.com/quillchat/quill/internal/observability"
	"github.com/quillchat/quill/internal/tools"
	"github.com/quillchat/quill/pkg/models"
)

// resolveConfigPath picks the config file: the flag wins, then QUILL_CONFIG,
// then quill.yaml in the working directory.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("QUILL_CONFIG"); env != "" {
		return env
	}
	return "quill.yaml"
}

type chatParams struct {
	configPath string
	provider   string
	model      string
	system     string
	message    string
	reasoning  bool
}

// runtime bundles everything a command needs after wiring.
type runtime struct {
	cfg      *config.Config
	engine   *engine.Engine
	registry *tools.Registry
	shutdown func(context.Context) error
}

func buildRuntime(ctx context.Context, configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	})

	shutdownTracing, err := observability.SetupTracing(ctx, observability.TraceConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Insecure:       cfg.Tracing.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}

	metrics := observability.NewMetrics(nil)
	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Addr)
	}

	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	execCfg := tools.DefaultExecutorConfig()
	execCfg.MaxConcurrency = cfg.Tools.MaxConcurrency
	execCfg.SearchAttempts = cfg.Tools.SearchAttempts
	execCfg.SearchBackoff = backoff.SearchPolicy()
	execCfg.Timeout = cfg.Tools.Timeout.Std()
	execCfg.ExternalTimeout = cfg.Tools.ExternalTimeout.Std()
	executor := tools.NewExecutor(registry, buildCapabilities(ctx, cfg), execCfg, logger)

	adapters, err := buildProviders(ctx, cfg)
	if err != nil {
		return nil, err
	}

	eng := engine.New(adapters, registry, executor, engine.Options{
		MaxRounds:   cfg.Engine.MaxRounds,
		MaxWallTime: cfg.Engine.MaxWallTime.Std(),
		MaxTokens:   cfg.Engine.MaxTokens,
		EventBuffer: cfg.Engine.EventBuffer,
		Logger:      logger,
	})
	eng.SetMetrics(metrics)

	return &runtime{
		cfg:      cfg,
		engine:   eng,
		registry: registry,
		shutdown: shutdownTracing,
	}, nil
}

func buildCapabilities(ctx context.Context, cfg *config.Config) capabilities.Set {
	var set capabilities.Set

	if url := cfg.Capabilities.WebSearch.BaseURL; url != "" {
		set.Search = capabilities.NewWebSearchClient(capabilities.WebSearchConfig{
			BaseURL: url,
			APIKey:  cfg.Capabilities.WebSearch.APIKey,
			Timeout: cfg.Capabilities.WebSearch.Timeout.Std(),
		})
	}
	if url := cfg.Capabilities.Drive.BaseURL; url != "" {
		oauth := clientcredentials.Config{
			ClientID:     cfg.Capabilities.Drive.OAuth.ClientID,
			ClientSecret: cfg.Capabilities.Drive.OAuth.ClientSecret,
			TokenURL:     cfg.Capabilities.Drive.OAuth.TokenURL,
		}
		set.Drive = capabilities.NewDriveClient(capabilities.DriveConfig{
			BaseURL: url,
			Timeout: cfg.Capabilities.Drive.Timeout.Std(),
		}, oauth.TokenSource(ctx), nil)
	}
	if url := cfg.Capabilities.Memory.BaseURL; url != "" {
		set.Memory = capabilities.NewMemoryClient(capabilities.MemoryConfig{
			BaseURL: url,
			APIKey:  cfg.Capabilities.Memory.APIKey,
			Timeout: cfg.Capabilities.Memory.Timeout.Std(),
		})
	}
	if url := cfg.Capabilities.Documents.BaseURL; url != "" {
		set.Documents = capabilities.NewDocumentClient(capabilities.DocumentConfig{
			BaseURL: url,
			APIKey:  cfg.Capabilities.Documents.APIKey,
			Timeout: cfg.Capabilities.Documents.Timeout.Std(),
		})
	}
	if url := cfg.Capabilities.External.BaseURL; url != "" {
		set.External = capabilities.NewExternalClient(capabilities.ExternalConfig{
			BaseURL: url,
			APIKey:  cfg.Capabilities.External.APIKey,
			Timeout: cfg.Capabilities.External.Timeout.Std(),
		})
	}

	return set
}

func buildProviders(ctx context.Context, cfg *config.Config) (*providers.Registry, error) {
	reg := providers.NewRegistry()

	if p := cfg.Providers.Anthropic; p.Enabled {
		adapter, err := providers.NewAnthropicAdapter(providers.AnthropicConfig{
			APIKey:       p.APIKey,
			BaseURL:      p.BaseURL,
			DefaultModel: p.DefaultModel,
		})
		if err != nil {
			return nil, fmt.Errorf("anthropic: %w", err)
		}
		reg.Register(adapter)
	}
	if p := cfg.Providers.OpenAI; p.Enabled {
		adapter, err := providers.NewOpenAIAdapter(providers.OpenAIConfig{
			APIKey:       p.APIKey,
			BaseURL:      p.BaseURL,
			DefaultModel: p.DefaultModel,
		})
		if err != nil {
			return nil, fmt.Errorf("openai: %w", err)
		}
		reg.Register(adapter)
	}
	if p := cfg.Providers.Google; p.Enabled {
		adapter, err := providers.NewGoogleAdapter(ctx, providers.GoogleConfig{
			APIKey:       p.APIKey,
			DefaultModel: p.DefaultModel,
		})
		if err != nil {
			return nil, fmt.Errorf("google: %w", err)
		}
		reg.Register(adapter)
	}
	if p := cfg.Providers.Bedrock; p.Enabled {
		adapter, err := providers.NewBedrockAdapter(ctx, providers.BedrockConfig{
			Region:          p.Region,
			AccessKeyID:     p.AccessKeyID,
			SecretAccessKey: p.SecretAccessKey,
			SessionToken:    p.SessionToken,
			DefaultModel:    p.DefaultModel,
		})
		if err != nil {
			return nil, fmt.Errorf("bedrock: %w", err)
		}
		reg.Register(adapter)
	}
	if p := cfg.Providers.Ollama; p.Enabled {
		reg.Register(providers.NewOllamaAdapter(providers.OllamaConfig{
			BaseURL:      p.BaseURL,
			DefaultModel: p.DefaultModel,
			Timeout:      p.Timeout.Std(),
		}))
	}

	return reg, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintln(os.Stderr, "metrics server:", err)
	}
}

// =============================================================================
// Chat
// =============================================================================

func runChat(ctx context.Context, params chatParams) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, params.configPath)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.shutdown(shutdownCtx)
	}()

	provider := params.provider
	if provider == "" {
		provider = rt.cfg.Providers.Default
	}

	session := &chatSession{
		rt:             rt,
		conversationID: uuid.NewString(),
		provider:       provider,
		model:          params.model,
		system:         params.system,
		reasoning:      params.reasoning,
	}

	if params.message != "" {
		return session.ask(ctx, params.message)
	}
	return session.interactive(ctx)
}

type chatSession struct {
	rt             *runtime
	conversationID string
	provider       string
	model          string
	system         string
	reasoning      bool

	history   []models.ChatMessage
	artifacts []models.Artifact
}

func (s *chatSession) interactive(ctx context.Context) error {
	fmt.Printf("quill %s (provider %s). /regen regenerates, /quit exits.\n", version, s.provider)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit", line == "/exit":
			return nil
		case line == "/regen":
			if err := s.regenerate(ctx); err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
			}
		default:
			if err := s.ask(ctx, line); err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (s *chatSession) ask(ctx context.Context, message string) error {
	s.history = append(s.history, models.ChatMessage{
		ID:        uuid.NewString(),
		Role:      models.RoleUser,
		Content:   message,
		CreatedAt: time.Now(),
	})

	events, err := s.rt.engine.Run(ctx, s.request())
	if err != nil {
		return err
	}
	return s.render(events)
}

func (s *chatSession) regenerate(ctx context.Context) error {
	events, err := s.rt.engine.Regenerate(ctx, s.request())
	if err != nil {
		return err
	}

	// Drop the reply being regenerated; the new one arrives with the result.
	if n := len(s.history); n > 0 && s.history[n-1].Role == models.RoleAssistant {
		s.history = s.history[:n-1]
	}
	return s.render(events)
}

func (s *chatSession) request() engine.TurnRequest {
	return engine.TurnRequest{
		ConversationID:  s.conversationID,
		Provider:        s.provider,
		Model:           s.model,
		System:          s.system,
		History:         s.history,
		Artifacts:       s.artifacts,
		EnableReasoning: s.reasoning,
	}
}

func (s *chatSession) render(events <-chan *engine.TurnEvent) error {
	for event := range events {
		switch event.Kind {
		case engine.EventContentDelta:
			fmt.Print(event.Delta)

		case engine.EventToolCall:
			fmt.Fprintf(os.Stderr, "\n⚙ %s\n", event.ToolCall.Name)

		case engine.EventToolCallBatch:
			for _, tc := range event.ToolCalls {
				fmt.Fprintf(os.Stderr, "\n⚙ %s\n", tc.Name)
			}

		case engine.EventStatus:
			if event.Status != "" {
				fmt.Fprintf(os.Stderr, "  %s\n", event.Status)
			}

		case engine.EventArtifact:
			fmt.Fprintf(os.Stderr, "\n[artifact] %s (%s)\n", event.Artifact.Title, event.Artifact.Type)

		case engine.EventError:
			fmt.Fprintf(os.Stderr, "\n%v\n", event.Err)

		case engine.EventEnd:
			fmt.Println()
			if event.Result != nil {
				s.history = append(s.history, event.Result.Message)
				s.artifacts = event.Result.Artifacts
				if event.Result.State != engine.StateDone {
					fmt.Fprintf(os.Stderr, "(turn ended: %s)\n", event.Result.State)
				}
			}
		}
	}
	return nil
}

// =============================================================================
// Tools
// =============================================================================

func runTools(configPath string) error {
	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry); err != nil {
		return err
	}

	// Config is optional here; it only adds context like the external
	// gateway the prefixed tools would route to.
	if cfg, err := config.Load(configPath); err == nil && cfg.Capabilities.External.BaseURL != "" {
		fmt.Printf("External tool gateway: %s\n\n", cfg.Capabilities.External.BaseURL)
	}

	for _, decl := range registry.All() {
		fmt.Printf("%-24s %s\n", decl.Prefixed(), decl.Description)
	}
	return nil
}
