// Package main provides the CLI entry point for the aide personal assistant
// gateway.
//
// aide exposes a single supervisor agent over a WebSocket JSON-RPC gateway,
// with a durable outbound delivery queue and a three-tier memory system.
//
// # Basic Usage
//
// Start the server:
//
//	aide serve --config aide.yaml
//
// Talk to the agent on stdin/stdout while the server runs:
//
//	aide serve --console
//
// # Environment Variables
//
//   - DATA_DIR: Root directory for sessions, queue, and memory stores
//   - LLM_PROVIDER, LLM_MODEL, LLM_API_KEY, LLM_BASE_URL
//   - EMBEDDING_MODEL, EMBEDDING_API_KEY, EMBEDDING_BASE_URL
//   - GATEWAY_HOST, GATEWAY_PORT, GATEWAY_AUTH_TOKEN
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/aide/internal/agent"
	"github.com/haasonsaas/aide/internal/agent/providers"
	"github.com/haasonsaas/aide/internal/bus"
	"github.com/haasonsaas/aide/internal/config"
	"github.com/haasonsaas/aide/internal/delivery"
	"github.com/haasonsaas/aide/internal/gateway"
	"github.com/haasonsaas/aide/internal/memory"
	openaiembed "github.com/haasonsaas/aide/internal/memory/embeddings/openai"
	"github.com/haasonsaas/aide/internal/observability"
	"github.com/haasonsaas/aide/internal/schedule"
	"github.com/haasonsaas/aide/internal/sessions"
	"github.com/haasonsaas/aide/internal/tasks"
	"github.com/haasonsaas/aide/internal/tools"
	"github.com/haasonsaas/aide/internal/tools/builtin"
	"github.com/haasonsaas/aide/pkg/models"
)

// Build information - populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// listenerError marks an unrecoverable failure of the gateway listener,
// as opposed to an initialization failure. Exit codes: 1 for init
// (unreadable data dir, bad config, missing env), 2 for the listener.
type listenerError struct {
	err error
}

func (e *listenerError) Error() string { return e.err.Error() }
func (e *listenerError) Unwrap() error { return e.err }

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var lisErr *listenerError
	if errors.As(err, &lisErr) {
		return 2
	}
	return 1
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "aide",
		Short: "aide - personal AI assistant gateway",
		Long: `aide runs a single supervisor agent behind a WebSocket JSON-RPC gateway.

LLM providers: Anthropic (Claude), OpenAI (GPT)
Built-in tools: memory save/search, task add/list/clear`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(buildServeCmd())
	return rootCmd
}

// buildServeCmd creates the "serve" command that starts the gateway server.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
		console    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the aide gateway server",
		Long: `Start the aide gateway server.

The server will:
1. Load configuration from the specified file (or environment)
2. Open the session store, delivery queue, and memory stores under DATA_DIR
3. Initialize the LLM provider and tool registry
4. Start the WebSocket gateway with /healthz and /metrics endpoints

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  aide serve

  # Start with custom config and a local console channel
  aide serve --config /etc/aide/aide.yaml --console`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, debug, console)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "aide.yaml", "Path to configuration file")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.Flags().BoolVar(&console, "console", false, "Attach a console channel on stdin/stdout")
	return cmd
}

func runServe(configPath string, debug, console bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "starting aide", "version", version, "data_dir", cfg.DataDir)

	store, err := sessions.NewStore(cfg.SessionsDir(), sessions.Options{
		WorkingSetSize: cfg.Sessions.WorkingSetSize,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}

	queue, err := delivery.NewQueue(cfg.QueueDir())
	if err != nil {
		return fmt.Errorf("open delivery queue: %w", err)
	}
	if err := queue.Recover(); err != nil {
		logger.Warn(ctx, "delivery queue recovery failed", "error", err)
	}

	mem, err := openMemory(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer mem.Close()

	taskMgr, err := tasks.NewManager(filepath.Join(cfg.DataDir, "tasks.json"))
	if err != nil {
		return fmt.Errorf("open task list: %w", err)
	}

	toolReg := tools.NewRegistry(tools.RegistryOptions{
		ExecTimeout: cfg.Agent.ToolTimeout,
		Logger:      logger,
		Metrics:     metrics,
	})
	toolReg.Register(builtin.NewMemorySaveTool(mem))
	toolReg.Register(builtin.NewMemorySearchTool(mem))
	toolReg.Register(builtin.NewTaskAddTool(taskMgr))
	toolReg.Register(builtin.NewTaskListTool(taskMgr))
	toolReg.Register(builtin.NewTaskClearTool(taskMgr))

	provider, model, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	supervisor := agent.NewSupervisor(provider, toolReg, mem, store,
		memory.NewWorkingMemory(cfg.Memory.WorkingMaxTokens, 0),
		agent.SupervisorOptions{
			Model:        model,
			SystemPrompt: cfg.Agent.SystemPrompt,
			MaxSteps:     cfg.Agent.MaxSteps,
			LLMTimeout:   cfg.LLM.Timeout,
			TopK:         cfg.Memory.RecallTopK,
			ConfirmTTL:   cfg.Agent.ConfirmationTTL,
			Logger:       logger,
			Metrics:      metrics,
		})

	msgBus := bus.New(logger, metrics)
	worker := delivery.NewWorker(queue, nil, delivery.WorkerOptions{
		ScanInterval: cfg.Delivery.ScanInterval,
		Logger:       logger,
		Metrics:      metrics,
	})

	if console {
		adapter := bus.NewConsoleAdapter(os.Stdin, os.Stdout, "local")
		msgBus.Register(adapter, nil)
		worker.RegisterSender(models.ChannelConsole, busSender(msgBus))
	}

	// Inbound channel messages run one agent turn each; the reply goes
	// through the durable queue so a crashed process never loses it.
	msgBus.Subscribe(func(ctx context.Context, msg models.InboundMessage) {
		key := sessions.BuildKey(cfg.Agent.ID, msg.Channel, msg.ChatID)
		reply, err := supervisor.Handle(ctx, key, msg.Content, nil)
		if err != nil {
			logger.Error(ctx, "agent turn failed", "error", err, "session_key", key)
			return
		}
		out := models.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: reply}
		if _, err := queue.Enqueue(out, cfg.Agent.ID, key); err != nil {
			logger.Error(ctx, "enqueue reply failed", "error", err, "session_key", key)
		}
	})

	scheduler := schedule.New(logger)
	if err := scheduler.Add("0 3 * * *", "memory-consolidation", func(ctx context.Context) error {
		report, err := mem.Consolidate(ctx, supervisor)
		if err != nil {
			return err
		}
		logger.Info(ctx, "consolidation finished",
			"clusters", report.Clusters, "summaries", report.Summaries,
			"decayed", report.Decayed, "forgotten", report.Forgotten)
		return nil
	}); err != nil {
		return fmt.Errorf("schedule consolidation: %w", err)
	}
	if err := scheduler.Add("30 3 * * *", "session-archive", func(ctx context.Context) error {
		maxAge := time.Duration(cfg.Sessions.ArchiveAfterDays) * 24 * time.Hour
		archived, err := store.ArchiveOld(ctx, maxAge)
		if err != nil {
			return err
		}
		if archived > 0 {
			logger.Info(ctx, "archived idle sessions", "count", archived)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("schedule session archive: %w", err)
	}

	if err := msgBus.Start(ctx); err != nil {
		return fmt.Errorf("start bus: %w", err)
	}
	go func() {
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error(ctx, "delivery worker stopped", "error", err)
		}
	}()
	scheduler.Start()

	server := gateway.NewServer(gateway.ServerConfig{
		Host:           cfg.Gateway.Host,
		Port:           cfg.Gateway.Port,
		AuthToken:      cfg.Gateway.AuthToken,
		MaxConnections: cfg.Gateway.MaxConnections,
		MaxTextChars:   cfg.Gateway.MaxTextChars,
		Version:        version,
	}, supervisor, store, logger, metrics, registry)

	err = server.Start(ctx)

	scheduler.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if stopErr := msgBus.Stop(shutdownCtx); stopErr != nil {
		logger.Warn(shutdownCtx, "bus shutdown failed", "error", stopErr)
	}

	if err != nil {
		return &listenerError{err: err}
	}
	logger.Info(context.Background(), "shutdown complete")
	return nil
}

// openMemory assembles the three-tier memory system under DATA_DIR/memories.
func openMemory(ctx context.Context, cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) (*memory.System, error) {
	dir := cfg.MemoriesDir()
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create memories dir: %w", err)
	}

	longTerm, err := memory.NewLongTermStore(memory.LongTermConfig{
		Path:      filepath.Join(dir, "long_term.db"),
		Dimension: cfg.Memory.Dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("open long-term store: %w", err)
	}

	fallback, err := memory.NewFallbackStore(filepath.Join(dir, "fallback"))
	if err != nil {
		longTerm.Close()
		return nil, fmt.Errorf("open fallback store: %w", err)
	}

	raw := memory.NewRawLog(filepath.Join(dir, "raw.jsonl"))

	var embedder *openaiembed.Provider
	embedKey := cfg.Embed.APIKey
	if embedKey == "" && cfg.LLM.Provider == "openai" {
		embedKey = cfg.LLM.APIKey
	}
	if embedKey != "" {
		embedder, err = openaiembed.New(openaiembed.Config{
			APIKey:  embedKey,
			BaseURL: cfg.Embed.BaseURL,
			Model:   cfg.Embed.Model,
		})
		if err != nil {
			longTerm.Close()
			return nil, fmt.Errorf("embedding provider: %w", err)
		}
	} else {
		logger.Warn(ctx, "no embedding API key; memory recall is keyword-only")
	}

	sysCfg := memory.SystemConfig{
		TopK: cfg.Memory.RecallTopK,
		Weights: memory.FuseWeights{
			Vector:  cfg.Memory.VectorWeight,
			Keyword: cfg.Memory.KeywordWeight,
			RIF:     cfg.Memory.RIFWeight,
		},
		Logger:  logger,
		Metrics: metrics,
	}
	if embedder != nil {
		return memory.NewSystem(longTerm, fallback, raw, embedder, sysCfg), nil
	}
	return memory.NewSystem(longTerm, fallback, raw, nil, sysCfg), nil
}

// buildProvider constructs the configured LLM provider and resolves the
// model name.
func buildProvider(cfg *config.Config) (agent.Provider, string, error) {
	switch cfg.LLM.Provider {
	case "openai":
		if cfg.LLM.APIKey == "" {
			return nil, "", fmt.Errorf("llm.api_key is required for provider %q", cfg.LLM.Provider)
		}
		p, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
		})
		if err != nil {
			return nil, "", err
		}
		model := cfg.LLM.Model
		if model == "" {
			model = "gpt-4o"
		}
		return p, model, nil
	case "anthropic":
		if cfg.LLM.APIKey == "" {
			return nil, "", fmt.Errorf("llm.api_key is required for provider %q", cfg.LLM.Provider)
		}
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       cfg.LLM.APIKey,
			BaseURL:      cfg.LLM.BaseURL,
			DefaultModel: cfg.LLM.Model,
		})
		if err != nil {
			return nil, "", err
		}
		model := cfg.LLM.Model
		if model == "" {
			model = "claude-sonnet-4-20250514"
		}
		return p, model, nil
	default:
		return nil, "", fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

// busSender adapts bus delivery to the queue worker's Sender contract.
func busSender(b *bus.Bus) delivery.Sender {
	return func(ctx context.Context, d *models.QueuedDelivery) error {
		return b.Send(ctx, models.OutboundMessage{
			Channel: d.Channel,
			ChatID:  d.To,
			Content: d.Text,
		})
	}
}
