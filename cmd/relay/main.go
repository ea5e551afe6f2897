// Package main provides the CLI entry point for the Relay chat
// orchestration service.
//
// Start the server:
//
//	relay serve --config relay.yaml
//
// Environment variables referenced in the config file (for example
// ${ANTHROPIC_API_KEY}) are expanded at load time.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/relayagent/relay/internal/artifacts"
	"github.com/relayagent/relay/internal/config"
	"github.com/relayagent/relay/internal/discovery"
	"github.com/relayagent/relay/internal/executor"
	"github.com/relayagent/relay/internal/observability"
	"github.com/relayagent/relay/internal/pipeline"
	"github.com/relayagent/relay/internal/policy"
	"github.com/relayagent/relay/internal/provider"
	"github.com/relayagent/relay/internal/registry"
	"github.com/relayagent/relay/internal/router"
	"github.com/relayagent/relay/internal/server"
	"github.com/relayagent/relay/internal/tools"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "relay",
		Short:        "Relay - chat request orchestration service",
		Long:         "Relay runs chat requests through a staged pipeline with tool discovery,\nmulti-model routing, and a bounded tool-call loop.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd())
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("RELAY_CONFIG"), "Path to configuration file")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	traceEndpoint := ""
	if cfg.Tracing.Enabled {
		traceEndpoint = cfg.Tracing.Endpoint
	}
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName: "relay",
		Endpoint:    traceEndpoint,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	// Model providers, routed by model identifier prefix.
	mux := provider.NewMux()
	if cfg.Providers.Anthropic.APIKey != "" {
		anthropicProvider, err := provider.NewAnthropic(provider.AnthropicConfig{
			APIKey:  cfg.Providers.Anthropic.APIKey,
			BaseURL: cfg.Providers.Anthropic.BaseURL,
		})
		if err != nil {
			return err
		}
		mux.Register(anthropicProvider, "claude-")
	}
	if cfg.Providers.OpenAI.APIKey != "" {
		openaiProvider, err := provider.NewOpenAI(provider.OpenAIConfig{
			APIKey:  cfg.Providers.OpenAI.APIKey,
			BaseURL: cfg.Providers.OpenAI.BaseURL,
		})
		if err != nil {
			return err
		}
		mux.Register(openaiProvider, "gpt-", "o1-", "o3-")
	}

	// Tool registry and catalog. Built-in tools seed both; external tool
	// servers would add their descriptors here.
	toolRegistry := executor.NewRegistry()
	if err := tools.RegisterBuiltin(toolRegistry, nil); err != nil {
		return fmt.Errorf("register builtin tools: %w", err)
	}
	catalog := registry.NewCatalog()
	catalog.Replace(toolRegistry.Descriptors())

	// Semantic search over the catalog, when an embedding backend is
	// configured. Discovery falls back to the static catalog without it.
	var searcher discovery.Searcher
	embeddingsKey := cfg.Providers.Embeddings.APIKey
	if embeddingsKey == "" {
		embeddingsKey = cfg.Providers.OpenAI.APIKey
	}
	if embeddingsKey != "" {
		embedder, err := registry.NewOpenAIEmbedder(registry.EmbedderConfig{
			APIKey: embeddingsKey,
			Model:  cfg.Providers.Embeddings.Model,
		})
		if err != nil {
			return err
		}
		semantic := registry.NewSemantic(embedder)
		indexCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := semantic.Index(indexCtx, catalog.GetAll()); err != nil {
			// Not fatal: discovery serves the unfiltered catalog until a
			// later index attempt succeeds.
			logger.Warn("semantic index failed, falling back to catalog", "error", err)
		}
		cancel()
		searcher = semantic
	}

	disc := discovery.New(searcher, catalog, policy.NewResolver(nil), logger, discovery.Options{
		Enabled:   cfg.Discovery.Enabled,
		TopK:      cfg.Discovery.TopK,
		Blocklist: cfg.Discovery.Blocklist,
	})

	// Configuration resolution: file config, optionally overlaid with the
	// persisted runtime settings, with a TTL cache in front.
	var base config.Store = config.NewStaticStore(cfg)
	if cfg.Runtime.Path != "" {
		runtimeStore, err := config.NewRuntimeStore(cfg.Runtime.Path, base)
		if err != nil {
			return fmt.Errorf("open runtime settings: %w", err)
		}
		defer runtimeStore.Close()
		base = runtimeStore
	}
	store := config.NewCachedStore(base, config.DefaultConfigTTL)
	modelRouter := router.New(store, logger)

	toolExecutor := executor.New(toolRegistry, executor.DefaultConfig(), logger, metrics)

	artifactStore, err := artifacts.New(artifacts.Config{
		Path:           cfg.Artifacts.Path,
		MaxInlineBytes: cfg.Artifacts.MaxInlineBytes,
	})
	if err != nil {
		return fmt.Errorf("open artifact store: %w", err)
	}
	defer artifactStore.Close()

	prepare := &pipeline.PrepareStage{}
	loop := pipeline.NewLoopController(toolExecutor, artifactStore, prepare, logger, metrics, cfg.Pipeline.ReasoningTools)

	allowAnonymous := cfg.Server.JWTSecret == ""
	stages := []pipeline.Stage{
		pipeline.NewAuthStage([]byte(cfg.Server.JWTSecret), allowAnonymous, logger),
		&pipeline.ValidateStage{},
		prepare,
		pipeline.NewDiscoveryStage(disc, logger),
		pipeline.NewRoutingStage(modelRouter),
		pipeline.NewModelStage(mux, logger, metrics),
		pipeline.NewMultiModelStage(mux, logger, metrics),
	}

	runner, err := pipeline.NewRunner(stages, loop, store, logger, metrics, tracer)
	if err != nil {
		return err
	}

	httpServer := server.New(cfg.Server, runner, artifactStore, logger)
	if err := httpServer.Start(); err != nil {
		return err
	}

	metricsServer := startMetricsServer(cfg.Server, logger)

	logger.Info("relay started", "version", version,
		"tools", catalog.Len(), "discovery_enabled", cfg.Discovery.Enabled)

	// Block until shutdown is requested.
	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-signalCtx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown failed", "error", err)
		}
	}
	return nil
}

func startMetricsServer(cfg config.ServerConfig, logger *observability.Logger) *http.Server {
	if cfg.MetricsPort == 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()
	return srv
}
