// Command taskflow runs the workflow orchestration service: the HTTP
// and WebSocket API, the dispatcher worker pool, and the stores behind
// them, all selected through environment configuration.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/AkhileshMalthi/taskflow/internal/agents"
	"github.com/AkhileshMalthi/taskflow/internal/broadcast"
	"github.com/AkhileshMalthi/taskflow/internal/config"
	"github.com/AkhileshMalthi/taskflow/internal/dispatch"
	"github.com/AkhileshMalthi/taskflow/internal/events"
	"github.com/AkhileshMalthi/taskflow/internal/llm"
	llmanthropic "github.com/AkhileshMalthi/taskflow/internal/llm/anthropic"
	llmgoogle "github.com/AkhileshMalthi/taskflow/internal/llm/google"
	llmopenai "github.com/AkhileshMalthi/taskflow/internal/llm/openai"
	"github.com/AkhileshMalthi/taskflow/internal/orchestrator"
	"github.com/AkhileshMalthi/taskflow/internal/server"
	"github.com/AkhileshMalthi/taskflow/internal/task"
	"github.com/AkhileshMalthi/taskflow/internal/workflow"
	"github.com/AkhileshMalthi/taskflow/internal/workflow/checkpoint"
	"github.com/AkhileshMalthi/taskflow/internal/workspace"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "taskflow",
		Short: "Durable interruptible workflow orchestration service",
	}
	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the API server and worker pool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	})
	return root
}

func serve(parent context.Context, cfg config.Config) error {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	model, closeModel, err := buildModel(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeModel()

	tasks, closeTasks, err := buildTaskStore(cfg)
	if err != nil {
		return err
	}
	defer closeTasks()

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	ws := buildWorkspace(redisClient)
	cps, closeCps, err := buildCheckpoints(cfg, redisClient)
	if err != nil {
		return err
	}
	defer closeCps()

	broker, closeBroker, err := buildBroker(cfg, redisClient)
	if err != nil {
		return err
	}
	defer closeBroker()

	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(
		resource.NewSchemaless(attribute.String("service.name", "taskflow"))))
	otel.SetTracerProvider(tp)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	registry := prometheus.NewRegistry()
	metrics := events.NewMetrics(registry)
	emitter := events.Fanout(
		events.NewSlogEmitter(log),
		events.NewOTelEmitter(otel.Tracer("taskflow")),
		metrics,
	)

	hub := broadcast.NewHub()
	broker = dispatch.NewInstrumentedBroker(broker, metrics)

	tool := buildResearchTool(cfg, model)
	researcher := agents.NewResearcher(agents.NewAnalyzer(model), tool, ws,
		workflow.DefaultRetryPolicy(), log)

	orch, err := orchestrator.New(orchestrator.Deps{
		Tasks:       tasks,
		Workspace:   ws,
		Checkpoints: cps,
		Broker:      broker,
		Hub:         hub,
		Researcher:  researcher,
		Writer:      agents.NewWriter(model, ws),
		Emitter:     emitter,
		Logger:      log,
	})
	if err != nil {
		return err
	}

	dispatcher := dispatch.NewDispatcher(broker, orch, cfg.Workers,
		dispatch.WithMetrics(metrics), dispatch.WithLogger(log))
	dispatcher.Start(ctx)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server.New(orch, hub, registry, log).Router(),
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.HTTPAddr, "workers", cfg.Workers, "provider", cfg.LLMProvider)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		stop()
		dispatcher.Wait()
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", "error", err)
	}
	dispatcher.Wait()
	return nil
}

func buildModel(ctx context.Context, cfg config.Config) (llm.ChatModel, func(), error) {
	noop := func() {}
	switch cfg.LLMProvider {
	case "openai":
		m, err := llmopenai.New(cfg.OpenAIAPIKey, cfg.LLMModel)
		return m, noop, err
	case "groq":
		m, err := llmopenai.NewGroq(cfg.GroqAPIKey, cfg.LLMModel)
		return m, noop, err
	case "anthropic":
		m, err := llmanthropic.New(cfg.AnthropicAPIKey, cfg.LLMModel)
		return m, noop, err
	case "google":
		m, err := llmgoogle.New(ctx, cfg.GoogleAPIKey, cfg.LLMModel)
		if err != nil {
			return nil, noop, err
		}
		return m, func() { _ = m.Close() }, nil
	case "mock":
		return llm.NewMockModel(), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
	}
}

func buildTaskStore(cfg config.Config) (task.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		return task.NewMemStore(), func() {}, nil
	}
	s, err := task.NewPostgresStore(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}

func buildWorkspace(redisClient *redis.Client) workspace.Store {
	if redisClient == nil {
		return workspace.NewMemStore()
	}
	return workspace.NewRedisStore(redisClient)
}

func buildCheckpoints(cfg config.Config, redisClient *redis.Client) (checkpoint.Store, func(), error) {
	noop := func() {}
	switch cfg.CheckpointStore {
	case "memory":
		return checkpoint.NewMemStore(), noop, nil
	case "redis":
		if redisClient == nil {
			return nil, noop, errors.New("CHECKPOINT_STORE=redis requires REDIS_URL")
		}
		return checkpoint.NewRedisStore(redisClient), noop, nil
	default:
		// Anything else is a path for the embedded sqlite store.
		s, err := checkpoint.NewSQLiteStore(cfg.CheckpointStore)
		if err != nil {
			return nil, noop, err
		}
		return s, func() { _ = s.Close() }, nil
	}
}

func buildBroker(cfg config.Config, redisClient *redis.Client) (dispatch.Broker, func(), error) {
	url := cfg.BrokerURL
	if url == "" && redisClient != nil {
		return dispatch.NewRedisBroker(redisClient), func() {}, nil
	}
	if url == "" {
		return dispatch.NewMemoryBroker(256), func() {}, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("parse BROKER_URL: %w", err)
	}
	client := redis.NewClient(opts)
	return dispatch.NewRedisBroker(client), func() { _ = client.Close() }, nil
}

func buildResearchTool(cfg config.Config, model llm.ChatModel) agents.ResearchTool {
	if cfg.ResearchTool == "model" {
		return agents.NewModelSearch(model)
	}
	return agents.NewSimulatedSearch()
}
