package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/harmonia-ai/harmonia/internal/agent"
	"github.com/harmonia-ai/harmonia/internal/broadcast"
	"github.com/harmonia-ai/harmonia/internal/config"
	"github.com/harmonia-ai/harmonia/internal/dispatch"
	"github.com/harmonia-ai/harmonia/internal/llm"
	"github.com/harmonia-ai/harmonia/internal/logging"
	"github.com/harmonia-ai/harmonia/internal/queue"
	"github.com/harmonia-ai/harmonia/internal/store"
)

// app bundles the wired collaborators behind the server commands.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	store       store.TaskStore
	broadcaster *broadcast.Broadcaster
	registry    *agent.Registry
	queue       *queue.Queue
	service     *dispatch.Service
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

// buildApp wires the full service stack from configuration.
func buildApp(cfg *config.Config) (*app, error) {
	logger := logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	dbPath := cfg.DatabasePath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	taskStore, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}

	client, err := buildClient(cfg)
	if err != nil {
		taskStore.Close()
		return nil, err
	}

	registry, err := buildRegistry(logger)
	if err != nil {
		taskStore.Close()
		return nil, err
	}

	broadcaster := broadcast.New(logger)

	policy := queue.FullPolicyBlock
	if cfg.Queue.FullPolicy == "reject" {
		policy = queue.FullPolicyReject
	}
	q := queue.New(queue.WithCapacity(cfg.Queue.Capacity), queue.WithFullPolicy(policy))

	dispatcher := dispatch.NewDispatcher(taskStore, registry, broadcaster, client,
		dispatch.WithLogger(logger),
		dispatch.WithEvaluator(dispatch.NewLLMEvaluator(client, logger)),
	)
	service := dispatch.NewService(dispatcher, taskStore, q, broadcaster, registry, logger)

	return &app{
		cfg:         cfg,
		logger:      logger,
		store:       taskStore,
		broadcaster: broadcaster,
		registry:    registry,
		queue:       q,
		service:     service,
	}, nil
}

func buildClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.Provider.Name {
	case "anthropic":
		return llm.NewAnthropicClient(func(o *llm.AnthropicOptions) {
			o.APIKey = cfg.APIKey()
			if cfg.Provider.Model != "" {
				o.Model = anthropic.Model(cfg.Provider.Model)
			}
		}), nil
	case "openai":
		return llm.NewOpenAIClient(func(o *llm.OpenAIOptions) {
			if cfg.Provider.Model != "" {
				o.Model = cfg.Provider.Model
			}
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider.Name)
	}
}

func buildRegistry(logger *slog.Logger) (*agent.Registry, error) {
	registry := agent.NewRegistry()

	assistant, err := agent.NewAssistant(logger)
	if err != nil {
		return nil, err
	}
	// The researcher runs without an external search provider; its graph
	// degrades to a friendly no-results failure.
	researcher, err := agent.NewResearcher(nil, logger)
	if err != nil {
		return nil, err
	}
	reviewer, err := agent.NewReviewer(logger)
	if err != nil {
		return nil, err
	}

	for _, rt := range []*agent.Runtime{assistant, researcher, reviewer} {
		if err := registry.Register(rt); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (a *app) close() {
	a.service.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing task store", "error", err)
	}
}
