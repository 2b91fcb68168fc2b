package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/GoCodeAlone/pawl/agent"
	"github.com/GoCodeAlone/pawl/comms"
	"github.com/GoCodeAlone/pawl/config"
	"github.com/GoCodeAlone/pawl/internal/logging"
	"github.com/GoCodeAlone/pawl/memory"
	"github.com/GoCodeAlone/pawl/provider"
	"github.com/GoCodeAlone/pawl/provider/mock"
	"github.com/GoCodeAlone/pawl/task"
)

// loadConfig reads the dotenv file, the config file and the environment,
// then applies the global flag overrides. The result is not validated.
func (g *Globals) loadConfig() (*config.Config, error) {
	if g.EnvFile != "" {
		if err := config.LoadDotEnv(g.EnvFile); err != nil {
			return nil, err
		}
	}
	cfg := config.DefaultConfig()
	if g.Config != "" {
		var err error
		if cfg, err = config.Load(g.Config); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}
	return cfg, nil
}

// newLogger builds the process logger. Output goes to stderr so the trace on
// stdout stays readable.
func newLogger(cfg config.LogConfig) (*slog.Logger, io.Closer, error) {
	return logging.New(logging.Options{Level: cfg.Level, Format: cfg.Format, File: cfg.File, Journald: cfg.Journald})
}

func newProvider(cfg config.ProviderConfig) (provider.Provider, error) {
	switch cfg.Type {
	case "openai":
		return provider.NewOpenAIProvider(provider.OpenAIConfig{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL}), nil
	case "anthropic":
		return provider.NewAnthropicProvider(provider.AnthropicConfig{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL}), nil
	case "mock":
		return mock.New(), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}

func newEmbedder(cfg config.EmbeddingConfig) (provider.Embedder, error) {
	switch cfg.Type {
	case "openai":
		return provider.NewOpenAIEmbedder(provider.OpenAIEmbedderConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			Dimension: cfg.Dimension,
		}), nil
	case "mock":
		return mock.NewEmbedder(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedding type %q", cfg.Type)
	}
}

func newStore(cfg config.MemoryConfig, dimension int) (memory.Store, error) {
	metric, err := memory.ParseMetric(cfg.Metric)
	if err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case "sqlite":
		if err := ensureDir(cfg.Path); err != nil {
			return nil, err
		}
		return memory.NewSQLiteStore(memory.SQLiteConfig{
			Path:      cfg.Path,
			Namespace: cfg.Namespace,
			Dimension: dimension,
			Metric:    metric,
		})
	case "pinecone":
		return memory.NewPineconeStore(memory.PineconeConfig{
			APIKey:    cfg.Pinecone.APIKey,
			Host:      cfg.Pinecone.Host,
			Namespace: cfg.Namespace,
			Dimension: dimension,
		})
	case "memory":
		return memory.NewInMemoryStore(dimension, metric), nil
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.Backend)
	}
}

// newBus returns a NATS-backed bus when a URL is configured and an
// in-process one otherwise.
func newBus(cfg config.EventsConfig, logger *slog.Logger) (comms.Bus, io.Closer, error) {
	if cfg.NATSURL == "" {
		return comms.NewInMemoryBus(), nopCloser{}, nil
	}
	bus, err := comms.NewNATSBus(comms.NATSConfig{URL: cfg.NATSURL, Subject: cfg.Subject, Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	return bus, bus, nil
}

func openJournal(path string) (*task.SQLiteJournal, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	return task.NewSQLiteJournal(path)
}

func ensureDir(path string) error {
	if path == "" || path == ":memory:" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}

// app holds the collaborators of one loop run.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	provider provider.Provider
	embedder provider.Embedder
	store    memory.Store
	journal  *task.SQLiteJournal // nil when journal.path is empty
	bus      comms.Bus
	closers  []io.Closer
}

// openApp builds every collaborator named by cfg. On error, whatever was
// already opened is closed.
func openApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	fail := func(err error) (*app, error) {
		a.Close()
		return nil, err
	}

	var err error
	if a.provider, err = newProvider(cfg.Provider); err != nil {
		return fail(err)
	}
	if a.embedder, err = newEmbedder(cfg.Embedding); err != nil {
		return fail(err)
	}
	if a.store, err = newStore(cfg.Memory, a.embedder.Dimension()); err != nil {
		return fail(err)
	}
	a.closers = append(a.closers, a.store)
	if cfg.Journal.Path != "" {
		if a.journal, err = openJournal(cfg.Journal.Path); err != nil {
			return fail(err)
		}
		a.closers = append(a.closers, a.journal)
	}
	var busCloser io.Closer
	if a.bus, busCloser, err = newBus(cfg.Events, logger); err != nil {
		return fail(err)
	}
	a.closers = append(a.closers, busCloser)
	return a, nil
}

// contextAgent returns the retriever shared by execution and the API.
func (a *app) contextAgent() *agent.ContextAgent {
	return agent.NewContextAgent(a.embedder, a.store)
}

// runtime assembles the loop from the configured agents.
func (a *app) runtime(ctxAgent *agent.ContextAgent, runID string) *agent.Runtime {
	cfg := a.cfg
	execution := agent.NewExecutionAgent(a.provider, ctxAgent)
	execution.K = cfg.Loop.ContextK
	execution.Params = cfg.Agents.Execution

	creation := agent.NewCreationAgent(a.provider, a.logger)
	creation.Params = cfg.Agents.Creation

	prioritization := agent.NewPrioritizationAgent(a.provider, a.logger)
	prioritization.Params = cfg.Agents.Prioritization

	rc := agent.RuntimeConfig{
		RunID:          runID,
		Objective:      cfg.Objective,
		FirstTask:      cfg.FirstTask,
		Iterations:     cfg.Loop.Iterations,
		Delay:          cfg.Loop.Delay,
		IdlePolls:      cfg.Loop.IdlePolls,
		Execution:      execution,
		Creation:       creation,
		Prioritization: prioritization,
		Embedder:       a.embedder,
		Store:          a.store,
		Bus:            a.bus,
		Logger:         a.logger,
	}
	if a.journal != nil {
		rc.Journal = a.journal
	}
	return agent.NewRuntime(rc)
}

// Close releases resources in reverse order of opening.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
