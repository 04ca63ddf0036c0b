package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapviz/internal/config"
	"github.com/leapstack-labs/leapviz/internal/engine"
	"github.com/leapstack-labs/leapviz/internal/metrics"
	"github.com/leapstack-labs/leapviz/internal/translate"
	"github.com/leapstack-labs/leapviz/pkg/client"
	"github.com/leapstack-labs/leapviz/pkg/core"
	"github.com/leapstack-labs/leapviz/pkg/orchestrator"
	"github.com/leapstack-labs/leapviz/pkg/viewstate"
)

// session is an orchestrator over the backend selected by configuration:
// a remote server when backend.url is set, otherwise the in-process engine.
type session struct {
	orch    *orchestrator.Orchestrator
	store   *viewstate.Store
	metrics *metrics.Collector
	logger  *slog.Logger
	close   func() error
}

func getConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.FromContext(cmd.Context())
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return cfg, nil
}

func openSession(cmd *cobra.Command) (*session, error) {
	ctx := cmd.Context()
	cfg, err := getConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := config.GetLogger(ctx)

	backend, closeBackend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	store := viewstate.NewStore(viewstate.WithLogger(logger))
	m := metrics.New(false)
	orch, err := orchestrator.New(backend, store,
		orchestrator.WithConfig(cfg.OrchestratorConfig()),
		orchestrator.WithLogger(logger),
		orchestrator.WithObserver(m),
	)
	if err != nil {
		_ = closeBackend()
		return nil, err
	}
	if err := m.WatchCaches(orch.CacheStats); err != nil {
		orch.Close()
		_ = closeBackend()
		return nil, err
	}

	return &session{
		orch:    orch,
		store:   store,
		metrics: m,
		logger:  logger,
		close: func() error {
			orch.Close()
			return closeBackend()
		},
	}, nil
}

// openBackend returns the configured backend and a function releasing it.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (core.Backend, func() error, error) {
	if cfg.Backend.URL != "" {
		c, err := client.New(cfg.Backend.URL, client.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return c, func() error { return nil }, nil
	}

	eng, err := openEngine(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return eng.Local(), eng.Close, nil
}

func openEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*engine.Engine, error) {
	tr, err := newTranslator(cfg, logger)
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(cfg.StatePath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	params := map[string]any{}
	if len(cfg.Engine.Extensions) > 0 {
		params["extensions"] = cfg.Engine.Extensions
	}
	if len(cfg.Engine.Settings) > 0 {
		params["settings"] = cfg.Engine.Settings
	}

	return engine.Open(ctx, engine.Config{
		DatabasePath: cfg.Database,
		StatePath:    cfg.StatePath,
		MaxRows:      cfg.Engine.MaxRows,
		PreviewRows:  cfg.Engine.PreviewRows,
		DuckDB:       params,
	}, tr, logger)
}

// newTranslator returns the LLM translator, or nil when no API key is set.
func newTranslator(cfg *config.Config, logger *slog.Logger) (translate.Translator, error) {
	if cfg.LLM.APIKey == "" {
		logger.Debug("no llm api key configured, only SQL questions are supported")
		return nil, nil
	}
	var hc *http.Client
	if cfg.LLM.Timeout > 0 {
		hc = &http.Client{Timeout: cfg.LLM.Timeout}
	}
	return translate.NewOpenAI(translate.OpenAIConfig{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		HTTPClient:  hc,
	}, logger)
}

// dataFlags select a dataset to load before running a command.
type dataFlags struct {
	file string
	demo bool
}

func (f *dataFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.file, "data", "", "CSV file to load before running")
	cmd.Flags().BoolVar(&f.demo, "demo", false, "Load the bundled demo dataset before running")
	cmd.MarkFlagsMutuallyExclusive("data", "demo")
}

func (f *dataFlags) load(ctx context.Context, s *session) (*core.TableInfo, error) {
	switch {
	case f.demo:
		return s.orch.Upload(ctx, core.UploadRequest{UseDemo: true})
	case f.file != "":
		file, err := os.Open(f.file)
		if err != nil {
			return nil, err
		}
		defer func() { _ = file.Close() }()
		return s.orch.Upload(ctx, core.UploadRequest{FileName: filepath.Base(f.file), Content: file})
	default:
		return nil, nil
	}
}
