package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/palantir/lead-enrichment-pipeline/internal/annotator"
	"github.com/palantir/lead-enrichment-pipeline/internal/annotator/gemini"
	"github.com/palantir/lead-enrichment-pipeline/internal/annotator/mock"
	"github.com/palantir/lead-enrichment-pipeline/internal/annotator/ollama"
	"github.com/palantir/lead-enrichment-pipeline/internal/checkpoint"
	"github.com/palantir/lead-enrichment-pipeline/internal/config"
	"github.com/palantir/lead-enrichment-pipeline/internal/enrich"
	"github.com/palantir/lead-enrichment-pipeline/internal/pipeline"
	"github.com/palantir/lead-enrichment-pipeline/internal/store"
	"github.com/palantir/lead-enrichment-pipeline/internal/store/memory"
	"github.com/palantir/lead-enrichment-pipeline/internal/store/sqlstore"
)

// OpenStore opens the configured record store. The caller owns Close.
func OpenStore(ctx context.Context, cfg config.Database, logger *slog.Logger) (store.Store, error) {
	var sc sqlstore.Config
	switch cfg.Driver {
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverSQLite:
		sc = sqlstore.Config{Driver: sqlstore.DriverSQLite, DSN: sqlstore.SQLiteDSN(cfg.Path)}
	case config.DriverPostgres:
		sc = sqlstore.Config{
			Driver:          sqlstore.DriverPostgres,
			DSN:             cfg.PostgresURL(),
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	st, err := sqlstore.Open(ctx, sc, sqlstore.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return st, nil
}

// NewAnnotator builds the configured generation backend.
func NewAnnotator(ctx context.Context, cfg config.Annotator) (annotator.Annotator, error) {
	switch cfg.Backend {
	case config.BackendOllama:
		a, err := ollama.New(ollama.Config{Host: cfg.Host, Temperature: cfg.Temperature})
		if err != nil {
			return nil, err
		}
		return a, nil
	case config.BackendGemini:
		a, err := gemini.New(ctx, gemini.Config{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL})
		if err != nil {
			return nil, err
		}
		return a, nil
	case config.BackendMock:
		return mock.New(nil), nil
	}
	return nil, fmt.Errorf("unsupported annotator backend %q", cfg.Backend)
}

// ModelID returns the model to request. The mock backend accepts any id.
func ModelID(cfg config.Annotator) string {
	if m := strings.TrimSpace(cfg.Model); m != "" {
		return m
	}
	if cfg.Backend == config.BackendMock {
		return "mock"
	}
	return ""
}

// NewPipeline wraps a in request tracing and builds a pipeline from cfg.
// cp may be nil.
func NewPipeline(cfg config.Config, a annotator.Annotator, cp pipeline.Checkpointer, logger *slog.Logger) (*pipeline.Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	traced := newTracedAnnotator(a, logger.With("component", "annotator"), cfg.Pipeline.MaxRetries, cfg.Pipeline.RequestTimeout)
	e, err := enrich.New(traced, ModelID(cfg.Annotator))
	if err != nil {
		return nil, err
	}
	opts := []pipeline.Option{
		pipeline.WithWorkers(cfg.Pipeline.Workers),
		pipeline.WithMaxRetries(cfg.Pipeline.MaxRetries),
		pipeline.WithRequestTimeout(cfg.Pipeline.RequestTimeout),
		pipeline.WithRateLimit(cfg.Pipeline.RateLimitRPS),
		pipeline.WithLogger(logger.With("component", "pipeline")),
	}
	if cp != nil {
		opts = append(opts, pipeline.WithCheckpoint(cp))
	}
	return pipeline.New(e, opts...)
}

// OpenCheckpoint opens the checkpoint store under dir, or returns nil when
// dir is empty.
func OpenCheckpoint(dir string) (*checkpoint.Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, nil
	}
	return checkpoint.Open(dir)
}
