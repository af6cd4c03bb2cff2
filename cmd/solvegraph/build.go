package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/openai/openai-go/option"
	"github.com/prometheus/client_golang/prometheus"
	backend "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/dshills/solvegraph/graph"
	"github.com/dshills/solvegraph/graph/emit"
	"github.com/dshills/solvegraph/graph/model"
	"github.com/dshills/solvegraph/graph/model/anthropic"
	"github.com/dshills/solvegraph/graph/model/google"
	"github.com/dshills/solvegraph/graph/model/openai"
	"github.com/dshills/solvegraph/graph/store"
	"github.com/dshills/solvegraph/internal/config"
	"github.com/dshills/solvegraph/retrieval"
	"github.com/dshills/solvegraph/solver"
	"github.com/dshills/solvegraph/state"
	"github.com/dshills/solvegraph/verify"
)

// Engine is the concrete engine type every command works with.
type Engine = graph.Engine[state.Record, state.Update]

// app holds the wired runtime and everything that must be closed.
type app struct {
	engine   *Engine
	store    store.Store[state.Record]
	registry *prometheus.Registry
	tracer   *sdktrace.TracerProvider
	traceOut io.Closer
	redis    *backend.Client
}

// Close releases the store and the Redis client, then flushes pending
// spans before closing the trace file.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.tracer != nil {
		errs = append(errs, a.tracer.Shutdown(ctx))
	}
	if a.traceOut != nil {
		errs = append(errs, a.traceOut.Close())
	}
	return errors.Join(errs...)
}

// buildApp wires the full solve graph. withModel is false for commands
// that only inspect checkpoints, so no API key is required.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, withModel bool) (*app, error) {
	a := &app{registry: prometheus.NewRegistry()}

	st, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.store = st

	var m model.ChatModel = unavailableModel{}
	if withModel {
		m, err = newChatModel(cfg)
		if err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
	}

	searcher, err := newSearcher(cfg, logger)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	nodes := solver.DefaultNodes(m, searcher, newJudge(cfg),
		[]solver.SolverOption{solver.WithSolverLogger(logger)},
		solver.WithParallelism(cfg.Verify.Parallelism),
		solver.WithEvaluatorLogger(logger),
	)
	g, err := solver.NewGraph(nodes)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	emitters := emit.Multi{emit.NewSlogEmitter(logger)}
	a.tracer, a.traceOut, err = newTracerProvider(cfg.Trace)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	if a.tracer != nil {
		emitters = append(emitters, emit.NewOTelEmitter(a.tracer.Tracer("solvegraph")))
	}

	opts := []graph.Option{
		graph.WithEmitter(emitters),
		graph.WithMetrics(graph.NewPrometheusMetrics(a.registry)),
		graph.WithLogger(logger),
		graph.WithMaxSteps(cfg.Loop.MaxSteps),
	}
	if cfg.Store.DistributedLock {
		a.redis = backend.NewClient(&backend.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.RedisPassword(),
			DB:       cfg.Store.RedisDB,
		})
		opts = append(opts, graph.WithLocker(store.NewRedisLocker(a.redis, cfg.Store.KeyPrefix), cfg.Store.LockTTL()))
	}

	a.engine = graph.New(g, state.Merge, st, opts...)
	return a, nil
}

// newTracerProvider builds the span pipeline for the configured exporter.
// It returns a nil provider when tracing is off. The closer, if any, owns
// the trace file and must be closed after the provider shuts down.
func newTracerProvider(tc config.TraceConfig) (*sdktrace.TracerProvider, io.Closer, error) {
	if tc.Exporter != "stdout" {
		return nil, nil, nil
	}

	var (
		w      io.Writer = os.Stderr
		closer io.Closer
	)
	if tc.Path != "" {
		f, err := os.OpenFile(tc.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open trace file: %w", err)
		}
		w, closer = f, f
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", "solvegraph"))),
	)
	return tp, closer, nil
}

func newStore(ctx context.Context, cfg *config.Config) (store.Store[state.Record], error) {
	sc := cfg.Store
	switch sc.Backend {
	case "memory":
		return store.NewMemStore[state.Record](), nil
	case "sqlite":
		return store.NewSQLiteStore[state.Record](sc.Path)
	case "mysql":
		return store.NewMySQLStore[state.Record](sc.DSN)
	case "postgres":
		return store.NewPostgresStore[state.Record](sc.DSN)
	case "redis":
		var opts []store.RedisOption
		if sc.KeyPrefix != "" {
			opts = append(opts, store.WithKeyPrefix(sc.KeyPrefix))
		}
		rs := store.NewRedisStore[state.Record](sc.RedisAddr, cfg.RedisPassword(), sc.RedisDB, opts...)
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", sc.RedisAddr, err)
		}
		return rs, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", sc.Backend)
	}
}

func newChatModel(cfg *config.Config) (model.ChatModel, error) {
	key, err := cfg.APIKey()
	if err != nil {
		return nil, err
	}

	var m model.ChatModel
	switch cfg.Model.Provider {
	case "anthropic":
		m = anthropic.NewChatModel(key, cfg.Model.Name)
	case "openai":
		var opts []option.RequestOption
		if cfg.Model.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.Model.BaseURL))
		}
		m = openai.NewChatModel(key, cfg.Model.Name, opts...)
	case "google":
		m = google.NewChatModel(key, cfg.Model.Name)
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Model.Provider)
	}

	m = model.WithRateLimit(m, cfg.Model.RateLimitPerMinute)
	if cfg.Model.MaxRetries > 0 {
		m = model.WithRetry(m, cfg.Model.MaxRetries, cfg.Model.RetryDelay())
	}
	return m, nil
}

// newSearcher indexes the configured corpus. Without a corpus retrieval
// finds nothing and the solve step runs without examples.
func newSearcher(cfg *config.Config, logger *slog.Logger) (*retrieval.Index, error) {
	var entries []retrieval.Entry
	if cfg.Retrieval.Corpus != "" {
		var err error
		entries, err = retrieval.LoadCorpus(cfg.Retrieval.Corpus)
		if err != nil {
			return nil, err
		}
	}
	idx := retrieval.NewIndex(entries)
	logger.Debug("retrieval index built", "entries", idx.Len())
	return idx, nil
}

// threadConfig is the run configuration for threadID.
func threadConfig(cfg *config.Config, threadID string) graph.Config {
	return graph.Config{ThreadID: threadID, K: cfg.Retrieval.K}
}

func newJudge(cfg *config.Config) verify.Judge {
	if cfg.Verify.Judge == "http" {
		j := verify.NewHTTPJudge(cfg.Verify.URL, &http.Client{Timeout: 5 * time.Minute})
		if token := cfg.JudgeToken(); token != "" {
			j.SetHeader("Authorization", "Bearer "+token)
		}
		return j
	}
	return verify.NewSubprocessJudge(cfg.Verify.Interpreter)
}

// unavailableModel backs inspection commands, which never generate.
type unavailableModel struct{}

func (unavailableModel) Chat(context.Context, []model.Message, []model.ToolSpec) (model.ChatOut, error) {
	return model.ChatOut{}, errors.New("no chat model configured for this command")
}
