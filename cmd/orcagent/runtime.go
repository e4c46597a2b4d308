package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/dshills/orcgraph/graph"
	"github.com/dshills/orcgraph/graph/emit"
	"github.com/dshills/orcgraph/graph/model"
	"github.com/dshills/orcgraph/graph/model/anthropic"
	"github.com/dshills/orcgraph/graph/model/google"
	"github.com/dshills/orcgraph/graph/model/openai"
	"github.com/dshills/orcgraph/graph/store"
	"github.com/dshills/orcgraph/internal/config"
	"github.com/dshills/orcgraph/internal/sandbox"
	"github.com/dshills/orcgraph/workflow"
)

// runtime is the wired application of one command invocation.
type runtime struct {
	app      *workflow.App
	store    store.Store
	registry *prometheus.Registry
	usage    *model.UsageTracker

	closers []func(context.Context) error
}

func newRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{
		registry: prometheus.NewRegistry(),
		usage:    model.NewUsageTracker(),
	}

	st, err := openStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	rt.store = st
	rt.closers = append(rt.closers, func(context.Context) error { return st.Close() })

	chat, err := newModel(cfg.Model)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}

	var emitter emit.Emitter = emit.NewLogEmitter(logger)
	if cfg.Trace.Endpoint != "" {
		tracing, shutdown, err := newTracer(ctx, cfg.Trace)
		if err != nil {
			_ = rt.Close(ctx)
			return nil, err
		}
		rt.closers = append(rt.closers, shutdown)
		emitter = emit.NewMultiEmitter(emitter, tracing)
	}

	pool := sandbox.NewPool(cfg.Workflow.Workdir,
		sandbox.ProcessFactory(cfg.Workflow.Python, cfg.Workflow.ExecTimeoutDuration()))
	rt.closers = append(rt.closers, func(context.Context) error { return pool.Close() })

	rt.app, err = workflow.NewApp(workflow.Options{
		Store: st,
		Model: chat,
		Pool:  pool,
		Settings: workflow.Settings{
			AutoApprove:  cfg.Workflow.AutoApprove,
			MaxRevisions: cfg.Workflow.MaxRevisions,
			OutputDir:    cfg.Workflow.OutputDir,
			Formats:      cfg.Workflow.Formats,
		},
		Emitter:     emitter,
		Metrics:     graph.NewPrometheusMetrics(rt.registry),
		Logger:      logger,
		MaxSteps:    cfg.Engine.MaxSteps,
		NodeTimeout: cfg.Engine.NodeTimeoutDuration(),
		Usage:       rt.usage,
	})
	if err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	return rt, nil
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i](ctx))
	}
	rt.closers = nil
	return errors.Join(errs...)
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemStore(), nil
	case "sqlite":
		return store.NewSQLiteStore(cfg.DSN)
	case "mysql":
		return store.NewMySQLStore(cfg.DSN)
	case "postgres":
		return store.NewPostgresStore(cfg.DSN)
	case "redis":
		opts := []store.RedisOption{store.WithPrefix(cfg.RedisPrefix)}
		if ttl := cfg.TTLDuration(); ttl > 0 {
			opts = append(opts, store.WithTTL(ttl))
		}
		return store.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, opts...), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

func newModel(cfg config.ModelConfig) (model.ChatModel, error) {
	if cfg.Provider == "mock" {
		return mockModel(), nil
	}
	key := cfg.APIKey()
	if key == "" {
		return nil, fmt.Errorf("%s API key not set (export %s)", cfg.Provider, cfg.APIKeyEnv)
	}
	var m model.ChatModel
	switch cfg.Provider {
	case "anthropic":
		m = anthropic.NewChatModel(key, cfg.Name)
	case "openai":
		m = openai.NewChatModel(key, cfg.Name)
	case "google":
		m = google.NewChatModel(key, cfg.Name)
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
	return model.WithRetry(m, model.DefaultRetryPolicy())
}

// mockModel answers without a provider: code prompts get a runnable
// snippet, everything else an approving note.
func mockModel() *model.MockChatModel {
	return &model.MockChatModel{
		Respond: func(msgs []model.Message) (model.ChatOut, error) {
			system, _ := model.SplitSystem(msgs)
			if strings.Contains(system, "executable Python") {
				return model.ChatOut{Text: "print('mock analysis')", Model: "mock"}, nil
			}
			return model.ChatOut{Text: "APPROVE\n\n# Mock Report\n\nNo model configured.", Model: "mock"}, nil
		},
	}
}

func newTracer(ctx context.Context, cfg config.TraceConfig) (*emit.OTelEmitter, func(context.Context) error, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create trace exporter: %w", err)
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", "orcagent"))),
	)
	return emit.NewOTelEmitter(provider.Tracer("github.com/dshills/orcgraph")), provider.Shutdown, nil
}
