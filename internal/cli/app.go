package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/reqflow/internal/cache"
	"github.com/ppiankov/reqflow/internal/chunk"
	"github.com/ppiankov/reqflow/internal/llm"
	"github.com/ppiankov/reqflow/internal/logging"
	"github.com/ppiankov/reqflow/internal/metrics"
	"github.com/ppiankov/reqflow/internal/model"
	"github.com/ppiankov/reqflow/internal/pipeline"
	"github.com/ppiankov/reqflow/internal/segment"
	"github.com/ppiankov/reqflow/internal/source"
	"github.com/ppiankov/reqflow/internal/store"
	"github.com/ppiankov/reqflow/internal/stream"
	"github.com/ppiankov/reqflow/internal/version"
	"github.com/ppiankov/reqflow/internal/worker"
)

// app holds the services one command invocation needs
type app struct {
	cfg      *model.Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	store    store.Store
	versions *version.Manager
	source   *source.Source
	runner   *pipeline.Runner

	// set only when the command talks to the backend
	processor    *chunk.Processor
	orchestrator *stream.Orchestrator

	metricsSrv *http.Server
}

// loadConfig layers viper values (flags, env, file) over the defaults
func loadConfig() (*model.Config, error) {
	cfg := model.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.LLM.APIKey == "" || cfg.LLM.BaseURL == "" {
		key, baseURL := llm.APIKeyFromEnv(cfg.LLM.Provider)
		if cfg.LLM.APIKey == "" {
			cfg.LLM.APIKey = key
		}
		if cfg.LLM.BaseURL == "" {
			cfg.LLM.BaseURL = baseURL
		}
	}

	var err error
	if cfg.Store.Path != ":memory:" {
		if cfg.Store.Path, err = expandHome(cfg.Store.Path); err != nil {
			return nil, err
		}
	}
	if cfg.Cache.Dir, err = expandHome(cfg.Cache.Dir); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key of the default config with viper so that
// REQFLOW_* environment variables resolve for keys absent from the file
func setDefaults(v *viper.Viper) error {
	data, err := yaml.Marshal(model.DefaultConfig())
	if err != nil {
		return fmt.Errorf("encode defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("decode defaults: %w", err)
	}
	setTree(v, "", tree)
	// Keys omitted from the default YAML still need to be known
	for _, key := range []string{"llm.api_key", "llm.base_url", "http.http_proxy", "http.https_proxy", "http.no_proxy", "stream.nats_url", "metrics.addr"} {
		if !v.IsSet(key) {
			v.SetDefault(key, "")
		}
	}
	return nil
}

func setTree(v *viper.Viper, prefix string, tree map[string]any) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			setTree(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("error finding home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// newLogger builds the process logger from config
func newLogger(cfg *model.Config) (*zap.Logger, error) {
	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	return logging.New(logging.Config{Level: level, Format: cfg.Logging.Format})
}

// newApp wires the services. Backend services are only built when
// withBackend is set, so local commands work without credentials.
func newApp(cfg *model.Config, logger *zap.Logger, withBackend bool) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}

	st, err := store.Open(cfg.Store)
	if err != nil {
		return nil, err
	}
	a.store = st
	a.versions = version.NewManager(st,
		version.WithMetrics(a.metrics),
		version.WithLogger(logging.Component(logger, "version")))

	limiter := worker.NewLimiter(cfg.Concurrency.RequestsPerSecond, cfg.Concurrency.Burst)

	var c cache.Cache
	if cfg.Cache.Enabled {
		c = cache.NewLayeredCache(cfg.Cache.MemoryTTL, cfg.Cache.Dir, cfg.Cache.DiskTTL)
	}

	fetcher := source.NewFetcher(cfg.HTTP, limiter, logging.Component(logger, "fetch"))
	srcOpts := []source.Option{source.WithLogger(logging.Component(logger, "source"))}
	if c != nil {
		srcOpts = append(srcOpts, source.WithCache(c, cfg.Cache.DiskTTL))
	}
	a.source = source.New(fetcher, srcOpts...)

	splitter, err := segment.New(cfg.Segmenter, nil)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	var proc pipeline.Processor
	if withBackend {
		provider, err := llm.NewProvider(llm.ConfigFromModel(*cfg), logging.Component(logger, "llm"))
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		procOpts := []chunk.Option{
			chunk.WithLimiter(limiter),
			chunk.WithMetrics(a.metrics),
			chunk.WithLogger(logging.Component(logger, "chunk")),
		}
		if c != nil && cfg.Chunk.CacheResponses {
			procOpts = append(procOpts, chunk.WithCache(c))
		}
		a.processor = chunk.NewProcessor(
			llm.WithRetry(provider, llm.RetryConfigFromModel(cfg.Retry), logging.Component(logger, "retry")),
			chunk.OptionsFromConfig(cfg),
			procOpts...)
		proc = a.processor
	}

	a.runner = pipeline.NewRunner(st, a.source, splitter, proc, a.versions,
		pipeline.WithNeighbors(cfg.Chunk.Neighbors),
		pipeline.WithConcurrency(cfg.Concurrency.MapWorkers),
		pipeline.WithLogger(logging.Component(logger, "pipeline")))

	if a.processor != nil {
		a.orchestrator = stream.NewOrchestrator(a.runner, a.processor, a.versions,
			stream.WithBuffer(cfg.Stream.Buffer),
			stream.WithNeighbors(cfg.Chunk.Neighbors),
			stream.WithMetrics(a.metrics),
			stream.WithLogger(logging.Component(logger, "stream")))
	}

	if cfg.Metrics.Addr != "" {
		a.serveMetrics(cfg.Metrics.Addr)
	}
	return a, nil
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	a.metricsSrv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("metrics server stopped", zap.String("addr", addr), zap.Error(err))
		}
	}()
	a.logger.Info("serving metrics", zap.String("addr", addr))
}

func (a *app) Close() error {
	if a.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.metricsSrv.Shutdown(ctx)
	}
	return a.store.Close()
}

// document resolves a document for rendering
func (a *app) document(ctx context.Context, id string) (model.Document, error) {
	return a.store.Document(ctx, id)
}
