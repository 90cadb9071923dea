// Package chunk runs the per-segment map stage: it prompts the generative
// backend for one segment at a time and parses the reply into items.
package chunk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/reqflow/internal/cache"
	"github.com/ppiankov/reqflow/internal/llm"
	"github.com/ppiankov/reqflow/internal/metrics"
	"github.com/ppiankov/reqflow/internal/model"
	"github.com/ppiankov/reqflow/internal/worker"
)

// Options tunes a Processor
type Options struct {
	Concurrency   int // parallel segments in ProcessAll
	Neighbors     int // related segments on each side
	NeighborChars int
	Timeout       time.Duration // per backend call
	Model         string
	MaxTokens     int
	Temperature   float32
	CacheTTL      time.Duration
}

// DefaultOptions mirrors model.DefaultConfig
func DefaultOptions() Options {
	return Options{
		Concurrency:   4,
		Neighbors:     1,
		NeighborChars: 1200,
		Timeout:       120 * time.Second,
		Temperature:   0.2,
	}
}

// OptionsFromConfig derives processor options from the app config
func OptionsFromConfig(cfg *model.Config) Options {
	return Options{
		Concurrency:   cfg.Concurrency.MapWorkers,
		Neighbors:     cfg.Chunk.Neighbors,
		NeighborChars: cfg.Chunk.NeighborChars,
		Timeout:       time.Duration(cfg.Chunk.ResponseTimeout) * time.Second,
		Model:         cfg.LLM.Model,
		MaxTokens:     cfg.LLM.MaxTokens,
		Temperature:   cfg.LLM.Temperature,
		CacheTTL:      cfg.Cache.MemoryTTL,
	}
}

// Option configures optional Processor collaborators
type Option func(*Processor)

// WithLimiter rate-limits backend calls, keyed by provider name
func WithLimiter(l *worker.Limiter) Option { return func(p *Processor) { p.limiter = l } }

// WithCache caches successful responses keyed by prompt
func WithCache(c cache.Cache) Option { return func(p *Processor) { p.cache = c } }

// WithMetrics records segment outcomes and backend latency
func WithMetrics(m *metrics.Metrics) Option { return func(p *Processor) { p.metrics = m } }

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// Processor is the map stage
type Processor struct {
	provider llm.Provider
	opts     Options
	limiter  *worker.Limiter
	cache    cache.Cache
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewProcessor creates a processor over a backend provider
func NewProcessor(provider llm.Provider, opts Options, options ...Option) *Processor {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	p := &Processor{
		provider: provider,
		opts:     opts,
		logger:   zap.NewNop(),
	}
	for _, o := range options {
		o(p)
	}
	return p
}

// Process transforms one segment. Local failures (transient backend
// errors, unparseable output) yield an empty result with Failed set and a
// nil error. Only systemic failures return an error, wrapping
// model.ErrBackendFailure.
func (p *Processor) Process(ctx context.Context, seg model.Segment, neighbors []model.Segment, task model.Task) (model.PartialResult, error) {
	return p.ProcessInput(ctx, Input{Task: task, Segment: seg, Neighbors: neighbors})
}

// ProcessInput is Process for inputs that carry extra context
// (anomalies to fix, items to revise)
func (p *Processor) ProcessInput(ctx context.Context, in Input) (model.PartialResult, error) {
	if err := ctx.Err(); err != nil {
		return emptyResult(in), err
	}

	msgs, err := Messages(in, p.opts.NeighborChars)
	if err != nil {
		return emptyResult(in), err
	}
	req := p.request(msgs)

	key := cache.Key(cache.NamespaceResponse, p.provider.Name(), req.Model, in.Task.String(), msgs[0].Content, msgs[1].Content)
	if p.cache != nil {
		if data, ok := p.cache.Get(key); ok {
			if items, ok := ParseItems(in.Kind(), string(data)); ok {
				p.metrics.Segment(in.Task.String(), metrics.OutcomeCached)
				return p.success(in, items), nil
			}
		}
	}

	text, err := p.complete(ctx, req)
	res, err := p.finish(ctx, in, text, err)
	if err == nil && !res.Failed && p.cache != nil {
		_ = p.cache.Set(key, []byte(text), p.opts.CacheTTL)
	}
	return res, err
}

// ProcessStream is Process with token streaming: every delta is passed to
// onToken as it arrives, then the accumulated text is parsed
func (p *Processor) ProcessStream(ctx context.Context, seg model.Segment, neighbors []model.Segment, task model.Task, onToken func(string)) (model.PartialResult, error) {
	in := Input{Task: task, Segment: seg, Neighbors: neighbors}
	if err := ctx.Err(); err != nil {
		return emptyResult(in), err
	}

	msgs, err := Messages(in, p.opts.NeighborChars)
	if err != nil {
		return emptyResult(in), err
	}

	text, err := p.stream(ctx, p.request(msgs), onToken)
	return p.finish(ctx, in, text, err)
}

// ProcessAll runs Process over every segment with bounded parallelism.
// results[i] always belongs to segs[i]. The first systemic failure
// cancels the remaining segments and is returned.
func (p *Processor) ProcessAll(ctx context.Context, segs []model.Segment, task model.Task) ([]model.PartialResult, error) {
	results := make([]model.PartialResult, len(segs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i, seg := range segs {
		g.Go(func() error {
			res, err := p.Process(gctx, seg, Neighbors(segs, i, p.opts.Neighbors), task)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *Processor) request(msgs []llm.Message) llm.Request {
	return llm.Request{
		Messages:    msgs,
		Model:       p.opts.Model,
		MaxTokens:   p.opts.MaxTokens,
		Temperature: p.opts.Temperature,
		JSON:        true,
	}
}

func (p *Processor) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.opts.Timeout > 0 {
		return context.WithTimeout(ctx, p.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

func (p *Processor) complete(ctx context.Context, req llm.Request) (string, error) {
	if err := p.limiter.Wait(ctx, p.provider.Name()); err != nil {
		return "", err
	}

	callCtx, cancel := p.callContext(ctx)
	defer cancel()

	start := time.Now()
	resp, err := p.provider.Complete(callCtx, req)
	p.metrics.BackendRequest(p.provider.Name(), time.Since(start))
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (p *Processor) stream(ctx context.Context, req llm.Request, onToken func(string)) (string, error) {
	if err := p.limiter.Wait(ctx, p.provider.Name()); err != nil {
		return "", err
	}

	callCtx, cancel := p.callContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() { p.metrics.BackendRequest(p.provider.Name(), time.Since(start)) }()

	s, err := p.provider.Stream(callCtx, req)
	if err != nil {
		return "", err
	}
	defer func() { _ = s.Close() }()

	var buf strings.Builder
	for {
		delta, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return buf.String(), nil
		}
		if err != nil {
			return buf.String(), err
		}
		buf.WriteString(delta)
		if onToken != nil {
			onToken(delta)
		}
	}
}

// finish classifies the backend outcome and parses the text
func (p *Processor) finish(ctx context.Context, in Input, text string, callErr error) (model.PartialResult, error) {
	label := in.Segment.Label
	task := in.Task.String()

	if callErr != nil {
		if llm.IsFatal(callErr) {
			p.metrics.Segment(task, metrics.OutcomeFailed)
			return emptyResult(in), fmt.Errorf("segment %s: %w: %w", label, model.ErrBackendFailure, callErr)
		}
		if err := ctx.Err(); err != nil {
			return emptyResult(in), err
		}
		p.logger.Warn("segment call failed",
			zap.String("segment", label),
			zap.String("task", task),
			zap.Error(callErr))
		p.metrics.Segment(task, metrics.OutcomeFailed)
		return failedResult(in), nil
	}

	items, ok := ParseItems(in.Kind(), text)
	if !ok {
		p.logger.Warn("segment output not parseable",
			zap.String("segment", label),
			zap.String("task", task),
			zap.Int("bytes", len(text)))
		p.metrics.Segment(task, metrics.OutcomeFailed)
		return failedResult(in), nil
	}

	p.metrics.Segment(task, metrics.OutcomeOK)
	p.logger.Debug("segment processed",
		zap.String("segment", label),
		zap.String("task", task),
		zap.Int("items", len(items)))
	return p.success(in, items), nil
}

func (p *Processor) success(in Input, items []model.Item) model.PartialResult {
	res := emptyResult(in)
	label := in.Segment.Label
	for _, it := range items {
		if label != "" {
			it.Segment = label
		}
		if it.Anomaly != nil && it.Anomaly.Section == "" {
			it.Anomaly.Section = it.Segment
		}
		if it.Fix != nil && it.Fix.Section == "" {
			it.Fix.Section = it.Segment
		}
		if it.Requirement != nil && it.Requirement.Section == "" {
			it.Requirement.Section = it.Segment
		}
		res.Items = append(res.Items, it)
	}
	return res
}

func emptyResult(in Input) model.PartialResult {
	return model.PartialResult{
		Label:   in.Segment.Label,
		Ordinal: in.Segment.Ordinal,
		Items:   []model.Item{},
	}
}

func failedResult(in Input) model.PartialResult {
	res := emptyResult(in)
	res.Failed = true
	return res
}
