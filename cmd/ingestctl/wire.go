package main

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/AleutianAI/sfvector-ingest/internal/bridge"
	"github.com/AleutianAI/sfvector-ingest/internal/cachestore"
	"github.com/AleutianAI/sfvector-ingest/internal/coalescer"
	"github.com/AleutianAI/sfvector-ingest/internal/config"
	"github.com/AleutianAI/sfvector-ingest/internal/describer"
	"github.com/AleutianAI/sfvector-ingest/internal/embed"
	"github.com/AleutianAI/sfvector-ingest/internal/emitter"
	"github.com/AleutianAI/sfvector-ingest/internal/enrich"
	"github.com/AleutianAI/sfvector-ingest/internal/enumerator"
	"github.com/AleutianAI/sfvector-ingest/internal/ingestlog"
	"github.com/AleutianAI/sfvector-ingest/internal/model"
	"github.com/AleutianAI/sfvector-ingest/internal/orchestrator"
	"github.com/AleutianAI/sfvector-ingest/internal/progress"
	"github.com/AleutianAI/sfvector-ingest/internal/ratelimit"
	"github.com/AleutianAI/sfvector-ingest/internal/retry"
	"github.com/AleutianAI/sfvector-ingest/internal/telemetry"
	"github.com/AleutianAI/sfvector-ingest/internal/uploader"
)

// pipeline bundles every constructed component an ingestctl command
// might need, so each command's Run function only picks the pieces it
// uses instead of re-deriving wiring order itself.
type pipeline struct {
	cfg          config.Config
	logger       *ingestlog.Logger
	cache        *cachestore.Store
	progress     progress.ProgressStore
	closeProg    func() error
	retryEngine  *retry.Engine
	limiter      *ratelimit.Limiter
	br           *bridge.Bridge
	enumerator   *enumerator.Enumerator
	describer    *describer.Describer
	coalescer    *coalescer.Coalescer
	enrichers    []enrich.Enricher
	emitter      *emitter.Emitter
	embedClient  *embed.Client
	weaviate     *weaviate.Client
	uploader     *uploader.Uploader
	orchestrator *orchestrator.Orchestrator
	metrics      *telemetry.Metrics
}

// buildPipeline wires every internal package's New from a loaded
// config.Config, in the same order the teacher's cli_commands.go builds
// its RAG pipeline dependencies before dispatching a command: cache and
// progress first (state that must survive the run), then bridge/retry
// (the primitives everything else calls through), then the phase
// components that depend on them.
func buildPipeline(cfg config.Config, logger *ingestlog.Logger, metrics *telemetry.Metrics) (*pipeline, error) {
	p := &pipeline{cfg: cfg, logger: logger, metrics: metrics}

	cache, err := cachestore.New(cachestore.Config{
		Dir:      cfg.Cache.Dir,
		MaxAge:   cfg.Cache.MaxAge,
		Compress: cfg.Cache.Compress,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("build cache store: %w", err)
	}
	if metrics != nil {
		cache.SetMetrics(metrics)
	}
	p.cache = cache

	if cfg.Progress.Backend == "badger" {
		bs, err := progress.OpenBadger(progress.BadgerConfig{
			Path: cfg.Progress.Path,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("open badger progress store: %w", err)
		}
		p.progress = bs
		p.closeProg = bs.Close
	} else {
		path := cfg.Progress.Path
		if path == "" {
			path = "./progress.json"
		}
		st, err := progress.Open(path, logger)
		if err != nil {
			return nil, fmt.Errorf("open progress store: %w", err)
		}
		p.progress = st
		p.closeProg = func() error { return st.Close(context.Background()) }
	}

	p.retryEngine = retry.New(retry.Config{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		BaseDelay:       cfg.Retry.BaseDelay,
		MaxDelay:        cfg.Retry.MaxDelay,
		QuotaFloorDelay: cfg.Retry.QuotaFloorDelay,
	}, logger)
	if metrics != nil {
		p.retryEngine.SetMetrics(metrics)
	}

	p.limiter = ratelimit.New(ratelimit.Config{
		Burst:              cfg.RateLimit.Burst,
		StartRatePerMinute: cfg.RateLimit.StartRatePerMinute,
		MinRatePerMinute:   cfg.RateLimit.MinRatePerMinute,
		MaxRatePerMinute:   cfg.RateLimit.MaxRatePerMinute,
		AdjustInterval:     cfg.RateLimit.AdjustInterval,
	}, logger)
	if metrics != nil {
		p.limiter.SetMetrics(metrics)
	}

	p.br = bridge.New(cfg.Tenant.Binary, bridge.Config{
		DefaultTimeout: cfg.Bridge.DefaultTimeout,
		GracePeriod:    cfg.Bridge.GracePeriod,
	}, p.limiter, logger)
	if metrics != nil {
		p.br.SetMetrics(metrics)
	}

	p.enumerator = enumerator.New(p.br, enumerator.Config{
		NoisePrefixes:      cfg.Enumerate.NoisePrefixes,
		NoiseSuffixes:      cfg.Enumerate.NoiseSuffixes,
		ExcludedNamespaces: cfg.Enumerate.ExcludedNamespaces,
	}, logger)

	p.describer = describer.New(p.br, p.cache, p.retryEngine, describer.Config{
		Workers: cfg.Describe.Workers,
	}, logger)

	p.coalescer = coalescer.New(p.cache, coalescer.Config{
		BatchSize: cfg.Coalescer.BatchSize,
	}, logger)

	p.enrichers = []enrich.Enricher{
		enrich.NewStatsEnricher(p.br, p.coalescer, p.retryEngine, enrich.StatsConfig{
			SampleSize: cfg.Stats.SampleSize,
			Workers:    cfg.Stats.Workers,
		}, cfg.FreshDays, logger),
		enrich.NewAutomationEnricher(p.br, p.coalescer, p.retryEngine, logger),
		enrich.NewFieldSecurityEnricher(p.br, p.coalescer, p.retryEngine, logger),
		enrich.NewHistoryEnricher(p.br, p.coalescer, p.retryEngine, logger),
		enrich.NewOrgSecurityEnricher(p.br, p.cache, p.retryEngine, enrich.OrgSecurityConfig{
			Workers: cfg.OrgSecurity.Workers,
		}, logger),
	}

	em, err := emitter.New(emitter.Config{
		MaxTokens: cfg.Emit.MaxTokens,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("build emitter: %w", err)
	}
	p.emitter = em

	selected := selectedPhases(cfg.Phases)
	needsUpload := selected[model.PhaseUpload]

	if needsUpload {
		embedClient, err := embed.New(embed.Config{
			APIKey:    cfg.Embed.APIKey,
			Model:     openai.EmbeddingModel(cfg.Embed.Model),
			BatchSize: cfg.Embed.BatchSize,
			Timeout:   cfg.Embed.Timeout,
		}, p.retryEngine, p.limiter, logger)
		if err != nil {
			return nil, fmt.Errorf("build embed client: %w", err)
		}
		p.embedClient = embedClient

		host, scheme := config.ParseWeaviateURL(cfg.Weaviate.URL)
		client, err := weaviate.NewClient(weaviate.Config{Host: host, Scheme: scheme})
		if err != nil {
			return nil, fmt.Errorf("build weaviate client: %w", err)
		}
		p.weaviate = client

		p.uploader = uploader.New(p.weaviate, p.embedClient, p.retryEngine, p.progress, uploader.Config{
			Workers: cfg.Upload.Workers,
		}, logger)
		if metrics != nil {
			p.uploader.SetMetrics(metrics)
		}
	}

	p.orchestrator = orchestrator.New(
		p.enumerator,
		p.describer,
		p.enrichers,
		p.emitter,
		p.uploader,
		p.cache,
		p.progress,
		orchestrator.Config{
			Phases:      phasesFromStrings(cfg.Phases),
			CorpusPath:  cfg.Emit.CorpusPath,
			SchemaPath:  cfg.Emit.SchemaPath,
			MarkdownDir: cfg.Emit.MarkdownDir,
		},
		logger,
	)
	if metrics != nil {
		p.orchestrator.SetMetrics(metrics)
	}

	return p, nil
}

// telemetryConfig layers a loaded config.TelemetryConfig over
// telemetry.DefaultConfig's env-overridable defaults, so an operator
// leaving the telemetry block out of config.yaml entirely still gets
// stdout tracing and Prometheus metrics rather than an unknown-exporter
// error.
func telemetryConfig(tc config.TelemetryConfig) telemetry.Config {
	def := telemetry.DefaultConfig()
	if tc.ServiceName != "" {
		def.ServiceName = tc.ServiceName
	}
	if tc.Environment != "" {
		def.Environment = tc.Environment
	}
	if tc.TraceExporter != "" {
		def.TraceExporter = tc.TraceExporter
	}
	if tc.MetricExporter != "" {
		def.MetricExporter = tc.MetricExporter
	}
	if tc.OTLPEndpoint != "" {
		def.OTLPEndpoint = tc.OTLPEndpoint
	}
	return def
}

func selectedPhases(names []string) map[model.Phase]bool {
	sel := make(map[model.Phase]bool, len(names))
	for _, p := range phasesFromStrings(names) {
		sel[p] = true
	}
	return sel
}

// phasesFromStrings converts configured phase names to model.Phase,
// defaulting to every phase when none are named.
func phasesFromStrings(names []string) []model.Phase {
	if len(names) == 0 {
		return model.AllPhases
	}
	phases := make([]model.Phase, 0, len(names))
	for _, n := range names {
		phases = append(phases, model.Phase(n))
	}
	return phases
}
