package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/LeeJc02/ShopMate/pkg/adapter"
	"github.com/LeeJc02/ShopMate/pkg/circuit"
	"github.com/LeeJc02/ShopMate/pkg/config"
	"github.com/LeeJc02/ShopMate/pkg/engine"
	"github.com/LeeJc02/ShopMate/pkg/evidence"
	"github.com/LeeJc02/ShopMate/pkg/handler"
	"github.com/LeeJc02/ShopMate/pkg/knowledge"
	"github.com/LeeJc02/ShopMate/pkg/records"
	"github.com/LeeJc02/ShopMate/pkg/registry"
	"github.com/LeeJc02/ShopMate/pkg/resilience"
	"github.com/LeeJc02/ShopMate/pkg/router"
	"github.com/LeeJc02/ShopMate/pkg/storage"
	"github.com/LeeJc02/ShopMate/pkg/suspend"
	"github.com/LeeJc02/ShopMate/pkg/tools"
)

// app is the fully wired service shared by serve and ask.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	registry  *prometheus.Registry
	catalog   *tools.Catalog
	records   records.Store
	retriever knowledge.Retriever
	engine    *engine.Engine
	gateway   *resilience.Gateway

	closers []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		catalog:  tools.NewCatalog(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	adapters, err := createAdapters(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := a.openStorage(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	retriever, err := a.openKnowledge()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.retriever = retriever

	routing := cfg.RoutingConfig
	rs := newReasoners(adapters, cfg, logger)

	var recorder *evidence.Writer
	if dir := cfg.Service.Evidence.Dir; dir != "" {
		recorder, err = evidence.NewWriter(dir)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	classifierOpts := []router.ClassifierOption{router.WithLogger(logger)}
	if r := rs.classifier(); r != nil {
		classifierOpts = append(classifierOpts, router.WithReasoner(r))
	}
	if recorder != nil {
		classifierOpts = append(classifierOpts, router.WithRecorder(recorder))
	}
	classifier := router.NewClassifier(routing, classifierOpts...)

	reg, err := registry.Build(routing, registry.Deps{
		Retriever: a.retriever,
		Records:   a.records,
		Catalog:   a.catalog,
		Reasoners: rs.forRoute,
		TopK:      cfg.Service.Knowledge.TopK,
		Logger:    logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := reg.Validate(classifier.Labels(), routing.DefaultRoute); err != nil {
		a.Close()
		return nil, err
	}

	engineOpts := []engine.Option{engine.WithStore(store), engine.WithLogger(logger)}
	if recorder != nil {
		engineOpts = append(engineOpts, engine.WithRecorder(recorder))
	}
	a.engine = engine.New(classifier, reg, engine.Config{
		DefaultRoute:  routing.DefaultRoute,
		MaxSuspension: cfg.Service.Engine.MaxSuspension,
	}, engineOpts...)

	splitter, err := newSplitter(cfg.Service.Resilience.Experiments)
	if err != nil {
		a.Close()
		return nil, err
	}

	rc := cfg.Service.Resilience
	a.gateway = resilience.NewGateway(a.engine, resilience.Config{
		Breaker:         circuit.Config{FailureThreshold: rc.Breaker.FailureThreshold, Cooldown: rc.Breaker.Cooldown},
		CacheDisabled:   rc.Cache.Disabled,
		CacheTTL:        rc.Cache.TTL,
		CacheMaxEntries: rc.Cache.MaxEntries,
	},
		resilience.WithLogger(logger),
		resilience.WithMetrics(resilience.NewMetrics(a.registry)),
		resilience.WithSplitter(splitter),
	)
	return a, nil
}

// openStorage returns the suspension store and sets the order records.
func (a *app) openStorage(ctx context.Context) (suspend.Store, error) {
	sc := a.cfg.Service.Storage
	if sc.Driver != "sqlite" {
		a.records = records.NewMockStore()
		return suspend.NewMemory(), nil
	}

	db, err := storage.OpenSQLite(sc.SQLitePath)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)

	store, err := suspend.NewSQLite(ctx, db, nil)
	if err != nil {
		return nil, err
	}
	orders, err := openRecords(ctx, db)
	if err != nil {
		return nil, err
	}
	a.records = orders
	a.logger.Info("storage ready", "driver", "sqlite", "path", sc.SQLitePath)
	return store, nil
}

func openRecords(ctx context.Context, db *sql.DB) (*records.SQLiteStore, error) {
	orders, err := records.NewSQLiteStore(ctx, db)
	if err != nil {
		return nil, err
	}
	if err := orders.Seed(ctx, records.SeedOrders(), records.SeedUsers()); err != nil {
		return nil, fmt.Errorf("seed records: %w", err)
	}
	return orders, nil
}

func (a *app) openKnowledge() (knowledge.Retriever, error) {
	kc := a.cfg.Service.Knowledge
	if kc.Backend == "qdrant" {
		q, err := openQdrant(a.cfg, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, q.Close)
		return q, nil
	}

	docs := knowledge.DefaultDocuments()
	if kc.Dir != "" {
		loaded, err := knowledge.LoadDir(kc.Dir)
		if err != nil {
			return nil, err
		}
		docs = loaded
	}
	a.logger.Info("knowledge ready", "backend", "static", "documents", len(docs))
	return knowledge.NewStaticSource(docs), nil
}

func openQdrant(cfg *config.Config, logger *slog.Logger) (*knowledge.QdrantRetriever, error) {
	kc := cfg.Service.Knowledge
	embedder, err := knowledge.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, kc.EmbeddingModel)
	if err != nil {
		return nil, err
	}
	return knowledge.NewQdrantRetriever(knowledge.QdrantConfig{
		URL:        kc.QdrantURL,
		APIKey:     kc.QdrantAPIKey,
		Collection: kc.Collection,
	}, embedder, logger)
}

func newSplitter(experiments []config.ExperimentConfig) (*resilience.Splitter, error) {
	s := resilience.NewSplitter(nil)
	for _, ec := range experiments {
		variants := make([]resilience.Variant, len(ec.Variants))
		for i, v := range ec.Variants {
			variants[i] = resilience.Variant{Label: v.Label, Percent: v.Percent}
		}
		if err := s.Add(resilience.Experiment{
			ID:       ec.ID,
			Route:    ec.Route,
			Start:    ec.Start,
			Duration: ec.Duration,
			Variants: variants,
			Enabled:  !ec.Disabled,
		}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// reasoners hands out one reasoner per adapter/model target, sharing an LLM
// breaker per target across routes.
type reasoners struct {
	adapters map[string]adapter.Adapter
	routing  *config.RoutingConfig
	policy   adapter.Policy
	breakers *circuit.Set
	logger   *slog.Logger
	cache    map[adapter.Target]*adapter.Reasoner
}

func newReasoners(adapters map[string]adapter.Adapter, cfg *config.Config, logger *slog.Logger) *reasoners {
	lb := cfg.Service.Resilience.LLMBreaker
	return &reasoners{
		adapters: adapters,
		routing:  cfg.RoutingConfig,
		policy:   adapter.PolicyFrom(cfg.RoutingConfig),
		breakers: circuit.NewSet(circuit.Config{FailureThreshold: lb.FailureThreshold, Cooldown: lb.Cooldown},
			circuit.WithTransitionHook(func(name string, from, to circuit.State) {
				logger.Warn("llm breaker transition", "target", name, "from", from, "to", to)
			})),
		logger: logger,
		cache:  make(map[adapter.Target]*adapter.Reasoner),
	}
}

// get returns nil when the target's adapter has no credentials, so handlers
// fall back to their template answers.
func (r *reasoners) get(target adapter.Target) handler.Reasoner {
	if _, ok := r.adapters[target.Adapter]; !ok {
		r.logger.Debug("adapter not configured, reasoning disabled", "target", target.String())
		return nil
	}
	if existing, ok := r.cache[target]; ok {
		return existing
	}
	rr := adapter.NewReasoner(r.adapters, target, r.policy,
		adapter.WithBreaker(r.breakers.Get(target.String())),
		adapter.WithLogger(r.logger))
	r.cache[target] = rr
	return rr
}

func (r *reasoners) forRoute(route, variant string) handler.Reasoner {
	t := r.routing.Target(route, variant)
	return r.get(adapter.Target{Adapter: t.Adapter, Model: t.Model})
}

func (r *reasoners) classifier() router.Reasoner {
	t := adapter.Target{Adapter: r.routing.ClassifierAdapter, Model: r.routing.ClassifierModel}
	if t.Adapter == "" {
		t = adapter.Target{Adapter: r.routing.Default.Adapter, Model: r.routing.Default.Model}
	}
	if h := r.get(t); h != nil {
		return h
	}
	return nil
}

func createAdapters(ctx context.Context, cfg *config.Config) (map[string]adapter.Adapter, error) {
	adapters := map[string]adapter.Adapter{"mock": adapter.NewMockAdapter()}

	if cfg.AnthropicAPIKey != "" {
		a, err := adapter.NewAnthropicAdapter(cfg.AnthropicAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create anthropic adapter: %w", err)
		}
		adapters["anthropic"] = a
	}
	if cfg.OpenAIAPIKey != "" {
		a, err := adapter.NewOpenAIAdapter(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai adapter: %w", err)
		}
		adapters["openai"] = a
	}
	if cfg.DeepSeekAPIKey != "" {
		a, err := adapter.NewDeepSeekAdapter(cfg.DeepSeekAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create deepseek adapter: %w", err)
		}
		adapters["deepseek"] = a
	}
	if cfg.DashScopeAPIKey != "" {
		a, err := adapter.NewDashScopeAdapter(cfg.DashScopeAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create dashscope adapter: %w", err)
		}
		adapters["dashscope"] = a
	}
	if cfg.GoogleAPIKey != "" {
		a, err := adapter.NewGoogleAdapter(ctx, cfg.GoogleAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create google adapter: %w", err)
		}
		adapters["google"] = a
	}
	if cfg.OllamaHost != "" {
		a, err := adapter.NewOllamaAdapter(cfg.OllamaHost)
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama adapter: %w", err)
		}
		adapters["ollama"] = a
	}
	return adapters, nil
}
