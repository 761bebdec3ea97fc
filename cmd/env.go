package main

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/brandlens/geo-audit/internal/audit"
	"github.com/brandlens/geo-audit/internal/connector"
	"github.com/brandlens/geo-audit/internal/resilience"
	"github.com/brandlens/geo-audit/internal/store"
	anthropicpkg "github.com/brandlens/geo-audit/pkg/anthropic"
	"github.com/brandlens/geo-audit/pkg/perplexity"
)

// env bundles the wired engine for commands.
type env struct {
	Store    store.Store
	Registry *connector.Registry
	Runner   *audit.Runner
	Analyzer *audit.CrossModelAnalyzer
}

func (e *env) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured store backend and runs migrations.
func initStore(ctx context.Context) (store.Store, error) {
	var st store.Store
	var err error

	switch cfg.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres", "":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}

	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initEngine wires the store, provider connectors, runner, and analyzer.
func initEngine(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Audit.MaxRetries

	// One limiter per surface; intra-run calls share it.
	qps := cfg.Audit.QueriesPerSecond
	if qps <= 0 {
		qps = 0.5
	}

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
	perplexityClient := perplexity.NewClient(cfg.Perplexity.Key,
		perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
		perplexity.WithModel(cfg.Perplexity.Model),
	)
	analyzer := connector.NewAnalyzer(anthropicClient, cfg.Anthropic.AnalyzeModel)

	registry := connector.NewRegistry(
		connector.NewPerplexity(perplexityClient, analyzer, rate.NewLimiter(rate.Limit(qps), 1), retry),
		connector.NewClaude(anthropicClient, cfg.Anthropic.AnswerModel, rate.NewLimiter(rate.Limit(qps), 1), retry),
	)

	return &env{
		Store:    st,
		Registry: registry,
		Runner:   audit.NewRunner(st, registry),
		Analyzer: audit.NewCrossModelAnalyzer(st),
	}, nil
}
