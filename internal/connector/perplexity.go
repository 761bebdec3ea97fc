package connector

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/brandlens/geo-audit/internal/model"
	"github.com/brandlens/geo-audit/internal/reconcile"
	"github.com/brandlens/geo-audit/internal/resilience"
	"github.com/brandlens/geo-audit/pkg/perplexity"
)

// PerplexityConnector executes queries in natural mode: the query is asked
// verbatim with no brand steering, then the answer and its web-search
// sources go through the analyze phase. Both phases run inside one
// retryable unit so a transient failure in either restarts the pair.
type PerplexityConnector struct {
	client   perplexity.Client
	analyzer *Analyzer
	limiter  *rate.Limiter
	retry    resilience.RetryConfig
}

// NewPerplexity creates the natural-mode Perplexity connector.
func NewPerplexity(client perplexity.Client, analyzer *Analyzer, limiter *rate.Limiter, retry resilience.RetryConfig) *PerplexityConnector {
	retry.OnRetry = resilience.RetryLogger(string(model.SurfacePerplexity), "invoke")
	return &PerplexityConnector{
		client:   client,
		analyzer: analyzer,
		limiter:  limiter,
		retry:    retry,
	}
}

func (c *PerplexityConnector) Surface() model.Surface { return model.SurfacePerplexity }

func (c *PerplexityConnector) UsesWebSearch() bool { return true }

// Invoke runs the natural-then-analyze pipeline for one query.
func (c *PerplexityConnector) Invoke(ctx context.Context, query model.Query, brand model.BrandContext) (*model.AnswerEnvelope, error) {
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*model.AnswerEnvelope, error) {
		natural, err := c.naturalResponse(ctx, query.Text)
		if err != nil {
			return nil, err
		}

		env, err := c.analyzer.Analyze(ctx, query, *natural, brand)
		if err != nil {
			return nil, err
		}

		env.Citations = reconcile.Merge(env.Citations, natural.SearchSources, env.OrderedEntities, brand.BrandDomains)

		zap.L().Debug("perplexity invoke complete",
			zap.String("query_id", query.ID),
			zap.Int("entities", len(env.OrderedEntities)),
			zap.Int("citations", len(env.Citations)),
		)
		return env, nil
	})
}

// naturalResponse is phase one: the unsteered answer a real user would get.
func (c *PerplexityConnector) naturalResponse(ctx context.Context, queryText string) (*model.NaturalResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "connector: perplexity rate limit")
		}
	}

	resp, err := c.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Messages: []perplexity.Message{
			{Role: "user", Content: queryText},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "connector: perplexity natural response")
	}
	if len(resp.Choices) == 0 {
		return nil, eris.New("connector: perplexity returned no choices")
	}

	sources := make([]model.SearchSource, 0, len(resp.SearchResults))
	for _, r := range resp.SearchResults {
		if r.URL == "" {
			continue
		}
		sources = append(sources, model.SearchSource{
			URL:    r.URL,
			Domain: reconcile.DomainOf(r.URL),
			Title:  r.Title,
		})
	}

	return &model.NaturalResponse{
		Text:          resp.Choices[0].Message.Content,
		SearchSources: sources,
	}, nil
}
