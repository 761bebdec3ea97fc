package connector

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/brandlens/geo-audit/internal/model"
	"github.com/brandlens/geo-audit/internal/reconcile"
	"github.com/brandlens/geo-audit/internal/resilience"
	"github.com/brandlens/geo-audit/pkg/anthropic"
)

// ClaudeConnector executes queries in structured mode: a single call that
// answers the question and self-reports the structured envelope. No web
// search is involved, so reconciliation only normalizes the answer's own
// citations.
type ClaudeConnector struct {
	client  anthropic.Client
	model   string
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewClaude creates the structured-mode Claude connector.
func NewClaude(client anthropic.Client, answerModel string, limiter *rate.Limiter, retry resilience.RetryConfig) *ClaudeConnector {
	retry.OnRetry = resilience.RetryLogger(string(model.SurfaceClaude), "invoke")
	return &ClaudeConnector{
		client:  client,
		model:   answerModel,
		limiter: limiter,
		retry:   retry,
	}
}

func (c *ClaudeConnector) Surface() model.Surface { return model.SurfaceClaude }

func (c *ClaudeConnector) UsesWebSearch() bool { return false }

// Invoke executes one structured-mode call for the query.
func (c *ClaudeConnector) Invoke(ctx context.Context, query model.Query, brand model.BrandContext) (*model.AnswerEnvelope, error) {
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*model.AnswerEnvelope, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     c.model,
			MaxTokens: 2048,
			System:    structuredSystemText,
			Messages: []anthropic.Message{
				{Role: "user", Content: buildStructuredPrompt(query, brand)},
			},
		})
		if err != nil {
			return nil, err
		}
		resp.Usage.LogCost(c.model, "answer")

		env, err := parseEnvelope(resp.Text())
		if err != nil {
			return nil, err
		}

		env.Citations = reconcile.Merge(env.Citations, nil, env.OrderedEntities, brand.BrandDomains)

		zap.L().Debug("claude invoke complete",
			zap.String("query_id", query.ID),
			zap.Int("entities", len(env.OrderedEntities)),
			zap.Int("citations", len(env.Citations)),
		)
		return env, nil
	})
}
