package connector

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/brandlens/geo-audit/internal/model"
	"github.com/brandlens/geo-audit/pkg/anthropic"
)

// Analyzer is the second phase of the natural-mode pipeline: it turns a raw
// natural-language answer plus its search sources into a typed
// AnswerEnvelope.
type Analyzer struct {
	client anthropic.Client
	model  string
}

// NewAnalyzer creates an Analyzer backed by the given Claude model.
func NewAnalyzer(client anthropic.Client, model string) *Analyzer {
	return &Analyzer{client: client, model: model}
}

// Analyze extracts the structured envelope from a natural response. The
// envelope's citations at this point are only the answer's inline
// citations; reconciliation with search sources happens in the connector.
func (a *Analyzer) Analyze(ctx context.Context, query model.Query, natural model.NaturalResponse, brand model.BrandContext) (*model.AnswerEnvelope, error) {
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     a.model,
		MaxTokens: 2048,
		System:    analyzeSystemText,
		Messages: []anthropic.Message{
			{Role: "user", Content: buildAnalyzePrompt(query.Text, natural.Text, natural.SearchSources, query, brand)},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "connector: analyze natural response")
	}
	resp.Usage.LogCost(a.model, "analyze")

	env, err := parseEnvelope(resp.Text())
	if err != nil {
		return nil, eris.Wrap(err, "connector: parse analysis")
	}
	return env, nil
}
