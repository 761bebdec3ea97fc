package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunStatusTerminal(t *testing.T) {
	assert.True(t, RunStatusCompleted.Terminal())
	assert.True(t, RunStatusFailed.Terminal())
	assert.False(t, RunStatusQueued.Terminal())
	assert.False(t, RunStatusRunning.Terminal())
}

func TestValidQueryType(t *testing.T) {
	for _, qt := range []QueryType{
		QueryTypeBranded, QueryTypeCategory, QueryTypeComparison,
		QueryTypeLocal, QueryTypeFAQ, QueryTypeVoiceSearch,
	} {
		assert.True(t, ValidQueryType(qt), string(qt))
	}
	assert.False(t, ValidQueryType("navigational"))
}

func TestPropertyContext(t *testing.T) {
	p := Property{
		Name:        "Sunset Villas",
		Domains:     []string{"sunsetvillas.com"},
		Competitors: []string{"lakesidelofts.com"},
		City:        "Austin",
		State:       "TX",
	}

	ctx := p.Context()

	assert.Equal(t, "Sunset Villas", ctx.BrandName)
	assert.Equal(t, p.Domains, ctx.BrandDomains)
	assert.Equal(t, p.Competitors, ctx.CompetitorDomains)
	assert.Equal(t, "Austin", ctx.City)
}
