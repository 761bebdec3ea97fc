// Package scoring converts answer envelopes into deterministic scores and
// aggregates them per run.
package scoring

import (
	"strings"

	"github.com/brandlens/geo-audit/internal/model"
	"github.com/brandlens/geo-audit/internal/reconcile"
)

// Fixed policy weights for the final score. Not configurable per call.
const (
	weightPosition = 0.45
	weightLink     = 0.25
	weightSOV      = 0.20
	weightAccuracy = 0.10
)

// ScoreAnswer converts one AnswerEnvelope into a ScoredAnswer for the given
// brand. An envelope with zero entities and zero citations scores as
// non-presence, not as a fault.
func ScoreAnswer(queryID string, env model.AnswerEnvelope, brand model.BrandContext) model.ScoredAnswer {
	scored := model.ScoredAnswer{
		QueryID: queryID,
		Flags:   env.Flags,
	}

	// presence + llmRank: first entity whose name contains the brand name or
	// whose domain is brand-owned.
	brandName := strings.ToLower(strings.TrimSpace(brand.BrandName))
	for _, e := range env.OrderedEntities {
		if !entityIsBrand(e, brandName, brand.BrandDomains) {
			continue
		}
		scored.Presence = true
		rank := e.Position
		scored.LLMRank = &rank
		break
	}

	// linkRank: 1-based rank of the first brand-owned citation in citation order.
	for i, c := range env.Citations {
		if c.IsBrandDomain {
			rank := i + 1
			scored.LinkRank = &rank
			break
		}
	}

	// sov: brand share of the complete citation universe. Nil when there are
	// no citations at all; zero citations is not a 0% share.
	if total := len(env.Citations); total > 0 {
		brandCount := 0
		for _, c := range env.Citations {
			if c.IsBrandDomain {
				brandCount++
			}
		}
		sov := float64(brandCount) / float64(total)
		scored.SOV = &sov
	}

	scored.Breakdown = model.ScoreBreakdown{
		Position: positionScore(scored.LLMRank),
		Link:     linkScore(scored.LinkRank),
		SOV:      sovScore(scored.SOV),
		Accuracy: accuracyScore(env.Flags),
	}

	scored.Score = clamp(
		weightPosition*scored.Breakdown.Position+
			weightLink*scored.Breakdown.Link+
			weightSOV*scored.Breakdown.SOV+
			weightAccuracy*scored.Breakdown.Accuracy,
		0, 100)

	return scored
}

func entityIsBrand(e model.AnswerEntity, brandName string, brandDomains []string) bool {
	if brandName != "" && strings.Contains(strings.ToLower(e.Name), brandName) {
		return true
	}
	return reconcile.IsBrandDomain(e.Domain, brandDomains)
}

// positionScore maps the first brand rank to 0-100 with a reciprocal decay:
// rank 1 = 100, rank 2 = 80, rank 3 ≈ 66.7, strictly decreasing thereafter.
// Absent brand scores 0.
func positionScore(rank *int) float64 {
	if rank == nil {
		return 0
	}
	return 100 / (1 + 0.25*float64(*rank-1))
}

// linkScore maps the first brand citation rank to 0-100, decaying faster
// than position since citation order is noisier: rank 1 = 100, rank 2 ≈ 66.7.
func linkScore(rank *int) float64 {
	if rank == nil {
		return 0
	}
	return 100 / (1 + 0.5*float64(*rank-1))
}

// sovScore scales share-of-voice linearly to 0-100. Nil (no citations) is 0.
func sovScore(sov *float64) float64 {
	if sov == nil {
		return 0
	}
	return clamp(100**sov, 0, 100)
}

// accuracyScore is binary: any extraction flag (wrong city, stale data)
// zeroes the dimension.
func accuracyScore(flags []string) float64 {
	if len(flags) > 0 {
		return 0
	}
	return 100
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
