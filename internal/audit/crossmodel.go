package audit

import (
	"context"
	"fmt"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/brandlens/geo-audit/internal/model"
	"github.com/brandlens/geo-audit/internal/store"
)

// ErrBatchNotReady is returned when cross-model analysis is requested for a
// batch whose runs have not all completed. Partial numbers are never
// returned silently.
var ErrBatchNotReady = eris.New("audit: batch not ready for analysis")

// CrossModelAnalyzer compares the two surfaces of a completed batch.
type CrossModelAnalyzer struct {
	store store.Store
}

// NewCrossModelAnalyzer creates a CrossModelAnalyzer.
func NewCrossModelAnalyzer(st store.Store) *CrossModelAnalyzer {
	return &CrossModelAnalyzer{store: st}
}

// Analyze computes the cross-model comparison for a batch. All numeric
// fields are deterministic given the same stored run scores, so re-running
// analysis on the same completed batch is idempotent. Surfaces are assigned
// A/B in lexicographic order to keep the sign of differences stable.
func (a *CrossModelAnalyzer) Analyze(ctx context.Context, batchID string) (*model.CrossModelAnalysis, error) {
	runs, err := a.store.ListRuns(ctx, store.RunFilter{BatchID: batchID})
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, store.ErrNotFound
	}
	if !BatchComplete(RunStatuses(runs)) {
		return nil, ErrBatchNotReady
	}
	if len(runs) != 2 {
		return nil, eris.Errorf("audit: cross-model analysis needs exactly 2 runs, batch has %d", len(runs))
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].Surface < runs[j].Surface })
	runA, runB := runs[0], runs[1]

	scoreA, err := a.store.GetRunScore(ctx, runA.ID)
	if err != nil {
		return nil, eris.Wrap(err, "audit: load run score A")
	}
	scoreB, err := a.store.GetRunScore(ctx, runB.ID)
	if err != nil {
		return nil, eris.Wrap(err, "audit: load run score B")
	}

	analysis := &model.CrossModelAnalysis{
		BatchID:              batchID,
		AgreementRate:        agreementRate(scoreA.PerQueryScores, scoreB.PerQueryScores),
		ScoreComparison:      compare(runA.Surface, runB.Surface, scoreA.OverallScore, scoreB.OverallScore),
		VisibilityComparison: compare(runA.Surface, runB.Surface, scoreA.VisibilityPct, scoreB.VisibilityPct),
	}
	analysis.Recommendations, analysis.ActionItems = recommend(analysis, scoreA, scoreB)

	return analysis, nil
}

// compare builds a ScoreComparison with difference = A − B.
func compare(surfaceA, surfaceB model.Surface, a, b float64) model.ScoreComparison {
	c := model.ScoreComparison{
		SurfaceA:      surfaceA,
		SurfaceB:      surfaceB,
		SurfaceAValue: a,
		SurfaceBValue: b,
		Difference:    a - b,
	}
	switch {
	case a > b:
		c.HigherSurface = surfaceA
	case b > a:
		c.HigherSurface = surfaceB
	}
	return c
}

// agreementRate is the fraction of queries where both surfaces' presence
// booleans match, over the queries both runs scored. Symmetric and
// order-independent.
func agreementRate(a, b []model.ScoredAnswer) float64 {
	presenceB := make(map[string]bool, len(b))
	for _, s := range b {
		presenceB[s.QueryID] = s.Presence
	}

	var pairs, agree int
	for _, s := range a {
		pb, ok := presenceB[s.QueryID]
		if !ok {
			continue
		}
		pairs++
		if s.Presence == pb {
			agree++
		}
	}
	if pairs == 0 {
		return 0
	}
	return float64(agree) / float64(pairs)
}

// recommend derives prioritized recommendations and ordered action items
// from comparison deltas. The wording is free-form; only the shape and the
// rule order are stable.
func recommend(analysis *model.CrossModelAnalysis, scoreA, scoreB *model.RunScore) ([]model.Recommendation, []model.ActionItem) {
	var recs []model.Recommendation
	var items []model.ActionItem

	sc := analysis.ScoreComparison
	vc := analysis.VisibilityComparison

	addItem := func(action, effort, impact string) {
		items = append(items, model.ActionItem{
			Action:   action,
			Priority: len(items) + 1,
			Effort:   effort,
			Impact:   impact,
		})
	}

	if diff := abs(sc.Difference); diff >= 15 {
		lower := otherSurface(sc)
		recs = append(recs, model.Recommendation{
			Insight:  fmt.Sprintf("Overall score differs by %.1f points between surfaces; %s trails %s.", diff, lower, sc.HigherSurface),
			Priority: model.PriorityHigh,
			Action:   fmt.Sprintf("Audit the lowest-scoring queries on %s and strengthen the content they draw from.", lower),
		})
		addItem(fmt.Sprintf("Review per-query breakdowns for %s", lower), "medium", "high")
	}

	if diff := abs(vc.Difference); diff >= 25 {
		lower := otherSurface(vc)
		recs = append(recs, model.Recommendation{
			Insight:  fmt.Sprintf("Brand visibility differs by %.0f%% between surfaces.", diff),
			Priority: model.PriorityHigh,
			Action:   fmt.Sprintf("Publish structured property information that %s can surface (FAQ pages, schema markup).", lower),
		})
		addItem("Add structured data and FAQ content to brand-owned pages", "medium", "high")
	}

	if sovGapLarge(scoreA.AvgSOV, scoreB.AvgSOV) {
		recs = append(recs, model.Recommendation{
			Insight:  "Share of voice is heavily skewed toward one surface's citation pool.",
			Priority: model.PriorityHigh,
			Action:   "Earn citations on sources both engines index: local directories, travel guides, review sites.",
		})
		addItem("Target citation placements on cross-indexed travel sources", "high", "high")
	}

	if scoreA.VisibilityPct < 50 && scoreB.VisibilityPct < 50 {
		recs = append(recs, model.Recommendation{
			Insight:  "The brand is absent from most answers on both surfaces.",
			Priority: model.PriorityHigh,
			Action:   "Prioritize foundational GEO work: category and local query content naming the brand explicitly.",
		})
		addItem("Create category-level landing content for unbranded queries", "high", "high")
	}

	if analysis.AgreementRate < 0.5 {
		recs = append(recs, model.Recommendation{
			Insight:  fmt.Sprintf("Surfaces agree on brand presence for only %.0f%% of queries.", analysis.AgreementRate*100),
			Priority: model.PriorityMedium,
			Action:   "Investigate queries where one surface sees the brand and the other does not; the gap usually maps to crawlability or freshness.",
		})
		addItem("Diff per-query presence between surfaces", "low", "medium")
	}

	if len(recs) == 0 {
		recs = append(recs, model.Recommendation{
			Insight:  "Surfaces broadly agree and score within normal variance.",
			Priority: model.PriorityLow,
			Action:   "Maintain the current content strategy and re-audit on the regular cadence.",
		})
		addItem("Keep the audit cadence; no structural changes needed", "low", "low")
	}

	return recs, items
}

func otherSurface(c model.ScoreComparison) model.Surface {
	if c.HigherSurface == c.SurfaceA {
		return c.SurfaceB
	}
	return c.SurfaceA
}

func sovGapLarge(a, b *float64) bool {
	if a == nil || b == nil {
		return false
	}
	return abs(*a-*b) >= 0.25
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
