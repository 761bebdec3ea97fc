package scoring

import "github.com/brandlens/geo-audit/internal/model"

// AggregateRun reduces all per-query scores of one run into a RunScore.
// Averages over rank and SOV consider only queries where the value exists;
// a query with no brand rank is excluded from that average, not counted as
// zero. A run with zero scoreable queries still produces a zeroed RunScore.
func AggregateRun(runID string, scores []model.ScoredAnswer) model.RunScore {
	rs := model.RunScore{
		RunID:          runID,
		PerQueryScores: scores,
	}
	if len(scores) == 0 {
		return rs
	}

	var (
		presentCount  int
		totalScore    float64
		llmRankSum    float64
		llmRankCount  int
		linkRankSum   float64
		linkRankCount int
		sovSum        float64
		sovCount      int
	)

	for _, s := range scores {
		if s.Presence {
			presentCount++
		}
		totalScore += s.Score
		if s.LLMRank != nil {
			llmRankSum += float64(*s.LLMRank)
			llmRankCount++
		}
		if s.LinkRank != nil {
			linkRankSum += float64(*s.LinkRank)
			linkRankCount++
		}
		if s.SOV != nil {
			sovSum += *s.SOV
			sovCount++
		}
		rs.Breakdown.Position += s.Breakdown.Position
		rs.Breakdown.Link += s.Breakdown.Link
		rs.Breakdown.SOV += s.Breakdown.SOV
		rs.Breakdown.Accuracy += s.Breakdown.Accuracy
	}

	n := float64(len(scores))
	rs.OverallScore = totalScore / n
	rs.VisibilityPct = 100 * float64(presentCount) / n
	rs.Breakdown.Position /= n
	rs.Breakdown.Link /= n
	rs.Breakdown.SOV /= n
	rs.Breakdown.Accuracy /= n

	if llmRankCount > 0 {
		avg := llmRankSum / float64(llmRankCount)
		rs.AvgLLMRank = &avg
	}
	if linkRankCount > 0 {
		avg := linkRankSum / float64(linkRankCount)
		rs.AvgLinkRank = &avg
	}
	if sovCount > 0 {
		avg := sovSum / float64(sovCount)
		rs.AvgSOV = &avg
	}

	return rs
}
