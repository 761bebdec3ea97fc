package model

import "time"

// Surface identifies one external answer-generation provider.
type Surface string

const (
	SurfacePerplexity Surface = "perplexity"
	SurfaceClaude     Surface = "claude"
)

// RunStatus represents the lifecycle state of an audit run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// Run is one full pass of a property's query panel against one surface.
// Runs scheduled together share a BatchID.
type Run struct {
	ID            string     `json:"id"`
	PropertyID    string     `json:"property_id"`
	BatchID       string     `json:"batch_id"`
	Surface       Surface    `json:"surface"`
	Status        RunStatus  `json:"status"`
	UsesWebSearch bool       `json:"uses_web_search"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// ScoreBreakdown holds the four 0-100 dimension scores behind a final score.
type ScoreBreakdown struct {
	Position float64 `json:"position"`
	Link     float64 `json:"link"`
	SOV      float64 `json:"sov"`
	Accuracy float64 `json:"accuracy"`
}

// ScoredAnswer is the deterministic scoring result for one query's answer.
// Recomputation overwrites; there is no score history.
type ScoredAnswer struct {
	QueryID   string         `json:"query_id"`
	Presence  bool           `json:"presence"`
	LLMRank   *int           `json:"llm_rank,omitempty"`
	LinkRank  *int           `json:"link_rank,omitempty"`
	SOV       *float64       `json:"sov,omitempty"`
	Flags     []string       `json:"flags,omitempty"`
	Breakdown ScoreBreakdown `json:"breakdown"`
	Score     float64        `json:"score"`
}

// RunScore is the write-once aggregate for one completed run. Averages over
// rank and SOV consider only queries where the value exists.
type RunScore struct {
	RunID          string         `json:"run_id"`
	OverallScore   float64        `json:"overall_score"`
	VisibilityPct  float64        `json:"visibility_pct"`
	AvgLLMRank     *float64       `json:"avg_llm_rank,omitempty"`
	AvgLinkRank    *float64       `json:"avg_link_rank,omitempty"`
	AvgSOV         *float64       `json:"avg_sov,omitempty"`
	Breakdown      ScoreBreakdown `json:"breakdown"`
	PerQueryScores []ScoredAnswer `json:"per_query_scores"`
}

// RunSummary is what run processing reports back to the caller.
type RunSummary struct {
	RunID      string   `json:"run_id"`
	Processed  int      `json:"processed"`
	Errors     []string `json:"errors,omitempty"`
	Score      float64  `json:"score"`
	Visibility float64  `json:"visibility"`
}
