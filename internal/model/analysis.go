package model

// BatchStatus is the derived status of a batch, computed from its member
// runs' statuses. It is never persisted.
type BatchStatus string

const (
	BatchStatusPending   BatchStatus = "pending"
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusPartial   BatchStatus = "partial"
	BatchStatusFailed    BatchStatus = "failed"
)

// Priority ranks a recommendation.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ScoreComparison compares one run-level metric between two surfaces.
type ScoreComparison struct {
	SurfaceA      Surface `json:"surface_a"`
	SurfaceB      Surface `json:"surface_b"`
	SurfaceAValue float64 `json:"surface_a_value"`
	SurfaceBValue float64 `json:"surface_b_value"`
	Difference    float64 `json:"difference"`
	HigherSurface Surface `json:"higher_surface"`
}

// Recommendation is one prioritized insight derived from cross-model deltas.
type Recommendation struct {
	Insight  string   `json:"insight"`
	Priority Priority `json:"priority"`
	Action   string   `json:"action"`
}

// ActionItem is a concrete, ordered follow-up task.
type ActionItem struct {
	Action   string `json:"action"`
	Priority int    `json:"priority"`
	Effort   string `json:"effort"`
	Impact   string `json:"impact"`
}

// CrossModelAnalysis compares two surfaces' completed runs of one batch.
// The numeric fields are deterministic given identical inputs.
type CrossModelAnalysis struct {
	BatchID              string           `json:"batch_id"`
	AgreementRate        float64          `json:"agreement_rate"`
	ScoreComparison      ScoreComparison  `json:"score_comparison"`
	VisibilityComparison ScoreComparison  `json:"visibility_comparison"`
	Recommendations      []Recommendation `json:"recommendations"`
	ActionItems          []ActionItem     `json:"action_items"`
}
