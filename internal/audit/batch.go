// Package audit drives run processing, batch status derivation, and
// cross-model analysis.
package audit

import "github.com/brandlens/geo-audit/internal/model"

// BatchStatusOf derives a batch's status from its member runs' statuses.
// It is a pure function recomputed on every read; batch status is never
// stored. Evaluation order matters: in-flight runs are checked first so a
// batch is never reported completed while any run is queued or running, and
// a batch with zero runs is pending.
func BatchStatusOf(statuses []model.RunStatus) model.BatchStatus {
	if len(statuses) == 0 {
		return model.BatchStatusPending
	}

	var completed, failed int
	for _, s := range statuses {
		switch s {
		case model.RunStatusQueued, model.RunStatusRunning:
			return model.BatchStatusRunning
		case model.RunStatusCompleted:
			completed++
		case model.RunStatusFailed:
			failed++
		}
	}

	switch {
	case completed == len(statuses):
		return model.BatchStatusCompleted
	case failed == len(statuses):
		return model.BatchStatusFailed
	case completed > 0 && failed > 0:
		return model.BatchStatusPartial
	default:
		return model.BatchStatusPending
	}
}

// BatchComplete reports whether every member run finished successfully.
// Consumers must gate aggregate statistics on this; partial data is
// provider-biased.
func BatchComplete(statuses []model.RunStatus) bool {
	return BatchStatusOf(statuses) == model.BatchStatusCompleted
}

// RunStatuses projects the status field from a run list.
func RunStatuses(runs []model.Run) []model.RunStatus {
	out := make([]model.RunStatus, len(runs))
	for i, r := range runs {
		out[i] = r.Status
	}
	return out
}
