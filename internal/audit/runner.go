package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/brandlens/geo-audit/internal/connector"
	"github.com/brandlens/geo-audit/internal/model"
	"github.com/brandlens/geo-audit/internal/scoring"
	"github.com/brandlens/geo-audit/internal/store"
)

// ErrRunNotQueued is returned when processing is requested for a run that is
// already running or terminal. Duplicate process requests are rejected, not
// re-run.
var ErrRunNotQueued = eris.New("audit: run is not queued")

// Runner processes audit runs: one run is one surface executing a
// property's full query panel sequentially.
type Runner struct {
	store    store.Store
	registry *connector.Registry
}

// NewRunner creates a Runner.
func NewRunner(st store.Store, registry *connector.Registry) *Runner {
	return &Runner{store: st, registry: registry}
}

// ScheduleBatch creates one queued run per surface, all sharing a fresh
// batch ID. Runs execute independently; the batch exists only as the shared
// grouping key.
func (r *Runner) ScheduleBatch(ctx context.Context, propertyID string, surfaces []model.Surface) (string, []model.Run, error) {
	if _, err := r.store.GetProperty(ctx, propertyID); err != nil {
		return "", nil, eris.Wrap(err, "audit: schedule batch")
	}
	if len(surfaces) == 0 {
		return "", nil, eris.New("audit: schedule batch: no surfaces")
	}

	batchID := uuid.New().String()
	runs := make([]model.Run, 0, len(surfaces))
	for _, surface := range surfaces {
		conn, err := r.registry.Get(surface)
		if err != nil {
			return "", nil, err
		}
		run, err := r.store.CreateRun(ctx, model.Run{
			PropertyID:    propertyID,
			BatchID:       batchID,
			Surface:       surface,
			Status:        model.RunStatusQueued,
			UsesWebSearch: conn.UsesWebSearch(),
		})
		if err != nil {
			return "", nil, eris.Wrap(err, "audit: create run")
		}
		runs = append(runs, *run)
	}

	zap.L().Info("batch scheduled",
		zap.String("batch_id", batchID),
		zap.String("property_id", propertyID),
		zap.Int("runs", len(runs)),
	)
	return batchID, runs, nil
}

// ProcessRun executes a queued run to completion: it walks the property's
// active query panel sequentially, isolating per-query provider failures
// into an error list, scores and persists each answer, aggregates the run
// score, and finishes the run as completed (at least one success) or failed
// (zero successes or a missing prerequisite).
func (r *Runner) ProcessRun(ctx context.Context, runID string) (*model.RunSummary, error) {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	started, err := r.store.StartRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !started {
		return nil, ErrRunNotQueued
	}

	log := zap.L().With(
		zap.String("run_id", runID),
		zap.String("batch_id", run.BatchID),
		zap.String("surface", string(run.Surface)),
	)

	conn, err := r.registry.Get(run.Surface)
	if err != nil {
		return nil, r.failRun(ctx, runID, err)
	}

	property, err := r.store.GetProperty(ctx, run.PropertyID)
	if err != nil {
		return nil, r.failRun(ctx, runID, eris.Wrap(err, "audit: load property"))
	}
	brand := property.Context()

	queries, err := r.store.ListActiveQueries(ctx, run.PropertyID)
	if err != nil {
		return nil, r.failRun(ctx, runID, eris.Wrap(err, "audit: load query panel"))
	}
	if len(queries) == 0 {
		return nil, r.failRun(ctx, runID, eris.New("audit: no active queries for property"))
	}

	log.Info("run started", zap.Int("queries", len(queries)))

	scored := make([]model.ScoredAnswer, 0, len(queries))
	var queryErrors []string
	successes := 0

	for _, q := range queries {
		// Cancellation is only honored between queries; an in-flight
		// provider call finishes or times out on its own.
		if ctx.Err() != nil {
			return nil, r.failRun(ctx, runID, eris.Wrap(ctx.Err(), "audit: run canceled"))
		}

		// A failed query still occupies its score slot as non-presence so
		// the aggregate denominators stay the panel size.
		env, err := conn.Invoke(ctx, q, brand)
		if err != nil {
			queryErrors = append(queryErrors, fmt.Sprintf("query %s: %v", q.ID, err))
			log.Warn("query failed", zap.String("query_id", q.ID), zap.Error(err))
			scored = append(scored, model.ScoredAnswer{QueryID: q.ID})
			continue
		}

		sa := scoring.ScoreAnswer(q.ID, *env, brand)
		if err := r.store.SaveAnswer(ctx, runID, q.ID, *env, sa); err != nil {
			queryErrors = append(queryErrors, fmt.Sprintf("query %s: %v", q.ID, err))
			log.Warn("answer persist failed", zap.String("query_id", q.ID), zap.Error(err))
			scored = append(scored, model.ScoredAnswer{QueryID: q.ID})
			continue
		}
		scored = append(scored, sa)
		successes++
	}

	runScore := scoring.AggregateRun(runID, scored)
	if err := r.store.SaveRunScore(ctx, runScore); err != nil {
		return nil, r.failRun(ctx, runID, eris.Wrap(err, "audit: save run score"))
	}

	if successes == 0 {
		err := eris.Errorf("audit: all %d queries failed", len(queries))
		if ferr := r.store.FinishRun(ctx, runID, model.RunStatusFailed, err.Error()); ferr != nil {
			return nil, ferr
		}
		return &model.RunSummary{
			RunID:  runID,
			Errors: queryErrors,
		}, nil
	}

	if err := r.store.FinishRun(ctx, runID, model.RunStatusCompleted, ""); err != nil {
		return nil, err
	}

	log.Info("run completed",
		zap.Int("processed", successes),
		zap.Int("errors", len(queryErrors)),
		zap.Float64("score", runScore.OverallScore),
		zap.Float64("visibility", runScore.VisibilityPct),
	)

	return &model.RunSummary{
		RunID:      runID,
		Processed:  successes,
		Errors:     queryErrors,
		Score:      runScore.OverallScore,
		Visibility: runScore.VisibilityPct,
	}, nil
}

// failRun marks the run failed with a human-readable message and returns
// the original error. The terminal write uses a detached context so the
// cancellation that caused the failure cannot leave the run stuck in
// running.
func (r *Runner) failRun(ctx context.Context, runID string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	if err := r.store.FinishRun(ctx, runID, model.RunStatusFailed, cause.Error()); err != nil {
		zap.L().Error("failed to mark run failed", zap.String("run_id", runID), zap.Error(err))
	}
	return cause
}
