package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandlens/geo-audit/internal/connector"
	"github.com/brandlens/geo-audit/internal/model"
	"github.com/brandlens/geo-audit/internal/store"
)

func seedProperty(t *testing.T, st *fakeStore, queries ...string) model.Property {
	t.Helper()
	p, err := st.CreateProperty(context.Background(), model.Property{
		Name:    "Sunset Villas",
		Domains: []string{"sunsetvillas.com"},
		City:    "Austin",
		State:   "TX",
	})
	require.NoError(t, err)
	for _, text := range queries {
		_, err := st.CreateQuery(context.Background(), model.Query{
			PropertyID: p.ID,
			Text:       text,
			Type:       model.QueryTypeCategory,
			Weight:     1,
			IsActive:   true,
		})
		require.NoError(t, err)
	}
	return *p
}

func brandEnvelope() model.AnswerEnvelope {
	return model.AnswerEnvelope{
		AnswerSummary: "Sunset Villas is a top pick.",
		OrderedEntities: []model.AnswerEntity{
			{Name: "Sunset Villas", Domain: "sunsetvillas.com", Position: 1},
		},
		Citations: []model.Citation{
			{URL: "https://sunsetvillas.com", Domain: "sunsetvillas.com", IsBrandDomain: true},
		},
	}
}

func TestScheduleBatchCreatesQueuedRuns(t *testing.T) {
	st := newFakeStore()
	p := seedProperty(t, st, "best apartments in austin")
	conn := &stubConnector{surface: model.SurfacePerplexity, webSearch: true}
	runner := NewRunner(st, connector.NewRegistry(conn))

	batchID, runs, err := runner.ScheduleBatch(context.Background(), p.ID, []model.Surface{model.SurfacePerplexity})

	require.NoError(t, err)
	assert.NotEmpty(t, batchID)
	require.Len(t, runs, 1)
	assert.Equal(t, batchID, runs[0].BatchID)
	assert.Equal(t, model.RunStatusQueued, runs[0].Status)
	assert.True(t, runs[0].UsesWebSearch)
}

func TestScheduleBatchUnknownProperty(t *testing.T) {
	st := newFakeStore()
	runner := NewRunner(st, connector.NewRegistry())

	_, _, err := runner.ScheduleBatch(context.Background(), "missing", []model.Surface{model.SurfaceClaude})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestScheduleBatchUnknownSurface(t *testing.T) {
	st := newFakeStore()
	p := seedProperty(t, st, "q")
	runner := NewRunner(st, connector.NewRegistry())

	_, _, err := runner.ScheduleBatch(context.Background(), p.ID, []model.Surface{"bing"})
	assert.Error(t, err)
}

func TestProcessRunHappyPath(t *testing.T) {
	st := newFakeStore()
	p := seedProperty(t, st, "best apartments in austin", "sunset villas reviews")
	conn := &stubConnector{
		surface: model.SurfaceClaude,
		envelopes: map[string]model.AnswerEnvelope{
			"best apartments in austin": brandEnvelope(),
			"sunset villas reviews":     brandEnvelope(),
		},
	}
	runner := NewRunner(st, connector.NewRegistry(conn))
	_, runs, err := runner.ScheduleBatch(context.Background(), p.ID, []model.Surface{model.SurfaceClaude})
	require.NoError(t, err)

	summary, err := runner.ProcessRun(context.Background(), runs[0].ID)

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Empty(t, summary.Errors)
	assert.Greater(t, summary.Score, 0.0)
	assert.InDelta(t, 100, summary.Visibility, 1e-9)

	run, err := st.GetRun(context.Background(), runs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	require.NotNil(t, run.FinishedAt)

	score, err := st.GetRunScore(context.Background(), runs[0].ID)
	require.NoError(t, err)
	assert.Len(t, score.PerQueryScores, 2)
	assert.Equal(t, 2, st.answers)
}

func TestProcessRunUnknownRun(t *testing.T) {
	runner := NewRunner(newFakeStore(), connector.NewRegistry())

	_, err := runner.ProcessRun(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProcessRunRejectsDuplicate(t *testing.T) {
	st := newFakeStore()
	p := seedProperty(t, st, "q1")
	conn := &stubConnector{
		surface:   model.SurfaceClaude,
		envelopes: map[string]model.AnswerEnvelope{"q1": brandEnvelope()},
	}
	runner := NewRunner(st, connector.NewRegistry(conn))
	_, runs, err := runner.ScheduleBatch(context.Background(), p.ID, []model.Surface{model.SurfaceClaude})
	require.NoError(t, err)

	_, err = runner.ProcessRun(context.Background(), runs[0].ID)
	require.NoError(t, err)

	_, err = runner.ProcessRun(context.Background(), runs[0].ID)
	assert.ErrorIs(t, err, ErrRunNotQueued)
}

func TestProcessRunPartialFailures(t *testing.T) {
	st := newFakeStore()
	p := seedProperty(t, st, "q1", "q2", "q3")
	conn := &stubConnector{
		surface: model.SurfaceClaude,
		envelopes: map[string]model.AnswerEnvelope{
			"q1": brandEnvelope(),
			"q3": {},
		},
		failOn: map[string]bool{"q2": true},
	}
	runner := NewRunner(st, connector.NewRegistry(conn))
	_, runs, err := runner.ScheduleBatch(context.Background(), p.ID, []model.Surface{model.SurfaceClaude})
	require.NoError(t, err)

	summary, err := runner.ProcessRun(context.Background(), runs[0].ID)

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, 3, conn.calls, "a failed query must not stop the panel")

	run, err := st.GetRun(context.Background(), runs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
}

func TestProcessRunFailedQueriesKeepScoreSlots(t *testing.T) {
	st := newFakeStore()
	p := seedProperty(t, st, "q1", "q2", "q3")
	conn := &stubConnector{
		surface: model.SurfaceClaude,
		envelopes: map[string]model.AnswerEnvelope{
			"q1": brandEnvelope(),
			"q3": {},
		},
		failOn: map[string]bool{"q2": true},
	}
	runner := NewRunner(st, connector.NewRegistry(conn))
	_, runs, err := runner.ScheduleBatch(context.Background(), p.ID, []model.Surface{model.SurfaceClaude})
	require.NoError(t, err)

	summary, err := runner.ProcessRun(context.Background(), runs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)

	score, err := st.GetRunScore(context.Background(), runs[0].ID)
	require.NoError(t, err)

	// The failed query stays in the score list as non-presence, so the
	// visibility denominator is the full panel.
	require.Len(t, score.PerQueryScores, 3)
	assert.InDelta(t, 100.0/3.0, score.VisibilityPct, 1e-6)
	assert.False(t, score.PerQueryScores[1].Presence)
	assert.Zero(t, score.PerQueryScores[1].Score)
	queries, err := st.ListActiveQueries(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, "q2", queries[1].Text)
	assert.Equal(t, queries[1].ID, score.PerQueryScores[1].QueryID)
}

func TestProcessRunAllQueriesFail(t *testing.T) {
	st := newFakeStore()
	p := seedProperty(t, st, "q1", "q2")
	conn := &stubConnector{
		surface: model.SurfaceClaude,
		failOn:  map[string]bool{"q1": true, "q2": true},
	}
	runner := NewRunner(st, connector.NewRegistry(conn))
	_, runs, err := runner.ScheduleBatch(context.Background(), p.ID, []model.Surface{model.SurfaceClaude})
	require.NoError(t, err)

	summary, err := runner.ProcessRun(context.Background(), runs[0].ID)

	require.NoError(t, err)
	assert.Zero(t, summary.Processed)
	assert.Len(t, summary.Errors, 2)

	run, err := st.GetRun(context.Background(), runs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "all 2 queries failed")
}

func TestProcessRunNoActiveQueries(t *testing.T) {
	st := newFakeStore()
	p := seedProperty(t, st)
	conn := &stubConnector{surface: model.SurfaceClaude}
	runner := NewRunner(st, connector.NewRegistry(conn))
	_, runs, err := runner.ScheduleBatch(context.Background(), p.ID, []model.Surface{model.SurfaceClaude})
	require.NoError(t, err)

	_, err = runner.ProcessRun(context.Background(), runs[0].ID)

	require.Error(t, err)
	run, gerr := st.GetRun(context.Background(), runs[0].ID)
	require.NoError(t, gerr)
	assert.Equal(t, model.RunStatusFailed, run.Status)
}

func TestProcessRunCanceled(t *testing.T) {
	st := newFakeStore()
	p := seedProperty(t, st, "q1")
	conn := &stubConnector{surface: model.SurfaceClaude}
	runner := NewRunner(st, connector.NewRegistry(conn))
	_, runs, err := runner.ScheduleBatch(context.Background(), p.ID, []model.Surface{model.SurfaceClaude})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = runner.ProcessRun(ctx, runs[0].ID)

	require.Error(t, err)
	assert.Zero(t, conn.calls)
	run, gerr := st.GetRun(context.Background(), runs[0].ID)
	require.NoError(t, gerr)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "canceled")
}

// cancelingConnector cancels the run's context from inside its first Invoke,
// the way an operator interrupt lands while a provider call is in flight.
type cancelingConnector struct {
	cancel context.CancelFunc
	calls  int
}

func (c *cancelingConnector) Surface() model.Surface { return model.SurfaceClaude }
func (c *cancelingConnector) UsesWebSearch() bool    { return false }

func (c *cancelingConnector) Invoke(_ context.Context, _ model.Query, _ model.BrandContext) (*model.AnswerEnvelope, error) {
	c.calls++
	c.cancel()
	env := brandEnvelope()
	return &env, nil
}

func TestProcessRunCanceledMidRunReachesFailedState(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	p, err := st.CreateProperty(context.Background(), model.Property{
		Name:    "Sunset Villas",
		Domains: []string{"sunsetvillas.com"},
		City:    "Austin",
		State:   "TX",
	})
	require.NoError(t, err)
	for _, text := range []string{"q1", "q2"} {
		_, qerr := st.CreateQuery(context.Background(), model.Query{
			PropertyID: p.ID,
			Text:       text,
			Type:       model.QueryTypeCategory,
			Weight:     1,
			IsActive:   true,
		})
		require.NoError(t, qerr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn := &cancelingConnector{cancel: cancel}
	runner := NewRunner(st, connector.NewRegistry(conn))
	_, runs, err := runner.ScheduleBatch(context.Background(), p.ID, []model.Surface{model.SurfaceClaude})
	require.NoError(t, err)

	_, err = runner.ProcessRun(ctx, runs[0].ID)
	require.Error(t, err)
	assert.Equal(t, 1, conn.calls)

	// The terminal write must survive the cancellation that caused it, or
	// the run wedges in running and blocks its batch forever.
	run, gerr := st.GetRun(context.Background(), runs[0].ID)
	require.NoError(t, gerr)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "canceled")
	assert.NotNil(t, run.FinishedAt)
}
