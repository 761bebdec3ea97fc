package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandlens/geo-audit/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &PostgresStore{pool: mock}, mock
}

func TestPostgresCreateProperty(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO properties`).
		WithArgs(pgxmock.AnyArg(), "Sunset Villas", pgxmock.AnyArg(), pgxmock.AnyArg(), "Austin", "TX", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	p, err := st.CreateProperty(context.Background(), model.Property{
		Name:    "Sunset Villas",
		Domains: []string{"sunsetvillas.com"},
		City:    "Austin",
		State:   "TX",
	})

	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.False(t, p.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetProperty(t *testing.T) {
	st, mock := newMockStore(t)

	domains, _ := json.Marshal([]string{"sunsetvillas.com"})
	competitors, _ := json.Marshal([]string{"lakesidelofts.com"})
	mock.ExpectQuery(`SELECT id, name, domains, competitors, city, state, created_at FROM properties`).
		WithArgs("prop-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "domains", "competitors", "city", "state", "created_at"}).
			AddRow("prop-1", "Sunset Villas", domains, competitors, "Austin", "TX", time.Now()))

	p, err := st.GetProperty(context.Background(), "prop-1")

	require.NoError(t, err)
	assert.Equal(t, []string{"sunsetvillas.com"}, p.Domains)
	assert.Equal(t, []string{"lakesidelofts.com"}, p.Competitors)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetPropertyNotFound(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT id, name, domains, competitors, city, state, created_at FROM properties`).
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "domains", "competitors", "city", "state", "created_at"}))

	_, err := st.GetProperty(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresListActiveQueries(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT id, property_id, text, type, geo, weight, is_active FROM queries`).
		WithArgs("prop-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "property_id", "text", "type", "geo", "weight", "is_active"}).
			AddRow("q1", "prop-1", "best apartments in austin", "category", "Austin, TX", 1.0, true).
			AddRow("q2", "prop-1", "sunset villas reviews", "branded", "", 1.0, true))

	queries, err := st.ListActiveQueries(context.Background(), "prop-1")

	require.NoError(t, err)
	require.Len(t, queries, 2)
	assert.Equal(t, model.QueryTypeCategory, queries[0].Type)
	assert.Equal(t, model.QueryTypeBranded, queries[1].Type)
}

func TestPostgresStartRunCAS(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs("running", pgxmock.AnyArg(), "run-1", "queued").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	started, err := st.StartRun(context.Background(), "run-1")

	require.NoError(t, err)
	assert.True(t, started)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStartRunAlreadyRunning(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs("running", pgxmock.AnyArg(), "run-1", "queued").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT id, property_id, batch_id, surface, status`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "property_id", "batch_id", "surface", "status", "uses_web_search", "error_message", "created_at", "started_at", "finished_at"}).
			AddRow("run-1", "prop-1", "batch-1", "claude", "running", false, "", time.Now(), nil, nil))

	started, err := st.StartRun(context.Background(), "run-1")

	require.NoError(t, err)
	assert.False(t, started, "a non-queued run must be rejected without error")
}

func TestPostgresStartRunNotFound(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs("running", pgxmock.AnyArg(), "missing", "queued").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT id, property_id, batch_id, surface, status`).
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"id", "property_id", "batch_id", "surface", "status", "uses_web_search", "error_message", "created_at", "started_at", "finished_at"}))

	_, err := st.StartRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresFinishRunRejectsNonTerminal(t *testing.T) {
	st, _ := newMockStore(t)

	err := st.FinishRun(context.Background(), "run-1", model.RunStatusRunning, "")
	assert.Error(t, err)
}

func TestPostgresFinishRunNotFound(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs("completed", "", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := st.FinishRun(context.Background(), "missing", model.RunStatusCompleted, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresListRunsFilters(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM runs WHERE batch_id = \$1 AND status = \$2 ORDER BY created_at DESC LIMIT \$3`).
		WithArgs("batch-1", "completed", 10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "property_id", "batch_id", "surface", "status", "uses_web_search", "error_message", "created_at", "started_at", "finished_at"}).
			AddRow("run-1", "prop-1", "batch-1", "perplexity", "completed", true, "", time.Now(), nil, nil))

	runs, err := st.ListRuns(context.Background(), RunFilter{
		BatchID: "batch-1",
		Status:  model.RunStatusCompleted,
		Limit:   10,
	})

	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.SurfacePerplexity, runs[0].Surface)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveAndGetRunScore(t *testing.T) {
	st, mock := newMockStore(t)

	score := model.RunScore{RunID: "run-1", OverallScore: 72.5, VisibilityPct: 80}
	mock.ExpectExec(`INSERT INTO run_scores`).
		WithArgs("run-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, st.SaveRunScore(context.Background(), score))

	payload, _ := json.Marshal(score)
	mock.ExpectQuery(`SELECT payload FROM run_scores`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow(payload))

	got, err := st.GetRunScore(context.Background(), "run-1")

	require.NoError(t, err)
	assert.InDelta(t, 72.5, got.OverallScore, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveAnswer(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO answers`).
		WithArgs(pgxmock.AnyArg(), "run-1", "q1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := st.SaveAnswer(context.Background(), "run-1", "q1",
		model.AnswerEnvelope{AnswerSummary: "s"},
		model.ScoredAnswer{QueryID: "q1", Score: 50},
	)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
