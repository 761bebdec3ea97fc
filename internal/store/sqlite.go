package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/brandlens/geo-audit/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Intended for local
// audits and tests; Postgres is the production backend.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given DSN and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS properties (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	domains     TEXT NOT NULL DEFAULT '[]',
	competitors TEXT NOT NULL DEFAULT '[]',
	city        TEXT NOT NULL DEFAULT '',
	state       TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS queries (
	id          TEXT PRIMARY KEY,
	property_id TEXT NOT NULL REFERENCES properties(id),
	text        TEXT NOT NULL,
	type        TEXT NOT NULL,
	geo         TEXT NOT NULL DEFAULT '',
	weight      REAL NOT NULL DEFAULT 1.0,
	is_active   INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	property_id     TEXT NOT NULL,
	batch_id        TEXT NOT NULL,
	surface         TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'queued',
	uses_web_search INTEGER NOT NULL DEFAULT 0,
	error_message   TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL,
	started_at      TEXT,
	finished_at     TEXT
);

CREATE TABLE IF NOT EXISTS run_scores (
	run_id     TEXT PRIMARY KEY REFERENCES runs(id),
	payload    TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS answers (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	query_id   TEXT NOT NULL,
	envelope   TEXT NOT NULL,
	scored     TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_queries_property_active ON queries(property_id, is_active);
CREATE INDEX IF NOT EXISTS idx_runs_batch_id ON runs(batch_id);
CREATE INDEX IF NOT EXISTS idx_runs_property_id ON runs(property_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_answers_run_id ON answers(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqliteTime formats timestamps for TEXT columns so lexicographic order
// matches chronological order.
func sqliteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseSQLiteTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func (s *SQLiteStore) CreateProperty(ctx context.Context, p model.Property) (*model.Property, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.CreatedAt = time.Now().UTC()

	domains, err := json.Marshal(p.Domains)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal domains")
	}
	competitors, err := json.Marshal(p.Competitors)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal competitors")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO properties (id, name, domains, competitors, city, state, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, string(domains), string(competitors), p.City, p.State, sqliteTime(p.CreatedAt),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert property")
	}
	return &p, nil
}

func (s *SQLiteStore) GetProperty(ctx context.Context, id string) (*model.Property, error) {
	var p model.Property
	var domains, competitors, createdAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, domains, competitors, city, state, created_at FROM properties WHERE id = ?`,
		id,
	).Scan(&p.ID, &p.Name, &domains, &competitors, &p.City, &p.State, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get property")
	}

	if err := json.Unmarshal([]byte(domains), &p.Domains); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal domains")
	}
	if err := json.Unmarshal([]byte(competitors), &p.Competitors); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal competitors")
	}
	if p.CreatedAt, err = parseSQLiteTime(createdAt); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse created_at")
	}
	return &p, nil
}

func (s *SQLiteStore) CreateQuery(ctx context.Context, q model.Query) (*model.Query, error) {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO queries (id, property_id, text, type, geo, weight, is_active) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.PropertyID, q.Text, string(q.Type), q.Geo, q.Weight, q.IsActive,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert query")
	}
	return &q, nil
}

func (s *SQLiteStore) ListActiveQueries(ctx context.Context, propertyID string) ([]model.Query, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, property_id, text, type, geo, weight, is_active FROM queries WHERE property_id = ? AND is_active = 1 ORDER BY id`,
		propertyID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list active queries")
	}
	defer rows.Close()

	var queries []model.Query
	for rows.Next() {
		var q model.Query
		var qt string
		if err := rows.Scan(&q.ID, &q.PropertyID, &q.Text, &qt, &q.Geo, &q.Weight, &q.IsActive); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan query")
		}
		q.Type = model.QueryType(qt)
		queries = append(queries, q)
	}
	return queries, eris.Wrap(rows.Err(), "sqlite: iterate queries")
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run model.Run) (*model.Run, error) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Status == "" {
		run.Status = model.RunStatusQueued
	}
	run.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, property_id, batch_id, surface, status, uses_web_search, error_message, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.PropertyID, run.BatchID, string(run.Surface), string(run.Status), run.UsesWebSearch, run.ErrorMessage, sqliteTime(run.CreatedAt),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return &run, nil
}

func (s *SQLiteStore) scanRunRow(scan func(dest ...any) error) (*model.Run, error) {
	var r model.Run
	var surface, status, createdAt string
	var startedAt, finishedAt sql.NullString

	if err := scan(&r.ID, &r.PropertyID, &r.BatchID, &surface, &status, &r.UsesWebSearch, &r.ErrorMessage, &createdAt, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	r.Surface = model.Surface(surface)
	r.Status = model.RunStatus(status)

	var err error
	if r.CreatedAt, err = parseSQLiteTime(createdAt); err != nil {
		return nil, err
	}
	if startedAt.Valid {
		t, err := parseSQLiteTime(startedAt.String)
		if err != nil {
			return nil, err
		}
		r.StartedAt = &t
	}
	if finishedAt.Valid {
		t, err := parseSQLiteTime(finishedAt.String)
		if err != nil {
			return nil, err
		}
		r.FinishedAt = &t
	}
	return &r, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, property_id, batch_id, surface, status, uses_web_search, error_message, created_at, started_at, finished_at FROM runs WHERE id = ?`,
		runID,
	)
	r, err := s.scanRunRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get run")
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, property_id, batch_id, surface, status, uses_web_search, error_message, created_at, started_at, finished_at FROM runs`
	var conds []string
	var args []any

	if filter.BatchID != "" {
		conds = append(conds, "batch_id = ?")
		args = append(args, filter.BatchID)
	}
	if filter.PropertyID != "" {
		conds = append(conds, "property_id = ?")
		args = append(args, filter.PropertyID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := s.scanRunRow(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

func (s *SQLiteStore) StartRun(ctx context.Context, runID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		string(model.RunStatusRunning), sqliteTime(time.Now()), runID, string(model.RunStatusQueued),
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: start run")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: start run rows affected")
	}
	if n == 0 {
		if _, err := s.GetRun(ctx, runID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, errorMessage string) error {
	if !status.Terminal() {
		return eris.Errorf("sqlite: finish run: non-terminal status %s", status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error_message = ?, finished_at = ? WHERE id = ?`,
		string(status), errorMessage, sqliteTime(time.Now()), runID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: finish run")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: finish run rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) SaveRunScore(ctx context.Context, score model.RunScore) error {
	payload, err := json.Marshal(score)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run score")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_scores (run_id, payload, updated_at) VALUES (?, ?, ?) ON CONFLICT(run_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		score.RunID, string(payload), sqliteTime(time.Now()),
	)
	return eris.Wrap(err, "sqlite: save run score")
}

func (s *SQLiteStore) GetRunScore(ctx context.Context, runID string) (*model.RunScore, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM run_scores WHERE run_id = ?`, runID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get run score")
	}

	var score model.RunScore
	if err := json.Unmarshal([]byte(payload), &score); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal run score")
	}
	return &score, nil
}

func (s *SQLiteStore) SaveAnswer(ctx context.Context, runID, queryID string, envelope model.AnswerEnvelope, scored model.ScoredAnswer) error {
	envJSON, err := json.Marshal(envelope)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal envelope")
	}
	scoredJSON, err := json.Marshal(scored)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal scored answer")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO answers (id, run_id, query_id, envelope, scored, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), runID, queryID, string(envJSON), string(scoredJSON), sqliteTime(time.Now()),
	)
	return eris.Wrap(err, "sqlite: insert answer")
}
