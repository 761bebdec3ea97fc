package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/brandlens/geo-audit/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it
// for unit tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the hot paths of run processing.
var preparedStatements = map[string]string{
	"get_run":        `SELECT id, property_id, batch_id, surface, status, uses_web_search, error_message, created_at, started_at, finished_at FROM runs WHERE id = $1`,
	"start_run":      `UPDATE runs SET status = $1, started_at = $2 WHERE id = $3 AND status = $4`,
	"finish_run":     `UPDATE runs SET status = $1, error_message = $2, finished_at = $3 WHERE id = $4`,
	"insert_answer":  `INSERT INTO answers (id, run_id, query_id, envelope, scored, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"upsert_score":   `INSERT INTO run_scores (run_id, payload, updated_at) VALUES ($1, $2, $3) ON CONFLICT (run_id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
	"active_queries": `SELECT id, property_id, text, type, geo, weight, is_active FROM queries WHERE property_id = $1 AND is_active ORDER BY id`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS properties (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	domains     JSONB NOT NULL DEFAULT '[]',
	competitors JSONB NOT NULL DEFAULT '[]',
	city        TEXT NOT NULL DEFAULT '',
	state       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS queries (
	id          TEXT PRIMARY KEY,
	property_id TEXT NOT NULL REFERENCES properties(id),
	text        TEXT NOT NULL,
	type        TEXT NOT NULL,
	geo         TEXT NOT NULL DEFAULT '',
	weight      DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	is_active   BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	property_id     TEXT NOT NULL,
	batch_id        TEXT NOT NULL,
	surface         TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'queued',
	uses_web_search BOOLEAN NOT NULL DEFAULT FALSE,
	error_message   TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at      TIMESTAMPTZ,
	finished_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS run_scores (
	run_id     TEXT PRIMARY KEY REFERENCES runs(id),
	payload    JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS answers (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	query_id   TEXT NOT NULL,
	envelope   JSONB NOT NULL,
	scored     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_queries_property_active ON queries(property_id, is_active);
CREATE INDEX IF NOT EXISTS idx_runs_batch_id ON runs(batch_id);
CREATE INDEX IF NOT EXISTS idx_runs_property_id ON runs(property_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_answers_run_id ON answers(run_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateProperty(ctx context.Context, p model.Property) (*model.Property, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.CreatedAt = time.Now().UTC()

	domains, err := json.Marshal(p.Domains)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal domains")
	}
	competitors, err := json.Marshal(p.Competitors)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal competitors")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO properties (id, name, domains, competitors, city, state, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.Name, domains, competitors, p.City, p.State, p.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert property")
	}
	return &p, nil
}

func (s *PostgresStore) GetProperty(ctx context.Context, id string) (*model.Property, error) {
	var p model.Property
	var domains, competitors []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, name, domains, competitors, city, state, created_at FROM properties WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Name, &domains, &competitors, &p.City, &p.State, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get property")
	}

	if err := json.Unmarshal(domains, &p.Domains); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal domains")
	}
	if err := json.Unmarshal(competitors, &p.Competitors); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal competitors")
	}
	return &p, nil
}

func (s *PostgresStore) CreateQuery(ctx context.Context, q model.Query) (*model.Query, error) {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO queries (id, property_id, text, type, geo, weight, is_active) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		q.ID, q.PropertyID, q.Text, string(q.Type), q.Geo, q.Weight, q.IsActive,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert query")
	}
	return &q, nil
}

func (s *PostgresStore) ListActiveQueries(ctx context.Context, propertyID string) ([]model.Query, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, property_id, text, type, geo, weight, is_active FROM queries WHERE property_id = $1 AND is_active ORDER BY id`,
		propertyID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list active queries")
	}
	defer rows.Close()

	var queries []model.Query
	for rows.Next() {
		var q model.Query
		var qt string
		if err := rows.Scan(&q.ID, &q.PropertyID, &q.Text, &qt, &q.Geo, &q.Weight, &q.IsActive); err != nil {
			return nil, eris.Wrap(err, "postgres: scan query")
		}
		q.Type = model.QueryType(qt)
		queries = append(queries, q)
	}
	return queries, eris.Wrap(rows.Err(), "postgres: iterate queries")
}

func (s *PostgresStore) CreateRun(ctx context.Context, run model.Run) (*model.Run, error) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Status == "" {
		run.Status = model.RunStatusQueued
	}
	run.CreatedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, property_id, batch_id, surface, status, uses_web_search, error_message, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.PropertyID, run.BatchID, string(run.Surface), string(run.Status), run.UsesWebSearch, run.ErrorMessage, run.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return &run, nil
}

func scanRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var surface, status string
	err := row.Scan(&r.ID, &r.PropertyID, &r.BatchID, &surface, &status, &r.UsesWebSearch, &r.ErrorMessage, &r.CreatedAt, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		return nil, err
	}
	r.Surface = model.Surface(surface)
	r.Status = model.RunStatus(status)
	return &r, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, property_id, batch_id, surface, status, uses_web_search, error_message, created_at, started_at, finished_at FROM runs WHERE id = $1`,
		runID,
	)
	r, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get run")
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, property_id, batch_id, surface, status, uses_web_search, error_message, created_at, started_at, finished_at FROM runs`
	var conds []string
	var args []any

	if filter.BatchID != "" {
		args = append(args, filter.BatchID)
		conds = append(conds, fmt.Sprintf("batch_id = $%d", len(args)))
	}
	if filter.PropertyID != "" {
		args = append(args, filter.PropertyID)
		conds = append(conds, fmt.Sprintf("property_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

func (s *PostgresStore) StartRun(ctx context.Context, runID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, started_at = $2 WHERE id = $3 AND status = $4`,
		string(model.RunStatusRunning), time.Now().UTC(), runID, string(model.RunStatusQueued),
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: start run")
	}
	if tag.RowsAffected() == 0 {
		// Distinguish "not queued" from "not found".
		if _, err := s.GetRun(ctx, runID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, errorMessage string) error {
	if !status.Terminal() {
		return eris.Errorf("postgres: finish run: non-terminal status %s", status)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error_message = $2, finished_at = $3 WHERE id = $4`,
		string(status), errorMessage, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: finish run")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SaveRunScore(ctx context.Context, score model.RunScore) error {
	payload, err := json.Marshal(score)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run score")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO run_scores (run_id, payload, updated_at) VALUES ($1, $2, $3) ON CONFLICT (run_id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
		score.RunID, payload, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: save run score")
}

func (s *PostgresStore) GetRunScore(ctx context.Context, runID string) (*model.RunScore, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM run_scores WHERE run_id = $1`, runID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get run score")
	}

	var score model.RunScore
	if err := json.Unmarshal(payload, &score); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal run score")
	}
	return &score, nil
}

func (s *PostgresStore) SaveAnswer(ctx context.Context, runID, queryID string, envelope model.AnswerEnvelope, scored model.ScoredAnswer) error {
	envJSON, err := json.Marshal(envelope)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal envelope")
	}
	scoredJSON, err := json.Marshal(scored)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal scored answer")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO answers (id, run_id, query_id, envelope, scored, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New().String(), runID, queryID, envJSON, scoredJSON, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: insert answer")
}
