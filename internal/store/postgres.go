package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const schema = `
CREATE TABLE IF NOT EXISTS split_runs (
	id          UUID PRIMARY KEY,
	created_at  TIMESTAMPTZ NOT NULL,
	method      TEXT NOT NULL,
	problem     TEXT,
	score       DOUBLE PRECISION NOT NULL,
	restart     INTEGER NOT NULL,
	iterations  INTEGER NOT NULL,
	evicted     JSONB,
	clusters    JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_split_runs_created ON split_runs (created_at, id);
`

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("verify postgres connection: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Migrate creates the run table when missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return tx.Commit()
}

func (p *Postgres) SaveRun(ctx context.Context, run Run) (Run, error) {
	prepare(&run)
	clusters, err := json.Marshal(run.Clusters)
	if err != nil {
		return Run{}, fmt.Errorf("save run: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO split_runs (id, created_at, method, problem, score, restart, iterations, evicted, clusters)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET method=EXCLUDED.method, problem=EXCLUDED.problem, score=EXCLUDED.score,
			restart=EXCLUDED.restart, iterations=EXCLUDED.iterations, evicted=EXCLUDED.evicted, clusters=EXCLUDED.clusters`,
		run.ID, run.CreatedAt, run.Method, nullIfEmpty(run.Problem), run.Score, run.Restart, run.Iterations, jsonOrNil(run.Evicted), string(clusters))
	if err != nil {
		return Run{}, fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return run, nil
}

const selectRun = `SELECT id::text, created_at, method, problem, score, restart, iterations, evicted, clusters FROM split_runs`

func (p *Postgres) GetRun(ctx context.Context, id string) (Run, error) {
	run, err := scanRun(p.db.QueryRowContext(ctx, selectRun+` WHERE id::text=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	return run, err
}

func (p *Postgres) ListRuns(ctx context.Context, cursor string, limit int) ([]Run, string, error) {
	limit = clampLimit(limit)
	var rows *sql.Rows
	var err error
	if cursor != "" {
		rows, err = p.db.QueryContext(ctx, selectRun+`
			WHERE (created_at, id) > (SELECT created_at, id FROM split_runs WHERE id::text=$1)
			ORDER BY created_at, id LIMIT $2`, cursor, limit+1)
	} else {
		rows, err = p.db.QueryContext(ctx, selectRun+` ORDER BY created_at, id LIMIT $1`, limit+1)
	}
	if err != nil {
		return nil, "", fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	out := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("list runs: %w", err)
	}
	var next string
	if len(out) > limit {
		out = out[:limit]
		next = out[limit-1].ID
	}
	return out, next, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var run Run
	var problem sql.NullString
	var evicted, clusters []byte
	if err := row.Scan(&run.ID, &run.CreatedAt, &run.Method, &problem, &run.Score, &run.Restart, &run.Iterations, &evicted, &clusters); err != nil {
		return Run{}, err
	}
	run.Problem = problem.String
	if err := decodeJSON(evicted, &run.Evicted); err != nil {
		return Run{}, fmt.Errorf("run %s evicted: %w", run.ID, err)
	}
	if err := decodeJSON(clusters, &run.Clusters); err != nil {
		return Run{}, fmt.Errorf("run %s clusters: %w", run.ID, err)
	}
	return run, nil
}

func decodeJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func jsonOrNil(v []string) any {
	if len(v) == 0 {
		return nil
	}
	data, _ := json.Marshal(v)
	return string(data)
}
