package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaPostgres); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS railkpi_coefficients (
	id           BIGSERIAL PRIMARY KEY,
	rail_type    TEXT NOT NULL,
	kpi          TEXT NOT NULL,
	model_type   TEXT NOT NULL DEFAULT 'A',
	param1_name  TEXT NOT NULL DEFAULT '',
	param1_value DOUBLE PRECISION,
	param2_name  TEXT NOT NULL DEFAULT '',
	param2_value DOUBLE PRECISION,
	r_squared    DOUBLE PRECISION
);

CREATE INDEX IF NOT EXISTS railkpi_coefficients_key_idx ON railkpi_coefficients (rail_type, kpi);

CREATE TABLE IF NOT EXISTS railkpi_calibration_runs (
	id           UUID PRIMARY KEY,
	rail_type    TEXT NOT NULL,
	kpi          TEXT NOT NULL,
	model_type   TEXT NOT NULL,
	method       TEXT NOT NULL DEFAULT '',
	outcome      TEXT NOT NULL,
	reason       TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	params       JSONB,
	r_squared    DOUBLE PRECISION,
	sse          DOUBLE PRECISION,
	sst          DOUBLE PRECISION,
	n            INTEGER NOT NULL DEFAULT 0,
	iterations   INTEGER NOT NULL DEFAULT 0,
	scale_factor DOUBLE PRECISION NOT NULL DEFAULT 1,
	dry_run      BOOLEAN NOT NULL DEFAULT FALSE,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const coefficientColumns = `rail_type, kpi, model_type, param1_name, param1_value, param2_name, param2_value, r_squared`

func (s *PostgresStore) ListCoefficients(ctx context.Context) ([]Coefficient, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+coefficientColumns+` FROM railkpi_coefficients ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Coefficient
	for rows.Next() {
		var c Coefficient
		if err := rows.Scan(&c.RailType, &c.KPI, &c.ModelType,
			&c.Param1Name, &c.Param1Value, &c.Param2Name, &c.Param2Value, &c.RSquared); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ReplaceCoefficients(ctx context.Context, keys []Key, rows []Coefficient) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, k := range keys {
		if _, err := tx.Exec(ctx, `DELETE FROM railkpi_coefficients WHERE rail_type = $1 AND kpi = $2`,
			k.RailType, k.KPI); err != nil {
			return fmt.Errorf("delete %s: %w", k, err)
		}
	}
	if err := insertCoefficientsTx(ctx, tx, rows); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ResetCoefficients(ctx context.Context, rows []Coefficient) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM railkpi_coefficients`); err != nil {
		return fmt.Errorf("clear coefficients: %w", err)
	}
	if err := insertCoefficientsTx(ctx, tx, rows); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertCoefficientsTx(ctx context.Context, tx pgx.Tx, rows []Coefficient) error {
	batch := &pgx.Batch{}
	for _, raw := range rows {
		r := raw.Normalize()
		batch.Queue(`
			INSERT INTO railkpi_coefficients (`+coefficientColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			r.RailType, r.KPI, r.ModelType, r.Param1Name, r.Param1Value, r.Param2Name, r.Param2Value, r.RSquared)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert coefficients: %w", err)
	}
	return nil
}

const runColumns = `id, rail_type, kpi, model_type, method, outcome, reason, error, params,
	r_squared, sse, sst, n, iterations, scale_factor, dry_run, created_at`

func (s *PostgresStore) RecordCalibration(ctx context.Context, run *CalibrationRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	paramsJSON, _ := json.Marshal(run.Params)
	return s.pool.QueryRow(ctx, `
		INSERT INTO railkpi_calibration_runs (id, rail_type, kpi, model_type, method, outcome, reason, error,
			params, r_squared, sse, sst, n, iterations, scale_factor, dry_run)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING created_at`,
		run.ID, run.RailType, run.KPI, run.ModelType, run.Method, run.Outcome, run.Reason, run.Error,
		paramsJSON, run.RSquared, run.SSE, run.SST, run.N, run.Iterations, run.ScaleFactor, run.DryRun,
	).Scan(&run.CreatedAt)
}

func (s *PostgresStore) ListCalibrations(ctx context.Context, filter CalibrationFilter) ([]*CalibrationRun, error) {
	query := `SELECT ` + runColumns + ` FROM railkpi_calibration_runs WHERE 1=1`
	args := []interface{}{}
	n := 0

	if filter.RailType != "" {
		n++
		query += fmt.Sprintf(" AND rail_type = $%d", n)
		args = append(args, string(filter.RailType))
	}
	if filter.KPI != "" {
		n++
		query += fmt.Sprintf(" AND kpi = $%d", n)
		args = append(args, string(filter.KPI))
	}
	if filter.Outcome != nil {
		n++
		query += fmt.Sprintf(" AND outcome = $%d", n)
		args = append(args, string(*filter.Outcome))
	}

	query += " ORDER BY created_at DESC"

	n++
	query += fmt.Sprintf(" LIMIT $%d", n)
	args = append(args, filterLimit(filter))

	if filter.Offset > 0 {
		n++
		query += fmt.Sprintf(" OFFSET $%d", n)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*CalibrationRun
	for rows.Next() {
		r := &CalibrationRun{}
		var paramsJSON []byte
		var reason, runErr sql.NullString
		if err := rows.Scan(&r.ID, &r.RailType, &r.KPI, &r.ModelType, &r.Method, &r.Outcome, &reason, &runErr,
			&paramsJSON, &r.RSquared, &r.SSE, &r.SST, &r.N, &r.Iterations, &r.ScaleFactor, &r.DryRun, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Reason = reason.String
		r.Error = runErr.String
		if paramsJSON != nil {
			_ = json.Unmarshal(paramsJSON, &r.Params)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
