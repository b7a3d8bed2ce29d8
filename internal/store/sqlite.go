package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // driver: sqlite

	"github.com/MikeSquared-Agency/RailKPI/internal/kpi"
)

// DefaultSQLiteDSN is used when no database URL is configured.
const DefaultSQLiteDSN = "file:railkpi.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"

// SQLiteStore is the single-file backend for offline analysis.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = DefaultSQLiteDSN
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; replacements hold the connection for the whole tx.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS railkpi_coefficients (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	rail_type    TEXT NOT NULL,
	kpi          TEXT NOT NULL,
	model_type   TEXT NOT NULL DEFAULT 'A',
	param1_name  TEXT NOT NULL DEFAULT '',
	param1_value REAL,
	param2_name  TEXT NOT NULL DEFAULT '',
	param2_value REAL,
	r_squared    REAL
);

CREATE INDEX IF NOT EXISTS railkpi_coefficients_key_idx ON railkpi_coefficients (rail_type, kpi);

CREATE TABLE IF NOT EXISTS railkpi_calibration_runs (
	id           TEXT PRIMARY KEY,
	rail_type    TEXT NOT NULL,
	kpi          TEXT NOT NULL,
	model_type   TEXT NOT NULL,
	method       TEXT NOT NULL DEFAULT '',
	outcome      TEXT NOT NULL,
	reason       TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	params_json  TEXT NOT NULL DEFAULT '',
	r_squared    REAL,
	sse          REAL,
	sst          REAL,
	n            INTEGER NOT NULL DEFAULT 0,
	iterations   INTEGER NOT NULL DEFAULT 0,
	scale_factor REAL NOT NULL DEFAULT 1,
	dry_run      INTEGER NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL
);
`

func (s *SQLiteStore) ListCoefficients(ctx context.Context) ([]Coefficient, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+coefficientColumns+` FROM railkpi_coefficients ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Coefficient
	for rows.Next() {
		var (
			c                   Coefficient
			railType, indicator string
			p1, p2, r2          sql.NullFloat64
		)
		if err := rows.Scan(&railType, &indicator, &c.ModelType, &c.Param1Name, &p1, &c.Param2Name, &p2, &r2); err != nil {
			return nil, err
		}
		c.RailType = kpi.Category(railType)
		c.KPI = kpi.Indicator(indicator)
		c.Param1Value = nullFloat(p1)
		c.Param2Value = nullFloat(p2)
		c.RSquared = nullFloat(r2)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ReplaceCoefficients(ctx context.Context, keys []Key, rows []Coefficient) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, k := range keys {
			if _, err := tx.ExecContext(ctx, `DELETE FROM railkpi_coefficients WHERE rail_type = ? AND kpi = ?`,
				string(k.RailType), string(k.KPI)); err != nil {
				return fmt.Errorf("delete %s: %w", k, err)
			}
		}
		return insertCoefficientsSQL(ctx, tx, rows)
	})
}

func (s *SQLiteStore) ResetCoefficients(ctx context.Context, rows []Coefficient) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM railkpi_coefficients`); err != nil {
			return fmt.Errorf("clear coefficients: %w", err)
		}
		return insertCoefficientsSQL(ctx, tx, rows)
	})
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func insertCoefficientsSQL(ctx context.Context, tx *sql.Tx, rows []Coefficient) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO railkpi_coefficients (`+coefficientColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for _, raw := range rows {
		r := raw.Normalize()
		if _, err := stmt.ExecContext(ctx, string(r.RailType), string(r.KPI), r.ModelType,
			r.Param1Name, r.Param1Value, r.Param2Name, r.Param2Value, r.RSquared); err != nil {
			return fmt.Errorf("insert %s: %w", r.Key(), err)
		}
	}
	return nil
}

func (s *SQLiteStore) RecordCalibration(ctx context.Context, run *CalibrationRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	paramsJSON, _ := json.Marshal(run.Params)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO railkpi_calibration_runs (id, rail_type, kpi, model_type, method, outcome, reason, error,
			params_json, r_squared, sse, sst, n, iterations, scale_factor, dry_run, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID.String(), string(run.RailType), string(run.KPI), run.ModelType, run.Method, string(run.Outcome),
		run.Reason, run.Error, string(paramsJSON), run.RSquared, run.SSE, run.SST, run.N, run.Iterations,
		run.ScaleFactor, run.DryRun, run.CreatedAt.UnixMilli())
	return err
}

func (s *SQLiteStore) ListCalibrations(ctx context.Context, filter CalibrationFilter) ([]*CalibrationRun, error) {
	query := `SELECT id, rail_type, kpi, model_type, method, outcome, reason, error, params_json,
		r_squared, sse, sst, n, iterations, scale_factor, dry_run, created_at
		FROM railkpi_calibration_runs WHERE 1=1`
	var args []interface{}
	if filter.RailType != "" {
		query += " AND rail_type = ?"
		args = append(args, string(filter.RailType))
	}
	if filter.KPI != "" {
		query += " AND kpi = ?"
		args = append(args, string(filter.KPI))
	}
	if filter.Outcome != nil {
		query += " AND outcome = ?"
		args = append(args, string(*filter.Outcome))
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, filterLimit(filter), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*CalibrationRun
	for rows.Next() {
		var (
			r                       = &CalibrationRun{}
			id, railType, indicator string
			outcome, paramsJSON     string
			r2, sse, sst            sql.NullFloat64
			createdAt               int64
		)
		if err := rows.Scan(&id, &railType, &indicator, &r.ModelType, &r.Method, &outcome, &r.Reason, &r.Error,
			&paramsJSON, &r2, &sse, &sst, &r.N, &r.Iterations, &r.ScaleFactor, &r.DryRun, &createdAt); err != nil {
			return nil, err
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse run id %q: %w", id, err)
		}
		r.ID = parsed
		r.RailType = kpi.Category(railType)
		r.KPI = kpi.Indicator(indicator)
		r.Outcome = Outcome(outcome)
		r.RSquared = nullFloat(r2)
		r.SSE = nullFloat(sse)
		r.SST = nullFloat(sst)
		r.CreatedAt = time.UnixMilli(createdAt).UTC()
		if paramsJSON != "" {
			_ = json.Unmarshal([]byte(paramsJSON), &r.Params)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return Float(v.Float64)
}
