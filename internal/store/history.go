package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lacquerai/silhouette/internal/cluster"
	"github.com/lacquerai/silhouette/internal/stats"
)

// DefaultHistoryPath is the default database location.
const DefaultHistoryPath = "~/.silq/history.db"

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// Run is one recorded analysis.
type Run struct {
	ID           string        `json:"id" yaml:"id"`
	CreatedAt    time.Time     `json:"created_at" yaml:"created_at"`
	Source       string        `json:"source" yaml:"source"`
	Method       string        `json:"method" yaml:"method"`
	Distance     string        `json:"distance" yaml:"distance"`
	Rows         int           `json:"rows" yaml:"rows"`
	ClusterCount int           `json:"cluster_count" yaml:"cluster_count"`
	Anomalies    int           `json:"anomalies" yaml:"anomalies"`
	Duration     time.Duration `json:"duration" yaml:"duration"`
	Status       string        `json:"status" yaml:"status"`
	Error        string        `json:"error,omitempty" yaml:"error,omitempty"`
	ModelPath    string        `json:"model_path,omitempty" yaml:"model_path,omitempty"`
	Clusters     []stats.Row   `json:"clusters,omitempty" yaml:"clusters,omitempty"`
	Weighted     stats.Row     `json:"weighted" yaml:"weighted"`
}

// HistoryConfig holds configuration for OpenHistory.
type HistoryConfig struct {
	// Path is the database file. ":memory:" keeps everything in memory.
	Path string
}

// History records analysis runs in SQLite.
type History struct {
	db   *sql.DB
	path string
}

// OpenHistory opens or creates the run history database.
func OpenHistory(cfg HistoryConfig) (*History, error) {
	if cfg.Path == "" {
		cfg.Path = DefaultHistoryPath
	}
	cfg.Path = expandPath(cfg.Path)

	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}
	if cfg.Path == ":memory:" {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging history: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	h := &History{db: db, path: cfg.Path}
	if err := h.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return h, nil
}

func (h *History) migrate() error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			created_at  DATETIME NOT NULL,
			source      TEXT NOT NULL DEFAULT '',
			method      TEXT NOT NULL DEFAULT '',
			distance    TEXT NOT NULL DEFAULT '',
			row_count     INTEGER NOT NULL DEFAULT 0,
			cluster_count INTEGER NOT NULL DEFAULT 0,
			anomalies   INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			status      TEXT NOT NULL,
			error       TEXT NOT NULL DEFAULT '',
			model_path  TEXT NOT NULL DEFAULT '',
			avg         REAL NOT NULL DEFAULT 0,
			rms         REAL NOT NULL DEFAULT 0,
			stddev      REAL NOT NULL DEFAULT 0,
			neg_count   REAL NOT NULL DEFAULT 0,
			neg_pct     REAL NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`,
		`CREATE TABLE IF NOT EXISTS run_clusters (
			run_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			ordinal   INTEGER NOT NULL,
			name      TEXT NOT NULL,
			color     INTEGER NOT NULL,
			size      INTEGER NOT NULL,
			avg       REAL NOT NULL,
			rms       REAL NOT NULL,
			stddev    REAL NOT NULL,
			neg_count REAL NOT NULL,
			neg_pct   REAL NOT NULL,
			PRIMARY KEY (run_id, ordinal)
		)`,
	}

	tx, err := h.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range ddl {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("executing DDL: %w", err)
		}
	}
	return tx.Commit()
}

// Path returns the database location.
func (h *History) Path() string {
	return h.path
}

// Close closes the database connection.
func (h *History) Close() error {
	return h.db.Close()
}

// Record stores a run and its per-cluster statistics.
func (h *History) Record(ctx context.Context, run *Run) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	w := run.Weighted
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, created_at, source, method, distance, row_count, cluster_count, anomalies,
			duration_ms, status, error, model_path, avg, rms, stddev, neg_count, neg_pct)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.UTC(), run.Source, run.Method, run.Distance, run.Rows, run.ClusterCount,
		run.Anomalies, run.Duration.Milliseconds(), run.Status, run.Error, run.ModelPath,
		w.Avg, w.RMS, w.StdDev, w.NegCount, w.NegPct,
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	for i, c := range run.Clusters {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO run_clusters (run_id, ordinal, name, color, size, avg, rms, stddev, neg_count, neg_pct)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, i, c.Cluster, int64(c.Color), c.Size, c.Avg, c.RMS, c.StdDev, c.NegCount, c.NegPct,
		)
		if err != nil {
			return fmt.Errorf("inserting cluster %q: %w", c.Cluster, err)
		}
	}

	return tx.Commit()
}

const runColumns = `id, created_at, source, method, distance, row_count, cluster_count, anomalies,
	duration_ms, status, error, model_path, avg, rms, stddev, neg_count, neg_pct`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (*Run, error) {
	var (
		run        Run
		durationMs int64
	)
	w := &run.Weighted
	err := s.Scan(&run.ID, &run.CreatedAt, &run.Source, &run.Method, &run.Distance, &run.Rows,
		&run.ClusterCount, &run.Anomalies, &durationMs, &run.Status, &run.Error, &run.ModelPath,
		&w.Avg, &w.RMS, &w.StdDev, &w.NegCount, &w.NegPct)
	if err != nil {
		return nil, err
	}
	run.Duration = time.Duration(durationMs) * time.Millisecond
	w.Cluster = stats.WeightedName
	w.Size = run.Rows
	return &run, nil
}

// Get returns a run with its per-cluster statistics.
func (h *History) Get(ctx context.Context, id string) (*Run, error) {
	row := h.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting run: %w", err)
	}

	rows, err := h.db.QueryContext(ctx, `
		SELECT name, color, size, avg, rms, stddev, neg_count, neg_pct
		FROM run_clusters WHERE run_id = ? ORDER BY ordinal`, id)
	if err != nil {
		return nil, fmt.Errorf("listing run clusters: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c     stats.Row
			color int64
		)
		if err := rows.Scan(&c.Cluster, &color, &c.Size, &c.Avg, &c.RMS, &c.StdDev, &c.NegCount, &c.NegPct); err != nil {
			return nil, fmt.Errorf("scanning run cluster: %w", err)
		}
		c.Color = cluster.Color(color)
		run.Clusters = append(run.Clusters, c)
	}
	return run, rows.Err()
}

// List returns the most recent runs first, without per-cluster statistics.
// A limit of zero or less returns every run.
func (h *History) List(ctx context.Context, limit int) ([]*Run, error) {
	query := "SELECT " + runColumns + " FROM runs ORDER BY created_at DESC, id"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Delete removes a run.
func (h *History) Delete(ctx context.Context, id string) error {
	res, err := h.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	return nil
}

// expandPath expands ~ to the home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
