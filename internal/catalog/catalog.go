// Package catalog keeps a SQLite record of evaluation runs and the vector
// files they produced. The schema is managed with embedded migrations.
package catalog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/velocity.piv/internal/evaluation"
	"github.com/banshee-data/velocity.piv/internal/timeutil"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when no record matches.
var ErrNotFound = errors.New("catalog: not found")

// Run statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Record is one catalogued output file.
type Record struct {
	ID    string
	RunID string
	evaluation.Output
}

// Run is one catalogued command invocation.
type Run struct {
	ID         string
	Command    string
	ConfigJSON string
	Status     string
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Catalog wraps the database handle.
type Catalog struct {
	db    *sql.DB
	clock timeutil.Clock
}

// Open opens or creates the catalog at path and applies pending migrations.
// ":memory:" gives a private in-memory catalog.
func Open(path string) (*Catalog, error) {
	return OpenWithClock(path, timeutil.RealClock{})
}

// OpenWithClock is Open with an explicit clock for timestamps.
func OpenWithClock(path string, clock timeutil.Clock) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// An in-memory database exists per connection.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	c := &Catalog{db: db, clock: clock}
	if err := c.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func applyPragmas(db *sql.DB) error {
	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	} {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// Close closes the database.
func (c *Catalog) Close() error { return c.db.Close() }

// Append records out without a run. It implements evaluation.Sink.
func (c *Catalog) Append(ctx context.Context, out evaluation.Output) error {
	return c.insert(ctx, "", out)
}

// RunSink returns a sink that records outputs against runID.
func (c *Catalog) RunSink(runID string) evaluation.Sink {
	return evaluation.SinkFunc(func(ctx context.Context, out evaluation.Output) error {
		return c.insert(ctx, runID, out)
	})
}

func (c *Catalog) insert(ctx context.Context, runID string, out evaluation.Output) error {
	created := out.CreatedAt
	if created.IsZero() {
		created = c.clock.Now()
	}
	var run sql.NullString
	if runID != "" {
		run = sql.NullString{String: runID, Valid: true}
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO outputs (output_id, run_id, path, kind, frame_a, frame_b, passes, vectors, invalid, created_unix_nanos)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), run, out.Path, out.Kind, out.FrameA, out.FrameB,
		out.Passes, out.Vectors, out.Invalid, created.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record output %s: %w", out.Path, err)
	}
	return nil
}

// Filter narrows Outputs. Zero values match everything.
type Filter struct {
	Kind  string
	RunID string
	Limit int
}

// Outputs lists recorded outputs, newest first.
func (c *Catalog) Outputs(ctx context.Context, f Filter) ([]Record, error) {
	query := `SELECT output_id, COALESCE(run_id, ''), path, kind, frame_a, frame_b, passes, vectors, invalid, created_unix_nanos
		FROM outputs WHERE 1=1`
	var args []any
	if f.Kind != "" {
		query += " AND kind = ?"
		args = append(args, f.Kind)
	}
	if f.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, f.RunID)
	}
	query += " ORDER BY created_unix_nanos DESC, rowid DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list outputs: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var created int64
		if err := rows.Scan(&r.ID, &r.RunID, &r.Path, &r.Kind, &r.FrameA, &r.FrameB,
			&r.Passes, &r.Vectors, &r.Invalid, &created); err != nil {
			return nil, fmt.Errorf("scan output: %w", err)
		}
		r.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Latest returns the newest output of kind, or of any kind when kind is
// empty.
func (c *Catalog) Latest(ctx context.Context, kind string) (Record, error) {
	recs, err := c.Outputs(ctx, Filter{Kind: kind, Limit: 1})
	if err != nil {
		return Record{}, err
	}
	if len(recs) == 0 {
		return Record{}, ErrNotFound
	}
	return recs[0], nil
}

// BeginRun records the start of a command and returns its id.
func (c *Catalog) BeginRun(ctx context.Context, command, configJSON string) (string, error) {
	id := uuid.NewString()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, command, config_json, status, started_unix_nanos)
		VALUES (?, ?, ?, ?, ?)`,
		id, command, configJSON, StatusRunning, c.clock.Now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}
	return id, nil
}

// FinishRun marks a run complete, or failed when runErr is not nil.
func (c *Catalog) FinishRun(ctx context.Context, id string, runErr error) error {
	status, msg := StatusComplete, ""
	if runErr != nil {
		status, msg = StatusFailed, runErr.Error()
	}
	res, err := c.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, finished_unix_nanos = ? WHERE run_id = ?`,
		status, msg, c.clock.Now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", id, ErrNotFound)
	}
	return nil
}

// Runs lists runs, newest first.
func (c *Catalog) Runs(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT run_id, command, config_json, status, error, started_unix_nanos, finished_unix_nanos
		FROM runs ORDER BY started_unix_nanos DESC, rowid DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var started int64
		var finished sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Command, &r.ConfigJSON, &r.Status, &r.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = time.Unix(0, started).UTC()
		if finished.Valid {
			t := time.Unix(0, finished.Int64).UTC()
			r.FinishedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
