// Package catalog records processing runs in a SQLite database so that
// scenes are not processed twice.
package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/project-spencer/wlr/pkg/product"
)

const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

var ErrUnknownRun = errors.New("unknown run")

type Catalog struct {
	*sql.DB
}

func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			scene TEXT NOT NULL,
			status TEXT NOT NULL,
			started INTEGER NOT NULL,
			finished INTEGER,
			output TEXT,
			pixels INTEGER DEFAULT 0,
			valid INTEGER DEFAULT 0,
			cloud_cover DOUBLE DEFAULT 0,
			error TEXT
		);
		CREATE INDEX IF NOT EXISTS runs_scene ON runs (scene);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create catalog schema: %w", err)
	}

	return &Catalog{db}, nil
}

// Run is one processing attempt of a scene.
type Run struct {
	ID         string
	Scene      string
	Status     string
	Started    time.Time
	Finished   time.Time
	Output     string
	Pixels     int
	Valid      int
	CloudCover float64
	Error      string
}

func (r *Run) String() string {
	return fmt.Sprintf("%s %s %s (%d/%d valid, cloud cover %.2f)", r.ID, r.Scene, r.Status, r.Valid, r.Pixels, r.CloudCover)
}

// Begin records the start of a run for scene.
func (c *Catalog) Begin(scene string) (Run, error) {
	r := Run{
		ID:      uuid.NewString(),
		Scene:   scene,
		Status:  StatusRunning,
		Started: time.Now().UTC(),
	}
	_, err := c.Exec("INSERT INTO runs (run_id, scene, status, started) VALUES (?, ?, ?, ?)",
		r.ID, r.Scene, r.Status, r.Started.UnixMilli())
	if err != nil {
		return Run{}, fmt.Errorf("could not record run for %s: %w", scene, err)
	}
	return r, nil
}

func (c *Catalog) update(id, query string, args ...any) error {
	res, err := c.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("could not update run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownRun, id)
	}
	return nil
}

// Finish marks a run as done and stores the product summary.
func (c *Catalog) Finish(id string, s product.Summary, output string) error {
	return c.update(id, `UPDATE runs SET status = ?, finished = ?, output = ?, pixels = ?, valid = ?, cloud_cover = ?
		WHERE run_id = ?`,
		StatusDone, time.Now().UTC().UnixMilli(), output, s.Pixels, s.Valid, s.CloudCover, id)
}

// Fail marks a run as failed.
func (c *Catalog) Fail(id string, cause error) error {
	return c.update(id, "UPDATE runs SET status = ?, finished = ?, error = ? WHERE run_id = ?",
		StatusFailed, time.Now().UTC().UnixMilli(), cause.Error(), id)
}

// Processed reports whether scene has a finished run. Failed runs do not
// count, so such scenes are retried.
func (c *Catalog) Processed(scene string) (bool, error) {
	var n int
	err := c.QueryRow("SELECT COUNT(*) FROM runs WHERE scene = ? AND status = ?", scene, StatusDone).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Runs returns all runs, newest first.
func (c *Catalog) Runs() ([]Run, error) {
	rows, err := c.Query(`SELECT run_id, scene, status, started, finished, output, pixels, valid, cloud_cover, error
		FROM runs ORDER BY started DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started int64
		var finished sql.NullInt64
		var output, runErr sql.NullString
		if err := rows.Scan(&r.ID, &r.Scene, &r.Status, &started, &finished, &output,
			&r.Pixels, &r.Valid, &r.CloudCover, &runErr); err != nil {
			return nil, err
		}
		r.Started = time.UnixMilli(started).UTC()
		if finished.Valid {
			r.Finished = time.UnixMilli(finished.Int64).UTC()
		}
		r.Output = output.String
		r.Error = runErr.String
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return runs, nil
}
