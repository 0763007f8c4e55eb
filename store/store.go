// Package store keeps a history of benchmark runs in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/weiihann/allocbench/aggregate"
)

// ErrNotFound is returned for unknown run ids.
var ErrNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	started_at INTEGER NOT NULL,
	host       TEXT NOT NULL,
	trials     INTEGER NOT NULL,
	average    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS pairs (
	run_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	benchmark TEXT NOT NULL,
	allocator TEXT NOT NULL,
	ok        INTEGER NOT NULL,
	PRIMARY KEY (run_id, benchmark, allocator)
);
CREATE TABLE IF NOT EXISTS samples (
	run_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	benchmark TEXT NOT NULL,
	allocator TEXT NOT NULL,
	position  INTEGER NOT NULL,
	attribute TEXT NOT NULL,
	trial     INTEGER NOT NULL,
	value     REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS samples_pair ON samples (run_id, benchmark, allocator);
`

// Run is one invocation of the harness.
type Run struct {
	ID        string
	StartedAt time.Time
	Host      string
	Trials    int
	Average   bool
	// Pairs and Failed are filled by List.
	Pairs  int
	Failed int
}

// NewRun returns a run with a fresh id.
func NewRun(host string, trials int, average bool) Run {
	return Run{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Host:      host,
		Trials:    trials,
		Average:   average,
	}
}

// Store wraps a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One writer; SQLite serializes anyway.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()

		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()

		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()

		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save records run and its results, keyed by benchmark then allocator.
func (s *Store) Save(ctx context.Context, run Run, results map[string]aggregate.Sweep) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, host, trials, average) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UnixNano(), run.Host, run.Trials, run.Average,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	pair, err := tx.PrepareContext(ctx,
		`INSERT INTO pairs (run_id, benchmark, allocator, ok) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare pairs: %w", err)
	}
	defer pair.Close()

	sample, err := tx.PrepareContext(ctx,
		`INSERT INTO samples (run_id, benchmark, allocator, position, attribute, trial, value)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare samples: %w", err)
	}
	defer sample.Close()

	for benchmark, sweep := range results {
		for allocator, series := range sweep {
			if _, err := pair.ExecContext(ctx, run.ID, benchmark, allocator, series != nil); err != nil {
				return fmt.Errorf("insert pair %s/%s: %w", benchmark, allocator, err)
			}

			if series == nil {
				continue
			}

			for pos, attr := range series.Attributes {
				for trial, v := range series.Values[attr] {
					if _, err := sample.ExecContext(ctx,
						run.ID, benchmark, allocator, pos, attr, trial, v,
					); err != nil {
						return fmt.Errorf("insert sample %s/%s: %w", benchmark, allocator, err)
					}
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

// List returns the most recent runs first.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.started_at, r.host, r.trials, r.average,
		       COUNT(p.allocator), COALESCE(SUM(1 - p.ok), 0)
		FROM runs r LEFT JOIN pairs p ON p.run_id = r.id
		GROUP BY r.id
		ORDER BY r.started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run     Run
			started int64
		)
		if err := rows.Scan(&run.ID, &started, &run.Host, &run.Trials, &run.Average,
			&run.Pairs, &run.Failed); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.StartedAt = time.Unix(0, started)
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// Load reconstructs the results of a stored run.
func (s *Store) Load(ctx context.Context, id string) (Run, map[string]aggregate.Sweep, error) {
	var (
		run     Run
		started int64
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, host, trials, average FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &started, &run.Host, &run.Trials, &run.Average)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Run{}, nil, fmt.Errorf("load run: %w", err)
	}
	run.StartedAt = time.Unix(0, started)

	results, err := s.loadPairs(ctx, run)
	if err != nil {
		return Run{}, nil, err
	}

	if err := s.loadSamples(ctx, run.ID, results); err != nil {
		return Run{}, nil, err
	}

	return run, results, nil
}

func (s *Store) loadPairs(ctx context.Context, run Run) (map[string]aggregate.Sweep, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT benchmark, allocator, ok FROM pairs WHERE run_id = ?`, run.ID)
	if err != nil {
		return nil, fmt.Errorf("load pairs: %w", err)
	}
	defer rows.Close()

	results := make(map[string]aggregate.Sweep)
	for rows.Next() {
		var (
			benchmark, allocator string
			ok                   bool
		)
		if err := rows.Scan(&benchmark, &allocator, &ok); err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}

		if results[benchmark] == nil {
			results[benchmark] = make(aggregate.Sweep)
		}

		if !ok {
			results[benchmark][allocator] = nil

			continue
		}

		results[benchmark][allocator] = &aggregate.Series{
			Target:   allocator,
			Workload: benchmark,
			Values:   make(map[string][]float64),
			Average:  run.Average,
		}
	}

	return results, rows.Err()
}

func (s *Store) loadSamples(ctx context.Context, id string, results map[string]aggregate.Sweep) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT benchmark, allocator, position, attribute, value FROM samples
		WHERE run_id = ?
		ORDER BY benchmark, allocator, position, trial`, id)
	if err != nil {
		return fmt.Errorf("load samples: %w", err)
	}
	defer rows.Close()

	positions := make(map[*aggregate.Series]map[string]int)
	for rows.Next() {
		var (
			benchmark, allocator, attr string
			pos                        int
			v                          float64
		)
		if err := rows.Scan(&benchmark, &allocator, &pos, &attr, &v); err != nil {
			return fmt.Errorf("scan sample: %w", err)
		}

		series := results[benchmark][allocator]
		if series == nil {
			continue
		}

		if positions[series] == nil {
			positions[series] = make(map[string]int)
		}
		positions[series][attr] = pos
		series.Values[attr] = append(series.Values[attr], v)
	}

	if err := rows.Err(); err != nil {
		return err
	}

	for series, pos := range positions {
		attrs := make([]string, 0, len(pos))
		for attr := range pos {
			attrs = append(attrs, attr)
		}
		sort.Slice(attrs, func(i, j int) bool { return pos[attrs[i]] < pos[attrs[j]] })
		series.Attributes = attrs
	}

	return nil
}
