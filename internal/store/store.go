// Package store persists finished optimization runs to SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "github.com/copyleftdev/nmrmix/internal/errors"
	"github.com/copyleftdev/nmrmix/internal/optimization"
	"github.com/copyleftdev/nmrmix/internal/optimization/results"
)

// Timestamp format for the run table (fixed width, so text order is time order)
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Run is a finished optimization as stored.
type Run struct {
	ID         string                  `json:"id" yaml:"id"`
	Status     optimization.Status     `json:"status" yaml:"status"`
	Parameters optimization.Parameters `json:"parameters" yaml:"parameters"`
	Initial    optimization.Score      `json:"initial" yaml:"initial"`
	Final      optimization.Score      `json:"final" yaml:"final"`
	Error      string                  `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt  time.Time               `json:"created_at" yaml:"created_at"`
	FinishedAt time.Time               `json:"finished_at" yaml:"finished_at"`
	Mixtures   []results.MixtureRow    `json:"mixtures,omitempty" yaml:"mixtures,omitempty"`
}

// TracePoint is one stored annealing step, reduced to what plots need.
type TracePoint struct {
	Temperature float64 `json:"temperature"`
	Score       float64 `json:"score"`
	Accepted    bool    `json:"accepted"`
}

// Store reads and writes runs. It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at dsn.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers, and an in-memory database lives in a single
	// connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// createTables creates the required database schema
func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS RunTable (
		RunId TEXT PRIMARY KEY,
		Status TEXT NOT NULL,
		Parameters TEXT NOT NULL,
		InitialScore DOUBLE,
		InitialOverlaps INTEGER,
		FinalScore DOUBLE,
		FinalOverlaps INTEGER,
		Error TEXT,
		CreatedAt TEXT,
		FinishedAt TEXT
	);

	CREATE TABLE IF NOT EXISTS MixtureTable (
		RunId TEXT REFERENCES RunTable(RunId),
		MixtureId INTEGER,
		Score DOUBLE,
		Overlaps INTEGER,
		GroupName TEXT,
		Members TEXT,
		PRIMARY KEY (RunId, MixtureId)
	);

	CREATE TABLE IF NOT EXISTS TraceTable (
		RunId TEXT REFERENCES RunTable(RunId),
		Bucket TEXT,
		Iteration INTEGER,
		Phase TEXT,
		Steps INTEGER,
		blobTemperature BLOB,
		blobScore BLOB,
		blobAccepted BLOB,
		PRIMARY KEY (RunId, Bucket, Iteration, Phase)
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes run and, when out is not nil, the traces of every iteration.
// Saving an existing id replaces it.
func (s *Store) Save(ctx context.Context, run Run, out *optimization.Outcome) error {
	params, err := json.Marshal(run.Parameters)
	if err != nil {
		return fmt.Errorf("failed to encode parameters: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := deleteRun(ctx, tx, run.ID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO RunTable (
			RunId, Status, Parameters, InitialScore, InitialOverlaps,
			FinalScore, FinalOverlaps, Error, CreatedAt, FinishedAt
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		string(run.Status),
		string(params),
		run.Initial.Value,
		run.Initial.Overlaps,
		run.Final.Value,
		run.Final.Overlaps,
		run.Error,
		run.CreatedAt.UTC().Format(timeFormat),
		run.FinishedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	mixStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO MixtureTable (RunId, MixtureId, Score, Overlaps, GroupName, Members)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare mixture statement: %w", err)
	}
	defer mixStmt.Close()
	for _, m := range run.Mixtures {
		members, err := json.Marshal(m.Members)
		if err != nil {
			return fmt.Errorf("failed to encode mixture %d: %w", m.ID, err)
		}
		if _, err := mixStmt.ExecContext(ctx, run.ID, m.ID, m.Score, m.Overlaps, m.Group, string(members)); err != nil {
			return fmt.Errorf("failed to insert mixture %d: %w", m.ID, err)
		}
	}

	if out != nil {
		if err := saveTraces(ctx, tx, run.ID, out); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

func saveTraces(ctx context.Context, tx *sql.Tx, id string, out *optimization.Outcome) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO TraceTable (RunId, Bucket, Iteration, Phase, Steps, blobTemperature, blobScore, blobAccepted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare trace statement: %w", err)
	}
	defer stmt.Close()

	for _, b := range out.Buckets {
		for _, it := range b.Iterations {
			for _, tr := range []struct {
				phase optimization.Phase
				steps []optimization.Step
			}{{optimization.PhaseAnneal, it.Anneal}, {optimization.PhaseRefine, it.Refine}} {
				if len(tr.steps) == 0 {
					continue
				}
				temps, scores, accepted := encodeTrace(tr.steps)
				if _, err := stmt.ExecContext(ctx, id, b.Bucket.Name, it.Iteration, string(tr.phase), len(tr.steps), temps, scores, accepted); err != nil {
					return fmt.Errorf("failed to insert trace %s/%d/%s: %w", b.Bucket.Name, it.Iteration, tr.phase, err)
				}
			}
		}
	}
	return nil
}

// encodeTrace encodes step temperatures and kept scores as little-endian
// float64 blobs and acceptance as one byte per step.
func encodeTrace(steps []optimization.Step) (temps, scores, accepted []byte) {
	temps = make([]byte, len(steps)*8)
	scores = make([]byte, len(steps)*8)
	accepted = make([]byte, len(steps))
	for i, st := range steps {
		score := st.ScoreBefore
		if st.Accepted {
			score = st.ScoreProposed
			accepted[i] = 1
		}
		binary.LittleEndian.PutUint64(temps[i*8:], math.Float64bits(st.Temperature))
		binary.LittleEndian.PutUint64(scores[i*8:], math.Float64bits(score))
	}
	return temps, scores, accepted
}

func decodeFloats(blob []byte) []float64 {
	out := make([]float64, len(blob)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(blob[i*8:]))
	}
	return out
}

// Get loads a run and its mixture table.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	var (
		run               Run
		status, params    string
		created, finished string
		errText           sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT RunId, Status, Parameters, InitialScore, InitialOverlaps,
			FinalScore, FinalOverlaps, Error, CreatedAt, FinishedAt
		FROM RunTable WHERE RunId = ?
	`, id).Scan(
		&run.ID, &status, &params,
		&run.Initial.Value, &run.Initial.Overlaps,
		&run.Final.Value, &run.Final.Overlaps,
		&errText, &created, &finished,
	)
	if err == sql.ErrNoRows {
		return nil, apperrors.Errorf(apperrors.KindNotFound, "run %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	run.Status = optimization.Status(status)
	run.Error = errText.String
	if err := json.Unmarshal([]byte(params), &run.Parameters); err != nil {
		return nil, fmt.Errorf("failed to decode parameters: %w", err)
	}
	run.CreatedAt, _ = time.Parse(timeFormat, created)
	run.FinishedAt, _ = time.Parse(timeFormat, finished)

	rows, err := s.db.QueryContext(ctx, `
		SELECT MixtureId, Score, Overlaps, GroupName, Members
		FROM MixtureTable WHERE RunId = ? ORDER BY MixtureId
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query mixtures: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			m       results.MixtureRow
			members string
		)
		if err := rows.Scan(&m.ID, &m.Score, &m.Overlaps, &m.Group, &members); err != nil {
			return nil, fmt.Errorf("failed to scan mixture: %w", err)
		}
		if err := json.Unmarshal([]byte(members), &m.Members); err != nil {
			return nil, fmt.Errorf("failed to decode mixture %d: %w", m.ID, err)
		}
		run.Mixtures = append(run.Mixtures, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mixtures: %w", err)
	}
	return &run, nil
}

// Assignment rebuilds the stored mixture assignment of a run.
func (r *Run) Assignment() optimization.Assignment {
	a := make(optimization.Assignment, len(r.Mixtures))
	for _, m := range r.Mixtures {
		a[m.ID] = append([]string(nil), m.Members...)
	}
	return a
}

// List returns the most recent runs without their mixtures, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT RunId, Status, FinalScore, FinalOverlaps, CreatedAt
		FROM RunTable ORDER BY CreatedAt DESC, RunId LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run             Run
			status, created string
		)
		if err := rows.Scan(&run.ID, &status, &run.Final.Value, &run.Final.Overlaps, &created); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Status = optimization.Status(status)
		run.CreatedAt, _ = time.Parse(timeFormat, created)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Trace loads one stored trace.
func (s *Store) Trace(ctx context.Context, id, bucket string, iteration int, phase optimization.Phase) ([]TracePoint, error) {
	var temps, scores, accepted []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT blobTemperature, blobScore, blobAccepted FROM TraceTable
		WHERE RunId = ? AND Bucket = ? AND Iteration = ? AND Phase = ?
	`, id, bucket, iteration, string(phase)).Scan(&temps, &scores, &accepted)
	if err == sql.ErrNoRows {
		return nil, apperrors.Errorf(apperrors.KindNotFound, "trace %s/%s/%d/%s not found", id, bucket, iteration, phase)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query trace: %w", err)
	}

	ts, ss := decodeFloats(temps), decodeFloats(scores)
	points := make([]TracePoint, len(accepted))
	for i := range points {
		points[i] = TracePoint{Temperature: ts[i], Score: ss[i], Accepted: accepted[i] == 1}
	}
	return points, nil
}

// Delete removes a run and everything stored with it.
func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	n, err := deleteRun(ctx, tx, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.Errorf(apperrors.KindNotFound, "run %s not found", id)
	}
	return tx.Commit()
}

// deleteRun clears every table of id and returns the number of run rows
// removed.
func deleteRun(ctx context.Context, tx *sql.Tx, id string) (int64, error) {
	var n int64
	for _, table := range []string{"TraceTable", "MixtureTable", "RunTable"} {
		res, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE RunId = ?", id)
		if err != nil {
			return 0, fmt.Errorf("failed to clear %s: %w", table, err)
		}
		n, _ = res.RowsAffected()
	}
	return n, nil
}
