// Package store persists processed readout batches to SQLite.
//
// Each batch row records the routine and heralding acceptance count; each
// channel row holds the to_fit matrix (and the normalized population when
// the routine produced one) as JSON row arrays.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/readout/internal/monitoring"
	"github.com/banshee-data/readout/internal/readout/pipeline"
	"github.com/banshee-data/readout/internal/timeutil"
)

// ErrBatchNotFound is returned when a batch id has no stored result.
var ErrBatchNotFound = errors.New("batch not found")

// Store wraps the results database.
type Store struct {
	*sql.DB
	clock timeutil.Clock
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for processed_at timestamps.
func WithClock(c timeutil.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// Open opens (creating if needed) the database at path and applies any
// pending migrations.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open results database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{DB: db, clock: timeutil.RealClock{}}
	for _, o := range opts {
		o(s)
	}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	monitoring.Logf("store: results database ready at %s", path)
	return s, nil
}

// BatchRecord summarises one stored batch.
type BatchRecord struct {
	ID          string
	Routine     pipeline.Routine
	NPass       int // -1 when the routine does not herald
	ProcessedAt time.Time
	Channels    int
}

// SaveResult stores res in a single transaction. Saving the same batch id
// twice replaces the earlier rows.
func (s *Store) SaveResult(ctx context.Context, res *pipeline.Result) error {
	if res == nil {
		return errors.New("nil result")
	}
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var nPass sql.NullInt64
	if res.Mask != nil {
		nPass = sql.NullInt64{Int64: int64(res.Mask.NPass), Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM batches WHERE batch_id = ?`, res.ID); err != nil {
		return fmt.Errorf("failed to replace batch %s: %w", res.ID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO batches (batch_id, routine, n_pass, processed_at) VALUES (?, ?, ?, ?)`,
		res.ID, res.Routine.String(), nPass, s.clock.Now().UnixNano(),
	); err != nil {
		return fmt.Errorf("failed to insert batch %s: %w", res.ID, err)
	}

	for _, id := range res.ChannelIDs() {
		cr := res.Channels[id]
		if cr == nil || cr.ToFit == nil {
			return fmt.Errorf("channel %s has no to_fit matrix", id)
		}
		toFit, err := encodeMatrix(cr.ToFit)
		if err != nil {
			return fmt.Errorf("channel %s: %w", id, err)
		}
		var levels, normalized sql.NullString
		if cr.Normalized != nil {
			lv, err := json.Marshal(cr.Normalized.Levels)
			if err != nil {
				return fmt.Errorf("channel %s levels: %w", id, err)
			}
			levels = sql.NullString{String: string(lv), Valid: true}
			nm, err := encodeMatrix(cr.Normalized.Population)
			if err != nil {
				return fmt.Errorf("channel %s: %w", id, err)
			}
			normalized = sql.NullString{String: nm, Valid: true}
		}
		r, c := cr.ToFit.Dims()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO channel_results (batch_id, channel, levels, n_rows, n_cols, to_fit, normalized)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			res.ID, id, levels, r, c, toFit, normalized,
		); err != nil {
			return fmt.Errorf("failed to insert channel %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch %s: %w", res.ID, err)
	}
	return nil
}

// LoadToFit returns the stored to_fit matrix of every channel in a batch.
func (s *Store) LoadToFit(ctx context.Context, batchID string) (map[string]*mat.Dense, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT channel, n_rows, n_cols, to_fit FROM channel_results WHERE batch_id = ? ORDER BY channel`,
		batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch %s: %w", batchID, err)
	}
	defer rows.Close()

	out := map[string]*mat.Dense{}
	for rows.Next() {
		var (
			channel string
			r, c    int
			data    string
		)
		if err := rows.Scan(&channel, &r, &c, &data); err != nil {
			return nil, fmt.Errorf("failed to scan channel row: %w", err)
		}
		m, err := decodeMatrix(data, r, c)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", channel, err)
		}
		out[channel] = m
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
	}
	return out, nil
}

// ListBatches returns stored batches, most recent first.
func (s *Store) ListBatches(ctx context.Context) ([]BatchRecord, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT b.batch_id, b.routine, b.n_pass, b.processed_at, COUNT(c.channel)
		FROM batches b LEFT JOIN channel_results c ON c.batch_id = b.batch_id
		GROUP BY b.batch_id
		ORDER BY b.processed_at DESC, b.batch_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var out []BatchRecord
	for rows.Next() {
		var (
			rec     BatchRecord
			routine string
			nPass   sql.NullInt64
			ts      int64
		)
		if err := rows.Scan(&rec.ID, &routine, &nPass, &ts, &rec.Channels); err != nil {
			return nil, fmt.Errorf("failed to scan batch row: %w", err)
		}
		if rec.Routine, err = pipeline.ParseRoutine(routine); err != nil {
			return nil, fmt.Errorf("batch %s: %w", rec.ID, err)
		}
		rec.NPass = -1
		if nPass.Valid {
			rec.NPass = int(nPass.Int64)
		}
		rec.ProcessedAt = time.Unix(0, ts).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func encodeMatrix(m mat.Matrix) (string, error) {
	r, c := m.Dims()
	grid := make([][]float64, r)
	for i := range grid {
		grid[i] = make([]float64, c)
		for j := range grid[i] {
			grid[i][j] = m.At(i, j)
		}
	}
	data, err := json.Marshal(grid)
	if err != nil {
		return "", fmt.Errorf("failed to encode matrix: %w", err)
	}
	return string(data), nil
}

func decodeMatrix(data string, r, c int) (*mat.Dense, error) {
	if r <= 0 || c <= 0 {
		return nil, fmt.Errorf("stored matrix has invalid shape %dx%d", r, c)
	}
	var grid [][]float64
	if err := json.Unmarshal([]byte(data), &grid); err != nil {
		return nil, fmt.Errorf("failed to decode matrix: %w", err)
	}
	if len(grid) != r {
		return nil, fmt.Errorf("stored matrix has %d rows, want %d", len(grid), r)
	}
	flat := make([]float64, 0, r*c)
	for i, row := range grid {
		if len(row) != c {
			return nil, fmt.Errorf("stored matrix row %d has %d columns, want %d", i, len(row), c)
		}
		flat = append(flat, row...)
	}
	return mat.NewDense(r, c, flat), nil
}
