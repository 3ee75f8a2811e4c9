package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"phasecraft.ai/internal/sim/event"
)

// Reader queries an index written by SQLiteIndex.
type Reader struct {
	db *sql.DB
}

func OpenReader(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error { return r.db.Close() }

func (r *Reader) Meta(ctx context.Context, key string) (string, error) {
	var v string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key=?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

type KindCount struct {
	Kind      event.Kind `json:"kind"`
	Events    int        `json:"events"`
	Cancelled int        `json:"cancelled"`
	Applied   int        `json:"applied"`
}

type Summary struct {
	Events    int         `json:"events"`
	FirstTick uint64      `json:"first_tick"`
	LastTick  uint64      `json:"last_tick"`
	MaxDepth  int         `json:"max_depth"`
	Kinds     []KindCount `json:"kinds"`
}

func (r *Reader) Summary(ctx context.Context) (Summary, error) {
	var s Summary
	var first, last int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(MIN(tick),0), COALESCE(MAX(tick),0), COALESCE(MAX(depth),0) FROM events`,
	).Scan(&s.Events, &first, &last, &s.MaxDepth)
	if err != nil {
		return s, fmt.Errorf("summary: %w", err)
	}
	s.FirstTick, s.LastTick = uint64(first), uint64(last)

	rows, err := r.db.QueryContext(ctx,
		`SELECT kind, COUNT(*), SUM(cancelled), SUM(applied) FROM events GROUP BY kind ORDER BY kind`)
	if err != nil {
		return s, fmt.Errorf("summary kinds: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kc KindCount
		var kind string
		if err := rows.Scan(&kind, &kc.Events, &kc.Cancelled, &kc.Applied); err != nil {
			return s, err
		}
		kc.Kind = event.Kind(kind)
		s.Kinds = append(s.Kinds, kc)
	}
	return s, rows.Err()
}

// EventsForTick returns the records of one tick in posting order.
func (r *Reader) EventsForTick(ctx context.Context, tick uint64) ([]event.Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT tick,seq,phase,kind,depth,cancelled,entries,applied,causes_json,context_json FROM events WHERE tick=? ORDER BY seq`,
		int64(tick))
	if err != nil {
		return nil, fmt.Errorf("events for tick %d: %w", tick, err)
	}
	defer rows.Close()

	var out []event.Record
	for rows.Next() {
		var (
			rec             event.Record
			t               int64
			kind            string
			cancelled       int
			causes, ctxJSON string
		)
		if err := rows.Scan(&t, &rec.Seq, &rec.Phase, &kind, &rec.Depth, &cancelled, &rec.Entries, &rec.Applied, &causes, &ctxJSON); err != nil {
			return nil, err
		}
		rec.Tick = uint64(t)
		rec.Kind = event.Kind(kind)
		rec.Cancelled = cancelled != 0
		if err := json.Unmarshal([]byte(causes), &rec.Causes); err != nil {
			return nil, fmt.Errorf("tick %d seq %d causes: %w", tick, rec.Seq, err)
		}
		if err := json.Unmarshal([]byte(ctxJSON), &rec.Context); err != nil {
			return nil, fmt.Errorf("tick %d seq %d context: %w", tick, rec.Seq, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
