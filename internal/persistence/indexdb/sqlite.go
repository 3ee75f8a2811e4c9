package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"phasecraft.ai/internal/sim/event"
)

const schemaVersion = "1"

// SQLiteIndex is a secondary index of event records. Records are queued and
// written in batches by one goroutine; when the queue is full they are
// dropped and counted. The journal remains the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan event.Record
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64

	log *log.Logger
}

type Options struct {
	QueueSize     int
	CommitEvery   int
	CommitMaxWait time.Duration
	Logger        *log.Logger
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 65536
	}
	if o.CommitEvery <= 0 {
		o.CommitEvery = 2000
	}
	if o.CommitMaxWait <= 0 {
		o.CommitMaxWait = 2 * time.Second
	}
	if o.Logger == nil {
		o.Logger = log.New(os.Stdout, "[index] ", log.LstdFlags|log.Lmicroseconds)
	}
	return o
}

func OpenSQLite(path string, opts Options) (*SQLiteIndex, error) {
	opts = opts.withDefaults()
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version',?)`, schemaVersion); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:  db,
		ch:  make(chan event.Record, opts.QueueSize),
		log: opts.Logger,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(opts.CommitEvery, opts.CommitMaxWait)
	}()
	return s, nil
}

func openDB(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func initPragmas(db *sql.DB) error {
	// WAL suits the append-only workload; NORMAL is enough for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			phase TEXT NOT NULL,
			kind TEXT NOT NULL,
			depth INTEGER NOT NULL,
			cancelled INTEGER NOT NULL,
			entries INTEGER NOT NULL,
			applied INTEGER NOT NULL,
			origin TEXT NOT NULL,
			causes_json TEXT NOT NULL,
			context_json TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_kind_tick ON events(kind, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_events_origin_tick ON events(origin, tick);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// SetMeta stores a key/value pair. Call it before records start flowing; it
// shares the single connection with the writer.
func (s *SQLiteIndex) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`, key, value)
	return err
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// RecordEvent implements event.Recorder. It never blocks the simulation.
func (s *SQLiteIndex) RecordEvent(r event.Record) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- r:
	default:
		s.dropped.Add(1)
	}
	return nil
}

type QueueStats struct {
	QueueDepth    int
	QueueCapacity int
	DropTotal     uint64
}

func (s *SQLiteIndex) Stats() QueueStats {
	return QueueStats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DropTotal:     s.dropped.Load(),
	}
}

func (s *SQLiteIndex) loop(commitEvery int, commitMaxWait time.Duration) {
	ctx := context.Background()

	insertEvent, err := s.db.Prepare(`INSERT OR REPLACE INTO events(tick,seq,phase,kind,depth,cancelled,entries,applied,origin,causes_json,context_json) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		s.log.Printf("prepare: %v", err)
		for range s.ch {
			s.dropped.Add(1)
		}
		return
	}
	defer insertEvent.Close()

	var (
		tx         *sql.Tx
		opCount    int
		lastCommit = time.Now()
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.log.Printf("begin: %v", err)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.log.Printf("commit: %v", err)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func(err error) {
		s.log.Printf("insert: %v (rolling back %d rows)", err, opCount)
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	idle := time.NewTicker(commitMaxWait)
	defer idle.Stop()

	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			begin()
			if tx == nil {
				s.dropped.Add(1)
				continue
			}
			causes, _ := json.Marshal(r.Causes)
			ctxJSON, _ := json.Marshal(r.Context)
			if _, err := tx.Stmt(insertEvent).Exec(
				int64(r.Tick),
				r.Seq,
				r.Phase,
				string(r.Kind),
				r.Depth,
				boolInt(r.Cancelled),
				r.Entries,
				r.Applied,
				origin(r),
				string(causes),
				string(ctxJSON),
			); err != nil {
				rollback(err)
				continue
			}
			opCount++
			if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		case <-idle.C:
			if tx != nil && time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		}
	}
}

func origin(r event.Record) string {
	if len(r.Causes) == 0 {
		return ""
	}
	return r.Causes[0]
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
