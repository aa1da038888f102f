// Package tracestore persists JSON-RPC traffic observed by mcpmgr into a
// SQLite database so it can be inspected after the fact.
package tracestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vikashloomba/mcp-toolhost-go/pkg/mcpmgr"
	_ "modernc.org/sqlite"
)

// openDB is swapped in tests.
var openDB = sql.Open

// Entry is one recorded message.
type Entry struct {
	ID         int64
	Server     string
	Direction  mcpmgr.RPCDirection
	Payload    string
	RecordedAt time.Time
}

// loggerBuffer bounds the events queued behind the Logger writer.
const loggerBuffer = 256

// Store is a SQLite-backed trace log. It is safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time

	// write persists one queued Logger event; swapped in tests.
	write func(context.Context, mcpmgr.RPCLogEvent) error

	mu      sync.RWMutex
	queue   chan mcpmgr.RPCLogEvent
	closed  bool
	writer  sync.WaitGroup
	dropped atomic.Int64
}

// Open creates or opens the database at path. The parent directory is
// created when missing.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("tracestore: create dir: %w", err)
		}
	}
	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("tracestore: open database: %w", err)
	}
	// One writer keeps SQLITE_BUSY out of the hot path.
	db.SetMaxOpenConns(1)
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("tracestore: pragma %q: %w", p, err)
		}
	}
	s := &Store{db: db, now: time.Now}
	s.write = s.Record
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tracestore: migration: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS rpc_messages (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			server      TEXT NOT NULL,
			direction   TEXT NOT NULL,
			payload     TEXT NOT NULL,
			recorded_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_rpc_messages_server ON rpc_messages(server, id);
	`)
	return err
}

// Close stops the Logger writer once its queue is drained, then closes the
// database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.queue != nil {
		close(s.queue)
	}
	s.mu.Unlock()
	s.writer.Wait()
	return s.db.Close()
}

// Record stores ev.
func (s *Store) Record(ctx context.Context, ev mcpmgr.RPCLogEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rpc_messages (server, direction, payload, recorded_at) VALUES (?, ?, ?, ?)`,
		ev.ServerName, string(ev.Direction), string(ev.Message), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("tracestore: record: %w", err)
	}
	return nil
}

// Logger adapts the store to an mcpmgr.RPCLogger. Events are queued and
// written by a single background goroutine so transports never wait on the
// database; when the queue is full the event is dropped and counted in
// Dropped. Write failures go to onErr when it is non-nil.
func (s *Store) Logger(onErr func(error)) mcpmgr.RPCLogger {
	s.mu.Lock()
	if s.queue == nil && !s.closed {
		s.queue = make(chan mcpmgr.RPCLogEvent, loggerBuffer)
		s.writer.Add(1)
		go s.drain(s.queue, onErr)
	}
	s.mu.Unlock()

	return func(ev mcpmgr.RPCLogEvent) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.closed || s.queue == nil {
			s.dropped.Add(1)
			return
		}
		select {
		case s.queue <- ev:
		default:
			s.dropped.Add(1)
		}
	}
}

// Dropped reports how many Logger events were discarded because the queue
// was full or the store was closed.
func (s *Store) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Store) drain(queue <-chan mcpmgr.RPCLogEvent, onErr func(error)) {
	defer s.writer.Done()
	for ev := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := s.write(ctx, ev)
		cancel()
		if err != nil && onErr != nil {
			onErr(err)
		}
	}
}

// Recent returns up to limit of the newest entries, newest first. An empty
// server matches every server.
func (s *Store) Recent(ctx context.Context, server string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, server, direction, payload, recorded_at FROM rpc_messages`
	args := []any{}
	if server != "" {
		query += ` WHERE server = ?`
		args = append(args, server)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("tracestore: query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			direction string
			at        int64
		)
		if err := rows.Scan(&e.ID, &e.Server, &direction, &e.Payload, &at); err != nil {
			return nil, fmt.Errorf("tracestore: scan: %w", err)
		}
		e.Direction = mcpmgr.RPCDirection(direction)
		e.RecordedAt = time.UnixMilli(at)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count reports how many messages were recorded for server, or for all
// servers when server is empty.
func (s *Store) Count(ctx context.Context, server string) (int, error) {
	var n int
	var err error
	if server == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rpc_messages`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rpc_messages WHERE server = ?`, server).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("tracestore: count: %w", err)
	}
	return n, nil
}

// Prune deletes entries recorded before cutoff and reports how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rpc_messages WHERE recorded_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("tracestore: prune: %w", err)
	}
	return res.RowsAffected()
}
