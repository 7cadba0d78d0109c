// Package inbox stores inbound messages and publishes a change feed.
package inbox

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/msageha/alarmd/internal/model"
)

// Store is a SQLite message table. Watchers are notified after every insert.
type Store struct {
	db  *sql.DB
	now func() time.Time

	mu       sync.RWMutex
	watchers map[int]func()
	nextID   int
}

// Open opens the inbox database at dbPath. ":memory:" gives a private
// in-memory inbox.
func Open(dbPath string) (*Store, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("ensure inbox dir: %w", err)
		}
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if strings.HasPrefix(dbPath, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, now: time.Now, watchers: make(map[int]func())}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		sender TEXT NOT NULL,
		body TEXT NOT NULL,
		received_at INTEGER NOT NULL
	);`)
	return err
}

// Insert stores a new message and notifies watchers.
func (s *Store) Insert(ctx context.Context, from, body string) (model.Message, error) {
	msg := model.Message{
		ID:         uuid.NewString(),
		From:       from,
		Body:       body,
		ReceivedAt: s.now().UTC().Truncate(time.Millisecond),
	}
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (id, sender, body, received_at) VALUES (?, ?, ?, ?)",
		msg.ID, msg.From, msg.Body, msg.ReceivedAt.UnixMilli(),
	); err != nil {
		return model.Message{}, fmt.Errorf("insert message: %w", err)
	}
	s.notify()
	return msg, nil
}

// Latest returns up to limit messages, most recently inserted first.
func (s *Store) Latest(ctx context.Context, limit int) ([]model.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, sender, body, received_at FROM messages ORDER BY seq DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		var receivedMs int64
		if err := rows.Scan(&m.ID, &m.From, &m.Body, &receivedMs); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ReceivedAt = time.UnixMilli(receivedMs).UTC()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return msgs, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// Watch calls fn after each insert, on the inserting goroutine. The
// returned function stops the notifications and is safe to call twice.
func (s *Store) Watch(fn func()) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) Watchers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.watchers)
}

func (s *Store) notify() {
	s.mu.RLock()
	ids := make([]int, 0, len(s.watchers))
	for id := range s.watchers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.watchers[id])
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}
