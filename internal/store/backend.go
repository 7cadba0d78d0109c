package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	_ "modernc.org/sqlite"

	"github.com/msageha/alarmd/internal/lock"
	atomicyaml "github.com/msageha/alarmd/internal/yaml"
)

var validKey = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// FileBackend keeps one YAML file per key in dir.
type FileBackend struct {
	dir           string
	quarantineDir string
	locks         *lock.MutexMap
}

func NewFileBackend(dir, quarantineDir string) *FileBackend {
	return &FileBackend{
		dir:           dir,
		quarantineDir: quarantineDir,
		locks:         lock.NewMutexMap(),
	}
}

func (b *FileBackend) path(key string) (string, error) {
	if !validKey.MatchString(key) {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(b.dir, key+".yaml"), nil
}

func (b *FileBackend) Load(key string) ([]byte, error) {
	path, err := b.path(key)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = b.locks.With(key, func() error {
		var rerr error
		data, rerr = os.ReadFile(path)
		return rerr
	})
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func (b *FileBackend) Save(key string, data []byte) error {
	path, err := b.path(key)
	if err != nil {
		return err
	}
	return b.locks.With(key, func() error {
		return atomicyaml.AtomicWriteRaw(path, data)
	})
}

func (b *FileBackend) Quarantine(key string) error {
	path, err := b.path(key)
	if err != nil {
		return err
	}
	return b.locks.With(key, func() error {
		_, qerr := atomicyaml.Quarantine(b.quarantineDir, path)
		return qerr
	})
}

// SQLiteBackend keeps keys in a single kv table.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLiteBackend opens (creating if needed) the database at dbPath.
func OpenSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("ensure db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	b := &SQLiteBackend{db: db}
	if err := b.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) initialize() error {
	_, err := b.db.Exec(`
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS kv_quarantine (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		key TEXT NOT NULL,
		value BLOB NOT NULL,
		quarantined_at INTEGER NOT NULL
	);`)
	return err
}

func (b *SQLiteBackend) Load(key string) ([]byte, error) {
	var data []byte
	err := b.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", key, err)
	}
	return data, nil
}

func (b *SQLiteBackend) Save(key string, data []byte) error {
	_, err := b.db.Exec(
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, data, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert %q: %w", key, err)
	}
	return nil
}

func (b *SQLiteBackend) Quarantine(key string) error {
	tx, err := b.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(
		"INSERT INTO kv_quarantine (key, value, quarantined_at) SELECT key, value, ? FROM kv WHERE key = ?",
		time.Now().UnixMilli(), key,
	); err != nil {
		return fmt.Errorf("copy to quarantine: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return tx.Commit()
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
