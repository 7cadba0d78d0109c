// Package store keeps typed, observable settings values backed by durable
// storage.
//
// Each key is opened once per Store and lives until the Store is closed.
// Reads return value snapshots. Updates are applied copy-on-write in memory,
// fanned out to subscribers in update order, and persisted asynchronously by
// one writer goroutine per key. The value loaded at open time is never
// written back.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	yamlv3 "gopkg.in/yaml.v3"
)

// ErrNotFound is returned by a Backend when no bytes are stored for a key.
var ErrNotFound = errors.New("store: key not found")

// Backend is the durable byte storage behind a Store.
type Backend interface {
	Load(key string) ([]byte, error)
	Save(key string, data []byte) error
}

// Quarantiner is implemented by backends that can set aside bytes that
// failed to decode.
type Quarantiner interface {
	Quarantine(key string) error
}

// Recorder receives write outcomes. A nil Recorder is allowed.
type Recorder interface {
	IncStoreWrite(key string, ok bool)
}

type Store struct {
	backend  Backend
	logger   *slog.Logger
	recorder Recorder

	mu      sync.Mutex
	values  map[string]any
	writers map[string]*writer
	closed  bool
	wg      sync.WaitGroup
}

type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(s *Store) { s.recorder = r }
}

func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		logger:  slog.Default(),
		values:  make(map[string]any),
		writers: make(map[string]*writer),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "store")
	return s
}

type valueConfig[T any] struct {
	migrate func(T) (T, bool)
}

type ValueOption[T any] func(*valueConfig[T])

// WithMigration runs fn on the loaded value. When fn reports a change the
// new value is applied as a regular update and therefore persisted.
func WithMigration[T any](fn func(T) (T, bool)) ValueOption[T] {
	return func(c *valueConfig[T]) { c.migrate = fn }
}

// Open returns the live value for key, loading it on first use. Stored
// bytes that are absent or fail to decode yield defaults().
//
// Opening the same key twice returns the same *Value. Opening it with a
// different type panics.
func Open[T any](s *Store, key string, defaults func() T, opts ...ValueOption[T]) *Value[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.values[key]; ok {
		v, ok := existing.(*Value[T])
		if !ok {
			panic(fmt.Sprintf("store: key %q already opened as %T", key, existing))
		}
		return v
	}

	var cfg valueConfig[T]
	for _, opt := range opts {
		opt(&cfg)
	}

	w := s.writerLocked(key)
	v := &Value[T]{
		key:    key,
		writer: w,
		logger: s.logger.With("key", key),
		cur:    load(s, key, defaults),
		subs:   make(map[int]func(T)),
	}
	if cfg.migrate != nil {
		if next, changed := cfg.migrate(v.cur); changed {
			v.logger.Info("migrated stored value")
			v.Update(func(T) T { return next })
		}
	}
	s.values[key] = v
	return v
}

func load[T any](s *Store, key string, defaults func() T) T {
	data, err := s.backend.Load(key)
	if errors.Is(err, ErrNotFound) {
		return defaults()
	}
	if err != nil {
		s.logger.Warn("load failed, using defaults", "key", key, "error", err)
		return defaults()
	}

	// Decode over the defaults so fields absent from older records keep them.
	v := defaults()
	if err := yamlv3.Unmarshal(data, &v); err != nil {
		derr := &DecodeError{Key: key, Err: err}
		s.logger.Warn("stored value unreadable, using defaults", "key", key, "error", derr)
		if q, ok := s.backend.(Quarantiner); ok {
			if qerr := q.Quarantine(key); qerr != nil {
				s.logger.Warn("quarantine failed", "key", key, "error", qerr)
			}
		}
		return defaults()
	}
	return v
}

func (s *Store) writerLocked(key string) *writer {
	if w, ok := s.writers[key]; ok {
		return w
	}
	w := newWriter(key, s.backend, s.logger, s.recorder)
	s.writers[key] = w
	if s.closed {
		w.close()
		return w
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		w.run()
	}()
	return w
}

// Close drains queued writes and stops the writer goroutines. Updates made
// after Close stay in memory only.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, w := range s.writers {
		w.close()
	}
	s.mu.Unlock()

	s.wg.Wait()

	if c, ok := s.backend.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// Value is the live, observable container for one key.
type Value[T any] struct {
	key    string
	writer *writer
	logger *slog.Logger

	// updateMu orders whole updates, including subscriber fan-out.
	updateMu sync.Mutex

	mu      sync.Mutex
	cur     T
	version uint64
	subs    map[int]func(T)
	nextSub int
}

func (v *Value[T]) Key() string { return v.key }

// Get returns a snapshot of the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cur
}

// Version counts applied updates since open.
func (v *Value[T]) Version() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.version
}

// Update replaces the value with fn(current) and schedules a durable write.
// fn must return a new value rather than mutate shared state reachable from
// current. An update that yields an equal value is dropped.
//
// Subscribers run on the updating goroutine, in update order, and must not
// call Update on the same value.
func (v *Value[T]) Update(fn func(T) T) T {
	v.updateMu.Lock()
	defer v.updateMu.Unlock()

	// updateMu keeps cur stable while fn runs, so fn may call Get.
	next := fn(v.Get())

	v.mu.Lock()
	if reflect.DeepEqual(next, v.cur) {
		v.mu.Unlock()
		return next
	}
	v.cur = next
	v.version++
	subs := make([]func(T), 0, len(v.subs))
	for id := 0; id < v.nextSub; id++ {
		if fn, ok := v.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	v.mu.Unlock()

	data, err := yamlv3.Marshal(next)
	if err != nil {
		v.logger.Error("encode failed, value not persisted", "error", err)
	} else {
		v.writer.submit(data)
	}

	for _, fn := range subs {
		fn(next)
	}
	return next
}

// Set is Update with a constant.
func (v *Value[T]) Set(next T) {
	v.Update(func(T) T { return next })
}

// Subscribe registers fn for every applied update. It is not called with
// the current value; read it with Get.
func (v *Value[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	v.mu.Lock()
	id := v.nextSub
	v.nextSub++
	v.subs[id] = fn
	v.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.subs, id)
			v.mu.Unlock()
		})
	}
}
