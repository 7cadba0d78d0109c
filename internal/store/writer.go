package store

import (
	"context"
	"log/slog"
	"sync"
)

// writer persists the snapshots of one key on its own goroutine. Snapshots
// queued while a save is running collapse into the newest one, so saves
// happen in submit order and an older snapshot never lands after a newer.
type writer struct {
	key      string
	backend  Backend
	logger   *slog.Logger
	recorder Recorder

	kick chan struct{}
	stop chan struct{}

	mu      sync.Mutex
	pending []byte
	queued  uint64 // sequence of the newest submitted snapshot
	done    uint64 // sequence of the newest attempted save
	waiters []flushWaiter
	stopped bool
	once    sync.Once
}

type flushWaiter struct {
	seq uint64
	ch  chan struct{}
}

func newWriter(key string, backend Backend, logger *slog.Logger, recorder Recorder) *writer {
	return &writer{
		key:      key,
		backend:  backend,
		logger:   logger.With("key", key),
		recorder: recorder,
		kick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

// submit queues data for saving. Snapshots submitted after close are
// dropped.
func (w *writer) submit(data []byte) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		w.logger.Debug("store closed, value kept in memory only")
		return
	}
	w.pending = data
	w.queued++
	w.mu.Unlock()

	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (w *writer) run() {
	for {
		select {
		case <-w.kick:
			w.drain()
		case <-w.stop:
			w.drain()
			return
		}
	}
}

func (w *writer) drain() {
	for {
		w.mu.Lock()
		if w.done == w.queued {
			w.mu.Unlock()
			return
		}
		data, seq := w.pending, w.queued
		w.pending = nil
		w.mu.Unlock()

		err := w.backend.Save(w.key, data)
		if err != nil {
			w.logger.Error("write failed", "error", &WriteError{Key: w.key, Err: err})
		} else {
			w.logger.Debug("value persisted", "bytes", len(data))
		}
		if w.recorder != nil {
			w.recorder.IncStoreWrite(w.key, err == nil)
		}

		w.mu.Lock()
		w.done = seq
		kept := w.waiters[:0]
		for _, fw := range w.waiters {
			if fw.seq <= seq {
				close(fw.ch)
			} else {
				kept = append(kept, fw)
			}
		}
		w.waiters = kept
		w.mu.Unlock()
	}
}

// flush blocks until every snapshot submitted before the call was saved or failed.
func (w *writer) flush(ctx context.Context) error {
	w.mu.Lock()
	if w.done == w.queued {
		w.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	w.waiters = append(w.waiters, flushWaiter{seq: w.queued, ch: ch})
	w.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *writer) close() {
	w.once.Do(func() {
		w.mu.Lock()
		w.stopped = true
		w.mu.Unlock()
		close(w.stop)
	})
}

// Flush waits for queued writes of every opened key.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	writers := make([]*writer, 0, len(s.writers))
	for _, w := range s.writers {
		writers = append(writers, w)
	}
	s.mu.Unlock()

	for _, w := range writers {
		if err := w.flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Flush waits until this value's queued writes have been attempted.
func (v *Value[T]) Flush(ctx context.Context) error {
	return v.writer.flush(ctx)
}
