package index

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hupe1980/jsonindex/engine"
	"github.com/hupe1980/jsonindex/lease"
)

// ReaderManager hands out near-real-time read views of the writer.
//
// It caches the last opened reader together with the id of the writer it was
// derived from. A reader is never reused across writer instances.
type ReaderManager struct {
	writers *WriterManager
	detach  func()

	mu       sync.Mutex
	reader   *engine.Reader
	writerID uint64
}

// NewReaderManager creates a reader manager over writers. The cached reader
// is dropped whenever the writer is closed.
func NewReaderManager(writers *WriterManager) *ReaderManager {
	m := &ReaderManager{writers: writers}
	m.detach = writers.OnClosed(m.drop)
	return m
}

// Acquire leases the writer and returns a read view derived from it. The
// caller must Close the returned context.
func (m *ReaderManager) Acquire() (*ReaderContext, error) {
	l, err := m.writers.Lease()
	if err != nil {
		return nil, err
	}
	w, err := l.Value()
	if err != nil {
		_ = l.Close()
		return nil, err
	}

	r, err := m.current(w)
	if err != nil {
		_ = l.Close()
		return nil, err
	}
	return &ReaderContext{lease: l, reader: r}, nil
}

// current returns the cached reader for w with an extra reference held for
// the caller, opening or refreshing it as needed.
func (m *ReaderManager) current(w *engine.Writer) (*engine.Reader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.reader == nil || m.writerID != w.ID():
		r, err := engine.OpenReader(w)
		if err != nil {
			return nil, fmt.Errorf("index: open reader: %w", err)
		}
		m.replaceLocked(r)
		m.writerID = w.ID()
	default:
		r, err := engine.OpenIfChanged(m.reader, w)
		if err != nil {
			return nil, fmt.Errorf("index: refresh reader: %w", err)
		}
		if r != nil {
			m.replaceLocked(r)
		}
	}

	if err := m.reader.IncRef(); err != nil {
		return nil, err
	}
	return m.reader, nil
}

func (m *ReaderManager) replaceLocked(r *engine.Reader) {
	if m.reader != nil {
		_ = m.reader.DecRef()
	}
	m.reader = r
}

func (m *ReaderManager) drop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.reader != nil {
		_ = m.reader.DecRef()
	}
	m.reader = nil
	m.writerID = 0
}

// Close drops the cached reader and stops following writer closes.
// Outstanding contexts keep their own reference until closed.
func (m *ReaderManager) Close() error {
	m.detach()
	m.drop()
	return nil
}

// ReaderContext is a read view scoped to the writer lease it was derived
// from. Once the lease expires or is recalled every method fails with the
// lease error.
type ReaderContext struct {
	lease  *lease.Lease[*engine.Writer]
	reader *engine.Reader
	once   sync.Once
}

func (c *ReaderContext) check() error {
	_, err := c.lease.Value()
	return err
}

// Reader returns the underlying reader while the lease is active.
func (c *ReaderContext) Reader() (*engine.Reader, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.reader, nil
}

// Search runs q against the view.
func (c *ReaderContext) Search(q engine.Query, limit int) ([]engine.Hit, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.reader.Search(q, limit)
}

// Count returns the number of live documents matching q.
func (c *ReaderContext) Count(q engine.Query) (int, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	return c.reader.Count(q)
}

// Document returns the stored source of key.
func (c *ReaderContext) Document(key string) (json.RawMessage, bool, error) {
	if err := c.check(); err != nil {
		return nil, false, err
	}
	return c.reader.Document(key)
}

// NumDocs returns the number of live documents in the view.
func (c *ReaderContext) NumDocs() (int, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	return c.reader.NumDocs(), nil
}

// Close releases the reader reference and returns the writer lease.
func (c *ReaderContext) Close() error {
	var err error
	c.once.Do(func() {
		err = c.reader.DecRef()
		_ = c.lease.Close()
	})
	return err
}
