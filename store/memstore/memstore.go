// Package memstore is an in-memory store.Client with change streams.
//
// It backs local runs and tests. Besides the store.Client contract it can
// simulate writes from other processes (Update, Delete, Drop), disconnect
// open streams, truncate change history and inject latency or failures,
// and it counts Find calls so tests can assert on fetch behaviour.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dailyyoga/mongoconfigs/store"
)

// DefaultHistorySize is the number of change events retained per collection
const DefaultHistorySize = 1024

type record struct {
	seq   uint64
	event store.ChangeEvent
}

type collection struct {
	docs    map[string]store.Document
	history []record
	// truncated is the highest sequence number dropped from history
	truncated uint64
}

// Store is an in-memory document store
type Store struct {
	mu          sync.Mutex
	collections map[string]*collection
	seq         uint64
	signal      chan struct{}
	streams     map[*stream]struct{}
	historySize int
	closed      bool

	findDelay  time.Duration
	findErr    error
	watchErrs  []error
	findCalls  map[string]int
	inFlight   atomic.Int64
	maxFlight  atomic.Int64
	totalFinds atomic.Int64
}

var _ store.Client = (*Store)(nil)

// New creates an empty store retaining historySize change events per collection.
// historySize <= 0 uses DefaultHistorySize.
func New(historySize int) *Store {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Store{
		collections: make(map[string]*collection),
		signal:      make(chan struct{}),
		streams:     make(map[*stream]struct{}),
		historySize: historySize,
		findCalls:   make(map[string]int),
	}
}

func (s *Store) coll(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = &collection{docs: make(map[string]store.Document)}
		s.collections[name] = c
	}
	return c
}

func docKey(id any) string {
	return fmt.Sprintf("%T:%v", id, id)
}

// Find implements store.Client
func (s *Store) Find(ctx context.Context, name string, filter store.Filter) (store.Document, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.maxFlight.Load()
		if n <= peak || s.maxFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	s.totalFinds.Add(1)

	s.mu.Lock()
	s.findCalls[name]++
	delay, injected, closed := s.findDelay, s.findErr, s.closed
	s.mu.Unlock()

	if closed {
		return nil, store.ErrClosed
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctxError("find", name, ctx.Err())
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, ctxError("find", name, err)
	}
	if injected != nil {
		return nil, injected
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	keys := make([]string, 0, len(c.docs))
	for k := range c.docs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if matches(c.docs[k], filter) {
			return c.docs[k].Clone(), nil
		}
	}
	return nil, store.ErrNotFound
}

// BulkUpsert implements store.Client
func (s *Store) BulkUpsert(ctx context.Context, name string, upserts []store.Upsert) (store.WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return store.WriteResult{}, ctxError("bulk upsert", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.WriteResult{}, store.ErrClosed
	}

	var res store.WriteResult
	c := s.coll(name)
	for _, up := range upserts {
		doc := up.Document.Clone()
		if doc == nil {
			doc = store.Document{}
		}
		var existingKey string
		for k, existing := range c.docs {
			if matches(existing, up.Filter) {
				existingKey = k
				break
			}
		}
		op := store.OpInsert
		if existingKey != "" {
			res.Matched++
			res.Modified++
			doc[store.IDField] = c.docs[existingKey].ID()
			delete(c.docs, existingKey)
			op = store.OpReplace
		} else {
			res.Upserted++
			if doc.ID() == nil {
				if id, ok := up.Filter[store.IDField]; ok {
					doc[store.IDField] = id
				} else {
					doc[store.IDField] = fmt.Sprintf("mem-%d", s.seq+1)
				}
			}
		}
		c.docs[docKey(doc.ID())] = doc
		s.record(name, store.ChangeEvent{
			Op:           op,
			DocumentID:   doc.ID(),
			FullDocument: doc.Clone(),
		})
	}
	return res, nil
}

// Update applies a partial update to one document, as another writer would.
// set is keyed by dotted path; unset lists dotted paths to remove.
func (s *Store) Update(ctx context.Context, name string, id any, set store.Document, unset ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(name)
	doc, ok := c.docs[docKey(id)]
	if !ok {
		return store.ErrNotFound
	}
	for path, v := range set {
		setPath(doc, store.SplitPath(path), store.CloneValue(v))
	}
	for _, path := range unset {
		unsetPath(doc, store.SplitPath(path))
	}
	s.record(name, store.ChangeEvent{
		Op:           store.OpUpdate,
		DocumentID:   id,
		Updated:      set.Clone(),
		Removed:      slices.Clone(unset),
		FullDocument: doc.Clone(),
	})
	return nil
}

// Delete removes one document
func (s *Store) Delete(ctx context.Context, name string, id any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(name)
	if _, ok := c.docs[docKey(id)]; !ok {
		return store.ErrNotFound
	}
	delete(c.docs, docKey(id))
	s.record(name, store.ChangeEvent{Op: store.OpDelete, DocumentID: id})
	return nil
}

// Drop removes every document of a collection and emits an invalidate event
func (s *Store) Drop(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(name)
	c.docs = make(map[string]store.Document)
	s.record(name, store.ChangeEvent{Op: store.OpInvalidate})
}

// record appends an event to the collection history; callers hold s.mu
func (s *Store) record(name string, ev store.ChangeEvent) {
	s.seq++
	ev.Collection = name
	ev.Token = encodeToken(s.seq)
	c := s.coll(name)
	c.history = append(c.history, record{seq: s.seq, event: ev})
	if over := len(c.history) - s.historySize; over > 0 {
		c.truncated = c.history[over-1].seq
		c.history = slices.Delete(c.history, 0, over)
	}
	s.notify()
}

func (s *Store) notify() {
	close(s.signal)
	s.signal = make(chan struct{})
}

// Watch implements store.Client
func (s *Store) Watch(ctx context.Context, name string, opts store.WatchOptions) (store.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, ctxError("watch", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	if len(s.watchErrs) > 0 {
		err := s.watchErrs[0]
		s.watchErrs = s.watchErrs[1:]
		return nil, err
	}

	c := s.coll(name)
	pos := s.seq
	if opts.ResumeAfter != nil {
		seq, err := decodeToken(opts.ResumeAfter)
		if err != nil {
			return nil, fmt.Errorf("memstore: %w: %v", store.ErrCursorInvalid, err)
		}
		if seq < c.truncated {
			return nil, fmt.Errorf("memstore: resume token %d predates retained history: %w", seq, store.ErrCursorInvalid)
		}
		pos = seq
	}
	st := &stream{store: s, collection: name, pos: pos}
	s.streams[st] = struct{}{}
	return st, nil
}

// Close implements store.Client; open streams fail with store.ErrClosed
func (s *Store) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.notify()
	return nil
}

// SetFindDelay delays every Find by d
func (s *Store) SetFindDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findDelay = d
}

// SetFindError makes every Find fail with err until reset with nil
func (s *Store) SetFindError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findErr = err
}

// FailWatch makes the next len(errs) Watch calls fail with errs in order
func (s *Store) FailWatch(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchErrs = append(s.watchErrs, errs...)
}

// Disconnect fails every open stream with err, as a dropped connection would
func (s *Store) Disconnect(err error) {
	if err == nil {
		err = store.ErrUnavailable("watch", "", errors.New("connection reset"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for st := range s.streams {
		st.err = err
	}
	s.notify()
}

// TruncateHistory forgets every change event recorded so far for name
func (s *Store) TruncateHistory(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(name)
	if n := len(c.history); n > 0 {
		c.truncated = c.history[n-1].seq
		c.history = nil
	}
	s.notify()
}

// FindCalls returns how many times Find was called for name
func (s *Store) FindCalls(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findCalls[name]
}

// TotalFindCalls returns the number of Find calls across all collections
func (s *Store) TotalFindCalls() int64 {
	return s.totalFinds.Load()
}

// MaxConcurrentFinds returns the highest number of Find calls observed in flight at once
func (s *Store) MaxConcurrentFinds() int64 {
	return s.maxFlight.Load()
}

// OpenStreams returns the number of streams that have not been closed
func (s *Store) OpenStreams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

func ctxError(op, name string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return store.ErrTimeout(op, name, 0, err)
	}
	return err
}

func encodeToken(seq uint64) store.ResumeToken {
	return store.ResumeToken(strconv.FormatUint(seq, 10))
}

func decodeToken(tok store.ResumeToken) (uint64, error) {
	return strconv.ParseUint(string(tok), 10, 64)
}
