package memstore

import (
	"context"
	"reflect"

	"github.com/dailyyoga/mongoconfigs/store"
)

type stream struct {
	store      *Store
	collection string
	pos        uint64
	err        error
	closed     bool
}

func (st *stream) Next(ctx context.Context) (store.ChangeEvent, error) {
	s := st.store
	for {
		s.mu.Lock()
		switch {
		case st.closed || s.closed:
			s.mu.Unlock()
			return store.ChangeEvent{}, store.ErrClosed
		case st.err != nil:
			err := st.err
			s.mu.Unlock()
			return store.ChangeEvent{}, err
		}

		c := s.coll(st.collection)
		if st.pos < c.truncated {
			s.mu.Unlock()
			return store.ChangeEvent{}, store.ErrCursorInvalid
		}
		for _, rec := range c.history {
			if rec.seq > st.pos {
				st.pos = rec.seq
				ev := rec.event
				ev.Updated = ev.Updated.Clone()
				ev.FullDocument = ev.FullDocument.Clone()
				s.mu.Unlock()
				return ev, nil
			}
		}
		wait := s.signal
		s.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return store.ChangeEvent{}, ctx.Err()
		}
	}
}

func (st *stream) ResumeToken() store.ResumeToken {
	st.store.mu.Lock()
	defer st.store.mu.Unlock()
	return encodeToken(st.pos)
}

func (st *stream) Close(context.Context) error {
	s := st.store
	s.mu.Lock()
	defer s.mu.Unlock()
	st.closed = true
	delete(s.streams, st)
	return nil
}

// matches reports whether doc has every filter field, addressed by dotted path
func matches(doc store.Document, filter store.Filter) bool {
	for path, want := range filter {
		got, ok := lookupPath(doc, store.SplitPath(path))
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

func lookupPath(doc map[string]any, segs []string) (any, bool) {
	var cur any = doc
	for _, seg := range segs {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		if cur, ok = m[seg]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func setPath(doc map[string]any, segs []string, v any) {
	m := doc
	for _, seg := range segs[:len(segs)-1] {
		next, ok := asMap(m[seg])
		if !ok {
			next = make(map[string]any)
			m[seg] = next
		}
		m = next
	}
	m[segs[len(segs)-1]] = v
}

func unsetPath(doc map[string]any, segs []string) {
	m := doc
	for _, seg := range segs[:len(segs)-1] {
		next, ok := asMap(m[seg])
		if !ok {
			return
		}
		m = next
	}
	delete(m, segs[len(segs)-1])
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case store.Document:
		return m, true
	default:
		return nil, false
	}
}
