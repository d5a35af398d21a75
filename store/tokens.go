package store

import (
	"bytes"
	"sync"
)

// AppliedTokens remembers the token of the last event applied per collection.
// The zero value is ready to use.
type AppliedTokens struct {
	mu   sync.Mutex
	last map[string]ResumeToken
}

// Redelivered reports whether ev carries the same token as the last event seen
// for its collection, and records ev's token otherwise. Events without a token
// are never reported.
func (a *AppliedTokens) Redelivered(ev ChangeEvent) bool {
	if len(ev.Token) == 0 {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if bytes.Equal(a.last[ev.Collection], ev.Token) {
		return true
	}
	if a.last == nil {
		a.last = make(map[string]ResumeToken)
	}
	a.last[ev.Collection] = append(ResumeToken(nil), ev.Token...)
	return false
}

// Forget drops the recorded token of collection
func (a *AppliedTokens) Forget(collection string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.last, collection)
}
