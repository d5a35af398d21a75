package cron

import (
	"context"
	"sync"
)

type contextKey string

const sharedDataKey contextKey = "cron:shared_data"

// SharedData passes values between the tasks of one chain run
type SharedData struct {
	data sync.Map
}

// GetSharedData returns the SharedData of the running chain, or nil outside a chain
func GetSharedData(ctx context.Context) *SharedData {
	if val, ok := ctx.Value(sharedDataKey).(*SharedData); ok {
		return val
	}
	return nil
}

// Set stores value under key
func (s *SharedData) Set(key string, value any) {
	s.data.Store(key, value)
}

// Get returns the value stored under key
func (s *SharedData) Get(key string) (any, bool) {
	return s.data.Load(key)
}

// Delete removes key
func (s *SharedData) Delete(key string) {
	s.data.Delete(key)
}

// Range calls f for every stored pair until f returns false
func (s *SharedData) Range(f func(key string, value any) bool) {
	s.data.Range(func(k, v any) bool {
		return f(k.(string), v)
	})
}

// Value returns the value stored under key in the chain's SharedData when it has type T
func Value[T any](ctx context.Context, key string) (T, bool) {
	var zero T
	shared := GetSharedData(ctx)
	if shared == nil {
		return zero, false
	}
	v, ok := shared.Get(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
