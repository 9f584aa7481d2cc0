package scheduler

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Registry maps qualified names to workers.
//
// It is safe for concurrent use. Range visits every key at most once, even
// while other goroutines add or remove workers, and never copies the map.
type Registry struct {
	m sync.Map // string -> *Worker
	n atomic.Int64
}

func NewRegistry() *Registry { return &Registry{} }

// Add inserts or replaces the worker stored under name. Nil workers are ignored.
func (r *Registry) Add(name string, w *Worker) {
	if w == nil {
		return
	}
	if _, loaded := r.m.Swap(name, w); !loaded {
		r.n.Add(1)
	}
}

// Remove deletes name and returns the worker it held.
func (r *Registry) Remove(name string) (*Worker, bool) {
	v, ok := r.m.LoadAndDelete(name)
	if !ok {
		return nil, false
	}
	r.n.Add(-1)
	return v.(*Worker), true
}

// CompareAndRemove deletes name only if it still maps to w.
func (r *Registry) CompareAndRemove(name string, w *Worker) bool {
	if w == nil {
		return false
	}
	if r.m.CompareAndDelete(name, w) {
		r.n.Add(-1)
		return true
	}
	return false
}

func (r *Registry) Get(name string) (*Worker, bool) {
	v, ok := r.m.Load(name)
	if !ok {
		return nil, false
	}
	return v.(*Worker), true
}

func (r *Registry) Len() int { return int(r.n.Load()) }

// Range calls fn for each worker until fn returns false.
func (r *Registry) Range(fn func(name string, w *Worker) bool) {
	r.m.Range(func(k, v any) bool {
		return fn(k.(string), v.(*Worker))
	})
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, r.Len())
	r.Range(func(name string, _ *Worker) bool {
		out = append(out, name)
		return true
	})
	sort.Strings(out)
	return out
}
