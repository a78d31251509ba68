package core

import (
	"slices"
	"sync"
	"sync/atomic"
)

// router maps output names to streams. Render threads read a snapshot without
// locking; attach and close swap in a new map.
type router struct {
	mu      sync.Mutex
	current atomic.Pointer[map[string][]*Stream]
}

func newRouter() *router {
	r := &router{}
	empty := map[string][]*Stream{}
	r.current.Store(&empty)
	return r
}

func (r *router) streams(output string) []*Stream {
	return (*r.current.Load())[output]
}

func (r *router) len() int {
	n := 0
	for _, list := range *r.current.Load() {
		n += len(list)
	}
	return n
}

func (r *router) update(fn func(next map[string][]*Stream)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := *r.current.Load()
	next := make(map[string][]*Stream, len(prev))
	for k, v := range prev {
		next[k] = v
	}
	fn(next)
	r.current.Store(&next)
}

func (r *router) add(s *Stream) {
	r.update(func(next map[string][]*Stream) {
		list := next[s.output.Name]
		next[s.output.Name] = append(list[:len(list):len(list)], s)
	})
}

func (r *router) remove(s *Stream) {
	r.update(func(next map[string][]*Stream) {
		list := next[s.output.Name]
		i := slices.Index(list, s)
		if i < 0 {
			return
		}
		trimmed := slices.Delete(slices.Clone(list), i, i+1)
		if len(trimmed) == 0 {
			delete(next, s.output.Name)
		} else {
			next[s.output.Name] = trimmed
		}
	})
}
