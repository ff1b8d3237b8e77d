package server

import (
	"fmt"
	"sync/atomic"

	"github.com/chazu/ember/vm"
)

// MaxHandles bounds the values one session keeps alive. Creating a handle
// beyond it releases the oldest.
const MaxHandles = 256

// HandleStore maps opaque string IDs to values of one environment. The
// values live in the environment's refs slice, so the collector keeps
// them alive and updates them when they move. Every method must run on
// the worker goroutine.
type HandleStore struct {
	env   *vm.Env
	refs  []vm.Value
	ids   map[string]int
	order []string // creation order, oldest first
	free  []int

	nextID *atomic.Uint64
}

// NewHandleStore creates a handle store rooted in env. IDs are drawn from
// counter so they stay unique across the stores of a server.
func NewHandleStore(env *vm.Env, counter *atomic.Uint64) *HandleStore {
	s := &HandleStore{
		env:    env,
		ids:    make(map[string]int),
		nextID: counter,
	}
	env.SetRefs(s.refs)
	return s
}

// Create pins a value and returns an opaque handle ID.
func (s *HandleStore) Create(value vm.Value) string {
	if len(s.ids) >= MaxHandles {
		s.Release(s.order[0])
	}
	id := fmt.Sprintf("h-%d", s.nextID.Add(1))

	var slot int
	if n := len(s.free); n > 0 {
		slot = s.free[n-1]
		s.free = s.free[:n-1]
		s.refs[slot] = value
	} else {
		slot = len(s.refs)
		s.refs = append(s.refs, value)
		// append may have moved the slice: register it again.
		s.env.SetRefs(s.refs)
	}
	s.ids[id] = slot
	s.order = append(s.order, id)
	return id
}

// Lookup retrieves the current value for a handle. Returns Undefined and
// false if the handle doesn't exist.
func (s *HandleStore) Lookup(id string) (vm.Value, bool) {
	slot, ok := s.ids[id]
	if !ok {
		return vm.Undefined, false
	}
	return s.refs[slot], true
}

// Release removes a handle and unpins its value.
func (s *HandleStore) Release(id string) {
	slot, ok := s.ids[id]
	if !ok {
		return
	}
	delete(s.ids, id)
	s.refs[slot] = vm.Undefined
	s.free = append(s.free, slot)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of live handles.
func (s *HandleStore) Len() int { return len(s.ids) }
