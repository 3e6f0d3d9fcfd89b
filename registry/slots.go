package registry

import (
	"sync"

	"github.com/wippyai/lua-threads/errors"
)

// slots is the internally synchronized storage behind a Registry.
// Releasing a slot bumps its generation, so references issued before the
// release can be told apart from the slot's next occupant.
type slots struct {
	entries  []slot
	freeList []uint32
	live     int
	limit    int
	mu       sync.RWMutex
	closed   bool
}

type slot struct {
	value any
	gen   uint32
	kind  Kind
	valid bool
}

func newSlots(limit int) *slots {
	return &slots{
		entries:  make([]slot, 0, 64),
		freeList: make([]uint32, 0, 16),
		limit:    limit,
	}
}

func (s *slots) insert(kind Kind, value any) (Ref, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Ref{}, 0, errors.Closed(errors.PhaseRegistry, "registry")
	}
	if s.limit > 0 && s.live >= s.limit {
		return Ref{}, 0, errors.Limit(errors.PhaseRegistry, "reference", s.limit)
	}

	s.live++

	if len(s.freeList) > 0 {
		index := s.freeList[len(s.freeList)-1]
		s.freeList = s.freeList[:len(s.freeList)-1]
		e := &s.entries[index-1]
		e.value = value
		e.kind = kind
		e.valid = true
		return Ref{index: index, gen: e.gen}, s.live, nil
	}

	s.entries = append(s.entries, slot{value: value, kind: kind, gen: 1, valid: true})
	return Ref{index: uint32(len(s.entries)), gen: 1}, s.live, nil
}

// lookup returns the live slot for ref. Callers hold s.mu.
func (s *slots) lookup(ref Ref) (*slot, error) {
	if ref.IsZero() || int(ref.index) > len(s.entries) {
		return nil, errors.StaleReference(ref)
	}
	e := &s.entries[ref.index-1]
	if !e.valid || e.gen != ref.gen {
		return nil, errors.StaleReference(ref)
	}
	return e, nil
}

func (s *slots) get(ref Ref) (any, Kind, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, 0, errors.Closed(errors.PhaseRegistry, "registry")
	}
	e, err := s.lookup(ref)
	if err != nil {
		return nil, 0, err
	}
	return e.value, e.kind, nil
}

func (s *slots) release(ref Ref) (any, Kind, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, 0, 0, errors.Closed(errors.PhaseRegistry, "registry")
	}
	if !ref.IsZero() && int(ref.index) <= len(s.entries) {
		// Generations only move on release, so an older generation means
		// this reference was already released once.
		if ref.gen < s.entries[ref.index-1].gen {
			return nil, 0, 0, errors.DoubleRelease(ref)
		}
	}
	e, err := s.lookup(ref)
	if err != nil {
		return nil, 0, 0, err
	}

	value, kind := e.value, e.kind
	e.value = nil
	e.valid = false
	e.gen++
	s.live--
	s.freeList = append(s.freeList, ref.index)

	return value, kind, s.live, nil
}

func (s *slots) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live
}

func (s *slots) each(fn func(Ref, Kind, any) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i, e := range s.entries {
		if e.valid {
			if !fn(Ref{index: uint32(i + 1), gen: e.gen}, e.kind, e.value) {
				break
			}
		}
	}
}

// close marks the storage closed and returns the values still live.
func (s *slots) close() []any {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var leaked []any
	for i := range s.entries {
		if s.entries[i].valid {
			leaked = append(leaked, s.entries[i].value)
			s.entries[i].valid = false
			s.entries[i].value = nil
			s.entries[i].gen++
		}
	}
	s.freeList = nil
	s.live = 0
	return leaked
}
