package registry

import (
	"sync"

	"github.com/wippyai/lua-threads/errors"
)

// Registry stores values under stable references that can cross goroutine
// boundaries. It is synchronized by its own mutex and never needs the
// boundary lock.
type Registry struct {
	slots     *slots
	observers []Observer
	obsMu     sync.RWMutex
}

// New creates a registry. A positive limit caps the number of live references.
func New(limit int) *Registry {
	return &Registry{
		slots: newSlots(limit),
	}
}

// Insert registers value and returns its reference.
func (r *Registry) Insert(kind Kind, value any) (Ref, error) {
	ref, live, err := r.slots.insert(kind, value)
	if err != nil {
		return Ref{}, err
	}

	r.notify(Event{
		Type:  EventInserted,
		Ref:   ref,
		Kind:  kind,
		Value: value,
		Live:  live,
	})

	return ref, nil
}

// Get retrieves the value behind ref.
func (r *Registry) Get(ref Ref) (any, error) {
	value, _, err := r.slots.get(ref)
	return value, err
}

// GetTyped retrieves the value behind ref only if it was registered with kind.
func (r *Registry) GetTyped(ref Ref, kind Kind) (any, error) {
	value, actual, err := r.slots.get(ref)
	if err != nil {
		return nil, err
	}
	if actual != kind {
		return nil, errors.TypeMismatch(errors.PhaseRegistry, kind.String(), actual.String())
	}
	return value, nil
}

// Release invalidates ref. Releasing twice fails with errors.ErrDoubleRelease.
func (r *Registry) Release(ref Ref) error {
	_, err := r.Take(ref)
	return err
}

// Take returns the value behind ref and releases it in one step.
func (r *Registry) Take(ref Ref) (any, error) {
	value, kind, live, err := r.slots.release(ref)
	if err != nil {
		return nil, err
	}

	r.notify(Event{
		Type:  EventReleased,
		Ref:   ref,
		Kind:  kind,
		Value: value,
		Live:  live,
	})

	return value, nil
}

// Subscribe adds an observer for lifecycle events.
func (r *Registry) Subscribe(o Observer) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	r.observers = append(r.observers, o)
}

// Unsubscribe removes an observer.
func (r *Registry) Unsubscribe(o Observer) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	for i, obs := range r.observers {
		if obs == o {
			r.observers = append(r.observers[:i], r.observers[i+1:]...)
			return
		}
	}
}

// Len returns the number of live references.
func (r *Registry) Len() int {
	return r.slots.len()
}

// Each iterates over all live references. fn must not call back into the registry.
func (r *Registry) Each(fn func(Ref, Kind, any) bool) {
	r.slots.each(fn)
}

// Close invalidates every live reference and stops accepting operations.
// Values implementing Dropper are dropped. It returns the number of
// references that were still live.
func (r *Registry) Close() int {
	leaked := r.slots.close()
	for _, v := range leaked {
		if d, ok := v.(Dropper); ok {
			d.Drop()
		}
	}
	return len(leaked)
}

func (r *Registry) notify(e Event) {
	r.obsMu.RLock()
	defer r.obsMu.RUnlock()
	for _, o := range r.observers {
		o.OnRegistryEvent(e)
	}
}
