package registry

import "fmt"

// Ref is an opaque, generation-checked reference to a registered value.
// The zero Ref is reserved and always invalid.
type Ref struct {
	index uint32
	gen   uint32
}

// IsZero reports whether r is the reserved zero reference.
func (r Ref) IsZero() bool {
	return r.index == 0
}

func (r Ref) String() string {
	return fmt.Sprintf("ref(%d#%d)", r.index, r.gen)
}

// Kind tags what a registered value is used for.
type Kind uint8

const (
	KindValue Kind = iota
	KindFunction
	KindOutcome
	KindPayload
)

func (k Kind) String() string {
	switch k {
	case KindValue:
		return "value"
	case KindFunction:
		return "function"
	case KindOutcome:
		return "outcome"
	case KindPayload:
		return "payload"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Event types for reference lifecycle notifications.
type EventType uint8

const (
	EventInserted EventType = iota
	EventReleased
)

// Event represents a reference lifecycle event.
type Event struct {
	Value any
	Ref   Ref
	Kind  Kind
	Type  EventType
	Live  int
}

// Observer receives notifications about reference lifecycle events.
// Observers are called without the registry mutex held.
type Observer interface {
	OnRegistryEvent(Event)
}

// Dropper is optionally implemented by values that need cleanup when the
// registry is closed with the value still live.
type Dropper interface {
	Drop()
}
