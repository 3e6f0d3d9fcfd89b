package boundary

import "fmt"

// Owner identifies one execution context for the lock. Go has no goroutine
// identity, so every goroutine that drives the interpreter carries its own
// Owner and passes it on every acquire and release. Two Owners are the same
// holder only if they are the same pointer.
type Owner struct {
	name string
	id   uint64
}

// NewOwner creates an owner token. The id and name are labels only.
func NewOwner(id uint64, name string) *Owner {
	return &Owner{id: id, name: name}
}

// ID returns the owner's numeric label.
func (o *Owner) ID() uint64 {
	return o.id
}

// Name returns the owner's name.
func (o *Owner) Name() string {
	return o.name
}

func (o *Owner) String() string {
	if o == nil {
		return "<none>"
	}
	return fmt.Sprintf("%s#%d", o.name, o.id)
}
