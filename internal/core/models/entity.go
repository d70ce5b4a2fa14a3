package models

import "strconv"

// EntityID identifies a live entity inside one world. Zero is never allocated.
type EntityID uint16

// NoEntity is the zero EntityID.
const NoEntity EntityID = 0

func (id EntityID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// TypeHash names a component type on the wire. It is derived once per type
// from a stable name, so peers that register the same types agree on it.
type TypeHash uint64

// MethodHash names an RPC method of a component type.
type MethodHash uint64

// Component is a pointer to an instance of a registered component type.
type Component any

// ComponentRef is the wire form of a reference to a component: the owning
// entity plus the component's type hash.
type ComponentRef struct {
	Entity EntityID
	Type   TypeHash
}
