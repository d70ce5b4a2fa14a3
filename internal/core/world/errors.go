package world

import "errors"

var (
	ErrWorldFull          = errors.New("world: no free entity id")
	ErrEntityNotFound     = errors.New("world: entity not found")
	ErrEntityExists       = errors.New("world: entity already exists")
	ErrNotRegistered      = errors.New("world: component type not registered")
	ErrInvalidComponent   = errors.New("world: component must be a non-nil pointer")
	ErrDuplicateComponent = errors.New("world: component already attached")
	ErrComponentNotFound  = errors.New("world: component not attached")
	ErrTickBudget         = errors.New("world: per-tick command budget exhausted")
	ErrLateMutation       = errors.New("world: mutation during late update")
	ErrInvalidCommand     = errors.New("world: invalid command")
)
