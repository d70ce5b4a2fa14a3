// Package command holds the immutable facts produced by world mutations and
// the per-tick snapshots that batch them.
package command

import (
	"fmt"

	"github.com/zeusync/replication/internal/core/models"
)

// Kind is the command variant. Its numeric value is the block tag on the wire.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindSpawnObject
	KindDestroyObject
	KindAddComponent
	KindRemoveComponent
	KindServerRpc
	KindClientRpc
)

func (k Kind) String() string {
	switch k {
	case KindSpawnObject:
		return "spawn_object"
	case KindDestroyObject:
		return "destroy_object"
	case KindAddComponent:
		return "add_component"
	case KindRemoveComponent:
		return "remove_component"
	case KindServerRpc:
		return "server_rpc"
	case KindClientRpc:
		return "client_rpc"
	default:
		return "invalid"
	}
}

// Valid reports whether k is a known wire tag.
func (k Kind) Valid() bool {
	return k >= KindSpawnObject && k <= KindClientRpc
}

// IsObject reports whether k only carries an entity id.
func (k Kind) IsObject() bool {
	return k == KindSpawnObject || k == KindDestroyObject
}

// IsComponent reports whether k carries an entity id and a component type.
func (k Kind) IsComponent() bool {
	return k == KindAddComponent || k == KindRemoveComponent
}

// IsRPC reports whether k is a remote procedure call.
func (k Kind) IsRPC() bool {
	return k == KindServerRpc || k == KindClientRpc
}

// Command is one world mutation. Only the fields its Kind needs are set.
type Command struct {
	Kind   Kind
	Entity models.EntityID
	Type   models.TypeHash
	Method models.MethodHash
	Args   []any
}

func Spawn(id models.EntityID) Command {
	return Command{Kind: KindSpawnObject, Entity: id}
}

func Destroy(id models.EntityID) Command {
	return Command{Kind: KindDestroyObject, Entity: id}
}

func Add(id models.EntityID, typ models.TypeHash) Command {
	return Command{Kind: KindAddComponent, Entity: id, Type: typ}
}

func Remove(id models.EntityID, typ models.TypeHash) Command {
	return Command{Kind: KindRemoveComponent, Entity: id, Type: typ}
}

// RPC builds a ServerRpc or ClientRpc command. The args slice is copied.
func RPC(kind Kind, id models.EntityID, typ models.TypeHash, method models.MethodHash, args ...any) Command {
	cmd := Command{Kind: kind, Entity: id, Type: typ, Method: method}
	if len(args) > 0 {
		cmd.Args = append([]any(nil), args...)
	}
	return cmd
}

func (c Command) String() string {
	switch {
	case c.Kind.IsObject():
		return fmt.Sprintf("%s(%d)", c.Kind, c.Entity)
	case c.Kind.IsComponent():
		return fmt.Sprintf("%s(%d,%#x)", c.Kind, c.Entity, uint64(c.Type))
	case c.Kind.IsRPC():
		return fmt.Sprintf("%s(%d,%#x,%#x,%v)", c.Kind, c.Entity, uint64(c.Type), uint64(c.Method), c.Args)
	default:
		return "invalid"
	}
}
