package world

import (
	"math"
	"reflect"

	"github.com/pkg/errors"

	"github.com/zeusync/replication/internal/core/codec"
	"github.com/zeusync/replication/internal/core/command"
	"github.com/zeusync/replication/internal/core/models"
	"github.com/zeusync/replication/internal/core/observability/log"
	"github.com/zeusync/replication/internal/core/schema/registry"
)

// canEmit guards every logged mutation. Checks run before any state changes
// so a rejected call leaves the world untouched.
func (w *World) canEmit() error {
	if w.phase == phaseLate {
		return ErrLateMutation
	}
	if w.emitted >= w.budget {
		return errors.Wrapf(ErrTickBudget, "tick %d", w.tick)
	}
	return nil
}

func (w *World) emit(cmd command.Command) {
	w.emitted++
	w.log.Append(command.Entry{Tick: w.tick, Time: w.time, Command: cmd})
}

// Spawn allocates an entity. Ids are handed out in increasing order starting
// after the last one allocated, wrapping around and skipping live ids.
func (w *World) Spawn() (models.EntityID, error) {
	if err := w.canEmit(); err != nil {
		return models.NoEntity, err
	}
	if len(w.entities) >= math.MaxUint16 {
		return models.NoEntity, ErrWorldFull
	}
	id := w.lastID
	for {
		id++
		if id == models.NoEntity {
			continue
		}
		if _, live := w.entities[id]; !live {
			break
		}
	}
	w.lastID = id
	w.entities[id] = &entity{id: id}
	w.emit(command.Spawn(id))
	return id, nil
}

// Destroy removes id together with its components. Only the Destroy command is
// logged; removal of the components is implied by it.
func (w *World) Destroy(id models.EntityID) error {
	if err := w.canEmit(); err != nil {
		return err
	}
	if _, ok := w.entities[id]; !ok {
		return errors.Wrapf(ErrEntityNotFound, "entity %d", id)
	}
	delete(w.entities, id)
	w.emit(command.Destroy(id))
	return nil
}

// AddComponent attaches c, a pointer to an instance of a registered type, to
// id.
func (w *World) AddComponent(id models.EntityID, c models.Component) error {
	if err := w.canEmit(); err != nil {
		return err
	}
	if v := reflect.ValueOf(c); v.Kind() != reflect.Pointer || v.IsNil() {
		return errors.Wrapf(ErrInvalidComponent, "%T", c)
	}
	t, ok := w.registry.Lookup(c)
	if !ok {
		return errors.Wrapf(ErrNotRegistered, "%T", c)
	}
	if err := w.attach(id, t, c); err != nil {
		return err
	}
	w.emit(command.Add(id, t.Hash))
	return nil
}

// Add creates a zero T, attaches it to id and returns it.
func Add[T any](w *World, id models.EntityID) (*T, error) {
	c := new(T)
	if err := w.AddComponent(id, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (w *World) attach(id models.EntityID, t *registry.Type, c models.Component) error {
	e, ok := w.entities[id]
	if !ok {
		return errors.Wrapf(ErrEntityNotFound, "entity %d", id)
	}
	if e.index(t.Hash) >= 0 {
		return errors.Wrapf(ErrDuplicateComponent, "%s on entity %d", t.Name, id)
	}
	e.components = append(e.components, c)
	e.types = append(e.types, t)
	return nil
}

// RemoveComponent detaches the component of type h from id.
func (w *World) RemoveComponent(id models.EntityID, h models.TypeHash) error {
	if err := w.canEmit(); err != nil {
		return err
	}
	if err := w.detach(id, h); err != nil {
		return err
	}
	w.emit(command.Remove(id, h))
	return nil
}

// Remove detaches id's component of type T.
func Remove[T any](w *World, id models.EntityID) error {
	t, err := registry.TypeOf[T](w.registry)
	if err != nil {
		return errors.Wrap(ErrNotRegistered, err.Error())
	}
	return w.RemoveComponent(id, t.Hash)
}

func (w *World) detach(id models.EntityID, h models.TypeHash) error {
	e, ok := w.entities[id]
	if !ok {
		return errors.Wrapf(ErrEntityNotFound, "entity %d", id)
	}
	i := e.index(h)
	if i < 0 {
		return errors.Wrapf(ErrComponentNotFound, "type %#x on entity %d", uint64(h), id)
	}
	e.components = append(e.components[:i], e.components[i+1:]...)
	e.types = append(e.types[:i], e.types[i+1:]...)
	return nil
}

// CallClientRPC records a call to be executed on every replica.
func (w *World) CallClientRPC(id models.EntityID, typ models.TypeHash, method models.MethodHash, args ...any) error {
	return w.call(command.KindClientRpc, id, typ, method, args)
}

// CallServerRPC records a call to be executed by the authority.
func (w *World) CallServerRPC(id models.EntityID, typ models.TypeHash, method models.MethodHash, args ...any) error {
	return w.call(command.KindServerRpc, id, typ, method, args)
}

// ClientRPC is CallClientRPC addressed by component type and method name.
func ClientRPC[T any](w *World, id models.EntityID, method string, args ...any) error {
	t, err := registry.TypeOf[T](w.registry)
	if err != nil {
		return errors.Wrap(ErrNotRegistered, err.Error())
	}
	return w.call(command.KindClientRpc, id, t.Hash, registry.HashMethod(t.Name, method), args)
}

// ServerRPC is CallServerRPC addressed by component type and method name.
func ServerRPC[T any](w *World, id models.EntityID, method string, args ...any) error {
	t, err := registry.TypeOf[T](w.registry)
	if err != nil {
		return errors.Wrap(ErrNotRegistered, err.Error())
	}
	return w.call(command.KindServerRpc, id, t.Hash, registry.HashMethod(t.Name, method), args)
}

func (w *World) call(kind command.Kind, id models.EntityID, typ models.TypeHash, method models.MethodHash, args []any) error {
	if err := w.canEmit(); err != nil {
		return err
	}
	_, m, err := w.registry.Method(typ, method)
	if err != nil {
		return err
	}
	if _, ok := w.GetComponent(id, typ); !ok {
		if !w.Exists(id) {
			return errors.Wrapf(ErrEntityNotFound, "entity %d", id)
		}
		return errors.Wrapf(ErrComponentNotFound, "type %#x on entity %d", uint64(typ), id)
	}
	if err := codec.CheckArgs(m.Params, args); err != nil {
		return errors.Wrapf(err, "%s", m.Name)
	}
	w.emit(command.RPC(kind, id, typ, method, args...))
	return nil
}

// Apply replays a command received from another peer. Nothing is logged and
// the tick budget does not apply. RPCs run their handler only when the
// command kind targets this world's role; the others are ignored.
func (w *World) Apply(cmd command.Command) error {
	switch cmd.Kind {
	case command.KindSpawnObject:
		if cmd.Entity == models.NoEntity {
			return errors.Wrap(ErrInvalidCommand, "spawn of entity 0")
		}
		if w.Exists(cmd.Entity) {
			return errors.Wrapf(ErrEntityExists, "entity %d", cmd.Entity)
		}
		w.entities[cmd.Entity] = &entity{id: cmd.Entity}
		w.lastID = cmd.Entity
	case command.KindDestroyObject:
		if !w.Exists(cmd.Entity) {
			return errors.Wrapf(ErrEntityNotFound, "entity %d", cmd.Entity)
		}
		delete(w.entities, cmd.Entity)
	case command.KindAddComponent:
		t, ok := w.registry.ByHash(cmd.Type)
		if !ok {
			return errors.Wrapf(ErrNotRegistered, "type %#x", uint64(cmd.Type))
		}
		return w.attach(cmd.Entity, t, t.New())
	case command.KindRemoveComponent:
		return w.detach(cmd.Entity, cmd.Type)
	case command.KindServerRpc, command.KindClientRpc:
		if (cmd.Kind == command.KindServerRpc) != (w.role == Authority) {
			return nil
		}
		return w.dispatch(cmd)
	default:
		return errors.Wrapf(ErrInvalidCommand, "kind %d", cmd.Kind)
	}
	return nil
}

func (w *World) dispatch(cmd command.Command) error {
	_, m, err := w.registry.Method(cmd.Type, cmd.Method)
	if err != nil {
		return err
	}
	target, ok := w.GetComponent(cmd.Entity, cmd.Type)
	if !ok {
		return errors.Wrapf(ErrComponentNotFound, "type %#x on entity %d", uint64(cmd.Type), cmd.Entity)
	}
	if err := codec.CheckArgs(m.Params, cmd.Args); err != nil {
		return errors.Wrapf(err, "%s", m.Name)
	}
	if m.Handler == nil {
		w.logger.Debug("Rpc without handler", log.String("method", m.Name), log.Uint16("entity", uint16(cmd.Entity)))
		return nil
	}
	return m.Handler(target, cmd.Args)
}

// ApplySnapshot applies every command of snap in order and stops at the first
// failure.
func (w *World) ApplySnapshot(snap *command.Snapshot) error {
	for i, cmd := range snap.Commands {
		if err := w.Apply(cmd); err != nil {
			return errors.Wrapf(err, "tick %d command %d (%s)", snap.Tick, i, cmd)
		}
	}
	return nil
}

// Reset drops every entity without logging. Replicas use it before applying
// a fresh bootstrap.
func (w *World) Reset() {
	clear(w.entities)
	w.lastID = models.NoEntity
}
