// Package registry maps component types to the stable hashes used on the wire
// and keeps the parameter descriptors of their RPC methods.
package registry

import (
	"errors"
	"reflect"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	pkgerrors "github.com/pkg/errors"

	"github.com/zeusync/replication/internal/core/codec"
	"github.com/zeusync/replication/internal/core/models"
)

var (
	ErrAlreadyRegistered = errors.New("registry: type already registered")
	ErrHashCollision     = errors.New("registry: type hash collision")
	ErrNotRegistered     = errors.New("registry: type not registered")
	ErrInvalidType       = errors.New("registry: unnamed type needs an explicit name")
	ErrDuplicateMethod   = errors.New("registry: method already declared")
	ErrUnknownMethod     = errors.New("registry: unknown method")
)

// Handler runs an RPC against the component instance it targets.
type Handler func(target models.Component, args []any) error

// Method is a declared RPC of a component type.
type Method struct {
	Name    string
	Hash    models.MethodHash
	Params  []codec.Param
	Handler Handler
}

// Type is one registered component type. Instances are always *T for the
// registered T.
type Type struct {
	Name    string
	Hash    models.TypeHash
	Reflect reflect.Type

	methods map[models.MethodHash]*Method
	order   []*Method
}

// New returns a fresh zero instance of the type.
func (t *Type) New() models.Component {
	return reflect.New(t.Reflect).Interface()
}

// Method returns the method registered under hash.
func (t *Type) Method(hash models.MethodHash) (*Method, bool) {
	m, ok := t.methods[hash]
	return m, ok
}

// MethodByName is the lookup used by callers that only know the method name.
func (t *Type) MethodByName(name string) (*Method, bool) {
	return t.Method(HashMethod(t.Name, name))
}

// Methods returns the declared methods in declaration order.
func (t *Type) Methods() []*Method {
	return append([]*Method(nil), t.order...)
}

// HashType returns the wire hash of a type name.
func HashType(name string) models.TypeHash {
	return models.TypeHash(xxhash.Sum64String(name))
}

// HashMethod returns the wire hash of a method declared on typeName.
func HashMethod(typeName, method string) models.MethodHash {
	return models.MethodHash(xxhash.Sum64String(typeName + "." + method))
}

type Option func(*typeOptions)

type typeOptions struct {
	name    string
	methods []Method
}

// WithName overrides the default package-qualified type name. Both peers
// must use the same name.
func WithName(name string) Option {
	return func(o *typeOptions) {
		o.name = name
	}
}

// WithMethod declares an RPC method. Params fix the argument shape for every
// call; handler may be nil on a peer that only sends the call.
func WithMethod(name string, handler Handler, params ...codec.Param) Option {
	return func(o *typeOptions) {
		o.methods = append(o.methods, Method{
			Name:    name,
			Params:  append([]codec.Param(nil), params...),
			Handler: handler,
		})
	}
}

// Registry is safe for concurrent use. Registration normally happens once at
// start-up, before any world or codec uses it.
type Registry struct {
	mu     sync.RWMutex
	byHash map[models.TypeHash]*Type
	byType map[reflect.Type]*Type
}

func New() *Registry {
	return &Registry{
		byHash: make(map[models.TypeHash]*Type),
		byType: make(map[reflect.Type]*Type),
	}
}

// Register adds T to reg. Component instances of T are handled as *T.
func Register[T any](reg *Registry, opts ...Option) (*Type, error) {
	return reg.RegisterType(reflect.TypeFor[T](), opts...)
}

// MustRegister is Register for package-level setup code.
func MustRegister[T any](reg *Registry, opts ...Option) *Type {
	t, err := Register[T](reg, opts...)
	if err != nil {
		panic(err)
	}
	return t
}

// RegisterType is the non-generic form of Register.
func (r *Registry) RegisterType(rt reflect.Type, opts ...Option) (*Type, error) {
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}

	var o typeOptions
	for _, opt := range opts {
		opt(&o)
	}
	name := o.name
	if name == "" {
		if rt.Name() == "" {
			return nil, pkgerrors.Wrapf(ErrInvalidType, "%s", rt)
		}
		name = rt.PkgPath() + "." + rt.Name()
	}

	t := &Type{
		Name:    name,
		Hash:    HashType(name),
		Reflect: rt,
		methods: make(map[models.MethodHash]*Method, len(o.methods)),
	}
	for i := range o.methods {
		m := o.methods[i]
		m.Hash = HashMethod(name, m.Name)
		if _, dup := t.methods[m.Hash]; dup {
			return nil, pkgerrors.Wrapf(ErrDuplicateMethod, "%s.%s", name, m.Name)
		}
		t.methods[m.Hash] = &m
		t.order = append(t.order, &m)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byType[rt]; ok {
		return nil, pkgerrors.Wrapf(ErrAlreadyRegistered, "%s", name)
	}
	if prev, ok := r.byHash[t.Hash]; ok {
		if prev.Name == name {
			return nil, pkgerrors.Wrapf(ErrAlreadyRegistered, "%s", name)
		}
		return nil, pkgerrors.Wrapf(ErrHashCollision, "%s and %s", prev.Name, name)
	}
	r.byType[rt] = t
	r.byHash[t.Hash] = t
	return t, nil
}

// Lookup returns the registered type of a component instance.
func (r *Registry) Lookup(c models.Component) (*Type, bool) {
	if c == nil {
		return nil, false
	}
	rt := reflect.TypeOf(c)
	if rt.Kind() != reflect.Pointer {
		return nil, false
	}
	return r.ByType(rt.Elem())
}

func (r *Registry) ByType(rt reflect.Type) (*Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byType[rt]
	return t, ok
}

func (r *Registry) ByHash(h models.TypeHash) (*Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byHash[h]
	return t, ok
}

// TypeOf returns the registered type for T.
func TypeOf[T any](r *Registry) (*Type, error) {
	t, ok := r.ByType(reflect.TypeFor[T]())
	if !ok {
		return nil, pkgerrors.Wrapf(ErrNotRegistered, "%s", reflect.TypeFor[T]())
	}
	return t, nil
}

// Method resolves a method by type and method hash.
func (r *Registry) Method(typ models.TypeHash, method models.MethodHash) (*Type, *Method, error) {
	t, ok := r.ByHash(typ)
	if !ok {
		return nil, nil, pkgerrors.Wrapf(ErrNotRegistered, "type %#x", uint64(typ))
	}
	m, ok := t.Method(method)
	if !ok {
		return t, nil, pkgerrors.Wrapf(ErrUnknownMethod, "%s method %#x", t.Name, uint64(method))
	}
	return t, m, nil
}

// MethodParams implements codec.MethodResolver.
func (r *Registry) MethodParams(typ models.TypeHash, method models.MethodHash) ([]codec.Param, bool) {
	_, m, err := r.Method(typ, method)
	if err != nil {
		return nil, false
	}
	return m.Params, true
}

// Types returns every registered type ordered by name.
func (r *Registry) Types() []*Type {
	r.mu.RLock()
	out := make([]*Type, 0, len(r.byHash))
	for _, t := range r.byHash {
		out = append(out, t)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

var _ codec.MethodResolver = (*Registry)(nil)
