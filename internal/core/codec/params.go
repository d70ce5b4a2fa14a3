package codec

import (
	"github.com/pkg/errors"

	"github.com/zeusync/replication/internal/core/models"
)

// ParamKind selects how an RPC argument travels on the wire.
type ParamKind uint8

const (
	// ParamEntity is a reference to an entity, written as its 16 bit id.
	ParamEntity ParamKind = iota + 1
	// ParamComponent is a reference to a component, written as the owning
	// entity id followed by the component type hash.
	ParamComponent
	// ParamValue is any other value, delegated to the parameter's ValueCodec.
	ParamValue
)

func (k ParamKind) String() string {
	switch k {
	case ParamEntity:
		return "entity"
	case ParamComponent:
		return "component"
	case ParamValue:
		return "value"
	default:
		return "unknown"
	}
}

// Param describes one RPC parameter. Descriptors are built when a component
// type is registered and reused for every call.
type Param struct {
	Kind  ParamKind
	Codec ValueCodec
}

func EntityParam() Param {
	return Param{Kind: ParamEntity}
}

func ComponentParam() Param {
	return Param{Kind: ParamComponent}
}

func ValueParam(c ValueCodec) Param {
	return Param{Kind: ParamValue, Codec: c}
}

func (p Param) String() string {
	if p.Kind == ParamValue && p.Codec != nil {
		return p.Codec.Name()
	}
	return p.Kind.String()
}

// Check reports whether v can be written as this parameter.
func (p Param) Check(v any) error {
	switch p.Kind {
	case ParamEntity:
		if _, ok := v.(models.EntityID); !ok {
			return errors.Wrapf(ErrArgType, "want entity id, got %T", v)
		}
	case ParamComponent:
		if _, ok := v.(models.ComponentRef); !ok {
			return errors.Wrapf(ErrArgType, "want component ref, got %T", v)
		}
	case ParamValue:
		if p.Codec == nil {
			return errors.Wrap(ErrArgType, "value parameter without codec")
		}
		return p.Codec.Check(v)
	default:
		return errors.Wrapf(ErrArgType, "unknown parameter kind %d", p.Kind)
	}
	return nil
}

// Write appends v to w.
func (p Param) Write(w *Writer, v any) error {
	if err := p.Check(v); err != nil {
		return err
	}
	switch p.Kind {
	case ParamEntity:
		w.Uint16(uint16(v.(models.EntityID)))
	case ParamComponent:
		ref := v.(models.ComponentRef)
		w.Uint16(uint16(ref.Entity))
		w.Uint64(uint64(ref.Type))
	default:
		return p.Codec.Write(w, v)
	}
	return nil
}

// Read consumes one argument of this parameter's shape.
func (p Param) Read(r *Reader) (any, error) {
	switch p.Kind {
	case ParamEntity:
		id, err := r.Uint16()
		if err != nil {
			return nil, err
		}
		return models.EntityID(id), nil
	case ParamComponent:
		id, err := r.Uint16()
		if err != nil {
			return nil, err
		}
		typ, err := r.Uint64()
		if err != nil {
			return nil, err
		}
		return models.ComponentRef{Entity: models.EntityID(id), Type: models.TypeHash(typ)}, nil
	case ParamValue:
		if p.Codec == nil {
			return nil, ErrInvalidValue
		}
		return p.Codec.Read(r)
	default:
		return nil, ErrInvalidValue
	}
}

// CheckArgs validates a whole argument list against its descriptors.
func CheckArgs(params []Param, args []any) error {
	if len(params) != len(args) {
		return errors.Wrapf(ErrArgCount, "want %d, got %d", len(params), len(args))
	}
	for i, p := range params {
		if err := p.Check(args[i]); err != nil {
			return errors.Wrapf(err, "argument %d", i)
		}
	}
	return nil
}

// MethodResolver supplies the parameter list of a component's RPC method.
type MethodResolver interface {
	MethodParams(typ models.TypeHash, method models.MethodHash) ([]Param, bool)
}

// NoMethods resolves nothing. Snapshots without RPC commands can be coded with it.
var NoMethods MethodResolver = noMethods{}

type noMethods struct{}

func (noMethods) MethodParams(models.TypeHash, models.MethodHash) ([]Param, bool) {
	return nil, false
}
