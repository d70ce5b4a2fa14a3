package codec

import (
	"math"
	"reflect"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// ValueCodec writes and reads one value type inside the snapshot stream.
type ValueCodec interface {
	Name() string
	Check(v any) error
	Write(w *Writer, v any) error
	Read(r *Reader) (any, error)
}

type fixedCodec[T any] struct {
	name  string
	write func(w *Writer, v T)
	read  func(r *Reader) (T, error)
}

func (c fixedCodec[T]) Name() string { return c.name }

func (c fixedCodec[T]) Check(v any) error {
	if _, ok := v.(T); !ok {
		return errors.Wrapf(ErrArgType, "want %s, got %T", c.name, v)
	}
	return nil
}

func (c fixedCodec[T]) Write(w *Writer, v any) error {
	t, ok := v.(T)
	if !ok {
		return errors.Wrapf(ErrArgType, "want %s, got %T", c.name, v)
	}
	c.write(w, t)
	return nil
}

func (c fixedCodec[T]) Read(r *Reader) (any, error) {
	v, err := c.read(r)
	if err != nil {
		return nil, err
	}
	return v, nil
}

var (
	Bool ValueCodec = fixedCodec[bool]{
		name: "bool",
		write: func(w *Writer, v bool) {
			if v {
				w.Uint8(1)
			} else {
				w.Uint8(0)
			}
		},
		read: func(r *Reader) (bool, error) {
			b, err := r.Uint8()
			if err != nil {
				return false, err
			}
			if b > 1 {
				return false, ErrInvalidValue
			}
			return b == 1, nil
		},
	}
	Uint8 ValueCodec = fixedCodec[uint8]{
		name:  "uint8",
		write: func(w *Writer, v uint8) { w.Uint8(v) },
		read:  func(r *Reader) (uint8, error) { return r.Uint8() },
	}
	Uint16 ValueCodec = fixedCodec[uint16]{
		name:  "uint16",
		write: func(w *Writer, v uint16) { w.Uint16(v) },
		read:  func(r *Reader) (uint16, error) { return r.Uint16() },
	}
	Uint32 ValueCodec = fixedCodec[uint32]{
		name:  "uint32",
		write: func(w *Writer, v uint32) { w.Uint32(v) },
		read:  func(r *Reader) (uint32, error) { return r.Uint32() },
	}
	Uint64 ValueCodec = fixedCodec[uint64]{
		name:  "uint64",
		write: func(w *Writer, v uint64) { w.Uint64(v) },
		read:  func(r *Reader) (uint64, error) { return r.Uint64() },
	}
	Int32 ValueCodec = fixedCodec[int32]{
		name:  "int32",
		write: func(w *Writer, v int32) { w.Uint32(uint32(v)) },
		read: func(r *Reader) (int32, error) {
			v, err := r.Uint32()
			return int32(v), err
		},
	}
	Int64 ValueCodec = fixedCodec[int64]{
		name:  "int64",
		write: func(w *Writer, v int64) { w.Int64(v) },
		read:  func(r *Reader) (int64, error) { return r.Int64() },
	}
	Float32 ValueCodec = fixedCodec[float32]{
		name:  "float32",
		write: func(w *Writer, v float32) { w.Float32(v) },
		read:  func(r *Reader) (float32, error) { return r.Float32() },
	}
	Float64 ValueCodec = fixedCodec[float64]{
		name:  "float64",
		write: func(w *Writer, v float64) { w.Float64(v) },
		read:  func(r *Reader) (float64, error) { return r.Float64() },
	}
	// String is length prefixed with a uint16.
	String ValueCodec = stringCodec{}
	// Bytes is length prefixed with a uint32.
	Bytes ValueCodec = bytesCodec{}
)

type stringCodec struct{}

func (stringCodec) Name() string { return "string" }

func (stringCodec) Check(v any) error {
	s, ok := v.(string)
	if !ok {
		return errors.Wrapf(ErrArgType, "want string, got %T", v)
	}
	if len(s) > math.MaxUint16 {
		return errors.Wrapf(ErrArgType, "string of %d bytes exceeds %d", len(s), math.MaxUint16)
	}
	return nil
}

func (c stringCodec) Write(w *Writer, v any) error {
	if err := c.Check(v); err != nil {
		return err
	}
	s := v.(string)
	w.Uint16(uint16(len(s)))
	w.Raw([]byte(s))
	return nil
}

func (stringCodec) Read(r *Reader) (any, error) {
	n, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	p, err := r.Next(int(n))
	if err != nil {
		return nil, err
	}
	return string(p), nil
}

type bytesCodec struct{}

func (bytesCodec) Name() string { return "bytes" }

func (bytesCodec) Check(v any) error {
	if _, ok := v.([]byte); !ok {
		return errors.Wrapf(ErrArgType, "want []byte, got %T", v)
	}
	return nil
}

func (c bytesCodec) Write(w *Writer, v any) error {
	if err := c.Check(v); err != nil {
		return err
	}
	p := v.([]byte)
	w.Uint32(uint32(len(p)))
	w.Raw(p)
	return nil
}

func (bytesCodec) Read(r *Reader) (any, error) {
	n, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	p, err := r.Next(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(p))
	copy(out, p)
	return out, nil
}

type jsonCodec[T any] struct {
	name string
}

// JSON carries any JSON-serialisable T, length prefixed with a uint32. Read
// returns a T, not a pointer.
func JSON[T any]() ValueCodec {
	return jsonCodec[T]{name: "json:" + reflect.TypeFor[T]().String()}
}

func (c jsonCodec[T]) Name() string { return c.name }

func (c jsonCodec[T]) Check(v any) error {
	if _, ok := v.(T); !ok {
		return errors.Wrapf(ErrArgType, "want %s, got %T", c.name, v)
	}
	return nil
}

func (c jsonCodec[T]) Write(w *Writer, v any) error {
	if err := c.Check(v); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", c.name)
	}
	w.Uint32(uint32(len(data)))
	w.Raw(data)
	return nil
}

func (c jsonCodec[T]) Read(r *Reader) (any, error) {
	n, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	p, err := r.Next(int(n))
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(p, &out); err != nil {
		return nil, errors.Wrap(ErrInvalidValue, err.Error())
	}
	return out, nil
}
