// Package codec implements the compact binary form of tick snapshots.
//
// A snapshot is written as
//
//	tick u32 | time i64 | count u8 | block...
//
// where each block starts with the command kind of its first command and
// covers a run of consecutive commands of that kind. Block sizes are never
// computed up front: the encoder looks ahead while the grouping key (kind,
// then entity id or hashes) stays the same, and the decoder consumes exactly
// what the encoder produced. All integers are little-endian.
package codec

import (
	"math"

	"github.com/pkg/errors"

	"github.com/zeusync/replication/internal/core/command"
	"github.com/zeusync/replication/internal/core/models"
)

// maxRun caps every one byte run counter.
const maxRun = math.MaxUint8

// Encode returns the encoded form of snap.
func Encode(snap *command.Snapshot, methods MethodResolver) ([]byte, error) {
	w := NewWriter(16 + 4*snap.Len())
	if err := EncodeTo(w, snap, methods); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// EncodeTo appends snap to w. On error w may hold a partial snapshot and
// should be discarded by the caller.
func EncodeTo(w *Writer, snap *command.Snapshot, methods MethodResolver) error {
	if snap.Len() > command.MaxCommandsPerSnapshot {
		return errors.Wrapf(ErrTooManyCommands, "tick %d has %d commands", snap.Tick, snap.Len())
	}
	if methods == nil {
		methods = NoMethods
	}

	w.Uint32(snap.Tick)
	w.Int64(snap.Time)
	w.Uint8(uint8(snap.Len()))

	cmds := snap.Commands
	for i := 0; i < len(cmds); {
		kind := cmds[i].Kind
		if !kind.Valid() {
			return errors.Wrapf(ErrInvalidKind, "command %d has kind %d", i, kind)
		}
		n := runLength(cmds, i, len(cmds), sameKind)
		w.Uint8(uint8(kind))
		block := cmds[i : i+n]

		var err error
		switch {
		case kind.IsObject():
			writeObjectBlock(w, block)
		case kind.IsComponent():
			writeComponentBlock(w, block)
		default:
			err = writeRPCBlock(w, block, methods)
		}
		if err != nil {
			return errors.Wrapf(err, "tick %d", snap.Tick)
		}
		i += n
	}
	return nil
}

func writeObjectBlock(w *Writer, block []command.Command) {
	w.Uint8(uint8(len(block)))
	for _, cmd := range block {
		w.Uint16(uint16(cmd.Entity))
	}
}

// writeComponentBlock groups the block by runs of the same entity, which is
// the common shape of "spawn, then attach several components".
func writeComponentBlock(w *Writer, block []command.Command) {
	w.Uint8(uint8(len(block)))
	for j := 0; j < len(block); {
		m := runLength(block, j, len(block), sameEntity)
		w.Uint16(uint16(block[j].Entity))
		w.Uint8(uint8(m))
		for _, cmd := range block[j : j+m] {
			w.Uint64(uint64(cmd.Type))
		}
		j += m
	}
}

// writeRPCBlock nests three runs: component type, then method, then the
// individual invocations.
func writeRPCBlock(w *Writer, block []command.Command, methods MethodResolver) error {
	w.Uint8(uint8(len(block)))
	for j := 0; j < len(block); {
		c := runLength(block, j, len(block), sameType)
		w.Uint64(uint64(block[j].Type))
		w.Uint8(uint8(c))
		for k := j; k < j+c; {
			m := runLength(block, k, j+c, sameMethod)
			typ, method := block[k].Type, block[k].Method
			params, ok := methods.MethodParams(typ, method)
			if !ok {
				return errors.Wrapf(ErrUnknownMethod, "type %#x method %#x", uint64(typ), uint64(method))
			}
			w.Uint64(uint64(method))
			w.Uint8(uint8(m))
			for _, cmd := range block[k : k+m] {
				if len(cmd.Args) != len(params) {
					return errors.Wrapf(ErrArgCount, "method %#x wants %d, got %d", uint64(method), len(params), len(cmd.Args))
				}
				w.Uint16(uint16(cmd.Entity))
				for a, p := range params {
					if err := p.Write(w, cmd.Args[a]); err != nil {
						return errors.Wrapf(err, "method %#x argument %d", uint64(method), a)
					}
				}
			}
			k += m
		}
		j += c
	}
	return nil
}

// Decode reads one snapshot from r. The returned snapshot is complete or the
// call fails; r's position after a failure is unspecified.
func Decode(r *Reader, methods MethodResolver) (command.Snapshot, error) {
	if methods == nil {
		methods = NoMethods
	}
	var snap command.Snapshot

	tick, err := r.Uint32()
	if err != nil {
		return command.Snapshot{}, err
	}
	ts, err := r.Int64()
	if err != nil {
		return command.Snapshot{}, err
	}
	count, err := r.Uint8()
	if err != nil {
		return command.Snapshot{}, err
	}
	snap.Tick, snap.Time = tick, ts
	if count > 0 {
		snap.Commands = make([]command.Command, 0, count)
	}

	for remaining := int(count); remaining > 0; {
		tag, err := r.Uint8()
		if err != nil {
			return command.Snapshot{}, err
		}
		kind := command.Kind(tag)
		if !kind.Valid() {
			return command.Snapshot{}, errors.Wrapf(ErrUnknownBlock, "tag %d at offset %d", tag, r.Offset()-1)
		}
		n, err := readCount(r, remaining)
		if err != nil {
			return command.Snapshot{}, err
		}

		switch {
		case kind.IsObject():
			err = readObjectBlock(r, kind, n, &snap)
		case kind.IsComponent():
			err = readComponentBlock(r, kind, n, &snap)
		default:
			err = readRPCBlock(r, kind, n, &snap, methods)
		}
		if err != nil {
			return command.Snapshot{}, err
		}
		remaining -= n
	}
	return snap, nil
}

// readCount reads a run counter that must be positive and fit in limit.
func readCount(r *Reader, limit int) (int, error) {
	n, err := r.Uint8()
	if err != nil {
		return 0, err
	}
	if n == 0 || int(n) > limit {
		return 0, errors.Wrapf(ErrInvalidCount, "count %d, limit %d", n, limit)
	}
	return int(n), nil
}

func readObjectBlock(r *Reader, kind command.Kind, n int, snap *command.Snapshot) error {
	for range n {
		id, err := r.Uint16()
		if err != nil {
			return err
		}
		snap.Append(command.Command{Kind: kind, Entity: models.EntityID(id)})
	}
	return nil
}

func readComponentBlock(r *Reader, kind command.Kind, n int, snap *command.Snapshot) error {
	for j := 0; j < n; {
		id, err := r.Uint16()
		if err != nil {
			return err
		}
		m, err := readCount(r, n-j)
		if err != nil {
			return err
		}
		for range m {
			typ, err := r.Uint64()
			if err != nil {
				return err
			}
			snap.Append(command.Command{Kind: kind, Entity: models.EntityID(id), Type: models.TypeHash(typ)})
		}
		j += m
	}
	return nil
}

func readRPCBlock(r *Reader, kind command.Kind, n int, snap *command.Snapshot, methods MethodResolver) error {
	for j := 0; j < n; {
		typ, err := r.Uint64()
		if err != nil {
			return err
		}
		c, err := readCount(r, n-j)
		if err != nil {
			return err
		}
		for k := 0; k < c; {
			method, err := r.Uint64()
			if err != nil {
				return err
			}
			m, err := readCount(r, c-k)
			if err != nil {
				return err
			}
			params, ok := methods.MethodParams(models.TypeHash(typ), models.MethodHash(method))
			if !ok {
				return errors.Wrapf(ErrUnknownMethod, "type %#x method %#x", typ, method)
			}
			for range m {
				id, err := r.Uint16()
				if err != nil {
					return err
				}
				var args []any
				if len(params) > 0 {
					args = make([]any, len(params))
				}
				for a, p := range params {
					if args[a], err = p.Read(r); err != nil {
						return err
					}
				}
				snap.Append(command.Command{
					Kind:   kind,
					Entity: models.EntityID(id),
					Type:   models.TypeHash(typ),
					Method: models.MethodHash(method),
					Args:   args,
				})
			}
			k += m
		}
		j += c
	}
	return nil
}

// EncodeBatch writes a uint16 snapshot count followed by every snapshot in order.
func EncodeBatch(w *Writer, snaps []command.Snapshot, methods MethodResolver) error {
	if len(snaps) > math.MaxUint16 {
		return errors.Wrapf(ErrTooManyBatch, "%d snapshots", len(snaps))
	}
	w.Uint16(uint16(len(snaps)))
	for i := range snaps {
		if err := EncodeTo(w, &snaps[i], methods); err != nil {
			return err
		}
	}
	return nil
}

// DecodeBatch reads a batch written by EncodeBatch. Trailing bytes are
// treated as corruption.
func DecodeBatch(p []byte, methods MethodResolver) ([]command.Snapshot, error) {
	r := NewReader(p)
	n, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	out := make([]command.Snapshot, 0, n)
	for range n {
		snap, err := Decode(r, methods)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	if r.Remaining() != 0 {
		return nil, errors.Wrapf(ErrInvalidCount, "%d trailing bytes", r.Remaining())
	}
	return out, nil
}

type sameKey func(a, b *command.Command) bool

func sameKind(a, b *command.Command) bool   { return a.Kind == b.Kind }
func sameEntity(a, b *command.Command) bool { return a.Entity == b.Entity }
func sameType(a, b *command.Command) bool   { return a.Type == b.Type }
func sameMethod(a, b *command.Command) bool { return a.Method == b.Method }

// runLength counts the commands from start (inclusive) to end (exclusive) that
// share cmds[start]'s key, capped at maxRun.
func runLength(cmds []command.Command, start, end int, same sameKey) int {
	n := 1
	for i := start + 1; i < end && n < maxRun; i++ {
		if !same(&cmds[start], &cmds[i]) {
			break
		}
		n++
	}
	return n
}
