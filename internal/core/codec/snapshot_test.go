package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/replication/internal/core/command"
	"github.com/zeusync/replication/internal/core/models"
)

type point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type methodKey struct {
	typ    models.TypeHash
	method models.MethodHash
}

type methodTable map[methodKey][]Param

func (t methodTable) MethodParams(typ models.TypeHash, method models.MethodHash) ([]Param, bool) {
	p, ok := t[methodKey{typ, method}]
	return p, ok
}

const (
	typeA   models.TypeHash   = 100
	typeB   models.TypeHash   = 200
	moveA   models.MethodHash = 11
	pingA   models.MethodHash = 12
	resetB  models.MethodHash = 21
	tickNow int64             = 638_000_000_000_000_000
)

func testMethods() methodTable {
	return methodTable{
		{typeA, moveA}: {
			EntityParam(),
			ComponentParam(),
			ValueParam(Float32),
			ValueParam(String),
			ValueParam(JSON[point]()),
		},
		{typeA, pingA}:  nil,
		{typeB, resetB}: {ValueParam(Bool), ValueParam(Bytes)},
	}
}

func roundTrip(t *testing.T, snap command.Snapshot, methods MethodResolver) command.Snapshot {
	t.Helper()
	data, err := Encode(&snap, methods)
	require.NoError(t, err)

	r := NewReader(data)
	out, err := Decode(r, methods)
	require.NoError(t, err)
	require.Zero(t, r.Remaining())
	return out
}

func TestSnapshot_RoundTrip(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		snap := command.Snapshot{Tick: 7, Time: tickNow}
		data, err := Encode(&snap, nil)
		require.NoError(t, err)
		assert.Len(t, data, 13)

		out := roundTrip(t, snap, nil)
		assert.Equal(t, uint32(7), out.Tick)
		assert.Equal(t, tickNow, out.Time)
		assert.Empty(t, out.Commands)
	})

	t.Run("mixed object and component commands", func(t *testing.T) {
		// regression: blocks must be sized by look-ahead, not by a
		// precomputed per-kind total
		snap := command.Snapshot{
			Tick: 42,
			Time: tickNow,
			Commands: []command.Command{
				command.Spawn(1),
				command.Spawn(2),
				command.Add(1, typeA),
				command.Spawn(3),
				command.Add(3, typeA),
				command.Destroy(1),
				command.Spawn(4),
				command.Destroy(2),
				command.Remove(3, typeA),
				command.Destroy(4),
				command.Destroy(3),
			},
		}

		data, err := Encode(&snap, nil)
		require.NoError(t, err)
		// header 13, six object blocks 28, three component blocks 39
		assert.Len(t, data, 80)

		out := roundTrip(t, snap, nil)
		assert.Equal(t, snap, out)
	})

	t.Run("component runs group by entity", func(t *testing.T) {
		snap := command.Snapshot{
			Tick: 1,
			Commands: []command.Command{
				command.Add(5, typeA),
				command.Add(5, typeB),
				command.Add(6, typeA),
				command.Add(5, typeA),
			},
		}
		data, err := Encode(&snap, nil)
		require.NoError(t, err)
		// header 13, tag+count 2, groups (5: 2 hashes) (6: 1) (5: 1)
		assert.Len(t, data, 13+2+(3+16)+(3+8)+(3+8))
		assert.Equal(t, snap, roundTrip(t, snap, nil))
	})

	t.Run("rpc with mixed parameters", func(t *testing.T) {
		methods := testMethods()
		snap := command.Snapshot{
			Tick: 3,
			Time: tickNow,
			Commands: []command.Command{
				command.RPC(command.KindClientRpc, 1, typeA, moveA,
					models.EntityID(2), models.ComponentRef{Entity: 2, Type: typeB}, float32(1.5), "hi", point{X: 1, Y: 2}),
				command.RPC(command.KindClientRpc, 4, typeA, moveA,
					models.EntityID(9), models.ComponentRef{Entity: 9, Type: typeA}, float32(-3), "", point{}),
				command.RPC(command.KindClientRpc, 4, typeA, pingA),
				command.RPC(command.KindClientRpc, 8, typeB, resetB, true, []byte{1, 2, 3}),
				command.RPC(command.KindServerRpc, 8, typeB, resetB, false, []byte{}),
			},
		}
		assert.Equal(t, snap, roundTrip(t, snap, methods))
	})

	t.Run("full snapshot", func(t *testing.T) {
		snap := command.Snapshot{Tick: 9}
		for i := range command.MaxCommandsPerSnapshot {
			snap.Append(command.Add(1, models.TypeHash(i)))
		}
		assert.Equal(t, snap, roundTrip(t, snap, nil))
	})
}

func TestSnapshot_EncodeErrors(t *testing.T) {
	t.Run("too many commands", func(t *testing.T) {
		snap := command.Snapshot{}
		for i := range command.MaxCommandsPerSnapshot + 1 {
			snap.Append(command.Spawn(models.EntityID(i + 1)))
		}
		_, err := Encode(&snap, nil)
		assert.ErrorIs(t, err, ErrTooManyCommands)
	})

	t.Run("invalid kind", func(t *testing.T) {
		snap := command.Snapshot{Commands: []command.Command{{Entity: 1}}}
		_, err := Encode(&snap, nil)
		assert.ErrorIs(t, err, ErrInvalidKind)
	})

	t.Run("unknown method", func(t *testing.T) {
		snap := command.Snapshot{Commands: []command.Command{
			command.RPC(command.KindServerRpc, 1, typeA, 999),
		}}
		_, err := Encode(&snap, testMethods())
		assert.ErrorIs(t, err, ErrUnknownMethod)
	})

	t.Run("argument count", func(t *testing.T) {
		snap := command.Snapshot{Commands: []command.Command{
			command.RPC(command.KindServerRpc, 1, typeB, resetB, true),
		}}
		_, err := Encode(&snap, testMethods())
		assert.ErrorIs(t, err, ErrArgCount)
	})

	t.Run("argument type", func(t *testing.T) {
		snap := command.Snapshot{Commands: []command.Command{
			command.RPC(command.KindServerRpc, 1, typeB, resetB, "yes", []byte{}),
		}}
		_, err := Encode(&snap, testMethods())
		assert.ErrorIs(t, err, ErrArgType)
	})
}

func TestSnapshot_DecodeCorruption(t *testing.T) {
	header := func(count uint8) *Writer {
		w := NewWriter(32)
		w.Uint32(1)
		w.Int64(0)
		w.Uint8(count)
		return w
	}

	t.Run("unknown tag", func(t *testing.T) {
		w := header(1)
		w.Uint8(9)
		w.Uint8(1)
		w.Uint16(1)
		_, err := Decode(NewReader(w.Bytes()), nil)
		assert.ErrorIs(t, err, ErrUnknownBlock)
	})

	t.Run("zero tag", func(t *testing.T) {
		w := header(1)
		w.Uint8(0)
		_, err := Decode(NewReader(w.Bytes()), nil)
		assert.ErrorIs(t, err, ErrUnknownBlock)
	})

	t.Run("zero block count", func(t *testing.T) {
		w := header(1)
		w.Uint8(uint8(command.KindSpawnObject))
		w.Uint8(0)
		_, err := Decode(NewReader(w.Bytes()), nil)
		assert.ErrorIs(t, err, ErrInvalidCount)
	})

	t.Run("block count exceeds header", func(t *testing.T) {
		w := header(1)
		w.Uint8(uint8(command.KindSpawnObject))
		w.Uint8(2)
		w.Uint16(1)
		w.Uint16(2)
		_, err := Decode(NewReader(w.Bytes()), nil)
		assert.ErrorIs(t, err, ErrInvalidCount)
	})

	t.Run("entity group exceeds block", func(t *testing.T) {
		w := header(1)
		w.Uint8(uint8(command.KindAddComponent))
		w.Uint8(1)
		w.Uint16(1)
		w.Uint8(2)
		_, err := Decode(NewReader(w.Bytes()), nil)
		assert.ErrorIs(t, err, ErrInvalidCount)
	})

	t.Run("unknown method", func(t *testing.T) {
		w := header(1)
		w.Uint8(uint8(command.KindClientRpc))
		w.Uint8(1)
		w.Uint64(uint64(typeA))
		w.Uint8(1)
		w.Uint64(777)
		w.Uint8(1)
		w.Uint16(1)
		_, err := Decode(NewReader(w.Bytes()), testMethods())
		assert.ErrorIs(t, err, ErrUnknownMethod)
	})

	t.Run("invalid bool", func(t *testing.T) {
		w := header(1)
		w.Uint8(uint8(command.KindClientRpc))
		w.Uint8(1)
		w.Uint64(uint64(typeB))
		w.Uint8(1)
		w.Uint64(uint64(resetB))
		w.Uint8(1)
		w.Uint16(1)
		w.Uint8(7)
		w.Uint32(0)
		_, err := Decode(NewReader(w.Bytes()), testMethods())
		assert.ErrorIs(t, err, ErrInvalidValue)
	})

	t.Run("truncated at every length", func(t *testing.T) {
		methods := testMethods()
		snap := command.Snapshot{
			Tick: 2,
			Time: tickNow,
			Commands: []command.Command{
				command.Spawn(1),
				command.Add(1, typeA),
				command.RPC(command.KindClientRpc, 1, typeA, moveA,
					models.EntityID(1), models.ComponentRef{Entity: 1, Type: typeA}, float32(2), "abc", point{X: 3}),
				command.Remove(1, typeA),
				command.Destroy(1),
			},
		}
		data, err := Encode(&snap, methods)
		require.NoError(t, err)

		for n := 0; n < len(data); n++ {
			_, err := Decode(NewReader(data[:n]), methods)
			require.Error(t, err, "prefix of %d bytes decoded", n)
		}
	})
}

func TestBatch(t *testing.T) {
	t.Run("stream of mostly empty snapshots", func(t *testing.T) {
		snaps := []command.Snapshot{
			{Tick: 1, Time: tickNow},
			{Tick: 2, Time: tickNow + 1},
			{Tick: 3, Time: tickNow + 2, Commands: []command.Command{command.Spawn(1)}},
			{Tick: 4, Time: tickNow + 3},
		}
		w := NewWriter(64)
		require.NoError(t, EncodeBatch(w, snaps, nil))

		out, err := DecodeBatch(w.Bytes(), nil)
		require.NoError(t, err)
		require.Len(t, out, 4)

		counts := make([]int, len(out))
		for i := range out {
			counts[i] = out[i].Len()
			assert.Equal(t, snaps[i].Tick, out[i].Tick)
			assert.Equal(t, snaps[i].Time, out[i].Time)
		}
		assert.Equal(t, []int{0, 0, 1, 0}, counts)
		assert.Equal(t, command.Spawn(1), out[2].Commands[0])
	})

	t.Run("empty batch", func(t *testing.T) {
		w := NewWriter(2)
		require.NoError(t, EncodeBatch(w, nil, nil))
		out, err := DecodeBatch(w.Bytes(), nil)
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("trailing bytes", func(t *testing.T) {
		w := NewWriter(32)
		require.NoError(t, EncodeBatch(w, []command.Snapshot{{Tick: 1}}, nil))
		w.Uint8(0)
		_, err := DecodeBatch(w.Bytes(), nil)
		assert.ErrorIs(t, err, ErrInvalidCount)
	})

	t.Run("one corrupt snapshot fails the batch", func(t *testing.T) {
		w := NewWriter(64)
		require.NoError(t, EncodeBatch(w, []command.Snapshot{
			{Tick: 1, Commands: []command.Command{command.Spawn(1)}},
			{Tick: 2, Commands: []command.Command{command.Spawn(2)}},
		}, nil))
		data := w.Bytes()
		// second snapshot's block tag
		data[2+17+13] = 0xEE
		out, err := DecodeBatch(data, nil)
		assert.ErrorIs(t, err, ErrUnknownBlock)
		assert.Nil(t, out)
	})
}
