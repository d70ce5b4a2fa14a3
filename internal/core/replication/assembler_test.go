package replication

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/replication/internal/core/command"
	"github.com/zeusync/replication/internal/core/models"
)

func entry(tick uint32, cmd command.Command) command.Entry {
	return command.Entry{Tick: tick, Time: int64(tick) * 1000, Command: cmd}
}

func ticks(snaps []command.Snapshot) []uint32 {
	out := make([]uint32, len(snaps))
	for i, s := range snaps {
		out[i] = s.Tick
	}
	return out
}

func TestAssembler(t *testing.T) {
	t.Run("AckPruning", func(t *testing.T) {
		a := NewAssembler(0)
		for tick := uint32(1); tick <= 5; tick++ {
			require.NoError(t, a.Route(entry(tick, command.Spawn(models.EntityID(tick)))))
			require.NoError(t, a.Seal())
		}
		require.Equal(t, []uint32{1, 2, 3, 4, 5}, ticks(a.Backlog()))

		assert.Equal(t, 3, a.Acknowledge(3))
		assert.Equal(t, []uint32{4, 5}, ticks(a.Backlog()))

		assert.Zero(t, a.Acknowledge(2), "stale ack")
		assert.Equal(t, 2, a.Len())

		assert.Equal(t, 2, a.Acknowledge(100))
		assert.Zero(t, a.Len())
	})

	t.Run("StampFromFirstEntry", func(t *testing.T) {
		a := NewAssembler(0)
		require.NoError(t, a.Route(entry(7, command.Spawn(1))))
		require.NoError(t, a.Route(entry(7, command.Add(1, 100))))

		cur := a.Current()
		require.NotNil(t, cur)
		assert.Equal(t, uint32(7), cur.Tick)
		assert.Equal(t, int64(7000), cur.Time)
		assert.Equal(t, []command.Command{command.Spawn(1), command.Add(1, 100)}, cur.Commands)
	})

	t.Run("LaterTickSealsStale", func(t *testing.T) {
		a := NewAssembler(0)
		require.NoError(t, a.Route(entry(1, command.Spawn(1))))
		require.NoError(t, a.Route(entry(3, command.Spawn(2))))

		require.Equal(t, []uint32{1}, ticks(a.Backlog()))
		assert.Equal(t, uint32(3), a.Current().Tick)
		assert.Equal(t, []command.Command{command.Spawn(2)}, a.Current().Commands)
	})

	t.Run("SealEmptyIsNoop", func(t *testing.T) {
		a := NewAssembler(1)
		require.NoError(t, a.Seal())
		require.NoError(t, a.Seal())
		assert.Zero(t, a.Len())
		assert.Nil(t, a.Current())
	})

	t.Run("BacklogOverflow", func(t *testing.T) {
		a := NewAssembler(2)
		for tick := uint32(1); tick <= 2; tick++ {
			require.NoError(t, a.Route(entry(tick, command.Spawn(1))))
			require.NoError(t, a.Seal())
		}
		require.NoError(t, a.Route(entry(3, command.Spawn(1))))
		assert.ErrorIs(t, a.Seal(), ErrBacklogOverflow)
		assert.Equal(t, []uint32{1, 2}, ticks(a.Backlog()), "nothing evicted")

		a.Acknowledge(1)
		require.NoError(t, a.Seal())
		assert.Equal(t, []uint32{2, 3}, ticks(a.Backlog()))
	})

	t.Run("SnapshotFull", func(t *testing.T) {
		a := NewAssembler(0)
		for i := 0; i < command.MaxCommandsPerSnapshot; i++ {
			require.NoError(t, a.Route(entry(1, command.Spawn(models.EntityID(i+1)))))
		}
		assert.ErrorIs(t, a.Route(entry(1, command.Spawn(999))), ErrSnapshotFull)
		assert.Equal(t, command.MaxCommandsPerSnapshot, a.Current().Len())
	})
}
