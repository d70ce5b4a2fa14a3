package game

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/replication/internal/core/command"
	"github.com/zeusync/replication/internal/core/models"
	"github.com/zeusync/replication/internal/core/observability/log"
	"github.com/zeusync/replication/internal/core/schema/registry"
	"github.com/zeusync/replication/internal/core/world"
)

func TestStep(t *testing.T) {
	from := Vec2{0, 0}
	to := Vec2{3, 4}

	assert.Equal(t, float32(5), Distance(from, to))
	assert.Equal(t, to, Step(from, to, 10))
	assert.Equal(t, to, Step(to, to, 1))

	mid := Step(from, to, 2.5)
	assert.InDelta(t, 1.5, mid.X, 1e-5)
	assert.InDelta(t, 2, mid.Y, 1e-5)
}

// stepClock advances 100ms every time it is read.
func stepClock() func() time.Time {
	now := time.Unix(1_700_000_000, 0)
	return func() time.Time {
		now = now.Add(100 * time.Millisecond)
		return now
	}
}

type pair struct {
	server  *world.World
	replica *world.World
	sub     *command.Subscription
}

func newPair(t *testing.T, cfg Config, opts ...world.Option) *pair {
	t.Helper()
	opts = append([]world.Option{world.WithNow(stepClock())}, opts...)
	srv := world.New(NewRegistry(), log.Nop(), opts...)
	_, err := NewSimulation(srv, cfg, log.Nop())
	require.NoError(t, err)
	return &pair{
		server:  srv,
		replica: world.New(NewRegistry(), log.Nop(), world.WithRole(world.Replica), world.WithNow(stepClock())),
		sub:     srv.Log().Subscribe(),
	}
}

// tick runs one server tick and replays its commands on the replica.
func (p *pair) tick(t *testing.T) {
	p.server.Tick()
	entries := p.sub.Drain()
	p.replica.Submit(func(w *world.World) {
		for _, e := range entries {
			require.NoError(t, w.Apply(e.Command))
		}
	})
	p.replica.Tick()
}

func TestSimulation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Population = 3
	cfg.SpawnPerTick = 2
	cfg.WanderEvery = 4
	cfg.Speed = 10_000

	t.Run("Spawn", func(t *testing.T) {
		p := newPair(t, cfg)

		p.tick(t)
		assert.Len(t, Units(p.server), 2)
		p.tick(t)
		p.tick(t)
		require.Len(t, Units(p.server), 3)
		assert.Equal(t, Units(p.server), Units(p.replica))

		for _, id := range Units(p.server) {
			sp, _ := world.Get[Position](p.server, id)
			rp, ok := world.Get[Position](p.replica, id)
			require.True(t, ok)
			assert.Equal(t, sp.Pos, rp.Pos)

			rh, ok := world.Get[Health](p.replica, id)
			require.True(t, ok)
			assert.Equal(t, cfg.MaxHP, rh.HP)
		}
	})

	t.Run("Wander", func(t *testing.T) {
		p := newPair(t, cfg)
		for range 6 {
			p.tick(t)
		}

		for _, id := range Units(p.server) {
			sp, _ := world.Get[Position](p.server, id)
			rp, _ := world.Get[Position](p.replica, id)
			assert.Equal(t, sp.Target, rp.Target)
			assert.Equal(t, sp.Target, sp.Pos)
			assert.Equal(t, sp.Pos, rp.Pos)
		}
	})

	t.Run("Damage", func(t *testing.T) {
		p := newPair(t, cfg)
		for range 2 {
			p.tick(t)
		}
		ids := Units(p.server)
		require.NotEmpty(t, ids)
		hurt, dead := ids[0], ids[1]

		p.server.Submit(func(w *world.World) {
			require.NoError(t, w.Apply(damage(t, w, hurt, 30)))
			require.NoError(t, w.Apply(damage(t, w, dead, cfg.MaxHP+1)))
		})
		p.tick(t)
		p.tick(t)

		h, ok := world.Get[Health](p.replica, hurt)
		require.True(t, ok)
		assert.Equal(t, cfg.MaxHP-30, h.HP)
		assert.False(t, p.server.Exists(dead))
		assert.False(t, p.replica.Exists(dead))
	})

	t.Run("ReplicaIgnoresDamage", func(t *testing.T) {
		p := newPair(t, cfg)
		p.tick(t)
		id := Units(p.replica)[0]

		require.NoError(t, p.replica.Apply(damage(t, p.replica, id, 10)))
		h, _ := world.Get[Health](p.replica, id)
		assert.Equal(t, cfg.MaxHP, h.HP)
	})
}

func TestSimulation_BudgetExhausted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Population = 6
	cfg.SpawnPerTick = 1
	cfg.WanderEvery = 8

	// one spawn fits a tick, six moves do not
	p := newPair(t, cfg, world.WithBudget(spawnCommands))
	for range 8 {
		p.tick(t)
	}

	ids := Units(p.server)
	require.Len(t, ids, cfg.Population)
	require.Equal(t, ids, Units(p.replica))
	moved := 0
	for _, id := range ids {
		sp, _ := world.Get[Position](p.server, id)
		rp, _ := world.Get[Position](p.replica, id)
		assert.Equal(t, sp.Target, rp.Target, "entity %d", id)
		assert.Equal(t, sp.Speed, rp.Speed, "entity %d", id)
		if sp.Speed > 0 {
			moved++
		}
	}
	assert.Equal(t, spawnCommands, moved)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{"Default", func(*Config) {}, true},
		{"Full", func(c *Config) { c.Population, c.SpawnPerTick = 100, 11 }, true},
		{"OverBudget", func(c *Config) { c.Population, c.SpawnPerTick = 300, 51 }, false},
		{"NegativeSpawn", func(c *Config) { c.SpawnPerTick = -1 }, false},
		{"NoHP", func(c *Config) { c.MaxHP = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestNewSimulationNeedsTypes(t *testing.T) {
	w := world.New(registry.New(), log.Nop())
	_, err := NewSimulation(w, DefaultConfig(), log.Nop())
	assert.ErrorIs(t, err, registry.ErrNotRegistered)
}

func damage(t *testing.T, w *world.World, id models.EntityID, amount int32) command.Command {
	t.Helper()
	h, err := registry.TypeOf[Health](w.Registry())
	require.NoError(t, err)
	return command.RPC(command.KindServerRpc, id, h.Hash, registry.HashMethod(h.Name, "Damage"), amount)
}
