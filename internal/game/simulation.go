package game

import (
	"math/rand/v2"

	"github.com/pkg/errors"

	"github.com/zeusync/replication/internal/core/command"
	"github.com/zeusync/replication/internal/core/models"
	"github.com/zeusync/replication/internal/core/observability/log"
	"github.com/zeusync/replication/internal/core/schema/registry"
	"github.com/zeusync/replication/internal/core/world"
)

type Config struct {
	// Population is the number of units kept alive.
	Population   int     `json:"population" yaml:"population"`
	SpawnPerTick int     `json:"spawn_per_tick" yaml:"spawn_per_tick"`
	WanderEvery  uint32  `json:"wander_every" yaml:"wander_every"` // ticks
	Arena        float32 `json:"arena" yaml:"arena"`
	Speed        float32 `json:"speed" yaml:"speed"`
	MaxHP        int32   `json:"max_hp" yaml:"max_hp"`
	Seed         uint64  `json:"seed" yaml:"seed"`
}

// ErrInvalidConfig reports a game config the tick budget cannot sustain.
var ErrInvalidConfig = errors.New("game: invalid config")

// spawnCommands is what one spawn costs: Spawn, two AddComponent and two
// ClientRpc.
const spawnCommands = 5

func DefaultConfig() Config {
	return Config{
		Population:   16,
		SpawnPerTick: 4,
		WanderEvery:  60,
		Arena:        100,
		Speed:        5,
		MaxHP:        100,
		Seed:         1,
	}
}

// Validate checks that the worst tick fits the command budget. On a wander
// tick every unit may publish health and move, while SpawnPerTick new units
// are created.
func (c Config) Validate() error {
	if c.Population < 0 || c.SpawnPerTick < 0 || c.MaxHP <= 0 {
		return errors.Wrap(ErrInvalidConfig, "population, spawn_per_tick and max_hp")
	}
	if worst := 2*c.Population + spawnCommands*c.SpawnPerTick; worst > command.MaxCommandsPerSnapshot {
		return errors.Wrapf(ErrInvalidConfig, "%d commands per tick exceed the budget of %d",
			worst, command.MaxCommandsPerSnapshot)
	}
	return nil
}

// Simulation is the authoritative game logic. It keeps the population up,
// sends units wandering and publishes health changes made by client damage.
type Simulation struct {
	config Config
	rand   *rand.Rand
	logger log.Log

	position *registry.Type
	health   *registry.Type
}

// NewSimulation adds the simulation to w, an authoritative world using
// NewRegistry's types.
func NewSimulation(w *world.World, cfg Config, logger log.Log) (*Simulation, error) {
	position, err := registry.TypeOf[Position](w.Registry())
	if err != nil {
		return nil, errors.Wrap(err, "game")
	}
	health, err := registry.TypeOf[Health](w.Registry())
	if err != nil {
		return nil, errors.Wrap(err, "game")
	}
	s := &Simulation{
		config:   cfg,
		rand:     rand.New(rand.NewPCG(cfg.Seed, cfg.Seed)),
		logger:   logger.With(log.String("component", "game")),
		position: position,
		health:   health,
	}
	w.AddSystem(s)
	return s, nil
}

func (s *Simulation) Name() string { return "game" }

func (s *Simulation) Update(f *world.Frame) {
	w := f.World
	if err := s.publishHealth(w); err != nil {
		s.logger.Warn("Failed to publish health", log.Error(err))
	}
	if err := s.spawn(w); err != nil {
		s.logger.Warn("Failed to spawn unit", log.Error(err))
	}
	if s.config.WanderEvery > 0 && f.Tick%s.config.WanderEvery == 0 {
		if err := s.wander(w); err != nil {
			s.logger.Warn("Failed to move units", log.Error(err))
		}
	}
}

// publishHealth mirrors damaged units to replicas and removes dead ones.
func (s *Simulation) publishHealth(w *world.World) error {
	for it := w.Query(s.health.Hash); it.Next(); {
		id := it.Item()
		h, _ := world.Get[Health](w, id)
		switch {
		case h.HP <= 0:
			if err := w.Destroy(id); err != nil {
				return err
			}
			s.logger.Debug("Unit died", log.Uint16("entity", uint16(id)))
		case h.changed:
			if err := world.ClientRPC[Health](w, id, "SetHP", h.HP, h.Max); err != nil {
				return err
			}
			h.changed = false
		}
	}
	return nil
}

func (s *Simulation) spawn(w *world.World) error {
	for n := 0; n < s.config.SpawnPerTick && w.Len() < s.config.Population; n++ {
		id, err := w.Spawn()
		if err != nil {
			return err
		}
		p, err := world.Add[Position](w, id)
		if err != nil {
			return err
		}
		h, err := world.Add[Health](w, id)
		if err != nil {
			return err
		}

		// Local state only changes once the matching rpc is logged, so a
		// rejected rpc leaves both sides equal.
		pos := s.randomPoint()
		if err := world.ClientRPC[Position](w, id, "Teleport", pos.X, pos.Y); err != nil {
			return err
		}
		p.Pos, p.Target = pos, pos
		if err := world.ClientRPC[Health](w, id, "SetHP", s.config.MaxHP, s.config.MaxHP); err != nil {
			return err
		}
		h.HP, h.Max = s.config.MaxHP, s.config.MaxHP
	}
	return nil
}

func (s *Simulation) wander(w *world.World) error {
	for it := w.Query(s.position.Hash); it.Next(); {
		id := it.Item()
		p, _ := world.Get[Position](w, id)
		target := s.randomPoint()
		if err := world.ClientRPC[Position](w, id, "MoveTo", target.X, target.Y, s.config.Speed); err != nil {
			return err
		}
		p.Target, p.Speed = target, s.config.Speed
	}
	return nil
}

func (s *Simulation) randomPoint() Vec2 {
	return Vec2{s.rand.Float32() * s.config.Arena, s.rand.Float32() * s.config.Arena}
}

// Units returns the ids of every unit, in id order.
func Units(w *world.World) []models.EntityID {
	t, err := registry.TypeOf[Position](w.Registry())
	if err != nil {
		return nil
	}
	return w.Query(t.Hash).ToSlice()
}
