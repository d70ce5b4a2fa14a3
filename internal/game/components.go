// Package game is the demo simulation the server binary replicates: units
// that wander an arena and can be damaged by clients.
package game

import (
	"github.com/zeusync/replication/internal/core/codec"
	"github.com/zeusync/replication/internal/core/models"
	"github.com/zeusync/replication/internal/core/schema/registry"
	"github.com/zeusync/replication/internal/core/world"
)

// Position walks towards Target at Speed units per second. It moves on every
// peer, so only target changes travel over the wire.
type Position struct {
	Pos    Vec2
	Target Vec2
	Speed  float32
}

func (p *Position) Update(f *world.Frame) {
	p.Pos = Step(p.Pos, p.Target, p.Speed*float32(f.Delta.Seconds()))
}

type Health struct {
	HP  int32
	Max int32

	changed bool // authority only
}

// NewRegistry registers the demo component types. Servers and clients must
// both use it.
func NewRegistry() *registry.Registry {
	reg := registry.New()
	registry.MustRegister[Position](reg, registry.WithName("Position"),
		registry.WithMethod("Teleport", func(target models.Component, args []any) error {
			p := target.(*Position)
			p.Pos = Vec2{args[0].(float32), args[1].(float32)}
			p.Target = p.Pos
			return nil
		}, codec.ValueParam(codec.Float32), codec.ValueParam(codec.Float32)),
		registry.WithMethod("MoveTo", func(target models.Component, args []any) error {
			p := target.(*Position)
			p.Target = Vec2{args[0].(float32), args[1].(float32)}
			p.Speed = args[2].(float32)
			return nil
		}, codec.ValueParam(codec.Float32), codec.ValueParam(codec.Float32), codec.ValueParam(codec.Float32)),
	)
	registry.MustRegister[Health](reg, registry.WithName("Health"),
		registry.WithMethod("SetHP", func(target models.Component, args []any) error {
			h := target.(*Health)
			h.HP, h.Max = args[0].(int32), args[1].(int32)
			return nil
		}, codec.ValueParam(codec.Int32), codec.ValueParam(codec.Int32)),
		registry.WithMethod("Damage", func(target models.Component, args []any) error {
			h := target.(*Health)
			if amount := args[0].(int32); amount > 0 {
				h.HP = max(h.HP-amount, 0)
				h.changed = true
			}
			return nil
		}, codec.ValueParam(codec.Int32)),
	)
	return reg
}
