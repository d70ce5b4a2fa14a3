// Package world is the entity/component store whose mutations are recorded as
// replication commands.
//
// A World is owned by one goroutine, the one calling Tick or Run. Submit is
// the only method that may be called from elsewhere.
package world

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/armon/go-metrics"

	"github.com/zeusync/replication/internal/core/clock"
	"github.com/zeusync/replication/internal/core/command"
	"github.com/zeusync/replication/internal/core/models"
	"github.com/zeusync/replication/internal/core/observability/log"
	"github.com/zeusync/replication/internal/core/schema/registry"
)

// Role decides which RPC kind a world executes when commands are applied.
type Role uint8

const (
	// Authority executes ServerRpc commands received from peers.
	Authority Role = iota
	// Replica executes ClientRpc commands received from the authority.
	Replica
)

func (r Role) String() string {
	if r == Replica {
		return "replica"
	}
	return "authority"
}

type phase uint8

const (
	phaseIdle phase = iota
	phaseActions
	phaseUpdate
	phaseLate
)

// Frame is handed to every hook of one tick.
type Frame struct {
	World *World
	Tick  uint32
	Time  int64 // 100 ns units since the Unix epoch
	Delta time.Duration
}

// Updater is implemented by components and systems that run every tick.
type Updater interface {
	Update(f *Frame)
}

// LateUpdater runs after every Updater of the tick. Late hooks observe the
// tick's final state and may not mutate the world.
type LateUpdater interface {
	LateUpdate(f *Frame)
}

// System is world-level logic. A system implements Updater, LateUpdater or
// both.
type System interface {
	Name() string
}

type entity struct {
	id         models.EntityID
	components []models.Component
	types      []*registry.Type
}

func (e *entity) index(h models.TypeHash) int {
	for i, t := range e.types {
		if t.Hash == h {
			return i
		}
	}
	return -1
}

type Option func(*World)

// WithRole sets the world's role. The default is Authority.
func WithRole(r Role) Option {
	return func(w *World) {
		w.role = r
	}
}

// WithNow replaces the wall clock used to stamp ticks.
func WithNow(now func() time.Time) Option {
	return func(w *World) {
		w.now = now
	}
}

// WithBudget lowers the number of commands one tick may produce.
func WithBudget(n int) Option {
	return func(w *World) {
		if n > 0 && n < command.MaxCommandsPerSnapshot {
			w.budget = n
		}
	}
}

type World struct {
	registry *registry.Registry
	log      *command.Log
	logger   log.Log
	role     Role
	now      func() time.Time

	entities map[models.EntityID]*entity
	lastID   models.EntityID
	systems  []System

	tick     uint32
	time     int64
	lastTick time.Time
	phase    phase
	emitted  int
	budget   int

	actionsMu sync.Mutex
	actions   []func(*World)
}

func New(reg *registry.Registry, logger log.Log, opts ...Option) *World {
	w := &World{
		registry: reg,
		log:      command.NewLog(),
		logger:   logger.With(log.String("component", "world")),
		now:      time.Now,
		entities: make(map[models.EntityID]*entity),
		tick:     1,
		budget:   command.MaxCommandsPerSnapshot,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.lastTick = w.now()
	w.time = clock.ToTicks(w.lastTick)
	w.logger = w.logger.With(log.String("role", w.role.String()))
	return w
}

func (w *World) Registry() *registry.Registry { return w.registry }

// Log is the command log every mutation is appended to.
func (w *World) Log() *command.Log { return w.log }

func (w *World) Role() Role { return w.role }

// CurrentTick is the tick commands emitted now are stamped with.
func (w *World) CurrentTick() uint32 { return w.tick }

// SettledTick is the newest tick whose commands are all in the log. During
// late update that is the current tick; at any other time the current tick
// can still emit, so it is the one before.
func (w *World) SettledTick() uint32 {
	if w.phase == phaseLate {
		return w.tick
	}
	return w.tick - 1
}

// Time is the current tick's stamp in 100 ns units since the Unix epoch.
func (w *World) Time() int64 { return w.time }

// AddSystem appends s to the system list. Systems run after components in
// each phase, in the order they were added.
func (w *World) AddSystem(s System) {
	w.systems = append(w.systems, s)
	w.logger.Debug("System added", log.String("system", s.Name()))
}

// Submit queues fn to run on the world goroutine at the start of the next
// tick. Actions run in submission order.
func (w *World) Submit(fn func(*World)) {
	w.actionsMu.Lock()
	w.actions = append(w.actions, fn)
	w.actionsMu.Unlock()
}

// Do runs fn on the world goroutine and waits for it. The world must be
// ticking for Do to return before ctx ends.
func (w *World) Do(ctx context.Context, fn func(*World)) error {
	done := make(chan struct{})
	w.Submit(func(w *World) {
		defer close(done)
		fn(w)
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick runs one simulation step: queued actions, update hooks, late-update
// hooks, then advances the tick counter and its time stamp.
func (w *World) Tick() {
	start := time.Now()
	defer metrics.MeasureSince([]string{"world", "tick"}, start)

	w.actionsMu.Lock()
	actions := w.actions
	w.actions = nil
	w.actionsMu.Unlock()

	w.phase = phaseActions
	for _, fn := range actions {
		fn(w)
	}

	now := w.now()
	frame := &Frame{World: w, Tick: w.tick, Time: w.time, Delta: now.Sub(w.lastTick)}

	w.phase = phaseUpdate
	for _, c := range w.hooked() {
		if u, ok := c.(Updater); ok {
			u.Update(frame)
		}
	}
	for _, s := range w.systems {
		if u, ok := s.(Updater); ok {
			u.Update(frame)
		}
	}

	w.phase = phaseLate
	for _, c := range w.hooked() {
		if u, ok := c.(LateUpdater); ok {
			u.LateUpdate(frame)
		}
	}
	for _, s := range w.systems {
		if u, ok := s.(LateUpdater); ok {
			u.LateUpdate(frame)
		}
	}

	metrics.IncrCounter([]string{"world", "commands"}, float32(w.emitted))
	metrics.SetGauge([]string{"world", "entities"}, float32(len(w.entities)))

	w.phase = phaseIdle
	w.tick++
	w.lastTick = now
	w.time = clock.ToTicks(now)
	w.emitted = 0
}

// Run ticks every rate until ctx is done.
func (w *World) Run(ctx context.Context, rate time.Duration) error {
	ticker := time.NewTicker(rate)
	defer ticker.Stop()

	w.logger.Info("Tick loop started", log.Duration("rate", rate))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Tick loop stopped", log.Uint32("tick", w.tick))
			return nil
		case <-ticker.C:
			w.Tick()
		}
	}
}

// hooked lists every component in entity id order, then attach order.
func (w *World) hooked() []models.Component {
	var out []models.Component
	for _, id := range w.Entities() {
		out = append(out, w.entities[id].components...)
	}
	return out
}

// Entities returns the live entity ids in ascending order.
func (w *World) Entities() []models.EntityID {
	ids := make([]models.EntityID, 0, len(w.entities))
	for id := range w.entities {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len returns the number of live entities.
func (w *World) Len() int {
	return len(w.entities)
}

// Exists reports whether id is live.
func (w *World) Exists(id models.EntityID) bool {
	_, ok := w.entities[id]
	return ok
}

// GetComponents returns id's components in attach order.
func (w *World) GetComponents(id models.EntityID) []models.Component {
	e, ok := w.entities[id]
	if !ok {
		return nil
	}
	return slices.Clone(e.components)
}

// GetComponent returns the component of type h attached to id.
func (w *World) GetComponent(id models.EntityID, h models.TypeHash) (models.Component, bool) {
	e, ok := w.entities[id]
	if !ok {
		return nil, false
	}
	i := e.index(h)
	if i < 0 {
		return nil, false
	}
	return e.components[i], true
}

// Get returns id's component of type T.
func Get[T any](w *World, id models.EntityID) (*T, bool) {
	t, err := registry.TypeOf[T](w.registry)
	if err != nil {
		return nil, false
	}
	c, ok := w.GetComponent(id, t.Hash)
	if !ok {
		return nil, false
	}
	v, ok := c.(*T)
	return v, ok
}

// Query returns the live entities that carry every listed component type, in
// ascending id order.
func (w *World) Query(types ...models.TypeHash) models.Iterator[models.EntityID] {
	var ids []models.EntityID
	for _, id := range w.Entities() {
		e := w.entities[id]
		match := true
		for _, h := range types {
			if e.index(h) < 0 {
				match = false
				break
			}
		}
		if match {
			ids = append(ids, id)
		}
	}
	return models.NewSliceIterator(ids)
}

// State describes the whole world as commands: a Spawn for every entity, then
// an AddComponent for every attached component.
func (w *World) State() []command.Command {
	ids := w.Entities()
	out := make([]command.Command, 0, len(ids))
	for _, id := range ids {
		out = append(out, command.Spawn(id))
	}
	for _, id := range ids {
		for _, t := range w.entities[id].types {
			out = append(out, command.Add(id, t.Hash))
		}
	}
	return out
}
