package replication

import (
	"github.com/pkg/errors"

	"github.com/zeusync/replication/internal/core/command"
	"github.com/zeusync/replication/pkg/sequence"
)

// Assembler groups log entries into one snapshot per tick and keeps the
// sealed snapshots until they are acknowledged.
type Assembler struct {
	current *command.Snapshot
	backlog *sequence.Ring[command.Snapshot]
}

// NewAssembler returns an assembler whose backlog holds at most maxBacklog
// snapshots. Zero or less means unbounded.
func NewAssembler(maxBacklog int) *Assembler {
	return &Assembler{backlog: sequence.NewRing[command.Snapshot](maxBacklog)}
}

// Route appends e to the current snapshot, creating it with e's stamp when
// absent. An entry from a later tick seals the stale snapshot first.
func (a *Assembler) Route(e command.Entry) error {
	if a.current != nil && e.Tick > a.current.Tick {
		if err := a.Seal(); err != nil {
			return err
		}
	}
	if a.current == nil {
		a.current = &command.Snapshot{Tick: e.Tick, Time: e.Time}
	}
	if a.current.Full() {
		return errors.Wrapf(ErrSnapshotFull, "tick %d", a.current.Tick)
	}
	a.current.Append(e.Command)
	return nil
}

// Seal moves the current snapshot to the back of the backlog. It is a no-op
// when nothing was routed since the last seal.
func (a *Assembler) Seal() error {
	if a.current == nil {
		return nil
	}
	if a.backlog.Full() {
		return errors.Wrapf(ErrBacklogOverflow, "%d snapshots un-acked", a.backlog.Len())
	}
	a.backlog.Push(*a.current)
	a.current = nil
	return nil
}

// Current returns the snapshot being assembled, or nil.
func (a *Assembler) Current() *command.Snapshot {
	return a.current
}

// Acknowledge drops every snapshot at the front of the backlog whose tick is
// at or before tick and returns how many were dropped.
func (a *Assembler) Acknowledge(tick uint32) int {
	n := 0
	for {
		front, ok := a.backlog.Front()
		if !ok || front.Tick > tick {
			return n
		}
		a.backlog.PopFront()
		n++
	}
}

// Backlog returns the un-acked snapshots, oldest first.
func (a *Assembler) Backlog() []command.Snapshot {
	return a.backlog.Slice()
}

// Len returns the backlog depth.
func (a *Assembler) Len() int {
	return a.backlog.Len()
}
