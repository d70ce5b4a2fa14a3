package command

// MaxCommandsPerSnapshot is the largest batch the one byte count field of the
// snapshot header can describe.
const MaxCommandsPerSnapshot = 255

// Snapshot is the ordered batch of commands produced during one tick.
// Time is in 100 ns units since the Unix epoch.
type Snapshot struct {
	Tick     uint32
	Time     int64
	Commands []Command
}

// Len returns the number of commands in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.Commands)
}

// Full reports whether one more command would overflow the header count.
func (s *Snapshot) Full() bool {
	return len(s.Commands) >= MaxCommandsPerSnapshot
}

// Append adds cmd to the end of the batch.
func (s *Snapshot) Append(cmd Command) {
	s.Commands = append(s.Commands, cmd)
}

// Chunk splits commands into snapshots of at most MaxCommandsPerSnapshot
// commands, all stamped with the same tick and time. An empty input yields a
// single empty snapshot so the stamp is still delivered.
func Chunk(tick uint32, time int64, commands []Command) []Snapshot {
	if len(commands) == 0 {
		return []Snapshot{{Tick: tick, Time: time}}
	}
	out := make([]Snapshot, 0, (len(commands)+MaxCommandsPerSnapshot-1)/MaxCommandsPerSnapshot)
	for start := 0; start < len(commands); start += MaxCommandsPerSnapshot {
		end := min(start+MaxCommandsPerSnapshot, len(commands))
		out = append(out, Snapshot{
			Tick:     tick,
			Time:     time,
			Commands: append([]Command(nil), commands[start:end]...),
		})
	}
	return out
}
