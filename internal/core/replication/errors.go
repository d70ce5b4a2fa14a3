package replication

import "errors"

var (
	// ErrBootstrapPending is returned when deltas are flushed to a peer whose
	// full-state bootstrap has not been confirmed sent.
	ErrBootstrapPending = errors.New("replication: bootstrap not sent")
	// ErrBootstrapBuilt is returned when a channel's bootstrap is built twice.
	ErrBootstrapBuilt = errors.New("replication: bootstrap already built")
	// ErrBacklogOverflow means a peer stopped acknowledging for longer than
	// the backlog holds. The peer has to be dropped.
	ErrBacklogOverflow = errors.New("replication: backlog overflow")
	// ErrSnapshotFull means one tick produced more commands than a snapshot
	// can carry.
	ErrSnapshotFull = errors.New("replication: snapshot full")
)
