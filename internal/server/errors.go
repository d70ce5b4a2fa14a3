package server

import "errors"

// Server-specific errors
var (
	ErrServerClosed         = errors.New("server is closed")
	ErrServerAlreadyRunning = errors.New("server is already running")
	ErrMaxPeersReached      = errors.New("maximum peers reached")
	ErrUnexpectedMessage    = errors.New("unexpected message from client")
	ErrNotServerRPC         = errors.New("client batch carries a non server rpc command")
)
