package client

import "errors"

// Client-specific errors
var (
	ErrClientClosed     = errors.New("client is closed")
	ErrNotConnected     = errors.New("client is not connected")
	ErrAlreadyConnected = errors.New("client is already connected")
	ErrDisconnected     = errors.New("server closed the connection")
	ErrDesync           = errors.New("replica diverged from the server")
)
