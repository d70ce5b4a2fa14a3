// Package middlewares holds hooks the server runs around every inbound peer
// message.
package middlewares

import (
	"sort"
	"time"

	"github.com/zeusync/replication/internal/core/protocol"
)

// Middleware observes or rejects inbound messages. A BeforeHandle error
// drops the message without closing the peer.
type Middleware interface {
	Name() string
	// Priority orders the chain, highest first.
	Priority() uint16
	BeforeHandle(peer protocol.PeerID, msg protocol.Message) error
	AfterHandle(peer protocol.PeerID, msg protocol.Message, elapsed time.Duration, err error)
	OnConnect(peer protocol.PeerID)
	OnDisconnect(peer protocol.PeerID, reason string)
}

// Chain runs middlewares in priority order
type Chain struct {
	items []Middleware
}

func NewChain(items ...Middleware) *Chain {
	sorted := append([]Middleware(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() > sorted[j].Priority()
	})
	return &Chain{items: sorted}
}

// Handle runs BeforeHandle on each middleware, then fn, then AfterHandle in
// reverse order. The first BeforeHandle error stops the chain and is
// returned.
func (c *Chain) Handle(peer protocol.PeerID, msg protocol.Message, fn func() error) error {
	for _, m := range c.items {
		if err := m.BeforeHandle(peer, msg); err != nil {
			return err
		}
	}
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	for i := len(c.items) - 1; i >= 0; i-- {
		c.items[i].AfterHandle(peer, msg, elapsed, err)
	}
	return err
}

func (c *Chain) Connect(peer protocol.PeerID) {
	for _, m := range c.items {
		m.OnConnect(peer)
	}
}

func (c *Chain) Disconnect(peer protocol.PeerID, reason string) {
	for _, m := range c.items {
		m.OnDisconnect(peer, reason)
	}
}
