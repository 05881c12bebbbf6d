// Package core holds the contracts between the coordinator and its
// adapters: the signaling transport and the per-connection context.
package core

import (
	"errors"

	"github.com/yomogy/ito/internal/domain"
)

// Frame is one encoded protocol envelope.
type Frame []byte

var ErrBackpressure = errors.New("backpressure")

// SignalConn abstracts the client's message transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConn interface {
	// TrySend enqueues without blocking; ErrBackpressure when the peer
	// cannot keep up.
	TrySend(Frame) error
	Close()
}

// ConnContext is the identity of one live connection. It is an immutable
// value: handlers never mutate it, they return a replacement which the
// registry swaps in wholesale on every state transition.
type ConnContext struct {
	SessionID domain.SessionID
	UserID    domain.UserID
	RoomID    domain.RoomID
}

func (c ConnContext) WithUser(id domain.UserID) ConnContext {
	c.UserID = id
	return c
}

func (c ConnContext) WithRoom(id domain.RoomID) ConnContext {
	c.RoomID = id
	return c
}

func (c ConnContext) WithoutUser() ConnContext {
	c.UserID = ""
	return c
}

func (c ConnContext) WithoutRoom() ConnContext {
	c.RoomID = ""
	return c
}

func (c ConnContext) LoggedIn() bool { return c.UserID != "" }
func (c ConnContext) InRoom() bool   { return c.RoomID != "" }
