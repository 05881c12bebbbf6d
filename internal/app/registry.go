package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/yomogy/ito/internal/core"
	"github.com/yomogy/ito/internal/domain"
)

type regEntry struct {
	Conn   core.SignalConn
	Ctx    core.ConnContext
	Cancel context.CancelFunc
}

// Registry maps live connections to their immutable ConnContext. The
// context value is replaced wholesale on every state transition; nothing
// outside the registry holds a mutable reference to it.
type Registry struct {
	mu      sync.RWMutex
	entries map[domain.SessionID]*regEntry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[domain.SessionID]*regEntry)}
}

func (r *Registry) Bind(cc core.ConnContext, conn core.SignalConn, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.entries[cc.SessionID]; ok && old.Cancel != nil {
		// A second tab with the same session id replaces the first.
		old.Cancel()
	}
	r.entries[cc.SessionID] = &regEntry{Conn: conn, Ctx: cc, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(cc.SessionID)).Msg("bound connection")
}

func (r *Registry) Unbind(sid domain.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbound connection")
}

func (r *Registry) Get(sid domain.SessionID) (core.ConnContext, core.SignalConn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[sid]
	if !ok {
		return core.ConnContext{}, nil, false
	}
	return e.Ctx, e.Conn, true
}

// Replace swaps in a new ConnContext for an existing connection.
func (r *Registry) Replace(cc core.ConnContext) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[cc.SessionID]
	if !ok {
		return false
	}
	e.Ctx = cc
	return true
}

// Snap is a point-in-time view of one live connection.
type Snap struct {
	Ctx  core.ConnContext
	Conn core.SignalConn
}

// InRoom lists live connections currently bound to the room.
func (r *Registry) InRoom(roomID domain.RoomID) []Snap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Snap
	for _, e := range r.entries {
		if e.Ctx.RoomID == roomID {
			out = append(out, Snap{Ctx: e.Ctx, Conn: e.Conn})
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
