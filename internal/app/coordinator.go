// Package app coordinates sessions, rooms and signaling relay on top of
// the store and the connection registry. All multi-document mutations run
// inside store.WithTx; broadcasts go out only after the commit.
package app

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/yomogy/ito/internal/core"
	"github.com/yomogy/ito/internal/domain"
	"github.com/yomogy/ito/internal/metrics"
	"github.com/yomogy/ito/internal/protocol"
	"github.com/yomogy/ito/internal/store"
)

type Coordinator struct {
	Registry *Registry
	Store    store.Store

	// RoomCapacity caps rooms whose create request names no max player
	// count. Overridden from config at startup.
	RoomCapacity int
}

func NewCoordinator(st store.Store) *Coordinator {
	return &Coordinator{
		Registry:     NewRegistry(),
		Store:        st,
		RoomCapacity: domain.DefaultRoomCapacity,
	}
}

// Connect resolves the presented session id into a live ConnContext.
// An unknown or empty id yields a fresh session; a known id restores the
// stored user/room bindings and flips connected back on. When the
// restored session was in a room, the rest of the room learns about the
// reconnect instead of a re-join.
func (c *Coordinator) Connect(ctx context.Context, presented domain.SessionID, conn core.SignalConn, cancel context.CancelFunc) (*protocol.SessionStatePush, error) {
	var sess *domain.Session
	if presented != "" {
		stored, err := c.Store.Sessions().Get(ctx, presented)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		sess = stored
	}

	restored := sess != nil
	if restored {
		sess.Connected = true
		if err := c.Store.Sessions().Update(ctx, sess); err != nil {
			return nil, err
		}
	} else {
		sess = domain.NewSession(domain.SessionID(uuid.NewString()))
		if err := c.Store.Sessions().Upsert(ctx, sess); err != nil {
			return nil, err
		}
	}

	push := &protocol.SessionStatePush{Session: sess}
	if sess.HasUser() {
		user, err := c.Store.Users().Get(ctx, sess.UserID)
		if errors.Is(err, store.ErrNotFound) {
			// The user document is gone; drop the stale binding rather
			// than hand the client a dangling reference.
			log.Warn().Str("module", "app").Str("sid", string(sess.ID)).Msg("stale user binding dropped")
			sess.UserID = ""
			sess.RoomID = ""
			if err := c.Store.Sessions().Update(ctx, sess); err != nil {
				return nil, err
			}
		} else if err != nil {
			return nil, err
		} else {
			push.User = user
		}
	}
	if sess.InRoom() {
		room, err := c.Store.Rooms().Get(ctx, sess.RoomID)
		if errors.Is(err, store.ErrNotFound) {
			log.Warn().Str("module", "app").Str("sid", string(sess.ID)).Msg("stale room binding dropped")
			sess.RoomID = ""
			if err := c.Store.Sessions().Update(ctx, sess); err != nil {
				return nil, err
			}
		} else if err != nil {
			return nil, err
		} else {
			push.Room = room
		}
	}

	cc := core.ConnContext{SessionID: sess.ID, UserID: sess.UserID, RoomID: sess.RoomID}
	c.Registry.Bind(cc, conn, cancel)
	metrics.Connections.Inc()

	if restored && cc.InRoom() && push.User != nil {
		c.broadcast(cc.RoomID, protocol.Out{
			T:       protocol.PlayerReconnected,
			Payload: protocol.PlayerEvent{User: *push.User},
		}, cc.SessionID)
	}

	log.Info().Str("module", "app").Str("sid", string(sess.ID)).Bool("restored", restored).Msg("session connected")
	return push, nil
}

// Disconnect marks the session disconnected but keeps its room roster
// slot: a transport drop is not a leave. Failure to persist the flag is
// surfaced and the in-memory state left as-is.
//
// conn identifies the caller: when a second tab has already replaced the
// binding, the first tab's teardown arrives here with a conn the registry
// no longer knows, and must not touch the live replacement.
func (c *Coordinator) Disconnect(ctx context.Context, sid domain.SessionID, conn core.SignalConn) error {
	cc, bound, ok := c.Registry.Get(sid)
	if !ok {
		return nil
	}
	if bound != conn {
		log.Info().Str("module", "app").Str("sid", string(sid)).Msg("stale disconnect ignored, connection was replaced")
		return nil
	}
	c.Registry.Unbind(sid)
	metrics.Connections.Dec()

	sess, err := c.Store.Sessions().Get(ctx, sid)
	if err != nil {
		return err
	}
	sess.Connected = false
	if err := c.Store.Sessions().Update(ctx, sess); err != nil {
		return err
	}

	if cc.InRoom() && cc.LoggedIn() {
		user, err := c.Store.Users().Get(ctx, cc.UserID)
		if err == nil {
			c.broadcast(cc.RoomID, protocol.Out{
				T:       protocol.PlayerDisconnected,
				Payload: protocol.PlayerEvent{User: *user},
			}, sid)
		}
	}
	log.Info().Str("module", "app").Str("sid", string(sid)).Msg("session disconnected")
	return nil
}

// broadcast fans an envelope out to every live connection in the room,
// except the listed session ids. Slow receivers are skipped, not waited on.
func (c *Coordinator) broadcast(roomID domain.RoomID, out protocol.Out, except ...domain.SessionID) {
	data, err := json.Marshal(out)
	if err != nil {
		log.Error().Err(err).Str("module", "app").Msg("broadcast marshal")
		return
	}
	skip := make(map[domain.SessionID]struct{}, len(except))
	for _, sid := range except {
		skip[sid] = struct{}{}
	}
	for _, snap := range c.Registry.InRoom(roomID) {
		if _, ok := skip[snap.Ctx.SessionID]; ok {
			continue
		}
		if err := snap.Conn.TrySend(core.Frame(data)); err != nil {
			log.Warn().Str("module", "app").Str("sid", string(snap.Ctx.SessionID)).Str("type", string(out.T)).Msg("broadcast dropped")
		}
	}
}
