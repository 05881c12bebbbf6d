package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/yomogy/ito/internal/domain"
	"github.com/yomogy/ito/internal/metrics"
	"github.com/yomogy/ito/internal/protocol"
	"github.com/yomogy/ito/internal/store"
)

// roomIDAttempts bounds the join-code generation loop. Collisions are
// already rare at one in 32^6; five misses in a row means something else
// is wrong.
const roomIDAttempts = 5

var errRoomIDExhausted = errors.New("could not allocate a unique room id")

// CreateRoom allocates a join code and creates the room with the caller
// as sole player and admin. Room insert, session update and user status
// commit atomically; a code collision retries the whole transaction.
func (c *Coordinator) CreateRoom(ctx context.Context, sid domain.SessionID, setting domain.RoomSetting) (*domain.Room, error) {
	cc, _, ok := c.Registry.Get(sid)
	if !ok || !cc.LoggedIn() {
		return nil, domain.ErrNotLoggedIn
	}
	if cc.InRoom() {
		return nil, domain.ErrAlreadyInRoom
	}
	if setting.MaxPlayers <= 0 {
		setting.MaxPlayers = c.RoomCapacity
	}

	var room *domain.Room
	for attempt := 0; attempt < roomIDAttempts; attempt++ {
		candidate := domain.NewRoom(domain.GenerateRoomID(), cc.UserID, setting)
		err := c.Store.WithTx(ctx, func(ctx context.Context) error {
			if err := c.Store.Rooms().Insert(ctx, candidate); err != nil {
				return err
			}
			if err := c.bindRoom(ctx, sid, cc.UserID, candidate.ID); err != nil {
				return err
			}
			return nil
		})
		if errors.Is(err, store.ErrDuplicateID) {
			continue
		}
		if err != nil {
			return nil, err
		}
		room = candidate
		break
	}
	if room == nil {
		return nil, errRoomIDExhausted
	}

	c.Registry.Replace(cc.WithRoom(room.ID))
	metrics.RoomsCreated.Inc()
	log.Info().Str("module", "app").Str("sid", string(sid)).Str("room", string(room.ID)).Msg("room created")
	return room, nil
}

// JoinRoom adds the caller to an existing room. Absent, full and playing
// rooms reject with a message and no state mutation.
func (c *Coordinator) JoinRoom(ctx context.Context, sid domain.SessionID, roomID domain.RoomID) (*protocol.RoomStatePush, error) {
	cc, _, ok := c.Registry.Get(sid)
	if !ok || !cc.LoggedIn() {
		return nil, domain.ErrNotLoggedIn
	}
	if cc.InRoom() {
		return nil, domain.ErrAlreadyInRoom
	}

	var push *protocol.RoomStatePush
	err := c.Store.WithTx(ctx, func(ctx context.Context) error {
		room, err := c.Store.Rooms().Get(ctx, roomID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.ErrRoomNotFound
		}
		if err != nil {
			return err
		}
		if err := room.Joinable(); err != nil {
			return err
		}

		room.Players = append(room.Players, cc.UserID)
		if len(room.Players) >= room.Setting.MaxPlayers {
			room.Status = domain.RoomFull
		}
		if err := c.Store.Rooms().Update(ctx, room); err != nil {
			return err
		}
		if err := c.bindRoom(ctx, sid, cc.UserID, room.ID); err != nil {
			return err
		}

		players, err := c.Store.Users().GetMany(ctx, room.Players)
		if err != nil {
			return fmt.Errorf("room roster: %w", err)
		}
		push = &protocol.RoomStatePush{Room: room, Players: players}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.Registry.Replace(cc.WithRoom(roomID))

	joined := push.Players[len(push.Players)-1]
	c.broadcast(roomID, protocol.Out{
		T:       protocol.PlayerJoined,
		Payload: protocol.PlayerEvent{User: joined},
	}, sid)
	log.Info().Str("module", "app").Str("sid", string(sid)).Str("room", string(roomID)).Msg("joined room")
	return push, nil
}

// LeaveRoom removes the caller from its room. Player removal and admin
// promotion (or room deletion when the roster empties) are one
// transaction, so a crash can never leave a dangling admin reference.
func (c *Coordinator) LeaveRoom(ctx context.Context, sid domain.SessionID) error {
	cc, _, ok := c.Registry.Get(sid)
	if !ok || !cc.InRoom() {
		return domain.ErrNotInRoom
	}
	roomID := cc.RoomID

	var (
		newAdmin domain.UserID
		deleted  bool
		leaver   *domain.User
	)
	err := c.Store.WithTx(ctx, func(ctx context.Context) error {
		room, err := c.Store.Rooms().Get(ctx, roomID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.ErrRoomNotFound
		}
		if err != nil {
			return err
		}

		remaining := room.Players[:0:0]
		for _, p := range room.Players {
			if p != cc.UserID {
				remaining = append(remaining, p)
			}
		}
		if len(remaining) == len(room.Players) {
			return domain.ErrPlayerNotFound
		}
		room.Players = remaining

		switch {
		case len(room.Players) == 0:
			if err := c.Store.Rooms().Delete(ctx, room.ID); err != nil {
				return err
			}
			deleted = true
		default:
			if room.AdminUserID == cc.UserID {
				room.AdminUserID = room.Players[0]
				newAdmin = room.AdminUserID
			}
			if room.Status == domain.RoomFull && len(room.Players) < room.Setting.MaxPlayers {
				room.Status = domain.RoomAvailable
			}
			if err := c.Store.Rooms().Update(ctx, room); err != nil {
				return err
			}
		}

		sess, err := c.Store.Sessions().Get(ctx, sid)
		if err != nil {
			return err
		}
		sess.RoomID = ""
		if err := c.Store.Sessions().Update(ctx, sess); err != nil {
			return err
		}

		leaver, err = c.Store.Users().Get(ctx, cc.UserID)
		if err != nil {
			return err
		}
		leaver.Status = domain.UserIdle
		return c.Store.Users().Update(ctx, leaver)
	})
	if err != nil {
		return err
	}

	c.Registry.Replace(cc.WithoutRoom())
	if deleted {
		metrics.RoomsDeleted.Inc()
	}

	c.broadcast(roomID, protocol.Out{
		T:       protocol.PlayerLeft,
		Payload: protocol.PlayerEvent{User: *leaver},
	}, sid)
	if newAdmin != "" {
		c.broadcast(roomID, protocol.Out{
			T:       protocol.AdminChanged,
			Payload: protocol.AdminChangedPush{AdminUserID: newAdmin},
		}, sid)
	}
	log.Info().Str("module", "app").Str("sid", string(sid)).Str("room", string(roomID)).Bool("deleted", deleted).Msg("left room")
	return nil
}

// EditRoom is an admin-only update of the room setting, broadcast to all
// occupants.
func (c *Coordinator) EditRoom(ctx context.Context, sid domain.SessionID, setting domain.RoomSetting) (*domain.Room, error) {
	cc, _, ok := c.Registry.Get(sid)
	if !ok || !cc.InRoom() {
		return nil, domain.ErrNotInRoom
	}

	var room *domain.Room
	err := c.Store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		room, err = c.Store.Rooms().Get(ctx, cc.RoomID)
		if err != nil {
			return err
		}
		if room.AdminUserID != cc.UserID {
			return domain.ErrNotAdmin
		}
		if setting.MaxPlayers <= 0 {
			setting.MaxPlayers = room.Setting.MaxPlayers
		}
		room.Setting = setting
		return c.Store.Rooms().Update(ctx, room)
	})
	if err != nil {
		return nil, err
	}

	c.broadcast(cc.RoomID, protocol.Out{
		T:       protocol.RoomEdited,
		Payload: protocol.RoomStatePush{Room: room},
	})
	return room, nil
}

// ChangeAdmin hands the admin role to another roster member.
func (c *Coordinator) ChangeAdmin(ctx context.Context, sid domain.SessionID, target domain.UserID) error {
	cc, _, ok := c.Registry.Get(sid)
	if !ok || !cc.InRoom() {
		return domain.ErrNotInRoom
	}

	err := c.Store.WithTx(ctx, func(ctx context.Context) error {
		room, err := c.Store.Rooms().Get(ctx, cc.RoomID)
		if err != nil {
			return err
		}
		if room.AdminUserID != cc.UserID {
			return domain.ErrNotAdmin
		}
		if !room.HasPlayer(target) {
			return domain.ErrPlayerNotFound
		}
		room.AdminUserID = target
		return c.Store.Rooms().Update(ctx, room)
	})
	if err != nil {
		return err
	}

	c.broadcast(cc.RoomID, protocol.Out{
		T:       protocol.AdminChanged,
		Payload: protocol.AdminChangedPush{AdminUserID: target},
	})
	return nil
}

// bindRoom points the session and user documents at the room, inside the
// caller's transaction.
func (c *Coordinator) bindRoom(ctx context.Context, sid domain.SessionID, uid domain.UserID, roomID domain.RoomID) error {
	sess, err := c.Store.Sessions().Get(ctx, sid)
	if err != nil {
		return err
	}
	sess.RoomID = roomID
	if err := c.Store.Sessions().Update(ctx, sess); err != nil {
		return err
	}
	user, err := c.Store.Users().Get(ctx, uid)
	if err != nil {
		return err
	}
	user.Status = domain.UserPending
	return c.Store.Users().Update(ctx, user)
}
