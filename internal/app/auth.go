package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/yomogy/ito/internal/domain"
)

// Login creates a User and binds it to the connection's session. The user
// insert and the session update commit together or not at all.
func (c *Coordinator) Login(ctx context.Context, sid domain.SessionID, name string) (*domain.User, error) {
	cc, _, ok := c.Registry.Get(sid)
	if !ok {
		return nil, domain.ErrNotLoggedIn
	}
	if cc.LoggedIn() {
		return nil, domain.ErrSessionBusy
	}

	user, err := domain.NewUser(name)
	if err != nil {
		return nil, err
	}

	err = c.Store.WithTx(ctx, func(ctx context.Context) error {
		if err := c.Store.Users().Insert(ctx, user); err != nil {
			return err
		}
		sess, err := c.Store.Sessions().Get(ctx, sid)
		if err != nil {
			return err
		}
		sess.UserID = user.ID
		return c.Store.Sessions().Update(ctx, sess)
	})
	if err != nil {
		return nil, err
	}

	c.Registry.Replace(cc.WithUser(user.ID))
	log.Info().Str("module", "app").Str("sid", string(sid)).Str("user", string(user.ID)).Str("name", name).Msg("login")
	return user, nil
}

// Logout deletes the user and unbinds it from the session, forcing a
// room-leave first when one is active.
func (c *Coordinator) Logout(ctx context.Context, sid domain.SessionID) error {
	cc, _, ok := c.Registry.Get(sid)
	if !ok || !cc.LoggedIn() {
		return domain.ErrNotLoggedIn
	}

	if cc.InRoom() {
		if err := c.LeaveRoom(ctx, sid); err != nil {
			return err
		}
		cc, _, _ = c.Registry.Get(sid)
	}

	err := c.Store.WithTx(ctx, func(ctx context.Context) error {
		if err := c.Store.Users().Delete(ctx, cc.UserID); err != nil {
			return err
		}
		sess, err := c.Store.Sessions().Get(ctx, sid)
		if err != nil {
			return err
		}
		sess.UserID = ""
		return c.Store.Sessions().Update(ctx, sess)
	})
	if err != nil {
		return err
	}

	c.Registry.Replace(cc.WithoutUser())
	log.Info().Str("module", "app").Str("sid", string(sid)).Str("user", string(cc.UserID)).Msg("logout")
	return nil
}
