package signal

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/yomogy/ito/internal/domain"
	"github.com/yomogy/ito/internal/protocol"
)

var errBadPayload = errors.New("bad_payload")

type handlerFunc func(ctx context.Context, sid domain.SessionID, c *wsConn, in protocol.In)

type dispatchTable map[protocol.Type]handlerFunc

// buildDispatch covers protocol.Requests exhaustively; the protocol test
// fails when a request type is added without a handler here.
func (ctl *Controller) buildDispatch() dispatchTable {
	return dispatchTable{
		protocol.Login:       ctl.handleLogin,
		protocol.Logout:      ctl.handleLogout,
		protocol.CreateRoom:  ctl.handleCreateRoom,
		protocol.JoinRoom:    ctl.handleJoinRoom,
		protocol.LeaveRoom:   ctl.handleLeaveRoom,
		protocol.EditRoom:    ctl.handleEditRoom,
		protocol.ChangeAdmin: ctl.handleChangeAdmin,
		protocol.Chat:        ctl.handleChat,
		protocol.MicReady:    ctl.handleMicReady,
		protocol.VoiceOffer:  ctl.handleVoiceOffer,
		protocol.VoiceAnswer: ctl.handleVoiceAnswer,
		protocol.Candidate:   ctl.handleCandidate,
		protocol.Ping:        ctl.handlePing,
	}
}

// DispatchTypes exposes the covered types for the coverage test.
func (ctl *Controller) DispatchTypes() []protocol.Type {
	out := make([]protocol.Type, 0, len(ctl.dispatch))
	for t := range ctl.dispatch {
		out = append(out, t)
	}
	return out
}

// reply answers a request, echoing its id. Validation failures become a
// typed error payload, never a dropped frame.
func (ctl *Controller) reply(c *wsConn, in protocol.In, t protocol.Type, payload any) {
	ctl.push(c, protocol.Out{ID: in.ID, T: t, Payload: payload})
}

func (ctl *Controller) replyErr(c *wsConn, in protocol.In, err error) {
	ctl.push(c, protocol.Out{ID: in.ID, T: protocol.Error, Payload: protocol.ErrorPayload{Message: err.Error()}})
}

func (ctl *Controller) handleLogin(ctx context.Context, sid domain.SessionID, c *wsConn, in protocol.In) {
	p := protocol.Unwrap[protocol.LoginReq](in.Payload)
	if p == nil {
		ctl.replyErr(c, in, domain.ErrNameEmpty)
		return
	}
	user, err := ctl.Coord.Login(ctx, sid, p.Name)
	if err != nil {
		ctl.replyErr(c, in, err)
		return
	}
	ctl.reply(c, in, protocol.Ack, protocol.PlayerEvent{User: *user})
}

func (ctl *Controller) handleLogout(ctx context.Context, sid domain.SessionID, c *wsConn, in protocol.In) {
	if err := ctl.Coord.Logout(ctx, sid); err != nil {
		ctl.replyErr(c, in, err)
		return
	}
	ctl.reply(c, in, protocol.Ack, nil)
}

func (ctl *Controller) handleCreateRoom(ctx context.Context, sid domain.SessionID, c *wsConn, in protocol.In) {
	p := protocol.Unwrap[protocol.CreateRoomReq](in.Payload)
	if p == nil {
		ctl.replyErr(c, in, errBadPayload)
		return
	}
	room, err := ctl.Coord.CreateRoom(ctx, sid, p.Setting)
	if err != nil {
		ctl.replyErr(c, in, err)
		return
	}
	ctl.reply(c, in, protocol.Ack, protocol.RoomStatePush{Room: room})
}

func (ctl *Controller) handleJoinRoom(ctx context.Context, sid domain.SessionID, c *wsConn, in protocol.In) {
	p := protocol.Unwrap[protocol.JoinRoomReq](in.Payload)
	if p == nil || p.RoomID == "" {
		ctl.replyErr(c, in, domain.ErrRoomNotFound)
		return
	}
	push, err := ctl.Coord.JoinRoom(ctx, sid, domain.RoomID(p.RoomID))
	if err != nil {
		ctl.replyErr(c, in, err)
		return
	}
	ctl.reply(c, in, protocol.RoomState, push)
}

func (ctl *Controller) handleLeaveRoom(ctx context.Context, sid domain.SessionID, c *wsConn, in protocol.In) {
	if err := ctl.Coord.LeaveRoom(ctx, sid); err != nil {
		ctl.replyErr(c, in, err)
		return
	}
	ctl.reply(c, in, protocol.Ack, nil)
}

func (ctl *Controller) handleEditRoom(ctx context.Context, sid domain.SessionID, c *wsConn, in protocol.In) {
	p := protocol.Unwrap[protocol.EditRoomReq](in.Payload)
	if p == nil {
		ctl.replyErr(c, in, errBadPayload)
		return
	}
	room, err := ctl.Coord.EditRoom(ctx, sid, p.Setting)
	if err != nil {
		ctl.replyErr(c, in, err)
		return
	}
	ctl.reply(c, in, protocol.Ack, protocol.RoomStatePush{Room: room})
}

func (ctl *Controller) handleChangeAdmin(ctx context.Context, sid domain.SessionID, c *wsConn, in protocol.In) {
	p := protocol.Unwrap[protocol.ChangeAdminReq](in.Payload)
	if p == nil || p.UserID == "" {
		ctl.replyErr(c, in, errBadPayload)
		return
	}
	if err := ctl.Coord.ChangeAdmin(ctx, sid, domain.UserID(p.UserID)); err != nil {
		ctl.replyErr(c, in, err)
		return
	}
	ctl.reply(c, in, protocol.Ack, nil)
}

func (ctl *Controller) handleChat(ctx context.Context, sid domain.SessionID, c *wsConn, in protocol.In) {
	p := protocol.Unwrap[protocol.ChatMsg](in.Payload)
	if p == nil || p.Message == "" {
		ctl.replyErr(c, in, errBadPayload)
		return
	}
	if err := ctl.Coord.Chat(ctx, sid, p.Message); err != nil {
		ctl.replyErr(c, in, err)
	}
}

func (ctl *Controller) handleMicReady(ctx context.Context, sid domain.SessionID, c *wsConn, in protocol.In) {
	if err := ctl.Coord.MicReady(ctx, sid); err != nil {
		ctl.replyErr(c, in, err)
	}
}

func (ctl *Controller) handleVoiceOffer(_ context.Context, sid domain.SessionID, c *wsConn, in protocol.In) {
	p := protocol.Unwrap[protocol.VoiceSignal](in.Payload)
	if p == nil || p.To == "" {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("bad offer payload")
		return
	}
	ctl.Coord.RelayOffer(sid, *p)
}

func (ctl *Controller) handleVoiceAnswer(_ context.Context, sid domain.SessionID, c *wsConn, in protocol.In) {
	p := protocol.Unwrap[protocol.VoiceSignal](in.Payload)
	if p == nil || p.To == "" {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("bad answer payload")
		return
	}
	ctl.Coord.RelayAnswer(sid, *p)
}

func (ctl *Controller) handleCandidate(_ context.Context, sid domain.SessionID, c *wsConn, in protocol.In) {
	p := protocol.Unwrap[protocol.VoiceCandidate](in.Payload)
	if p == nil || p.To == "" {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("bad candidate payload")
		return
	}
	ctl.Coord.RelayCandidate(sid, *p)
}

func (ctl *Controller) handlePing(_ context.Context, _ domain.SessionID, c *wsConn, in protocol.In) {
	ctl.reply(c, in, protocol.Pong, nil)
}
