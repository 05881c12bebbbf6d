package app

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/yomogy/ito/internal/core"
	"github.com/yomogy/ito/internal/domain"
	"github.com/yomogy/ito/internal/metrics"
	"github.com/yomogy/ito/internal/protocol"
)

// Chat broadcasts a message to every occupant of the caller's room,
// sender included.
func (c *Coordinator) Chat(ctx context.Context, sid domain.SessionID, message string) error {
	cc, _, ok := c.Registry.Get(sid)
	if !ok || !cc.InRoom() {
		return domain.ErrNotInRoom
	}
	user, err := c.Store.Users().Get(ctx, cc.UserID)
	if err != nil {
		return err
	}
	c.broadcast(cc.RoomID, protocol.Out{
		T:       protocol.Chat,
		Payload: protocol.ChatMsg{From: user.ID, Name: user.Name, Message: message},
	})
	return nil
}

// MicReady announces voice readiness to everyone else in the room. Each
// of them responds with an offer addressed to this session id.
func (c *Coordinator) MicReady(ctx context.Context, sid domain.SessionID) error {
	cc, _, ok := c.Registry.Get(sid)
	if !ok || !cc.InRoom() {
		return domain.ErrNotInRoom
	}
	c.broadcast(cc.RoomID, protocol.Out{
		T:       protocol.MicReady,
		Payload: protocol.MicReadyNotice{From: sid, FromUser: cc.UserID},
	}, sid)
	return nil
}

// RelayOffer, RelayAnswer and RelayCandidate forward voice signaling 1:1
// to the target connection id. The server never inspects the SDP; a
// missing target is logged and dropped because room membership changes
// concurrently with delivery.
func (c *Coordinator) RelayOffer(sid domain.SessionID, p protocol.VoiceSignal) {
	c.relay(sid, p.To, protocol.VoiceOffer, func(from core.ConnContext) any {
		return protocol.VoiceSignal{From: sid, FromUser: from.UserID, SDP: p.SDP}
	})
}

func (c *Coordinator) RelayAnswer(sid domain.SessionID, p protocol.VoiceSignal) {
	c.relay(sid, p.To, protocol.VoiceAnswer, func(from core.ConnContext) any {
		return protocol.VoiceSignal{From: sid, FromUser: from.UserID, SDP: p.SDP}
	})
}

func (c *Coordinator) RelayCandidate(sid domain.SessionID, p protocol.VoiceCandidate) {
	c.relay(sid, p.To, protocol.Candidate, func(from core.ConnContext) any {
		return protocol.VoiceCandidate{From: sid, FromUser: from.UserID, Candidate: p.Candidate}
	})
}

func (c *Coordinator) relay(from, to domain.SessionID, t protocol.Type, payload func(core.ConnContext) any) {
	fromCtx, _, ok := c.Registry.Get(from)
	if !ok || !fromCtx.InRoom() {
		log.Warn().Str("module", "app.relay").Str("sid", string(from)).Str("type", string(t)).Msg("relay from session outside a room")
		return
	}
	toCtx, conn, ok := c.Registry.Get(to)
	if !ok || toCtx.RoomID != fromCtx.RoomID {
		log.Warn().Str("module", "app.relay").Str("to", string(to)).Str("type", string(t)).Msg("relay target not in room, dropped")
		return
	}

	data, err := json.Marshal(protocol.Out{T: t, Payload: payload(fromCtx)})
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Msg("relay marshal")
		return
	}
	if err := conn.TrySend(core.Frame(data)); err != nil {
		log.Warn().Str("module", "app.relay").Str("to", string(to)).Msg("relay dropped on backpressure")
		return
	}
	metrics.SignalsRelayed.WithLabelValues(string(t)).Inc()
}
