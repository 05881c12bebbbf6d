package client

import (
	"github.com/rs/zerolog/log"

	"github.com/yomogy/ito/internal/domain"
	"github.com/yomogy/ito/internal/protocol"
	"github.com/yomogy/ito/internal/voice"
)

// VoiceLink adapts the signaling client to the mesh: outbound it is the
// mesh's Signaler, inbound it routes relayed pushes into mesh handlers.
type VoiceLink struct {
	c *Client
}

func NewVoiceLink(c *Client) *VoiceLink { return &VoiceLink{c: c} }

func (v *VoiceLink) SendOffer(to domain.SessionID, sdp string) {
	if err := v.c.Notify(protocol.VoiceOffer, protocol.VoiceSignal{To: to, SDP: sdp}); err != nil {
		log.Error().Err(err).Str("module", "client").Msg("send offer")
	}
}

func (v *VoiceLink) SendAnswer(to domain.SessionID, sdp string) {
	if err := v.c.Notify(protocol.VoiceAnswer, protocol.VoiceSignal{To: to, SDP: sdp}); err != nil {
		log.Error().Err(err).Str("module", "client").Msg("send answer")
	}
}

func (v *VoiceLink) SendCandidate(to domain.SessionID, cand protocol.ICECandidate) {
	if err := v.c.Notify(protocol.Candidate, protocol.VoiceCandidate{To: to, Candidate: cand}); err != nil {
		log.Error().Err(err).Str("module", "client").Msg("send candidate")
	}
}

// Route feeds one push into the mesh. Returns false for pushes that are
// not voice traffic so the caller can handle them.
func (v *VoiceLink) Route(mesh *voice.Mesh, in protocol.In) bool {
	switch in.T {
	case protocol.MicReady:
		p := protocol.Unwrap[protocol.MicReadyNotice](in.Payload)
		if p == nil || p.From == "" {
			return true
		}
		mesh.HandleMicReady(p.From, p.FromUser)
	case protocol.VoiceOffer:
		p := protocol.Unwrap[protocol.VoiceSignal](in.Payload)
		if p == nil || p.From == "" {
			return true
		}
		mesh.HandleOffer(p.From, p.FromUser, p.SDP)
	case protocol.VoiceAnswer:
		p := protocol.Unwrap[protocol.VoiceSignal](in.Payload)
		if p == nil || p.From == "" {
			return true
		}
		mesh.HandleAnswer(p.From, p.SDP)
	case protocol.Candidate:
		p := protocol.Unwrap[protocol.VoiceCandidate](in.Payload)
		if p == nil || p.From == "" {
			return true
		}
		mesh.HandleCandidate(p.From, p.Candidate)
	case protocol.PlayerLeft, protocol.PlayerDisconnected:
		// Either way the participant is gone from the mesh; a reconnect
		// re-announces with mic_ready and dials fresh.
		p := protocol.Unwrap[protocol.PlayerEvent](in.Payload)
		if p == nil {
			return true
		}
		mesh.HandleUserGone(p.User.ID)
	default:
		return false
	}
	return true
}
