// Package voice implements the per-client side of the voice mesh: one
// peer connection per remote participant, trickle ICE, and a
// best-effort mute side-channel. The server is only a relay; nothing
// here runs on it.
package voice

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/yomogy/ito/internal/protocol"
)

// PeerState is the reduced connection state the mesh reacts to.
type PeerState int

const (
	StateNew PeerState = iota
	StateConnected
	StateFailed
	StateClosed
)

// MediaConn abstracts one peer connection so the mesh can be exercised
// without a media stack. Owned by the mesh; the mesh must Close() it.
type MediaConn interface {
	// CreateOffer sets the local description and returns its SDP.
	CreateOffer() (string, error)
	// ApplyOfferAndAnswer applies a remote offer and returns the answer SDP.
	ApplyOfferAndAnswer(sdp string) (string, error)
	ApplyAnswer(sdp string) error
	AddICECandidate(protocol.ICECandidate) error
	// RestartICE re-offers with an ICE restart.
	RestartICE() (string, error)
	// SendMute pushes the mute flag over the unreliable side-channel.
	// No delivery guarantee: a lost toggle stays stale until the next one.
	SendMute(muted bool) error
	OnICECandidate(func(protocol.ICECandidate))
	OnStateChange(func(PeerState))
	OnMute(func(muted bool))
	Close()
}

func DefaultRTCConfig(iceServers []string) webrtc.Configuration {
	servers := make([]webrtc.ICEServer, 0, len(iceServers))
	for _, u := range iceServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}
	return webrtc.Configuration{ICEServers: servers}
}

// Peer is the pion-backed MediaConn.
type Peer struct {
	pc   *webrtc.PeerConnection
	mute *webrtc.DataChannel

	onICE   func(protocol.ICECandidate)
	onState func(PeerState)
	onMute  func(bool)
}

type muteMsg struct {
	Muted bool `json:"muted"`
}

// NewPeer builds a peer connection with the capture's track attached and
// the negotiated, unordered, zero-retransmit mute channel. Both sides
// construct the same channel, so no extra SDP round is needed for it.
func NewPeer(cfg webrtc.Configuration, capture *Capture) (*Peer, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	p := &Peer{pc: pc}

	if capture != nil {
		if _, err := pc.AddTrack(capture.Track()); err != nil {
			_ = pc.Close()
			return nil, err
		}
	}

	var (
		ordered    = false
		retransmit = uint16(0)
		negotiated = true
		channelID  = uint16(0)
	)
	dc, err := pc.CreateDataChannel("mute", &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &retransmit,
		Negotiated:     &negotiated,
		ID:             &channelID,
	})
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	p.mute = dc
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		var m muteMsg
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			return
		}
		if p.onMute != nil {
			p.onMute(m.Muted)
		}
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || p.onICE == nil {
			return
		}
		ci := c.ToJSON()
		p.onICE(protocol.ICECandidate{
			Candidate:     ci.Candidate,
			SDPMid:        ci.SDPMid,
			SDPMLineIndex: ci.SDPMLineIndex,
		})
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "voice").Str("peer_connection_state", s.String()).Msg("peer state")
		if p.onState == nil {
			return
		}
		switch s {
		case webrtc.PeerConnectionStateConnected:
			p.onState(StateConnected)
		case webrtc.PeerConnectionStateFailed:
			p.onState(StateFailed)
		case webrtc.PeerConnectionStateClosed:
			p.onState(StateClosed)
		}
	})

	return p, nil
}

func (p *Peer) CreateOffer() (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	// Trickle: candidates flow through OnICECandidate as they are found,
	// no waiting on gathering.
	return offer.SDP, nil
}

func (p *Peer) ApplyOfferAndAnswer(sdp string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return "", err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, nil
}

func (p *Peer) ApplyAnswer(sdp string) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
}

func (p *Peer) AddICECandidate(c protocol.ICECandidate) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	})
}

func (p *Peer) RestartICE() (string, error) {
	offer, err := p.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: true})
	if err != nil {
		return "", err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (p *Peer) SendMute(muted bool) error {
	data, err := json.Marshal(muteMsg{Muted: muted})
	if err != nil {
		return err
	}
	return p.mute.Send(data)
}

func (p *Peer) OnICECandidate(fn func(protocol.ICECandidate)) { p.onICE = fn }
func (p *Peer) OnStateChange(fn func(PeerState))              { p.onState = fn }
func (p *Peer) OnMute(fn func(bool))                          { p.onMute = fn }

func (p *Peer) Close() {
	if err := p.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "voice").Msg("peer close error")
	}
}
