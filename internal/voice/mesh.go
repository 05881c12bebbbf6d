package voice

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/yomogy/ito/internal/domain"
	"github.com/yomogy/ito/internal/protocol"
)

// Signaler sends signaling envelopes to one room member, addressed by
// session id. The websocket client implements it.
type Signaler interface {
	SendOffer(to domain.SessionID, sdp string)
	SendAnswer(to domain.SessionID, sdp string)
	SendCandidate(to domain.SessionID, cand protocol.ICECandidate)
}

// Factory builds one fresh MediaConn. Each peer slot gets its own.
type Factory func() (MediaConn, error)

type meshEntry struct {
	conn      MediaConn
	user      domain.UserID
	dialing   bool
	restarted bool
}

// Mesh keeps one MediaConn per remote participant and drives the
// offer/answer exchange from relayed signaling events. All handlers are
// safe for concurrent use; peer callbacks re-enter through handleState.
type Mesh struct {
	self    domain.SessionID
	sig     Signaler
	factory Factory

	mu     sync.Mutex
	peers  map[domain.SessionID]*meshEntry
	muted  bool
	closed bool

	onPeerMute func(user domain.UserID, muted bool)
}

// NewMesh builds the peer table for one participant. self is the local
// session id; it breaks ties when both sides offer at once.
func NewMesh(self domain.SessionID, sig Signaler, factory Factory) *Mesh {
	return &Mesh{
		self:    self,
		sig:     sig,
		factory: factory,
		peers:   make(map[domain.SessionID]*meshEntry),
	}
}

// OnPeerMute registers the remote-mute observer. Set it before the first
// handler call.
func (m *Mesh) OnPeerMute(fn func(user domain.UserID, muted bool)) {
	m.onPeerMute = fn
}

// HandleMicReady starts an offer toward a newly ready participant. A
// repeat for a live peer is a duplicate announcement and is ignored.
func (m *Mesh) HandleMicReady(from domain.SessionID, user domain.UserID) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if _, ok := m.peers[from]; ok {
		m.mu.Unlock()
		log.Debug().Str("module", "voice").Str("sid", string(from)).Msg("mic_ready for live peer ignored")
		return
	}
	m.mu.Unlock()

	m.dial(from, user)
}

func (m *Mesh) dial(to domain.SessionID, user domain.UserID) {
	conn, err := m.newConn(to, user)
	if err != nil {
		log.Error().Err(err).Str("module", "voice").Str("sid", string(to)).Msg("peer create failed")
		return
	}
	offer, err := conn.CreateOffer()
	if err != nil {
		log.Error().Err(err).Str("module", "voice").Str("sid", string(to)).Msg("offer failed")
		conn.Close()
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return
	}
	if _, ok := m.peers[to]; ok {
		// Lost the race against an inbound offer; their side wins.
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.peers[to] = &meshEntry{conn: conn, user: user, dialing: true}
	m.mu.Unlock()

	m.sig.SendOffer(to, offer)
}

// HandleOffer answers a remote offer. An offer for an existing slot
// normally replaces it: the remote rebuilt its side, so the old
// connection is stale and gets torn down first. The exception is glare,
// when both sides dialed at once: the lexically lower session id keeps
// its outstanding offer and ignores the inbound one, so exactly one
// exchange survives on both ends.
func (m *Mesh) HandleOffer(from domain.SessionID, user domain.UserID, sdp string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	old := m.peers[from]
	if old != nil && old.dialing && m.self < from {
		m.mu.Unlock()
		log.Info().Str("module", "voice").Str("sid", string(from)).Msg("glare: keeping local offer, inbound dropped")
		return
	}
	delete(m.peers, from)
	m.mu.Unlock()
	if old != nil {
		log.Info().Str("module", "voice").Str("sid", string(from)).Msg("offer replaces live peer")
		old.conn.Close()
	}

	conn, err := m.newConn(from, user)
	if err != nil {
		log.Error().Err(err).Str("module", "voice").Str("sid", string(from)).Msg("peer create failed")
		return
	}
	answer, err := conn.ApplyOfferAndAnswer(sdp)
	if err != nil {
		log.Error().Err(err).Str("module", "voice").Str("sid", string(from)).Msg("answer failed")
		conn.Close()
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.peers[from] = &meshEntry{conn: conn, user: user}
	m.mu.Unlock()

	m.sig.SendAnswer(from, answer)
}

// HandleAnswer completes an exchange we started. Answers from unknown
// peers are dropped; they never create a slot.
func (m *Mesh) HandleAnswer(from domain.SessionID, sdp string) {
	m.mu.Lock()
	e := m.peers[from]
	if e != nil {
		e.dialing = false
	}
	m.mu.Unlock()
	if e == nil {
		log.Warn().Str("module", "voice").Str("sid", string(from)).Msg("answer from unknown peer dropped")
		return
	}
	if err := e.conn.ApplyAnswer(sdp); err != nil {
		log.Error().Err(err).Str("module", "voice").Str("sid", string(from)).Msg("apply answer")
	}
}

// HandleCandidate feeds a trickled candidate to its peer. Unknown peers
// are dropped without creating a slot.
func (m *Mesh) HandleCandidate(from domain.SessionID, cand protocol.ICECandidate) {
	m.mu.Lock()
	e := m.peers[from]
	m.mu.Unlock()
	if e == nil {
		log.Warn().Str("module", "voice").Str("sid", string(from)).Msg("candidate from unknown peer dropped")
		return
	}
	if err := e.conn.AddICECandidate(cand); err != nil {
		log.Error().Err(err).Str("module", "voice").Str("sid", string(from)).Msg("add candidate")
	}
}

// HandleUserGone tears down every slot owned by a departed user. Room
// membership events carry user ids, not session ids, so this scans.
func (m *Mesh) HandleUserGone(user domain.UserID) {
	m.mu.Lock()
	conns := make([]MediaConn, 0, 1)
	for sid, e := range m.peers {
		if e.user == user {
			conns = append(conns, e.conn)
			delete(m.peers, sid)
		}
	}
	m.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

// SetMuted records the local mute flag and pushes it to every live peer.
// Best effort: unreachable peers pick it up when they connect.
func (m *Mesh) SetMuted(muted bool) {
	m.mu.Lock()
	m.muted = muted
	conns := make([]MediaConn, 0, len(m.peers))
	for _, e := range m.peers {
		conns = append(conns, e.conn)
	}
	m.mu.Unlock()
	for _, c := range conns {
		if err := c.SendMute(muted); err != nil {
			log.Debug().Err(err).Str("module", "voice").Msg("mute push dropped")
		}
	}
}

func (m *Mesh) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

func (m *Mesh) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.peers)
}

// Close tears down every peer. The mesh is dead afterwards; leaving a
// room builds a new one.
func (m *Mesh) Close() {
	m.mu.Lock()
	m.closed = true
	conns := make([]MediaConn, 0, len(m.peers))
	for _, e := range m.peers {
		conns = append(conns, e.conn)
	}
	m.peers = make(map[domain.SessionID]*meshEntry)
	m.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

func (m *Mesh) newConn(sid domain.SessionID, user domain.UserID) (MediaConn, error) {
	conn, err := m.factory()
	if err != nil {
		return nil, err
	}
	conn.OnICECandidate(func(c protocol.ICECandidate) {
		m.sig.SendCandidate(sid, c)
	})
	conn.OnStateChange(func(s PeerState) {
		m.handleState(sid, conn, s)
	})
	conn.OnMute(func(muted bool) {
		if m.onPeerMute != nil {
			m.onPeerMute(user, muted)
		}
	})
	return conn, nil
}

// handleState reacts to connection state from one peer. A first failure
// gets an ICE restart; a failure after that rebuilds the slot from
// scratch. Callbacks from a replaced conn are stale and ignored.
func (m *Mesh) handleState(sid domain.SessionID, conn MediaConn, s PeerState) {
	switch s {
	case StateConnected:
		m.mu.Lock()
		e := m.peers[sid]
		muted := m.muted
		if e != nil && e.conn == conn {
			e.dialing = false
		}
		m.mu.Unlock()
		if e == nil || e.conn != conn {
			return
		}
		// The unreliable channel drops anything sent pre-connect, so the
		// current flag is re-announced here.
		if muted {
			_ = conn.SendMute(true)
		}

	case StateFailed:
		m.mu.Lock()
		e := m.peers[sid]
		if e == nil || e.conn != conn || m.closed {
			m.mu.Unlock()
			return
		}
		if !e.restarted {
			e.restarted = true
			m.mu.Unlock()
			offer, err := conn.RestartICE()
			if err != nil {
				log.Error().Err(err).Str("module", "voice").Str("sid", string(sid)).Msg("ice restart failed")
				m.rebuild(sid, conn)
				return
			}
			log.Info().Str("module", "voice").Str("sid", string(sid)).Msg("ice restart")
			m.sig.SendOffer(sid, offer)
			return
		}
		m.mu.Unlock()
		m.rebuild(sid, conn)

	case StateClosed:
		m.mu.Lock()
		if e := m.peers[sid]; e != nil && e.conn == conn {
			delete(m.peers, sid)
		}
		m.mu.Unlock()
	}
}

// rebuild drops a peer that failed past recovery and dials it again.
func (m *Mesh) rebuild(sid domain.SessionID, conn MediaConn) {
	m.mu.Lock()
	e := m.peers[sid]
	if e == nil || e.conn != conn {
		m.mu.Unlock()
		return
	}
	user := e.user
	delete(m.peers, sid)
	m.mu.Unlock()

	log.Info().Str("module", "voice").Str("sid", string(sid)).Msg("rebuilding failed peer")
	conn.Close()
	m.dial(sid, user)
}
