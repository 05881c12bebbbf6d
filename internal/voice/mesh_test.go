package voice

import (
	"sync"
	"testing"

	"github.com/yomogy/ito/internal/domain"
	"github.com/yomogy/ito/internal/protocol"
)

type fakeMedia struct {
	mu         sync.Mutex
	offers     int
	answered   []string
	applied    []string
	candidates []protocol.ICECandidate
	restarts   int
	mutes      []bool
	closed     bool

	onState func(PeerState)
}

func (f *fakeMedia) CreateOffer() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers++
	return "offer", nil
}

func (f *fakeMedia) ApplyOfferAndAnswer(sdp string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, sdp)
	return "answer", nil
}

func (f *fakeMedia) ApplyAnswer(sdp string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, sdp)
	return nil
}

func (f *fakeMedia) AddICECandidate(c protocol.ICECandidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeMedia) RestartICE() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts++
	return "restart-offer", nil
}

func (f *fakeMedia) SendMute(muted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutes = append(f.mutes, muted)
	return nil
}

func (f *fakeMedia) OnICECandidate(func(protocol.ICECandidate)) {}
func (f *fakeMedia) OnStateChange(fn func(PeerState))          { f.onState = fn }
func (f *fakeMedia) OnMute(func(bool))                         {}

func (f *fakeMedia) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

type fakeSignaler struct {
	mu         sync.Mutex
	offers     map[domain.SessionID][]string
	answers    map[domain.SessionID][]string
	candidates map[domain.SessionID][]protocol.ICECandidate
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{
		offers:     make(map[domain.SessionID][]string),
		answers:    make(map[domain.SessionID][]string),
		candidates: make(map[domain.SessionID][]protocol.ICECandidate),
	}
}

func (s *fakeSignaler) SendOffer(to domain.SessionID, sdp string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers[to] = append(s.offers[to], sdp)
}

func (s *fakeSignaler) SendAnswer(to domain.SessionID, sdp string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[to] = append(s.answers[to], sdp)
}

func (s *fakeSignaler) SendCandidate(to domain.SessionID, c protocol.ICECandidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates[to] = append(s.candidates[to], c)
}

// harness creates a mesh whose factory records every conn it hands out.
// The local session id "zz" sorts after the test peers, so inbound offers
// win against an outstanding dial unless a test says otherwise.
func harness() (*Mesh, *fakeSignaler, *[]*fakeMedia) {
	return harnessAs("zz")
}

func harnessAs(self domain.SessionID) (*Mesh, *fakeSignaler, *[]*fakeMedia) {
	sig := newFakeSignaler()
	var conns []*fakeMedia
	var mu sync.Mutex
	mesh := NewMesh(self, sig, func() (MediaConn, error) {
		c := &fakeMedia{}
		mu.Lock()
		conns = append(conns, c)
		mu.Unlock()
		return c, nil
	})
	return mesh, sig, &conns
}

func TestMicReadyDialsOnce(t *testing.T) {
	mesh, sig, conns := harness()

	mesh.HandleMicReady("s1", "u1")
	mesh.HandleMicReady("s1", "u1") // duplicate announcement

	if len(*conns) != 1 {
		t.Fatalf("conns = %d, want 1", len(*conns))
	}
	if got := len(sig.offers["s1"]); got != 1 {
		t.Fatalf("offers to s1 = %d, want 1", got)
	}
	if mesh.Len() != 1 {
		t.Fatalf("mesh size = %d, want 1", mesh.Len())
	}
}

func TestOfferReplacesLivePeer(t *testing.T) {
	mesh, sig, conns := harness()

	mesh.HandleMicReady("s1", "u1")
	first := (*conns)[0]

	mesh.HandleOffer("s1", "u1", "their-offer")

	if !first.closed {
		t.Fatal("stale peer was not torn down")
	}
	if len(*conns) != 2 {
		t.Fatalf("conns = %d, want 2", len(*conns))
	}
	if got := sig.answers["s1"]; len(got) != 1 || got[0] != "answer" {
		t.Fatalf("answers to s1 = %v", got)
	}
	if mesh.Len() != 1 {
		t.Fatalf("mesh size = %d, want 1", mesh.Len())
	}
}

// Crossed offers: both sides dialed before either offer landed. The
// lexically lower session id keeps its outstanding offer; the higher one
// tears its dial down and answers. Exactly one exchange survives.
func TestGlareLowerSidKeepsItsOffer(t *testing.T) {
	mesh, sig, conns := harnessAs("aa")

	mesh.HandleMicReady("s1", "u1")
	first := (*conns)[0]

	// The crossed offer arrives while our own is outstanding.
	mesh.HandleOffer("s1", "u1", "their-offer")

	if first.closed {
		t.Fatal("local dial was torn down despite winning the tie-break")
	}
	if len(*conns) != 1 {
		t.Fatalf("conns = %d, want 1", len(*conns))
	}
	if got := sig.answers["s1"]; len(got) != 0 {
		t.Fatalf("answered a glare offer: %v", got)
	}

	// The remote (higher sid) answers our offer as usual.
	mesh.HandleAnswer("s1", "their-answer")
	if len(first.applied) != 1 {
		t.Fatalf("applied = %v", first.applied)
	}

	// A later offer, after the exchange completed, is a rebuild and must
	// replace the slot even on the lower side.
	mesh.HandleOffer("s1", "u1", "rebuild-offer")
	if !first.closed {
		t.Fatal("post-exchange offer did not replace the slot")
	}
	if len(*conns) != 2 {
		t.Fatalf("conns = %d, want 2", len(*conns))
	}
}

func TestGlareHigherSidYields(t *testing.T) {
	mesh, sig, conns := harness() // self "zz" loses the tie-break

	mesh.HandleMicReady("s1", "u1")
	first := (*conns)[0]

	mesh.HandleOffer("s1", "u1", "their-offer")

	if !first.closed {
		t.Fatal("losing side kept its dial")
	}
	if got := sig.answers["s1"]; len(got) != 1 {
		t.Fatalf("answers = %v, want the inbound offer answered", got)
	}
}

func TestUnknownPeerSignalsDropped(t *testing.T) {
	mesh, _, conns := harness()

	mesh.HandleAnswer("ghost", "sdp")
	mesh.HandleCandidate("ghost", protocol.ICECandidate{Candidate: "c"})

	if len(*conns) != 0 || mesh.Len() != 0 {
		t.Fatal("unknown-peer traffic created a slot")
	}
}

func TestAnswerCompletesDial(t *testing.T) {
	mesh, _, conns := harness()

	mesh.HandleMicReady("s1", "u1")
	mesh.HandleAnswer("s1", "their-answer")
	mesh.HandleCandidate("s1", protocol.ICECandidate{Candidate: "cand"})

	c := (*conns)[0]
	if len(c.applied) != 1 || c.applied[0] != "their-answer" {
		t.Fatalf("applied = %v", c.applied)
	}
	if len(c.candidates) != 1 {
		t.Fatalf("candidates = %v", c.candidates)
	}
}

func TestFailureRestartsThenRebuilds(t *testing.T) {
	mesh, sig, conns := harness()

	mesh.HandleMicReady("s1", "u1")
	first := (*conns)[0]

	// First failure: ICE restart on the same conn.
	first.onState(StateFailed)
	if first.restarts != 1 {
		t.Fatalf("restarts = %d, want 1", first.restarts)
	}
	if got := sig.offers["s1"]; len(got) != 2 || got[1] != "restart-offer" {
		t.Fatalf("offers to s1 = %v", got)
	}

	// Second failure: tear down and dial fresh.
	first.onState(StateFailed)
	if !first.closed {
		t.Fatal("failed peer not closed on rebuild")
	}
	if len(*conns) != 2 {
		t.Fatalf("conns = %d, want 2 after rebuild", len(*conns))
	}
	if mesh.Len() != 1 {
		t.Fatalf("mesh size = %d, want 1", mesh.Len())
	}
}

func TestStaleStateCallbackIgnored(t *testing.T) {
	mesh, _, conns := harness()

	mesh.HandleMicReady("s1", "u1")
	first := (*conns)[0]
	mesh.HandleOffer("s1", "u1", "their-offer") // replaces first

	// The replaced conn reports failure; nothing should happen.
	first.onState(StateFailed)
	if len(*conns) != 2 {
		t.Fatalf("stale callback dialed a new conn: %d", len(*conns))
	}
}

func TestMuteFanOutAndResendOnConnect(t *testing.T) {
	mesh, _, conns := harness()

	mesh.HandleMicReady("s1", "u1")
	mesh.HandleMicReady("s2", "u2")
	mesh.SetMuted(true)

	for i, c := range *conns {
		if len(c.mutes) != 1 || !c.mutes[0] {
			t.Fatalf("conn %d mutes = %v", i, c.mutes)
		}
	}

	// The channel drops pre-connect traffic, so connect re-announces.
	(*conns)[0].onState(StateConnected)
	if got := (*conns)[0].mutes; len(got) != 2 || !got[1] {
		t.Fatalf("mutes after connect = %v", got)
	}
}

func TestUserGoneClosesAllSlots(t *testing.T) {
	mesh, _, conns := harness()

	mesh.HandleMicReady("s1", "u1")
	mesh.HandleMicReady("s2", "u2")

	mesh.HandleUserGone("u1")
	if mesh.Len() != 1 {
		t.Fatalf("mesh size = %d, want 1", mesh.Len())
	}
	if !(*conns)[0].closed {
		t.Fatal("departed user's conn not closed")
	}
	if (*conns)[1].closed {
		t.Fatal("unrelated conn closed")
	}
}

func TestCloseShutsEverything(t *testing.T) {
	mesh, _, conns := harness()

	mesh.HandleMicReady("s1", "u1")
	mesh.Close()

	if !(*conns)[0].closed {
		t.Fatal("peer survived mesh close")
	}
	// Handlers after close are no-ops.
	mesh.HandleMicReady("s2", "u2")
	if mesh.Len() != 0 {
		t.Fatal("closed mesh accepted a new peer")
	}
}
