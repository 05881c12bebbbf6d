package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/yomogy/ito/internal/core"
	"github.com/yomogy/ito/internal/domain"
	"github.com/yomogy/ito/internal/protocol"
	"github.com/yomogy/ito/internal/store"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
}

func (f *fakeConn) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return core.ErrBackpressure
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeConn) Close() {}

func (f *fakeConn) envelopes(t *testing.T) []protocol.In {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.In, 0, len(f.frames))
	for _, fr := range f.frames {
		var in protocol.In
		if err := json.Unmarshal(fr, &in); err != nil {
			t.Fatalf("bad frame %q: %v", fr, err)
		}
		out = append(out, in)
	}
	return out
}

func (f *fakeConn) lastOfType(t *testing.T, typ protocol.Type) *protocol.In {
	t.Helper()
	var found *protocol.In
	for _, in := range f.envelopes(t) {
		if in.T == typ {
			in := in
			found = &in
		}
	}
	return found
}

func connect(t *testing.T, c *Coordinator, presented domain.SessionID) (domain.SessionID, *fakeConn, *protocol.SessionStatePush) {
	t.Helper()
	conn := &fakeConn{}
	push, err := c.Connect(context.Background(), presented, conn, func() {})
	if err != nil {
		t.Fatal(err)
	}
	return push.Session.ID, conn, push
}

func login(t *testing.T, c *Coordinator, sid domain.SessionID, name string) *domain.User {
	t.Helper()
	u, err := c.Login(context.Background(), sid, name)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestConnectFreshSession(t *testing.T) {
	c := NewCoordinator(store.NewMemory())
	sid, _, push := connect(t, c, "")
	if sid == "" || push.User != nil || push.Room != nil {
		t.Fatalf("fresh session push = %+v", push)
	}
	if !push.Session.Connected {
		t.Fatal("session not marked connected")
	}
}

func TestReconnectRestoresIdentityAndRoom(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(store.NewMemory())

	sid, conn1, _ := connect(t, c, "")
	user := login(t, c, sid, "alice")
	room, err := c.CreateRoom(ctx, sid, domain.RoomSetting{})
	if err != nil {
		t.Fatal(err)
	}

	// A second participant to observe the reconnect.
	sid2, conn2, _ := connect(t, c, "")
	login(t, c, sid2, "bob")
	if _, err := c.JoinRoom(ctx, sid2, room.ID); err != nil {
		t.Fatal(err)
	}

	if err := c.Disconnect(ctx, sid, conn1); err != nil {
		t.Fatal(err)
	}

	_, _, push := connect(t, c, sid)
	if push.User == nil || push.User.ID != user.ID {
		t.Fatalf("identity lost across reconnect: %+v", push.User)
	}
	if push.Room == nil || push.Room.ID != room.ID {
		t.Fatalf("room binding lost across reconnect: %+v", push.Room)
	}

	if conn2.lastOfType(t, protocol.PlayerReconnected) == nil {
		t.Fatal("room member did not see player_reconnected")
	}
}

func TestConnectDropsStaleBindings(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	c := NewCoordinator(st)

	sid, conn1, _ := connect(t, c, "")
	login(t, c, sid, "alice")
	if err := c.Disconnect(ctx, sid, conn1); err != nil {
		t.Fatal(err)
	}

	// Simulate an out-of-band wipe of the user document.
	sess, err := st.Sessions().Get(ctx, sid)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Users().Delete(ctx, sess.UserID); err != nil {
		t.Fatal(err)
	}

	_, _, push := connect(t, c, sid)
	if push.User != nil {
		t.Fatalf("dangling user handed to the client: %+v", push.User)
	}
	sess, err = st.Sessions().Get(ctx, sid)
	if err != nil {
		t.Fatal(err)
	}
	if sess.UserID != "" {
		t.Fatal("stale user binding not cleared")
	}
}

func TestLoginWhileLoggedIn(t *testing.T) {
	c := NewCoordinator(store.NewMemory())
	sid, _, _ := connect(t, c, "")
	login(t, c, sid, "alice")
	if _, err := c.Login(context.Background(), sid, "bob"); !errors.Is(err, domain.ErrSessionBusy) {
		t.Fatalf("second login: got %v, want ErrSessionBusy", err)
	}
}

func TestLoginRollsBackOnSessionFailure(t *testing.T) {
	c := NewCoordinator(store.NewMemory())
	// No Connect, so the registry has no entry.
	if _, err := c.Login(context.Background(), "ghost", "alice"); !errors.Is(err, domain.ErrNotLoggedIn) {
		t.Fatalf("login without connection: got %v, want ErrNotLoggedIn", err)
	}
}

func TestJoinRoomGuards(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	c := NewCoordinator(st)

	sid, _, _ := connect(t, c, "")
	login(t, c, sid, "admin")
	room, err := c.CreateRoom(ctx, sid, domain.RoomSetting{MaxPlayers: 2})
	if err != nil {
		t.Fatal(err)
	}

	sid2, _, _ := connect(t, c, "")
	login(t, c, sid2, "bob")
	if _, err := c.JoinRoom(ctx, sid2, "ZZZZZZ"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("absent room: got %v, want ErrRoomNotFound", err)
	}
	if _, err := c.JoinRoom(ctx, sid2, room.ID); err != nil {
		t.Fatal(err)
	}

	// Second join filled the room.
	got, err := st.Rooms().Get(ctx, room.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.RoomFull {
		t.Fatalf("room status = %q, want full", got.Status)
	}

	sid3, _, _ := connect(t, c, "")
	login(t, c, sid3, "carol")
	if _, err := c.JoinRoom(ctx, sid3, room.ID); !errors.Is(err, domain.ErrRoomFull) {
		t.Fatalf("full room: got %v, want ErrRoomFull", err)
	}

	// Playing is terminal even with free seats.
	got.Status = domain.RoomPlaying
	got.Players = got.Players[:1]
	if err := st.Rooms().Update(ctx, got); err != nil {
		t.Fatal(err)
	}
	if _, err := c.JoinRoom(ctx, sid3, room.ID); !errors.Is(err, domain.ErrRoomPlaying) {
		t.Fatalf("playing room: got %v, want ErrRoomPlaying", err)
	}
}

func TestJoinRoomPushAndBroadcast(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(store.NewMemory())

	sid, conn1, _ := connect(t, c, "")
	login(t, c, sid, "admin")
	room, err := c.CreateRoom(ctx, sid, domain.RoomSetting{})
	if err != nil {
		t.Fatal(err)
	}

	sid2, _, _ := connect(t, c, "")
	bob := login(t, c, sid2, "bob")
	push, err := c.JoinRoom(ctx, sid2, room.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(push.Players) != 2 || push.Players[1].ID != bob.ID {
		t.Fatalf("roster push = %+v", push.Players)
	}

	joined := conn1.lastOfType(t, protocol.PlayerJoined)
	if joined == nil {
		t.Fatal("admin did not see player_joined")
	}
	p := protocol.Unwrap[protocol.PlayerEvent](joined.Payload)
	if p == nil || p.User.ID != bob.ID {
		t.Fatalf("player_joined payload = %+v", p)
	}
}

// A create request without a player cap falls back to the configured
// capacity, not the compile-time default.
func TestCreateRoomUsesConfiguredCapacity(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(store.NewMemory())
	c.RoomCapacity = 3

	sid, _, _ := connect(t, c, "")
	login(t, c, sid, "admin")
	room, err := c.CreateRoom(ctx, sid, domain.RoomSetting{})
	if err != nil {
		t.Fatal(err)
	}
	if room.Setting.MaxPlayers != 3 {
		t.Fatalf("MaxPlayers = %d, want the configured 3", room.Setting.MaxPlayers)
	}
}

func TestLeaveRoomPromotesAdmin(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	c := NewCoordinator(st)

	sid, _, _ := connect(t, c, "")
	admin := login(t, c, sid, "admin")
	room, err := c.CreateRoom(ctx, sid, domain.RoomSetting{})
	if err != nil {
		t.Fatal(err)
	}

	sid2, conn2, _ := connect(t, c, "")
	bob := login(t, c, sid2, "bob")
	if _, err := c.JoinRoom(ctx, sid2, room.ID); err != nil {
		t.Fatal(err)
	}

	if err := c.LeaveRoom(ctx, sid); err != nil {
		t.Fatal(err)
	}

	got, err := st.Rooms().Get(ctx, room.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AdminUserID != bob.ID {
		t.Fatalf("admin = %q, want promotion to %q", got.AdminUserID, bob.ID)
	}
	if got.HasPlayer(admin.ID) {
		t.Fatal("leaver still on the roster")
	}

	changed := conn2.lastOfType(t, protocol.AdminChanged)
	if changed == nil {
		t.Fatal("remaining member did not see admin_changed")
	}
	p := protocol.Unwrap[protocol.AdminChangedPush](changed.Payload)
	if p == nil || p.AdminUserID != bob.ID {
		t.Fatalf("admin_changed payload = %+v", p)
	}

	// Leaver returns to idle.
	u, err := st.Users().Get(ctx, admin.ID)
	if err != nil {
		t.Fatal(err)
	}
	if u.Status != domain.UserIdle {
		t.Fatalf("leaver status = %q, want idle", u.Status)
	}
}

func TestLastLeaveDeletesRoom(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	c := NewCoordinator(st)

	sid, _, _ := connect(t, c, "")
	login(t, c, sid, "admin")
	room, err := c.CreateRoom(ctx, sid, domain.RoomSetting{})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.LeaveRoom(ctx, sid); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Rooms().Get(ctx, room.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("empty room not deleted: %v", err)
	}
}

func TestLeaveDowngradesFullRoom(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	c := NewCoordinator(st)

	sid, _, _ := connect(t, c, "")
	login(t, c, sid, "admin")
	room, err := c.CreateRoom(ctx, sid, domain.RoomSetting{MaxPlayers: 2})
	if err != nil {
		t.Fatal(err)
	}
	sid2, _, _ := connect(t, c, "")
	login(t, c, sid2, "bob")
	if _, err := c.JoinRoom(ctx, sid2, room.ID); err != nil {
		t.Fatal(err)
	}
	if err := c.LeaveRoom(ctx, sid2); err != nil {
		t.Fatal(err)
	}

	got, err := st.Rooms().Get(ctx, room.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.RoomAvailable {
		t.Fatalf("status = %q, want available after a seat freed", got.Status)
	}
}

func TestDisconnectKeepsRosterSlot(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	c := NewCoordinator(st)

	sid, _, _ := connect(t, c, "")
	login(t, c, sid, "admin")
	room, err := c.CreateRoom(ctx, sid, domain.RoomSetting{})
	if err != nil {
		t.Fatal(err)
	}
	sid2, conn2, _ := connect(t, c, "")
	bob := login(t, c, sid2, "bob")
	if _, err := c.JoinRoom(ctx, sid2, room.ID); err != nil {
		t.Fatal(err)
	}

	if err := c.Disconnect(ctx, sid2, conn2); err != nil {
		t.Fatal(err)
	}

	got, err := st.Rooms().Get(ctx, room.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.HasPlayer(bob.ID) {
		t.Fatal("transport drop removed the roster slot")
	}
	sess, err := st.Sessions().Get(ctx, sid2)
	if err != nil {
		t.Fatal(err)
	}
	if sess.Connected {
		t.Fatal("session still marked connected")
	}
}

func TestEditRoomAdminOnly(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(store.NewMemory())

	sid, _, _ := connect(t, c, "")
	login(t, c, sid, "admin")
	room, err := c.CreateRoom(ctx, sid, domain.RoomSetting{})
	if err != nil {
		t.Fatal(err)
	}
	sid2, _, _ := connect(t, c, "")
	login(t, c, sid2, "bob")
	if _, err := c.JoinRoom(ctx, sid2, room.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := c.EditRoom(ctx, sid2, domain.RoomSetting{Theme: "animals"}); !errors.Is(err, domain.ErrNotAdmin) {
		t.Fatalf("non-admin edit: got %v, want ErrNotAdmin", err)
	}
	edited, err := c.EditRoom(ctx, sid, domain.RoomSetting{Theme: "animals"})
	if err != nil {
		t.Fatal(err)
	}
	if edited.Setting.Theme != "animals" {
		t.Fatalf("theme = %q after edit", edited.Setting.Theme)
	}
}

func TestChangeAdminRequiresRosterMember(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(store.NewMemory())

	sid, _, _ := connect(t, c, "")
	login(t, c, sid, "admin")
	if _, err := c.CreateRoom(ctx, sid, domain.RoomSetting{}); err != nil {
		t.Fatal(err)
	}
	if err := c.ChangeAdmin(ctx, sid, "ghost"); !errors.Is(err, domain.ErrPlayerNotFound) {
		t.Fatalf("outsider target: got %v, want ErrPlayerNotFound", err)
	}
}

func TestRelayRewritesFrom(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(store.NewMemory())

	sid, _, _ := connect(t, c, "")
	alice := login(t, c, sid, "alice")
	room, err := c.CreateRoom(ctx, sid, domain.RoomSetting{})
	if err != nil {
		t.Fatal(err)
	}
	sid2, conn2, _ := connect(t, c, "")
	login(t, c, sid2, "bob")
	if _, err := c.JoinRoom(ctx, sid2, room.ID); err != nil {
		t.Fatal(err)
	}

	c.RelayOffer(sid, protocol.VoiceSignal{To: sid2, SDP: "sdp-offer"})

	offer := conn2.lastOfType(t, protocol.VoiceOffer)
	if offer == nil {
		t.Fatal("target never received the offer")
	}
	p := protocol.Unwrap[protocol.VoiceSignal](offer.Payload)
	if p == nil || p.From != sid || p.FromUser != alice.ID || p.SDP != "sdp-offer" {
		t.Fatalf("relayed payload = %+v", p)
	}
}

func TestRelayTargetOutsideRoomDropped(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(store.NewMemory())

	sid, _, _ := connect(t, c, "")
	login(t, c, sid, "alice")
	if _, err := c.CreateRoom(ctx, sid, domain.RoomSetting{}); err != nil {
		t.Fatal(err)
	}

	// A logged-in stranger in a different room.
	sid2, conn2, _ := connect(t, c, "")
	login(t, c, sid2, "eve")
	if _, err := c.CreateRoom(ctx, sid2, domain.RoomSetting{}); err != nil {
		t.Fatal(err)
	}

	c.RelayOffer(sid, protocol.VoiceSignal{To: sid2, SDP: "sdp"})
	if conn2.lastOfType(t, protocol.VoiceOffer) != nil {
		t.Fatal("cross-room relay was delivered")
	}
}

func TestBroadcastSkipsSlowReceiver(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(store.NewMemory())

	sid, _, _ := connect(t, c, "")
	login(t, c, sid, "alice")
	room, err := c.CreateRoom(ctx, sid, domain.RoomSetting{})
	if err != nil {
		t.Fatal(err)
	}
	sid2, conn2, _ := connect(t, c, "")
	login(t, c, sid2, "bob")
	if _, err := c.JoinRoom(ctx, sid2, room.ID); err != nil {
		t.Fatal(err)
	}

	conn2.mu.Lock()
	conn2.full = true
	conn2.mu.Unlock()

	// Must not block or fail even though one receiver is saturated.
	if err := c.Chat(ctx, sid, "hello"); err != nil {
		t.Fatal(err)
	}
}

func TestSecondTabReplacesFirst(t *testing.T) {
	c := NewCoordinator(store.NewMemory())

	canceled := false
	conn1 := &fakeConn{}
	push, err := c.Connect(context.Background(), "", conn1, func() { canceled = true })
	if err != nil {
		t.Fatal(err)
	}
	sid := push.Session.ID

	conn2 := &fakeConn{}
	if _, err := c.Connect(context.Background(), sid, conn2, func() {}); err != nil {
		t.Fatal(err)
	}
	if !canceled {
		t.Fatal("first connection was not canceled")
	}
	_, conn, ok := c.Registry.Get(sid)
	if !ok || conn != conn2 {
		t.Fatal("registry does not point at the new connection")
	}
}

// The replaced tab's teardown races the replacement: its deferred
// disconnect must not unbind the live connection or flip the session
// offline while a second tab is connected.
func TestStaleDisconnectLeavesReplacementAlone(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	c := NewCoordinator(st)

	conn1 := &fakeConn{}
	push, err := c.Connect(ctx, "", conn1, func() {})
	if err != nil {
		t.Fatal(err)
	}
	sid := push.Session.ID
	login(t, c, sid, "alice")
	room, err := c.CreateRoom(ctx, sid, domain.RoomSetting{})
	if err != nil {
		t.Fatal(err)
	}
	sid2, conn2, _ := connect(t, c, "")
	login(t, c, sid2, "bob")
	if _, err := c.JoinRoom(ctx, sid2, room.ID); err != nil {
		t.Fatal(err)
	}

	// Second tab takes over the session.
	tab2 := &fakeConn{}
	if _, err := c.Connect(ctx, sid, tab2, func() {}); err != nil {
		t.Fatal(err)
	}

	// First tab's read loop winds down and fires its teardown.
	if err := c.Disconnect(ctx, sid, conn1); err != nil {
		t.Fatal(err)
	}

	_, bound, ok := c.Registry.Get(sid)
	if !ok || bound != tab2 {
		t.Fatal("live replacement connection was unbound by the stale disconnect")
	}
	sess, err := st.Sessions().Get(ctx, sid)
	if err != nil {
		t.Fatal(err)
	}
	if !sess.Connected {
		t.Fatal("session marked disconnected while the second tab is live")
	}
	if conn2.lastOfType(t, protocol.PlayerDisconnected) != nil {
		t.Fatal("room saw player_disconnected despite a live connection")
	}

	// The live tab's own teardown still works.
	if err := c.Disconnect(ctx, sid, tab2); err != nil {
		t.Fatal(err)
	}
	sess, err = st.Sessions().Get(ctx, sid)
	if err != nil {
		t.Fatal(err)
	}
	if sess.Connected {
		t.Fatal("real disconnect did not persist")
	}
}
