// Package protocol defines the wire API between clients and the server.
//
// Every message is a JSON envelope:
//
//	id - (optional) request id, echoed on the matching reply;
//	 t - (required) one of the predefined message types;
//	 p - (optional) payload, decoded in a second pass per type.
//
// The type set is closed: the server dispatches through an exhaustive
// table over Type, and anything outside the table is dropped with a log
// line, never dynamically registered.
package protocol

import "encoding/json"

type Type string

// Client-to-server requests.
const (
	Login       Type = "login"
	Logout      Type = "logout"
	CreateRoom  Type = "create_room"
	JoinRoom    Type = "join_room"
	LeaveRoom   Type = "leave_room"
	EditRoom    Type = "edit_room"
	ChangeAdmin Type = "change_admin"
	Chat        Type = "chat"
	MicReady    Type = "mic_ready"
	VoiceOffer  Type = "voice_offer"
	VoiceAnswer Type = "voice_answer"
	Candidate   Type = "candidate"
	Ping        Type = "ping"
)

// Server-to-client pushes. Chat, MicReady, VoiceOffer, VoiceAnswer and
// Candidate are reused verbatim when relayed, with From filled in.
const (
	SessionState       Type = "session_state"
	RoomState          Type = "room_state"
	PlayerJoined       Type = "player_joined"
	PlayerLeft         Type = "player_left"
	PlayerDisconnected Type = "player_disconnected"
	PlayerReconnected  Type = "player_reconnected"
	RoomEdited         Type = "room_edited"
	AdminChanged       Type = "admin_changed"
	Ack                Type = "ack"
	Error              Type = "error"
	Pong               Type = "pong"
)

// Requests lists every client-to-server type. The dispatch table in the
// signal adapter must cover exactly this set; a test enforces it.
var Requests = []Type{
	Login, Logout, CreateRoom, JoinRoom, LeaveRoom, EditRoom,
	ChangeAdmin, Chat, MicReady, VoiceOffer, VoiceAnswer, Candidate, Ping,
}

// In is a received envelope. Payload stays raw for a 2-pass unmarshal.
type In struct {
	ID      string          `json:"id,omitempty"`
	T       Type            `json:"t"`
	Payload json.RawMessage `json:"p,omitempty"`
}

// Out is an envelope to send.
type Out struct {
	ID      string `json:"id,omitempty"`
	T       Type   `json:"t"`
	Payload any    `json:"p,omitempty"`
}

// Unwrap decodes a payload into T, returning nil on malformed input so
// handlers can reject with a single check.
func Unwrap[T any](data []byte) *T {
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil
	}
	return out
}
