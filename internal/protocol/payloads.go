package protocol

import "github.com/yomogy/ito/internal/domain"

type LoginReq struct {
	Name string `json:"name"`
}

type CreateRoomReq struct {
	Setting domain.RoomSetting `json:"setting"`
}

type JoinRoomReq struct {
	RoomID string `json:"roomId"`
}

type EditRoomReq struct {
	Setting domain.RoomSetting `json:"setting"`
}

type ChangeAdminReq struct {
	UserID string `json:"userId"`
}

type ChatMsg struct {
	From    domain.UserID `json:"from,omitempty"`
	Name    string        `json:"name,omitempty"`
	Message string        `json:"message"`
}

// ICECandidate mirrors the browser's RTCIceCandidateInit. Pointers keep
// omitted fields distinguishable from empty ones on the wire.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// VoiceSignal carries an SDP offer or answer. To addresses the target
// connection; the server rewrites From before relaying.
type VoiceSignal struct {
	To       domain.SessionID `json:"to,omitempty"`
	From     domain.SessionID `json:"from,omitempty"`
	FromUser domain.UserID    `json:"fromUser,omitempty"`
	SDP      string           `json:"sdp"`
}

// VoiceCandidate carries one trickle ICE candidate, same addressing as
// VoiceSignal.
type VoiceCandidate struct {
	To        domain.SessionID `json:"to,omitempty"`
	From      domain.SessionID `json:"from,omitempty"`
	FromUser  domain.UserID    `json:"fromUser,omitempty"`
	Candidate ICECandidate     `json:"candidate"`
}

// MicReadyNotice announces voice readiness to the rest of the room.
type MicReadyNotice struct {
	From     domain.SessionID `json:"from,omitempty"`
	FromUser domain.UserID    `json:"fromUser,omitempty"`
}

// SessionStatePush is sent once per (re)connect.
type SessionStatePush struct {
	Session *domain.Session `json:"session"`
	User    *domain.User    `json:"user,omitempty"`
	Room    *domain.Room    `json:"room,omitempty"`
}

// RoomStatePush is the room snapshot sent on join and on membership moves.
type RoomStatePush struct {
	Room    *domain.Room  `json:"room"`
	Players []domain.User `json:"players"`
}

type PlayerEvent struct {
	User domain.User `json:"user"`
}

type AdminChangedPush struct {
	AdminUserID domain.UserID `json:"adminUserId"`
}

type ErrorPayload struct {
	Message string `json:"errorMessage"`
}
