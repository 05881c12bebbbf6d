package domain

// Session is the durable identity of one browser tab (or headless client).
// It survives transport drops: the client presents its session id on every
// handshake and gets the same user/room bindings back.
type Session struct {
	ID        SessionID `bson:"_id" json:"id"`
	UserID    UserID    `bson:"userId,omitempty" json:"userId,omitempty"`
	RoomID    RoomID    `bson:"roomId,omitempty" json:"roomId,omitempty"`
	Connected bool      `bson:"connected" json:"connected"`
}

type SessionID string

func NewSession(id SessionID) *Session {
	return &Session{ID: id, Connected: true}
}

func (s *Session) InRoom() bool  { return s.RoomID != "" }
func (s *Session) HasUser() bool { return s.UserID != "" }
