package domain

import (
	"crypto/rand"
	"time"
)

type RoomID string

type RoomStatus string

const (
	RoomAvailable RoomStatus = "available"
	RoomFull      RoomStatus = "full"
	RoomPlaying   RoomStatus = "playing"
)

// RoomSetting is the admin-editable room configuration.
type RoomSetting struct {
	Theme         string `bson:"theme" json:"theme"`
	MaxPlayers    int    `bson:"maxPlayers" json:"maxPlayers"`
	Communication string `bson:"communication" json:"communication"` // "chat" or "voice"
	Language      string `bson:"language" json:"language"`
}

type Room struct {
	ID          RoomID      `bson:"_id" json:"id"`
	Status      RoomStatus  `bson:"status" json:"status"`
	AdminUserID UserID      `bson:"adminUserId" json:"adminUserId"`
	CreatedAt   time.Time   `bson:"createdAt" json:"createdAt"`
	Players     []UserID    `bson:"players" json:"players"`
	Setting     RoomSetting `bson:"setting" json:"setting"`
}

const DefaultRoomCapacity = 10

// NewRoom makes its creator the sole player and admin.
func NewRoom(id RoomID, admin UserID, setting RoomSetting) *Room {
	if setting.MaxPlayers <= 0 {
		setting.MaxPlayers = DefaultRoomCapacity
	}
	return &Room{
		ID:          id,
		Status:      RoomAvailable,
		AdminUserID: admin,
		CreatedAt:   time.Now().UTC(),
		Players:     []UserID{admin},
		Setting:     setting,
	}
}

// Joinable is the terminal guard for join: a room that is full or already
// playing rejects everyone, with a message the client shows verbatim.
func (r *Room) Joinable() error {
	switch r.Status {
	case RoomPlaying:
		return ErrRoomPlaying
	case RoomFull:
		return ErrRoomFull
	}
	if len(r.Players) >= r.Setting.MaxPlayers {
		return ErrRoomFull
	}
	return nil
}

func (r *Room) HasPlayer(id UserID) bool {
	for _, p := range r.Players {
		if p == id {
			return true
		}
	}
	return false
}

// RoomIDLen and roomIDAlphabet shape the join codes players type in.
// Ambiguous glyphs (0/O, 1/I) are excluded.
const RoomIDLen = 6

const roomIDAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// GenerateRoomID returns a probabilistically-unique join code.
// Uniqueness against the store is the caller's problem (bounded retry).
func GenerateRoomID() RoomID {
	b := make([]byte, RoomIDLen)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand never fails on supported platforms
	}
	for i := range b {
		b[i] = roomIDAlphabet[int(b[i])%len(roomIDAlphabet)]
	}
	return RoomID(b)
}
