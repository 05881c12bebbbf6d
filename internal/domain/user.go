// Package domain contains the persisted entities and their guards.
// No transport or storage logic here.
package domain

import (
	"time"

	"github.com/google/uuid"
)

const MaxUsernameLen = 36

type UserID string

type UserStatus string

const (
	UserIdle    UserStatus = "idle"
	UserPending UserStatus = "pending"
	UserPlaying UserStatus = "playing"
)

type User struct {
	ID        UserID     `bson:"_id" json:"id"`
	Name      string     `bson:"name" json:"name"`
	Status    UserStatus `bson:"status" json:"status"`
	CreatedAt time.Time  `bson:"createdAt" json:"createdAt"`
}

// NewUser validates the name and mints a fresh identity.
// Users exist only between login and logout.
func NewUser(name string) (*User, error) {
	if name == "" {
		return nil, ErrNameEmpty
	}
	if len(name) > MaxUsernameLen {
		return nil, ErrNameTooLong
	}
	return &User{
		ID:        UserID(uuid.NewString()),
		Name:      name,
		Status:    UserIdle,
		CreatedAt: time.Now().UTC(),
	}, nil
}
