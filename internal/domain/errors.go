package domain

import "errors"

// Validation errors travel back to the client as typed error payloads.
// Integrity errors abort the surrounding transaction instead.
var (
	ErrNameEmpty      = errors.New("name empty")
	ErrNameTooLong    = errors.New("name too long")
	ErrNotLoggedIn    = errors.New("not logged in")
	ErrAlreadyInRoom  = errors.New("already in a room")
	ErrNotInRoom      = errors.New("not in a room")
	ErrNotAdmin       = errors.New("only the room admin can do that")
	ErrRoomNotFound   = errors.New("room not found")
	ErrRoomFull       = errors.New("room is full")
	ErrRoomPlaying    = errors.New("game already started")
	ErrPlayerNotFound = errors.New("player is not in the room")
	ErrSessionBusy    = errors.New("session already has a user")
)
