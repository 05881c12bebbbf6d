package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestNewUserValidation(t *testing.T) {
	if _, err := NewUser(""); !errors.Is(err, ErrNameEmpty) {
		t.Fatalf("empty name: got %v, want ErrNameEmpty", err)
	}
	if _, err := NewUser(strings.Repeat("x", MaxUsernameLen+1)); !errors.Is(err, ErrNameTooLong) {
		t.Fatalf("long name: got %v, want ErrNameTooLong", err)
	}

	u, err := NewUser("alice")
	if err != nil {
		t.Fatal(err)
	}
	if u.ID == "" || u.Status != UserIdle {
		t.Fatalf("unexpected user: %+v", u)
	}
}

func TestGenerateRoomID(t *testing.T) {
	seen := make(map[RoomID]bool)
	for i := 0; i < 100; i++ {
		id := GenerateRoomID()
		if len(id) != RoomIDLen {
			t.Fatalf("id %q has length %d", id, len(id))
		}
		for _, r := range string(id) {
			if strings.ContainsRune("01IO", r) {
				t.Fatalf("id %q contains ambiguous glyph %q", id, r)
			}
			if !strings.ContainsRune(roomIDAlphabet, r) {
				t.Fatalf("id %q contains %q outside the alphabet", id, r)
			}
		}
		seen[id] = true
	}
	if len(seen) < 90 {
		t.Fatalf("only %d distinct ids out of 100", len(seen))
	}
}

func TestJoinableGuards(t *testing.T) {
	room := NewRoom("ABC234", "admin", RoomSetting{MaxPlayers: 2})
	if err := room.Joinable(); err != nil {
		t.Fatalf("fresh room not joinable: %v", err)
	}

	room.Players = append(room.Players, "second")
	if err := room.Joinable(); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("roster at capacity: got %v, want ErrRoomFull", err)
	}

	room.Status = RoomFull
	if err := room.Joinable(); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("full status: got %v, want ErrRoomFull", err)
	}

	// Playing is terminal regardless of free seats.
	room.Status = RoomPlaying
	room.Players = room.Players[:1]
	if err := room.Joinable(); !errors.Is(err, ErrRoomPlaying) {
		t.Fatalf("playing status: got %v, want ErrRoomPlaying", err)
	}
}

func TestNewRoomDefaults(t *testing.T) {
	room := NewRoom("ABC234", "admin", RoomSetting{})
	if room.Setting.MaxPlayers != DefaultRoomCapacity {
		t.Fatalf("MaxPlayers = %d, want %d", room.Setting.MaxPlayers, DefaultRoomCapacity)
	}
	if room.AdminUserID != "admin" || !room.HasPlayer("admin") || len(room.Players) != 1 {
		t.Fatalf("creator not sole player and admin: %+v", room)
	}
	if room.Status != RoomAvailable {
		t.Fatalf("Status = %q, want %q", room.Status, RoomAvailable)
	}
}
