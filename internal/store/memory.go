package store

import (
	"context"
	"sync"

	"github.com/yomogy/ito/internal/domain"
)

// Memory is an in-process Store used by tests and by `ito serve --ephemeral`.
// WithTx serializes transactions and rolls the maps back when fn fails,
// matching the all-or-nothing contract of the MongoDB implementation.
type Memory struct {
	mu       sync.Mutex
	sessions map[domain.SessionID]domain.Session
	users    map[domain.UserID]domain.User
	rooms    map[domain.RoomID]domain.Room
}

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[domain.SessionID]domain.Session),
		users:    make(map[domain.UserID]domain.User),
		rooms:    make(map[domain.RoomID]domain.Room),
	}
}

func (m *Memory) Sessions() SessionRepo { return (*memSessionRepo)(m) }
func (m *Memory) Users() UserRepo       { return (*memUserRepo)(m) }
func (m *Memory) Rooms() RoomRepo       { return (*memRoomRepo)(m) }

func (m *Memory) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapSessions := copyMap(m.sessions)
	snapUsers := copyMap(m.users)
	snapRooms := make(map[domain.RoomID]domain.Room, len(m.rooms))
	for id, r := range m.rooms {
		snapRooms[id] = cloneRoom(r)
	}

	if err := fn(context.WithValue(ctx, txKey{}, m)); err != nil {
		m.sessions = snapSessions
		m.users = snapUsers
		m.rooms = snapRooms
		return err
	}
	return nil
}

func (m *Memory) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[domain.SessionID]domain.Session)
	m.users = make(map[domain.UserID]domain.User)
	m.rooms = make(map[domain.RoomID]domain.Room)
	return nil
}

// txKey marks a ctx as already holding the store lock.
type txKey struct{}

func (m *Memory) locked(ctx context.Context) func() {
	if ctx.Value(txKey{}) == m {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneRoom(r domain.Room) domain.Room {
	r.Players = append([]domain.UserID(nil), r.Players...)
	return r
}

type memSessionRepo Memory

func (r *memSessionRepo) Get(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	defer (*Memory)(r).locked(ctx)()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (r *memSessionRepo) Upsert(ctx context.Context, s *domain.Session) error {
	defer (*Memory)(r).locked(ctx)()
	r.sessions[s.ID] = *s
	return nil
}

func (r *memSessionRepo) Update(ctx context.Context, s *domain.Session) error {
	defer (*Memory)(r).locked(ctx)()
	if _, ok := r.sessions[s.ID]; !ok {
		return ErrNotFound
	}
	r.sessions[s.ID] = *s
	return nil
}

type memUserRepo Memory

func (r *memUserRepo) Get(ctx context.Context, id domain.UserID) (*domain.User, error) {
	defer (*Memory)(r).locked(ctx)()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (r *memUserRepo) GetMany(ctx context.Context, ids []domain.UserID) ([]domain.User, error) {
	defer (*Memory)(r).locked(ctx)()
	out := make([]domain.User, 0, len(ids))
	for _, id := range ids {
		u, ok := r.users[id]
		if !ok {
			return nil, ErrNotFound
		}
		out = append(out, u)
	}
	return out, nil
}

func (r *memUserRepo) Insert(ctx context.Context, u *domain.User) error {
	defer (*Memory)(r).locked(ctx)()
	if _, ok := r.users[u.ID]; ok {
		return ErrDuplicateID
	}
	r.users[u.ID] = *u
	return nil
}

func (r *memUserRepo) Update(ctx context.Context, u *domain.User) error {
	defer (*Memory)(r).locked(ctx)()
	if _, ok := r.users[u.ID]; !ok {
		return ErrNotFound
	}
	r.users[u.ID] = *u
	return nil
}

func (r *memUserRepo) Delete(ctx context.Context, id domain.UserID) error {
	defer (*Memory)(r).locked(ctx)()
	if _, ok := r.users[id]; !ok {
		return ErrNotFound
	}
	delete(r.users, id)
	return nil
}

type memRoomRepo Memory

func (r *memRoomRepo) Get(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	defer (*Memory)(r).locked(ctx)()
	room, ok := r.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	room = cloneRoom(room)
	return &room, nil
}

func (r *memRoomRepo) Insert(ctx context.Context, room *domain.Room) error {
	defer (*Memory)(r).locked(ctx)()
	if _, ok := r.rooms[room.ID]; ok {
		return ErrDuplicateID
	}
	r.rooms[room.ID] = cloneRoom(*room)
	return nil
}

func (r *memRoomRepo) Update(ctx context.Context, room *domain.Room) error {
	defer (*Memory)(r).locked(ctx)()
	if _, ok := r.rooms[room.ID]; !ok {
		return ErrNotFound
	}
	r.rooms[room.ID] = cloneRoom(*room)
	return nil
}

func (r *memRoomRepo) Delete(ctx context.Context, id domain.RoomID) error {
	defer (*Memory)(r).locked(ctx)()
	if _, ok := r.rooms[id]; !ok {
		return ErrNotFound
	}
	delete(r.rooms, id)
	return nil
}
