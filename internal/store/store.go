// Package store persists sessions, users and rooms in a document store.
// Multi-document mutations go through WithTx; everything else is a
// single-document read or write.
package store

import (
	"context"
	"errors"

	"github.com/yomogy/ito/internal/domain"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrDuplicateID = errors.New("duplicate id")
)

type SessionRepo interface {
	Get(ctx context.Context, id domain.SessionID) (*domain.Session, error)
	// Upsert writes the whole document, creating it if absent.
	Upsert(ctx context.Context, s *domain.Session) error
	Update(ctx context.Context, s *domain.Session) error
}

type UserRepo interface {
	Get(ctx context.Context, id domain.UserID) (*domain.User, error)
	GetMany(ctx context.Context, ids []domain.UserID) ([]domain.User, error)
	Insert(ctx context.Context, u *domain.User) error
	Update(ctx context.Context, u *domain.User) error
	Delete(ctx context.Context, id domain.UserID) error
}

type RoomRepo interface {
	Get(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	// Insert fails with ErrDuplicateID when the generated join code is
	// already taken, which drives the bounded retry in room creation.
	Insert(ctx context.Context, r *domain.Room) error
	Update(ctx context.Context, r *domain.Room) error
	Delete(ctx context.Context, id domain.RoomID) error
}

// Store bundles the repositories with transaction and reset support.
type Store interface {
	Sessions() SessionRepo
	Users() UserRepo
	Rooms() RoomRepo

	// WithTx runs fn atomically: every repo call made with the ctx passed
	// to fn joins one transaction, committed iff fn returns nil.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	// Reset wipes all collections. Debug path only.
	Reset(ctx context.Context) error
}
