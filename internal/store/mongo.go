package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	colSessions = "sessions"
	colUsers    = "users"
	colRooms    = "rooms"
)

// Mongo implements Store on a MongoDB database.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database

	sessions SessionRepo
	users    UserRepo
	rooms    RoomRepo
}

// Open connects, pings and wires the repositories.
func Open(ctx context.Context, uri, dbName string) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := client.Database(dbName)
	log.Info().Str("module", "store").Str("db", dbName).Msg("connected to mongodb")
	return &Mongo{
		client:   client,
		db:       db,
		sessions: &mongoSessionRepo{col: db.Collection(colSessions)},
		users:    &mongoUserRepo{col: db.Collection(colUsers)},
		rooms:    &mongoRoomRepo{col: db.Collection(colRooms)},
	}, nil
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *Mongo) Sessions() SessionRepo { return m.sessions }
func (m *Mongo) Users() UserRepo       { return m.users }
func (m *Mongo) Rooms() RoomRepo       { return m.rooms }

// WithTx runs fn inside one MongoDB transaction. The driver retries
// transient write conflicts; any error from fn aborts the transaction and
// leaves prior state untouched.
func (m *Mongo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	sess, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	})
	return err
}

func (m *Mongo) Reset(ctx context.Context) error {
	for _, name := range []string{colSessions, colUsers, colRooms} {
		if err := m.db.Collection(name).Drop(ctx); err != nil {
			return fmt.Errorf("drop %s: %w", name, err)
		}
	}
	log.Warn().Str("module", "store").Msg("all collections dropped")
	return nil
}
