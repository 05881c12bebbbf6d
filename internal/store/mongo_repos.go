package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/yomogy/ito/internal/domain"
)

type mongoSessionRepo struct {
	col *mongo.Collection
}

func (r *mongoSessionRepo) Get(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	var s domain.Session
	err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &s, nil
}

func (r *mongoSessionRepo) Upsert(ctx context.Context, s *domain.Session) error {
	opts := options.Replace().SetUpsert(true)
	if _, err := r.col.ReplaceOne(ctx, bson.M{"_id": s.ID}, s, opts); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (r *mongoSessionRepo) Update(ctx context.Context, s *domain.Session) error {
	res, err := r.col.ReplaceOne(ctx, bson.M{"_id": s.ID}, s)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

type mongoUserRepo struct {
	col *mongo.Collection
}

func (r *mongoUserRepo) Get(ctx context.Context, id domain.UserID) (*domain.User, error) {
	var u domain.User
	err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (r *mongoUserRepo) GetMany(ctx context.Context, ids []domain.UserID) ([]domain.User, error) {
	cur, err := r.col.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("get users: %w", err)
	}
	var byID = make(map[domain.UserID]domain.User, len(ids))
	var all []domain.User
	if err := cur.All(ctx, &all); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	for _, u := range all {
		byID[u.ID] = u
	}
	// Preserve roster order; a missing document is an integrity error the
	// caller turns into a transaction abort.
	out := make([]domain.User, 0, len(ids))
	for _, id := range ids {
		u, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
		out = append(out, u)
	}
	return out, nil
}

func (r *mongoUserRepo) Insert(ctx context.Context, u *domain.User) error {
	if _, err := r.col.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateID
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *mongoUserRepo) Update(ctx context.Context, u *domain.User) error {
	res, err := r.col.ReplaceOne(ctx, bson.M{"_id": u.ID}, u)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *mongoUserRepo) Delete(ctx context.Context, id domain.UserID) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

type mongoRoomRepo struct {
	col *mongo.Collection
}

func (r *mongoRoomRepo) Get(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	var room domain.Room
	err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&room)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}
	return &room, nil
}

func (r *mongoRoomRepo) Insert(ctx context.Context, room *domain.Room) error {
	if _, err := r.col.InsertOne(ctx, room); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateID
		}
		return fmt.Errorf("insert room: %w", err)
	}
	return nil
}

func (r *mongoRoomRepo) Update(ctx context.Context, room *domain.Room) error {
	res, err := r.col.ReplaceOne(ctx, bson.M{"_id": room.ID}, room)
	if err != nil {
		return fmt.Errorf("update room: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *mongoRoomRepo) Delete(ctx context.Context, id domain.RoomID) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
