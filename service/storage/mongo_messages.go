package storage

import (
	"context"
	"time"

	"MeshHub/global/config"
	"MeshHub/service/model"
	"MeshHub/tools/ids"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore is the durable message store. Ids are minted here so the
// "m-" namespace never collides with client placeholders.
type MongoStore struct {
	col *mongo.Collection
}

func NewMongoStore(ctx context.Context, c config.MongoConfig) (*MongoStore, error) {
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(c.URI))
	if err != nil {
		return nil, errors.Wrap(err, "mongo connect")
	}
	if err := cli.Ping(ctx, nil); err != nil {
		return nil, errors.Wrap(err, "mongo ping")
	}
	return &MongoStore{col: cli.Database(c.Database).Collection("messages")}, nil
}

func (s *MongoStore) Insert(ctx context.Context, draft model.MessageDraft) (model.ChatMessage, error) {
	msg := model.ChatMessage{
		ID:          ids.DurableID(),
		ClientMsgId: draft.ClientMsgId,
		Content:     draft.Content,
		Kind:        draft.Kind,
		CreatedAt:   time.Now().UnixMilli(),
		Author:      draft.Author,
	}
	if _, err := s.col.InsertOne(ctx, msg); err != nil {
		return model.ChatMessage{}, errors.Wrap(err, "insert message")
	}
	return msg, nil
}

func (s *MongoStore) Recent(ctx context.Context, limit int) ([]model.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := s.col.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find recent")
	}
	defer func() { _ = cur.Close(ctx) }()

	var desc []model.ChatMessage
	if err := cur.All(ctx, &desc); err != nil {
		return nil, errors.Wrap(err, "decode recent")
	}
	// Query is newest-first; callers want ascending.
	out := make([]model.ChatMessage, 0, len(desc))
	for i := len(desc) - 1; i >= 0; i-- {
		out = append(out, desc[i])
	}
	return out, nil
}
