package storage

import (
	"context"

	"MeshHub/logger"
	"MeshHub/service/model"
)

// CachedStore layers the redis rolling window on top of the durable
// Mongo store. Cache failures are soft on both paths.
type CachedStore struct {
	Inner *MongoStore
}

func NewCachedStore(inner *MongoStore) *CachedStore {
	return &CachedStore{Inner: inner}
}

func (s *CachedStore) Insert(ctx context.Context, draft model.MessageDraft) (model.ChatMessage, error) {
	msg, err := s.Inner.Insert(ctx, draft)
	if err != nil {
		return model.ChatMessage{}, err
	}
	if cerr := CacheRecent(msg); cerr != nil {
		logger.Warnf("[store] cache recent err id=%s: %v", msg.ID, cerr)
	}
	return msg, nil
}

func (s *CachedStore) Recent(ctx context.Context, limit int) ([]model.ChatMessage, error) {
	if msgs, err := RecentFromCache(limit); err == nil && len(msgs) > 0 {
		return msgs, nil
	}
	msgs, err := s.Inner.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}
	if len(msgs) > 0 {
		if cerr := RefillCache(msgs); cerr != nil {
			logger.Warnf("[store] refill cache err: %v", cerr)
		}
	}
	return msgs, nil
}
