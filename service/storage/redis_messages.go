package storage

import (
	"encoding/json"
	"fmt"

	"MeshHub/service/model"
)

// Rolling cache of the most recent room messages, newest first. The
// durable copy lives in Mongo; this only serves the fast path of the
// client seed fetch.

const (
	recentKey = "mesh:messages:recent"
	recentMax = 500
)

// CacheRecent pushes a freshly persisted message onto the rolling
// window.
func CacheRecent(msg model.ChatMessage) error {
	if rdb == nil {
		return fmt.Errorf("redis not initialized")
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	pipe := rdb.TxPipeline()
	pipe.LPush(ctx, recentKey, b)
	pipe.LTrim(ctx, recentKey, 0, recentMax-1)
	_, err = pipe.Exec(ctx)
	return err
}

// RecentFromCache returns up to n cached messages in ascending
// creation order. An empty result means cache miss; callers fall back
// to the durable store.
func RecentFromCache(n int) ([]model.ChatMessage, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis not initialized")
	}
	if n <= 0 {
		n = 50
	}
	vals, err := rdb.LRange(ctx, recentKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.ChatMessage, 0, len(vals))
	// List is newest-first; reverse into ascending order.
	for i := len(vals) - 1; i >= 0; i-- {
		var m model.ChatMessage
		if uerr := json.Unmarshal([]byte(vals[i]), &m); uerr != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// RefillCache replaces the rolling window with msgs (ascending
// order), used after a durable-store fallback.
func RefillCache(msgs []model.ChatMessage) error {
	if rdb == nil {
		return fmt.Errorf("redis not initialized")
	}
	pipe := rdb.TxPipeline()
	pipe.Del(ctx, recentKey)
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			continue
		}
		pipe.LPush(ctx, recentKey, b)
	}
	pipe.LTrim(ctx, recentKey, 0, recentMax-1)
	_, err := pipe.Exec(ctx)
	return err
}
