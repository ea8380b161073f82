package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// presence key: mesh:presence:<user>
// Value: gateway node id, TTL controls the online validity period.
func presenceKey(user string) string { return "mesh:presence:" + user }

// PresenceOnline sets the user as online and renews the TTL.
func PresenceOnline(user, nodeID string, ttl time.Duration) error {
	if rdb == nil {
		return fmt.Errorf("redis not initialized")
	}
	return rdb.Set(ctx, presenceKey(user), nodeID, ttl).Err()
}

// PresenceOffline actively sets the user offline (deletes the key).
func PresenceOffline(user string) error {
	if rdb == nil {
		return fmt.Errorf("redis not initialized")
	}
	return rdb.Del(ctx, presenceKey(user)).Err()
}

// PresenceLookup checks whether the user is online.
func PresenceLookup(user string) (nodeID string, online bool, err error) {
	if rdb == nil {
		return "", false, fmt.Errorf("redis not initialized")
	}
	val, err := rdb.Get(ctx, presenceKey(user)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Mirror adapts the presence keys to the gateway's PresenceMirror
// collaborator. TTL should comfortably exceed two heartbeat sweeps so
// a missed refresh does not flap the key.
type Mirror struct {
	TTL time.Duration
}

func NewMirror(heartbeat time.Duration) *Mirror {
	return &Mirror{TTL: 3 * heartbeat}
}

func (m *Mirror) Online(_ context.Context, userID, nodeID string) error {
	return PresenceOnline(userID, nodeID, m.TTL)
}

func (m *Mirror) Offline(_ context.Context, userID string) error {
	return PresenceOffline(userID)
}

func (m *Mirror) Lookup(_ context.Context, userID string) (string, bool, error) {
	return PresenceLookup(userID)
}
