package storage

import (
	"context"

	"MeshHub/global/config"

	"github.com/redis/go-redis/v9"
)

var (
	rdb *redis.Client
	ctx = context.Background()
)

func InitRedis(c config.RedisConfig) error {
	rdb = redis.NewClient(&redis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB})
	return rdb.Ping(ctx).Err()
}

// SetClient swaps the package client; used by tests with a local
// instance.
func SetClient(c *redis.Client) { rdb = c }
