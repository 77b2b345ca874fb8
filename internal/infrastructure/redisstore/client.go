// Package redisstore is the K-tier adapter: the hot, short-horizon queue
// backing tier.KStore. Grounded on the original system's
// crud_redis_scheduled_event.py key layout (value + sorted-set index +
// lock-then-mutate), translated into a go-redis/v9 client the way
// Geocoder89-event-hub's redisclient package wraps one.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr     string
	Password string
	DB       int
}

// Store is the concrete K-tier client. Its key layout mirrors the Python
// original: a value key per event, a lock key per event, and one sorted set
// indexing every pending event by scheduled_at (in epoch seconds).
type Store struct {
	rdb        *redis.Client
	keyPrefix  string
	indexKey   string
}

const (
	defaultKeyPrefix = "hotevent"
	defaultIndexKey  = "hotevents:index"
)

func New(cfg Config) *Store {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	return &Store{rdb: rdb, keyPrefix: defaultKeyPrefix, indexKey: defaultIndexKey}
}

func (s *Store) valueKey(id string) string {
	return fmt.Sprintf("%s:%s", s.keyPrefix, id)
}

func (s *Store) lockKey(id string) string {
	return fmt.Sprintf("%s:lock:%s", s.keyPrefix, id)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}
