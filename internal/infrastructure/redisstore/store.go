package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/stufio-com/eventsched/internal/domain"
	"github.com/stufio-com/eventsched/internal/tier"
)

func (s *Store) SetValue(ctx context.Context, id string, blob []byte, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, s.valueKey(id), blob, ttl).Err(); err != nil {
		return fmt.Errorf("set value: %w", err)
	}
	return nil
}

func (s *Store) GetValue(ctx context.Context, id string) ([]byte, error) {
	blob, err := s.rdb.Get(ctx, s.valueKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get value: %w", err)
	}
	return blob, nil
}

func (s *Store) DeleteValue(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, s.valueKey(id)).Err()
}

// CASValueStatus is an optimistic compare-and-set over the value key using
// Redis WATCH/MULTI, not the per-id lock: the Dispatcher already holds that
// lock (TryLock/Unlock in dispatchOne) for the whole claim-publish-ack
// window, and CASValueStatus runs *inside* that window on every status
// transition (claim, complete, fail, skip). Re-acquiring the same lock key
// here would always fail against its own holder. WATCH gives the same
// read-check-write safety without needing the caller's lock token.
func (s *Store) CASValueStatus(ctx context.Context, id string, from, to domain.EventStatus, patch func(*domain.HotEvent)) (bool, error) {
	key := s.valueKey(id)
	applied := false

	txf := func(tx *redis.Tx) error {
		blob, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return err
		}

		var ev domain.HotEvent
		if err := json.Unmarshal(blob, &ev); err != nil {
			return fmt.Errorf("unmarshal hot event: %w", err)
		}
		if ev.Status != from {
			return nil
		}

		ev.Status = to
		if patch != nil {
			patch(&ev)
		}

		out, err := json.Marshal(&ev)
		if err != nil {
			return fmt.Errorf("marshal hot event: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, redis.KeepTTL)
			return nil
		})
		if err != nil {
			return err
		}
		applied = true
		return nil
	}

	if err := s.rdb.Watch(ctx, txf, key); err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			// Key changed between WATCH and EXEC — treat like any other
			// lost CAS race, not an error.
			return false, nil
		}
		return false, fmt.Errorf("cas value status: %w", err)
	}
	return applied, nil
}

func (s *Store) IndexAdd(ctx context.Context, id string, score float64) error {
	return s.rdb.ZAdd(ctx, s.indexKey, redis.Z{Score: score, Member: id}).Err()
}

func (s *Store) IndexRemove(ctx context.Context, id string) error {
	return s.rdb.ZRem(ctx, s.indexKey, id).Err()
}

func (s *Store) IndexRangeByScore(ctx context.Context, min, max float64, limit int) ([]string, error) {
	args := &redis.ZRangeBy{
		Min:   formatScore(min),
		Max:   formatScore(max),
		Count: int64(limit),
	}
	return s.rdb.ZRangeByScore(ctx, s.indexKey, args).Result()
}

func (s *Store) IndexCount(ctx context.Context, min, max float64) (int64, error) {
	return s.rdb.ZCount(ctx, s.indexKey, formatScore(min), formatScore(max)).Result()
}

func formatScore(v float64) string {
	switch {
	case math.IsInf(v, -1):
		return "-inf"
	case math.IsInf(v, 1):
		return "+inf"
	default:
		return fmt.Sprintf("%f", v)
	}
}

// releaseScript deletes the lock key only if it still holds our token — the
// same compare-and-delete a Lua script gives Python's redis.lock.Lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

func (s *Store) TryLock(ctx context.Context, id string, ttl time.Duration) (tier.LockToken, bool, error) {
	token := uuid.NewString()
	ok, err := s.rdb.SetNX(ctx, s.lockKey(id), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("try lock: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return tier.LockToken(token), true, nil
}

func (s *Store) Unlock(ctx context.Context, id string, token tier.LockToken) error {
	if token == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, s.rdb, []string{s.lockKey(id)}, string(token)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("unlock: %w", err)
	}
	return nil
}
