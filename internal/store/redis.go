package store

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	maxUpdateAttempts = 3
	retryBackoffUnit  = 50 * time.Millisecond
)

// RedisStore is the horizontal variant: game state lives in Redis, mutated
// via WATCH/MULTI/EXEC optimistic transactions (spec §4.1). The retry idiom
// itself is grounded directly on the canonical go-redis counter example
// (client.Watch + tx.TxPipelined); the session-key and rate-limit-key
// conventions are grounded on the teacher's auth package.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, id string) ([]byte, error) {
	data, err := s.client.Get(ctx, GameKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *RedisStore) Create(ctx context.Context, id string, state []byte, ttl time.Duration) error {
	ok, err := s.client.SetNX(ctx, GameKey(id), state, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrExists
	}
	return nil
}

// Update implements the WATCH/MULTI/EXEC retry loop from spec §4.1:
// watch the key, run the transform against the current value, attempt the
// transaction, and on a watch-key-changed conflict retry up to
// maxUpdateAttempts with linear backoff before surfacing ErrConflict.
func (s *RedisStore) Update(ctx context.Context, id string, ttl time.Duration, transform TransformFunc) ([]byte, error) {
	key := GameKey(id)
	var result []byte

	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		txErr := s.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if err == redis.Nil {
					return ErrNotFound
				}
				return err
			}

			newState, err := transform(current)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, newState, ttl)
				return nil
			})
			if err != nil {
				return err
			}
			result = newState
			return nil
		}, key)

		if txErr == nil {
			return result, nil
		}
		if txErr == ErrNotFound {
			return nil, ErrNotFound
		}
		if txErr == redis.TxFailedErr {
			time.Sleep(time.Duration(attempt) * retryBackoffUnit)
			continue
		}
		return nil, txErr
	}
	return nil, ErrConflict
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, GameKey(id)).Err()
}

func (s *RedisStore) Exists(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, GameKey(id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ScanIDs uses SCAN with COUNT=100, never KEYS, and filters out reservation
// marker keys (spec §4.1).
func (s *RedisStore) ScanIDs(ctx context.Context) ([]string, error) {
	var ids []string
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, "game:*", 100).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			if strings.HasSuffix(k, ReservedKeySuffix) {
				continue
			}
			ids = append(ids, strings.TrimPrefix(k, "game:"))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return ids, nil
}

func (s *RedisStore) ReserveID(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, ReservedKey(id), "1", ttl).Result()
}

func (s *RedisStore) Publish(ctx context.Context, channel string, payload []byte) error {
	return s.client.Publish(ctx, channel, payload).Err()
}

func (s *RedisStore) Subscribe(ctx context.Context, channel string, handler Handler) (func(), error) {
	sub := s.client.Subscribe(ctx, channel)
	ch := sub.Channel()

	done := make(chan struct{})
	go func() {
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler(msg.Channel, []byte(msg.Payload))
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		_ = sub.Close()
	}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
