package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

const backendRedis = "redis"

// maxTxRetries bounds optimistic-lock retries of one RecordAttempt.
const maxTxRetries = 10

// RedisStore keeps runs in Redis. Each RecordAttempt is a WATCH/MULTI
// transaction on the identifier's attempt key.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{redis: redisClient}
}

// CreateRun implements Store.
func (s *RedisStore) CreateRun(ctx context.Context, run *Run) error {
	key := runKey(run.ID)

	err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key.String()).Result()
		if err != nil {
			return fmt.Errorf("redis exists: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("%w: %s", ErrRunExists, run.ID)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key.String(),
				"created_at", run.CreatedAt.UnixNano(),
				"updated_at", run.UpdatedAt.UnixNano(),
				"source", run.Source)
			if len(run.Identifiers) > 0 {
				ids := make([]interface{}, len(run.Identifiers))
				for i, id := range run.Identifiers {
					ids[i] = id
				}
				pipe.RPush(ctx, key.identifiers(), ids...)
			}
			pipe.ZAdd(ctx, runsIndexKey(), redis.Z{Score: float64(run.CreatedAt.UnixNano()), Member: run.ID})
			return nil
		})
		return err
	}, key.String())
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: %s", ErrRunExists, run.ID)
	}
	return err
}

func (s *RedisStore) resolve(ctx context.Context, runID string) (string, error) {
	if runID != LatestAlias {
		return runID, nil
	}
	// Equal scores come back in reverse lexicographic order.
	ids, err := s.redis.ZRevRange(ctx, runsIndexKey(), 0, 0).Result()
	if err != nil {
		return "", fmt.Errorf("resolve latest run: %w", err)
	}
	if len(ids) == 0 {
		return "", fmt.Errorf("%w: no runs yet", ErrRunNotFound)
	}
	return ids[0], nil
}

// LoadRun implements Store.
func (s *RedisStore) LoadRun(ctx context.Context, runID string) (*Run, error) {
	id, err := s.resolve(ctx, runID)
	if err != nil {
		return nil, err
	}
	key := runKey(id)

	fields, err := s.redis.HGetAll(ctx, key.String()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	run := &Run{ID: id, Source: fields["source"], Attempts: make(map[string]*Attempt)}
	run.CreatedAt = parseNanos(fields["created_at"])
	run.UpdatedAt = parseNanos(fields["updated_at"])

	run.Identifiers, err = s.redis.LRange(ctx, key.identifiers(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}

	if len(run.Identifiers) > 0 {
		keys := make([]string, len(run.Identifiers))
		for i, sid := range run.Identifiers {
			keys[i] = key.attempt(sid)
		}
		values, err := s.redis.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("redis mget attempts: %w", err)
		}
		for i, v := range values {
			data, ok := v.(string)
			if !ok {
				continue
			}
			var a Attempt
			if err := sonic.UnmarshalString(data, &a); err != nil {
				return nil, fmt.Errorf("decode attempt %s: %w", run.Identifiers[i], err)
			}
			run.Attempts[run.Identifiers[i]] = &a
		}
	}

	run.normalize()
	return run, nil
}

func parseNanos(v string) time.Time {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// ListRuns implements Store.
func (s *RedisStore) ListRuns(ctx context.Context) ([]RunSummary, error) {
	ids, err := s.redis.ZRange(ctx, runsIndexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange: %w", err)
	}
	summaries := make([]RunSummary, 0, len(ids))
	for _, id := range ids {
		run, err := s.LoadRun(ctx, id)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, run.Summary())
	}
	sortSummaries(summaries)
	return summaries, nil
}

// RecordAttempt implements Store.
func (s *RedisStore) RecordAttempt(ctx context.Context, runID string, rec Record) (err error) {
	accepted := false
	defer func() { observeWrite(backendRedis, accepted, err, len(rec.Payload)) }()

	key := runKey(runID)
	sid := rec.Attempt.SeriesID

	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key.String()).Result()
		if err != nil {
			return fmt.Errorf("redis exists: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}

		var prev *Attempt
		data, err := tx.Get(ctx, key.attempt(sid)).Result()
		switch {
		case err == redis.Nil:
		case err != nil:
			return fmt.Errorf("redis get: %w", err)
		default:
			var a Attempt
			if err := sonic.UnmarshalString(data, &a); err != nil {
				return fmt.Errorf("decode attempt %s: %w", sid, err)
			}
			prev = &a
		}

		next := rec.Attempt
		next.HasPayload = next.Status == StatusSucceeded && (len(rec.Payload) > 0 || (prev != nil && prev.HasPayload))
		merged, ok := Merge(prev, next)
		if !ok {
			accepted = false
			return nil
		}
		encoded, err := sonic.MarshalString(merged)
		if err != nil {
			return fmt.Errorf("encode attempt: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key.attempt(sid), encoded, 0)
			if merged.Status == StatusSucceeded && len(rec.Payload) > 0 {
				pipe.Set(ctx, key.payload(sid), rec.Payload, 0)
			}
			pipe.HSet(ctx, key.String(), "updated_at", merged.UpdatedAt.UnixNano())
			return nil
		})
		if err == nil {
			accepted = true
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err = s.redis.Watch(ctx, txf, key.attempt(sid))
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("record attempt %s: %w", sid, err)
}

// Payload implements Store.
func (s *RedisStore) Payload(ctx context.Context, runID, seriesID string) ([]byte, error) {
	id, err := s.resolve(ctx, runID)
	if err != nil {
		return nil, err
	}
	data, err := s.redis.Get(ctx, runKey(id).payload(seriesID)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrPayloadNotFound, id, seriesID)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

// ForEachPayload implements Store.
func (s *RedisStore) ForEachPayload(ctx context.Context, runID string, fn func(seriesID string, payload []byte) error) error {
	run, err := s.LoadRun(ctx, runID)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(run.Identifiers))
	for _, sid := range run.Identifiers {
		if seen[sid] {
			continue
		}
		seen[sid] = true
		a := run.Attempt(sid)
		if a.Status != StatusSucceeded || !a.HasPayload {
			continue
		}
		payload, err := s.Payload(ctx, run.ID, sid)
		if errors.Is(err, ErrPayloadNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := fn(sid, payload); err != nil {
			return err
		}
	}
	return nil
}

// DeleteRun implements Store.
func (s *RedisStore) DeleteRun(ctx context.Context, runID string) error {
	id, err := s.resolve(ctx, runID)
	if err != nil {
		return err
	}
	key := runKey(id)

	n, err := s.redis.Exists(ctx, key.String()).Result()
	if err != nil {
		return fmt.Errorf("redis exists: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	ids, err := s.redis.LRange(ctx, key.identifiers(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("redis lrange: %w", err)
	}
	keys := []string{key.String(), key.identifiers()}
	for _, sid := range ids {
		keys = append(keys, key.attempt(sid), key.payload(sid))
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, runsIndexKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.redis.Close()
}
