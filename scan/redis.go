package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/medguard-ai/medguard/logger"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "medguard:scan:"
	maxTxRetries     = 16
)

// ErrConflict is returned when optimistic retries for a job are exhausted.
var ErrConflict = errors.New("scan job modified concurrently")

// RedisStore keeps each job as a JSON value. Mutations use WATCH/MULTI and
// retry on conflict. A non-zero ttl is refreshed on every write.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger logger.Logger
}

// NewRedisStore creates a Redis-backed scan job store.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration, log logger.Logger) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: log,
	}
}

func (s *RedisStore) key(id uuid.UUID) string {
	return s.prefix + id.String()
}

// Create creates a pending job for flow.
func (s *RedisStore) Create(ctx context.Context, flow Flow) (*Job, error) {
	j, err := NewJob(flow)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("encode scan job: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.key(j.ID), data, s.ttl).Result()
	if err != nil {
		s.logger.Error(ctx, "failed to create scan job", map[string]interface{}{
			"error": err.Error(),
			"flow":  string(flow),
		})
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("scan job %s already exists", j.ID)
	}

	s.logger.Info(ctx, "scan job created", map[string]interface{}{
		"scan_id": j.ID.String(),
		"flow":    string(flow),
	})

	return j, nil
}

// GetByID retrieves a job by its ID.
func (s *RedisStore) GetByID(ctx context.Context, id uuid.UUID) (*Job, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		s.logger.Error(ctx, "failed to get scan job by ID", map[string]interface{}{
			"error":   err.Error(),
			"scan_id": id.String(),
		})
		return nil, err
	}
	return decodeJob(data)
}

// Mutate applies fn inside an optimistic transaction on the job key.
func (s *RedisStore) Mutate(ctx context.Context, id uuid.UUID, fn UpdateSetter) (*Job, error) {
	key := s.key(id)

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		var updated *Job
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrJobNotFound
				}
				return err
			}

			j, err := decodeJob(data)
			if err != nil {
				return err
			}
			if err := fn(j); err != nil {
				return err
			}

			out, err := json.Marshal(j)
			if err != nil {
				return fmt.Errorf("encode scan job: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, out, s.ttl)
				return nil
			})
			if err == nil {
				updated = j
			}
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if !errors.Is(err, ErrJobNotFound) && !errors.Is(err, ErrJobTerminal) {
				s.logger.Error(ctx, "failed to update scan job", map[string]interface{}{
					"error":   err.Error(),
					"scan_id": id.String(),
				})
			}
			return nil, err
		}
		return updated, nil
	}

	s.logger.Warn(ctx, "scan job update retries exhausted", map[string]interface{}{
		"scan_id": id.String(),
	})
	return nil, ErrConflict
}

// Evict deletes jobs last updated before olderThan. Keys with a TTL also
// expire on their own.
func (s *RedisStore) Evict(ctx context.Context, olderThan time.Time) ([]*Job, error) {
	var evicted []*Job
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return evicted, err
		}

		j, err := decodeJob(data)
		if err != nil {
			s.logger.Warn(ctx, "skipping undecodable scan job", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
			continue
		}
		if !j.UpdatedAt.Before(olderThan) {
			continue
		}

		n, err := s.client.Del(ctx, key).Result()
		if err != nil {
			return evicted, err
		}
		if n > 0 {
			evicted = append(evicted, j)
		}
	}
	if err := iter.Err(); err != nil {
		return evicted, err
	}

	if len(evicted) > 0 {
		s.logger.Info(ctx, "evicted stale scan jobs", map[string]interface{}{
			"removed_count": len(evicted),
		})
	}
	return evicted, nil
}

func decodeJob(data []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decode scan job: %w", err)
	}
	return &j, nil
}
