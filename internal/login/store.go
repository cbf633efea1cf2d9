package login

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const pendingKeyPrefix = "stepup:pending:"

var (
	ErrPendingNotFound = errors.New("pending login not found")
	ErrPendingExpired  = errors.New("pending login expired")
	ErrStoreBackend    = errors.New("pending login store unavailable")
)

// Store keeps PendingLogin records in Redis with a TTL matching ExpiresAt, so
// abandoned attempts vanish without any cleanup dependency.
type Store struct {
	redis *redis.Client
}

func NewStore(redisClient *redis.Client) *Store {
	return &Store{redis: redisClient}
}

func key(id uuid.UUID) string {
	return pendingKeyPrefix + id.String()
}

func (s *Store) Save(ctx context.Context, p PendingLogin) error {
	ttl := time.Until(p.ExpiresAt)
	if ttl <= 0 {
		return ErrPendingExpired
	}

	encoded, err := json.Marshal(p)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, key(p.ID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreBackend, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*PendingLogin, error) {
	data, err := s.redis.Get(ctx, key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrPendingNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreBackend, err)
	}

	var p PendingLogin
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}

	if p.Expired(time.Now()) {
		_, _ = s.redis.Del(ctx, key(id)).Result()
		return nil, ErrPendingExpired
	}
	return &p, nil
}

// Delete destroys the record, normally on grant.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.redis.Del(ctx, key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreBackend, err)
	}
	return nil
}
