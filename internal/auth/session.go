package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/roomchat/internal/store"
)

// SessionStore keeps opaque session ids in redis, each mapping to a user id
// and expiring after ttl.
type SessionStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewSessionStore wraps an existing client. Keys are written as prefix+"session:"+id.
func NewSessionStore(client *redis.Client, prefix string, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *SessionStore) key(id string) string {
	return s.prefix + "session:" + id
}

// Create issues a new session id for userID.
func (s *SessionStore) Create(ctx context.Context, userID uint) (string, error) {
	id := uuid.NewString()
	if err := s.client.Set(ctx, s.key(id), userID, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("redis: create session: %w", err)
	}
	return id, nil
}

// Lookup returns the user id bound to a session id. Unknown or expired ids
// yield ErrInvalidToken; a redis failure yields store.ErrUnavailable.
func (s *SessionStore) Lookup(ctx context.Context, id string) (uint, error) {
	if _, err := uuid.Parse(id); err != nil {
		return 0, fmt.Errorf("%w: malformed session id", ErrInvalidToken)
	}

	val, err := s.client.Get(ctx, s.key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("%w: unknown session", ErrInvalidToken)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: redis lookup session: %w", store.ErrUnavailable, err)
	}

	userID, err := strconv.ParseUint(val, 10, 64)
	if err != nil || userID == 0 {
		return 0, fmt.Errorf("%w: corrupt session value", ErrInvalidToken)
	}
	return uint(userID), nil
}

// Delete revokes a session id. Deleting an unknown id is not an error.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("redis: delete session: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *SessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
