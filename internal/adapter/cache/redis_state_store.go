// Package cache provides Redis-backed adapters for ephemeral state.
package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	domainoauth "github.com/lumenchat/lumen-auth/internal/domain/oauth"
	"github.com/lumenchat/lumen-auth/internal/oauth"
)

const statePrefix = "oauth:state:"

// RedisStateStore implements oauth.StateStore backed by Redis. GETDEL
// makes Consume exactly-once across replicas.
type RedisStateStore struct {
	client redis.UniversalClient
}

var _ oauth.StateStore = (*RedisStateStore)(nil)

// NewRedisStateStore constructs a Redis-backed state store.
func NewRedisStateStore(client redis.UniversalClient) *RedisStateStore {
	return &RedisStateStore{client: client}
}

// Save stores the encoded login state under the state key with the
// standard TTL; Redis expiry replaces the in-memory store's pruning.
func (s *RedisStateStore) Save(ctx context.Context, state string, data domainoauth.LoginState) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := s.client.Set(ctx, statePrefix+state, payload, oauth.StateTTL).Err(); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

// Consume loads and removes the state atomically. Unknown or expired
// states yield nil.
func (s *RedisStateStore) Consume(ctx context.Context, state string) (*domainoauth.LoginState, error) {
	bytes, err := s.client.GetDel(ctx, statePrefix+state).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("load state: %w", err)
	}
	var entry domainoauth.LoginState
	if err := json.Unmarshal(bytes, &entry); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &entry, nil
}
