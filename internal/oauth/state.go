package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	domainoauth "github.com/lumenchat/lumen-auth/internal/domain/oauth"
)

// StateTTL bounds how long a login state stays usable.
const StateTTL = 600 * time.Second

// StateStore persists ephemeral login state between the login redirect and
// the provider callback. Consume is exactly-once: the first call for a given
// state returns it and removes it, later calls return nil.
type StateStore interface {
	Save(ctx context.Context, state string, data domainoauth.LoginState) error
	Consume(ctx context.Context, state string) (*domainoauth.LoginState, error)
}

// MemoryStateStore is the default mutex-guarded in-process store. Entries
// older than StateTTL are pruned on every Save, so the map stays bounded
// without a timer task.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]domainoauth.LoginState

	now func() time.Time
}

var _ StateStore = (*MemoryStateStore)(nil)

// NewMemoryStateStore constructs an empty store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		states: make(map[string]domainoauth.LoginState),
		now:    time.Now,
	}
}

// Save stores the state and prunes expired entries.
func (s *MemoryStateStore) Save(_ context.Context, state string, data domainoauth.LoginState) error {
	cutoff := s.now().Unix() - int64(StateTTL/time.Second)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state] = data
	for key, entry := range s.states {
		if entry.CreatedAt < cutoff {
			delete(s.states, key)
		}
	}
	return nil
}

// Consume removes and returns the state. Expired or unknown states yield nil.
func (s *MemoryStateStore) Consume(_ context.Context, state string) (*domainoauth.LoginState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.states[state]
	if !ok {
		return nil, nil
	}
	delete(s.states, state)

	if s.now().Unix()-entry.CreatedAt > int64(StateTTL/time.Second) {
		return nil, nil
	}
	return &entry, nil
}

// generateState produces the 32-byte random state parameter.
func generateState() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf[:]), nil
}
