package api

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/pkg/types"
)

// defaultSessionTTL bounds how long an issued token stays valid without
// re-login.
const defaultSessionTTL = 12 * time.Hour

// session is an issued bearer token's server-side state.
type session struct {
	Username  string
	Role      types.Role
	ExpiresAt time.Time
}

// SessionRegistry is the in-process store of issued bearer tokens. Tokens
// are opaque uuids; role changes or deletions take effect on next login, not
// retroactively, except that Revoke and RevokeUser drop live sessions.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]session
	ttl      time.Duration
	now      func() time.Time
}

func NewSessionRegistry(ttl time.Duration) *SessionRegistry {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &SessionRegistry{
		sessions: make(map[string]session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Issue creates a session for the user and returns the bearer token.
func (r *SessionRegistry) Issue(u *types.User) string {
	token := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[token] = session{
		Username:  u.Username,
		Role:      u.Role,
		ExpiresAt: r.now().Add(r.ttl),
	}
	return token
}

// Lookup resolves a token to its identity. Expired tokens are dropped on
// sight.
func (r *SessionRegistry) Lookup(token string) (username string, role types.Role, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, found := r.sessions[token]
	if !found {
		return "", "", false
	}
	if r.now().After(s.ExpiresAt) {
		delete(r.sessions, token)
		return "", "", false
	}
	return s.Username, s.Role, true
}

// Revoke invalidates one token. Revoking an unknown token is a no-op.
func (r *SessionRegistry) Revoke(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, token)
}

// RevokeUser invalidates every live session for username, used when an
// admin deletes a user or resets their password.
func (r *SessionRegistry) RevokeUser(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for token, s := range r.sessions {
		if s.Username == username {
			delete(r.sessions, token)
		}
	}
}
