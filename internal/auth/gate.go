package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"sync"

	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/core"
	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/logger"
	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/pkg/types"
)

// dummyHash is verified against when the username does not exist, so an
// unknown-user login costs the same argon2 work as a wrong-password login
// and the two outcomes are indistinguishable to the caller.
var (
	dummyHash     string
	dummyHashOnce sync.Once
)

func dummy() string {
	dummyHashOnce.Do(func() {
		h, err := HashPassword("dummy-timing-equalizer")
		if err != nil {
			// rand.Read failing means the process is unusable anyway.
			panic(err)
		}
		dummyHash = h
	})
	return dummyHash
}

// Gate is the single authorization chokepoint. Every credential decision
// (login, role check, ingestion key, password reset) goes through it; failed
// checks produce ErrUnauthorized with no storage side effects and no hint of
// whether the username exists.
type Gate struct {
	users  core.UserStore
	apiKey string
	logger *logger.Logger
}

func NewGate(users core.UserStore, ingestAPIKey string, log *logger.Logger) *Gate {
	return &Gate{
		users:  users,
		apiKey: ingestAPIKey,
		logger: log.WithComponent("auth"),
	}
}

// Authenticate verifies username/password and returns the user record.
// Unknown user, wrong password and malformed stored hash all collapse into
// ErrUnauthorized; only storage faults surface as their own class so the
// caller can answer 503 instead of 401.
func (g *Gate) Authenticate(ctx context.Context, username, password string) (*types.User, error) {
	u, err := g.users.Get(ctx, username)
	if errors.Is(err, core.ErrNotFound) {
		// Burn the same hashing work as the real path.
		_, _ = VerifyPassword(dummy(), password)
		g.logger.LogAuthEvent(ctx, "login", false, "reason", "unknown_user")
		return nil, core.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}

	ok, err := VerifyPassword(u.PasswordHash, password)
	if err != nil || !ok {
		g.logger.LogAuthEvent(ctx, "login", false, "username", username)
		return nil, core.ErrUnauthorized
	}

	g.logger.LogAuthEvent(ctx, "login", true, "username", username, "role", string(u.Role))
	return u, nil
}

// IsAdmin reports whether username holds the admin role. An unknown user is
// not an admin; only storage faults are returned as errors.
func (g *Gate) IsAdmin(ctx context.Context, username string) (bool, error) {
	u, err := g.users.Get(ctx, username)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.Role == types.RoleAdmin, nil
}

// CheckIngestKey compares the presented scanner API key against the
// configured one in constant time. An empty configured key fails closed.
func (g *Gate) CheckIngestKey(ctx context.Context, presented string) error {
	if g.apiKey == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(g.apiKey)) != 1 {
		g.logger.LogAuthEvent(ctx, "ingest_key", false)
		return core.ErrUnauthorized
	}
	return nil
}

// CreateUser enforces the password policy, hashes, and upserts the record.
// An existing username is overwritten, matching the store contract.
func (g *Gate) CreateUser(ctx context.Context, username, password string, role types.Role) error {
	if username == "" {
		return core.NewValidationError("username", "must not be empty")
	}
	if err := ValidatePassword(password); err != nil {
		return err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return g.users.Upsert(ctx, types.User{Username: username, PasswordHash: hash, Role: role})
}

// ResetPassword is the self-service path: the caller proves knowledge of the
// old password before the new one is accepted and policy-checked.
func (g *Gate) ResetPassword(ctx context.Context, username, oldPassword, newPassword string) error {
	if _, err := g.Authenticate(ctx, username, oldPassword); err != nil {
		return err
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := g.users.SetPasswordHash(ctx, username, hash); err != nil {
		return err
	}
	g.logger.LogAuthEvent(ctx, "password_reset", true, "username", username, "mode", "self")
	return nil
}

// AdminResetPassword replaces a user's password without old-password proof.
// Callers must have verified the admin role already; resetting an unknown
// user reports ErrNotFound.
func (g *Gate) AdminResetPassword(ctx context.Context, username, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := g.users.SetPasswordHash(ctx, username, hash); err != nil {
		return err
	}
	g.logger.LogAuthEvent(ctx, "password_reset", true, "username", username, "mode", "admin")
	return nil
}

// DeleteUser removes the record; deleting an absent user is a no-op success.
func (g *Gate) DeleteUser(ctx context.Context, username string) error {
	return g.users.Delete(ctx, username)
}

// ListUsers returns all users ordered ascending by username.
func (g *Gate) ListUsers(ctx context.Context) ([]types.UserInfo, error) {
	return g.users.List(ctx)
}
