package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/core"
	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/logger"
	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/pkg/types"
)

// UserStore persists credential records. It stores only hashes; password
// policy and hashing live in the auth package so no plaintext ever reaches
// this layer.
type UserStore struct {
	pool   *Pool
	logger *logger.Logger
}

var _ core.UserStore = (*UserStore)(nil)

func NewUserStore(pool *Pool, log *logger.Logger) *UserStore {
	return &UserStore{
		pool:   pool,
		logger: log.WithComponent("user-store"),
	}
}

// Upsert creates the record or overwrites the existing one, keeping exactly
// one row per username.
func (s *UserStore) Upsert(ctx context.Context, u types.User) error {
	if !u.Role.Valid() {
		return core.NewValidationError("role", "must be admin or user")
	}

	start := time.Now()
	err := s.pool.WithConn(ctx, func(conn *Conn) error {
		query := conn.Rebind(`
			INSERT INTO users (username, password_hash, role)
			VALUES (?, ?, ?)
			ON CONFLICT (username) DO UPDATE
			SET password_hash = EXCLUDED.password_hash,
			    role = EXCLUDED.role
		`)
		_, err := conn.ExecContext(ctx, query, u.Username, u.PasswordHash, u.Role)
		return err
	})
	if err != nil {
		s.logger.LogError(ctx, err, "users.Upsert", "username", u.Username)
		return core.WrapStorage("upsert user", err)
	}

	s.logger.LogDatabaseOperation(ctx, "UPSERT", "users", 1, time.Since(start),
		"username", u.Username,
		"role", string(u.Role),
	)
	return nil
}

// Get returns the record for username or ErrNotFound.
func (s *UserStore) Get(ctx context.Context, username string) (*types.User, error) {
	var u types.User
	err := s.pool.WithConn(ctx, func(conn *Conn) error {
		query := conn.Rebind("SELECT username, password_hash, role FROM users WHERE username = ?")
		return conn.GetContext(ctx, &u, query, username)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		s.logger.LogError(ctx, err, "users.Get", "username", username)
		return nil, core.WrapStorage("get user", err)
	}
	return &u, nil
}

// SetPasswordHash replaces the stored hash for username, or reports
// ErrNotFound when no such user exists.
func (s *UserStore) SetPasswordHash(ctx context.Context, username, hash string) error {
	var affected int64
	err := s.pool.WithConn(ctx, func(conn *Conn) error {
		query := conn.Rebind("UPDATE users SET password_hash = ? WHERE username = ?")
		res, err := conn.ExecContext(ctx, query, hash, username)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		s.logger.LogError(ctx, err, "users.SetPasswordHash", "username", username)
		return core.WrapStorage("set password hash", err)
	}
	if affected == 0 {
		return core.ErrNotFound
	}
	return nil
}

// Delete removes the record. Deleting an absent user is a no-op success.
func (s *UserStore) Delete(ctx context.Context, username string) error {
	err := s.pool.WithConn(ctx, func(conn *Conn) error {
		query := conn.Rebind("DELETE FROM users WHERE username = ?")
		_, err := conn.ExecContext(ctx, query, username)
		return err
	})
	if err != nil {
		s.logger.LogError(ctx, err, "users.Delete", "username", username)
		return core.WrapStorage("delete user", err)
	}
	return nil
}

// List returns all users ordered ascending by username.
func (s *UserStore) List(ctx context.Context) ([]types.UserInfo, error) {
	users := []types.UserInfo{}
	err := s.pool.WithConn(ctx, func(conn *Conn) error {
		return conn.SelectContext(ctx, &users, "SELECT username, role FROM users ORDER BY username ASC")
	})
	if err != nil {
		s.logger.LogError(ctx, err, "users.List")
		return nil, core.WrapStorage("list users", err)
	}
	return users, nil
}
