package core

import (
	"context"
	"io"

	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/pkg/types"
)

// FindingStore persists and queries PII findings. Implementations wrap every
// storage fault as a StorageError; the underlying connection never leaks to
// callers.
type FindingStore interface {
	// Insert validates that Detected is non-empty, assigns the timestamp when
	// zero, and persists the record. The stored ID is written back into f.
	Insert(ctx context.Context, f *types.Finding) error

	// QueryRecent returns findings ordered by timestamp descending, capped at
	// filter.Limit (default 100 when zero or negative).
	QueryRecent(ctx context.Context, filter FindingFilter) ([]types.Finding, error)

	// DistinctHostnames returns the observed non-null hostnames, sorted
	// ascending.
	DistinctHostnames(ctx context.Context) ([]string, error)

	// DistinctSources returns the observed non-null sources, sorted ascending.
	DistinctSources(ctx context.Context) ([]string, error)

	// Count returns the number of stored findings.
	Count(ctx context.Context) (int64, error)
}

// FindingFilter restricts a QueryRecent call. Hostname and Source match
// exactly; Category matches as a case-insensitive substring of Detected.
type FindingFilter struct {
	Hostname string
	Source   string
	Category string
	Limit    int
}

// UserStore owns credential records. Implementations never persist or log a
// plaintext password.
type UserStore interface {
	// Upsert creates or overwrites the record for u.Username.
	Upsert(ctx context.Context, u types.User) error

	// Get returns the record for username, or ErrNotFound.
	Get(ctx context.Context, username string) (*types.User, error)

	// SetPasswordHash replaces the stored hash, or ErrNotFound.
	SetPasswordHash(ctx context.Context, username, hash string) error

	// Delete removes the record; deleting an absent user is a no-op success.
	Delete(ctx context.Context, username string) error

	// List returns all users ordered ascending by username.
	List(ctx context.Context) ([]types.UserInfo, error)
}

// Exporter renders a row set into a byte stream. Callers pass the exact rows
// the dashboard computed so the export matches what was displayed.
type Exporter interface {
	Name() string
	Export(rows []types.Finding, w io.Writer) error
	FileExtension() string
	ContentType() string
}
