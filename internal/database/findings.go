package database

import (
	"context"
	"strings"
	"time"

	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/core"
	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/logger"
	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/pkg/types"
)

// defaultQueryLimit caps QueryRecent when the caller passes no limit.
const defaultQueryLimit = 100

// FindingStore persists PII findings through the shared pool. Every
// operation acquires a pooled connection, so concurrent callers are bounded
// by the pool and storage faults surface as the retryable condition.
type FindingStore struct {
	pool   *Pool
	logger *logger.Logger
}

var _ core.FindingStore = (*FindingStore)(nil)

func NewFindingStore(pool *Pool, log *logger.Logger) *FindingStore {
	return &FindingStore{
		pool:   pool,
		logger: log.WithComponent("findings-store"),
	}
}

// Insert validates and persists one finding. The detected field must be
// non-empty: a row without category tags could never participate in
// aggregation and is rejected before any storage write. The assigned id is
// written back into f, as is the server-assigned timestamp when f carries
// none.
func (s *FindingStore) Insert(ctx context.Context, f *types.Finding) error {
	if strings.TrimSpace(f.Detected) == "" {
		return core.NewValidationError("detected", "must not be empty")
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now().UTC()
	}

	start := time.Now()
	err := s.pool.WithConn(ctx, func(conn *Conn) error {
		if s.pool.Driver() == "postgres" {
			query := conn.Rebind(`
				INSERT INTO pii_results (hostname, source, column_name, detected, timestamp)
				VALUES (?, ?, ?, ?, ?)
				RETURNING id
			`)
			return conn.QueryRowxContext(ctx, query,
				f.Hostname, f.Source, f.ColumnName, f.Detected, f.Timestamp,
			).Scan(&f.ID)
		}

		res, err := conn.ExecContext(ctx, `
			INSERT INTO pii_results (hostname, source, column_name, detected, timestamp)
			VALUES (?, ?, ?, ?, ?)
		`, f.Hostname, f.Source, f.ColumnName, f.Detected, f.Timestamp)
		if err != nil {
			return err
		}
		f.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		s.logger.LogError(ctx, err, "findings.Insert", "source", f.Source)
		return core.WrapStorage("insert finding", err)
	}

	s.logger.LogDatabaseOperation(ctx, "INSERT", "pii_results", 1, time.Since(start),
		"finding_id", f.ID,
		"source", f.Source,
	)
	return nil
}

// QueryRecent returns findings ordered newest first, restricted by the
// filter. Hostname and source match exactly; the category filter matches as
// a case-insensitive substring of the detected field, the same loose policy
// the aggregation uses.
func (s *FindingStore) QueryRecent(ctx context.Context, filter core.FindingFilter) ([]types.Finding, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	query := `
		SELECT id, hostname, source, column_name, detected, timestamp
		FROM pii_results
		WHERE 1=1`
	args := []interface{}{}

	if filter.Hostname != "" {
		query += " AND hostname = ?"
		args = append(args, filter.Hostname)
	}
	if filter.Source != "" {
		query += " AND source = ?"
		args = append(args, filter.Source)
	}
	if filter.Category != "" {
		// Escaped so the _ in tags like credit_card matches literally,
		// keeping SQL eligibility identical to plain substring containment.
		query += ` AND LOWER(detected) LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(strings.ToLower(filter.Category))+"%")
	}

	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	findings := []types.Finding{}
	err := s.pool.WithConn(ctx, func(conn *Conn) error {
		return conn.SelectContext(ctx, &findings, conn.Rebind(query), args...)
	})
	if err != nil {
		s.logger.LogError(ctx, err, "findings.QueryRecent")
		return nil, core.WrapStorage("query findings", err)
	}
	return findings, nil
}

// DistinctHostnames returns the non-null hostnames observed so far, sorted
// ascending for reproducible output.
func (s *FindingStore) DistinctHostnames(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "hostname")
}

// DistinctSources returns the non-null sources observed so far, sorted
// ascending.
func (s *FindingStore) DistinctSources(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "source")
}

func (s *FindingStore) distinct(ctx context.Context, column string) ([]string, error) {
	// column is one of two fixed identifiers, never caller input.
	query := "SELECT DISTINCT " + column + " FROM pii_results WHERE " + column +
		" IS NOT NULL AND " + column + " <> '' ORDER BY " + column + " ASC"

	values := []string{}
	err := s.pool.WithConn(ctx, func(conn *Conn) error {
		return conn.SelectContext(ctx, &values, query)
	})
	if err != nil {
		s.logger.LogError(ctx, err, "findings.Distinct", "column", column)
		return nil, core.WrapStorage("distinct "+column, err)
	}
	return values, nil
}

// Count returns the total number of stored findings.
func (s *FindingStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.WithConn(ctx, func(conn *Conn) error {
		return conn.GetContext(ctx, &count, "SELECT COUNT(*) FROM pii_results")
	})
	if err != nil {
		return 0, core.WrapStorage("count findings", err)
	}
	return count, nil
}

// escapeLike neutralizes LIKE metacharacters in a user-supplied pattern.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
