package database

import (
	"context"
	"time"

	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/core"
)

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS users (
	username TEXT PRIMARY KEY,
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'user'
);

CREATE TABLE IF NOT EXISTS pii_results (
	id BIGSERIAL PRIMARY KEY,
	hostname TEXT,
	source TEXT,
	column_name TEXT,
	detected TEXT NOT NULL,
	timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_pii_results_timestamp ON pii_results(timestamp);
CREATE INDEX IF NOT EXISTS idx_pii_results_hostname ON pii_results(hostname);
CREATE INDEX IF NOT EXISTS idx_pii_results_source ON pii_results(source);
`

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS users (
	username TEXT PRIMARY KEY,
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'user'
);

CREATE TABLE IF NOT EXISTS pii_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	hostname TEXT,
	source TEXT,
	column_name TEXT,
	detected TEXT NOT NULL,
	timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_pii_results_timestamp ON pii_results(timestamp);
CREATE INDEX IF NOT EXISTS idx_pii_results_hostname ON pii_results(hostname);
CREATE INDEX IF NOT EXISTS idx_pii_results_source ON pii_results(source);
`

// migrate creates the schema on first startup. Both drivers get the same
// logical tables; only the auto-increment id syntax differs.
func (p *Pool) migrate(ctx context.Context) error {
	start := time.Now()

	schema := schemaPostgres
	if p.cfg.Driver == "sqlite3" {
		schema = schemaSQLite
		if _, err := p.db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
			return core.WrapStorage("migrate.pragma", err)
		}
	}

	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		p.logger.LogError(ctx, err, "database.migrate", "driver", p.cfg.Driver)
		return core.WrapStorage("migrate", err)
	}

	p.logger.Infow("Database migration completed",
		"driver", p.cfg.Driver,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
