package database

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/config"
	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/core"
	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/logger"
)

// Pool is the single shared storage resource. It bounds concurrent
// connections between MinConnections and MaxConnections, hands them out
// through Acquire/Release, and survives transient storage outages at startup
// by retrying initialization with exponential backoff.
//
// The pool is constructed explicitly and passed to every component that needs
// storage access; there is no package-level instance.
type Pool struct {
	db     *sqlx.DB
	cfg    config.DatabaseConfig
	logger *logger.Logger

	mu       sync.Mutex
	closed   bool
	degraded bool
}

// Conn is a pooled connection handle. It must be returned with Pool.Release
// exactly once; a second release is reported as a programming error rather
// than silently ignored.
type Conn struct {
	*sqlx.Conn
	released atomic.Bool
}

// NewPool opens the database, configures the pool bounds, and verifies
// connectivity. The readiness ping is retried up to cfg.InitRetries times
// with 2^attempt seconds between attempts; after exhausting the attempts the
// failure is logged and returned so the caller can decide whether to keep
// serving non-storage requests.
func NewPool(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*Pool, error) {
	log = log.WithComponent("database")

	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 20
	}
	if cfg.MinConnections <= 0 {
		cfg.MinConnections = 1
	}
	if cfg.MinConnections > cfg.MaxConnections {
		return nil, fmt.Errorf("invalid pool bounds: min %d > max %d", cfg.MinConnections, cfg.MaxConnections)
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 5 * time.Second
	}
	if cfg.InitRetries <= 0 {
		cfg.InitRetries = 5
	}

	log.Infow("Initializing connection pool",
		"driver", cfg.Driver,
		"dsn_masked", maskDSN(cfg.DSN),
		"min_connections", cfg.MinConnections,
		"max_connections", cfg.MaxConnections,
	)

	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		log.LogError(ctx, err, "database.Open", "driver", cfg.Driver)
		return nil, core.WrapStorage("open", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MinConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := pingWithRetry(ctx, db, cfg.InitRetries, log); err != nil {
		db.Close()
		return nil, err
	}

	pool := &Pool{
		db:     db,
		cfg:    cfg,
		logger: log,
	}

	if err := pool.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	log.Infow("Connection pool ready",
		"driver", cfg.Driver,
		"max_connections", cfg.MaxConnections,
	)

	return pool, nil
}

// NewDegradedPool builds the pool that stands in when initialization has
// exhausted its retry budget. Every Acquire and Ping reports
// StorageUnavailable, so storage-backed routes answer with the retryable
// condition while the rest of the process keeps serving. Startup failure is
// reported this way rather than by aborting the process.
func NewDegradedPool(cfg config.DatabaseConfig, log *logger.Logger) *Pool {
	return &Pool{
		cfg:      cfg,
		logger:   log.WithComponent("database"),
		degraded: true,
	}
}

// pingWithRetry verifies storage readiness. Attempt n sleeps 2^n seconds
// before retrying, matching the startup policy: total failure is reported,
// not hidden, but only after the retry budget is spent.
func pingWithRetry(ctx context.Context, db *sqlx.DB, attempts int, log *logger.Logger) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}

		if attempt == attempts {
			break
		}

		backoff := time.Duration(1<<uint(attempt)) * time.Second
		log.Warnw("Storage not ready, retrying",
			"attempt", attempt,
			"max_attempts", attempts,
			"backoff", backoff.String(),
			"error", err.Error(),
		)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return core.WrapStorage("init", ctx.Err())
		}
	}

	log.LogError(ctx, err, "database.InitRetry", "attempts", attempts)
	return core.WrapStorage("init", err)
}

// Acquire returns a pooled connection, blocking while the pool is at
// MaxConnections until one is released or the acquire timeout elapses. A
// timed-out or failed acquire is reported as the retryable storage condition;
// acquiring from a shut-down pool fails fast.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, core.ErrPoolClosed
	}
	if p.degraded {
		p.mu.Unlock()
		return nil, core.ErrStorageUnavailable
	}
	p.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.AcquireTimeout)
		defer cancel()
	}

	conn, err := p.db.Connx(ctx)
	if err != nil {
		return nil, core.WrapStorage("acquire", err)
	}
	return &Conn{Conn: conn}, nil
}

// Release returns a connection to the pool. Releasing the same handle twice
// is a caller bug: it is logged and reported, and the second release does not
// touch the underlying connection.
func (p *Pool) Release(c *Conn) error {
	if c == nil {
		return fmt.Errorf("release of nil connection")
	}
	if c.released.Swap(true) {
		err := fmt.Errorf("connection released twice")
		p.logger.LogError(context.Background(), err, "database.Release")
		return err
	}
	if err := c.Conn.Close(); err != nil {
		return core.WrapStorage("release", err)
	}
	return nil
}

// WithConn runs fn with an acquired connection and releases it afterwards.
func (p *Pool) WithConn(ctx context.Context, fn func(*Conn) error) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(conn)
	return fn(conn)
}

// Ping reports whether storage is reachable right now.
func (p *Pool) Ping(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return core.ErrPoolClosed
	}
	if p.degraded {
		p.mu.Unlock()
		return core.ErrStorageUnavailable
	}
	p.mu.Unlock()

	if err := p.db.PingContext(ctx); err != nil {
		return core.WrapStorage("ping", err)
	}
	return nil
}

// Driver returns the configured driver name.
func (p *Pool) Driver() string { return p.cfg.Driver }

// Shutdown quiesces the pool: new acquires fail fast and every idle and
// outstanding connection is closed exactly once. Safe to call more than once.
func (p *Pool) Shutdown() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.logger.Info("Shutting down connection pool")
	if p.db == nil {
		return nil
	}
	if err := p.db.Close(); err != nil {
		return core.WrapStorage("shutdown", err)
	}
	return nil
}

// maskDSN hides credentials in connection strings before they hit logs.
func maskDSN(dsn string) string {
	if len(dsn) > 10 {
		return dsn[:5] + "***" + dsn[len(dsn)-5:]
	}
	return "***"
}
