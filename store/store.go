// Package store provides the Resilient Store Facade: a narrow set of
// persistence primitives backed by PostgreSQL, with bounded retry on
// transient connection faults and a DDL kill-switch that forbids
// schema-changing statements in production and staging.
package store

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/itsneelabh/gomind/core"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Row is the narrow subset of pgx.Row the facade exposes to callers.
type Row interface {
	Scan(dest ...interface{}) error
}

// Rows is the narrow subset of pgx.Rows the facade exposes to callers.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close()
	Err() error
}

// Facade is the persistence surface every subsystem is handed at
// initialize(store) time. It never exposes the underlying pool so callers
// cannot bypass the DDL kill-switch or the retry policy.
type Facade interface {
	Execute(ctx context.Context, sql string, args ...interface{}) error
	FetchRows(ctx context.Context, sql string, args ...interface{}) (Rows, error)
	FetchOne(ctx context.Context, sql string, args ...interface{}) (Row, error)
	FetchScalar(ctx context.Context, sql string, dest interface{}, args ...interface{}) error
	Close()
}

// Store is the pgxpool-backed implementation of Facade.
type Store struct {
	pool           *pgxpool.Pool
	logger         core.Logger
	telemetry      core.Telemetry
	maxRetries     int
	environment    string
	allowRuntimeDDL bool
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithLogger attaches a logger. Defaults to core.NoOpLogger.
func WithLogger(logger core.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithTelemetry attaches a telemetry sink. Defaults to core.NoOpTelemetry.
func WithTelemetry(telemetry core.Telemetry) Option {
	return func(s *Store) { s.telemetry = telemetry }
}

// WithMaxRetries overrides the default retry bound (2).
func WithMaxRetries(n int) Option {
	return func(s *Store) { s.maxRetries = n }
}

// WithEnvironment sets the deployment environment that drives the DDL
// kill-switch ("production" and "staging" always block DDL).
func WithEnvironment(env string) Option {
	return func(s *Store) { s.environment = env }
}

// WithRuntimeDDLAllowed opts into DDL outside production/staging. Maps to
// the ENABLE_RUNTIME_DDL=1 configuration flag.
func WithRuntimeDDLAllowed(allowed bool) Option {
	return func(s *Store) { s.allowRuntimeDDL = allowed }
}

// Open establishes a pooled connection to connString, applying the same
// pool tuning as the upstream control-plane store, and verifies
// reachability with a Ping before returning.
func Open(ctx context.Context, connString string, cfg core.StoreConfig, opts ...Option) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, core.NewFrameworkError("store.open", core.KindStoreFatal, err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, core.NewFrameworkError("store.open", core.KindStoreFatal, err)
	}

	s := &Store{
		pool:        pool,
		logger:      &core.NoOpLogger{},
		telemetry:   &core.NoOpTelemetry{},
		maxRetries:  cfg.MaxRetries,
		environment: "development",
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, core.NewFrameworkError("store.open", core.KindStoreFatal, err)
	}

	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Execute runs a statement that returns no rows (INSERT/UPDATE/DELETE, or
// DDL outside production/staging with the opt-in flag set).
func (s *Store) Execute(ctx context.Context, sql string, args ...interface{}) error {
	if blocked := s.checkKillSwitch("store.execute", sql); blocked != nil {
		return blocked
	}
	return s.withRetry(ctx, "store.execute", func() error {
		_, err := s.pool.Exec(ctx, sql, args...)
		return err
	})
}

// FetchRows runs a query expected to return zero or more rows. The
// returned Rows must be closed by the caller.
func (s *Store) FetchRows(ctx context.Context, sql string, args ...interface{}) (Rows, error) {
	if blocked := s.checkKillSwitch("store.fetch_rows", sql); blocked != nil {
		return nil, blocked
	}
	var rows pgx.Rows
	err := s.withRetry(ctx, "store.fetch_rows", func() error {
		r, err := s.pool.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		rows = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// FetchOne runs a query expected to return exactly one row. Scan on the
// returned Row surfaces pgx.ErrNoRows unchanged if nothing matched.
func (s *Store) FetchOne(ctx context.Context, sql string, args ...interface{}) (Row, error) {
	if blocked := s.checkKillSwitch("store.fetch_one", sql); blocked != nil {
		return nil, blocked
	}
	var row pgx.Row
	err := s.withRetry(ctx, "store.fetch_one", func() error {
		row = s.pool.QueryRow(ctx, sql, args...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// FetchScalar runs a single-column, single-row query and scans the result
// into dest.
func (s *Store) FetchScalar(ctx context.Context, sql string, dest interface{}, args ...interface{}) error {
	if blocked := s.checkKillSwitch("store.fetch_scalar", sql); blocked != nil {
		return blocked
	}
	return s.withRetry(ctx, "store.fetch_scalar", func() error {
		return s.pool.QueryRow(ctx, sql, args...).Scan(dest)
	})
}

// checkKillSwitch enforces the DDL policy: always blocked in
// production/staging, otherwise blocked unless explicitly opted in.
func (s *Store) checkKillSwitch(op, sql string) error {
	if !isDDL(sql) {
		return nil
	}
	if s.environment == "production" || s.environment == "staging" || !s.allowRuntimeDDL {
		s.logger.Warn("blocked runtime DDL statement", map[string]interface{}{
			"op":          op,
			"environment": s.environment,
		})
		return core.NewFrameworkError(op, core.KindBlockedRuntimeDDL, core.ErrBlockedRuntimeDDL)
	}
	return nil
}

// withRetry runs fn, retrying up to s.maxRetries times on transient errors
// with a 200*(attempt+1)ms backoff. Context cancellation is always
// re-raised immediately without counting against the retry budget.
func (s *Store) withRetry(ctx context.Context, op string, fn func() error) error {
	ctx, span := s.telemetry.StartSpan(ctx, op)
	defer span.End()

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return core.NewFrameworkError(op, core.KindCancelled, err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			span.RecordError(lastErr)
			return core.NewFrameworkError(op, core.KindStoreFatal, lastErr)
		}
		if attempt == s.maxRetries {
			break
		}

		delay := time.Duration(200*(attempt+1)) * time.Millisecond
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return core.NewFrameworkError(op, core.KindCancelled, ctx.Err())
		case <-timer.C:
		}
		s.logger.Warn("retrying transient store error", map[string]interface{}{
			"op":      op,
			"attempt": attempt + 1,
			"err":     lastErr.Error(),
		})
	}

	span.RecordError(lastErr)
	return core.NewFrameworkError(op, core.KindStoreTransient, lastErr)
}

// isTransient reports whether err belongs to the declared transient set:
// connection-does-not-exist, interface errors, internal client errors, and
// generic network connection errors. pgx.ErrNoRows is never transient.
func isTransient(err error) bool {
	if errors.Is(err, pgx.ErrNoRows) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 - connection exception.
		return strings.HasPrefix(pgErr.Code, "08")
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection does not exist"),
		strings.Contains(msg, "interfaceerror"),
		strings.Contains(msg, "internal client error"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "closed pool"):
		return true
	}
	return false
}
