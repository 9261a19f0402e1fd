// Package sqlexec opens a pooled connection to the configured database,
// sets per-session variables, and runs a single read-only SELECT with a
// server-side row cap. Errors are always returned as strings or typed
// apperr values, never raw driver exceptions.
package sqlexec

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dosco/nlsqld/internal/apperr"
	"github.com/dosco/nlsqld/internal/config"
)

var tracer = otel.Tracer("nlsqld/internal/sqlexec")

// Scopes are the BFF-supplied tenant scoping identifiers bound to
// session variables before the query runs. All fields are optional and
// default to empty; the engine never requires them.
type Scopes struct {
	CustomerIDs        []string
	WorkOrderIDs       []string
	ServiceLocationIDs []string
}

// Rows is the executor's result shape: column names plus row values
// addressed by column index, so callers don't depend on database/sql
// directly.
type Rows struct {
	Columns []string
	Values  [][]any
}

// Dialect captures the handful of things that differ between supported
// database engines: driver name, DSN shape, and session-variable syntax.
type Dialect interface {
	Name() string
	DriverName() string
	DSN(cfg config.Database) string
	SetSessionVars(ctx context.Context, conn *sql.Conn, cfg config.Database, scopes Scopes) error
}

// Executor runs validated, read-only statements against a pooled
// connection.
type Executor struct {
	db           *sql.DB
	dialect      Dialect
	cfg          config.Database
	queryTimeout time.Duration
}

// Open opens the configured database with bounded retry on the initial
// connection, applies pool limits, and verifies connectivity with Ping.
func Open(ctx context.Context, cfg config.Database) (*Executor, error) {
	dialect, err := dialectFor(cfg.Type)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	openErr := retry.Do(
		func() error {
			var err error
			db, err = sql.Open(dialect.DriverName(), dialect.DSN(cfg))
			if err != nil {
				return err
			}
			return db.PingContext(ctx)
		},
		retry.Attempts(5),
		retry.Delay(200*time.Millisecond),
		retry.Context(ctx),
	)
	if openErr != nil {
		return nil, apperr.UpstreamUnavailable(fmt.Sprintf("%s database", dialect.Name()), openErr)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.PoolSize > 0 {
		db.SetMaxIdleConns(cfg.PoolSize)
	}
	if cfg.ConnMaxIdle > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdle)
	}
	if cfg.ConnMaxLife > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLife)
	}

	return &Executor{db: db, dialect: dialect, cfg: cfg, queryTimeout: cfg.QueryTimeout}, nil
}

// Close releases the connection pool.
func (e *Executor) Close() error {
	return e.db.Close()
}

// Execute runs sql with a bounded row cap, acquiring a connection from
// the pool and setting per-session variables before the query. The
// caller is responsible for having already appended a LIMIT; rowCap is
// a hard backstop enforced independently of the statement text.
// cfg.Database.QueryTimeout bounds this one query independently of
// whatever deadline ctx already carries, so one slow query cannot
// silently consume the whole pipeline's timeout budget.
func (e *Executor) Execute(ctx context.Context, statement string, scopes Scopes, rowCap int) (Rows, error) {
	ctx, span := tracer.Start(ctx, "sqlexec.Execute")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", e.dialect.Name()))

	if e.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.queryTimeout)
		defer cancel()
	}

	fail := func(err error) (Rows, error) {
		if ctx.Err() == context.DeadlineExceeded {
			err = apperr.Timeout("db_query", err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Rows{}, err
	}

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return fail(apperr.Execution("acquiring connection from pool", err))
	}
	defer conn.Close()

	if err := e.dialect.SetSessionVars(ctx, conn, e.cfg, scopes); err != nil {
		return fail(apperr.Execution("setting session variables", err))
	}

	rows, err := conn.QueryContext(ctx, statement)
	if err != nil {
		return fail(apperr.Execution("executing statement", err))
	}
	defer rows.Close()

	result, err := scanRows(rows, rowCap)
	if err != nil {
		return fail(err)
	}
	span.SetAttributes(attribute.Int("db.rows_returned", len(result.Values)))
	return result, nil
}

func scanRows(rows *sql.Rows, rowCap int) (Rows, error) {
	cols, err := rows.Columns()
	if err != nil {
		return Rows{}, apperr.Execution("reading result columns", err)
	}

	out := Rows{Columns: cols}
	for rows.Next() {
		if rowCap > 0 && len(out.Values) >= rowCap {
			break
		}
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Rows{}, apperr.Execution("scanning result row", err)
		}
		out.Values = append(out.Values, raw)
	}
	if err := rows.Err(); err != nil {
		return Rows{}, apperr.Execution("reading result set", err)
	}
	return out, nil
}

func dialectFor(dbType string) (Dialect, error) {
	switch dbType {
	case "mysql", "mariadb":
		return mysqlDialect{}, nil
	case "postgres", "postgresql", "":
		return postgresDialect{}, nil
	default:
		return nil, apperr.Config(fmt.Sprintf("unsupported DB_TYPE %q", dbType), nil)
	}
}
