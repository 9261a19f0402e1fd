package sqlexec

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dosco/nlsqld/internal/config"
)

type mysqlDialect struct{}

func (mysqlDialect) Name() string       { return "mysql" }
func (mysqlDialect) DriverName() string { return "mysql" }

func (mysqlDialect) DSN(cfg config.Database) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name)
}

// SetSessionVars binds the encryption key and tenant scoping identifiers
// as MySQL user-defined session variables, read back by secure views
// declared `WHERE ... = @customerIds` and similar.
func (mysqlDialect) SetSessionVars(ctx context.Context, conn *sql.Conn, cfg config.Database, scopes Scopes) error {
	if cfg.EncryptKey != "" {
		if _, err := conn.ExecContext(ctx, "SET @aesKey = ?", cfg.EncryptKey); err != nil {
			return err
		}
	}
	if _, err := conn.ExecContext(ctx, "SET @customerIds = ?", joinOrNull(scopes.CustomerIDs)); err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, "SET @workOrderIds = ?", joinOrNull(scopes.WorkOrderIDs)); err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, "SET @serviceLocationIds = ?", joinOrNull(scopes.ServiceLocationIDs)); err != nil {
		return err
	}
	return nil
}

type postgresDialect struct{}

func (postgresDialect) Name() string       { return "postgres" }
func (postgresDialect) DriverName() string { return "pgx" }

func (postgresDialect) DSN(cfg config.Database) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name)
}

// SetSessionVars uses PostgreSQL's session-local SET for the duration of
// the connection's checkout; the pool returns the connection afterward
// so values never leak to an unrelated request.
func (postgresDialect) SetSessionVars(ctx context.Context, conn *sql.Conn, cfg config.Database, scopes Scopes) error {
	if cfg.EncryptKey != "" {
		if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET SESSION nlsqld.aes_key = %s", quoteLiteral(cfg.EncryptKey))); err != nil {
			return err
		}
	}
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET SESSION nlsqld.customer_ids = %s", quoteLiteral(joinOrEmpty(scopes.CustomerIDs)))); err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET SESSION nlsqld.work_order_ids = %s", quoteLiteral(joinOrEmpty(scopes.WorkOrderIDs)))); err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET SESSION nlsqld.service_location_ids = %s", quoteLiteral(joinOrEmpty(scopes.ServiceLocationIDs)))); err != nil {
		return err
	}
	return nil
}

func joinOrNull(ids []string) any {
	if len(ids) == 0 {
		return nil
	}
	return strings.Join(ids, ",")
}

func joinOrEmpty(ids []string) string {
	return strings.Join(ids, ",")
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
