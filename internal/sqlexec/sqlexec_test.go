package sqlexec

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dosco/nlsqld/internal/apperr"
	"github.com/dosco/nlsqld/internal/config"
)

func newMockExecutor(t *testing.T) (*Executor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return &Executor{
		db:      db,
		dialect: mysqlDialect{},
		cfg:     config.Database{EncryptKey: "k", Type: "mysql"},
	}, mock
}

func TestExecuteSetsSessionVarsAndRunsQuery(t *testing.T) {
	exec, mock := newMockExecutor(t)

	mock.ExpectExec("SET @aesKey").WithArgs("k").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SET @customerIds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SET @workOrderIds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SET @serviceLocationIds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id FROM employee").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))

	rows, err := exec.Execute(context.Background(), "SELECT id FROM employee", Scopes{}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, rows.Columns)
	assert.Len(t, rows.Values, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteEnforcesRowCap(t *testing.T) {
	exec, mock := newMockExecutor(t)

	mock.ExpectExec("SET @aesKey").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SET @customerIds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SET @workOrderIds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SET @serviceLocationIds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id FROM employee").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2).AddRow(3))

	rows, err := exec.Execute(context.Background(), "SELECT id FROM employee", Scopes{}, 2)
	require.NoError(t, err)
	assert.Len(t, rows.Values, 2)
}

func TestExecuteWrapsQueryErrorAsExecution(t *testing.T) {
	exec, mock := newMockExecutor(t)

	mock.ExpectExec("SET @aesKey").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SET @customerIds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SET @workOrderIds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SET @serviceLocationIds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id FROM employee").WillReturnError(assert.AnError)

	_, err := exec.Execute(context.Background(), "SELECT id FROM employee", Scopes{}, 0)
	assert.Error(t, err)
}

func TestExecuteReturnsTimeoutErrorOnExpiredDeadline(t *testing.T) {
	exec, _ := newMockExecutor(t)
	exec.queryTimeout = time.Millisecond

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := exec.Execute(ctx, "SELECT id FROM employee", Scopes{}, 0)
	assert.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindTimeout))
	assert.Contains(t, err.Error(), "db_query_timeout")
}

func TestMysqlDialectDSN(t *testing.T) {
	d := mysqlDialect{}
	dsn := d.DSN(config.Database{User: "u", Password: "p", Host: "h", Port: 3306, Name: "db"})
	assert.Equal(t, "u:p@tcp(h:3306)/db?parseTime=true", dsn)
}

func TestPostgresDialectDSN(t *testing.T) {
	d := postgresDialect{}
	dsn := d.DSN(config.Database{User: "u", Password: "p", Host: "h", Port: 5432, Name: "db"})
	assert.Equal(t, "postgres://u:p@h:5432/db?sslmode=disable", dsn)
}
