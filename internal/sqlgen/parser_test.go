package sqlgen_test

import (
	"testing"

	"github.com/dosco/nlsqld/internal/sqlgen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSimpleSelect(t *testing.T) {
	stmt, err := sqlgen.Parse("SELECT id, name FROM employee WHERE active = 1 LIMIT 10")
	require.NoError(t, err)
	assert.Equal(t, "employee", stmt.From.Name)
	assert.Equal(t, 10, stmt.Limit)
	assert.True(t, stmt.HasLimit)
}

func TestParseJoin(t *testing.T) {
	stmt, err := sqlgen.Parse(
		"SELECT e.id FROM employee e JOIN employeeCrew ec ON ec.employeeId = e.id")
	require.NoError(t, err)
	require.Len(t, stmt.Joins, 1)
	assert.Equal(t, "employeeCrew", stmt.Joins[0].Table.Name)
	assert.Equal(t, "ec", stmt.Joins[0].Table.Alias)
	assert.Equal(t, "ec", stmt.Joins[0].Condition.Left.Table)
	assert.Equal(t, "e", stmt.Joins[0].Condition.Right.Table)
}

func TestParseRejectsNonSelect(t *testing.T) {
	_, err := sqlgen.Parse("DELETE FROM employee")
	assert.Error(t, err)
}

func TestParseRejectsDDLSmuggledAfterSelect(t *testing.T) {
	_, err := sqlgen.Parse("SELECT 1; DROP TABLE employee;")
	assert.Error(t, err)
}

func TestParseRejectsMissingFrom(t *testing.T) {
	_, err := sqlgen.Parse("SELECT 1")
	assert.Error(t, err)
}

func TestAliasMapResolvesBareAndAliased(t *testing.T) {
	stmt, err := sqlgen.Parse("SELECT 1 FROM employee e JOIN crew ON crew.id = e.crewId")
	require.NoError(t, err)
	m := stmt.AliasMap()
	assert.Equal(t, "employee", m["e"])
	assert.Equal(t, "crew", m["crew"])
}

func TestParseExtractsQualifiedSelectColumns(t *testing.T) {
	stmt, err := sqlgen.Parse("SELECT e.id, e.firstName FROM employee e")
	require.NoError(t, err)
	require.Len(t, stmt.SelectColumns, 2)
	assert.Equal(t, sqlgen.ColRef{Table: "e", Column: "id"}, stmt.SelectColumns[0])
	assert.Equal(t, sqlgen.ColRef{Table: "e", Column: "firstName"}, stmt.SelectColumns[1])
}

func TestParseSkipsUnqualifiedSelectColumns(t *testing.T) {
	stmt, err := sqlgen.Parse("SELECT id FROM employee")
	require.NoError(t, err)
	assert.Empty(t, stmt.SelectColumns)
}

func TestParseExtractsWhereGroupByAndOrderByColumns(t *testing.T) {
	stmt, err := sqlgen.Parse(
		"SELECT e.id FROM employee e WHERE e.active = 1 GROUP BY e.departmentId ORDER BY e.id LIMIT 5")
	require.NoError(t, err)
	require.Len(t, stmt.WhereColumns, 1)
	assert.Equal(t, sqlgen.ColRef{Table: "e", Column: "active"}, stmt.WhereColumns[0])
	require.Len(t, stmt.GroupByColumns, 1)
	assert.Equal(t, sqlgen.ColRef{Table: "e", Column: "departmentId"}, stmt.GroupByColumns[0])
	require.Len(t, stmt.OrderByColumns, 1)
	assert.Equal(t, sqlgen.ColRef{Table: "e", Column: "id"}, stmt.OrderByColumns[0])
}

func TestColumnReferencesCombinesAllClauses(t *testing.T) {
	stmt, err := sqlgen.Parse(
		"SELECT e.id FROM employee e WHERE e.active = 1 GROUP BY e.departmentId ORDER BY e.id")
	require.NoError(t, err)
	assert.Len(t, stmt.ColumnReferences(), 4)
}
