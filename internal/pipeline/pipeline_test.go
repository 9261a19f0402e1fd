package pipeline_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dosco/nlsqld/internal/apperr"
	"github.com/dosco/nlsqld/internal/config"
	"github.com/dosco/nlsqld/internal/correction"
	"github.com/dosco/nlsqld/internal/display"
	"github.com/dosco/nlsqld/internal/llm"
	"github.com/dosco/nlsqld/internal/pipeline"
	"github.com/dosco/nlsqld/internal/sdata"
	"github.com/dosco/nlsqld/internal/secureview"
	"github.com/dosco/nlsqld/internal/sqlexec"
	"github.com/dosco/nlsqld/internal/sqlgen"
)

const graphJSON = `{
  "tables": [
    {"name": "employee", "columns": ["id", "firstName"], "unique_columns": ["id"]},
    {"name": "workTime", "columns": ["id", "employeeId"], "unique_columns": ["id"]}
  ],
  "relationships": [
    {"from_table": "workTime", "from_column": "employeeId", "to_table": "employee", "to_column": "id",
     "type": "foreign_key", "confidence": 1.0, "cardinality": "N:1"}
  ],
  "metadata": {}
}`

func testGraph(t *testing.T) *sdata.Graph {
	t.Helper()
	g, err := sdata.LoadBytes([]byte(graphJSON))
	require.NoError(t, err)
	return g
}

func testDisplay(t *testing.T) *display.Registry {
	t.Helper()
	reg, err := display.Load(strings.NewReader(`{}`), func(table string) ([]string, bool) { return nil, false })
	require.NoError(t, err)
	return reg
}

// scriptedCompleter returns a fixed reply regardless of the prompt,
// used to drive the table selector and generator deterministically.
type scriptedCompleter struct {
	reply string
}

func (s scriptedCompleter) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	return llm.Response{Content: s.reply}, nil
}

type fakeExecutor struct {
	rows sqlexec.Rows
	err  error
}

func (f fakeExecutor) Execute(ctx context.Context, statement string, scopes sqlexec.Scopes, rowCap int) (sqlexec.Rows, error) {
	return f.rows, f.err
}

func TestRunHappyPath(t *testing.T) {
	g := testGraph(t)
	selector := scriptedCompleter{reply: "employee, workTime"}
	generator := sqlgen.New(scriptedCompleter{reply: "SELECT e.id FROM employee e JOIN workTime wt ON wt.employeeId = e.id"}, g, testDisplay(t))
	corrector := correction.New(scriptedCompleter{reply: "SELECT e.id FROM employee e"})
	exec := fakeExecutor{rows: sqlexec.Rows{Columns: []string{"id"}, Values: [][]any{{1}, {2}}}}

	p := pipeline.New(g, nil, generator, corrector, exec, secureview.NewMap(nil), testDisplay(t), selector, config.SQLPipeline{
		MaxTablesInSelectionPrompt: 10,
		MaxQueryRows:               50,
		CorrectionMaxAttempts:      3,
	})

	state, err := p.Run(context.Background(), "how many employees clocked time", nil, nil, sqlexec.Scopes{})
	require.NoError(t, err)
	assert.Equal(t, pipeline.StageFinalize, state.Stage)
	assert.Equal(t, []string{"id"}, state.ColumnNames)
	assert.Len(t, state.FinalStructured, 2)
}

func TestRunEntersCorrectionOnValidationFailure(t *testing.T) {
	g := testGraph(t)
	selector := scriptedCompleter{reply: "employee, workTime"}
	// First draft joins on a column that does not exist; the corrector
	// then produces a statement that passes validation and execution.
	gen := &sequencedCompleter{replies: []string{
		"SELECT e.id FROM employee e JOIN workTime wt ON wt.nope = e.id",
	}}
	generator := sqlgen.New(gen, g, testDisplay(t))
	corrector := correction.New(scriptedCompleter{reply: "SELECT e.id FROM employee e JOIN workTime wt ON wt.employeeId = e.id"})
	exec := fakeExecutor{rows: sqlexec.Rows{Columns: []string{"id"}, Values: [][]any{{1}}}}

	p := pipeline.New(g, nil, generator, corrector, exec, secureview.NewMap(nil), testDisplay(t), selector, config.SQLPipeline{
		MaxTablesInSelectionPrompt: 10,
		MaxQueryRows:               50,
		CorrectionMaxAttempts:      3,
	})

	state, err := p.Run(context.Background(), "how many employees clocked time", nil, nil, sqlexec.Scopes{})
	require.NoError(t, err)
	assert.Equal(t, pipeline.StageFinalize, state.Stage)
	assert.Equal(t, 1, state.CorrectionAttempts)
	require.Len(t, state.CorrectionHistory, 1)
}

func TestRunFailsClosedAfterMaxCorrectionAttempts(t *testing.T) {
	g := testGraph(t)
	selector := scriptedCompleter{reply: "employee, workTime"}
	generator := sqlgen.New(scriptedCompleter{reply: "SELECT e.id FROM employee e JOIN workTime wt ON wt.nope = e.id"}, g, testDisplay(t))
	corrector := correction.New(scriptedCompleter{reply: "SELECT e.id FROM employee e JOIN workTime wt ON wt.nope = e.id"})
	exec := fakeExecutor{}

	p := pipeline.New(g, nil, generator, corrector, exec, secureview.NewMap(nil), testDisplay(t), selector, config.SQLPipeline{
		MaxTablesInSelectionPrompt: 10,
		MaxQueryRows:               50,
		CorrectionMaxAttempts:      2,
	})

	state, err := p.Run(context.Background(), "q", nil, nil, sqlexec.Scopes{})
	assert.Error(t, err)
	assert.Equal(t, pipeline.StageFinalizeFailed, state.Stage)
}

func TestReloadSwapsArtifactsForSubsequentRuns(t *testing.T) {
	g := testGraph(t)
	selector := scriptedCompleter{reply: "employee"}
	generator := sqlgen.New(scriptedCompleter{reply: "SELECT e.id FROM employee e"}, g, testDisplay(t))
	corrector := correction.New(scriptedCompleter{reply: "SELECT e.id FROM employee e"})
	exec := fakeExecutor{rows: sqlexec.Rows{Columns: []string{"id"}, Values: [][]any{{1}}}}

	p := pipeline.New(g, nil, generator, corrector, exec, secureview.NewMap(nil), testDisplay(t), selector, config.SQLPipeline{
		MaxTablesInSelectionPrompt: 10,
		MaxQueryRows:               50,
		CorrectionMaxAttempts:      3,
	})

	before, err := p.Run(context.Background(), "q", nil, nil, sqlexec.Scopes{})
	require.NoError(t, err)
	assert.Equal(t, "SELECT e.id FROM employee e LIMIT 50", before.SQL)

	generator2 := sqlgen.New(scriptedCompleter{reply: "SELECT e.firstName FROM employee e"}, g, testDisplay(t))
	p.Reload(g, nil, generator2, testDisplay(t))

	after, err := p.Run(context.Background(), "q", nil, nil, sqlexec.Scopes{})
	require.NoError(t, err)
	assert.Equal(t, "SELECT e.firstName FROM employee e LIMIT 50", after.SQL)
}

// slowExecutor stands in for a query that outlives the pipeline's own
// deadline: it honors ctx cancellation the way the real executor's
// underlying driver call does, rather than actually sleeping out delay.
type slowExecutor struct{ delay time.Duration }

func (s slowExecutor) Execute(ctx context.Context, statement string, scopes sqlexec.Scopes, rowCap int) (sqlexec.Rows, error) {
	select {
	case <-time.After(s.delay):
		return sqlexec.Rows{}, nil
	case <-ctx.Done():
		return sqlexec.Rows{}, ctx.Err()
	}
}

func TestRunReturnsPipelineTimeoutWhenDeadlineExceeded(t *testing.T) {
	g := testGraph(t)
	selector := scriptedCompleter{reply: "employee, workTime"}
	generator := sqlgen.New(scriptedCompleter{reply: "SELECT e.id FROM employee e JOIN workTime wt ON wt.employeeId = e.id"}, g, testDisplay(t))
	corrector := correction.New(scriptedCompleter{reply: "SELECT e.id FROM employee e"})
	exec := slowExecutor{delay: 2 * time.Second}

	p := pipeline.New(g, nil, generator, corrector, exec, secureview.NewMap(nil), testDisplay(t), selector, config.SQLPipeline{
		MaxTablesInSelectionPrompt: 10,
		MaxQueryRows:               50,
		CorrectionMaxAttempts:      2,
		Timeout:                    5 * time.Millisecond,
	})

	_, err := p.Run(context.Background(), "how many employees clocked time", nil, nil, sqlexec.Scopes{})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindTimeout))
	assert.Contains(t, err.Error(), "pipeline_timeout")
}

// sequencedCompleter returns its last reply forever once exhausted, simple
// enough for this test's single-draft generator call.
type sequencedCompleter struct {
	replies []string
	i       int
}

func (s *sequencedCompleter) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	idx := s.i
	if idx >= len(s.replies) {
		idx = len(s.replies) - 1
	}
	s.i++
	return llm.Response{Content: s.replies[idx]}, nil
}
