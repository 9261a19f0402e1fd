// Package pipeline threads a single mutable state record through the
// SQL agent's steps: table selection, bridge discovery, join planning,
// generation, validation, execution, and correction. One State is built
// per request and never shared across requests.
package pipeline

import (
	"github.com/dosco/nlsqld/internal/correction"
	"github.com/dosco/nlsqld/internal/llm"
	"github.com/dosco/nlsqld/internal/ontology"
	"github.com/dosco/nlsqld/internal/sdata"
	"github.com/dosco/nlsqld/internal/sqlexec"
)

// Stage names a position in the GENERATE -> VALIDATE -> EXECUTE ->
// FINALIZE state machine, with CORRECT as the shared repair edge.
type Stage string

const (
	StageGenerate       Stage = "generate"
	StageValidate       Stage = "validate"
	StageExecute        Stage = "execute"
	StageCorrect        Stage = "correct"
	StageFinalize       Stage = "finalize"
	StageFinalizeFailed Stage = "finalize_failed"
)

// State is the record threaded through every pipeline step. Fields are
// populated monotonically except sql/validation_errors, which the
// correction loop resets on each retry.
type State struct {
	Question  string
	Messages  []llm.Message
	Scopes    sqlexec.Scopes

	DomainTerms       []string
	DomainResolutions []ontology.Resolved

	SelectedTables       []string
	AllowedRelationships []sdata.Relationship
	JoinPlan             string

	SQL              string
	ValidationErrors []string
	LastError        string

	CorrectionAttempts int
	CorrectionHistory  []correction.Record

	ResultRows  [][]any
	ColumnNames []string

	FinalAnswer     string
	FinalStructured []map[string]any

	Stage Stage
}

// ResultAsMaps zips ColumnNames with each row in ResultRows, for callers
// that want named fields instead of positional ones (the Finalizer,
// Display Attributes labeling).
func (s *State) ResultAsMaps() []map[string]any {
	out := make([]map[string]any, 0, len(s.ResultRows))
	for _, row := range s.ResultRows {
		m := make(map[string]any, len(s.ColumnNames))
		for i, col := range s.ColumnNames {
			if i < len(row) {
				m[col] = row[i]
			}
		}
		out = append(out, m)
	}
	return out
}
