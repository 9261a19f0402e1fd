// Package sqlvalidate runs the deterministic, pure checks a drafted
// statement must pass before it is allowed to reach a database: every
// qualified table.column reference anywhere in the statement (SELECT
// list, JOIN conditions, WHERE, GROUP BY, ORDER BY) resolves to a
// selected table that actually has it, and every join additionally
// pairs columns joined by a declared, allowed relationship. It never
// calls the database.
package sqlvalidate

import (
	"fmt"
	"strings"

	"github.com/dosco/nlsqld/internal/apperr"
	"github.com/dosco/nlsqld/internal/sdata"
	"github.com/dosco/nlsqld/internal/sqlgen"
)

// Result is the outcome of one validation pass.
type Result struct {
	OK     bool
	Errors []string
}

// Validate checks stmt against selectedTables and allowedRelationships.
// Column-reference errors name the other tables that actually carry the
// offending column, which the Correction Loop uses to narrow its retry.
func Validate(g *sdata.Graph, stmt *sqlgen.Statement, selectedTables []string, allowedRelationships []sdata.Relationship) Result {
	var errs []string

	selected := make(map[string]bool, len(selectedTables))
	for _, t := range selectedTables {
		selected[t] = true
	}

	aliases := stmt.AliasMap()
	for alias, table := range aliases {
		if !selected[table] {
			errs = append(errs, fmt.Sprintf("table %q is not in the selected set (referenced as %q)", table, alias))
		}
	}

	allowed := make(map[string]bool, len(allowedRelationships)*2)
	for _, r := range allowedRelationships {
		allowed[edgeKey(r.FromTable, r.FromColumn, r.ToTable, r.ToColumn)] = true
		allowed[edgeKey(r.ToTable, r.ToColumn, r.FromTable, r.FromColumn)] = true
	}

	// checkColRef records an error if ref's table alias doesn't resolve
	// or its column doesn't exist on the resolved table; it reports
	// whether the reference resolved to a real table at all, so callers
	// needing the table name (join relationship checks) can bail early.
	checkColRef := func(ref sqlgen.ColRef) (table string, ok bool) {
		table, ok = resolveAlias(aliases, ref.Table)
		if !ok {
			errs = append(errs, fmt.Sprintf("column reference %q uses an unknown table alias", ref))
			return "", false
		}
		if !g.HasColumn(table, ref.Column) {
			errs = append(errs, columnNotFoundError(g, table, ref.Column))
		}
		return table, true
	}

	for _, j := range stmt.Joins {
		leftTable, leftOK := checkColRef(j.Condition.Left)
		rightTable, rightOK := checkColRef(j.Condition.Right)
		if !leftOK || !rightOK {
			continue
		}

		key := edgeKey(leftTable, j.Condition.Left.Column, rightTable, j.Condition.Right.Column)
		if !allowed[key] {
			errs = append(errs, fmt.Sprintf(
				"join %s.%s = %s.%s is not a declared relationship in the allowed join set",
				leftTable, j.Condition.Left.Column, rightTable, j.Condition.Right.Column))
		}
	}

	for _, ref := range stmt.SelectColumns {
		checkColRef(ref)
	}
	for _, ref := range stmt.WhereColumns {
		checkColRef(ref)
	}
	for _, ref := range stmt.GroupByColumns {
		checkColRef(ref)
	}
	for _, ref := range stmt.OrderByColumns {
		checkColRef(ref)
	}

	return Result{OK: len(errs) == 0, Errors: errs}
}

func resolveAlias(aliases map[string]string, key string) (string, bool) {
	if key == "" {
		return "", false
	}
	t, ok := aliases[key]
	return t, ok
}

func edgeKey(fromTable, fromCol, toTable, toCol string) string {
	return fromTable + "." + fromCol + "=" + toTable + "." + toCol
}

// columnNotFoundError builds a validator message listing the other
// tables that actually carry the missing column, feeding the Correction
// Loop's narrow schema slice.
func columnNotFoundError(g *sdata.Graph, table, column string) string {
	var carriers []string
	for _, name := range g.TableNames() {
		if name != table && g.HasColumn(name, column) {
			carriers = append(carriers, name)
		}
	}
	msg := fmt.Sprintf("column %q does not exist on table %q", column, table)
	if len(carriers) > 0 {
		msg += fmt.Sprintf("; found on: %s", strings.Join(carriers, ", "))
	}
	return msg
}

// AsError converts a failed Result into the validation apperr, or nil
// when the result is OK.
func (r Result) AsError() error {
	if r.OK {
		return nil
	}
	return apperr.Validation(strings.Join(r.Errors, "; "))
}
