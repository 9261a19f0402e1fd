// Package display holds per-table projection lists and human-readable
// labels, consumed by the SQL Generator and the result finalizer.
package display

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/gobuffalo/flect"

	"github.com/dosco/nlsqld/internal/apperr"
)

// Attributes is the display configuration for one table.
type Attributes struct {
	DisplayColumns []string `json:"display_columns"`
	PrimaryLabel   []string `json:"primary_label"`
}

// Registry maps table name to its display attributes.
type Registry struct {
	byTable map[string]Attributes
}

// Load parses and validates a display_attributes_registry.json artifact.
// Every referenced column must exist on the named table in tables.
func Load(r io.Reader, tableColumns func(table string) ([]string, bool)) (*Registry, error) {
	var raw map[string]Attributes
	dec := json.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return nil, apperr.Config("decoding display attributes artifact", err)
	}

	var problems []string
	for table, attrs := range raw {
		cols, ok := tableColumns(table)
		if !ok {
			problems = append(problems, "display attributes reference unknown table "+table)
			continue
		}
		colSet := make(map[string]bool, len(cols))
		for _, c := range cols {
			colSet[c] = true
		}
		for _, c := range attrs.DisplayColumns {
			if !colSet[c] {
				problems = append(problems, table+": display_columns references unknown column "+c)
			}
		}
		for _, c := range attrs.PrimaryLabel {
			if !colSet[c] {
				problems = append(problems, table+": primary_label references unknown column "+c)
			}
		}
	}
	if len(problems) > 0 {
		return nil, apperr.Config(strings.Join(problems, "; "), nil)
	}

	return &Registry{byTable: raw}, nil
}

// Projection returns the display_columns for table, falling back to all
// columns when no display attributes are declared.
func (r *Registry) Projection(table string, allColumns []string) []string {
	if attrs, ok := r.byTable[table]; ok && len(attrs.DisplayColumns) > 0 {
		return attrs.DisplayColumns
	}
	return allColumns
}

// Label builds a human identifier for table by space-concatenating its
// primary_label columns left to right, falling back to a humanized
// version of the table name when no primary_label is declared.
func (r *Registry) Label(table string, row map[string]any) string {
	attrs, ok := r.byTable[table]
	if !ok || len(attrs.PrimaryLabel) == 0 {
		return flect.Titleize(table)
	}

	var parts []string
	for _, col := range attrs.PrimaryLabel {
		if v, ok := row[col]; ok && v != nil {
			parts = append(parts, toString(v))
		}
	}
	if len(parts) == 0 {
		return flect.Titleize(table)
	}
	return strings.Join(parts, " ")
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return strings.TrimSpace(fmt.Sprint(v))
}
