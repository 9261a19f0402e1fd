// Package secureview rewrites logical table references in generated SQL
// to their secure database view names, and validates that every
// FROM/JOIN identifier resolves to a known table or view.
package secureview

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/dosco/nlsqld/internal/apperr"
)

// Map is the logical_table -> secure_view_name mapping discovered at
// startup by enumerating database views named secure_<base_table>.
type Map struct {
	views map[string]string
}

// NewMap builds a Map from the logical-table-to-view pairs found.
func NewMap(viewsByTable map[string]string) *Map {
	m := make(map[string]string, len(viewsByTable))
	for k, v := range viewsByTable {
		m[k] = v
	}
	return &Map{views: m}
}

// ViewFor returns the secure view name for table, if one exists.
func (m *Map) ViewFor(table string) (string, bool) {
	v, ok := m.views[table]
	return v, ok
}

// HasView reports whether name is a known secure view (the rewritten
// side, not the logical side).
func (m *Map) HasView(name string) bool {
	for _, v := range m.views {
		if v == name {
			return true
		}
	}
	return false
}

var identRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// Rewrite replaces every logical table reference present in m with its
// view name, word-boundary matched so that a table name that is a
// substring of another identifier is never touched. Rewriting a name
// that would collide with an existing identifier in sql fails fast.
func (m *Map) Rewrite(sql string) (string, error) {
	names := make([]string, 0, len(m.views))
	for k := range m.views {
		names = append(names, k)
	}
	// Longest-first so a table name that is a prefix of another (rare,
	// but possible) never gets partially shadowed by a shorter match.
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })

	out := sql
	for _, table := range names {
		view := m.views[table]
		existing := identRe.FindAllString(out, -1)
		for _, id := range existing {
			if id == view && id != table {
				return "", apperr.Validation(fmt.Sprintf("secure view rewrite collision: %q already present in statement", view))
			}
		}
		out = replaceWholeIdent(out, table, view)
	}
	return out, nil
}

// replaceWholeIdent replaces every whole-word occurrence of from with to.
func replaceWholeIdent(sql, from, to string) string {
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(from) + `\b`)
	return re.ReplaceAllString(sql, to)
}

// FromJoinIdentifiers extracts the table/view identifiers named in FROM
// and JOIN clauses of sql. It is a narrow, single-purpose scanner: it
// does not parse the full grammar, only the clause keywords it looks for.
func FromJoinIdentifiers(sql string) []string {
	var out []string
	fields := strings.Fields(sql)
	for i, f := range fields {
		upper := strings.ToUpper(f)
		if upper == "FROM" || upper == "JOIN" {
			if i+1 < len(fields) {
				ident := identRe.FindString(fields[i+1])
				if ident != "" {
					out = append(out, ident)
				}
			}
		}
	}
	return out
}

// Validate checks that every identifier named in rewritten's FROM/JOIN
// clauses resolves to a known table (knownTables) or a known secure
// view. Unknown identifiers raise a validation error carrying the
// hallucinated name.
func (m *Map) Validate(rewritten string, knownTables map[string]bool) error {
	for _, id := range FromJoinIdentifiers(rewritten) {
		if knownTables[id] || m.HasView(id) {
			continue
		}
		return apperr.Hallucination(id)
	}
	return nil
}
