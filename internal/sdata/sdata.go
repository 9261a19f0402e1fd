// Package sdata implements the Join Graph: the authoritative, read-only
// map of tables, columns, and typed relationships that the rest of the
// pipeline consumes. Tables and relationships are plain value records
// addressed by string keys, not a pointer-heavy object graph, so the
// graph is cheap to share read-only across concurrent requests.
package sdata

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/dosco/nlsqld/internal/apperr"
)

// RelType is the declared type of a relationship edge.
type RelType string

const (
	RelForeignKey RelType = "foreign_key"
	RelBusiness   RelType = "business"
	RelManual     RelType = "manual"
	RelHeuristic  RelType = "heuristic"
)

// Cardinality is the declared cardinality of a relationship edge.
type Cardinality string

const (
	CardOneToOne   Cardinality = "1:1"
	CardOneToMany  Cardinality = "1:N"
	CardManyToOne  Cardinality = "N:1"
	CardManyToMany Cardinality = "N:N"
)

// Role is a table's semantic classification, governing bridge eligibility.
type Role string

const (
	RoleInstance      Role = "instance"
	RoleTemplate      Role = "template"
	RoleBridge        Role = "bridge"
	RoleContentChild  Role = "content_child"
	RoleSatellite     Role = "satellite"
	RoleAssignment    Role = "assignment"
	RoleConfiguration Role = "configuration"
)

// Table is the logical, pre-rewrite identity of a database table.
type Table struct {
	Name          string   `json:"name"`
	Columns       []string `json:"columns"`
	UniqueColumns []string `json:"unique_columns"`
}

// HasColumn reports whether col is one of Table's declared columns.
func (t Table) HasColumn(col string) bool {
	for _, c := range t.Columns {
		if c == col {
			return true
		}
	}
	return false
}

// Relationship is a single typed edge between two tables.
type Relationship struct {
	FromTable   string      `json:"from_table"`
	FromColumn  string      `json:"from_column"`
	ToTable     string      `json:"to_table"`
	ToColumn    string      `json:"to_column"`
	Type        RelType     `json:"type"`
	Confidence  float64     `json:"confidence"`
	Cardinality Cardinality `json:"cardinality"`
}

// key returns an orientation-independent identity for deduplication.
func (r Relationship) key() [4]string {
	a := [2]string{r.FromTable, r.FromColumn}
	b := [2]string{r.ToTable, r.ToColumn}
	if a[0] > b[0] || (a[0] == b[0] && a[1] > b[1]) {
		a, b = b, a
	}
	return [4]string{a[0], a[1], b[0], b[1]}
}

// Other returns the table name on the opposite end of the edge from t.
func (r Relationship) Other(t string) string {
	if r.FromTable == t {
		return r.ToTable
	}
	return r.FromTable
}

// TableMeta is the semantic-role metadata for one table.
type TableMeta struct {
	Role               Role     `json:"role"`
	ExcludeAsBridgeFor []string `json:"exclude_as_bridge_for,omitempty"`
	Note               string   `json:"note,omitempty"`
}

// ExcludesAsBridgeFor reports whether t is blocklisted as a bridge
// candidate when the given table is part of the selection.
func (m TableMeta) ExcludesAsBridgeFor(table string) bool {
	for _, x := range m.ExcludeAsBridgeFor {
		if x == table {
			return true
		}
	}
	return false
}

// artifact is the on-disk shape of join_graph_merged.json.
type artifact struct {
	Tables        []Table              `json:"tables"`
	Relationships []Relationship       `json:"relationships"`
	Metadata      map[string]TableMeta `json:"metadata"`
}

// Graph is the in-memory Join Graph: O(1) table lookup, O(deg(v))
// neighbor enumeration. Built once at Load and read-only thereafter.
type Graph struct {
	tables  map[string]Table
	meta    map[string]TableMeta
	edges   map[string][]Relationship // adjacency list, both directions
	allRels []Relationship
}

// Load parses and validates a join_graph_merged.json artifact, returning
// a *apperr.Error (KindConfig) listing every offending relationship on
// failure, not just the first.
func Load(r io.Reader) (*Graph, error) {
	var a artifact
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&a); err != nil {
		return nil, apperr.Config("decoding join graph artifact", err)
	}
	return build(a)
}

// LoadBytes is a convenience wrapper around Load for callers holding the
// artifact already in memory (e.g. tests, hot-reload).
func LoadBytes(b []byte) (*Graph, error) {
	var a artifact
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, apperr.Config("decoding join graph artifact", err)
	}
	return build(a)
}

func build(a artifact) (*Graph, error) {
	g := &Graph{
		tables: make(map[string]Table, len(a.Tables)),
		meta:   make(map[string]TableMeta, len(a.Metadata)),
		edges:  make(map[string][]Relationship),
	}

	var problems []string

	for _, t := range a.Tables {
		if _, dup := g.tables[t.Name]; dup {
			problems = append(problems, fmt.Sprintf("duplicate table %q", t.Name))
			continue
		}
		g.tables[t.Name] = t
	}

	for name, m := range a.Metadata {
		if _, ok := g.tables[name]; !ok {
			problems = append(problems, fmt.Sprintf("metadata references unknown table %q", name))
			continue
		}
		g.meta[name] = m
	}

	seen := make(map[[4]string]bool, len(a.Relationships))
	for _, rel := range a.Relationships {
		from, okFrom := g.tables[rel.FromTable]
		to, okTo := g.tables[rel.ToTable]
		if !okFrom {
			problems = append(problems, fmt.Sprintf("relationship references unknown table %q", rel.FromTable))
			continue
		}
		if !okTo {
			problems = append(problems, fmt.Sprintf("relationship references unknown table %q", rel.ToTable))
			continue
		}
		if !from.HasColumn(rel.FromColumn) {
			problems = append(problems, fmt.Sprintf("relationship references unknown column %s.%s", rel.FromTable, rel.FromColumn))
		}
		if !to.HasColumn(rel.ToColumn) {
			problems = append(problems, fmt.Sprintf("relationship references unknown column %s.%s", rel.ToTable, rel.ToColumn))
		}
		if rel.Confidence < 0 || rel.Confidence > 1 {
			problems = append(problems, fmt.Sprintf("relationship %s.%s-%s.%s has confidence %v out of [0,1]",
				rel.FromTable, rel.FromColumn, rel.ToTable, rel.ToColumn, rel.Confidence))
		}
		k := rel.key()
		if seen[k] {
			continue
		}
		seen[k] = true
		g.allRels = append(g.allRels, rel)
		g.edges[rel.FromTable] = append(g.edges[rel.FromTable], rel)
		if rel.FromTable != rel.ToTable {
			g.edges[rel.ToTable] = append(g.edges[rel.ToTable], rel)
		}
	}

	for _, t := range a.Tables {
		unique := make(map[string]bool, len(t.Columns))
		for _, c := range t.Columns {
			unique[c] = true
		}
		for _, u := range t.UniqueColumns {
			if !unique[u] {
				problems = append(problems, fmt.Sprintf("table %q declares unique_columns %q not in columns", t.Name, u))
			}
		}
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, apperr.Config(fmt.Sprintf("join graph invalid: %d problem(s): %v", len(problems), problems), nil)
	}

	return g, nil
}

// GetTable returns the named table, or false if it does not exist.
func (g *Graph) GetTable(name string) (Table, bool) {
	t, ok := g.tables[name]
	return t, ok
}

// ColumnsOf returns the declared columns of name, or nil if it does not exist.
func (g *Graph) ColumnsOf(name string) []string {
	return g.tables[name].Columns
}

// HasColumn reports whether table declares col. An unknown table has no
// columns.
func (g *Graph) HasColumn(table, col string) bool {
	return g.tables[table].HasColumn(col)
}

// RelationshipsOf returns every edge incident to name.
func (g *Graph) RelationshipsOf(name string) []Relationship {
	return g.edges[name]
}

// MetaOf returns the semantic-role metadata for name. Tables without
// explicit metadata default to role instance.
func (g *Graph) MetaOf(name string) TableMeta {
	if m, ok := g.meta[name]; ok {
		return m
	}
	return TableMeta{Role: RoleInstance}
}

// IsBridgeCandidate reports whether name's role permits it to be
// introduced as a bridge table.
func (g *Graph) IsBridgeCandidate(name string) bool {
	switch g.MetaOf(name).Role {
	case RoleSatellite, RoleAssignment, RoleConfiguration:
		return false
	default:
		return true
	}
}

// AllRelationships returns every deduplicated edge in the graph.
func (g *Graph) AllRelationships() []Relationship {
	return g.allRels
}

// TableNames returns every table name in the graph, sorted for determinism.
func (g *Graph) TableNames() []string {
	names := make([]string, 0, len(g.tables))
	for n := range g.tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Slice returns the narrow schema slice of tables and the relationships
// between them, used by the Correction Loop to bound its prompt context.
func (g *Graph) Slice(tables []string) ([]Table, []Relationship) {
	in := make(map[string]bool, len(tables))
	for _, t := range tables {
		in[t] = true
	}

	var ts []Table
	for _, name := range tables {
		if t, ok := g.tables[name]; ok {
			ts = append(ts, t)
		}
	}

	seen := make(map[[4]string]bool)
	var rels []Relationship
	for _, name := range tables {
		for _, rel := range g.edges[name] {
			if !in[rel.FromTable] || !in[rel.ToTable] {
				continue
			}
			k := rel.key()
			if seen[k] {
				continue
			}
			seen[k] = true
			rels = append(rels, rel)
		}
	}
	return ts, rels
}
