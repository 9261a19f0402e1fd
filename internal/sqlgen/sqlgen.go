// Package sqlgen drafts a single read-only SELECT statement from a
// language model and parses it against a narrow grammar, so that
// anything other than SELECT ... FROM ... [JOIN] [WHERE] [GROUP BY]
// [ORDER BY] [LIMIT] is rejected before it ever reaches a database.
package sqlgen

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dosco/nlsqld/internal/display"
	"github.com/dosco/nlsqld/internal/llm"
	"github.com/dosco/nlsqld/internal/ontology"
	"github.com/dosco/nlsqld/internal/sdata"
)

// Params bundles everything the generator needs to draft and bound one
// statement.
type Params struct {
	Question             string
	SelectedTables       []string
	AllowedRelationships []sdata.Relationship
	Resolutions          []ontology.Resolved
	JoinPlan             string
	DefaultRowCap        int
}

// Generator drafts statements via a language model.
type Generator struct {
	client  llm.Completer
	graph   *sdata.Graph
	display *display.Registry
}

// New builds a Generator over the given graph and display registry.
func New(client llm.Completer, g *sdata.Graph, disp *display.Registry) *Generator {
	return &Generator{client: client, graph: g, display: disp}
}

// Generate drafts, parses, and row-caps a single SELECT statement.
func (g *Generator) Generate(ctx context.Context, p Params) (*Statement, string, error) {
	prompt := g.buildPrompt(p)
	resp, err := g.client.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: prompt},
		},
		MaxTokens:   512,
		Temperature: 0,
	})
	if err != nil {
		return nil, "", err
	}

	raw := extractSQL(resp.Content)
	stmt, err := Parse(raw)
	if err != nil {
		return nil, raw, err
	}

	raw = enforceRowCap(raw, stmt, p.DefaultRowCap)
	return stmt, raw, nil
}

const systemPrompt = "You write exactly one read-only SQL SELECT statement and nothing else: " +
	"no explanation, no markdown fences, no DDL or DML. Use only the tables, columns, and joins given. " +
	"Filters given as conditions must appear in the WHERE clause, conjoined with AND. " +
	"Qualify every column in the SELECT list, WHERE, GROUP BY, and ORDER BY clauses with its table or alias " +
	"(table.column), never a bare column name."

func (g *Generator) buildPrompt(p Params) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", p.Question)

	b.WriteString("Tables:\n")
	for _, t := range p.SelectedTables {
		cols := g.graph.ColumnsOf(t)
		proj := cols
		if g.display != nil {
			proj = g.display.Projection(t, cols)
		}
		fmt.Fprintf(&b, "- %s(%s)\n", t, strings.Join(proj, ", "))
	}

	if p.JoinPlan != "" {
		fmt.Fprintf(&b, "\nAllowed joins:\n%s\n", p.JoinPlan)
	}

	if len(p.Resolutions) > 0 {
		b.WriteString("\nRequired filters:\n")
		for _, r := range p.Resolutions {
			for _, f := range r.Filters {
				if f.SQL != "" {
					fmt.Fprintf(&b, "- %s (term: %s)\n", f.SQL, r.Term)
				}
			}
		}
	}

	return b.String()
}

// extractSQL strips markdown code fences a model sometimes adds despite
// instructions not to.
func extractSQL(content string) string {
	s := strings.TrimSpace(content)
	s = strings.TrimPrefix(s, "```sql")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// enforceRowCap appends a LIMIT clause when the statement has none, or
// lowers an existing LIMIT that exceeds the configured row cap.
func enforceRowCap(raw string, stmt *Statement, rowCap int) string {
	if rowCap <= 0 {
		return raw
	}
	if !stmt.HasLimit {
		stmt.Limit = rowCap
		stmt.HasLimit = true
		return strings.TrimRight(raw, " \t\n") + " LIMIT " + strconv.Itoa(rowCap)
	}
	if stmt.Limit > rowCap {
		stmt.Limit = rowCap
		return replaceLimit(raw, rowCap)
	}
	return raw
}

func replaceLimit(raw string, rowCap int) string {
	idx := strings.LastIndex(strings.ToUpper(raw), "LIMIT")
	if idx < 0 {
		return raw
	}
	return raw[:idx] + "LIMIT " + strconv.Itoa(rowCap)
}
