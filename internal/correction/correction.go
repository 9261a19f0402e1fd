// Package correction implements the repair loop: given a question, the
// SQL that just failed, and the specific error, it asks a language
// model for a single replacement SELECT using deliberately narrow
// context — only the schemas and relationships of the tables present in
// the failing SQL, plus the correction history so far.
package correction

import (
	"context"
	"fmt"
	"strings"

	"github.com/dosco/nlsqld/internal/apperr"
	"github.com/dosco/nlsqld/internal/llm"
	"github.com/dosco/nlsqld/internal/sdata"
)

// Record is one entry of the append-only correction history: the SQL
// that was tried and why it failed.
type Record struct {
	SQL   string
	Error string
}

// Corrector asks a language model to rewrite a failing statement.
type Corrector struct {
	client llm.Completer
}

// New builds a Corrector.
func New(client llm.Completer) *Corrector {
	return &Corrector{client: client}
}

// Repair drafts a single replacement SELECT. Identical-to-previous SQL
// is treated as a failure by the caller, not by this function: Repair
// only returns what the model produced.
func (c *Corrector) Repair(ctx context.Context, g *sdata.Graph, question, failingSQL, errMsg string, tablesInFailingSQL []string, history []Record) (string, error) {
	resp, err := c.client.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: buildPrompt(g, question, failingSQL, errMsg, tablesInFailingSQL, history)},
		},
		MaxTokens:   512,
		Temperature: 0,
	})
	if err != nil {
		return "", err
	}
	replacement := extractSQL(resp.Content)
	if replacement == "" {
		return "", apperr.Validation("correction produced an empty statement")
	}
	return replacement, nil
}

const systemPrompt = "You fix exactly one broken SQL SELECT statement given the specific error. " +
	"Respond with the corrected statement only, no explanation, no markdown fences."

func buildPrompt(g *sdata.Graph, question, failingSQL, errMsg string, tables []string, history []Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", question)
	fmt.Fprintf(&b, "Failing SQL:\n%s\n\n", failingSQL)
	fmt.Fprintf(&b, "Error: %s\n\n", errMsg)

	b.WriteString("Schemas of tables in the failing SQL:\n")
	for _, t := range tables {
		fmt.Fprintf(&b, "- %s(%s)\n", t, strings.Join(g.ColumnsOf(t), ", "))
	}

	b.WriteString("\nRelationships between those tables:\n")
	for _, t := range tables {
		for _, r := range g.RelationshipsOf(t) {
			if contains(tables, r.FromTable) && contains(tables, r.ToTable) {
				fmt.Fprintf(&b, "- %s.%s = %s.%s\n", r.FromTable, r.FromColumn, r.ToTable, r.ToColumn)
			}
		}
	}

	if len(history) > 0 {
		b.WriteString("\nPrevious attempts:\n")
		for _, h := range history {
			fmt.Fprintf(&b, "- SQL: %s | error: %s\n", h.SQL, h.Error)
		}
	}

	return b.String()
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func extractSQL(content string) string {
	s := strings.TrimSpace(content)
	s = strings.TrimPrefix(s, "```sql")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
