package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dosco/nlsqld/internal/apperr"
	"github.com/dosco/nlsqld/internal/llm"
	"github.com/dosco/nlsqld/internal/ontology"
	"github.com/dosco/nlsqld/internal/sdata"
)

// selectTables asks a language model to pick the tables a question
// needs, given up to maxHeaders table headers and the set required by
// domain resolutions. It always returns every domain-required table and
// widens or falls back per the documented edge cases when the model's
// answer is too small or empty.
func selectTables(ctx context.Context, client llm.Completer, question string, resolutions []ontology.Resolved, hints []string, g *sdata.Graph, maxHeaders int) ([]string, error) {
	required := requiredTables(resolutions)

	headers := tableHeaders(g, maxHeaders)
	resp, err := client.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: selectorSystemPrompt(headers, required, hints)},
			{Role: llm.RoleUser, Content: question},
		},
		MaxTokens:   128,
		Temperature: 0,
	})
	if err != nil {
		return nil, err
	}

	picked := parseTableList(resp.Content, g)
	picked = union(picked, required)

	if len(picked) == 0 {
		if len(required) == 0 {
			return nil, apperr.Validation("table selector returned no tables and no domain-required tables to fall back to")
		}
		picked = firstN(required, 5)
	}

	if len(picked) < 3 {
		picked = widenWithNeighbors(g, picked, 3)
	}
	if len(picked) > 8 {
		picked = picked[:8]
	}

	return picked, nil
}

func requiredTables(resolutions []ontology.Resolved) []string {
	var out []string
	seen := map[string]bool{}
	for _, r := range resolutions {
		for _, t := range r.Tables {
			if !seen[t] {
				out = append(out, t)
				seen[t] = true
			}
		}
	}
	return out
}

// tableHeaders renders up to maxHeaders "name(col, col, ...)" summaries
// in a stable, deterministic order for prompt construction.
func tableHeaders(g *sdata.Graph, maxHeaders int) []string {
	names := g.TableNames()
	if maxHeaders > 0 && len(names) > maxHeaders {
		names = names[:maxHeaders]
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		cols := g.ColumnsOf(n)
		if len(cols) > 6 {
			cols = cols[:6]
		}
		out = append(out, fmt.Sprintf("%s(%s)", n, strings.Join(cols, ", ")))
	}
	return out
}

func selectorSystemPrompt(headers, required, hints []string) string {
	var b strings.Builder
	b.WriteString("Pick the 3 to 8 tables needed to answer the question. Respond with a comma-separated list of table names only.\n")
	b.WriteString("Tables:\n")
	for _, h := range headers {
		b.WriteString("- " + h + "\n")
	}
	if len(required) > 0 {
		b.WriteString("These tables must always be included: " + strings.Join(required, ", ") + "\n")
	}
	if len(hints) > 0 {
		b.WriteString("Recent conversation mentioned: " + strings.Join(hints, ", ") + "\n")
	}
	return b.String()
}

func parseTableList(reply string, g *sdata.Graph) []string {
	var out []string
	seen := map[string]bool{}
	for _, raw := range strings.Split(reply, ",") {
		name := strings.TrimSpace(raw)
		if name == "" || seen[name] {
			continue
		}
		if _, ok := g.GetTable(name); ok {
			out = append(out, name)
			seen[name] = true
		}
	}
	return out
}

func union(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			out = append(out, s)
			seen[s] = true
		}
	}
	return out
}

func firstN(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// widenWithNeighbors adds the highest-confidence neighbors of the
// already-selected tables until min is reached or the graph is
// exhausted.
func widenWithNeighbors(g *sdata.Graph, selected []string, min int) []string {
	set := map[string]bool{}
	for _, s := range selected {
		set[s] = true
	}

	type candidate struct {
		table string
		conf  float64
	}
	var candidates []candidate
	for _, t := range selected {
		for _, rel := range g.RelationshipsOf(t) {
			other := rel.ToTable
			if other == t {
				other = rel.FromTable
			}
			if !set[other] {
				candidates = append(candidates, candidate{other, rel.Confidence})
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].conf > candidates[j].conf })

	out := append([]string(nil), selected...)
	for _, c := range candidates {
		if len(out) >= min {
			break
		}
		if set[c.table] {
			continue
		}
		out = append(out, c.table)
		set[c.table] = true
	}
	return out
}
