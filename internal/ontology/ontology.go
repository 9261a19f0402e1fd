// Package ontology loads the Domain Registry artifact and resolves
// business terms mentioned in a question to the tables, filters, and
// confidence the registry declares for them.
package ontology

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/dosco/nlsqld/internal/apperr"
	"github.com/dosco/nlsqld/internal/llm"
	"github.com/dosco/nlsqld/internal/sdata"
)

// MatchType is the kind of filter a Resolution contributes.
type MatchType string

const (
	MatchTextSearch MatchType = "text_search"
	MatchBoolean    MatchType = "boolean"
	MatchExact      MatchType = "exact"
	MatchStructural MatchType = "structural"
	MatchSemantic   MatchType = "semantic"
)

// Resolution is one candidate mapping of a term to schema.
type Resolution struct {
	Table      string   `json:"table"`
	Tables     []string `json:"tables"`
	Column     string   `json:"column"`
	Columns    []string `json:"columns"`
	MatchType  MatchType `json:"match_type"`
	Value      any      `json:"value"`
	Confidence float64  `json:"confidence"`
}

func (r Resolution) tables() []string {
	if len(r.Tables) > 0 {
		return r.Tables
	}
	if r.Table != "" {
		return []string{r.Table}
	}
	return nil
}

func (r Resolution) columns() []string {
	if len(r.Columns) > 0 {
		return r.Columns
	}
	if r.Column != "" {
		return []string{r.Column}
	}
	return nil
}

// term is the registry entry for one business word.
type term struct {
	Primary   Resolution   `json:"primary"`
	Secondary []Resolution `json:"secondary"`
	Fallback  []Resolution `json:"fallback"`
}

func (t term) all() []Resolution {
	out := make([]Resolution, 0, 1+len(t.Secondary)+len(t.Fallback))
	out = append(out, t.Primary)
	out = append(out, t.Secondary...)
	out = append(out, t.Fallback...)
	return out
}

// Filter is the resolved, ready-to-inject WHERE-clause fragment for one
// resolution.
type Filter struct {
	SQL string
}

// Resolved is the output of resolving one extracted term.
type Resolved struct {
	Term       string
	Tables     []string
	Filters    []Filter
	Confidence float64
}

// Registry holds the validated Domain Registry artifact.
type Registry struct {
	terms map[string]term
	names []string // sorted, for deterministic extraction prompts
}

// Load parses and validates a domain_registry.json artifact against the
// Join Graph: every referenced table/column must exist, structural
// resolutions must not carry a value-bearing filter, and boolean
// resolutions must supply a value.
func Load(r io.Reader, g *sdata.Graph) (*Registry, error) {
	var raw map[string]term
	dec := json.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return nil, apperr.Config("decoding domain registry artifact", err)
	}

	var problems []string
	for name, t := range raw {
		for _, res := range t.all() {
			if isZero(res) {
				continue
			}
			for _, tbl := range res.tables() {
				if _, ok := g.GetTable(tbl); !ok {
					problems = append(problems, name+": references unknown table "+tbl)
					continue
				}
				cols := g.ColumnsOf(tbl)
				colSet := make(map[string]bool, len(cols))
				for _, c := range cols {
					colSet[c] = true
				}
				for _, c := range res.columns() {
					if !colSet[c] {
						problems = append(problems, name+": references unknown column "+tbl+"."+c)
					}
				}
			}
			if res.MatchType == MatchBoolean && res.Value == nil {
				problems = append(problems, name+": boolean resolution missing value")
			}
			if res.MatchType == MatchStructural && res.Value != nil {
				problems = append(problems, name+": structural resolution must not carry a value")
			}
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, apperr.Config(strings.Join(problems, "; "), nil)
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	return &Registry{terms: raw, names: names}, nil
}

func isZero(r Resolution) bool {
	return r.Table == "" && len(r.Tables) == 0 && r.MatchType == ""
}

// Terms returns the registry's term names in a stable order, for
// building the extraction prompt.
func (r *Registry) Terms() []string {
	return r.names
}

// Extractor asks a language model which registry terms a question
// mentions, then resolves each to schema.
type Extractor struct {
	client   llm.Completer
	registry *Registry
}

// NewExtractor builds an Extractor over the given registry.
func NewExtractor(client llm.Completer, registry *Registry) *Extractor {
	return &Extractor{client: client, registry: registry}
}

// ExtractAndResolve runs the constrained extraction call over the
// question and the registry's term list, then resolves each recognized
// term to its highest-confidence schema-valid resolution. An empty
// result is legal: no terms recognized is not an error.
func (e *Extractor) ExtractAndResolve(ctx context.Context, question string, g *sdata.Graph) ([]Resolved, error) {
	if len(e.registry.names) == 0 {
		return nil, nil
	}

	resp, err := e.client.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: extractionSystemPrompt(e.registry.names)},
			{Role: llm.RoleUser, Content: question},
		},
		MaxTokens:   256,
		Temperature: 0,
	})
	if err != nil {
		return nil, err
	}

	extracted := parseExtractedTerms(resp.Content, e.registry.names)

	out := make([]Resolved, 0, len(extracted))
	for _, name := range extracted {
		t, ok := e.registry.terms[name]
		if !ok {
			continue
		}
		res, ok := bestResolution(t, g)
		if !ok {
			continue
		}
		out = append(out, toResolved(name, res))
	}
	return out, nil
}

// bestResolution picks the highest-confidence resolution among
// primary/secondary/fallback whose tables all exist in the graph.
func bestResolution(t term, g *sdata.Graph) (Resolution, bool) {
	var best Resolution
	found := false
	for _, res := range t.all() {
		if isZero(res) {
			continue
		}
		if !tablesExist(res, g) {
			continue
		}
		if !found || res.Confidence > best.Confidence {
			best = res
			found = true
		}
	}
	return best, found
}

func tablesExist(res Resolution, g *sdata.Graph) bool {
	for _, tbl := range res.tables() {
		if _, ok := g.GetTable(tbl); !ok {
			return false
		}
	}
	return len(res.tables()) > 0
}

func toResolved(name string, res Resolution) Resolved {
	r := Resolved{
		Term:       name,
		Tables:     res.tables(),
		Confidence: res.Confidence,
	}
	switch res.MatchType {
	case MatchTextSearch:
		var parts []string
		for _, col := range res.columns() {
			parts = append(parts, fmt.Sprintf("LOWER(%s) LIKE '%%%s%%'", col, escapeLike(toStr(res.Value))))
		}
		r.Filters = []Filter{{SQL: strings.Join(parts, " OR ")}}
	case MatchBoolean, MatchExact:
		var parts []string
		for _, col := range res.columns() {
			parts = append(parts, fmt.Sprintf("%s = %s", col, sqlLiteral(res.Value)))
		}
		r.Filters = []Filter{{SQL: strings.Join(parts, " AND ")}}
	case MatchStructural:
		// no filter; table inclusion only.
	case MatchSemantic:
		// no deterministic SQL filter; resolved for table inclusion and
		// left for the SQL Generator's own prompt to interpret.
	}
	return r
}

func toStr(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, "'", "''")
	s = strings.ReplaceAll(s, "%", "\\%")
	return s
}

func sqlLiteral(v any) string {
	switch vv := v.(type) {
	case bool:
		if vv {
			return "TRUE"
		}
		return "FALSE"
	case float64:
		return strconv.FormatFloat(vv, 'f', -1, 64)
	case string:
		return "'" + strings.ReplaceAll(vv, "'", "''") + "'"
	default:
		return "'" + strings.ReplaceAll(fmt.Sprint(vv), "'", "''") + "'"
	}
}

func extractionSystemPrompt(terms []string) string {
	var b strings.Builder
	b.WriteString("You identify which business terms from the list below are mentioned in the user's question. ")
	b.WriteString("Respond with a comma-separated list of matching terms only, using the terms exactly as given, or NONE.\n")
	b.WriteString("Terms: ")
	b.WriteString(strings.Join(terms, ", "))
	return b.String()
}

// parseExtractedTerms matches the model's free-form reply back onto the
// registry's exact term names, case-insensitively, ignoring anything
// the model returns that isn't a known term.
func parseExtractedTerms(reply string, known []string) []string {
	reply = strings.TrimSpace(reply)
	if reply == "" || strings.EqualFold(reply, "NONE") {
		return nil
	}

	lookup := make(map[string]string, len(known))
	for _, k := range known {
		lookup[strings.ToLower(k)] = k
	}

	var out []string
	seen := make(map[string]bool)
	for _, raw := range strings.Split(reply, ",") {
		candidate := strings.ToLower(strings.TrimSpace(raw))
		if name, ok := lookup[candidate]; ok && !seen[name] {
			out = append(out, name)
			seen[name] = true
		}
	}
	return out
}
