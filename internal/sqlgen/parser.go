package sqlgen

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/dosco/nlsqld/internal/apperr"
)

// TableRef names a table or view and its optional alias.
type TableRef struct {
	Name  string
	Alias string
}

// ColRef is a table.column reference, qualified or not.
type ColRef struct {
	Table  string
	Column string
}

func (c ColRef) String() string {
	if c.Table == "" {
		return c.Column
	}
	return c.Table + "." + c.Column
}

// JoinCondition is one equi-join predicate linking two qualified columns.
type JoinCondition struct {
	Left  ColRef
	Right ColRef
}

// Join is one JOIN clause.
type Join struct {
	Table     TableRef
	Condition JoinCondition
}

// Statement is the parsed shape of a single read-only SELECT.
type Statement struct {
	RawColumns     string // verbatim text between SELECT and FROM
	SelectColumns  []ColRef
	From           TableRef
	Joins          []Join
	Where          string
	WhereColumns   []ColRef
	GroupBy        string
	GroupByColumns []ColRef
	OrderBy        string
	OrderByColumns []ColRef
	Limit          int
	HasLimit       bool
}

// ColumnReferences returns every qualified table.column reference in the
// statement outside of the join conditions (which sqlvalidate checks
// separately against the allowed-relationship set): the SELECT list,
// WHERE, GROUP BY, and ORDER BY clauses.
func (s *Statement) ColumnReferences() []ColRef {
	var out []ColRef
	out = append(out, s.SelectColumns...)
	out = append(out, s.WhereColumns...)
	out = append(out, s.GroupByColumns...)
	out = append(out, s.OrderByColumns...)
	return out
}

// Tables returns every table name the statement references, FROM plus
// all JOINs, in order.
func (s *Statement) Tables() []string {
	out := []string{s.From.Name}
	for _, j := range s.Joins {
		out = append(out, j.Table.Name)
	}
	return out
}

// AliasMap maps each alias (or bare table name when no alias was given)
// to its underlying table name.
func (s *Statement) AliasMap() map[string]string {
	m := map[string]string{}
	add := func(ref TableRef) {
		key := ref.Name
		if ref.Alias != "" {
			key = ref.Alias
		}
		m[key] = ref.Name
	}
	add(s.From)
	for _, j := range s.Joins {
		add(j.Table)
	}
	return m
}

type tokenKind int

const (
	tokWord tokenKind = iota
	tokPunct
	tokString
	tokNumber
	tokEOF
)

type token struct {
	kind tokenKind
	text string
}

// lex splits sql into a flat token stream. It is intentionally narrow:
// enough to recognize the clause keywords, identifiers, dotted
// references, string/number literals, and comparison/punctuation
// symbols this grammar needs.
func lex(sql string) []token {
	var toks []token
	runes := []rune(sql)
	i := 0
	n := len(runes)
	for i < n {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '\'':
			j := i + 1
			for j < n && runes[j] != '\'' {
				j++
			}
			toks = append(toks, token{tokString, string(runes[i : j+1])})
			i = j + 1
		case unicode.IsDigit(r):
			j := i
			for j < n && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
				j++
			}
			toks = append(toks, token{tokNumber, string(runes[i:j])})
			i = j
		case unicode.IsLetter(r) || r == '_':
			j := i
			for j < n && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_' || runes[j] == '.') {
				j++
			}
			toks = append(toks, token{tokWord, string(runes[i:j])})
			i = j
		case strings.ContainsRune(",()=<>!*+-/", r):
			j := i + 1
			if (r == '<' || r == '>' || r == '!') && j < n && runes[j] == '=' {
				j++
			}
			toks = append(toks, token{tokPunct, string(runes[i:j])})
			i = j
		case r == ';':
			i++ // statement terminator, not part of the grammar
		default:
			i++
		}
	}
	toks = append(toks, token{tokEOF, ""})
	return toks
}

// parser walks the token stream produced by lex.
type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token  { return p.toks[p.pos] }
func (p *parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}
func (p *parser) upperIs(s string) bool {
	return strings.EqualFold(p.peek().text, s)
}

// Parse parses a single read-only SELECT statement. It fails closed: any
// statement that is not exactly SELECT ... FROM ... [JOIN ...]* [WHERE]
// [GROUP BY] [ORDER BY] [LIMIT] is rejected, including anything
// containing a second statement or a DDL/DML keyword.
func Parse(sql string) (*Statement, error) {
	if containsForbiddenKeyword(sql) {
		return nil, apperr.Validation("statement must be a single read-only SELECT")
	}

	toks := lex(sql)
	p := &parser{toks: toks}

	if !p.upperIs("SELECT") {
		return nil, apperr.Validation("statement must start with SELECT")
	}
	p.advance()

	stmt := &Statement{}
	var colToks []token
	for !p.upperIs("FROM") {
		t := p.peek()
		if t.kind == tokEOF {
			return nil, apperr.Validation("missing FROM clause")
		}
		colToks = append(colToks, t)
		p.advance()
	}
	stmt.RawColumns = strings.Join(tokenTexts(colToks), " ")
	stmt.SelectColumns = extractQualifiedColRefs(colToks)
	p.advance() // consume FROM

	from, err := p.parseTableRef()
	if err != nil {
		return nil, err
	}
	stmt.From = from

	for p.upperIs("JOIN") || p.upperIs("INNER") || p.upperIs("LEFT") || p.upperIs("RIGHT") {
		for p.upperIs("INNER") || p.upperIs("LEFT") || p.upperIs("RIGHT") || p.upperIs("OUTER") {
			p.advance()
		}
		if !p.upperIs("JOIN") {
			return nil, apperr.Validation("expected JOIN keyword")
		}
		p.advance()

		table, err := p.parseTableRef()
		if err != nil {
			return nil, err
		}
		if !p.upperIs("ON") {
			return nil, apperr.Validation("JOIN missing ON condition")
		}
		p.advance()

		cond, err := p.parseJoinCondition()
		if err != nil {
			return nil, err
		}
		stmt.Joins = append(stmt.Joins, Join{Table: table, Condition: cond})
	}

	if p.upperIs("WHERE") {
		p.advance()
		toks := p.collectTokensUntil("GROUP", "ORDER", "LIMIT")
		stmt.Where = strings.Join(tokenTexts(toks), " ")
		stmt.WhereColumns = extractQualifiedColRefs(toks)
	}
	if p.upperIs("GROUP") {
		p.advance()
		if p.upperIs("BY") {
			p.advance()
		}
		toks := p.collectTokensUntil("ORDER", "LIMIT")
		stmt.GroupBy = strings.Join(tokenTexts(toks), " ")
		stmt.GroupByColumns = extractQualifiedColRefs(toks)
	}
	if p.upperIs("ORDER") {
		p.advance()
		if p.upperIs("BY") {
			p.advance()
		}
		toks := p.collectTokensUntil("LIMIT")
		stmt.OrderBy = strings.Join(tokenTexts(toks), " ")
		stmt.OrderByColumns = extractQualifiedColRefs(toks)
	}
	if p.upperIs("LIMIT") {
		p.advance()
		n, err := strconv.Atoi(p.advance().text)
		if err != nil {
			return nil, apperr.Validation("LIMIT must be an integer")
		}
		stmt.Limit = n
		stmt.HasLimit = true
	}

	if p.peek().kind != tokEOF {
		return nil, apperr.Validation(fmt.Sprintf("unexpected trailing content near %q", p.peek().text))
	}

	return stmt, nil
}

// collectTokensUntil consumes and returns every token up to (not
// including) the first token matching one of stopWords, or EOF.
func (p *parser) collectTokensUntil(stopWords ...string) []token {
	var toks []token
	for {
		t := p.peek()
		if t.kind == tokEOF {
			break
		}
		stop := false
		for _, w := range stopWords {
			if strings.EqualFold(t.text, w) {
				stop = true
				break
			}
		}
		if stop {
			break
		}
		toks = append(toks, t)
		p.advance()
	}
	return toks
}

func tokenTexts(toks []token) []string {
	out := make([]string, len(toks))
	for i, t := range toks {
		out[i] = t.text
	}
	return out
}

// extractQualifiedColRefs pulls out every dotted table.column reference
// among toks. Bare (unqualified) identifiers are deliberately skipped: in
// a SELECT list or WHERE clause they are indistinguishable from aliases,
// function names, and keywords without re-parsing the clause's own
// grammar, and the generator's system prompt requires every reference it
// emits to be qualified, so skipping them costs no real coverage.
func extractQualifiedColRefs(toks []token) []ColRef {
	var refs []ColRef
	for _, t := range toks {
		if t.kind != tokWord {
			continue
		}
		if idx := strings.IndexByte(t.text, '.'); idx > 0 && idx < len(t.text)-1 {
			refs = append(refs, ColRef{Table: t.text[:idx], Column: t.text[idx+1:]})
		}
	}
	return refs
}

func (p *parser) parseTableRef() (TableRef, error) {
	t := p.advance()
	if t.kind != tokWord {
		return TableRef{}, apperr.Validation("expected table name")
	}
	ref := TableRef{Name: t.text}
	if p.peek().kind == tokWord && !isClauseKeyword(p.peek().text) {
		ref.Alias = p.advance().text
	}
	return ref, nil
}

func (p *parser) parseJoinCondition() (JoinCondition, error) {
	left, err := p.parseColRef()
	if err != nil {
		return JoinCondition{}, err
	}
	if p.peek().text != "=" {
		return JoinCondition{}, apperr.Validation("JOIN condition must be an equality of two columns")
	}
	p.advance()
	right, err := p.parseColRef()
	if err != nil {
		return JoinCondition{}, err
	}
	return JoinCondition{Left: left, Right: right}, nil
}

func (p *parser) parseColRef() (ColRef, error) {
	t := p.advance()
	if t.kind != tokWord {
		return ColRef{}, apperr.Validation("expected column reference")
	}
	if idx := strings.IndexByte(t.text, '.'); idx >= 0 {
		return ColRef{Table: t.text[:idx], Column: t.text[idx+1:]}, nil
	}
	return ColRef{Column: t.text}, nil
}

var clauseKeywords = map[string]bool{
	"JOIN": true, "INNER": true, "LEFT": true, "RIGHT": true, "OUTER": true,
	"ON": true, "WHERE": true, "GROUP": true, "ORDER": true, "LIMIT": true,
}

func isClauseKeyword(s string) bool {
	return clauseKeywords[strings.ToUpper(s)]
}

var forbiddenKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "ALTER", "CREATE", "TRUNCATE",
	"GRANT", "REVOKE", "REPLACE", "MERGE", "CALL", "EXEC", "EXECUTE",
}

// containsForbiddenKeyword does a whole-word scan for DDL/DML keywords
// anywhere in sql, including inside a smuggled second statement after a
// semicolon (lex drops semicolons, so a naive tokenize-then-check would
// silently accept "SELECT 1; DROP TABLE x" as two SELECT tokens).
func containsForbiddenKeyword(sql string) bool {
	upper := strings.ToUpper(sql)
	for _, kw := range forbiddenKeywords {
		if containsWholeWord(upper, kw) {
			return true
		}
	}
	return strings.Count(sql, ";") > 1 || (strings.Count(sql, ";") == 1 && !strings.HasSuffix(strings.TrimSpace(sql), ";"))
}

func containsWholeWord(s, word string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		before := byte(' ')
		if start > 0 {
			before = s[start-1]
		}
		after := byte(' ')
		if end < len(s) {
			after = s[end]
		}
		if !isIdentByte(before) && !isIdentByte(after) {
			return true
		}
		idx = start + 1
	}
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}
