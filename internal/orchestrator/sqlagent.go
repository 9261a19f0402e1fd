package orchestrator

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/dosco/nlsqld/internal/llm"
	"github.com/dosco/nlsqld/internal/pipeline"
	"github.com/dosco/nlsqld/internal/sqlexec"
)

// SQLAgent runs the SQL pipeline and then asks a language model to turn
// the resulting rows into a natural-language answer; the pipeline itself
// never produces prose, only State.FinalStructured.
type SQLAgent struct {
	pipeline  *pipeline.Pipeline
	finalizer llm.Completer
}

// NewSQLAgent builds a SQLAgent over an already-wired Pipeline.
func NewSQLAgent(p *pipeline.Pipeline, finalizer llm.Completer) *SQLAgent {
	return &SQLAgent{pipeline: p, finalizer: finalizer}
}

func (a *SQLAgent) Run(ctx context.Context, question string, messages []llm.Message, scopes sqlexec.Scopes, hints []string) (string, []map[string]any, error) {
	state, err := a.pipeline.Run(ctx, question, messages, hints, scopes)
	if err != nil {
		return "", nil, err
	}

	answer, err := a.synthesize(ctx, question, state)
	if err != nil {
		return "", nil, err
	}
	return answer, state.FinalStructured, nil
}

func (a *SQLAgent) synthesize(ctx context.Context, question string, state *pipeline.State) (string, error) {
	resp, err := a.finalizer.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: finalizeSystemPrompt},
			{Role: llm.RoleUser, Content: buildFinalizePrompt(question, state)},
		},
		MaxTokens:   512,
		Temperature: 0.2,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

const finalizeSystemPrompt = "Answer the question in plain prose using only the rows given. " +
	"Do not mention SQL, tables, or columns by name unless the question asked about them directly. " +
	"If the rows are empty, say so plainly."

func buildFinalizePrompt(question string, state *pipeline.State) string {
	rows := state.FinalStructured
	const maxRows = 50
	truncated := false
	if len(rows) > maxRows {
		rows = rows[:maxRows]
		truncated = true
	}

	payload, _ := json.Marshal(rows)

	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\n\nRows:\n")
	b.Write(payload)
	if truncated {
		b.WriteString("\n(truncated to the first 50 rows)")
	}
	return b.String()
}
