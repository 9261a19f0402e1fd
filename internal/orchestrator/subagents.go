package orchestrator

import (
	"context"
	"strings"

	"github.com/dosco/nlsqld/internal/llm"
)

// Retriever is the black-box boundary to the vector-store/embedding
// pipeline: given a question, return whatever passages back an answer.
// Its implementation (chunking, embedding, vector search) lives outside
// this module.
type Retriever interface {
	Retrieve(ctx context.Context, question string) ([]string, error)
}

// RAGAgent answers from retrieved passages plus a language model; it
// never touches the relational database.
type RAGAgent struct {
	retriever Retriever
	client    llm.Completer
}

// NewRAGAgent builds a RAGAgent over a Retriever implementation.
func NewRAGAgent(retriever Retriever, client llm.Completer) *RAGAgent {
	return &RAGAgent{retriever: retriever, client: client}
}

func (a *RAGAgent) Run(ctx context.Context, question string, messages []llm.Message) (string, []map[string]any, error) {
	passages, err := a.retriever.Retrieve(ctx, question)
	if err != nil {
		return "", nil, err
	}

	resp, err := a.client.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: ragSystemPrompt},
			{Role: llm.RoleUser, Content: question + "\n\nPassages:\n" + strings.Join(passages, "\n---\n")},
		},
		MaxTokens:   512,
		Temperature: 0.2,
	})
	if err != nil {
		return "", nil, err
	}
	return strings.TrimSpace(resp.Content), nil, nil
}

const ragSystemPrompt = "Answer the question using only the passages given. " +
	"If the passages don't contain the answer, say you don't know."

// GeneralAgent is a pass-through chat completion with no tool access,
// used for anything that isn't a database or document question.
type GeneralAgent struct {
	client llm.Completer
}

// NewGeneralAgent builds a GeneralAgent.
func NewGeneralAgent(client llm.Completer) *GeneralAgent {
	return &GeneralAgent{client: client}
}

func (a *GeneralAgent) Run(ctx context.Context, question string, messages []llm.Message) (string, []map[string]any, error) {
	resp, err := a.client.Complete(ctx, llm.Request{
		Messages:    append(append([]llm.Message{{Role: llm.RoleSystem, Content: generalSystemPrompt}}, messages...), llm.Message{Role: llm.RoleUser, Content: question}),
		MaxTokens:   512,
		Temperature: 0.5,
	})
	if err != nil {
		return "", nil, err
	}
	return strings.TrimSpace(resp.Content), nil, nil
}

const generalSystemPrompt = "You are a helpful assistant. Answer conversationally; you have no tools."
