package llm

import (
	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts tokens the way the configured model would, for
// MAX_CONTEXT_TOKENS/MAX_OUTPUT_TOKENS enforcement and the `complete`
// event's stats payload.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter builds a counter for modelName, falling back to the
// cl100k_base encoding (used by gpt-4/gpt-3.5) for models tiktoken does
// not recognize by name, such as Ollama-served local models.
func NewTokenCounter(modelName string) *TokenCounter {
	enc, err := tiktoken.EncodingForModel(modelName)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return &TokenCounter{}
		}
	}
	return &TokenCounter{enc: enc}
}

// Count returns the token count of s, or a conservative character-based
// estimate if no encoding could be loaded.
func (c *TokenCounter) Count(s string) int {
	if c.enc == nil {
		return len(s) / 4
	}
	return len(c.enc.Encode(s, nil, nil))
}
