package httpserv

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dosco/nlsqld/internal/config"
	"github.com/dosco/nlsqld/internal/convstore"
	"github.com/dosco/nlsqld/internal/llm"
	"github.com/dosco/nlsqld/internal/orchestrator"
	"github.com/dosco/nlsqld/internal/sqlexec"
)

type fakeCompleter struct{ reply string }

func (f fakeCompleter) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	return llm.Response{Content: f.reply}, nil
}

// fakeSQLAgent satisfies the SQLAgent-shaped dependency orchestrator.New
// expects for its sql argument, via NewSQLAgent's same method signature.
type fakeSQLAgent struct{ answer string }

func (f fakeSQLAgent) Run(ctx context.Context, question string, messages []llm.Message, scopes sqlexec.Scopes, hints []string) (string, []map[string]any, error) {
	return f.answer, nil, nil
}

type fakeSubAgent struct{ answer string }

func (f fakeSubAgent) Run(ctx context.Context, question string, messages []llm.Message) (string, []map[string]any, error) {
	return f.answer, nil, nil
}

func openTestHandler(t *testing.T) *chatHandler {
	t.Helper()
	dir := t.TempDir()
	store, err := convstore.Open(config.Conversation{DBPath: filepath.Join(dir, "conv.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	general := fakeSubAgent{answer: "hello there"}
	orch, err := orchestrator.New(fakeCompleter{reply: "general"}, fakeSQLAgent{}, general, general, "gpt-4o-mini", 20)
	require.NoError(t, err)

	return newChatHandler(orch, store, config.Conversation{MaxMessages: 20}, zap.NewNop())
}

func TestChatRejectsOversizedMessage(t *testing.T) {
	h := openTestHandler(t)
	body := `{"input":{"message":"` + strings.Repeat("x", 2001) + `"},"conversation":{"id":"c1"}}`

	req := httptest.NewRequest(http.MethodPost, "/internal/chat/stream", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEqual(t, "text/event-stream", rec.Header().Get("Content-Type"))
}

func TestChatStreamsEventsAndPersistsCheckpoint(t *testing.T) {
	h := openTestHandler(t)
	body := `{"input":{"message":"hi there"},"conversation":{"id":"c1","company_id":"acme"}}`

	req := httptest.NewRequest(http.MethodPost, "/internal/chat/stream", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"kind":"route_decision"`)
	assert.Contains(t, rec.Body.String(), `"kind":"complete"`)

	msgs, version, err := h.store.Get(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, llm.RoleUser, msgs[0].Role)
	assert.Equal(t, llm.RoleAssistant, msgs[1].Role)
	assert.Equal(t, uint64(1), version)
}
