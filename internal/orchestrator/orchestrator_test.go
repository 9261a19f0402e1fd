package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dosco/nlsqld/internal/llm"
	"github.com/dosco/nlsqld/internal/sqlexec"
)

type fakeClassifier struct {
	reply string
	calls int
}

func (f *fakeClassifier) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	f.calls++
	return llm.Response{Content: f.reply}, nil
}

type fakeSQLRunner struct {
	answer string
	err    error
}

func (f fakeSQLRunner) Run(ctx context.Context, question string, messages []llm.Message, scopes sqlexec.Scopes, hints []string) (string, []map[string]any, error) {
	if f.err != nil {
		return "", nil, f.err
	}
	return f.answer, nil, nil
}

type fakeSubAgent struct {
	answer string
	err    error
}

func (f fakeSubAgent) Run(ctx context.Context, question string, messages []llm.Message) (string, []map[string]any, error) {
	if f.err != nil {
		return "", nil, f.err
	}
	return f.answer, nil, nil
}

func drain(t *testing.T, s *Stream) []Event {
	t.Helper()
	var events []Event
	for e := range s.Events {
		events = append(events, e)
	}
	return events
}

func TestHandleRoutesToSQL(t *testing.T) {
	o, err := New(&fakeClassifier{reply: "sql"}, fakeSQLRunner{answer: "there are 3 employees"}, fakeSubAgent{}, fakeSubAgent{}, "gpt-4o-mini", 20)
	require.NoError(t, err)

	events := drain(t, o.Handle(context.Background(), Request{ConversationID: "c1", Question: "how many employees?"}))

	require.NotEmpty(t, events)
	assert.Equal(t, KindRouteDecision, events[0].Kind)
	assert.Equal(t, RouteSQL, events[0].Route)
	assert.Equal(t, KindToolStart, events[1].Kind)
	assert.Equal(t, ToolSQLAgent, events[1].Tool)

	last := events[len(events)-1]
	assert.Equal(t, KindComplete, last.Kind)
	assert.Equal(t, "c1", last.Stats.ConversationID)

	var final strings.Builder
	for _, e := range events {
		if e.Kind == KindToken {
			assert.Equal(t, ChannelFinal, e.Channel)
			final.WriteString(e.Content)
		}
	}
	assert.Equal(t, "there are 3 employees", final.String())
}

func TestHandleRoutesToRAGAndGeneral(t *testing.T) {
	rag := fakeSubAgent{answer: "from the docs"}
	o, err := New(&fakeClassifier{reply: "rag"}, fakeSQLRunner{}, rag, fakeSubAgent{answer: "hi there"}, "gpt-4o-mini", 20)
	require.NoError(t, err)

	events := drain(t, o.Handle(context.Background(), Request{ConversationID: "c1", Question: "what does the manual say?"}))
	assert.Equal(t, RouteRAG, events[0].Route)
	assert.Equal(t, ToolRAGAgent, events[1].Tool)

	o, err = New(&fakeClassifier{reply: "general"}, fakeSQLRunner{}, rag, fakeSubAgent{answer: "hi there"}, "gpt-4o-mini", 20)
	require.NoError(t, err)

	events = drain(t, o.Handle(context.Background(), Request{ConversationID: "c1", Question: "hello"}))
	assert.Equal(t, RouteGeneral, events[0].Route)
	assert.Equal(t, ToolGeneralAgent, events[1].Tool)
}

func TestHandleEmitsErrorOnSubAgentFailure(t *testing.T) {
	o, err := New(&fakeClassifier{reply: "general"}, fakeSQLRunner{}, fakeSubAgent{}, fakeSubAgent{err: assert.AnError}, "gpt-4o-mini", 20)
	require.NoError(t, err)

	events := drain(t, o.Handle(context.Background(), Request{ConversationID: "c1", Question: "hi"}))
	last := events[len(events)-1]
	assert.Equal(t, KindError, last.Kind)
}

func TestClassifyMemoizesRouteAcrossCasingVariants(t *testing.T) {
	classifier := &fakeClassifier{reply: "sql"}
	o, err := New(classifier, fakeSQLRunner{answer: "ok"}, fakeSubAgent{}, fakeSubAgent{}, "gpt-4o-mini", 20)
	require.NoError(t, err)

	drain(t, o.Handle(context.Background(), Request{ConversationID: "c1", Question: "How Many Employees?"}))
	drain(t, o.Handle(context.Background(), Request{ConversationID: "c1", Question: "  how   many employees?  "}))

	assert.Equal(t, 1, classifier.calls)
}

func TestHandleStopsWithoutTerminalEventWhenContextCancelled(t *testing.T) {
	o, err := New(&fakeClassifier{reply: "sql"}, fakeSQLRunner{answer: "ok"}, fakeSubAgent{}, fakeSubAgent{}, "gpt-4o-mini", 20)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stream := o.Handle(ctx, Request{ConversationID: "c1", Question: "how many employees?"})
	time.Sleep(10 * time.Millisecond)
	events := drain(t, stream)
	for _, e := range events {
		assert.NotEqual(t, KindComplete, e.Kind)
	}
}
