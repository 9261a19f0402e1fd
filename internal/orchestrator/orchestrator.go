// Package orchestrator implements the classify -> (sql | rag | general) ->
// finalize workflow and the streaming event protocol that carries it over
// one channel per request.
package orchestrator

import (
	"context"
	"strings"
	"time"

	cache "github.com/go-pkgz/expirable-cache"
	"golang.org/x/text/cases"

	"github.com/dosco/nlsqld/internal/apperr"
	"github.com/dosco/nlsqld/internal/llm"
	"github.com/dosco/nlsqld/internal/sqlexec"
)

// SubAgent is the black-box shape RAG and General fulfill: given a
// question and the recent conversation, return an answer plus whatever
// structured payload (if any) backs it.
type SubAgent interface {
	Run(ctx context.Context, question string, messages []llm.Message) (answer string, structured []map[string]any, err error)
}

// sqlRunner is the SQL sub-agent's shape, distinct from SubAgent because
// it additionally needs request-scoped tenant scopes and conversation
// hints the generic black boxes never see.
type sqlRunner interface {
	Run(ctx context.Context, question string, messages []llm.Message, scopes sqlexec.Scopes, hints []string) (answer string, structured []map[string]any, err error)
}

// Request is one orchestration call: a question plus the conversation it
// belongs to, already truncated by the caller to the configured history
// window.
type Request struct {
	ConversationID string
	Question       string
	Messages       []llm.Message
	Scopes         sqlexec.Scopes
	Hints          []string
}

// Stream is the channel of events produced by one Handle call. The
// producer closes Events after emitting exactly one terminal event
// (complete or error), or after none at all if ctx is cancelled first.
type Stream struct {
	Events <-chan Event
}

// Orchestrator is a process singleton: build once, call Handle per
// request. All per-request state lives in the Request/Stream pair, so a
// single Orchestrator is safe for concurrent conversations.
type Orchestrator struct {
	classifier llm.Completer
	sql        sqlRunner
	rag        SubAgent
	general    SubAgent
	counter    *llm.TokenCounter

	routeCache cache.Cache
	maxHistory int
	caser      cases.Caser
}

// New builds an Orchestrator. modelName feeds the stats token counter;
// maxHistory bounds how many prior messages the classifier sees (spec
// default 20).
func New(classifier llm.Completer, sql sqlRunner, rag, general SubAgent, modelName string, maxHistory int) (*Orchestrator, error) {
	if maxHistory <= 0 {
		maxHistory = 20
	}
	routeCache, err := cache.NewCache(cache.TTL(5*time.Minute), cache.MaxKeys(10000))
	if err != nil {
		return nil, apperr.Config("building route memoization cache", err)
	}
	return &Orchestrator{
		classifier: classifier,
		sql:        sql,
		rag:        rag,
		general:    general,
		counter:    llm.NewTokenCounter(modelName),
		routeCache: routeCache,
		maxHistory: maxHistory,
		caser:      cases.Fold(),
	}, nil
}

// Handle starts one orchestration run and returns immediately with the
// stream the caller reads events from.
func (o *Orchestrator) Handle(ctx context.Context, req Request) *Stream {
	out := make(chan Event, 16)
	go o.run(ctx, req, out)
	return &Stream{Events: out}
}

func (o *Orchestrator) run(ctx context.Context, req Request, out chan<- Event) {
	defer close(out)

	route, err := o.classify(ctx, req)
	if err != nil {
		emit(ctx, out, errorEvent(err.Error()))
		return
	}
	if !emit(ctx, out, routeDecisionEvent(route)) {
		return
	}

	var answer string
	var structured []map[string]any

	switch route {
	case RouteSQL:
		if !emit(ctx, out, toolStartEvent(ToolSQLAgent)) {
			return
		}
		answer, structured, err = o.sql.Run(ctx, req.Question, req.Messages, req.Scopes, req.Hints)
	case RouteRAG:
		if !emit(ctx, out, toolStartEvent(ToolRAGAgent)) {
			return
		}
		answer, structured, err = o.rag.Run(ctx, req.Question, req.Messages)
	default:
		if !emit(ctx, out, toolStartEvent(ToolGeneralAgent)) {
			return
		}
		answer, structured, err = o.general.Run(ctx, req.Question, req.Messages)
	}

	if ctx.Err() != nil {
		return
	}
	if err != nil {
		emit(ctx, out, errorEvent(err.Error()))
		return
	}

	for _, tok := range tokenize(answer) {
		if !emit(ctx, out, tokenEvent(ChannelFinal, tok)) {
			return
		}
	}
	_ = structured

	emit(ctx, out, completeEvent(Stats{
		Tokens:         o.counter.Count(req.Question) + o.counter.Count(answer),
		ConversationID: req.ConversationID,
	}))
}

// emit sends one event unless ctx is already done, in which case the
// caller must stop without writing a terminal event.
func emit(ctx context.Context, out chan<- Event, e Event) bool {
	select {
	case out <- e:
		return true
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) classify(ctx context.Context, req Request) (Route, error) {
	norm := o.normalize(req.Question)
	key := req.ConversationID + "\x00" + norm

	if v, ok := o.routeCache.Get(key); ok {
		if r, ok := v.(Route); ok {
			return r, nil
		}
	}

	history := req.Messages
	if len(history) > o.maxHistory {
		history = history[len(history)-o.maxHistory:]
	}

	resp, err := o.classifier.Complete(ctx, llm.Request{
		Messages:    append(append([]llm.Message{{Role: llm.RoleSystem, Content: classifySystemPrompt}}, history...), llm.Message{Role: llm.RoleUser, Content: norm}),
		MaxTokens:   8,
		Temperature: 0,
	})
	if err != nil {
		return "", err
	}

	route := parseRoute(resp.Content)
	o.routeCache.Set(key, route, 0)
	return route, nil
}

// normalize trims, case-folds, and whitespace-collapses a question so
// that casing/whitespace variants of the same question hit the same
// cache key and produce the same classifier prompt.
func (o *Orchestrator) normalize(q string) string {
	folded := o.caser.String(strings.TrimSpace(q))
	return strings.Join(strings.Fields(folded), " ")
}

const classifySystemPrompt = "Classify the user's question into exactly one route: " +
	"sql (asks about data in the relational database), rag (asks about unstructured " +
	"document content), or general (anything else, including chit-chat). " +
	"Respond with exactly one word: sql, rag, or general."

func parseRoute(reply string) Route {
	switch strings.ToLower(strings.TrimSpace(reply)) {
	case "sql":
		return RouteSQL
	case "rag":
		return RouteRAG
	default:
		return RouteGeneral
	}
}

// tokenize splits an answer into word-sized chunks for the token event
// stream; the sub-agents return a single completed string rather than an
// incremental stream, so this is where that string becomes a sequence of
// token events on the final channel.
func tokenize(answer string) []string {
	words := strings.Fields(answer)
	out := make([]string, 0, len(words))
	for i, w := range words {
		if i > 0 {
			w = " " + w
		}
		out = append(out, w)
	}
	return out
}
