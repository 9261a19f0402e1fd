package httpserv

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-http-utils/headers"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/dosco/nlsqld/internal/config"
	"github.com/dosco/nlsqld/internal/convstore"
	"github.com/dosco/nlsqld/internal/llm"
	"github.com/dosco/nlsqld/internal/orchestrator"
	"github.com/dosco/nlsqld/internal/sqlexec"
)

type chatRequestBody struct {
	Input struct {
		Message string `json:"message" validate:"required,min=1,max=2000"`
	} `json:"input" validate:"required"`
	Conversation struct {
		ID        string `json:"id" validate:"required"`
		UserID    string `json:"user_id"`
		CompanyID string `json:"company_id"`
	} `json:"conversation" validate:"required"`
}

type chatHandler struct {
	orch     *orchestrator.Orchestrator
	store    *convstore.Store
	cfg      config.Conversation
	log      *zap.Logger
	validate *validator.Validate
}

func newChatHandler(orch *orchestrator.Orchestrator, store *convstore.Store, cfg config.Conversation, log *zap.Logger) *chatHandler {
	return &chatHandler{orch: orch, store: store, cfg: cfg, log: log, validate: validator.New()}
}

// ServeHTTP validates the request body and, on success, streams the
// orchestrator's events as server-sent events. Validation failures return
// a single 4xx with no event stream; failures after streaming starts are
// reported only as an error event, per the endpoint's error semantics.
func (h *chatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body chatRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	history, version, err := h.store.Get(ctx, body.Conversation.ID)
	if err != nil {
		http.Error(w, "loading conversation", http.StatusInternalServerError)
		return
	}
	view := truncate(history, h.cfg.MaxMessages)

	w.Header().Set(headers.ContentType, "text/event-stream")
	w.Header().Set(headers.CacheControl, "no-cache")
	w.Header().Set(headers.Connection, "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	req := orchestrator.Request{
		ConversationID: body.Conversation.ID,
		Question:       body.Input.Message,
		Messages:       view,
		Scopes:         scopesFor(body.Conversation.CompanyID),
	}

	var finalAnswer strings.Builder
	stream := h.orch.Handle(ctx, req)
	for event := range stream.Events {
		if event.Kind == orchestrator.KindToken && event.Channel == orchestrator.ChannelFinal {
			finalAnswer.WriteString(event.Content)
		}
		writeEvent(w, flusher, event)
	}

	if finalAnswer.Len() == 0 {
		return
	}
	updated := append(append([]llm.Message{}, history...),
		llm.Message{Role: llm.RoleUser, Content: body.Input.Message},
		llm.Message{Role: llm.RoleAssistant, Content: finalAnswer.String()},
	)
	if _, err := h.store.Put(ctx, body.Conversation.ID, updated, version); err != nil {
		h.log.Warn("checkpoint write lost a race",
			zap.String("conversation_id", body.Conversation.ID),
			zap.String("request_id", requestIDFromContext(ctx)),
			zap.Error(err))
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, e orchestrator.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}

// truncate returns a view over the last n messages, never mutating msgs.
func truncate(msgs []llm.Message, n int) []llm.Message {
	if n <= 0 || len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}

func scopesFor(companyID string) sqlexec.Scopes {
	if companyID == "" {
		return sqlexec.Scopes{}
	}
	return sqlexec.Scopes{CustomerIDs: []string{companyID}}
}
