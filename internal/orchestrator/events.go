package orchestrator

import "github.com/rs/xid"

// Kind discriminates the five semantic events multiplexed on a single
// stream per request.
type Kind string

const (
	KindRouteDecision Kind = "route_decision"
	KindToolStart     Kind = "tool_start"
	KindToken         Kind = "token"
	KindComplete      Kind = "complete"
	KindError         Kind = "error"
)

// Route names the sub-agent a question was classified into.
type Route string

const (
	RouteSQL     Route = "sql"
	RouteRAG     Route = "rag"
	RouteGeneral Route = "general"
)

// Channel names the stream a token belongs to. Only Final is user-visible;
// every other channel is reasoning a consumer may hide.
type Channel string

const (
	ChannelClassify Channel = "classify"
	ChannelSQL      Channel = "sql_agent"
	ChannelRAG      Channel = "rag_agent"
	ChannelGeneral  Channel = "general"
	ChannelFinal    Channel = "final"
)

// Tool names the sub-agent a tool_start event announces before any of its
// tokens are emitted.
type Tool string

const (
	ToolSQLAgent     Tool = "sql_agent"
	ToolRAGAgent     Tool = "rag_agent"
	ToolGeneralAgent Tool = "general_agent"
)

// Stats rides on the terminal complete event.
type Stats struct {
	Tokens         int    `json:"tokens"`
	ConversationID string `json:"conversation_id"`
}

// Event is the envelope written as the data: line of one SSE frame. Only
// the fields relevant to Kind are populated; callers switch on Kind. ID
// is a lexically-sortable xid, so a client (or log aggregator) can order
// events from multiple concurrent streams by ID alone.
type Event struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`

	Route Route `json:"route,omitempty"`

	Tool Tool `json:"tool,omitempty"`

	Channel Channel `json:"channel,omitempty"`
	Content string  `json:"content,omitempty"`

	Stats Stats `json:"stats,omitempty"`

	Error string `json:"error,omitempty"`
}

func newID() string { return xid.New().String() }

func routeDecisionEvent(r Route) Event { return Event{ID: newID(), Kind: KindRouteDecision, Route: r} }

func toolStartEvent(t Tool) Event { return Event{ID: newID(), Kind: KindToolStart, Tool: t} }

func tokenEvent(ch Channel, content string) Event {
	return Event{ID: newID(), Kind: KindToken, Channel: ch, Content: content}
}

func completeEvent(stats Stats) Event { return Event{ID: newID(), Kind: KindComplete, Stats: stats} }

func errorEvent(msg string) Event { return Event{ID: newID(), Kind: KindError, Error: msg} }
