package pipeline

import (
	"fmt"
	"strings"

	"github.com/dosco/nlsqld/internal/bridge"
	"github.com/dosco/nlsqld/internal/pathfind"
	"github.com/dosco/nlsqld/internal/sdata"
)

// planJoins augments the selected tables with bridge discovery, unions
// the pairwise shortest paths between them, and renders a human-readable
// summary for the generator's prompt. The planner never invents a
// relationship: allowedRelationships is exactly the graph-declared edges
// expand() returns.
func planJoins(g *sdata.Graph, bridgeResult bridge.Result, opts pathfind.Options) (allowedRelationships []sdata.Relationship, joinPlan string) {
	allowedRelationships = pathfind.Expand(g, bridgeResult.Tables, opts)

	var b strings.Builder
	for _, r := range allowedRelationships {
		fmt.Fprintf(&b, "%s.%s = %s.%s (%s, confidence %.2f)\n",
			r.FromTable, r.FromColumn, r.ToTable, r.ToColumn, r.Type, r.Confidence)
	}
	for _, entry := range bridgeResult.Log {
		fmt.Fprintf(&b, "bridge: %s (%s)\n", entry.Candidate, entry.Reason)
	}

	return allowedRelationships, b.String()
}
