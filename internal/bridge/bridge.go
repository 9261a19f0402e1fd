// Package bridge decides whether the Table Selector's chosen tables need
// a junction table added so Path Finder can connect all of them.
package bridge

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/dosco/nlsqld/internal/pathfind"
	"github.com/dosco/nlsqld/internal/sdata"
)

// Reason is why a candidate bridge table was or wasn't added.
type Reason string

const (
	ReasonAdded               Reason = "added"
	ReasonSkippedDirectPath   Reason = "skipped-direct-path"
	ReasonExcludedByRole      Reason = "excluded-by-role"
	ReasonExcludedByBlocklist Reason = "excluded-by-blocklist"
)

// LogEntry records one bridge-discovery decision for observability.
type LogEntry struct {
	Candidate string
	Reason    Reason
}

// Result is the augmented selection plus the decisions that produced it.
type Result struct {
	Tables []string
	Log    []LogEntry
}

// Discover widens selected with at most one bridge table per unreachable
// pair, using Path Finder's graph to decide reachability. It never
// introduces more than one bridge candidate for the same pair and never
// invents a table absent from the graph.
func Discover(ctx context.Context, g *sdata.Graph, selected []string, opts pathfind.Options) (Result, error) {
	res := Result{Tables: append([]string(nil), selected...)}
	selectedSet := toSet(selected)

	unreachablePairs, err := findUnreachablePairs(ctx, g, selected, opts)
	if err != nil {
		return Result{}, err
	}
	if len(unreachablePairs) == 0 {
		return res, nil
	}

	for _, pair := range unreachablePairs {
		candidate, reason := pickBridge(g, pair, selectedSet, opts)
		res.Log = append(res.Log, LogEntry{Candidate: candidate, Reason: reason})
		if reason == ReasonAdded && !selectedSet[candidate] {
			res.Tables = append(res.Tables, candidate)
			selectedSet[candidate] = true
		}
	}
	return res, nil
}

type pair struct{ a, b string }

// findUnreachablePairs runs the direct-path check for every pair in
// selected concurrently, returning those beyond the hop cap.
func findUnreachablePairs(ctx context.Context, g *sdata.Graph, selected []string, opts pathfind.Options) ([]pair, error) {
	type checked struct {
		p        pair
		reachable bool
	}
	results := make([]checked, 0, len(selected)*(len(selected)-1)/2)

	grp, _ := errgroup.WithContext(ctx)
	resultsCh := make(chan checked, len(selected)*len(selected))

	for i := 0; i < len(selected); i++ {
		for j := i + 1; j < len(selected); j++ {
			a, b := selected[i], selected[j]
			grp.Go(func() error {
				_, ok := pathfind.ShortestPath(g, a, b, opts)
				resultsCh <- checked{p: pair{a, b}, reachable: ok}
				return nil
			})
		}
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}
	close(resultsCh)
	for c := range resultsCh {
		results = append(results, c)
	}

	var unreachable []pair
	for _, c := range results {
		if !c.reachable {
			unreachable = append(unreachable, c.p)
		}
	}
	return unreachable, nil
}

// pickBridge finds the first role-eligible, non-blocklisted table whose
// addition connects pair.a and pair.b within the hop cap.
func pickBridge(g *sdata.Graph, p pair, selectedSet map[string]bool, opts pathfind.Options) (string, Reason) {
	lastReason := ReasonSkippedDirectPath

	for _, candidate := range g.TableNames() {
		if selectedSet[candidate] {
			continue
		}
		if !g.IsBridgeCandidate(candidate) {
			lastReason = ReasonExcludedByRole
			continue
		}
		blocked := false
		for sel := range selectedSet {
			if g.MetaOf(candidate).ExcludesAsBridgeFor(sel) {
				blocked = true
				break
			}
		}
		if blocked {
			lastReason = ReasonExcludedByBlocklist
			continue
		}

		widened := pathfind.Options(opts)
		_, aOK := pathfind.ShortestPath(g, p.a, candidate, widened)
		_, bOK := pathfind.ShortestPath(g, candidate, p.b, widened)
		if aOK && bOK {
			return candidate, ReasonAdded
		}
	}
	return fmt.Sprintf("%s<->%s", p.a, p.b), lastReason
}

func toSet(tables []string) map[string]bool {
	s := make(map[string]bool, len(tables))
	for _, t := range tables {
		s[t] = true
	}
	return s
}
