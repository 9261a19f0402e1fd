// Package pathfind implements the Path Finder: confidence-weighted,
// hop-capped shortest-join-path search over an undirected projection of
// the Join Graph's relationship edges.
package pathfind

import (
	"container/heap"
	"math"
	"sort"

	"github.com/dosco/nlsqld/internal/sdata"
)

const epsilon = 1e-9

// Options tunes the search.
type Options struct {
	ConfidenceThreshold float64
	MaxHops             int
	HopPenalty          float64
}

// DefaultOptions returns the service's default tuning: a 0.70 confidence
// floor, a 4-hop cap, and a small per-hop penalty to prefer shorter paths
// among near-equal-confidence routes.
func DefaultOptions() Options {
	return Options{ConfidenceThreshold: 0.70, MaxHops: 4, HopPenalty: 0.05}
}

func edgeWeight(rel sdata.Relationship, hopPenalty float64) float64 {
	return 1/math.Max(rel.Confidence, epsilon) + hopPenalty
}

type node struct {
	table    string
	dist     float64
	hops     int
	minConf  float64
	seq      []string
	path     []sdata.Relationship
	index    int
}

type nodeHeap []*node

func (h nodeHeap) Len() int { return len(h) }
func (h nodeHeap) Less(i, j int) bool {
	if math.Abs(h[i].dist-h[j].dist) > epsilon {
		return h[i].dist < h[j].dist
	}
	return isBetter(h[i], h[j])
}
func (h nodeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *nodeHeap) Push(x any) {
	n := x.(*node)
	n.index = len(*h)
	*h = append(*h, n)
}
func (h *nodeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// isBetter breaks ties between equal-weight paths: fewer hops, then
// higher minimum confidence, then lexicographic table-name sequence.
func isBetter(a, b *node) bool {
	if a.hops != b.hops {
		return a.hops < b.hops
	}
	if math.Abs(a.minConf-b.minConf) > epsilon {
		return a.minConf > b.minConf
	}
	return lexLess(a.seq, b.seq)
}

func lexLess(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// ShortestPath returns the edge list of the cheapest path from src to dst
// subject to maxHops and the confidence threshold, or (nil, false) if no
// such path exists. src == dst with maxHops == 0 returns an empty,
// successful path.
func ShortestPath(g *sdata.Graph, src, dst string, opts Options) ([]sdata.Relationship, bool) {
	if src == dst {
		return []sdata.Relationship{}, true
	}
	if opts.MaxHops <= 0 {
		return nil, false
	}

	start := &node{table: src, dist: 0, hops: 0, minConf: math.Inf(1), seq: []string{src}}
	h := &nodeHeap{start}
	heap.Init(h)

	finalized := make(map[string]*node)

	for h.Len() > 0 {
		cur := heap.Pop(h).(*node)
		if prev, ok := finalized[cur.table]; ok {
			if !isBetter(cur, prev) {
				continue
			}
		}
		finalized[cur.table] = cur

		if cur.table == dst {
			return cur.path, true
		}
		if cur.hops >= opts.MaxHops {
			continue
		}

		for _, rel := range g.RelationshipsOf(cur.table) {
			if rel.Confidence < opts.ConfidenceThreshold {
				continue
			}
			other := rel.Other(cur.table)
			if _, ok := finalized[other]; ok {
				continue
			}

			nextMinConf := math.Min(cur.minConf, rel.Confidence)
			nextSeq := append(append([]string{}, cur.seq...), other)
			nextPath := append(append([]sdata.Relationship{}, cur.path...), rel)

			heap.Push(h, &node{
				table:   other,
				dist:    cur.dist + edgeWeight(rel, opts.HopPenalty),
				hops:    cur.hops + 1,
				minConf: nextMinConf,
				seq:     nextSeq,
				path:    nextPath,
			})
		}
	}

	return nil, false
}

// Expand returns the deduplicated union of pairwise shortest paths between
// every pair in selected, for seeding the join planner.
func Expand(g *sdata.Graph, selected []string, opts Options) []sdata.Relationship {
	seen := make(map[string]bool)
	var out []sdata.Relationship

	sorted := append([]string{}, selected...)
	sort.Strings(sorted)

	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			path, ok := ShortestPath(g, sorted[i], sorted[j], opts)
			if !ok {
				continue
			}
			for _, rel := range path {
				key := relKey(rel)
				if seen[key] {
					continue
				}
				seen[key] = true
				out = append(out, rel)
			}
		}
	}
	return out
}

func relKey(r sdata.Relationship) string {
	a, b := r.FromTable+"."+r.FromColumn, r.ToTable+"."+r.ToColumn
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}
