// Package pricegraph resolves exchange rates between numeraires over a
// sparse, not necessarily symmetric or connected rate table.
package pricegraph

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/cambistlabs/cambist/pkg/quant"
)

// ErrCorruptPrices signals a non-positive or non-finite resolved price. This
// indicates corrupt injected rate data, not a recoverable runtime condition.
var ErrCorruptPrices = errors.New("corrupt price graph")

// DefaultMaxDepth bounds the path search when no explicit depth is given.
const DefaultMaxDepth = 3

// Edge is an ordered numeraire pair. The rate attached to it means "1 unit of
// Num0 buys rate units of Num1".
type Edge struct {
	Num0 string
	Num1 string
}

func (e Edge) String() string {
	return e.Num0 + "/" + e.Num1
}

// Graph maps edges to exchange rates.
type Graph map[Edge]float64

// Price returns the rate from a to b using the identity or a direct edge
// only. No path search is performed.
func (g Graph) Price(a, b string) (float64, bool) {
	if a == b {
		return 1.0, true
	}
	p, ok := g[Edge{a, b}]
	return p, ok
}

// FindPath performs a depth-limited depth-first search for a path from start
// to target over the graph's edges. A numeraire already used as a path source
// is never revisited and the first path found wins. At each expansion the
// out-edges are tried in lexicographic order of their target numeraire, which
// makes the chosen path deterministic. Returns nil if no path exists within
// maxDepth edges.
func (g Graph) FindPath(start, target string, maxDepth int) []Edge {
	return g.findPath(nil, start, target, maxDepth)
}

func (g Graph) findPath(traversed []Edge, start, target string, maxDepth int) []Edge {
	if maxDepth == 0 {
		return nil
	}
	visited := make(map[string]bool, len(traversed))
	for _, e := range traversed {
		visited[e.Num0] = true
	}
	for _, next := range g.outEdges(start) {
		if next == target {
			return append(traversed, Edge{start, next})
		}
		if visited[next] {
			continue
		}
		full := g.findPath(append(traversed, Edge{start, next}), next, target, maxDepth-1)
		if full != nil {
			return full
		}
	}
	return nil
}

func (g Graph) outEdges(from string) []string {
	var targets []string
	for e := range g {
		if e.Num0 == from {
			targets = append(targets, e.Num1)
		}
	}
	sort.Strings(targets)
	return targets
}

// Resolve returns the exchange rate from a to b, chaining rates along a path
// of at most maxDepth edges when no direct edge exists. The second return is
// false when no path was found; a non-positive or non-finite product is
// reported as ErrCorruptPrices.
func (g Graph) Resolve(a, b string, maxDepth int) (float64, bool, error) {
	if a == "" || b == "" {
		return 0, false, nil
	}
	price, ok := g.Price(a, b)
	if !ok {
		path := g.FindPath(a, b, maxDepth)
		if path == nil {
			return 0, false, nil
		}
		price = 1.0
		for _, e := range path {
			price *= g[e]
		}
	}
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, false, fmt.Errorf("%w: resolved price %s/%s = %g", ErrCorruptPrices, a, b, price)
	}
	return price, true, nil
}

// ResolveDefault resolves with the default search depth.
func (g Graph) ResolveDefault(a, b string) (float64, bool, error) {
	return g.Resolve(a, b, DefaultMaxDepth)
}

// Numeraires returns the sorted set of numeraires appearing in the graph.
func (g Graph) Numeraires() []string {
	seen := make(map[string]bool, 2*len(g))
	for e := range g {
		seen[e.Num0] = true
		seen[e.Num1] = true
	}
	nums := make([]string, 0, len(seen))
	for n := range seen {
		nums = append(nums, n)
	}
	sort.Strings(nums)
	return nums
}

// TotalNAV values the given accounts in the target numeraire using path
// resolution. The second return is false when any account's numeraire cannot
// be priced.
func (g Graph) TotalNAV(accounts map[string]quant.Amount, target string) (float64, bool, error) {
	sum := 0.0
	for _, amount := range accounts {
		p, ok, err := g.ResolveDefault(amount.Num, target)
		if err != nil {
			return 0, false, err
		}
		if !ok {
			return 0, false, nil
		}
		sum += amount.Value * p
	}
	return sum, true, nil
}

// Complete reports whether every cash/asset numeraire pair is resolvable in
// both directions.
func (g Graph) Complete(cashNums, assetNums []string) bool {
	for _, c := range cashNums {
		for _, a := range assetNums {
			if _, ok, err := g.ResolveDefault(c, a); err != nil || !ok {
				return false
			}
			if _, ok, err := g.ResolveDefault(a, c); err != nil || !ok {
				return false
			}
		}
	}
	return true
}

// Merge copies all edges of other into g, overwriting existing rates.
func (g Graph) Merge(other Graph) {
	for e, p := range other {
		g[e] = p
	}
}

// Clone returns a copy of the graph.
func (g Graph) Clone() Graph {
	out := make(Graph, len(g))
	for e, p := range g {
		out[e] = p
	}
	return out
}
