// Package simulator implements the time-grid driver that advances a broker
// state over historical price series, together with the order filter
// pipeline applied on submission.
package simulator

import (
	"fmt"
	"sort"
	"time"

	"github.com/cambistlabs/cambist/internal/pricegraph"
	"github.com/cambistlabs/cambist/pkg/quant"
)

// SeriesStore exposes the price history the simulator replays: one
// time-ordered observation series per tradeable edge. Timestamps need not
// form a regular grid.
type SeriesStore interface {
	// Edges lists all tradeable numeraire pairs.
	Edges() []pricegraph.Edge

	// Numeraires lists all numeraires involved in any edge.
	Numeraires() []string

	// Series returns the observations for one edge in ascending time order.
	Series(e pricegraph.Edge) []quant.Observation

	// MinTime returns the earliest observation time across all series.
	MinTime() (time.Time, bool)

	// MaxTime returns the latest observation time across all series.
	MaxTime() (time.Time, bool)
}

// MapSeriesStore is an in-memory SeriesStore.
type MapSeriesStore struct {
	series map[pricegraph.Edge][]quant.Observation
}

// NewMapSeriesStore builds a store from raw series, sorting each by time.
// Rates must be positive and finite.
func NewMapSeriesStore(series map[pricegraph.Edge][]quant.Observation) (*MapSeriesStore, error) {
	s := &MapSeriesStore{series: make(map[pricegraph.Edge][]quant.Observation, len(series))}
	for e, obs := range series {
		if err := quant.CheckID(e.Num0); err != nil {
			return nil, fmt.Errorf("edge %v: %w", e, err)
		}
		if err := quant.CheckID(e.Num1); err != nil {
			return nil, fmt.Errorf("edge %v: %w", e, err)
		}
		sorted := make([]quant.Observation, len(obs))
		copy(sorted, obs)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })
		for _, o := range sorted {
			if err := quant.CheckTime(o.Time); err != nil {
				return nil, fmt.Errorf("edge %v: %w", e, err)
			}
			if err := quant.CheckValueIn(e.String(), o.Value, 0, quant.MaxValue); err != nil {
				return nil, fmt.Errorf("edge %v: %w", e, err)
			}
		}
		s.series[e] = sorted
	}
	return s, nil
}

// AddInverseSeries derives a reciprocal series for every edge whose reverse
// is absent, under the zero-spread assumption.
func (s *MapSeriesStore) AddInverseSeries() {
	inverse := make(map[pricegraph.Edge][]quant.Observation)
	for e, obs := range s.series {
		rev := pricegraph.Edge{Num0: e.Num1, Num1: e.Num0}
		if _, exists := s.series[rev]; exists {
			continue
		}
		revObs := make([]quant.Observation, len(obs))
		for i, o := range obs {
			revObs[i] = quant.Observation{Time: o.Time, Value: 1.0 / o.Value}
		}
		inverse[rev] = revObs
	}
	for e, obs := range inverse {
		s.series[e] = obs
	}
}

func (s *MapSeriesStore) Edges() []pricegraph.Edge {
	edges := make([]pricegraph.Edge, 0, len(s.series))
	for e := range s.series {
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Num0 != edges[j].Num0 {
			return edges[i].Num0 < edges[j].Num0
		}
		return edges[i].Num1 < edges[j].Num1
	})
	return edges
}

func (s *MapSeriesStore) Numeraires() []string {
	seen := make(map[string]bool, 2*len(s.series))
	for e := range s.series {
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

func (s *MapSeriesStore) Series(e pricegraph.Edge) []quant.Observation {
	obs := s.series[e]
	out := make([]quant.Observation, len(obs))
	copy(out, obs)
	return out
}

func (s *MapSeriesStore) MinTime() (time.Time, bool) {
	var min time.Time
	found := false
	for _, obs := range s.series {
		if len(obs) == 0 {
			continue
		}
		if !found || obs[0].Time.Before(min) {
			min = obs[0].Time
			found = true
		}
	}
	return min, found
}

func (s *MapSeriesStore) MaxTime() (time.Time, bool) {
	var max time.Time
	found := false
	for _, obs := range s.series {
		if len(obs) == 0 {
			continue
		}
		if last := obs[len(obs)-1].Time; !found || last.After(max) {
			max = last
			found = true
		}
	}
	return max, found
}
