// Package recorder provides an append-only, time-indexed store of float
// observations under composite string keys. It backs the broker observer and
// the persisted run output.
package recorder

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/btree"
	"go.uber.org/zap"

	"github.com/cambistlabs/cambist/pkg/quant"
)

// KeySep joins the parts of a composite key.
const KeySep = "_"

// Observation value bounds; wider than the account value range to admit
// ratios and returns.
const (
	MinObsValue = -1e27
	MaxObsValue = 1e27
)

// K builds a composite key from parts, e.g. K("account", name, "weight").
// Parts must be valid identifiers; K panics on an invalid part since keys
// are almost always literals.
func K(parts ...string) string {
	if len(parts) == 0 {
		panic("empty recorder key")
	}
	for _, p := range parts {
		if err := quant.CheckID(p); err != nil {
			panic(fmt.Sprintf("bad recorder key part: %v", err))
		}
	}
	return strings.Join(parts, KeySep)
}

// Recorder records numerical observations and their observation times. Not
// safe for concurrent use; the simulation is single-threaded.
type Recorder struct {
	times  *btree.Map[int64, time.Time]          // sorted set of all observation times
	series map[string]*btree.Map[int64, float64] // per-key series, sorted by time
	recent map[string]float64                    // latest observation per key
	log    *zap.Logger
}

// New creates an empty recorder.
func New(log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{
		times:  btree.NewMap[int64, time.Time](32),
		series: make(map[string]*btree.Map[int64, float64]),
		recent: make(map[string]float64),
		log:    log,
	}
}

// Save records one observation. An existing observation for the same (time,
// key) pair is overwritten with a warning. Optional bounds override the
// default observation value range.
func (r *Recorder) Save(t time.Time, key string, value float64, bounds ...float64) error {
	if err := quant.CheckTime(t); err != nil {
		return err
	}
	if err := quant.CheckID(key); err != nil {
		return err
	}
	min, max := float64(MinObsValue), float64(MaxObsValue)
	switch len(bounds) {
	case 0:
	case 2:
		min, max = bounds[0], bounds[1]
	default:
		return fmt.Errorf("bounds must be a [min, max] pair, got %d values", len(bounds))
	}
	if err := quant.CheckValueIn(key, value, min, max); err != nil {
		return err
	}

	series, ok := r.series[key]
	if !ok {
		series = btree.NewMap[int64, float64](32)
		r.series[key] = series
	}
	tk := t.UnixNano()
	if old, exists := series.Get(tk); exists {
		r.log.Warn("updated existing observation",
			zap.String("key", key), zap.Time("time", t),
			zap.Float64("old", old), zap.Float64("new", value),
		)
	}
	series.Set(tk, value)
	r.times.Set(tk, t)
	if maxT, _, ok := series.Max(); ok && maxT == tk {
		r.recent[key] = value
	}
	return nil
}

// Series returns all observations for a key in ascending time order, or nil
// for an unknown key.
func (r *Recorder) Series(key string) []quant.Observation {
	series, ok := r.series[key]
	if !ok {
		return nil
	}
	out := make([]quant.Observation, 0, series.Len())
	series.Scan(func(tk int64, v float64) bool {
		out = append(out, quant.Observation{Time: time.Unix(0, tk).UTC(), Value: v})
		return true
	})
	return out
}

// Range returns the observations for a key with from < t <= to.
func (r *Recorder) Range(key string, from, to time.Time) []quant.Observation {
	series, ok := r.series[key]
	if !ok {
		return nil
	}
	var out []quant.Observation
	series.Ascend(from.UnixNano()+1, func(tk int64, v float64) bool {
		if tk > to.UnixNano() {
			return false
		}
		out = append(out, quant.Observation{Time: time.Unix(0, tk).UTC(), Value: v})
		return true
	})
	return out
}

// TX returns the key's observations as parallel time and value slices.
func (r *Recorder) TX(key string) ([]time.Time, []float64) {
	obs := r.Series(key)
	ts := make([]time.Time, len(obs))
	xs := make([]float64, len(obs))
	for i, o := range obs {
		ts[i] = o.Time
		xs[i] = o.Value
	}
	return ts, xs
}

// Recent returns a copy of the latest observation per key.
func (r *Recorder) Recent() map[string]float64 {
	out := make(map[string]float64, len(r.recent))
	for k, v := range r.recent {
		out[k] = v
	}
	return out
}

// Keys returns all observed keys, sorted.
func (r *Recorder) Keys() []string {
	keys := make([]string, 0, len(r.series))
	for k := range r.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Times returns all observation times across all keys, sorted ascending.
func (r *Recorder) Times() []time.Time {
	out := make([]time.Time, 0, r.times.Len())
	r.times.Scan(func(_ int64, t time.Time) bool {
		out = append(out, t)
		return true
	})
	return out
}

type recorderSnapshot struct {
	ObservedTimes  []string                     `json:"observed_times"`
	ObservedSeries map[string]map[string]float64 `json:"observed_series"`
	Recent         map[string]float64           `json:"recent_observations"`
}

// MarshalJSON serializes the full recorder contents.
func (r *Recorder) MarshalJSON() ([]byte, error) {
	snap := recorderSnapshot{
		ObservedSeries: make(map[string]map[string]float64, len(r.series)),
		Recent:         r.Recent(),
	}
	for _, t := range r.Times() {
		snap.ObservedTimes = append(snap.ObservedTimes, quant.FormatTime(t))
	}
	for key, series := range r.series {
		byTime := make(map[string]float64, series.Len())
		series.Scan(func(tk int64, v float64) bool {
			byTime[quant.FormatTime(time.Unix(0, tk).UTC())] = v
			return true
		})
		snap.ObservedSeries[key] = byTime
	}
	return json.Marshal(snap)
}

// UnmarshalJSON restores recorder contents from its serialized form.
func (r *Recorder) UnmarshalJSON(data []byte) error {
	var snap recorderSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	if r.times == nil {
		r.times = btree.NewMap[int64, time.Time](32)
		r.series = make(map[string]*btree.Map[int64, float64])
		r.recent = make(map[string]float64)
		r.log = zap.NewNop()
	}
	for key, byTime := range snap.ObservedSeries {
		for ts, v := range byTime {
			t, err := quant.ParseTime(ts)
			if err != nil {
				return fmt.Errorf("series %s: %w", key, err)
			}
			if err := r.Save(t, key, v); err != nil {
				return fmt.Errorf("series %s: %w", key, err)
			}
		}
	}
	return nil
}

// Equal compares two recorders: identical time and key sets, with values
// within the financial tolerance.
func (r *Recorder) Equal(o *Recorder) bool {
	if r.times.Len() != o.times.Len() || len(r.series) != len(o.series) || len(r.recent) != len(o.recent) {
		return false
	}
	for key, v := range r.recent {
		ov, ok := o.recent[key]
		if !ok || !quant.AlmostEqual(v, ov, quant.EpsFinancial) {
			return false
		}
	}
	for key, series := range r.series {
		other, ok := o.series[key]
		if !ok || series.Len() != other.Len() {
			return false
		}
		equal := true
		series.Scan(func(tk int64, v float64) bool {
			ov, ok := other.Get(tk)
			if !ok || !quant.AlmostEqual(v, ov, quant.EpsFinancial) {
				equal = false
				return false
			}
			return true
		})
		if !equal {
			return false
		}
	}
	return true
}
