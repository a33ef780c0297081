package simulator

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/cambistlabs/cambist/internal/broker"
	"github.com/cambistlabs/cambist/internal/pricegraph"
	"github.com/cambistlabs/cambist/pkg/metrics"
)

// Age after which a postponed order is reported as starving, and the period
// of the repeated trace.
const starvationTraceAge = 128

// Config configures a Simulator.
type Config struct {
	DefaultNumeraire string
	StartTime        time.Time
	Filters          []Filter
	Logger           *zap.Logger
}

// Simulator replays a price history tick by tick and implements broker.Conn.
// It owns the time grid and the group-id counter; all ledger state lives in
// the broker.State passed into each call.
type Simulator struct {
	prices     map[pricegraph.Edge]map[int64]float64 // keyed by unix nanos
	grid       []time.Time
	index      int
	gid        int64
	filters    []Filter
	defaultNum string
	log        *zap.Logger
}

// New builds a simulator over the given price history. The time grid is the
// sorted union of all observation times; the initial position is the first
// grid point at or after cfg.StartTime.
func New(store SeriesStore, cfg Config) (*Simulator, error) {
	if cfg.DefaultNumeraire == "" {
		return nil, fmt.Errorf("default numeraire must not be empty")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Simulator{
		prices:     make(map[pricegraph.Edge]map[int64]float64),
		filters:    cfg.Filters,
		defaultNum: cfg.DefaultNumeraire,
		log:        log,
	}
	gridSet := make(map[int64]time.Time)
	for _, e := range store.Edges() {
		byTime := make(map[int64]float64)
		for _, obs := range store.Series(e) {
			key := obs.Time.UnixNano()
			byTime[key] = obs.Value
			gridSet[key] = obs.Time
		}
		s.prices[e] = byTime
	}
	s.grid = make([]time.Time, 0, len(gridSet))
	for _, t := range gridSet {
		s.grid = append(s.grid, t)
	}
	sort.Slice(s.grid, func(i, j int) bool { return s.grid[i].Before(s.grid[j]) })

	for s.index = 0; s.index < len(s.grid); s.index++ {
		if !s.grid[s.index].Before(cfg.StartTime) {
			break
		}
	}
	if s.index == len(s.grid) && len(s.grid) > 0 {
		s.index = len(s.grid) - 1
	}
	return s, nil
}

// Grid returns a copy of the time grid.
func (s *Simulator) Grid() []time.Time {
	out := make([]time.Time, len(s.grid))
	copy(out, s.grid)
	return out
}

// DefaultNumeraire implements broker.Conn.
func (s *Simulator) DefaultNumeraire() string { return s.defaultNum }

// Next advances the simulation by one tick: stamps the state, rebuilds the
// current price graph from the observations at exactly the new time, then
// executes the active orders in ascending age order. Returns
// broker.ErrNoMoreTime once the grid is exhausted and
// broker.ErrEndOfBacktest if called again after that.
func (s *Simulator) Next(st *broker.State) (time.Time, error) {
	s.index++
	if s.index > len(s.grid) {
		return time.Time{}, broker.ErrEndOfBacktest
	}
	if s.index == len(s.grid) {
		return time.Time{}, broker.ErrNoMoreTime
	}
	st.TimeIndex = s.index
	st.Now = s.grid[s.index]
	st.DefaultNumeraire = s.defaultNum

	s.updateCurrentPrices(st)
	if err := s.processOrders(st); err != nil {
		return time.Time{}, err
	}
	metrics.TicksProcessed.Inc()
	return st.Now, nil
}

func (s *Simulator) updateCurrentPrices(st *broker.State) {
	// No interpolation: an edge is only tradeable on a tick with an
	// observation at exactly that time.
	key := st.Now.UnixNano()
	st.CurrentPrices = make(pricegraph.Graph)
	for e, byTime := range s.prices {
		if price, ok := byTime[key]; ok {
			st.CurrentPrices[e] = price
		}
	}
}

func (s *Simulator) processOrders(st *broker.State) error {
	active := st.Active.All()
	// Oldest first, ties broken by queue order, so waiting orders starve
	// less.
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Meta().Age < active[j].Meta().Age
	})
	var postponed []broker.Order
	for _, order := range active {
		status, err := order.Execute(st)
		if err != nil {
			return fmt.Errorf("T%d %v: order %s: %w", st.TimeIndex, st.Now, order, err)
		}
		switch status {
		case broker.StatusExecuted:
			st.Executed.Push(order)
			metrics.OrdersProcessed.WithLabelValues("executed", order.Kind()).Inc()
			s.log.Debug("exec", zap.Int("time_index", st.TimeIndex), zap.String("order", order.String()))
		case broker.StatusRejected:
			st.Rejected.Push(order)
			metrics.OrdersProcessed.WithLabelValues("rejected", order.Kind()).Inc()
			s.log.Info("reject",
				zap.Int("time_index", st.TimeIndex),
				zap.String("order", order.String()),
				zap.String("comment", order.Meta().StatusComment),
			)
		case broker.StatusActive:
			order.Meta().Age++
			if order.Meta().Age%starvationTraceAge == 0 {
				s.log.Debug("delay",
					zap.Int("time_index", st.TimeIndex),
					zap.Int("age", order.Meta().Age),
					zap.String("order", order.String()),
				)
			}
			metrics.OrdersProcessed.WithLabelValues("postponed", order.Kind()).Inc()
			postponed = append(postponed, order)
		}
	}
	st.Active.Replace(postponed)
	metrics.ActiveOrderDepth.Set(float64(len(postponed)))
	return nil
}

// FillOrder assigns the order a fresh group id and threads it through the
// filter chain stage by stage: all outputs of one filter are fully computed
// before the next filter runs, FIFO within a stage. The final output set
// joins the real active queue. Implements broker.Conn.
func (s *Simulator) FillOrder(order broker.Order, st *broker.State) error {
	s.gid++
	order.Meta().GID = s.gid
	metrics.OrdersFilled.Inc()
	if len(s.filters) == 0 {
		st.Active.Push(order)
		return nil
	}

	snapshot := st.Active.All()
	inputs := []broker.Order{order}
	for _, f := range s.filters {
		var outputs []broker.Order
		for len(inputs) > 0 {
			in := inputs[0]
			inputs = inputs[1:]
			view := FilterView{state: st, queue: projectedQueue(snapshot, inputs, outputs)}
			for _, out := range f.Apply(view, in) {
				if out.Meta().GID == 0 {
					out.Meta().GID = order.Meta().GID
				}
				outputs = append(outputs, out)
			}
		}
		inputs = outputs
	}
	for _, o := range inputs {
		st.Active.Push(o)
	}
	return nil
}

func projectedQueue(snapshot, pending, produced []broker.Order) []broker.Order {
	queue := make([]broker.Order, 0, len(snapshot)+len(pending)+len(produced))
	queue = append(queue, snapshot...)
	queue = append(queue, pending...)
	queue = append(queue, produced...)
	return queue
}
