// Package broker implements the simulation kernel's mutable ledger, the
// order model and the Broker wrapper that strategies talk to.
package broker

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cambistlabs/cambist/internal/pricegraph"
	"github.com/cambistlabs/cambist/pkg/quant"
)

// Conn is the minimal contract any broker connection, simulated or live,
// must satisfy: a tick driver and an order sink.
type Conn interface {
	// Next advances the time by one tick: updates prices, executes orders.
	// Returns ErrNoMoreTime when the time grid is exhausted and
	// ErrEndOfBacktest when called again after that.
	Next(s *State) (time.Time, error)

	// FillOrder adds an order to the active queue, applying any order
	// filters on the way.
	FillOrder(o Order, s *State) error

	// DefaultNumeraire returns the connection's default numeraire.
	DefaultNumeraire() string
}

// NullConn is a trivial connection useful for tests: it stamps an increasing
// synthetic clock and accepts all orders directly.
type NullConn struct {
	Numeraire string
	clock     time.Time
}

// NewNullConn creates a null connection with the given default numeraire.
func NewNullConn(numeraire string) *NullConn {
	return &NullConn{Numeraire: numeraire, clock: quant.MinTime.Add(time.Hour)}
}

func (c *NullConn) Next(s *State) (time.Time, error) {
	c.clock = c.clock.Add(time.Second)
	s.Now = c.clock
	s.TimeIndex++
	return s.Now, nil
}

func (c *NullConn) FillOrder(o Order, s *State) error {
	s.Active.Push(o)
	return nil
}

func (c *NullConn) DefaultNumeraire() string { return c.Numeraire }

// Broker owns one State and drives it through a Conn. Value and weight
// accessors use recent prices with path resolution, so they stay defined
// when a current rate is missing.
type Broker struct {
	conn  Conn
	state *State
	log   *zap.Logger

	// Escalating queue-depth warning threshold; doubles each time it is
	// crossed.
	queueWarnThreshold int
}

// Option configures a Broker.
type Option func(*Broker)

// WithState supplies a pre-built state, e.g. one decoded from a checkpoint.
// Without it the constructor builds a fresh state and immediately advances
// one tick to initialize it.
func WithState(s *State) Option {
	return func(b *Broker) { b.state = s }
}

// WithLogger sets the event sink for fills and queue warnings.
func WithLogger(log *zap.Logger) Option {
	return func(b *Broker) { b.log = log }
}

// New builds a broker over the given connection. Initial orders join the
// active queue directly, bypassing the filter pipeline.
func New(conn Conn, initialOrders []Order, opts ...Option) (*Broker, error) {
	b := &Broker{conn: conn, queueWarnThreshold: 8}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = zap.NewNop()
	}
	fresh := b.state == nil
	if fresh {
		s, err := NewState(conn.DefaultNumeraire(), nil, nil, b.log)
		if err != nil {
			return nil, err
		}
		b.state = s
	}
	for _, o := range initialOrders {
		b.state.Active.Push(o)
	}
	if fresh {
		if _, err := b.Next(); err != nil && !errors.Is(err, ErrNoMoreTime) {
			return nil, err
		}
	}
	return b, nil
}

// Next advances one tick through the connection, validates the state, and
// merges the tick's prices into the recent price graph.
func (b *Broker) Next() (time.Time, error) {
	now, err := b.conn.Next(b.state)
	if err != nil {
		if errors.Is(err, ErrNoMoreTime) {
			if checkErr := b.state.Check(); checkErr != nil {
				return time.Time{}, checkErr
			}
		}
		return time.Time{}, err
	}
	if err := b.state.Check(); err != nil {
		return time.Time{}, err
	}
	b.state.RecentPrices.Merge(b.state.CurrentPrices)
	if depth := b.state.Active.Len(); depth > b.queueWarnThreshold {
		b.log.Warn("orders piling up in the active queue",
			zap.Int("threshold", b.queueWarnThreshold),
			zap.Int("depth", depth),
			zap.String("summary", orderKindSummary(b.state.Active.All())),
		)
		b.queueWarnThreshold *= 2
	}
	return now, nil
}

// FillOrder stamps the order active at the current time and hands it to the
// connection's filter pipeline.
func (b *Broker) FillOrder(o Order) error {
	if b.state.DefaultNumeraire == "" {
		return fmt.Errorf("%w: default numeraire not set", ErrInvalidState)
	}
	if b.state.Now.IsZero() {
		return fmt.Errorf("%w: now is not set", ErrInvalidState)
	}
	b.log.Info("fill",
		zap.Int("time_index", b.state.TimeIndex),
		zap.Time("now", b.state.Now),
		zap.String("order", o.String()),
	)
	if _, err := o.Meta().SetStatus(StatusActive, b.state.Now, ""); err != nil {
		return err
	}
	return b.conn.FillOrder(o, b.state)
}

// AccountValue values one account in the target numeraire (default numeraire
// when empty) using recent prices. A vanishing balance values to zero even
// with no prices available. Short positions are valued through the inverse
// rate, the buy-back convention, so a spread makes closing a short more
// expensive than the long side is worth.
func (b *Broker) AccountValue(account, targetNum string) (float64, bool) {
	if targetNum == "" {
		targetNum = b.state.DefaultNumeraire
	}
	amount, ok := b.state.Accounts[account]
	if !ok {
		return 0, false
	}
	if math.Abs(amount.Value) < quant.EpsFinancial {
		return 0, true
	}
	var price float64
	if amount.Value < 0 {
		inverse, ok, err := b.state.RecentPrices.ResolveDefault(targetNum, amount.Num)
		if err != nil || !ok || inverse == 0 {
			return 0, false
		}
		price = 1.0 / inverse
	} else {
		direct, ok, err := b.state.RecentPrices.ResolveDefault(amount.Num, targetNum)
		if err != nil || !ok {
			return 0, false
		}
		price = direct
	}
	if math.IsInf(price, 0) || math.IsNaN(price) {
		return 0, false
	}
	return amount.Value * price, true
}

// AllAccountValues values every account in the target numeraire. Accounts
// whose value is undefined are omitted; the second return is false if any
// were.
func (b *Broker) AllAccountValues(targetNum string) (map[string]float64, bool) {
	values := make(map[string]float64, len(b.state.Accounts))
	allDefined := true
	for acc := range b.state.Accounts {
		v, ok := b.AccountValue(acc, targetNum)
		if !ok {
			allDefined = false
			continue
		}
		values[acc] = v
	}
	return values, allDefined
}

// PortfolioValue sums all account values in the target numeraire. Undefined
// when any account cannot be valued.
func (b *Broker) PortfolioValue(targetNum string) (float64, bool) {
	values, ok := b.AllAccountValues(targetNum)
	if !ok {
		return 0, false
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum, true
}

// Weights returns each account's share of the portfolio value in the default
// numeraire. Undefined when the NAV itself is undefined or negligible.
func (b *Broker) Weights() (map[string]float64, bool) {
	values, ok := b.AllAccountValues("")
	if !ok {
		return nil, false
	}
	nav := 0.0
	for _, v := range values {
		nav += v
	}
	if nav < quant.NegligibleNAV {
		return nil, false
	}
	weights := make(map[string]float64, len(values))
	for acc, v := range values {
		weights[acc] = v / nav
	}
	return weights, true
}

// AccountWeight returns one account's portfolio weight.
func (b *Broker) AccountWeight(account string) (float64, bool) {
	weights, ok := b.Weights()
	if !ok {
		return 0, false
	}
	w, ok := weights[account]
	return w, ok
}

// Accounts returns a copy of the account map.
func (b *Broker) Accounts() map[string]quant.Amount {
	out := make(map[string]quant.Amount, len(b.state.Accounts))
	for acc, amount := range b.state.Accounts {
		out[acc] = amount
	}
	return out
}

// Variables returns a copy of the named-variable map.
func (b *Broker) Variables() map[string]any {
	out := make(map[string]any, len(b.state.Variables))
	for name, value := range b.state.Variables {
		out[name] = value
	}
	return out
}

// CurrentPrice returns a current-tick rate via identity or direct edge.
func (b *Broker) CurrentPrice(num0, num1 string) (float64, bool) {
	return b.state.CurrentPrices.Price(num0, num1)
}

// RecentPrices returns a copy of the recent price graph.
func (b *Broker) RecentPrices() pricegraph.Graph {
	return b.state.RecentPrices.Clone()
}

// CurrentTradeEdges returns the numeraire pairs tradeable this tick.
func (b *Broker) CurrentTradeEdges() []pricegraph.Edge {
	return sortedEdges(b.state.CurrentPrices)
}

// RecentTradeEdges returns the numeraire pairs tradeable now or in the past.
func (b *Broker) RecentTradeEdges() []pricegraph.Edge {
	return sortedEdges(b.state.RecentPrices)
}

// CurrentGraphComplete reports whether all cash/asset pairs are resolvable
// from current prices.
func (b *Broker) CurrentGraphComplete(cashNums, assetNums []string) bool {
	return b.state.CurrentPrices.Complete(cashNums, assetNums)
}

// RecentGraphComplete reports whether all cash/asset pairs are resolvable
// from recent prices.
func (b *Broker) RecentGraphComplete(cashNums, assetNums []string) bool {
	return b.state.RecentPrices.Complete(cashNums, assetNums)
}

// Now returns the current simulation time; zero before the first tick.
func (b *Broker) Now() time.Time { return b.state.Now }

// TimeIndex returns the current tick index.
func (b *Broker) TimeIndex() int { return b.state.TimeIndex }

// DefaultNumeraire returns the ledger's default numeraire.
func (b *Broker) DefaultNumeraire() string { return b.state.DefaultNumeraire }

// ActiveOrders lists the orders still pending execution.
func (b *Broker) ActiveOrders() []Order { return b.state.Active.All() }

// ExecutedOrders lists the executed-order log.
func (b *Broker) ExecutedOrders() []Order { return b.state.Executed.All() }

// RejectedOrders lists the rejected-order log.
func (b *Broker) RejectedOrders() []Order { return b.state.Rejected.All() }

// StateSnapshot serializes the full broker state.
func (b *Broker) StateSnapshot() ([]byte, error) {
	return EncodeState(b.state)
}

func sortedEdges(g pricegraph.Graph) []pricegraph.Edge {
	edges := make([]pricegraph.Edge, 0, len(g))
	for e := range g {
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

func orderKindSummary(orders []Order) string {
	counts := make(map[string]int)
	var kinds []string
	for _, o := range orders {
		if counts[o.Kind()] == 0 {
			kinds = append(kinds, o.Kind())
		}
		counts[o.Kind()]++
	}
	parts := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		parts = append(parts, fmt.Sprintf("%s:%d", kind, counts[kind]))
	}
	return strings.Join(parts, " ")
}
