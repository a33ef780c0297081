// Package strategy runs the rebalancing loop: observe the portfolio, compare
// weights against a target allocation and emit the transfer orders that
// close the gap.
package strategy

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/cambistlabs/cambist/internal/broker"
	"github.com/cambistlabs/cambist/internal/observer"
	"github.com/cambistlabs/cambist/pkg/quant"
)

// Orders smaller than this, in default numeraire units, are not worth
// placing.
const minTradeValue = 0.01

// AllocationPolicy yields the target portfolio weights keyed by asset
// numeraire. The bool reports whether a target is available this tick; a
// policy may decline, e.g. while warming up.
type AllocationPolicy interface {
	TargetAllocation() (map[string]float64, bool)
}

// ConstantMix is the classic fixed-weights policy: always rebalance back to
// the same allocation.
type ConstantMix struct {
	Weights map[string]float64
}

func (c *ConstantMix) TargetAllocation() (map[string]float64, bool) {
	return c.Weights, true
}

// Strategy drives a broker through time, rebalancing toward the policy's
// target allocation. The cash account is named after the default numeraire.
type Strategy struct {
	broker       *broker.Broker
	observer     *observer.Observer
	policy       AllocationPolicy
	maxDeviation float64
	log          *zap.Logger
}

// Option configures a Strategy.
type Option func(*Strategy)

// WithMaxDeviation sets the total relative weight deviation below which no
// reallocation is triggered. Default 0.01.
func WithMaxDeviation(d float64) Option {
	return func(s *Strategy) { s.maxDeviation = d }
}

// WithLogger sets the strategy's log sink.
func WithLogger(log *zap.Logger) Option {
	return func(s *Strategy) { s.log = log }
}

// New builds a strategy over the given broker, observer and policy.
func New(b *broker.Broker, obs *observer.Observer, policy AllocationPolicy, opts ...Option) *Strategy {
	s := &Strategy{broker: b, observer: obs, policy: policy, maxDeviation: 0.01}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

// Run executes the strategy loop: warm up until startTime observing only,
// then per iteration observe, emit rebalancing orders and advance. Stops
// normally when the time grid is exhausted or maxIterations is reached.
func (s *Strategy) Run(startTime time.Time, maxIterations int) error {
	for s.broker.Now().Before(startTime) {
		if err := s.observer.Update(); err != nil {
			return err
		}
		if _, err := s.broker.Next(); err != nil {
			if errors.Is(err, broker.ErrNoMoreTime) {
				return nil
			}
			return fmt.Errorf("warm-up: %w", err)
		}
	}
	for i := 0; i < maxIterations; i++ {
		if err := s.observer.Update(); err != nil {
			return err
		}
		orders, err := s.ordersForTick()
		if err != nil {
			return err
		}
		for _, o := range orders {
			if err := s.broker.FillOrder(o); err != nil {
				return err
			}
		}
		if _, err := s.broker.Next(); err != nil {
			if errors.Is(err, broker.ErrNoMoreTime) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (s *Strategy) ordersForTick() ([]broker.Order, error) {
	if len(s.broker.ActiveOrders()) > 0 {
		s.log.Info("skip rebalancing: active orders pending", zap.Time("now", s.broker.Now()))
		return nil, nil
	}
	target, ok := s.policy.TargetAllocation()
	if !ok {
		s.log.Info("skip rebalancing: no target allocation", zap.Time("now", s.broker.Now()))
		if err := s.observer.Save(observer.KeyReallocationMass, 0); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return s.ordersForAllocation(target)
}

// ordersForAllocation converts a relative target allocation into transfer
// orders from the cash account.
func (s *Strategy) ordersForAllocation(target map[string]float64) ([]broker.Order, error) {
	defaultNum := s.broker.DefaultNumeraire()
	if _, isAsset := target[defaultNum]; isAsset {
		return nil, fmt.Errorf("target allocation must not contain the default numeraire %s", defaultNum)
	}
	weights, ok := s.broker.Weights()
	if !ok {
		s.log.Warn("portfolio value is not well-defined", zap.Time("now", s.broker.Now()))
		return nil, nil
	}
	nav, ok := s.broker.PortfolioValue(defaultNum)
	if !ok {
		s.log.Warn("portfolio value is not well-defined", zap.Time("now", s.broker.Now()))
		return nil, nil
	}

	accounts := s.broker.Accounts()
	delete(accounts, defaultNum)

	mass := 0.0
	for acc, amount := range accounts {
		mass += math.Abs(weights[acc] - target[amount.Num])
	}
	if mass < s.maxDeviation {
		s.log.Info("reallocation mass below threshold, no rebalancing",
			zap.Float64("mass", mass), zap.Float64("threshold", s.maxDeviation))
		if err := s.observer.Save(observer.KeyReallocationMass, 0); err != nil {
			return nil, err
		}
		if err := s.observer.Save(observer.KeyPortfolioTurnover, 0); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if err := s.observer.Save(observer.KeyReallocationMass, mass); err != nil {
		return nil, err
	}
	s.log.Info("rebalancing", zap.Float64("reallocation_mass", mass))

	var orders []broker.Order
	for acc, amount := range accounts {
		value := (target[amount.Num] - weights[acc]) * nav
		if math.Abs(value) < minTradeValue {
			continue
		}
		o, err := broker.NewBackwardTransferOrder(defaultNum, acc, quant.Amount{Value: value, Num: defaultNum})
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}
