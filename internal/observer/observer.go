// Package observer records the per-tick view of a broker: prices, portfolio
// NAV and return, account weights and values, and float variables.
package observer

import (
	"time"

	"go.uber.org/zap"

	"github.com/cambistlabs/cambist/internal/broker"
	"github.com/cambistlabs/cambist/internal/recorder"
	"github.com/cambistlabs/cambist/pkg/quant"
)

// Well-known recorder keys.
const (
	KeyPortfolioNAV      = "portfolio_nav"
	KeyPortfolioReturn   = "portfolio_total_return"
	KeyReallocationMass  = "portfolio_reallocation_mass"
	KeyPortfolioTurnover = "portfolio_turnover_rate"
)

// Evaluator computes a custom observable from the broker. The bool reports
// whether the value is defined this tick.
type Evaluator func(b *broker.Broker) (float64, bool)

// Config toggles the observation groups.
type Config struct {
	RecordAccountWeights bool
	RecordAccountNAVs    bool
	RecordVariables      bool
	Logger               *zap.Logger
}

// DefaultConfig records everything.
func DefaultConfig() Config {
	return Config{RecordAccountWeights: true, RecordAccountNAVs: true, RecordVariables: true}
}

// Observer wraps a broker and a recorder and snapshots the broker once per
// new timestamp.
type Observer struct {
	broker     *broker.Broker
	rec        *recorder.Recorder
	cfg        Config
	evaluators map[string]Evaluator
	now        time.Time
	log        *zap.Logger
}

// New creates an observer over the given broker.
func New(b *broker.Broker, cfg Config) *Observer {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Observer{
		broker:     b,
		rec:        recorder.New(log),
		cfg:        cfg,
		evaluators: make(map[string]Evaluator),
		log:        log,
	}
}

// AddEvaluator registers a custom observable under the given key.
func (o *Observer) AddEvaluator(key string, fn Evaluator) {
	o.evaluators[key] = fn
}

// Save records a value at the observer's current timestamp. A no-op before
// the first update.
func (o *Observer) Save(key string, value float64) error {
	if o.now.IsZero() {
		return nil
	}
	return o.rec.Save(o.now, key, value)
}

// Update records the broker's current state. Repeated calls within the same
// tick are no-ops; time must move forward between observations.
func (o *Observer) Update() error {
	newNow := o.broker.Now()
	if newNow.IsZero() || (!o.now.IsZero() && !newNow.After(o.now)) {
		return nil
	}
	o.now = newNow

	for _, e := range o.broker.CurrentTradeEdges() {
		if price, ok := o.broker.CurrentPrice(e.Num0, e.Num1); ok {
			if err := o.rec.Save(o.now, recorder.K(e.Num0, e.Num1), price); err != nil {
				return err
			}
		}
	}

	if nav, ok := o.broker.PortfolioValue(""); ok {
		if err := o.rec.Save(o.now, KeyPortfolioNAV, nav, 0, recorder.MaxObsValue); err != nil {
			return err
		}
		if history := o.rec.Series(KeyPortfolioNAV); len(history) > 2 {
			first := history[0].Value
			if first > quant.EpsFinancial || first < -quant.EpsFinancial {
				if err := o.rec.Save(o.now, KeyPortfolioReturn, nav/first-1.0); err != nil {
					return err
				}
			} else {
				o.log.Warn("NAV history starts with zero, relative performance not available")
			}
		}
		if o.cfg.RecordAccountWeights {
			if weights, ok := o.broker.Weights(); ok {
				for account, weight := range weights {
					if err := o.rec.Save(o.now, recorder.K("account", account, "weight"), weight); err != nil {
						return err
					}
				}
			}
		}
	}

	if o.cfg.RecordAccountNAVs {
		values, _ := o.broker.AllAccountValues("")
		for account, value := range values {
			if err := o.rec.Save(o.now, recorder.K("account", account, "nav"), value); err != nil {
				return err
			}
		}
	}
	if o.cfg.RecordVariables {
		for name, value := range o.broker.Variables() {
			if f, ok := value.(float64); ok {
				if err := o.rec.Save(o.now, recorder.K("var", name), f); err != nil {
					return err
				}
			}
		}
	}
	for key, fn := range o.evaluators {
		if value, ok := fn(o.broker); ok {
			if err := o.rec.Save(o.now, key, value); err != nil {
				return err
			}
		}
	}
	return nil
}

// Now returns the time of the latest observation; zero before the first.
func (o *Observer) Now() time.Time { return o.now }

// Recorder exposes the underlying recorder for persistence and reporting.
func (o *Observer) Recorder() *recorder.Recorder { return o.rec }

// Series returns the observation history for one key.
func (o *Observer) Series(key string) []quant.Observation { return o.rec.Series(key) }

// Recent returns the latest observation per key.
func (o *Observer) Recent() map[string]float64 { return o.rec.Recent() }

// Keys returns all recorded keys.
func (o *Observer) Keys() []string { return o.rec.Keys() }

// NAVHistory returns the recorded portfolio NAV series.
func (o *Observer) NAVHistory() []quant.Observation { return o.rec.Series(KeyPortfolioNAV) }

// TotalReturnHistory returns the recorded total return series.
func (o *Observer) TotalReturnHistory() []quant.Observation { return o.rec.Series(KeyPortfolioReturn) }
