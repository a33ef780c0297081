package broker

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cambistlabs/cambist/internal/pricegraph"
	"github.com/cambistlabs/cambist/pkg/quant"
)

// Queue capacities. Oldest entries are dropped on overflow.
const (
	MaxActiveOrders   = 50000
	MaxExecutedOrders = 100000
	MaxRejectedOrders = 5000
)

// State is the single mutable ledger of one simulation. It is created once
// per run, mutated in place by the simulator and by every order execution,
// and never destroyed mid-run. Exactly one thread of control mutates it at a
// time.
type State struct {
	DefaultNumeraire string
	Now              time.Time // zero until the first tick
	TimeIndex        int
	Accounts         map[string]quant.Amount
	Variables        map[string]any // float64 or string values only
	CurrentPrices    pricegraph.Graph
	RecentPrices     pricegraph.Graph

	Active   *OrderQueue
	Executed *OrderQueue
	Rejected *OrderQueue
}

// NewState builds a state with the given default numeraire and optional
// initial accounts and variables. Identifiers are validated; non-printable
// ones are only warned about.
func NewState(defaultNumeraire string, accounts map[string]quant.Amount, variables map[string]any, log *zap.Logger) (*State, error) {
	if defaultNumeraire == "" {
		return nil, fmt.Errorf("%w: numeraire has to be a non-empty string", ErrInvalidState)
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &State{
		DefaultNumeraire: defaultNumeraire,
		Accounts:         make(map[string]quant.Amount, len(accounts)),
		Variables:        make(map[string]any, len(variables)),
		CurrentPrices:    make(pricegraph.Graph),
		RecentPrices:     make(pricegraph.Graph),
		Active:           NewOrderQueue(MaxActiveOrders),
		Executed:         NewOrderQueue(MaxExecutedOrders),
		Rejected:         NewOrderQueue(MaxRejectedOrders),
	}
	for acc, amount := range accounts {
		if err := quant.CheckID(acc); err != nil {
			return nil, fmt.Errorf("account name: %w", err)
		}
		if !quant.IsPrintable(acc) {
			log.Warn("non-printable characters in account name", zap.String("account", acc))
		}
		if err := quant.CheckAmount(amount); err != nil {
			return nil, fmt.Errorf("account %s: %w", acc, err)
		}
		s.Accounts[acc] = amount
	}
	for name, value := range variables {
		if err := quant.CheckID(name); err != nil {
			return nil, fmt.Errorf("variable name: %w", err)
		}
		if !quant.IsPrintable(name) {
			log.Warn("non-printable characters in variable name", zap.String("variable", name))
		}
		switch v := value.(type) {
		case float64, string:
			s.Variables[name] = v
		default:
			return nil, fmt.Errorf("variable %s must hold a float or a string: %T", name, value)
		}
	}
	return s, nil
}

// Check validates the state invariants. It never repairs anything.
func (s *State) Check() error {
	if s.DefaultNumeraire == "" {
		return fmt.Errorf("%w: wrong default numeraire %q", ErrInvalidState, s.DefaultNumeraire)
	}
	if s.TimeIndex < 0 {
		return fmt.Errorf("%w: wrong time index %d", ErrInvalidState, s.TimeIndex)
	}
	if err := quant.CheckTime(s.Now); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	return nil
}

// Equal compares two states approximately: identical key sets for accounts,
// variables and both price graphs, with numeric values within EpsFinancial.
// The order queues are not part of equality.
func (s *State) Equal(o *State) bool {
	if s.DefaultNumeraire != o.DefaultNumeraire || !s.Now.Equal(o.Now) || s.TimeIndex != o.TimeIndex {
		return false
	}
	if len(s.Accounts) != len(o.Accounts) || len(s.Variables) != len(o.Variables) ||
		len(s.CurrentPrices) != len(o.CurrentPrices) || len(s.RecentPrices) != len(o.RecentPrices) {
		return false
	}
	for acc, amount := range s.Accounts {
		other, ok := o.Accounts[acc]
		if !ok || !quant.AmountsAlmostEqual(amount, other, quant.EpsFinancial) {
			return false
		}
	}
	if !graphsAlmostEqual(s.CurrentPrices, o.CurrentPrices) || !graphsAlmostEqual(s.RecentPrices, o.RecentPrices) {
		return false
	}
	for name, value := range s.Variables {
		other, ok := o.Variables[name]
		if !ok {
			return false
		}
		vf, vIsFloat := value.(float64)
		of, oIsFloat := other.(float64)
		if vIsFloat && oIsFloat {
			if !quant.AlmostEqual(vf, of, quant.EpsFinancial) {
				return false
			}
		} else if value != other {
			return false
		}
	}
	return true
}

func graphsAlmostEqual(a, b pricegraph.Graph) bool {
	for e, p := range a {
		other, ok := b[e]
		if !ok || !quant.AlmostEqual(p, other, quant.EpsFinancial) {
			return false
		}
	}
	return true
}
