package broker

import (
	"fmt"
	"math"
	"time"

	"github.com/cambistlabs/cambist/pkg/quant"
)

// InterestVarPrefix names the cumulative interest variable for an account.
const InterestVarPrefix = "interest_"

// InterestOrder accrues simple ACT/ACT interest on an account balance. It is
// persistent and ends every tick active. Interest is earned on the balance
// snapshot taken at the end of the previous execution, but only while the
// snapshot value lies within [LowerBound, UpperBound] and the current time
// falls inside the accrual window. The accrual deliberately creates or
// destroys value; the cumulative total is surfaced in the variable
// "interest_<account>" for external visibility.
type InterestOrder struct {
	OrderMeta
	AccountName string
	Rate        float64
	LowerBound  float64 // may be -Inf
	UpperBound  float64 // may be +Inf
	WindowStart time.Time
	WindowEnd   time.Time

	// Cross-tick memory, serialized with the order.
	LastValue   float64
	LastTime    time.Time
	HasSnapshot bool
}

// NewInterestOrder validates the account name, rate and value bounds. Zero
// window times mean an unbounded accrual window on that side.
func NewInterestOrder(account string, rate, lowerBound, upperBound float64, windowStart, windowEnd time.Time) (*InterestOrder, error) {
	if err := quant.CheckID(account); err != nil {
		return nil, err
	}
	if err := quant.CheckValue(account, rate); err != nil {
		return nil, err
	}
	if math.IsNaN(lowerBound) || math.IsNaN(upperBound) || lowerBound > upperBound {
		return nil, fmt.Errorf("bad value bounds for %s: [%g, %g]", account, lowerBound, upperBound)
	}
	if windowStart.IsZero() {
		windowStart = quant.MinTime
	}
	if windowEnd.IsZero() {
		windowEnd = quant.MaxTime
	}
	if windowEnd.Before(windowStart) {
		return nil, fmt.Errorf("bad accrual window for %s: [%v, %v]", account, windowStart, windowEnd)
	}
	return &InterestOrder{
		AccountName: account,
		Rate:        rate,
		LowerBound:  lowerBound,
		UpperBound:  upperBound,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
	}, nil
}

func (o *InterestOrder) Kind() string     { return KindInterest }
func (o *InterestOrder) Meta() *OrderMeta { return &o.OrderMeta }

func (o *InterestOrder) Execute(s *State) (Status, error) {
	amount, exists := s.Accounts[o.AccountName]
	if !exists {
		// No accrual across existence gaps: forget the snapshot and wait for
		// the account to (re)appear.
		o.HasSnapshot = false
		return StatusActive, nil
	}
	if o.HasSnapshot {
		elapsed := s.Now.Sub(o.LastTime)
		if elapsed < 0 {
			return o.Status, fmt.Errorf("%w: %s accrued from %v to %v", ErrClockBackwards, o.AccountName, o.LastTime, s.Now)
		}
		if o.LowerBound <= o.LastValue && o.LastValue <= o.UpperBound &&
			!s.Now.Before(o.WindowStart) && !s.Now.After(o.WindowEnd) {
			accrued := o.LastValue * o.Rate * elapsed.Seconds() / quant.SecondsPerYear
			amount = quant.Amount{Value: amount.Value + accrued, Num: amount.Num}
			s.Accounts[o.AccountName] = amount
			if err := addToFloatVariable(s, InterestVarPrefix+o.AccountName, accrued); err != nil {
				return o.Status, err
			}
		}
	}
	o.LastValue = amount.Value
	o.LastTime = s.Now
	o.HasSnapshot = true
	return o.SetStatus(StatusActive, s.Now, "")
}

func (o *InterestOrder) Equal(other Order) bool {
	x, ok := other.(*InterestOrder)
	return ok && o.AccountName == x.AccountName && o.Rate == x.Rate &&
		o.LowerBound == x.LowerBound && o.UpperBound == x.UpperBound &&
		o.WindowStart.Equal(x.WindowStart) && o.WindowEnd.Equal(x.WindowEnd)
}

func (o *InterestOrder) String() string {
	return fmt.Sprintf("%s/%d: %s rate %g bounds [%g, %g]", o.Kind(), o.GID, o.AccountName, o.Rate, o.LowerBound, o.UpperBound)
}

func addToFloatVariable(s *State, name string, delta float64) error {
	if current, exists := s.Variables[name]; exists {
		f, ok := current.(float64)
		if !ok {
			return fmt.Errorf("variable %s holds a non-float value %v", name, current)
		}
		s.Variables[name] = f + delta
		return nil
	}
	s.Variables[name] = delta
	return nil
}
