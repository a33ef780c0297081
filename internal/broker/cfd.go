package broker

import (
	"fmt"
	"math"

	"github.com/cambistlabs/cambist/pkg/quant"
)

// The Cfd order kinds are typed placeholders: their production execution
// semantics are unknown, so Execute fails fast. Only their construction and
// equality contracts are live. They are excluded from the snapshot codec.

// CfdOpenOrder opens a contract-for-difference position of the given number
// of units on the num0/num1 pair.
type CfdOpenOrder struct {
	OrderMeta
	Num0  string
	Num1  string
	Units float64
}

// NewCfdOpenOrder validates the numeraire pair, which must differ.
func NewCfdOpenOrder(num0, num1 string, units float64) (*CfdOpenOrder, error) {
	if err := quant.CheckID(num0); err != nil {
		return nil, err
	}
	if err := quant.CheckID(num1); err != nil {
		return nil, err
	}
	if num0 == num1 {
		return nil, fmt.Errorf("please specify two different numeraires: %s", num0)
	}
	if err := quant.CheckValue(num0+" "+num1, units); err != nil {
		return nil, err
	}
	return &CfdOpenOrder{Num0: num0, Num1: num1, Units: units}, nil
}

func (o *CfdOpenOrder) Kind() string     { return KindCfdOpen }
func (o *CfdOpenOrder) Meta() *OrderMeta { return &o.OrderMeta }

func (o *CfdOpenOrder) Execute(s *State) (Status, error) {
	return o.Status, fmt.Errorf("%w: %s", ErrNotImplemented, o.Kind())
}

// Equal treats a reversed pair with negated units as the same position.
func (o *CfdOpenOrder) Equal(other Order) bool {
	x, ok := other.(*CfdOpenOrder)
	if !ok {
		return false
	}
	if o.Num0 == x.Num0 && o.Num1 == x.Num1 && math.Abs(o.Units-x.Units) < negligibleBalance {
		return true
	}
	return o.Num0 == x.Num1 && o.Num1 == x.Num0 && math.Abs(o.Units+x.Units) < negligibleBalance
}

func (o *CfdOpenOrder) String() string {
	return fmt.Sprintf("%s/%d: %s_%s: %g", o.Kind(), o.GID, o.Num0, o.Num1, o.Units)
}

// CfdCloseOrder closes the position held across the two accounts.
type CfdCloseOrder struct {
	OrderMeta
	Acc0 string
	Acc1 string
}

// NewCfdCloseOrder validates the account names, which must differ.
func NewCfdCloseOrder(acc0, acc1 string) (*CfdCloseOrder, error) {
	if err := checkTransferAccounts(acc0, acc1); err != nil {
		return nil, err
	}
	return &CfdCloseOrder{Acc0: acc0, Acc1: acc1}, nil
}

func (o *CfdCloseOrder) Kind() string     { return KindCfdClose }
func (o *CfdCloseOrder) Meta() *OrderMeta { return &o.OrderMeta }

func (o *CfdCloseOrder) Execute(s *State) (Status, error) {
	return o.Status, fmt.Errorf("%w: %s", ErrNotImplemented, o.Kind())
}

// Equal compares the account pair without regard to order.
func (o *CfdCloseOrder) Equal(other Order) bool {
	x, ok := other.(*CfdCloseOrder)
	if !ok {
		return false
	}
	if o.Acc0 == x.Acc0 && o.Acc1 == x.Acc1 {
		return true
	}
	return o.Acc0 == x.Acc1 && o.Acc1 == x.Acc0
}

func (o *CfdCloseOrder) String() string {
	return fmt.Sprintf("%s/%d: %s, %s", o.Kind(), o.GID, o.Acc0, o.Acc1)
}

// CfdReduceOrder reduces a position by opening an opposite trade and merging
// both together. The parameters correspond to those of CfdOpenOrder.
type CfdReduceOrder struct {
	OrderMeta
	Acc0  string
	Acc1  string
	Units float64
}

// NewCfdReduceOrder validates the account names and units.
func NewCfdReduceOrder(acc0, acc1 string, units float64) (*CfdReduceOrder, error) {
	if err := checkTransferAccounts(acc0, acc1); err != nil {
		return nil, err
	}
	if err := quant.CheckValue(acc0+" "+acc1, units); err != nil {
		return nil, err
	}
	return &CfdReduceOrder{Acc0: acc0, Acc1: acc1, Units: units}, nil
}

func (o *CfdReduceOrder) Kind() string     { return KindCfdReduce }
func (o *CfdReduceOrder) Meta() *OrderMeta { return &o.OrderMeta }

func (o *CfdReduceOrder) Execute(s *State) (Status, error) {
	return o.Status, fmt.Errorf("%w: %s", ErrNotImplemented, o.Kind())
}

func (o *CfdReduceOrder) Equal(other Order) bool {
	x, ok := other.(*CfdReduceOrder)
	return ok && o.Acc0 == x.Acc0 && o.Acc1 == x.Acc1 && math.Abs(o.Units-x.Units) < negligibleBalance
}

func (o *CfdReduceOrder) String() string {
	return fmt.Sprintf("%s/%d: %s, %s, %g", o.Kind(), o.GID, o.Acc0, o.Acc1, o.Units)
}
