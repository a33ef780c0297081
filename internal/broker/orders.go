package broker

import (
	"fmt"
	"math"

	"github.com/cambistlabs/cambist/internal/pricegraph"
	"github.com/cambistlabs/cambist/pkg/quant"
)

// Order kind discriminators, used in snapshots and logs.
const (
	KindObserveInstrument   = "ObserveInstrumentOrder"
	KindCreateAccount       = "CreateAccountOrder"
	KindDeleteAccount       = "DeleteAccountOrder"
	KindTransferAll         = "TransferAllOrder"
	KindBackwardTransfer    = "BackwardTransferOrder"
	KindForwardTransfer     = "ForwardTransferOrder"
	KindAddToVariable       = "AddToVariableOrder"
	KindUpdateVariables     = "UpdateVariablesOrder"
	KindAddToAccountBalance = "AddToAccountBalanceOrder"
	KindInterest            = "InterestOrder"
	KindCfdOpen             = "CfdOpenOrder"
	KindCfdClose            = "CfdCloseOrder"
	KindCfdReduce           = "CfdReduceOrder"
)

// A balance whose magnitude is below this threshold counts as defunded.
const negligibleBalance = 1e-12

// CreateAccountOrder opens a new account holding the given amount. It is
// rejected if the account already exists.
type CreateAccountOrder struct {
	OrderMeta
	AccountName string
	Amount      quant.Amount
}

// NewCreateAccountOrder validates the account name and amount.
func NewCreateAccountOrder(name string, amount quant.Amount) (*CreateAccountOrder, error) {
	if err := quant.CheckID(name); err != nil {
		return nil, err
	}
	if err := quant.CheckAmount(amount); err != nil {
		return nil, err
	}
	return &CreateAccountOrder{AccountName: name, Amount: amount}, nil
}

func (o *CreateAccountOrder) Kind() string     { return KindCreateAccount }
func (o *CreateAccountOrder) Meta() *OrderMeta { return &o.OrderMeta }

func (o *CreateAccountOrder) Execute(s *State) (Status, error) {
	if _, exists := s.Accounts[o.AccountName]; exists {
		return o.SetStatus(StatusRejected, s.Now, fmt.Sprintf("Account %s already exists", o.AccountName))
	}
	s.Accounts[o.AccountName] = o.Amount
	return o.SetStatus(StatusExecuted, s.Now, "")
}

func (o *CreateAccountOrder) Equal(other Order) bool {
	x, ok := other.(*CreateAccountOrder)
	return ok && o.AccountName == x.AccountName && o.Amount.Num == x.Amount.Num &&
		math.Abs(o.Amount.Value-x.Amount.Value) < negligibleBalance
}

func (o *CreateAccountOrder) String() string {
	return fmt.Sprintf("%s/%d: %s, (%g, %s)", o.Kind(), o.GID, o.AccountName, o.Amount.Value, o.Amount.Num)
}

// DeleteAccountOrder waits until the target account is defunded, then deletes
// it. It is rejected if the account does not exist.
type DeleteAccountOrder struct {
	OrderMeta
	AccountName string
}

// NewDeleteAccountOrder validates the account name.
func NewDeleteAccountOrder(name string) (*DeleteAccountOrder, error) {
	if err := quant.CheckID(name); err != nil {
		return nil, err
	}
	return &DeleteAccountOrder{AccountName: name}, nil
}

func (o *DeleteAccountOrder) Kind() string     { return KindDeleteAccount }
func (o *DeleteAccountOrder) Meta() *OrderMeta { return &o.OrderMeta }

func (o *DeleteAccountOrder) Execute(s *State) (Status, error) {
	amount, exists := s.Accounts[o.AccountName]
	if !exists {
		return o.SetStatus(StatusRejected, s.Now, fmt.Sprintf("%s: Account %s not found", o.Kind(), o.AccountName))
	}
	if math.Abs(amount.Value) > negligibleBalance {
		return o.SetStatus(StatusActive, s.Now, "")
	}
	delete(s.Accounts, o.AccountName)
	return o.SetStatus(StatusExecuted, s.Now, "")
}

func (o *DeleteAccountOrder) Equal(other Order) bool {
	x, ok := other.(*DeleteAccountOrder)
	return ok && o.AccountName == x.AccountName
}

func (o *DeleteAccountOrder) String() string {
	return fmt.Sprintf("%s/%d: %s", o.Kind(), o.GID, o.AccountName)
}

// TransferAllOrder drains 100% of acc0 into acc1 via an inline forward
// transfer of the full balance. When persistent it stays active forever and
// keeps draining; otherwise it executes after one attempt, whether or not
// anything moved.
type TransferAllOrder struct {
	OrderMeta
	Acc0       string
	Acc1       string
	Persistent bool
}

// NewTransferAllOrder validates the account names, which must differ.
func NewTransferAllOrder(acc0, acc1 string, persistent bool) (*TransferAllOrder, error) {
	if err := checkTransferAccounts(acc0, acc1); err != nil {
		return nil, err
	}
	return &TransferAllOrder{Acc0: acc0, Acc1: acc1, Persistent: persistent}, nil
}

func (o *TransferAllOrder) Kind() string     { return KindTransferAll }
func (o *TransferAllOrder) Meta() *OrderMeta { return &o.OrderMeta }

func (o *TransferAllOrder) Execute(s *State) (Status, error) {
	amount, ok0 := s.Accounts[o.Acc0]
	_, ok1 := s.Accounts[o.Acc1]
	if ok0 && ok1 && math.Abs(amount.Value) >= negligibleBalance {
		transfer := &ForwardTransferOrder{
			OrderMeta: OrderMeta{GID: o.GID},
			Acc0:      o.Acc0,
			Acc1:      o.Acc1,
			Amount:    amount,
		}
		// The inline transfer may postpone on missing prices; a persistent
		// drain retries next tick and a one-shot drain gives up either way.
		if _, err := transfer.Execute(s); err != nil {
			return o.Status, err
		}
	}
	if o.Persistent {
		return StatusActive, nil
	}
	return o.SetStatus(StatusExecuted, s.Now, "")
}

func (o *TransferAllOrder) Equal(other Order) bool {
	x, ok := other.(*TransferAllOrder)
	return ok && o.Acc0 == x.Acc0 && o.Acc1 == x.Acc1
}

func (o *TransferAllOrder) String() string {
	return fmt.Sprintf("%s/%d: %s %s", o.Kind(), o.GID, o.Acc0, o.Acc1)
}

// ForwardTransferOrder moves wealth from acc0 to acc1 targeting a value
// change of Amount expressed in the order numeraire on the source side. If a
// required current price is missing the order is postponed.
type ForwardTransferOrder struct {
	OrderMeta
	Acc0   string
	Acc1   string
	Amount quant.Amount
}

// NewForwardTransferOrder validates the accounts and amount.
func NewForwardTransferOrder(acc0, acc1 string, amount quant.Amount) (*ForwardTransferOrder, error) {
	if err := checkTransferAccounts(acc0, acc1); err != nil {
		return nil, err
	}
	if err := quant.CheckAmount(amount); err != nil {
		return nil, err
	}
	return &ForwardTransferOrder{Acc0: acc0, Acc1: acc1, Amount: amount}, nil
}

func (o *ForwardTransferOrder) Kind() string     { return KindForwardTransfer }
func (o *ForwardTransferOrder) Meta() *OrderMeta { return &o.OrderMeta }

func (o *ForwardTransferOrder) Execute(s *State) (Status, error) {
	acc0, ok0 := s.Accounts[o.Acc0]
	acc1, ok1 := s.Accounts[o.Acc1]
	if !ok0 || !ok1 {
		return o.SetStatus(StatusRejected, s.Now,
			fmt.Sprintf("Unable to transfer from or to a non-existent account: %q %q", o.Acc0, o.Acc1))
	}
	value0, num0 := acc0.Value, acc0.Num
	value1, num1 := acc1.Value, acc1.Num
	orderValue, orderNum := o.Amount.Value, o.Amount.Num

	// The sign branches avoid dividing by a possibly unavailable inverse
	// rate. The exact order of operations is part of the contract; round
	// trips depend on it.
	var priceA, priceB float64
	var okA, okB bool
	if orderValue >= 0 {
		priceA, okA = s.CurrentPrices.Price(num0, orderNum)
		priceB, okB = s.CurrentPrices.Price(num0, num1)
	} else {
		priceA, okA = s.CurrentPrices.Price(orderNum, num0)
		priceB, okB = s.CurrentPrices.Price(num1, num0)
	}
	if !okA || !okB {
		return StatusActive, nil
	}
	if priceA < 0 || priceB < 0 {
		return o.Status, fmt.Errorf("%w: negative prices for %s %s %s detected: %g %g",
			pricegraph.ErrCorruptPrices, num0, num1, orderNum, priceA, priceB)
	}
	if orderValue >= 0 {
		// Send the wealth needed to buy the amount from acc0 to acc1.
		s.Accounts[o.Acc0] = quant.Amount{Value: value0 - orderValue/priceA, Num: num0}
		s.Accounts[o.Acc1] = quant.Amount{Value: value1 + orderValue*priceB/priceA, Num: num1}
	} else {
		// The amount is sold and transferred to acc0, financed from acc1.
		s.Accounts[o.Acc0] = quant.Amount{Value: value0 - orderValue*priceA, Num: num0}
		s.Accounts[o.Acc1] = quant.Amount{Value: value1 + orderValue*priceA/priceB, Num: num1}
	}
	return o.SetStatus(StatusExecuted, s.Now, "")
}

func (o *ForwardTransferOrder) Equal(other Order) bool {
	x, ok := other.(*ForwardTransferOrder)
	return ok && transferFieldsEqual(o.Acc0, o.Acc1, o.Amount, x.Acc0, x.Acc1, x.Amount)
}

func (o *ForwardTransferOrder) String() string {
	return fmt.Sprintf("%s/%d: %s (%g %s) %s", o.Kind(), o.GID, o.Acc0, o.Amount.Value, o.Amount.Num, o.Acc1)
}

// BackwardTransferOrder moves wealth from acc0 to acc1 targeting a value
// change of Amount expressed in the order numeraire on the destination side.
// The financing is computed symmetrically from acc1's side.
type BackwardTransferOrder struct {
	OrderMeta
	Acc0   string
	Acc1   string
	Amount quant.Amount
}

// NewBackwardTransferOrder validates the accounts and amount.
func NewBackwardTransferOrder(acc0, acc1 string, amount quant.Amount) (*BackwardTransferOrder, error) {
	if err := checkTransferAccounts(acc0, acc1); err != nil {
		return nil, err
	}
	if err := quant.CheckAmount(amount); err != nil {
		return nil, err
	}
	return &BackwardTransferOrder{Acc0: acc0, Acc1: acc1, Amount: amount}, nil
}

func (o *BackwardTransferOrder) Kind() string     { return KindBackwardTransfer }
func (o *BackwardTransferOrder) Meta() *OrderMeta { return &o.OrderMeta }

func (o *BackwardTransferOrder) Execute(s *State) (Status, error) {
	acc0, ok0 := s.Accounts[o.Acc0]
	acc1, ok1 := s.Accounts[o.Acc1]
	if !ok0 || !ok1 {
		return o.SetStatus(StatusRejected, s.Now,
			fmt.Sprintf("Unable to transfer from or to a non-existent account: %q %q", o.Acc0, o.Acc1))
	}
	value0, num0 := acc0.Value, acc0.Num
	value1, num1 := acc1.Value, acc1.Num
	orderValue, orderNum := o.Amount.Value, o.Amount.Num

	var priceA, priceB float64
	var okA, okB bool
	if orderValue >= 0 {
		priceA, okA = s.CurrentPrices.Price(num0, num1)
		priceB, okB = s.CurrentPrices.Price(num1, orderNum)
	} else {
		priceA, okA = s.CurrentPrices.Price(num1, num0)
		priceB, okB = s.CurrentPrices.Price(orderNum, num1)
	}
	if !okA || !okB {
		return StatusActive, nil
	}
	if priceA < 0 || priceB < 0 {
		return o.Status, fmt.Errorf("%w: negative prices for %s %s %s detected: %g %g",
			pricegraph.ErrCorruptPrices, num0, num1, orderNum, priceA, priceB)
	}
	if orderValue >= 0 {
		s.Accounts[o.Acc0] = quant.Amount{Value: value0 - orderValue/(priceA*priceB), Num: num0}
		s.Accounts[o.Acc1] = quant.Amount{Value: value1 + orderValue/priceB, Num: num1}
	} else {
		s.Accounts[o.Acc0] = quant.Amount{Value: value0 - orderValue*priceA*priceB, Num: num0}
		s.Accounts[o.Acc1] = quant.Amount{Value: value1 + orderValue*priceB, Num: num1}
	}
	return o.SetStatus(StatusExecuted, s.Now, "")
}

func (o *BackwardTransferOrder) Equal(other Order) bool {
	x, ok := other.(*BackwardTransferOrder)
	return ok && transferFieldsEqual(o.Acc0, o.Acc1, o.Amount, x.Acc0, x.Acc1, x.Amount)
}

func (o *BackwardTransferOrder) String() string {
	return fmt.Sprintf("%s/%d: %s (%g %s) %s", o.Kind(), o.GID, o.Acc0, o.Amount.Value, o.Amount.Num, o.Acc1)
}

// AddToVariableOrder accumulates a delta into a float variable, creating it
// when absent.
type AddToVariableOrder struct {
	OrderMeta
	VariableName string
	Value        float64
}

// NewAddToVariableOrder validates the variable name and value.
func NewAddToVariableOrder(name string, value float64) (*AddToVariableOrder, error) {
	if err := quant.CheckID(name); err != nil {
		return nil, err
	}
	if err := quant.CheckValue(name, value); err != nil {
		return nil, err
	}
	return &AddToVariableOrder{VariableName: name, Value: value}, nil
}

func (o *AddToVariableOrder) Kind() string     { return KindAddToVariable }
func (o *AddToVariableOrder) Meta() *OrderMeta { return &o.OrderMeta }

func (o *AddToVariableOrder) Execute(s *State) (Status, error) {
	if current, exists := s.Variables[o.VariableName]; exists {
		f, ok := current.(float64)
		if !ok {
			return o.Status, fmt.Errorf("variable %s holds a non-float value %v", o.VariableName, current)
		}
		s.Variables[o.VariableName] = f + o.Value
	} else {
		s.Variables[o.VariableName] = o.Value
	}
	return o.SetStatus(StatusExecuted, s.Now, "")
}

func (o *AddToVariableOrder) Equal(other Order) bool {
	x, ok := other.(*AddToVariableOrder)
	return ok && o.VariableName == x.VariableName && math.Abs(o.Value-x.Value) < negligibleBalance
}

func (o *AddToVariableOrder) String() string {
	if o.Value < 0 {
		return fmt.Sprintf("%s/%d: %s -= %g", o.Kind(), o.GID, o.VariableName, math.Abs(o.Value))
	}
	return fmt.Sprintf("%s/%d: %s += %g", o.Kind(), o.GID, o.VariableName, o.Value)
}

// UpdateVariablesOrder bulk-assigns named variables. Values may be floats or
// strings. Not part of the snapshot codec.
type UpdateVariablesOrder struct {
	OrderMeta
	Update map[string]any
}

// NewUpdateVariablesOrder validates the update map, which must be non-empty.
func NewUpdateVariablesOrder(update map[string]any) (*UpdateVariablesOrder, error) {
	if len(update) == 0 {
		return nil, fmt.Errorf("empty variables update")
	}
	for name, value := range update {
		if err := quant.CheckID(name); err != nil {
			return nil, err
		}
		switch value.(type) {
		case float64, string:
		default:
			return nil, fmt.Errorf("variable %s must hold a float or a string: %T", name, value)
		}
	}
	return &UpdateVariablesOrder{Update: update}, nil
}

func (o *UpdateVariablesOrder) Kind() string     { return KindUpdateVariables }
func (o *UpdateVariablesOrder) Meta() *OrderMeta { return &o.OrderMeta }

func (o *UpdateVariablesOrder) Execute(s *State) (Status, error) {
	for name, value := range o.Update {
		s.Variables[name] = value
	}
	return o.SetStatus(StatusExecuted, s.Now, "")
}

func (o *UpdateVariablesOrder) Equal(other Order) bool {
	x, ok := other.(*UpdateVariablesOrder)
	if !ok || len(o.Update) != len(x.Update) {
		return false
	}
	for name, value := range o.Update {
		if x.Update[name] != value {
			return false
		}
	}
	return true
}

func (o *UpdateVariablesOrder) String() string {
	return fmt.Sprintf("%s/%d: %d variables", o.Kind(), o.GID, len(o.Update))
}

// AddToAccountBalanceOrder adds a delta to an account balance, preserving its
// numeraire. It is rejected if the account does not exist.
type AddToAccountBalanceOrder struct {
	OrderMeta
	AccountName string
	Value       float64
}

// NewAddToAccountBalanceOrder validates the account name and value.
func NewAddToAccountBalanceOrder(name string, value float64) (*AddToAccountBalanceOrder, error) {
	if err := quant.CheckID(name); err != nil {
		return nil, err
	}
	if err := quant.CheckValue(name, value); err != nil {
		return nil, err
	}
	return &AddToAccountBalanceOrder{AccountName: name, Value: value}, nil
}

func (o *AddToAccountBalanceOrder) Kind() string     { return KindAddToAccountBalance }
func (o *AddToAccountBalanceOrder) Meta() *OrderMeta { return &o.OrderMeta }

func (o *AddToAccountBalanceOrder) Execute(s *State) (Status, error) {
	amount, exists := s.Accounts[o.AccountName]
	if !exists {
		return o.SetStatus(StatusRejected, s.Now, fmt.Sprintf("Account %s not found.", o.AccountName))
	}
	s.Accounts[o.AccountName] = quant.Amount{Value: amount.Value + o.Value, Num: amount.Num}
	return o.SetStatus(StatusExecuted, s.Now, "")
}

func (o *AddToAccountBalanceOrder) Equal(other Order) bool {
	x, ok := other.(*AddToAccountBalanceOrder)
	return ok && o.AccountName == x.AccountName && math.Abs(o.Value-x.Value) < negligibleBalance
}

func (o *AddToAccountBalanceOrder) String() string {
	if o.Value < 0 {
		return fmt.Sprintf("%s/%d: %s -= %g", o.Kind(), o.GID, o.AccountName, math.Abs(o.Value))
	}
	return fmt.Sprintf("%s/%d: %s += %g", o.Kind(), o.GID, o.AccountName, o.Value)
}

// ObserveInstrumentOrder is a typed placeholder with no production execution
// semantics. It participates in equality and the snapshot codec only.
type ObserveInstrumentOrder struct {
	OrderMeta
	Instrument string
}

// NewObserveInstrumentOrder validates the instrument identifier.
func NewObserveInstrumentOrder(instrument string) (*ObserveInstrumentOrder, error) {
	if err := quant.CheckID(instrument); err != nil {
		return nil, err
	}
	return &ObserveInstrumentOrder{Instrument: instrument}, nil
}

func (o *ObserveInstrumentOrder) Kind() string     { return KindObserveInstrument }
func (o *ObserveInstrumentOrder) Meta() *OrderMeta { return &o.OrderMeta }

func (o *ObserveInstrumentOrder) Execute(s *State) (Status, error) {
	return o.Status, fmt.Errorf("%w: %s", ErrNotImplemented, o.Kind())
}

func (o *ObserveInstrumentOrder) Equal(other Order) bool {
	x, ok := other.(*ObserveInstrumentOrder)
	return ok && o.Instrument == x.Instrument
}

func (o *ObserveInstrumentOrder) String() string {
	return fmt.Sprintf("%s/%d: %s", o.Kind(), o.GID, o.Instrument)
}

func checkTransferAccounts(acc0, acc1 string) error {
	if err := quant.CheckID(acc0); err != nil {
		return err
	}
	if err := quant.CheckID(acc1); err != nil {
		return err
	}
	if acc0 == acc1 {
		return fmt.Errorf("source and destination accounts must be different: %s", acc0)
	}
	return nil
}

func transferFieldsEqual(acc0, acc1 string, amount quant.Amount, oAcc0, oAcc1 string, oAmount quant.Amount) bool {
	return acc0 == oAcc0 && acc1 == oAcc1 && amount.Num == oAmount.Num &&
		math.Abs(amount.Value-oAmount.Value) < negligibleBalance
}
