package simulator

import (
	"time"

	"github.com/cambistlabs/cambist/internal/broker"
	"github.com/cambistlabs/cambist/pkg/quant"
)

// FilterView is the read-only context handed to each filter invocation. It
// exposes the broker state plus the projected active queue: the queue
// snapshot taken when the submission began, the not-yet-processed inputs of
// the current stage and the outputs the stage has produced so far. Filters
// observe a consistent, growing view of what the queue will look like.
type FilterView struct {
	state *broker.State
	queue []broker.Order
}

// ActiveOrders returns the projected active queue.
func (v FilterView) ActiveOrders() []broker.Order {
	out := make([]broker.Order, len(v.queue))
	copy(out, v.queue)
	return out
}

// Account returns an account balance by name.
func (v FilterView) Account(name string) (quant.Amount, bool) {
	amount, ok := v.state.Accounts[name]
	return amount, ok
}

// Variable returns a named variable.
func (v FilterView) Variable(name string) (any, bool) {
	value, ok := v.state.Variables[name]
	return value, ok
}

// CurrentPrice returns a current-tick rate via identity or direct edge.
func (v FilterView) CurrentPrice(num0, num1 string) (float64, bool) {
	return v.state.CurrentPrices.Price(num0, num1)
}

// Now returns the current simulation time.
func (v FilterView) Now() time.Time { return v.state.Now }

// DefaultNumeraire returns the ledger's default numeraire.
func (v FilterView) DefaultNumeraire() string { return v.state.DefaultNumeraire }

// Filter expands one submitted order into the orders that actually join the
// active queue. Returning nil drops the order. Filters are stateless across
// calls except through what they read from the view.
type Filter interface {
	Apply(view FilterView, order broker.Order) []broker.Order
}

// TransactionCostFilter injects bookkeeping side effects for backward
// transfers: every transfer not confined to the excluded accounts debits a
// fixed cost from the cost account and accumulates it into the cost
// variable. All other orders pass through unchanged.
type TransactionCostFilter struct {
	CostAccount      string
	Cost             float64
	CostVar          string
	ExcludedAccounts []string
}

func (f *TransactionCostFilter) Apply(view FilterView, order broker.Order) []broker.Order {
	transfer, ok := order.(*broker.BackwardTransferOrder)
	if !ok {
		return []broker.Order{order}
	}
	if f.excluded(transfer.Acc0) && f.excluded(transfer.Acc1) {
		return []broker.Order{order}
	}
	debit := &broker.AddToAccountBalanceOrder{AccountName: f.CostAccount, Value: -f.Cost}
	tally := &broker.AddToVariableOrder{VariableName: f.CostVar, Value: f.Cost}
	return []broker.Order{order, debit, tally}
}

func (f *TransactionCostFilter) excluded(account string) bool {
	for _, acc := range f.ExcludedAccounts {
		if acc == account {
			return true
		}
	}
	return false
}
