package broker

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/cambistlabs/cambist/internal/pricegraph"
	"github.com/cambistlabs/cambist/pkg/quant"
)

// EncodeState serializes the complete state to its snapshot form: accounts,
// variables, both price graphs and all three order queues with each order's
// concrete kind and fields. The snapshot is sufficient for exact
// reconstruction modulo the financial tolerance.
func EncodeState(s *State) ([]byte, error) {
	snap := stateSnapshot{
		DefaultNumeraire: s.DefaultNumeraire,
		Now:              quant.FormatTime(s.Now),
		TimeIndex:        s.TimeIndex,
		Accounts:         s.Accounts,
		Variables:        s.Variables,
		CurrentPrices:    encodeGraph(s.CurrentPrices),
		RecentPrices:     encodeGraph(s.RecentPrices),
	}
	var err error
	if snap.ActiveOrders, err = encodeOrders(s.Active.All()); err != nil {
		return nil, err
	}
	if snap.ExecutedOrders, err = encodeOrders(s.Executed.All()); err != nil {
		return nil, err
	}
	if snap.RejectedOrders, err = encodeOrders(s.Rejected.All()); err != nil {
		return nil, err
	}
	return json.Marshal(snap)
}

// DecodeState reconstructs a state from its snapshot form. Any malformed
// record is reported as ErrBadSnapshot.
func DecodeState(data []byte) (*State, error) {
	var snap stateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	s, err := NewState(snap.DefaultNumeraire, nil, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	if s.Now, err = quant.ParseTime(snap.Now); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	if err := quant.CheckIndex("time_index", snap.TimeIndex); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	s.TimeIndex = snap.TimeIndex
	for acc, amount := range snap.Accounts {
		if err := quant.CheckAmount(amount); err != nil {
			return nil, fmt.Errorf("%w: account %s: %v", ErrBadSnapshot, acc, err)
		}
		s.Accounts[acc] = amount
	}
	for name, value := range snap.Variables {
		switch value.(type) {
		case float64, string:
			s.Variables[name] = value
		default:
			return nil, fmt.Errorf("%w: variable %s must hold a float or a string: %T", ErrBadSnapshot, name, value)
		}
	}
	if s.CurrentPrices, err = decodeGraph(snap.CurrentPrices); err != nil {
		return nil, err
	}
	if s.RecentPrices, err = decodeGraph(snap.RecentPrices); err != nil {
		return nil, err
	}
	if err := decodeOrders(snap.ActiveOrders, s.Active); err != nil {
		return nil, err
	}
	if err := decodeOrders(snap.ExecutedOrders, s.Executed); err != nil {
		return nil, err
	}
	if err := decodeOrders(snap.RejectedOrders, s.Rejected); err != nil {
		return nil, err
	}
	return s, nil
}

type stateSnapshot struct {
	DefaultNumeraire string                  `json:"default_numeraire"`
	Now              string                  `json:"now"`
	TimeIndex        int                     `json:"time_index"`
	Accounts         map[string]quant.Amount `json:"accounts"`
	Variables        map[string]any          `json:"variables"`
	CurrentPrices    []priceRow              `json:"current_prices"`
	RecentPrices     []priceRow              `json:"recent_prices"`
	ActiveOrders     []orderRecord           `json:"active_orders"`
	ExecutedOrders   []orderRecord           `json:"executed_orders"`
	RejectedOrders   []orderRecord           `json:"rejected_orders"`
}

// priceRow is one [num0, num1, rate] triple.
type priceRow struct {
	Num0 string
	Num1 string
	Rate float64
}

func (r priceRow) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]any{r.Num0, r.Num1, r.Rate})
}

func (r *priceRow) UnmarshalJSON(data []byte) error {
	var raw [3]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("price row must be a [num0, num1, rate] triple: %w", err)
	}
	if err := json.Unmarshal(raw[0], &r.Num0); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[1], &r.Num1); err != nil {
		return err
	}
	return json.Unmarshal(raw[2], &r.Rate)
}

func encodeGraph(g pricegraph.Graph) []priceRow {
	rows := make([]priceRow, 0, len(g))
	for e, p := range g {
		rows = append(rows, priceRow{Num0: e.Num0, Num1: e.Num1, Rate: p})
	}
	return rows
}

func decodeGraph(rows []priceRow) (pricegraph.Graph, error) {
	g := make(pricegraph.Graph, len(rows))
	for _, r := range rows {
		if err := quant.CheckValueIn(r.Num0+r.Num1, r.Rate, 0, quant.MaxValue); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
		}
		// CheckValueIn bounds are inclusive; a zero rate would only surface
		// later as corrupt prices during resolution.
		if r.Rate == 0 {
			return nil, fmt.Errorf("%w: zero rate for %s/%s", ErrBadSnapshot, r.Num0, r.Num1)
		}
		g[pricegraph.Edge{Num0: r.Num0, Num1: r.Num1}] = r.Rate
	}
	return g, nil
}

// bound is a float that may be infinite; infinities encode as the strings
// "+inf" and "-inf".
type bound float64

func (b bound) MarshalJSON() ([]byte, error) {
	if math.IsInf(float64(b), 1) {
		return []byte(`"+inf"`), nil
	}
	if math.IsInf(float64(b), -1) {
		return []byte(`"-inf"`), nil
	}
	return json.Marshal(float64(b))
}

func (b *bound) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch s {
		case "+inf", "inf":
			*b = bound(math.Inf(1))
		case "-inf":
			*b = bound(math.Inf(-1))
		default:
			return fmt.Errorf("unknown bound %q", s)
		}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*b = bound(f)
	return nil
}

// orderRecord is the flat serialized form of an order, tagged with its kind.
// Variant fields that do not apply are omitted.
type orderRecord struct {
	Kind          string        `json:"kind"`
	Age           int           `json:"age"`
	Status        Status        `json:"status"`
	StatusTime    string        `json:"status_time"`
	StatusComment string        `json:"status_comment,omitempty"`
	GID           int64         `json:"gid"`
	AccountName   string        `json:"account_name,omitempty"`
	Amount        *quant.Amount `json:"amount,omitempty"`
	Acc0          string        `json:"acc0,omitempty"`
	Acc1          string        `json:"acc1,omitempty"`
	Value         *float64      `json:"value,omitempty"`
	Persistent    bool          `json:"persistent,omitempty"`
	VariableName  string        `json:"variable_name,omitempty"`
	Instrument    string        `json:"instrument,omitempty"`
	Rate          *float64      `json:"rate,omitempty"`
	LowerBound    *bound        `json:"lower_bound,omitempty"`
	UpperBound    *bound        `json:"upper_bound,omitempty"`
	WindowStart   string        `json:"window_start,omitempty"`
	WindowEnd     string        `json:"window_end,omitempty"`
	LastValue     *float64      `json:"last_value,omitempty"`
	LastTime      string        `json:"last_time,omitempty"`
	HasSnapshot   bool          `json:"has_snapshot,omitempty"`
}

func encodeOrders(orders []Order) ([]orderRecord, error) {
	records := make([]orderRecord, 0, len(orders))
	for _, o := range orders {
		rec, err := encodeOrder(o)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func decodeOrders(records []orderRecord, queue *OrderQueue) error {
	for _, rec := range records {
		o, err := decodeOrder(rec)
		if err != nil {
			return err
		}
		queue.Push(o)
	}
	return nil
}

// encodeOrder flattens an order into its tagged record. Order kinds without
// serialization support (the Cfd placeholders and bulk variable updates) are
// refused.
func encodeOrder(o Order) (orderRecord, error) {
	m := o.Meta()
	rec := orderRecord{
		Kind:          o.Kind(),
		Age:           m.Age,
		Status:        m.Status,
		StatusTime:    quant.FormatTime(m.StatusTime),
		StatusComment: m.StatusComment,
		GID:           m.GID,
	}
	switch v := o.(type) {
	case *ObserveInstrumentOrder:
		rec.Instrument = v.Instrument
	case *CreateAccountOrder:
		rec.AccountName = v.AccountName
		amount := v.Amount
		rec.Amount = &amount
	case *DeleteAccountOrder:
		rec.AccountName = v.AccountName
	case *TransferAllOrder:
		rec.Acc0, rec.Acc1, rec.Persistent = v.Acc0, v.Acc1, v.Persistent
	case *ForwardTransferOrder:
		rec.Acc0, rec.Acc1 = v.Acc0, v.Acc1
		amount := v.Amount
		rec.Amount = &amount
	case *BackwardTransferOrder:
		rec.Acc0, rec.Acc1 = v.Acc0, v.Acc1
		amount := v.Amount
		rec.Amount = &amount
	case *AddToVariableOrder:
		rec.VariableName = v.VariableName
		value := v.Value
		rec.Value = &value
	case *AddToAccountBalanceOrder:
		rec.AccountName = v.AccountName
		value := v.Value
		rec.Value = &value
	case *InterestOrder:
		rec.AccountName = v.AccountName
		rate := v.Rate
		rec.Rate = &rate
		lower, upper := bound(v.LowerBound), bound(v.UpperBound)
		rec.LowerBound, rec.UpperBound = &lower, &upper
		rec.WindowStart = quant.FormatTime(v.WindowStart)
		rec.WindowEnd = quant.FormatTime(v.WindowEnd)
		if v.HasSnapshot {
			last := v.LastValue
			rec.LastValue = &last
			rec.LastTime = quant.FormatTime(v.LastTime)
			rec.HasSnapshot = true
		}
	default:
		return orderRecord{}, fmt.Errorf("order kind %q does not support serialization", o.Kind())
	}
	return rec, nil
}

// decodeOrder rebuilds an order from its tagged record. The kind dispatch is
// a static exhaustive switch; unknown kinds are reported as ErrBadSnapshot.
func decodeOrder(rec orderRecord) (Order, error) {
	var o Order
	var err error
	switch rec.Kind {
	case KindObserveInstrument:
		o, err = NewObserveInstrumentOrder(rec.Instrument)
	case KindCreateAccount:
		if rec.Amount == nil {
			return nil, fmt.Errorf("%w: %s without amount", ErrBadSnapshot, rec.Kind)
		}
		o, err = NewCreateAccountOrder(rec.AccountName, *rec.Amount)
	case KindDeleteAccount:
		o, err = NewDeleteAccountOrder(rec.AccountName)
	case KindTransferAll:
		o, err = NewTransferAllOrder(rec.Acc0, rec.Acc1, rec.Persistent)
	case KindForwardTransfer:
		if rec.Amount == nil {
			return nil, fmt.Errorf("%w: %s without amount", ErrBadSnapshot, rec.Kind)
		}
		o, err = NewForwardTransferOrder(rec.Acc0, rec.Acc1, *rec.Amount)
	case KindBackwardTransfer:
		if rec.Amount == nil {
			return nil, fmt.Errorf("%w: %s without amount", ErrBadSnapshot, rec.Kind)
		}
		o, err = NewBackwardTransferOrder(rec.Acc0, rec.Acc1, *rec.Amount)
	case KindAddToVariable:
		if rec.Value == nil {
			return nil, fmt.Errorf("%w: %s without value", ErrBadSnapshot, rec.Kind)
		}
		o, err = NewAddToVariableOrder(rec.VariableName, *rec.Value)
	case KindAddToAccountBalance:
		if rec.Value == nil {
			return nil, fmt.Errorf("%w: %s without value", ErrBadSnapshot, rec.Kind)
		}
		o, err = NewAddToAccountBalanceOrder(rec.AccountName, *rec.Value)
	case KindInterest:
		o, err = decodeInterestOrder(rec)
	default:
		return nil, fmt.Errorf("%w: order kind %q does not support serialization", ErrBadSnapshot, rec.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadSnapshot, rec.Kind, err)
	}
	m := o.Meta()
	if err := quant.CheckIndex("age", rec.Age); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	m.Age = rec.Age
	m.Status = rec.Status
	m.StatusComment = rec.StatusComment
	m.GID = rec.GID
	if m.StatusTime, err = quant.ParseTime(rec.StatusTime); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	return o, nil
}

func decodeInterestOrder(rec orderRecord) (Order, error) {
	if rec.Rate == nil || rec.LowerBound == nil || rec.UpperBound == nil {
		return nil, fmt.Errorf("missing rate or bounds")
	}
	windowStart, err := quant.ParseTime(rec.WindowStart)
	if err != nil {
		return nil, err
	}
	windowEnd, err := quant.ParseTime(rec.WindowEnd)
	if err != nil {
		return nil, err
	}
	o, err := NewInterestOrder(rec.AccountName, *rec.Rate, float64(*rec.LowerBound), float64(*rec.UpperBound), windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	if rec.HasSnapshot {
		if rec.LastValue == nil {
			return nil, fmt.Errorf("snapshot without last value")
		}
		o.LastValue = *rec.LastValue
		if o.LastTime, err = quant.ParseTime(rec.LastTime); err != nil {
			return nil, err
		}
		o.HasSnapshot = true
	}
	return o, nil
}
