package broker

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of an order. Executed and Rejected are
// terminal.
type Status uint8

const (
	StatusActive Status = iota
	StatusExecuted
	StatusRejected
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusExecuted || s == StatusRejected
}

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusExecuted:
		return "EXECUTED"
	case StatusRejected:
		return "REJECTED"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// MarshalText encodes the status name for snapshots.
func (s Status) MarshalText() ([]byte, error) {
	if s > StatusRejected {
		return nil, fmt.Errorf("unknown order status: %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "ACTIVE":
		*s = StatusActive
	case "EXECUTED":
		*s = StatusExecuted
	case "REJECTED":
		*s = StatusRejected
	default:
		return fmt.Errorf("unknown order status: %q", text)
	}
	return nil
}

// OrderMeta carries the bookkeeping fields common to every order kind: the
// age in ticks spent unexecuted, the status with its timestamp and diagnostic
// comment, and the group id correlating an order with orders a filter derived
// from it.
type OrderMeta struct {
	Age           int
	Status        Status
	StatusTime    time.Time
	StatusComment string
	GID           int64
}

// SetStatus moves the order to the given status, stamping the time and
// comment. Transitioning out of a terminal status is a programming error and
// returns ErrTerminalOrder; re-stamping the same status is allowed.
func (m *OrderMeta) SetStatus(status Status, t time.Time, comment string) (Status, error) {
	if m.Status != status && m.Status.Terminal() {
		return m.Status, fmt.Errorf("%w: forbidden status update %v -> %v", ErrTerminalOrder, m.Status, status)
	}
	m.Status = status
	m.StatusTime = t
	m.StatusComment = comment
	return m.Status, nil
}

// Order is the closed set of order kinds executed by the simulator. Execute
// mutates the passed state and returns the resulting status: StatusActive
// postpones the order to a later tick, the terminal statuses move it to the
// executed or rejected log. A non-nil error is fatal to the run. Orders must
// not retain references into the state across calls; any cross-tick memory
// lives in the order's own serializable fields.
type Order interface {
	Execute(s *State) (Status, error)
	Kind() string
	Meta() *OrderMeta
	Equal(other Order) bool
	String() string
}
