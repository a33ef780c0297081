package broker

import "errors"

var (
	// ErrNoMoreTime is the normal-termination sentinel returned by Next when
	// the last grid point has been consumed. The driving loop must stop
	// calling Next once it sees this.
	ErrNoMoreTime = errors.New("no more time")

	// ErrEndOfBacktest signals that Next was called again after ErrNoMoreTime
	// was already returned. This is fatal.
	ErrEndOfBacktest = errors.New("backtest end of time reached")

	// ErrInvalidState is returned by State.Check when an invariant is
	// violated.
	ErrInvalidState = errors.New("invalid broker state")

	// ErrTerminalOrder is returned when a status transition out of Executed
	// or Rejected is requested.
	ErrTerminalOrder = errors.New("order status is terminal")

	// ErrBadSnapshot is returned when a state snapshot cannot be decoded.
	ErrBadSnapshot = errors.New("bad state snapshot")

	// ErrClockBackwards is returned when interest accrual observes a
	// non-monotonic clock.
	ErrClockBackwards = errors.New("clock went backwards")

	// ErrNotImplemented is returned by placeholder order kinds whose
	// execution semantics are undefined.
	ErrNotImplemented = errors.New("order execution not implemented")
)
