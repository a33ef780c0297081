package broker

// OrderQueue is a bounded FIFO. Pushing into a full queue silently drops the
// oldest entry; overflow is never an error.
type OrderQueue struct {
	cap    int
	orders []Order
}

// NewOrderQueue creates a queue holding at most capacity orders.
func NewOrderQueue(capacity int) *OrderQueue {
	return &OrderQueue{cap: capacity}
}

// Push appends an order, dropping the oldest entry when the queue is full.
func (q *OrderQueue) Push(o Order) {
	if len(q.orders) == q.cap {
		copy(q.orders, q.orders[1:])
		q.orders[len(q.orders)-1] = o
		return
	}
	q.orders = append(q.orders, o)
}

// Len returns the number of queued orders.
func (q *OrderQueue) Len() int {
	return len(q.orders)
}

// Cap returns the queue capacity.
func (q *OrderQueue) Cap() int {
	return q.cap
}

// All returns a copy of the queued orders in FIFO order.
func (q *OrderQueue) All() []Order {
	out := make([]Order, len(q.orders))
	copy(out, q.orders)
	return out
}

// Replace swaps the queue contents for the given orders, preserving their
// relative order and enforcing the capacity.
func (q *OrderQueue) Replace(orders []Order) {
	q.orders = q.orders[:0]
	for _, o := range orders {
		q.Push(o)
	}
}
